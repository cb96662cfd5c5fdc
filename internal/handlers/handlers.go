package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/podushkina/taskenvelope/internal/task"
)

// Sum adds numeric positional arguments.
func Sum(args []any) (float64, error) {
	var sum float64
	for i, a := range args {
		f, err := cast.ToFloat64E(a)
		if err != nil {
			return 0, fmt.Errorf("argument %d: %w", i, err)
		}
		sum += f
	}
	return sum, nil
}

// Add implements worker.add.
func Add(ctx context.Context, inv *task.Invocation) error {
	sum, err := Sum(inv.Args)
	if err != nil {
		return fmt.Errorf("invalid args: %w", err)
	}
	zap.L().Info("worker.add", zap.String("task_id", inv.ID), zap.Float64("result", sum))
	return nil
}

func Echo(ctx context.Context, inv *task.Invocation) error {
	zap.L().Info("worker.echo",
		zap.String("task_id", inv.ID),
		zap.Any("args", inv.Args),
		zap.Any("kwargs", inv.Kwargs),
	)
	return nil
}
