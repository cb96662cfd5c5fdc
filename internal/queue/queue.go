package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/podushkina/taskenvelope/internal/envelope"
)

const (
	DefaultName = "celery"
	deadSuffix  = ".dead"

	// HeaderDeadLetterReason is added to envelopes moved to the dead-letter list.
	HeaderDeadLetterReason = "x-dead-letter-reason"
)

// FrameError reports a queued message that is not a valid transport frame.
// The raw message has already been moved to the dead-letter list.
type FrameError struct {
	Err error
}

func (e *FrameError) Error() string { return "queue: malformed frame: " + e.Err.Error() }
func (e *FrameError) Unwrap() error { return e.Err }

// Queue carries envelopes over a Redis list the way the Celery Redis
// transport does: LPUSH to publish, BRPOP to consume.
type Queue struct {
	client *redis.Client
	name   string
}

func New(addr, password string, db int, name string) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewWithClient(client, name), nil
}

// NewWithClient uses an existing client. An empty name selects DefaultName.
func NewWithClient(client *redis.Client, name string) *Queue {
	if name == "" {
		name = DefaultName
	}
	return &Queue{client: client, name: name}
}

func (q *Queue) Name() string     { return q.name }
func (q *Queue) DeadName() string { return q.name + deadSuffix }

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Publish(ctx context.Context, env envelope.Envelope) error {
	if err := q.push(ctx, q.name, env); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Pop waits up to timeout for the next envelope. It returns nil, nil when
// the queue stays empty.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*envelope.Envelope, error) {
	result, err := q.client.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("pop task: %w", err)
	}

	raw := result[1]
	env, err := unmarshalFrame([]byte(raw))
	if err != nil {
		if derr := q.client.LPush(ctx, q.DeadName(), raw).Err(); derr != nil {
			return nil, fmt.Errorf("dead-letter frame: %w", derr)
		}
		return nil, &FrameError{Err: err}
	}

	return &env, nil
}

// Requeue publishes env again as a redelivery: retries is incremented and
// delivery_info.redelivered set. The caller's envelope is left untouched.
func (q *Queue) Requeue(ctx context.Context, env envelope.Envelope) error {
	c := env.Clone()

	retries, err := cast.ToIntE(c.Headers[envelope.HeaderRetries])
	if err != nil {
		return fmt.Errorf("requeue task: retries header: %w", err)
	}
	c.Headers[envelope.HeaderRetries] = retries + 1

	di, ok := c.Headers[envelope.HeaderDeliveryInfo].(map[string]any)
	if !ok {
		di = map[string]any{}
		c.Headers[envelope.HeaderDeliveryInfo] = di
	}
	di[envelope.DeliveryRedelivered] = true

	if err := q.push(ctx, q.name, c); err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	return nil
}

// DeadLetter parks env on the dead-letter list with the given reason.
func (q *Queue) DeadLetter(ctx context.Context, env envelope.Envelope, reason string) error {
	c := env.Clone()
	c.Headers[HeaderDeadLetterReason] = reason

	if err := q.push(ctx, q.DeadName(), c); err != nil {
		return fmt.Errorf("dead-letter task: %w", err)
	}
	return nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

func (q *Queue) DeadLen(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.DeadName()).Result()
	if err != nil {
		return 0, fmt.Errorf("dead-letter length: %w", err)
	}
	return n, nil
}

func (q *Queue) push(ctx context.Context, list string, env envelope.Envelope) error {
	data, err := marshalFrame(env)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return q.client.LPush(ctx, list, data).Err()
}
