package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/podushkina/taskenvelope/internal/envelope"
	"github.com/podushkina/taskenvelope/internal/queue"
	"github.com/podushkina/taskenvelope/internal/task"
)

// ErrRequeue asks the pool to hand the envelope back to the transport for
// redelivery.
var ErrRequeue = errors.New("requeue")

const defaultPollTimeout = 2 * time.Second

type Handler func(ctx context.Context, inv *task.Invocation) error

// Pool decodes envelopes popped from a queue and dispatches them by task name.
type Pool struct {
	queue    *queue.Queue
	handlers map[string]Handler
	count    int
	log      *zap.Logger
	poll     time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

func NewPool(q *queue.Queue, count int, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		queue:    q,
		handlers: make(map[string]Handler),
		count:    count,
		log:      log,
		poll:     defaultPollTimeout,
		now:      time.Now,
	}
}

func (p *Pool) Register(taskName string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[taskName] = handler
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.log.Info("workers started", zap.Int("count", p.count), zap.String("queue", p.queue.Name()))
}

// Stop waits for the workers to exit; cancel the context passed to Start first.
func (p *Pool) Stop() {
	p.wg.Wait()
	p.log.Info("all workers stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With(zap.Int("worker", id))
	log.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("worker shutting down")
			return
		default:
			env, err := p.queue.Pop(ctx, p.poll)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("pop failed", zap.Error(err))
				continue
			}

			if env == nil {
				continue
			}

			p.process(ctx, log, *env)
		}
	}
}

func (p *Pool) process(ctx context.Context, log *zap.Logger, env envelope.Envelope) {
	inv, err := envelope.Decode(env)
	if err != nil {
		log.Warn("undecodable envelope", zap.String("task_id", env.ID()), zap.Error(err))
		p.deadLetter(ctx, log, env, err.Error())
		return
	}

	log = log.With(zap.String("task", inv.Name), zap.String("task_id", inv.ID))

	if inv.Expired(p.now()) {
		log.Info("task expired", zap.Timep("expires", inv.Expires))
		p.deadLetter(ctx, log, env, "expired")
		return
	}

	p.mu.RLock()
	handler, ok := p.handlers[inv.Name]
	p.mu.RUnlock()

	if !ok {
		log.Warn("unknown task")
		p.deadLetter(ctx, log, env, fmt.Sprintf("unknown task: %s", inv.Name))
		return
	}

	log.Debug("dispatching task", zap.Int("retries", inv.Retries))
	err = handler(ctx, &inv)
	switch {
	case err == nil:
		log.Info("task completed")
	case errors.Is(err, ErrRequeue):
		if rerr := p.queue.Requeue(ctx, env); rerr != nil {
			log.Error("requeue failed", zap.Error(rerr))
			return
		}
		log.Info("task requeued", zap.Int("retries", inv.Retries+1))
	default:
		log.Error("task failed", zap.Error(err))
	}
}

func (p *Pool) deadLetter(ctx context.Context, log *zap.Logger, env envelope.Envelope, reason string) {
	if err := p.queue.DeadLetter(ctx, env, reason); err != nil {
		log.Error("dead-letter failed", zap.Error(err))
	}
}
