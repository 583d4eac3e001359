package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/pkg/logger"
)

const TaskTypeReview = "review:run"

// TaskQueue schedules review triggers for background execution.
type TaskQueue interface {
	Enqueue(trigger *ReviewTrigger) error
	IsAsync() bool
	Close() error
}

// NewTaskQueue picks the Redis-backed queue when Redis is enabled and
// reachable, otherwise the in-process goroutine queue. Either way the
// webhook handler never blocks on review execution.
func NewTaskQueue(cfg *config.RedisConfig, processor func(context.Context, *ReviewTrigger) error) TaskQueue {
	if cfg.Enabled {
		queue, err := NewAsyncQueue(cfg)
		if err == nil {
			logger.Info().Str("addr", cfg.Addr).Msg("async task queue initialized")
			return queue
		}
		logger.Warn().Err(err).Msg("redis unavailable, falling back to in-process queue")
	}
	logger.Info().Msg("in-process task queue initialized")
	return NewSyncQueue(processor)
}

// AsyncQueue pushes triggers into Redis via asynq.
type AsyncQueue struct {
	client *asynq.Client
}

func NewAsyncQueue(cfg *config.RedisConfig) (*AsyncQueue, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	return &AsyncQueue{client: client}, nil
}

func (q *AsyncQueue) Enqueue(trigger *ReviewTrigger) error {
	payload, err := json.Marshal(trigger)
	if err != nil {
		return err
	}

	// MaxRetry 0: the review engine records failures itself and a retried
	// run would repeat feedback side effects on the PR.
	info, err := q.client.Enqueue(
		asynq.NewTask(TaskTypeReview, payload),
		asynq.Queue("default"),
		asynq.MaxRetry(0),
	)
	if err != nil {
		return err
	}

	logger.Info().
		Str("task_id", info.ID).
		Str("repo", trigger.RepoFullName()).
		Int("pr", trigger.PRNumber).
		Msg("review task enqueued")
	return nil
}

func (q *AsyncQueue) IsAsync() bool { return true }

func (q *AsyncQueue) Close() error { return q.client.Close() }

// SyncQueue runs each trigger in its own goroutine. Used when Redis is
// disabled; triggers do not survive a process restart. Close cancels
// in-flight runs and waits for them so clones and CLI subprocesses are
// torn down before shutdown completes.
type SyncQueue struct {
	processor func(context.Context, *ReviewTrigger) error
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewSyncQueue(processor func(context.Context, *ReviewTrigger) error) *SyncQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncQueue{processor: processor, ctx: ctx, cancel: cancel}
}

func (q *SyncQueue) Enqueue(trigger *ReviewTrigger) error {
	if q.processor == nil {
		logger.Warn().Msg("no processor configured, dropping review trigger")
		return nil
	}
	if q.ctx.Err() != nil {
		return q.ctx.Err()
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if err := q.processor(q.ctx, trigger); err != nil {
			logger.Error().Err(err).
				Str("repo", trigger.RepoFullName()).
				Int("pr", trigger.PRNumber).
				Msg("review run failed")
		}
	}()
	return nil
}

func (q *SyncQueue) IsAsync() bool { return false }

func (q *SyncQueue) Close() error {
	q.cancel()
	q.wg.Wait()
	return nil
}
