package services

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/pkg/logger"
)

// Worker consumes review tasks from Redis. Only constructed when the
// async queue is active.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor func(context.Context, *ReviewTrigger) error
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

func NewWorker(cfg *config.RedisConfig, processor func(context.Context, *ReviewTrigger) error) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error().Err(err).Str("type", task.Type()).Msg("task processing error")
			}),
		},
	)

	return &Worker{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: processor,
	}
}

func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeReview, w.handleReviewTask)
	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Info().Msg("review worker starting")
		if err := w.server.Run(w.mux); err != nil {
			logger.Error().Err(err).Msg("review worker stopped")
		}
	}()

	return nil
}

// Stop drains in-flight tasks and shuts the worker down.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Info().Msg("review worker shutting down")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
}

func (w *Worker) handleReviewTask(ctx context.Context, t *asynq.Task) error {
	var trigger ReviewTrigger
	if err := json.Unmarshal(t.Payload(), &trigger); err != nil {
		logger.Error().Err(err).Msg("malformed review task payload")
		return err
	}

	logger.Info().
		Str("repo", trigger.RepoFullName()).
		Int("pr", trigger.PRNumber).
		Str("kind", trigger.Kind).
		Msg("processing review task")

	return w.processor(ctx, &trigger)
}
