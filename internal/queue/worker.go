package queue

import (
	"context"
	"encoding/json"

	"pipecrm/internal/config"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Executor is the worker-side entry point into the automation engine.
type Executor interface {
	ExecuteAutomation(ctx context.Context, job AutomationJob) error
}

// NewWorkerServer builds the asynq server consuming the automation queue.
func NewWorkerServer(cfg *config.Config) *asynq.Server {
	concurrency := cfg.Queue.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				cfg.Queue.AutomationQueue: 1,
			},
		},
	)
}

// NewMux registers task handlers. Handler errors propagate to asynq, which
// applies its own retry policy.
func NewMux(executor Executor, logger *logrus.Logger) *asynq.ServeMux {
	if logger == nil {
		logger = logrus.New()
	}
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAutomationExecute, func(ctx context.Context, t *asynq.Task) error {
		var job AutomationJob
		if err := json.Unmarshal(t.Payload(), &job); err != nil {
			logger.WithError(err).Error("invalid automation job payload")
			return err
		}
		return executor.ExecuteAutomation(ctx, job)
	})
	return mux
}
