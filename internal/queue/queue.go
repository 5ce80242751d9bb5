package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pipecrm/internal/config"
	"pipecrm/internal/models"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// TypeAutomationExecute is the asynq task type for deferred rule executions.
const TypeAutomationExecute = "automation:execute"

// AutomationJob is the payload carried from dispatch to worker. It keys one
// deferred execution by (rule, deal) plus the event id that fired it.
type AutomationJob struct {
	EventID       string             `json:"event_id"`
	RuleID        uint               `json:"rule_id"`
	DealID        uint               `json:"deal_id"`
	Trigger       models.DealTrigger `json:"trigger"`
	PreviousValue string             `json:"previous_value,omitempty"`
	NewValue      string             `json:"new_value,omitempty"`
	UserID        *uint              `json:"user_id,omitempty"`
}

// TaskID derives the asynq task id, making an enqueue idempotent per
// (rule, deal, event) while leaving independent events free to queue again.
func (j AutomationJob) TaskID() string {
	return fmt.Sprintf("automation:%d:%d:%s", j.RuleID, j.DealID, j.EventID)
}

// Enqueuer is the narrow interface the dispatcher depends on; tests swap in
// a recording fake.
type Enqueuer interface {
	EnqueueAutomation(ctx context.Context, job AutomationJob, delay time.Duration) error
}

// Queue wraps the asynq client and inspector for the automation queue.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queueName string
	maxRetry  int
	logger    *logrus.Logger
}

func New(cfg *config.Config, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	opt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	return &Queue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queueName: cfg.Queue.AutomationQueue,
		maxRetry:  cfg.Queue.MaxRetries,
		logger:    logger,
	}
}

// EnqueueAutomation schedules one rule execution. A zero delay means "as
// soon as a worker is free", not synchronous execution.
func (q *Queue) EnqueueAutomation(ctx context.Context, job AutomationJob, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.TaskID(job.TaskID()),
		asynq.Queue(q.queueName),
		asynq.MaxRetry(q.maxRetry),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(TypeAutomationExecute, payload, opts...)
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue automation rule %d for deal %d: %w", job.RuleID, job.DealID, err)
	}
	q.logger.WithFields(logrus.Fields{
		"task_id": info.ID,
		"rule_id": job.RuleID,
		"deal_id": job.DealID,
		"delay":   delay.String(),
	}).Debug("automation job enqueued")
	return nil
}

// PendingExecutions returns scheduled-but-not-yet-run automation tasks,
// mainly for the admin surface and operational debugging.
func (q *Queue) PendingExecutions() ([]AutomationJob, error) {
	tasks, err := q.inspector.ListScheduledTasks(q.queueName)
	if err != nil {
		return nil, err
	}
	jobs := make([]AutomationJob, 0, len(tasks))
	for _, t := range tasks {
		var job AutomationJob
		if err := json.Unmarshal(t.Payload, &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
