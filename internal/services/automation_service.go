package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pipecrm/internal/mail"
	"pipecrm/internal/models"
	"pipecrm/internal/queue"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AutomationContext is the ephemeral value object carried through one
// dispatch: the deal snapshot, the trigger kind, optional previous/new
// values for change triggers, and the acting user.
type AutomationContext struct {
	Deal          *models.Deal
	Trigger       models.DealTrigger
	PreviousValue string
	NewValue      string
	UserID        *uint
}

// AutomationService owns the rule-trigger-action engine: rule management,
// dispatch of deal lifecycle events, and worker-side execution.
type AutomationService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	enqueuer queue.Enqueuer
	mailer   mail.Mailer
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger, enqueuer queue.Enqueuer, mailer mail.Mailer) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationService{db: db, logger: logger, enqueuer: enqueuer, mailer: mailer}
}

// TriggerAutomations looks up the active rules matching the event, filters
// them through their conditions, and enqueues one deferred execution per
// passing rule. It is fire-and-forget: failures are logged, never surfaced
// to the deal mutation that raised the event.
func (s *AutomationService) TriggerAutomations(ctx context.Context, actx AutomationContext) {
	if actx.Deal == nil {
		return
	}

	var rules []models.AutomationRule
	q := s.db.WithContext(ctx).
		Where(`pipeline_id = ? AND "trigger" = ? AND active = ?`, actx.Deal.PipelineID, actx.Trigger, true)
	if actx.Trigger.RequiresStage() {
		stageID, ok := stageFromContext(actx)
		if !ok {
			s.logger.Warnf("automation: %s event without stage value for deal %d", actx.Trigger, actx.Deal.ID)
			return
		}
		q = q.Where("trigger_stage_id = ?", stageID)
	}
	if err := q.Find(&rules).Error; err != nil {
		s.logger.WithError(err).Error("automation: load rules failed")
		return
	}
	if len(rules) == 0 {
		return
	}

	// One event id per dispatch; combined with the rule id it makes each
	// enqueue idempotent per trigger occurrence.
	eventID := uuid.NewString()

	for _, rule := range rules {
		if !EvaluateConditions(&rule.Conditions, actx.Deal) {
			// Condition misses are silent: only queued executions get logged.
			continue
		}

		job := queue.AutomationJob{
			EventID:       eventID,
			RuleID:        rule.ID,
			DealID:        actx.Deal.ID,
			Trigger:       actx.Trigger,
			PreviousValue: actx.PreviousValue,
			NewValue:      actx.NewValue,
			UserID:        actx.UserID,
		}
		delay := time.Duration(rule.DelayMinutes) * time.Minute
		if err := s.enqueuer.EnqueueAutomation(ctx, job, delay); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"rule_id": rule.ID,
				"deal_id": actx.Deal.ID,
			}).Error("automation: enqueue failed")
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"rule_id": rule.ID,
			"deal_id": actx.Deal.ID,
			"trigger": actx.Trigger,
			"delay":   delay.String(),
		}).Info("automation rule queued")
	}
}

// stageFromContext picks the stage the stage-trigger refers to: the new
// stage for stage_enter, the previous one for stage_exit.
func stageFromContext(actx AutomationContext) (uint, bool) {
	raw := actx.NewValue
	if actx.Trigger == models.TriggerStageExit {
		raw = actx.PreviousValue
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}

// ExecuteAutomation is the worker-side entry point. It creates the pending
// execution log row, runs the rule's actions sequentially against the
// current deal state, and finalizes the log. Action failures are isolated
// per action; only bookkeeping failures propagate to the queue's retry
// mechanism.
func (s *AutomationService) ExecuteAutomation(ctx context.Context, job queue.AutomationJob) error {
	execution := models.AutomationExecution{
		ExecutionID: uuid.NewString(),
		RuleID:      job.RuleID,
		DealID:      job.DealID,
		Trigger:     job.Trigger,
		Status:      models.ExecutionPending,
		ExecutedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&execution).Error; err != nil {
		return fmt.Errorf("create execution log: %w", err)
	}

	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, job.RuleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.finishExecution(ctx, &execution, models.ExecutionSkipped, nil, "rule no longer exists")
		}
		return fmt.Errorf("load rule %d: %w", job.RuleID, err)
	}
	if !rule.Active {
		return s.finishExecution(ctx, &execution, models.ExecutionSkipped, nil, "rule deactivated")
	}

	// Re-fetch the deal so delayed actions run against current state, not
	// the snapshot that existed at dispatch time.
	var deal models.Deal
	err := s.db.WithContext(ctx).
		Preload("Owner").Preload("Company").Preload("Stage").
		First(&deal, job.DealID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.finishExecution(ctx, &execution, models.ExecutionSkipped, nil, "deal no longer exists")
		}
		return fmt.Errorf("load deal %d: %w", job.DealID, err)
	}

	results := make(models.ActionResults, 0, len(rule.Actions))
	status := models.ExecutionSuccess
	for _, action := range rule.Actions {
		result, actionErr := s.executeAction(ctx, action, &deal)
		if actionErr != nil {
			status = models.ExecutionFailed
			results = append(results, models.ActionResult{
				Action: action.Type,
				Error:  actionErr.Error(),
			})
			s.logger.WithError(actionErr).WithFields(logrus.Fields{
				"rule_id": rule.ID,
				"deal_id": deal.ID,
				"action":  action.Type,
			}).Warn("automation action failed")
			continue
		}
		results = append(results, models.ActionResult{
			Action:  action.Type,
			Success: true,
			Result:  result,
		})
	}

	// Rule statistics update once per invocation, not per action.
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", rule.ID).
		Updates(map[string]interface{}{
			"last_triggered_at": now,
			"trigger_count":     gorm.Expr("trigger_count + 1"),
		}).Error; err != nil {
		_ = s.finishExecution(ctx, &execution, models.ExecutionFailed, results, err.Error())
		return fmt.Errorf("update rule stats: %w", err)
	}

	return s.finishExecution(ctx, &execution, status, results, "")
}

func (s *AutomationService) finishExecution(ctx context.Context, execution *models.AutomationExecution, status string, results models.ActionResults, errMsg string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       status,
		"results":      results,
		"error":        errMsg,
		"completed_at": now,
	}
	if err := s.db.WithContext(ctx).Model(execution).Updates(updates).Error; err != nil {
		return fmt.Errorf("finalize execution log: %w", err)
	}
	return nil
}

// AutomationRuleRequest 创建/更新规则请求
type AutomationRuleRequest struct {
	Name           string                 `json:"name"`
	PipelineID     uint                   `json:"pipeline_id"`
	Trigger        models.DealTrigger     `json:"trigger"`
	TriggerStageID *uint                  `json:"trigger_stage_id"`
	Conditions     *models.RuleConditions `json:"conditions"`
	Actions        models.RuleActions     `json:"actions"`
	Active         *bool                  `json:"active"`
	DelayMinutes   int                    `json:"delay_minutes"`
}

// Validate checks the request with ozzo rules: trigger and action types must
// come from the fixed enums, stage triggers need a stage, delays cannot be
// negative.
func (r *AutomationRuleRequest) Validate() error {
	triggers := make([]interface{}, len(models.DealTriggers))
	for i, t := range models.DealTriggers {
		triggers[i] = t
	}

	return validation.ValidateStruct(r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.PipelineID, validation.Required),
		validation.Field(&r.Trigger, validation.Required, validation.In(triggers...)),
		validation.Field(&r.TriggerStageID, validation.By(func(interface{}) error {
			if r.Trigger.RequiresStage() && r.TriggerStageID == nil {
				return errors.New("trigger_stage_id is required for stage triggers")
			}
			return nil
		})),
		validation.Field(&r.Actions, validation.Required, validation.By(validateActions(r.Actions))),
		validation.Field(&r.DelayMinutes, validation.Min(0)),
	)
}

func validateActions(actions models.RuleActions) validation.RuleFunc {
	return func(interface{}) error {
		for _, action := range actions {
			known := false
			for _, t := range models.ActionTypes {
				if action.Type == t {
					known = true
					break
				}
			}
			if !known {
				return fmt.Errorf("unsupported action type: %s", action.Type)
			}
		}
		return nil
	}
}

// CreateRule 新建自动化规则
func (s *AutomationService) CreateRule(ctx context.Context, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, errors.New("request required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	conditions := models.RuleConditions{}
	if req.Conditions != nil {
		conditions = *req.Conditions
	}

	rule := &models.AutomationRule{
		PipelineID:     req.PipelineID,
		Name:           req.Name,
		Trigger:        req.Trigger,
		TriggerStageID: req.TriggerStageID,
		Conditions:     conditions,
		Actions:        req.Actions,
		Active:         active,
		DelayMinutes:   req.DelayMinutes,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule replaces the mutable parts of a rule. Trigger statistics are
// owned by the execution path and are never touched here.
func (s *AutomationService) UpdateRule(ctx context.Context, id uint, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, errors.New("request required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("rule not found")
		}
		return nil, err
	}

	rule.PipelineID = req.PipelineID
	rule.Name = req.Name
	rule.Trigger = req.Trigger
	rule.TriggerStageID = req.TriggerStageID
	if req.Conditions != nil {
		rule.Conditions = *req.Conditions
	}
	rule.Actions = req.Actions
	rule.DelayMinutes = req.DelayMinutes
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// ListRules 返回管道下所有规则
func (s *AutomationService) ListRules(ctx context.Context, pipelineID uint) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	q := s.db.WithContext(ctx).Order("id DESC")
	if pipelineID != 0 {
		q = q.Where("pipeline_id = ?", pipelineID)
	}
	if err := q.Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *AutomationService) GetRule(ctx context.Context, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("rule not found")
		}
		return nil, err
	}
	return &rule, nil
}

// DeleteRule 删除规则
func (s *AutomationService) DeleteRule(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.AutomationRule{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("rule not found")
	}
	return nil
}

// ExecutionListRequest filters the execution log.
type ExecutionListRequest struct {
	RuleID uint `form:"rule_id"`
	DealID uint `form:"deal_id"`
	Limit  int  `form:"limit,default=50"`
}

// ListExecutions 查询执行日志
func (s *AutomationService) ListExecutions(ctx context.Context, req ExecutionListRequest) ([]models.AutomationExecution, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if req.RuleID != 0 {
		q = q.Where("rule_id = ?", req.RuleID)
	}
	if req.DealID != 0 {
		q = q.Where("deal_id = ?", req.DealID)
	}
	var executions []models.AutomationExecution
	if err := q.Find(&executions).Error; err != nil {
		return nil, err
	}
	return executions, nil
}
