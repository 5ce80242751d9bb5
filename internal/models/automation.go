package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DealTrigger is the deal lifecycle event kind that makes a rule eligible to fire.
type DealTrigger string

const (
	TriggerDealCreated  DealTrigger = "deal_created"
	TriggerDealWon      DealTrigger = "deal_won"
	TriggerDealLost     DealTrigger = "deal_lost"
	TriggerDealStalled  DealTrigger = "deal_stalled"
	TriggerStageEnter   DealTrigger = "stage_enter"
	TriggerStageExit    DealTrigger = "stage_exit"
	TriggerValueChanged DealTrigger = "value_changed"
	TriggerOwnerChanged DealTrigger = "owner_changed"
	TriggerDealUpdated  DealTrigger = "deal_updated"
)

// DealTriggers lists every supported trigger, used for request validation.
var DealTriggers = []DealTrigger{
	TriggerDealCreated, TriggerDealWon, TriggerDealLost, TriggerDealStalled,
	TriggerStageEnter, TriggerStageExit, TriggerValueChanged,
	TriggerOwnerChanged, TriggerDealUpdated,
}

// RequiresStage reports whether the trigger only makes sense relative to a
// specific pipeline stage.
func (t DealTrigger) RequiresStage() bool {
	return t == TriggerStageEnter || t == TriggerStageExit
}

// ActionType identifies one discrete side-effecting operation.
type ActionType string

const (
	ActionSendEmail           ActionType = "send_email"
	ActionCreateTask          ActionType = "create_task"
	ActionUpdateField         ActionType = "update_field"
	ActionAddTag              ActionType = "add_tag"
	ActionRemoveTag           ActionType = "remove_tag"
	ActionAssignOwner         ActionType = "assign_owner"
	ActionCreateActivity      ActionType = "create_activity"
	ActionSetProbability      ActionType = "set_probability"
	ActionIncreaseProbability ActionType = "increase_probability"
	ActionDecreaseProbability ActionType = "decrease_probability"
)

// ActionTypes lists every supported action type, used for request validation.
var ActionTypes = []ActionType{
	ActionSendEmail, ActionCreateTask, ActionUpdateField, ActionAddTag,
	ActionRemoveTag, ActionAssignOwner, ActionCreateActivity,
	ActionSetProbability, ActionIncreaseProbability, ActionDecreaseProbability,
}

// RuleConditions is the structured predicate set attached to a rule. Nil
// pointer fields mean "no constraint"; an empty struct always passes.
type RuleConditions struct {
	MinValue       *float64 `json:"min_value,omitempty"`
	MaxValue       *float64 `json:"max_value,omitempty"`
	MinProbability *int     `json:"min_probability,omitempty"`
	MinDaysInStage *int     `json:"min_days_in_stage,omitempty"`
	OwnerIDs       []uint   `json:"owner_ids,omitempty"`
	HasCompany     *bool    `json:"has_company,omitempty"`
}

// Value implements driver.Valuer so conditions persist as a JSON column.
func (c RuleConditions) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (c *RuleConditions) Scan(value interface{}) error {
	return scanJSON(value, c)
}

// RuleAction is the normalized tagged-variant form of one configured action:
// a type from the fixed enum plus its free-form config payload.
type RuleAction struct {
	Type   ActionType             `json:"type"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// RuleActions is the ordered action list of a rule, persisted as JSON.
type RuleActions []RuleAction

func (a RuleActions) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *RuleActions) Scan(value interface{}) error {
	return scanJSON(value, a)
}

// AutomationRule 管道自动化规则
type AutomationRule struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	PipelineID      uint           `gorm:"index" json:"pipeline_id"`
	Name            string         `gorm:"not null" json:"name"`
	Trigger         DealTrigger    `gorm:"index;not null" json:"trigger"`
	TriggerStageID  *uint          `gorm:"index" json:"trigger_stage_id"` // required for stage_enter / stage_exit
	Conditions      RuleConditions `gorm:"type:text" json:"conditions"`
	Actions         RuleActions    `gorm:"type:text" json:"actions"`
	Active          bool           `gorm:"default:true" json:"active"`
	DelayMinutes    int            `gorm:"default:0" json:"delay_minutes"`
	LastTriggeredAt *time.Time     `json:"last_triggered_at"`
	TriggerCount    int            `gorm:"default:0" json:"trigger_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Execution statuses.
const (
	ExecutionPending = "pending"
	ExecutionSuccess = "success"
	ExecutionFailed  = "failed"
	ExecutionSkipped = "skipped"
)

// ActionResult records the outcome of a single action within one execution.
// Results are accumulated in original action order regardless of failures so
// the log shows exactly which actions ran.
type ActionResult struct {
	Action  ActionType `json:"action"`
	Success bool       `json:"success"`
	Result  string     `json:"result,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// ActionResults is persisted as a JSON column on the execution log.
type ActionResults []ActionResult

func (r ActionResults) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *ActionResults) Scan(value interface{}) error {
	return scanJSON(value, r)
}

// AutomationExecution 规则执行日志（每次触发一行）
type AutomationExecution struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	ExecutionID string        `gorm:"uniqueIndex" json:"execution_id"`
	RuleID      uint          `gorm:"index" json:"rule_id"`
	DealID      uint          `gorm:"index" json:"deal_id"`
	Trigger     DealTrigger   `json:"trigger"`
	Status      string        `gorm:"index;default:'pending'" json:"status"` // pending, success, failed, skipped
	Results     ActionResults `gorm:"type:text" json:"results"`
	Error       string        `gorm:"type:text" json:"error,omitempty"`
	ExecutedAt  time.Time     `json:"executed_at"`
	CompletedAt *time.Time    `json:"completed_at"`

	Rule AutomationRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
}

func scanJSON(value, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported column type %T", value)
	}
}
