package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pipecrm/internal/models"
	"pipecrm/internal/queue"

	"github.com/sirupsen/logrus"
)

type fakeEnqueuer struct {
	jobs   []queue.AutomationJob
	delays []time.Duration
	err    error
}

func (f *fakeEnqueuer) EnqueueAutomation(ctx context.Context, job queue.AutomationJob, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	f.delays = append(f.delays, delay)
	return nil
}

func TestAutomationService_TriggerAutomations(t *testing.T) {
	db := newAutomationTestDB(t)
	enq := &fakeEnqueuer{}
	svc := NewAutomationService(db, logrus.New(), enq, &fakeMailer{})
	ctx := context.Background()

	deal := seedDeal(t, db)

	// Matching rule with a delay.
	db.Create(&models.AutomationRule{
		PipelineID:   1,
		Name:         "notify on create",
		Trigger:      models.TriggerDealCreated,
		Actions:      models.RuleActions{{Type: models.ActionCreateActivity}},
		Active:       true,
		DelayMinutes: 5,
	})
	// Inactive rule: never considered.
	db.Create(&models.AutomationRule{
		PipelineID: 1,
		Name:       "disabled",
		Trigger:    models.TriggerDealCreated,
		Actions:    models.RuleActions{{Type: models.ActionCreateActivity}},
		Active:     false,
	})
	// Active but failing its conditions: silently skipped.
	db.Create(&models.AutomationRule{
		PipelineID: 1,
		Name:       "big deals only",
		Trigger:    models.TriggerDealCreated,
		Conditions: models.RuleConditions{MinValue: floatPtr(1000000)},
		Actions:    models.RuleActions{{Type: models.ActionCreateActivity}},
		Active:     true,
	})
	// Different trigger: not eligible.
	db.Create(&models.AutomationRule{
		PipelineID: 1,
		Name:       "on won",
		Trigger:    models.TriggerDealWon,
		Actions:    models.RuleActions{{Type: models.ActionCreateActivity}},
		Active:     true,
	})

	svc.TriggerAutomations(ctx, AutomationContext{Deal: deal, Trigger: models.TriggerDealCreated})

	if len(enq.jobs) != 1 {
		t.Fatalf("expected exactly 1 job enqueued, got %d", len(enq.jobs))
	}
	job := enq.jobs[0]
	if job.DealID != deal.ID || job.Trigger != models.TriggerDealCreated {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.EventID == "" {
		t.Error("expected a generated event id")
	}
	if enq.delays[0] != 5*time.Minute {
		t.Errorf("expected 5m delay, got %v", enq.delays[0])
	}
}

func TestAutomationService_TriggerAutomations_StageFilter(t *testing.T) {
	db := newAutomationTestDB(t)
	enq := &fakeEnqueuer{}
	svc := NewAutomationService(db, logrus.New(), enq, &fakeMailer{})
	ctx := context.Background()

	deal := seedDeal(t, db)

	db.Create(&models.AutomationRule{
		PipelineID:     1,
		Name:           "entered negotiation",
		Trigger:        models.TriggerStageEnter,
		TriggerStageID: uintPtr(2),
		Actions:        models.RuleActions{{Type: models.ActionCreateActivity}},
		Active:         true,
	})
	db.Create(&models.AutomationRule{
		PipelineID:     1,
		Name:           "left qualification",
		Trigger:        models.TriggerStageExit,
		TriggerStageID: uintPtr(1),
		Actions:        models.RuleActions{{Type: models.ActionCreateActivity}},
		Active:         true,
	})

	// stage_enter matches on the new stage.
	svc.TriggerAutomations(ctx, AutomationContext{
		Deal: deal, Trigger: models.TriggerStageEnter,
		PreviousValue: "1", NewValue: "2",
	})
	if len(enq.jobs) != 1 {
		t.Fatalf("expected enter rule to fire once, got %d jobs", len(enq.jobs))
	}

	// Same move, wrong target stage: nothing fires.
	svc.TriggerAutomations(ctx, AutomationContext{
		Deal: deal, Trigger: models.TriggerStageEnter,
		PreviousValue: "1", NewValue: "3",
	})
	if len(enq.jobs) != 1 {
		t.Fatalf("expected no additional jobs, got %d", len(enq.jobs))
	}

	// stage_exit matches on the previous stage.
	svc.TriggerAutomations(ctx, AutomationContext{
		Deal: deal, Trigger: models.TriggerStageExit,
		PreviousValue: "1", NewValue: "2",
	})
	if len(enq.jobs) != 2 {
		t.Fatalf("expected exit rule to fire, got %d jobs", len(enq.jobs))
	}

	// Stage trigger without a parseable stage value is dropped.
	svc.TriggerAutomations(ctx, AutomationContext{
		Deal: deal, Trigger: models.TriggerStageEnter,
	})
	if len(enq.jobs) != 2 {
		t.Fatalf("expected no jobs for missing stage value, got %d", len(enq.jobs))
	}
}

func TestAutomationService_TriggerAutomations_SharedEventID(t *testing.T) {
	db := newAutomationTestDB(t)
	enq := &fakeEnqueuer{}
	svc := NewAutomationService(db, logrus.New(), enq, &fakeMailer{})

	deal := seedDeal(t, db)
	for i := 0; i < 2; i++ {
		db.Create(&models.AutomationRule{
			PipelineID: 1,
			Name:       "rule",
			Trigger:    models.TriggerDealWon,
			Actions:    models.RuleActions{{Type: models.ActionCreateActivity}},
			Active:     true,
		})
	}

	svc.TriggerAutomations(context.Background(), AutomationContext{Deal: deal, Trigger: models.TriggerDealWon})
	if len(enq.jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(enq.jobs))
	}
	if enq.jobs[0].EventID != enq.jobs[1].EventID {
		t.Error("jobs of one dispatch should share an event id")
	}
	if enq.jobs[0].TaskID() == enq.jobs[1].TaskID() {
		t.Error("different rules must yield distinct task ids")
	}
}

func TestAutomationService_ExecuteAutomation_Success(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, logrus.New(), &fakeEnqueuer{}, &fakeMailer{})
	ctx := context.Background()

	deal := seedDeal(t, db)
	rule := models.AutomationRule{
		PipelineID: 1,
		Name:       "log it",
		Trigger:    models.TriggerDealWon,
		Actions: models.RuleActions{
			{Type: models.ActionCreateActivity, Config: map[string]interface{}{"title": "won {{deal.title}}"}},
			{Type: models.ActionSetProbability, Config: map[string]interface{}{"probability": float64(100)}},
		},
		Active: true,
	}
	db.Create(&rule)

	err := svc.ExecuteAutomation(ctx, queue.AutomationJob{
		EventID: "evt-1", RuleID: rule.ID, DealID: deal.ID, Trigger: models.TriggerDealWon,
	})
	if err != nil {
		t.Fatalf("ExecuteAutomation failed: %v", err)
	}

	var execution models.AutomationExecution
	if err := db.Where("rule_id = ?", rule.ID).First(&execution).Error; err != nil {
		t.Fatalf("execution log missing: %v", err)
	}
	if execution.Status != models.ExecutionSuccess {
		t.Errorf("status = %q, want success", execution.Status)
	}
	if len(execution.Results) != 2 {
		t.Fatalf("expected 2 action results, got %d", len(execution.Results))
	}
	for i, r := range execution.Results {
		if !r.Success {
			t.Errorf("result %d not successful: %+v", i, r)
		}
	}
	if execution.CompletedAt == nil {
		t.Error("expected completed_at set")
	}

	var reloaded models.AutomationRule
	db.First(&reloaded, rule.ID)
	if reloaded.TriggerCount != 1 {
		t.Errorf("trigger_count = %d, want 1", reloaded.TriggerCount)
	}
	if reloaded.LastTriggeredAt == nil {
		t.Error("expected last_triggered_at set")
	}
}

func TestAutomationService_ExecuteAutomation_PartialFailure(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, logrus.New(), &fakeEnqueuer{}, &fakeMailer{})
	ctx := context.Background()

	deal := seedDeal(t, db)
	rule := models.AutomationRule{
		PipelineID: 1,
		Name:       "mixed",
		Trigger:    models.TriggerDealWon,
		Actions: models.RuleActions{
			{Type: models.ActionAddTag, Config: map[string]interface{}{"tag": "nonexistent"}},
			{Type: models.ActionCreateActivity, Config: map[string]interface{}{"title": "still ran"}},
		},
		Active: true,
	}
	db.Create(&rule)

	if err := svc.ExecuteAutomation(ctx, queue.AutomationJob{
		EventID: "evt-2", RuleID: rule.ID, DealID: deal.ID, Trigger: models.TriggerDealWon,
	}); err != nil {
		t.Fatalf("action failures must not propagate to the queue: %v", err)
	}

	var execution models.AutomationExecution
	db.Where("rule_id = ?", rule.ID).First(&execution)
	if execution.Status != models.ExecutionFailed {
		t.Errorf("status = %q, want failed", execution.Status)
	}
	if len(execution.Results) != 2 {
		t.Fatalf("expected results for both actions, got %d", len(execution.Results))
	}
	if execution.Results[0].Success || execution.Results[0].Error == "" {
		t.Errorf("first result should record the failure: %+v", execution.Results[0])
	}
	if !execution.Results[1].Success {
		t.Errorf("second action should still run: %+v", execution.Results[1])
	}

	// The sibling action's side effect happened despite the failure.
	var count int64
	db.Model(&models.Activity{}).Where("deal_id = ?", deal.ID).Count(&count)
	if count != 1 {
		t.Errorf("expected 1 activity, got %d", count)
	}

	// Statistics still update once for the invocation.
	var reloaded models.AutomationRule
	db.First(&reloaded, rule.ID)
	if reloaded.TriggerCount != 1 {
		t.Errorf("trigger_count = %d, want 1", reloaded.TriggerCount)
	}
}

func TestAutomationService_ExecuteAutomation_Skips(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, logrus.New(), &fakeEnqueuer{}, &fakeMailer{})
	ctx := context.Background()

	deal := seedDeal(t, db)
	inactive := models.AutomationRule{
		PipelineID: 1, Name: "off", Trigger: models.TriggerDealWon,
		Actions: models.RuleActions{{Type: models.ActionCreateActivity}},
		Active:  false,
	}
	db.Create(&inactive)

	tests := []struct {
		name   string
		job    queue.AutomationJob
		reason string
	}{
		{
			name:   "rule deleted before execution",
			job:    queue.AutomationJob{EventID: "e1", RuleID: 9999, DealID: deal.ID},
			reason: "rule no longer exists",
		},
		{
			name:   "rule deactivated before execution",
			job:    queue.AutomationJob{EventID: "e2", RuleID: inactive.ID, DealID: deal.ID},
			reason: "rule deactivated",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.ExecuteAutomation(ctx, tt.job); err != nil {
				t.Fatalf("skip must not be an error: %v", err)
			}
			var execution models.AutomationExecution
			if err := db.Where("rule_id = ?", tt.job.RuleID).Order("id DESC").First(&execution).Error; err != nil {
				t.Fatalf("execution log missing: %v", err)
			}
			if execution.Status != models.ExecutionSkipped {
				t.Errorf("status = %q, want skipped", execution.Status)
			}
			if execution.Error != tt.reason {
				t.Errorf("error = %q, want %q", execution.Error, tt.reason)
			}
		})
	}

	// Deal deleted between dispatch and execution.
	active := models.AutomationRule{
		PipelineID: 1, Name: "on", Trigger: models.TriggerDealWon,
		Actions: models.RuleActions{{Type: models.ActionCreateActivity}},
		Active:  true,
	}
	db.Create(&active)
	if err := svc.ExecuteAutomation(ctx, queue.AutomationJob{EventID: "e3", RuleID: active.ID, DealID: 424242}); err != nil {
		t.Fatalf("missing deal must skip, not fail: %v", err)
	}
	var execution models.AutomationExecution
	db.Where("rule_id = ?", active.ID).First(&execution)
	if execution.Status != models.ExecutionSkipped || execution.Error != "deal no longer exists" {
		t.Errorf("unexpected execution: status=%q error=%q", execution.Status, execution.Error)
	}

	// Skipped executions never bump rule statistics.
	var reloaded models.AutomationRule
	db.First(&reloaded, active.ID)
	if reloaded.TriggerCount != 0 {
		t.Errorf("trigger_count = %d, want 0", reloaded.TriggerCount)
	}
}

func TestAutomationService_RuleCRUD(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, logrus.New(), &fakeEnqueuer{}, &fakeMailer{})
	ctx := context.Background()

	tests := []struct {
		name    string
		req     *AutomationRuleRequest
		wantErr bool
	}{
		{
			name: "valid rule",
			req: &AutomationRuleRequest{
				Name:       "welcome",
				PipelineID: 1,
				Trigger:    models.TriggerDealCreated,
				Actions:    models.RuleActions{{Type: models.ActionSendEmail}},
			},
		},
		{
			name: "stage trigger with stage",
			req: &AutomationRuleRequest{
				Name:           "entered",
				PipelineID:     1,
				Trigger:        models.TriggerStageEnter,
				TriggerStageID: uintPtr(3),
				Actions:        models.RuleActions{{Type: models.ActionCreateTask}},
			},
		},
		{
			name: "stage trigger without stage",
			req: &AutomationRuleRequest{
				Name:       "entered",
				PipelineID: 1,
				Trigger:    models.TriggerStageEnter,
				Actions:    models.RuleActions{{Type: models.ActionCreateTask}},
			},
			wantErr: true,
		},
		{
			name: "unknown trigger",
			req: &AutomationRuleRequest{
				Name:       "bad",
				PipelineID: 1,
				Trigger:    "deal_teleported",
				Actions:    models.RuleActions{{Type: models.ActionCreateTask}},
			},
			wantErr: true,
		},
		{
			name: "unknown action type",
			req: &AutomationRuleRequest{
				Name:       "bad",
				PipelineID: 1,
				Trigger:    models.TriggerDealCreated,
				Actions:    models.RuleActions{{Type: "explode"}},
			},
			wantErr: true,
		},
		{
			name: "no actions",
			req: &AutomationRuleRequest{
				Name:       "empty",
				PipelineID: 1,
				Trigger:    models.TriggerDealCreated,
			},
			wantErr: true,
		},
		{
			name: "negative delay",
			req: &AutomationRuleRequest{
				Name:         "late",
				PipelineID:   1,
				Trigger:      models.TriggerDealCreated,
				Actions:      models.RuleActions{{Type: models.ActionCreateTask}},
				DelayMinutes: -5,
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := svc.CreateRule(ctx, tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateRule() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && rule.ID == 0 {
				t.Error("expected persisted rule")
			}
		})
	}

	rules, err := svc.ListRules(ctx, 1)
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("expected 2 rules, got %d", len(rules))
	}

	// Update flips active off, renames, and moves the rule to pipeline 2.
	target := rules[0]
	updated, err := svc.UpdateRule(ctx, target.ID, &AutomationRuleRequest{
		Name:           "renamed",
		PipelineID:     2,
		Trigger:        target.Trigger,
		TriggerStageID: target.TriggerStageID,
		Actions:        target.Actions,
		Active:         boolPtr(false),
	})
	if err != nil {
		t.Fatalf("UpdateRule failed: %v", err)
	}
	if updated.Name != "renamed" || updated.Active {
		t.Errorf("update not applied: %+v", updated)
	}
	if updated.PipelineID != 2 {
		t.Errorf("pipeline_id = %d, want 2", updated.PipelineID)
	}

	if err := svc.DeleteRule(ctx, target.ID); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if err := svc.DeleteRule(ctx, target.ID); err == nil {
		t.Error("deleting a deleted rule should fail")
	}
	if _, err := svc.GetRule(ctx, target.ID); err == nil {
		t.Error("expected rule not found")
	}
}

func TestAutomationService_ListExecutions(t *testing.T) {
	db := newAutomationTestDB(t)
	svc := NewAutomationService(db, logrus.New(), &fakeEnqueuer{}, &fakeMailer{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		db.Create(&models.AutomationExecution{
			ExecutionID: fmt.Sprintf("exec-%d", i),
			RuleID:      uint(i%2 + 1),
			DealID:      1,
			Status:      models.ExecutionSuccess,
			ExecutedAt:  time.Now(),
		})
	}

	all, err := svc.ListExecutions(ctx, ExecutionListRequest{})
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 executions, got %d", len(all))
	}

	byRule, err := svc.ListExecutions(ctx, ExecutionListRequest{RuleID: 1})
	if err != nil {
		t.Fatalf("ListExecutions by rule failed: %v", err)
	}
	if len(byRule) != 2 {
		t.Errorf("expected 2 executions for rule 1, got %d", len(byRule))
	}
}
