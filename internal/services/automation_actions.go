package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pipecrm/internal/mail"
	"pipecrm/internal/models"

	"gorm.io/gorm"
)

// Automation action error taxonomy. Action errors are recorded per action and
// never abort the sibling actions of the same rule.
var (
	ErrNoContact     = errors.New("no contacts found for deal")
	ErrNoEmail       = errors.New("primary contact has no email address")
	ErrTagNotFound   = errors.New("tag not found")
	ErrUnknownAction = errors.New("unknown action type")
)

// executeAction performs one configured action against the deal and returns
// a human-readable result for the execution log.
func (s *AutomationService) executeAction(ctx context.Context, action models.RuleAction, deal *models.Deal) (string, error) {
	switch action.Type {
	case models.ActionSendEmail:
		return s.actionSendEmail(ctx, action.Config, deal)
	case models.ActionCreateTask:
		return s.actionCreateTask(ctx, action.Config, deal)
	case models.ActionUpdateField:
		return s.actionUpdateField(ctx, action.Config, deal)
	case models.ActionAddTag:
		return s.actionAddTag(ctx, action.Config, deal)
	case models.ActionRemoveTag:
		return s.actionRemoveTag(ctx, action.Config, deal)
	case models.ActionAssignOwner:
		return s.actionAssignOwner(ctx, action.Config, deal)
	case models.ActionCreateActivity:
		return s.actionCreateActivity(ctx, action.Config, deal)
	case models.ActionSetProbability:
		return s.actionSetProbability(ctx, action.Config, deal)
	case models.ActionIncreaseProbability:
		return s.actionAdjustProbability(ctx, action.Config, deal, 1)
	case models.ActionDecreaseProbability:
		return s.actionAdjustProbability(ctx, action.Config, deal, -1)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, action.Type)
	}
}

// actionSendEmail resolves the deal's primary contact (falling back to the
// first one) and sends the interpolated subject/body through the mailer.
func (s *AutomationService) actionSendEmail(ctx context.Context, cfg map[string]interface{}, deal *models.Deal) (string, error) {
	var links []models.DealContact
	if err := s.db.WithContext(ctx).Preload("Contact").
		Where("deal_id = ?", deal.ID).Order("id ASC").
		Find(&links).Error; err != nil {
		return "", err
	}
	if len(links) == 0 {
		return "", ErrNoContact
	}

	recipient := links[0].Contact
	for _, link := range links {
		if link.Primary {
			recipient = link.Contact
			break
		}
	}
	if recipient.Email == "" {
		return "", ErrNoEmail
	}

	msg := mail.Message{
		To:      recipient.Email,
		Subject: InterpolateTemplate(configString(cfg, "subject"), deal),
		HTML:    InterpolateTemplate(configString(cfg, "body"), deal),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return "", err
	}
	return fmt.Sprintf("email sent to %s", recipient.Email), nil
}

func (s *AutomationService) actionCreateTask(ctx context.Context, cfg map[string]interface{}, deal *models.Deal) (string, error) {
	task := models.Task{
		DealID:      &deal.ID,
		Title:       InterpolateTemplate(configString(cfg, "title"), deal),
		Description: InterpolateTemplate(configString(cfg, "description"), deal),
		Priority:    configString(cfg, "priority"),
	}
	if task.Priority == "" {
		task.Priority = "medium"
	}
	if days, ok := configInt(cfg, "due_in_days"); ok {
		due := time.Now().AddDate(0, 0, days)
		task.DueDate = &due
	}
	if configBool(cfg, "assign_to_owner") && deal.OwnerID != nil {
		task.AssigneeID = deal.OwnerID
	} else if id, ok := configUint(cfg, "assignee_id"); ok {
		task.AssigneeID = &id
	}

	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("task %d created", task.ID), nil
}

// actionUpdateField applies an arbitrary field-to-value map to the deal. String
// values pass through the interpolator first, everything else is written
// verbatim.
func (s *AutomationService) actionUpdateField(ctx context.Context, cfg map[string]interface{}, deal *models.Deal) (string, error) {
	fields, _ := cfg["fields"].(map[string]interface{})
	if len(fields) == 0 {
		return "no fields to update", nil
	}

	updates := make(map[string]interface{}, len(fields))
	for field, value := range fields {
		if str, ok := value.(string); ok {
			updates[field] = InterpolateTemplate(str, deal)
		} else {
			updates[field] = value
		}
	}
	if err := s.db.WithContext(ctx).Model(&models.Deal{}).
		Where("id = ?", deal.ID).Updates(updates).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("%d field(s) updated", len(updates)), nil
}

func (s *AutomationService) actionAddTag(ctx context.Context, cfg map[string]interface{}, deal *models.Deal) (string, error) {
	name := configString(cfg, "tag")
	var tag models.Tag
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND name = ?", deal.WorkspaceID, name).
		First(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("%w: %q", ErrTagNotFound, name)
	}
	if err != nil {
		return "", err
	}

	if err := s.db.WithContext(ctx).Model(deal).Association("Tags").Append(&tag); err != nil {
		return "", err
	}
	return fmt.Sprintf("tag %q added", name), nil
}

// actionRemoveTag is the soft counterpart of add: removing a tag that does
// not exist is a no-op with a reported reason, not a failure.
func (s *AutomationService) actionRemoveTag(ctx context.Context, cfg map[string]interface{}, deal *models.Deal) (string, error) {
	name := configString(cfg, "tag")
	var tag models.Tag
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND name = ?", deal.WorkspaceID, name).
		First(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "tag not removed: tag not found", nil
	}
	if err != nil {
		return "", err
	}

	if err := s.db.WithContext(ctx).Model(deal).Association("Tags").Delete(&tag); err != nil {
		return "", err
	}
	return fmt.Sprintf("tag %q removed", name), nil
}

func (s *AutomationService) actionAssignOwner(ctx context.Context, cfg map[string]interface{}, deal *models.Deal) (string, error) {
	ownerID, ok := configUint(cfg, "owner_id")
	if !ok {
		return "", errors.New("assign_owner requires owner_id")
	}
	if err := s.db.WithContext(ctx).Model(&models.Deal{}).
		Where("id = ?", deal.ID).Update("owner_id", ownerID).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("owner set to %d", ownerID), nil
}

func (s *AutomationService) actionCreateActivity(ctx context.Context, cfg map[string]interface{}, deal *models.Deal) (string, error) {
	activity := models.Activity{
		DealID:      &deal.ID,
		Type:        configString(cfg, "activity_type"),
		Title:       InterpolateTemplate(configString(cfg, "title"), deal),
		Description: InterpolateTemplate(configString(cfg, "description"), deal),
	}
	if activity.Type == "" {
		activity.Type = "note"
	}
	if err := s.db.WithContext(ctx).Create(&activity).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("activity %d logged", activity.ID), nil
}

// actionSetProbability writes an absolute probability. Set and adjust are
// separate action types so a "set" config can never be misread as a delta.
func (s *AutomationService) actionSetProbability(ctx context.Context, cfg map[string]interface{}, deal *models.Deal) (string, error) {
	value, ok := configInt(cfg, "probability")
	if !ok {
		return "", errors.New("set_probability requires probability")
	}
	value = clampProbability(value)
	if err := s.db.WithContext(ctx).Model(&models.Deal{}).
		Where("id = ?", deal.ID).Update("probability", value).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("probability set to %d", value), nil
}

func (s *AutomationService) actionAdjustProbability(ctx context.Context, cfg map[string]interface{}, deal *models.Deal, sign int) (string, error) {
	delta, ok := configInt(cfg, "amount")
	if !ok {
		return "", errors.New("probability adjustment requires amount")
	}
	value := clampProbability(deal.Probability + sign*delta)
	if err := s.db.WithContext(ctx).Model(&models.Deal{}).
		Where("id = ?", deal.ID).Update("probability", value).Error; err != nil {
		return "", err
	}
	return fmt.Sprintf("probability adjusted to %d", value), nil
}

func clampProbability(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Config payloads arrive as decoded JSON, so numbers are float64 and ids
// need narrowing.

func configString(cfg map[string]interface{}, key string) string {
	v, _ := cfg[key].(string)
	return v
}

func configBool(cfg map[string]interface{}, key string) bool {
	v, _ := cfg[key].(bool)
	return v
}

func configInt(cfg map[string]interface{}, key string) (int, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func configUint(cfg map[string]interface{}, key string) (uint, bool) {
	n, ok := configInt(cfg, key)
	if !ok || n < 0 {
		return 0, false
	}
	return uint(n), true
}
