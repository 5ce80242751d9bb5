package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pipecrm/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AutomationDispatcher receives deal lifecycle events. The automation
// service implements it; it is injected at construction so the deal service
// never holds a mutable back-reference.
type AutomationDispatcher interface {
	TriggerAutomations(ctx context.Context, actx AutomationContext)
}

// DealService 交易管理服务
type DealService struct {
	db         *gorm.DB
	logger     *logrus.Logger
	dispatcher AutomationDispatcher
}

func NewDealService(db *gorm.DB, logger *logrus.Logger, dispatcher AutomationDispatcher) *DealService {
	if logger == nil {
		logger = logrus.New()
	}
	return &DealService{db: db, logger: logger, dispatcher: dispatcher}
}

// DealCreateRequest 创建交易请求
type DealCreateRequest struct {
	Title       string `json:"title" binding:"required"`
	WorkspaceID uint   `json:"workspace_id" binding:"required"`
	PipelineID  uint   `json:"pipeline_id" binding:"required"`
	StageID     uint   `json:"stage_id"`
	Value       string `json:"value"`
	OwnerID     *uint  `json:"owner_id"`
	CompanyID   *uint  `json:"company_id"`
	UserID      *uint  `json:"-"`
}

// DealUpdateRequest 更新交易请求
type DealUpdateRequest struct {
	Title     *string `json:"title"`
	Value     *string `json:"value"`
	OwnerID   *uint   `json:"owner_id"`
	CompanyID *uint   `json:"company_id"`
	UserID    *uint   `json:"-"`
}

func (s *DealService) CreateDeal(ctx context.Context, req *DealCreateRequest) (*models.Deal, error) {
	if req == nil {
		return nil, errors.New("request required")
	}

	stageID := req.StageID
	if stageID == 0 {
		// Default to the first stage of the pipeline.
		var stage models.Stage
		err := s.db.WithContext(ctx).
			Where("pipeline_id = ?", req.PipelineID).
			Order("position ASC").First(&stage).Error
		if err != nil {
			return nil, fmt.Errorf("pipeline %d has no stages", req.PipelineID)
		}
		stageID = stage.ID
	}

	deal := &models.Deal{
		WorkspaceID:    req.WorkspaceID,
		PipelineID:     req.PipelineID,
		StageID:        stageID,
		Title:          req.Title,
		Value:          req.Value,
		Status:         "open",
		OwnerID:        req.OwnerID,
		CompanyID:      req.CompanyID,
		StageEnteredAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(deal).Error; err != nil {
		return nil, err
	}

	s.dispatch(ctx, AutomationContext{
		Deal:    deal,
		Trigger: models.TriggerDealCreated,
		UserID:  req.UserID,
	})
	return deal, nil
}

// UpdateDeal applies the changed fields and raises the matching lifecycle
// events: value_changed and owner_changed for their specific fields, plus
// the generic deal_updated for every update.
func (s *DealService) UpdateDeal(ctx context.Context, id uint, req *DealUpdateRequest) (*models.Deal, error) {
	if req == nil {
		return nil, errors.New("request required")
	}
	deal, err := s.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}

	prevValue := deal.Value
	prevOwner := deal.OwnerID

	if req.Title != nil {
		deal.Title = *req.Title
	}
	if req.Value != nil {
		deal.Value = *req.Value
	}
	if req.OwnerID != nil {
		deal.OwnerID = req.OwnerID
	}
	if req.CompanyID != nil {
		deal.CompanyID = req.CompanyID
	}
	if err := s.db.WithContext(ctx).Save(deal).Error; err != nil {
		return nil, err
	}

	if req.Value != nil && *req.Value != prevValue {
		s.dispatch(ctx, AutomationContext{
			Deal:          deal,
			Trigger:       models.TriggerValueChanged,
			PreviousValue: prevValue,
			NewValue:      deal.Value,
			UserID:        req.UserID,
		})
	}
	if req.OwnerID != nil && !uintPtrEqual(prevOwner, deal.OwnerID) {
		s.dispatch(ctx, AutomationContext{
			Deal:          deal,
			Trigger:       models.TriggerOwnerChanged,
			PreviousValue: uintPtrString(prevOwner),
			NewValue:      uintPtrString(deal.OwnerID),
			UserID:        req.UserID,
		})
	}
	s.dispatch(ctx, AutomationContext{
		Deal:    deal,
		Trigger: models.TriggerDealUpdated,
		UserID:  req.UserID,
	})

	return deal, nil
}

// MoveStage transitions a deal between stages. Exit and enter events are
// dispatched independently; their queued executions carry no mutual
// ordering guarantee.
func (s *DealService) MoveStage(ctx context.Context, id, stageID uint, userID *uint) (*models.Deal, error) {
	deal, err := s.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	if deal.StageID == stageID {
		return deal, nil
	}

	var stage models.Stage
	if err := s.db.WithContext(ctx).First(&stage, stageID).Error; err != nil {
		return nil, errors.New("stage not found")
	}
	if stage.PipelineID != deal.PipelineID {
		return nil, errors.New("stage belongs to a different pipeline")
	}

	prevStageID := deal.StageID
	deal.StageID = stageID
	deal.StageEnteredAt = time.Now()
	if stage.Probability > 0 {
		deal.Probability = stage.Probability
	}
	if err := s.db.WithContext(ctx).Save(deal).Error; err != nil {
		return nil, err
	}

	s.dispatch(ctx, AutomationContext{
		Deal:          deal,
		Trigger:       models.TriggerStageExit,
		PreviousValue: fmt.Sprintf("%d", prevStageID),
		NewValue:      fmt.Sprintf("%d", stageID),
		UserID:        userID,
	})
	s.dispatch(ctx, AutomationContext{
		Deal:          deal,
		Trigger:       models.TriggerStageEnter,
		PreviousValue: fmt.Sprintf("%d", prevStageID),
		NewValue:      fmt.Sprintf("%d", stageID),
		UserID:        userID,
	})
	return deal, nil
}

// MarkWon closes a deal as won and fires deal_won.
func (s *DealService) MarkWon(ctx context.Context, id uint, userID *uint) (*models.Deal, error) {
	return s.close(ctx, id, "won", 100, models.TriggerDealWon, userID)
}

// MarkLost closes a deal as lost and fires deal_lost.
func (s *DealService) MarkLost(ctx context.Context, id uint, userID *uint) (*models.Deal, error) {
	return s.close(ctx, id, "lost", 0, models.TriggerDealLost, userID)
}

// MarkStalled flags a deal as stalled without closing it.
func (s *DealService) MarkStalled(ctx context.Context, id uint, userID *uint) (*models.Deal, error) {
	deal, err := s.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := deal.Status
	deal.Status = "stalled"
	if err := s.db.WithContext(ctx).Save(deal).Error; err != nil {
		return nil, err
	}
	s.dispatch(ctx, AutomationContext{
		Deal:          deal,
		Trigger:       models.TriggerDealStalled,
		PreviousValue: prev,
		NewValue:      deal.Status,
		UserID:        userID,
	})
	return deal, nil
}

func (s *DealService) close(ctx context.Context, id uint, status string, probability int, trigger models.DealTrigger, userID *uint) (*models.Deal, error) {
	deal, err := s.GetDeal(ctx, id)
	if err != nil {
		return nil, err
	}
	prev := deal.Status
	now := time.Now()
	deal.Status = status
	deal.Probability = probability
	deal.ClosedAt = &now
	if err := s.db.WithContext(ctx).Save(deal).Error; err != nil {
		return nil, err
	}
	s.dispatch(ctx, AutomationContext{
		Deal:          deal,
		Trigger:       trigger,
		PreviousValue: prev,
		NewValue:      status,
		UserID:        userID,
	})
	return deal, nil
}

func (s *DealService) GetDeal(ctx context.Context, id uint) (*models.Deal, error) {
	var deal models.Deal
	err := s.db.WithContext(ctx).
		Preload("Owner").Preload("Company").Preload("Stage").
		Preload("Contacts.Contact").Preload("Tags").
		First(&deal, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("deal not found")
		}
		return nil, err
	}
	return &deal, nil
}

// DealListRequest 交易列表请求
type DealListRequest struct {
	Page       int    `form:"page,default=1"`
	PageSize   int    `form:"page_size,default=20"`
	PipelineID uint   `form:"pipeline_id"`
	StageID    uint   `form:"stage_id"`
	Status     string `form:"status"`
	OwnerID    *uint  `form:"owner_id"`
}

func (s *DealService) ListDeals(ctx context.Context, req DealListRequest) ([]models.Deal, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Deal{})
	if req.PipelineID != 0 {
		q = q.Where("pipeline_id = ?", req.PipelineID)
	}
	if req.StageID != 0 {
		q = q.Where("stage_id = ?", req.StageID)
	}
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.OwnerID != nil {
		q = q.Where("owner_id = ?", *req.OwnerID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var deals []models.Deal
	err := q.Preload("Owner").Preload("Stage").
		Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&deals).Error
	if err != nil {
		return nil, 0, err
	}
	return deals, total, nil
}

func (s *DealService) DeleteDeal(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Deal{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("deal not found")
	}
	return nil
}

func (s *DealService) dispatch(ctx context.Context, actx AutomationContext) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.TriggerAutomations(ctx, actx)
}

func uintPtrEqual(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func uintPtrString(v *uint) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}
