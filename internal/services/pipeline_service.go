package services

import (
	"context"
	"errors"

	"pipecrm/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PipelineService 管道管理服务
type PipelineService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewPipelineService(db *gorm.DB, logger *logrus.Logger) *PipelineService {
	if logger == nil {
		logger = logrus.New()
	}
	return &PipelineService{db: db, logger: logger}
}

// PipelineCreateRequest 创建管道请求
type PipelineCreateRequest struct {
	Name        string   `json:"name" binding:"required"`
	WorkspaceID uint     `json:"workspace_id" binding:"required"`
	Stages      []string `json:"stages"`
}

var defaultStages = []string{"Qualification", "Proposal", "Negotiation", "Closing"}

// CreatePipeline creates a pipeline with its ordered stages (defaults when
// none given) and bootstraps the stock automation rules.
func (s *PipelineService) CreatePipeline(ctx context.Context, req *PipelineCreateRequest) (*models.Pipeline, error) {
	if req == nil {
		return nil, errors.New("request required")
	}

	stageNames := req.Stages
	if len(stageNames) == 0 {
		stageNames = defaultStages
	}

	pipeline := &models.Pipeline{
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(pipeline).Error; err != nil {
			return err
		}
		for i, name := range stageNames {
			stage := models.Stage{
				PipelineID: pipeline.ID,
				Name:       name,
				Position:   i,
			}
			if err := tx.Create(&stage).Error; err != nil {
				return err
			}
			pipeline.Stages = append(pipeline.Stages, stage)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.BootstrapDefaultAutomations(ctx, pipeline); err != nil {
		// The pipeline itself is fine; default rules are a convenience.
		s.logger.WithError(err).Warnf("bootstrap automations for pipeline %d failed", pipeline.ID)
	}
	return pipeline, nil
}

// BootstrapDefaultAutomations installs the stock rule set on a new pipeline:
// an activity log on won deals, and an (initially inactive) welcome email on
// deal creation.
func (s *PipelineService) BootstrapDefaultAutomations(ctx context.Context, pipeline *models.Pipeline) error {
	rules := []models.AutomationRule{
		{
			PipelineID: pipeline.ID,
			Name:       "Log won deals",
			Trigger:    models.TriggerDealWon,
			Actions: models.RuleActions{
				{
					Type: models.ActionCreateActivity,
					Config: map[string]interface{}{
						"title":       "Deal won: {{deal.title}}",
						"description": "Closed at {{deal.value}} by {{deal.owner}}",
					},
				},
			},
			Active: true,
		},
		{
			PipelineID: pipeline.ID,
			Name:       "Welcome email on new deal",
			Trigger:    models.TriggerDealCreated,
			Actions: models.RuleActions{
				{
					Type: models.ActionSendEmail,
					Config: map[string]interface{}{
						"subject": "Thanks for your interest, re: {{deal.title}}",
						"body":    "<p>We received your request and will be in touch shortly.</p>",
					},
				},
			},
			Active: false,
		},
	}
	for i := range rules {
		if err := s.db.WithContext(ctx).Create(&rules[i]).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *PipelineService) GetPipeline(ctx context.Context, id uint) (*models.Pipeline, error) {
	var pipeline models.Pipeline
	err := s.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&pipeline, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("pipeline not found")
		}
		return nil, err
	}
	return &pipeline, nil
}

func (s *PipelineService) ListPipelines(ctx context.Context, workspaceID uint) ([]models.Pipeline, error) {
	q := s.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("id ASC")
	if workspaceID != 0 {
		q = q.Where("workspace_id = ?", workspaceID)
	}
	var pipelines []models.Pipeline
	if err := q.Find(&pipelines).Error; err != nil {
		return nil, err
	}
	return pipelines, nil
}

// StageCreateRequest 创建阶段请求
type StageCreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Position    *int   `json:"position"`
	Probability int    `json:"probability"`
}

// AddStage appends or inserts a stage. Omitting position appends after the
// current last stage.
func (s *PipelineService) AddStage(ctx context.Context, pipelineID uint, req *StageCreateRequest) (*models.Stage, error) {
	if req == nil {
		return nil, errors.New("request required")
	}
	if _, err := s.GetPipeline(ctx, pipelineID); err != nil {
		return nil, err
	}

	position := 0
	if req.Position != nil {
		position = *req.Position
	} else {
		var last models.Stage
		err := s.db.WithContext(ctx).
			Where("pipeline_id = ?", pipelineID).
			Order("position DESC").First(&last).Error
		if err == nil {
			position = last.Position + 1
		}
	}

	stage := &models.Stage{
		PipelineID:  pipelineID,
		Name:        req.Name,
		Position:    position,
		Probability: req.Probability,
	}
	if err := s.db.WithContext(ctx).Create(stage).Error; err != nil {
		return nil, err
	}
	return stage, nil
}

func (s *PipelineService) DeletePipeline(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Pipeline{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("pipeline not found")
	}
	return nil
}
