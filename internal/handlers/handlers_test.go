package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pipecrm/internal/mail"
	"pipecrm/internal/models"
	"pipecrm/internal/queue"
	"pipecrm/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type nopEnqueuer struct{}

func (nopEnqueuer) EnqueueAutomation(ctx context.Context, job queue.AutomationJob, delay time.Duration) error {
	return nil
}

type nopMailer struct{}

func (nopMailer) Send(ctx context.Context, msg mail.Message) error { return nil }

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Workspace{},
		&models.Pipeline{}, &models.Stage{},
		&models.Company{}, &models.Contact{},
		&models.Deal{}, &models.DealContact{}, &models.Tag{},
		&models.Task{}, &models.Activity{},
		&models.AutomationRule{}, &models.AutomationExecution{},
	))

	logger := logrus.New()
	automationService := services.NewAutomationService(db, logger, nopEnqueuer{}, nopMailer{})
	dealService := services.NewDealService(db, logger, automationService)
	pipelineService := services.NewPipelineService(db, logger)
	contactService := services.NewContactService(db, logger)

	r := gin.New()
	healthHandler := NewHealthHandler(db)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	api := r.Group("/api/v1")
	RegisterPipelineRoutes(api, NewPipelineHandler(pipelineService))
	RegisterDealRoutes(api, NewDealHandler(dealService, logger))
	RegisterContactRoutes(api, NewContactHandler(contactService))
	RegisterAutomationRoutes(api, NewAutomationHandler(automationService))
	return r, db
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = b
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPipelineEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/pipelines", gin.H{
		"name":         "Sales",
		"workspace_id": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var pipeline models.Pipeline
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pipeline))
	assert.Len(t, pipeline.Stages, 4)

	// Missing name fails binding.
	w = doJSON(t, r, http.MethodPost, "/api/v1/pipelines", gin.H{"workspace_id": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/pipelines?workspace_id=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/pipelines/1/stages", gin.H{
		"name":        "Signed",
		"probability": 95,
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/v1/pipelines/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDealEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/v1/pipelines", gin.H{"name": "Sales", "workspace_id": 1})

	w := doJSON(t, r, http.MethodPost, "/api/v1/deals", gin.H{
		"title":        "Acme expansion",
		"workspace_id": 1,
		"pipeline_id":  1,
		"value":        "25000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var deal models.Deal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deal))
	assert.NotZero(t, deal.StageID)

	w = doJSON(t, r, http.MethodPost, "/api/v1/deals", gin.H{"workspace_id": 1, "pipeline_id": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/deals/1/move", gin.H{"stage_id": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deal))
	assert.Equal(t, uint(2), deal.StageID)

	w = doJSON(t, r, http.MethodPost, "/api/v1/deals/1/won", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &deal))
	assert.Equal(t, "won", deal.Status)
	assert.Equal(t, 100, deal.Probability)

	w = doJSON(t, r, http.MethodGet, "/api/v1/deals?pipeline_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Total)

	w = doJSON(t, r, http.MethodPost, "/api/v1/deals/999/lost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/deals/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/v1/deals/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAutomationEndpoints(t *testing.T) {
	r, db := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/automations/rules", gin.H{
		"name":        "welcome",
		"pipeline_id": 1,
		"trigger":     "deal_created",
		"actions": []gin.H{
			{"type": "send_email", "config": gin.H{"subject": "hi {{deal.title}}"}},
		},
		"delay_minutes": 5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rule models.AutomationRule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.Equal(t, 5, rule.DelayMinutes)
	assert.True(t, rule.Active)

	// Invalid trigger rejected by validation.
	w = doJSON(t, r, http.MethodPost, "/api/v1/automations/rules", gin.H{
		"name":        "bad",
		"pipeline_id": 1,
		"trigger":     "deal_teleported",
		"actions":     []gin.H{{"type": "send_email"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/automations/rules?pipeline_id=1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPut, "/api/v1/automations/rules/1", gin.H{
		"name":        "renamed",
		"pipeline_id": 1,
		"trigger":     "deal_created",
		"actions":     []gin.H{{"type": "send_email"}},
		"active":      false,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.Equal(t, "renamed", rule.Name)
	assert.False(t, rule.Active)

	db.Create(&models.AutomationExecution{
		ExecutionID: "e-1", RuleID: 1, DealID: 1,
		Status: models.ExecutionSuccess, ExecutedAt: time.Now(),
	})
	w = doJSON(t, r, http.MethodGet, "/api/v1/automations/executions?rule_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var executions []models.AutomationExecution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &executions))
	assert.Len(t, executions, 1)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/automations/rules/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, r, http.MethodGet, "/api/v1/automations/rules/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContactEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	doJSON(t, r, http.MethodPost, "/api/v1/pipelines", gin.H{"name": "Sales", "workspace_id": 1})
	doJSON(t, r, http.MethodPost, "/api/v1/deals", gin.H{
		"title": "D", "workspace_id": 1, "pipeline_id": 1,
	})

	w := doJSON(t, r, http.MethodPost, "/api/v1/companies", gin.H{
		"workspace_id": 1,
		"name":         "Acme Corp",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/v1/contacts", gin.H{
		"workspace_id": 1,
		"first_name":   "Dana",
		"email":        "dana@acme.test",
		"company_id":   1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/v1/contacts/1/deals", gin.H{
		"deal_id": 1,
		"primary": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/api/v1/contacts?workspace_id=1&search=Dana", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, int64(1), list.Total)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/contacts/1/deals?deal_id=1", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
