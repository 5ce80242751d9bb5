package handlers

import (
	"net/http"
	"strconv"

	"pipecrm/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler 管理自动化规则与执行日志
type AutomationHandler struct {
	service *services.AutomationService
}

func NewAutomationHandler(service *services.AutomationService) *AutomationHandler {
	return &AutomationHandler{service: service}
}

// ListRules 获取规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
	pipelineID, _ := strconv.ParseUint(c.Query("pipeline_id"), 10, 32)
	rules, err := h.service.ListRules(c.Request.Context(), uint(pipelineID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// GetRule 获取单条规则
func (h *AutomationHandler) GetRule(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	rule, err := h.service.GetRule(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRule 创建规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule 更新规则
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.service.UpdateRule(c.Request.Context(), id, &req)
	if err != nil {
		status := http.StatusBadRequest
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	if err := h.service.DeleteRule(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted"})
}

// ListExecutions 查询执行日志
func (h *AutomationHandler) ListExecutions(c *gin.Context) {
	var req services.ExecutionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	executions, err := h.service.ListExecutions(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, executions)
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automations")
	{
		auto.GET("/rules", handler.ListRules)
		auto.POST("/rules", handler.CreateRule)
		auto.GET("/rules/:id", handler.GetRule)
		auto.PUT("/rules/:id", handler.UpdateRule)
		auto.DELETE("/rules/:id", handler.DeleteRule)
		auto.GET("/executions", handler.ListExecutions)
	}
}
