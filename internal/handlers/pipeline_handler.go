package handlers

import (
	"net/http"
	"strconv"

	"pipecrm/internal/services"

	"github.com/gin-gonic/gin"
)

// PipelineHandler 管道处理器
type PipelineHandler struct {
	service *services.PipelineService
}

func NewPipelineHandler(service *services.PipelineService) *PipelineHandler {
	return &PipelineHandler{service: service}
}

// CreatePipeline 创建管道（含默认自动化规则）
func (h *PipelineHandler) CreatePipeline(c *gin.Context) {
	var req services.PipelineCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	pipeline, err := h.service.CreatePipeline(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create pipeline", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, pipeline)
}

// GetPipeline 获取管道
func (h *PipelineHandler) GetPipeline(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	pipeline, err := h.service.GetPipeline(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Pipeline not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, pipeline)
}

// ListPipelines 获取管道列表
func (h *PipelineHandler) ListPipelines(c *gin.Context) {
	workspaceID, _ := strconv.ParseUint(c.Query("workspace_id"), 10, 32)
	pipelines, err := h.service.ListPipelines(c.Request.Context(), uint(workspaceID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list pipelines", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, pipelines)
}

// AddStage 新增阶段
func (h *PipelineHandler) AddStage(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req services.StageCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	stage, err := h.service.AddStage(c.Request.Context(), id, &req)
	if err != nil {
		status := http.StatusBadRequest
		if err.Error() == "pipeline not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to add stage", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, stage)
}

// DeletePipeline 删除管道
func (h *PipelineHandler) DeletePipeline(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	if err := h.service.DeletePipeline(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "pipeline not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete pipeline", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Pipeline deleted"})
}

// RegisterPipelineRoutes 注册路由
func RegisterPipelineRoutes(r *gin.RouterGroup, handler *PipelineHandler) {
	pipelines := r.Group("/pipelines")
	{
		pipelines.GET("", handler.ListPipelines)
		pipelines.POST("", handler.CreatePipeline)
		pipelines.GET(":id", handler.GetPipeline)
		pipelines.DELETE(":id", handler.DeletePipeline)
		pipelines.POST(":id/stages", handler.AddStage)
	}
}
