package handlers

import (
	"context"
	"net/http"

	"pipecrm/internal/models"
	"pipecrm/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DealHandler 交易处理器
type DealHandler struct {
	dealService *services.DealService
	logger      *logrus.Logger
}

func NewDealHandler(dealService *services.DealService, logger *logrus.Logger) *DealHandler {
	return &DealHandler{dealService: dealService, logger: logger}
}

// CreateDeal 创建交易
func (h *DealHandler) CreateDeal(c *gin.Context) {
	var req services.DealCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	deal, err := h.dealService.CreateDeal(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create deal", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, deal)
}

// GetDeal 获取交易
func (h *DealHandler) GetDeal(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	deal, err := h.dealService.GetDeal(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Deal not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, deal)
}

// ListDeals 获取交易列表
func (h *DealHandler) ListDeals(c *gin.Context) {
	var req services.DealListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	deals, total, err := h.dealService.ListDeals(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list deals", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: deals, Total: total})
}

// UpdateDeal 更新交易
func (h *DealHandler) UpdateDeal(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req services.DealUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	deal, err := h.dealService.UpdateDeal(c.Request.Context(), id, &req)
	if err != nil {
		status := http.StatusBadRequest
		if err.Error() == "deal not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update deal", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, deal)
}

type moveStageRequest struct {
	StageID uint `json:"stage_id" binding:"required"`
}

// MoveStage 移动交易阶段
func (h *DealHandler) MoveStage(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req moveStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	deal, err := h.dealService.MoveStage(c.Request.Context(), id, req.StageID, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to move deal", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, deal)
}

// MarkWon 标记交易为赢单
func (h *DealHandler) MarkWon(c *gin.Context) {
	h.transition(c, h.dealService.MarkWon)
}

// MarkLost 标记交易为输单
func (h *DealHandler) MarkLost(c *gin.Context) {
	h.transition(c, h.dealService.MarkLost)
}

// MarkStalled 标记交易为停滞
func (h *DealHandler) MarkStalled(c *gin.Context) {
	h.transition(c, h.dealService.MarkStalled)
}

func (h *DealHandler) transition(c *gin.Context, fn func(ctx context.Context, id uint, userID *uint) (*models.Deal, error)) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	deal, err := fn(c.Request.Context(), id, nil)
	if err != nil {
		status := http.StatusBadRequest
		if err.Error() == "deal not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to update deal status", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, deal)
}

// DeleteDeal 删除交易
func (h *DealHandler) DeleteDeal(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	if err := h.dealService.DeleteDeal(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "deal not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete deal", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Deal deleted"})
}

// RegisterDealRoutes 注册路由
func RegisterDealRoutes(r *gin.RouterGroup, handler *DealHandler) {
	deals := r.Group("/deals")
	{
		deals.GET("", handler.ListDeals)
		deals.POST("", handler.CreateDeal)
		deals.GET(":id", handler.GetDeal)
		deals.PUT(":id", handler.UpdateDeal)
		deals.DELETE(":id", handler.DeleteDeal)
		deals.POST(":id/move", handler.MoveStage)
		deals.POST(":id/won", handler.MarkWon)
		deals.POST(":id/lost", handler.MarkLost)
		deals.POST(":id/stalled", handler.MarkStalled)
	}
}
