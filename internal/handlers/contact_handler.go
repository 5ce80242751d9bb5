package handlers

import (
	"net/http"
	"strconv"

	"pipecrm/internal/services"

	"github.com/gin-gonic/gin"
)

// ContactHandler 联系人/公司处理器
type ContactHandler struct {
	service *services.ContactService
}

func NewContactHandler(service *services.ContactService) *ContactHandler {
	return &ContactHandler{service: service}
}

// CreateContact 创建联系人
func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req services.ContactCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	contact, err := h.service.CreateContact(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create contact", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, contact)
}

// GetContact 获取联系人
func (h *ContactHandler) GetContact(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	contact, err := h.service.GetContact(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Contact not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, contact)
}

// ListContacts 联系人列表
func (h *ContactHandler) ListContacts(c *gin.Context) {
	var req services.ContactListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	contacts, total, err := h.service.ListContacts(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list contacts", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ListResponse{Items: contacts, Total: total})
}

// DeleteContact 删除联系人
func (h *ContactHandler) DeleteContact(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	if err := h.service.DeleteContact(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "contact not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete contact", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Contact deleted"})
}

type attachContactRequest struct {
	DealID  uint `json:"deal_id" binding:"required"`
	Primary bool `json:"primary"`
}

// AttachToDeal 关联联系人到交易
func (h *ContactHandler) AttachToDeal(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	var req attachContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	link, err := h.service.AttachToDeal(c.Request.Context(), req.DealID, id, req.Primary)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to attach contact", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, link)
}

// DetachFromDeal 解除联系人与交易的关联
func (h *ContactHandler) DetachFromDeal(c *gin.Context) {
	id, err := paramUint(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return
	}
	dealID, err := strconv.ParseUint(c.Query("deal_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid deal_id", Message: err.Error()})
		return
	}
	if err := h.service.DetachFromDeal(c.Request.Context(), uint(dealID), id); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to detach contact", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Contact detached"})
}

// CreateCompany 创建公司
func (h *ContactHandler) CreateCompany(c *gin.Context) {
	var req services.CompanyCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	company, err := h.service.CreateCompany(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create company", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, company)
}

// ListCompanies 公司列表
func (h *ContactHandler) ListCompanies(c *gin.Context) {
	workspaceID, _ := strconv.ParseUint(c.Query("workspace_id"), 10, 32)
	companies, err := h.service.ListCompanies(c.Request.Context(), uint(workspaceID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list companies", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, companies)
}

// RegisterContactRoutes 注册路由
func RegisterContactRoutes(r *gin.RouterGroup, handler *ContactHandler) {
	contacts := r.Group("/contacts")
	{
		contacts.GET("", handler.ListContacts)
		contacts.POST("", handler.CreateContact)
		contacts.GET(":id", handler.GetContact)
		contacts.DELETE(":id", handler.DeleteContact)
		contacts.POST(":id/deals", handler.AttachToDeal)
		contacts.DELETE(":id/deals", handler.DetachFromDeal)
	}
	companies := r.Group("/companies")
	{
		companies.GET("", handler.ListCompanies)
		companies.POST("", handler.CreateCompany)
	}
}
