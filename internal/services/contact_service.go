package services

import (
	"context"
	"errors"

	"pipecrm/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ContactService 联系人与公司管理服务
type ContactService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewContactService(db *gorm.DB, logger *logrus.Logger) *ContactService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ContactService{db: db, logger: logger}
}

// ContactCreateRequest 创建联系人请求
type ContactCreateRequest struct {
	WorkspaceID uint   `json:"workspace_id" binding:"required"`
	FirstName   string `json:"first_name" binding:"required"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Title       string `json:"title"`
	CompanyID   *uint  `json:"company_id"`
}

func (s *ContactService) CreateContact(ctx context.Context, req *ContactCreateRequest) (*models.Contact, error) {
	if req == nil {
		return nil, errors.New("request required")
	}
	contact := &models.Contact{
		WorkspaceID: req.WorkspaceID,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		Phone:       req.Phone,
		Title:       req.Title,
		CompanyID:   req.CompanyID,
	}
	if err := s.db.WithContext(ctx).Create(contact).Error; err != nil {
		return nil, err
	}
	return contact, nil
}

func (s *ContactService) GetContact(ctx context.Context, id uint) (*models.Contact, error) {
	var contact models.Contact
	err := s.db.WithContext(ctx).Preload("Company").First(&contact, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("contact not found")
		}
		return nil, err
	}
	return &contact, nil
}

// ContactListRequest 联系人列表请求
type ContactListRequest struct {
	Page        int    `form:"page,default=1"`
	PageSize    int    `form:"page_size,default=20"`
	WorkspaceID uint   `form:"workspace_id"`
	CompanyID   *uint  `form:"company_id"`
	Search      string `form:"search"`
}

func (s *ContactService) ListContacts(ctx context.Context, req ContactListRequest) ([]models.Contact, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Contact{})
	if req.WorkspaceID != 0 {
		q = q.Where("workspace_id = ?", req.WorkspaceID)
	}
	if req.CompanyID != nil {
		q = q.Where("company_id = ?", *req.CompanyID)
	}
	if req.Search != "" {
		like := "%" + req.Search + "%"
		q = q.Where("first_name LIKE ? OR last_name LIKE ? OR email LIKE ?", like, like, like)
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

	var contacts []models.Contact
	err := q.Preload("Company").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&contacts).Error
	if err != nil {
		return nil, 0, err
	}
	return contacts, total, nil
}

func (s *ContactService) DeleteContact(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Contact{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("contact not found")
	}
	return nil
}

// AttachToDeal links a contact to a deal. Flagging a contact as primary
// demotes any existing primary link on that deal.
func (s *ContactService) AttachToDeal(ctx context.Context, dealID, contactID uint, primary bool) (*models.DealContact, error) {
	var contact models.Contact
	if err := s.db.WithContext(ctx).First(&contact, contactID).Error; err != nil {
		return nil, errors.New("contact not found")
	}
	var deal models.Deal
	if err := s.db.WithContext(ctx).First(&deal, dealID).Error; err != nil {
		return nil, errors.New("deal not found")
	}

	link := &models.DealContact{DealID: dealID, ContactID: contactID, Primary: primary}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if primary {
			if err := tx.Model(&models.DealContact{}).
				Where("deal_id = ? AND \"primary\" = ?", dealID, true).
				Update("primary", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(link).Error
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (s *ContactService) DetachFromDeal(ctx context.Context, dealID, contactID uint) error {
	result := s.db.WithContext(ctx).
		Where("deal_id = ? AND contact_id = ?", dealID, contactID).
		Delete(&models.DealContact{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("contact is not linked to deal")
	}
	return nil
}

// CompanyCreateRequest 创建公司请求
type CompanyCreateRequest struct {
	WorkspaceID uint   `json:"workspace_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Domain      string `json:"domain"`
	Industry    string `json:"industry"`
}

func (s *ContactService) CreateCompany(ctx context.Context, req *CompanyCreateRequest) (*models.Company, error) {
	if req == nil {
		return nil, errors.New("request required")
	}
	company := &models.Company{
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Domain:      req.Domain,
		Industry:    req.Industry,
	}
	if err := s.db.WithContext(ctx).Create(company).Error; err != nil {
		return nil, err
	}
	return company, nil
}

func (s *ContactService) ListCompanies(ctx context.Context, workspaceID uint) ([]models.Company, error) {
	q := s.db.WithContext(ctx).Order("name ASC")
	if workspaceID != 0 {
		q = q.Where("workspace_id = ?", workspaceID)
	}
	var companies []models.Company
	if err := q.Find(&companies).Error; err != nil {
		return nil, err
	}
	return companies, nil
}
