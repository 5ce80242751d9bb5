package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户模型
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Email     string         `gorm:"unique;not null" json:"email"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Avatar    string         `json:"avatar"`
	Role      string         `gorm:"default:'member'" json:"role"`   // member, manager, admin
	Status    string         `gorm:"default:'active'" json:"status"` // active, inactive
	LastLogin *time.Time     `json:"last_login"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// FullName renders "firstName lastName" for templates and activity records.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	if u.FirstName == "" {
		return u.LastName
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// 工作区
type Workspace struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// 销售管道
type Pipeline struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	WorkspaceID uint           `gorm:"index" json:"workspace_id"`
	Name        string         `gorm:"not null" json:"name"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Stages []Stage `gorm:"foreignKey:PipelineID" json:"stages,omitempty"`
}

// 管道阶段
type Stage struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	PipelineID  uint      `gorm:"index" json:"pipeline_id"`
	Name        string    `gorm:"not null" json:"name"`
	Position    int       `gorm:"default:0" json:"position"`
	Probability int       `gorm:"default:0" json:"probability"` // default win probability for deals entering this stage
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// 公司
type Company struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	WorkspaceID uint           `gorm:"index" json:"workspace_id"`
	Name        string         `gorm:"not null" json:"name"`
	Domain      string         `json:"domain"`
	Industry    string         `json:"industry"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// 联系人
type Contact struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	WorkspaceID uint           `gorm:"index" json:"workspace_id"`
	CompanyID   *uint          `gorm:"index" json:"company_id"`
	FirstName   string         `json:"first_name"`
	LastName    string         `json:"last_name"`
	Email       string         `gorm:"index" json:"email"`
	Phone       string         `json:"phone"`
	Title       string         `json:"title"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Company *Company `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
}

// 交易（商机）
type Deal struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	WorkspaceID uint           `gorm:"index" json:"workspace_id"`
	PipelineID  uint           `gorm:"index" json:"pipeline_id"`
	StageID     uint           `gorm:"index" json:"stage_id"`
	Title       string         `gorm:"not null" json:"title"`
	// Value is stored as text; consumers parse it as a float and treat
	// missing or unparseable values as 0.
	Value          string         `json:"value"`
	Probability    int            `gorm:"default:0" json:"probability"` // 0-100
	Status         string         `gorm:"default:'open';index" json:"status"` // open, won, lost, stalled
	OwnerID        *uint          `gorm:"index" json:"owner_id"`
	CompanyID      *uint          `gorm:"index" json:"company_id"`
	StageEnteredAt time.Time      `json:"stage_entered_at"`
	ClosedAt       *time.Time     `json:"closed_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Pipeline *Pipeline     `gorm:"foreignKey:PipelineID" json:"pipeline,omitempty"`
	Stage    *Stage        `gorm:"foreignKey:StageID" json:"stage,omitempty"`
	Owner    *User         `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`
	Company  *Company      `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
	Contacts []DealContact `gorm:"foreignKey:DealID" json:"contacts,omitempty"`
	Tags     []Tag         `gorm:"many2many:deal_tags;" json:"tags,omitempty"`
}

// DaysInStage returns whole days elapsed since the deal entered its stage.
func (d *Deal) DaysInStage(now time.Time) int {
	if d.StageEnteredAt.IsZero() {
		return 0
	}
	days := int(now.Sub(d.StageEnteredAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// 交易-联系人关联（带主联系人标记）
type DealContact struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DealID    uint      `gorm:"index" json:"deal_id"`
	ContactID uint      `gorm:"index" json:"contact_id"`
	Primary   bool      `gorm:"default:false" json:"primary"`
	CreatedAt time.Time `json:"created_at"`

	Contact Contact `gorm:"foreignKey:ContactID" json:"contact,omitempty"`
}

// 标签（工作区内唯一）
type Tag struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	WorkspaceID uint      `gorm:"uniqueIndex:idx_tag_workspace_name" json:"workspace_id"`
	Name        string    `gorm:"uniqueIndex:idx_tag_workspace_name;not null" json:"name"`
	Color       string    `json:"color"`
	CreatedAt   time.Time `json:"created_at"`
}

// 任务
type Task struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	DealID      *uint      `gorm:"index" json:"deal_id"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Priority    string     `gorm:"default:'medium'" json:"priority"` // low, medium, high
	AssigneeID  *uint      `gorm:"index" json:"assignee_id"`
	Status      string     `gorm:"default:'open'" json:"status"` // open, done
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	Deal     *Deal `gorm:"foreignKey:DealID" json:"deal,omitempty"`
	Assignee *User `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
}

// 活动记录（审计）
type Activity struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DealID      *uint     `gorm:"index" json:"deal_id"`
	UserID      *uint     `gorm:"index" json:"user_id"`
	Type        string    `gorm:"default:'note'" json:"type"` // note, call, meeting, email, system
	Title       string    `json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `json:"created_at"`

	Deal *Deal `gorm:"foreignKey:DealID" json:"deal,omitempty"`
	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
