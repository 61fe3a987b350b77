package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ComplaintStatus is the handling state of a complaint
type ComplaintStatus string

const (
	ComplaintOpen       ComplaintStatus = "open"
	ComplaintInProgress ComplaintStatus = "in_progress"
	ComplaintResolved   ComplaintStatus = "resolved"
)

func (s ComplaintStatus) IsValid() bool {
	switch s {
	case ComplaintOpen, ComplaintInProgress, ComplaintResolved:
		return true
	}
	return false
}

// Complaint is a grievance filed by a client or a pharmacy and handled by an
// administrator
type Complaint struct {
	ID          uuid.UUID       `json:"id" gorm:"type:uuid;primary_key"`
	AuthorKind  ActorKind       `json:"author_kind" gorm:"type:varchar(20);not null;index"`
	AuthorID    uuid.UUID       `json:"author_id" gorm:"type:uuid;not null;index"`
	Subject     string          `json:"subject" gorm:"type:varchar(255);not null"`
	Description string          `json:"description" gorm:"type:text;not null"`
	Status      ComplaintStatus `json:"status" gorm:"type:varchar(20);not null;index"`
	Response    *string         `json:"response,omitempty" gorm:"type:text"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at" gorm:"index"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Complaint) TableName() string {
	return "complaints"
}

func (c *Complaint) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
