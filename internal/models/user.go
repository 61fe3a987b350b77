package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserRole is the role of a user account
type UserRole string

const (
	RoleClient UserRole = "client"
	RoleAdmin  UserRole = "admin"
)

// User is a client or an administrator
type User struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	FirstName        string     `json:"first_name" gorm:"type:varchar(100)"`
	LastName         string     `json:"last_name" gorm:"type:varchar(100)"`
	Phone            string     `json:"phone" gorm:"type:varchar(32);not null;uniqueIndex"`
	Email            *string    `json:"email,omitempty" gorm:"type:varchar(255);uniqueIndex"`
	PasswordHash     string     `json:"-" gorm:"type:varchar(255);not null"`
	RegionID         *uuid.UUID `json:"region_id,omitempty" gorm:"type:uuid"`
	CityID           *uuid.UUID `json:"city_id,omitempty" gorm:"type:uuid"`
	Role             UserRole   `json:"role" gorm:"type:varchar(20);not null"`
	PushToken        *string    `json:"-" gorm:"type:text"`
	Active           bool       `json:"active" gorm:"not null"`
	ResetCode        *string    `json:"-" gorm:"type:varchar(16)"`
	ResetCodeExpires *time.Time `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Actor returns the identity this user acts as
func (u *User) Actor() Actor {
	if u.Role == RoleAdmin {
		return AdminActor(u.ID)
	}
	return ClientActor(u.ID)
}
