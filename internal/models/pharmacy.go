package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionPlan is the billing period a pharmacy pays for
type SubscriptionPlan string

const (
	PlanMonthly    SubscriptionPlan = "1_month"
	PlanQuarterly  SubscriptionPlan = "3_months"
	PlanSemiannual SubscriptionPlan = "6_months"
	PlanAnnual     SubscriptionPlan = "12_months"
)

// Months returns the length of the plan, or 0 for an unknown plan
func (p SubscriptionPlan) Months() int {
	switch p {
	case PlanMonthly:
		return 1
	case PlanQuarterly:
		return 3
	case PlanSemiannual:
		return 6
	case PlanAnnual:
		return 12
	}
	return 0
}

func (p SubscriptionPlan) IsValid() bool {
	return p.Months() > 0
}

// Subscription is a pharmacy's billing state
type Subscription struct {
	Plan        SubscriptionPlan `json:"plan" gorm:"type:varchar(20);not null"`
	PeriodStart time.Time        `json:"period_start" gorm:"not null"`
	PeriodEnd   time.Time        `json:"period_end" gorm:"not null;index"`
	Active      bool             `json:"active" gorm:"not null;index"`
}

// IsValidAt reports whether the subscription covers the given instant
func (s Subscription) IsValidAt(now time.Time) bool {
	return s.Active && s.PeriodEnd.After(now)
}

// Pharmacy is a service provider that can accept requests
type Pharmacy struct {
	ID           uuid.UUID    `json:"id" gorm:"type:uuid;primary_key"`
	Name         string       `json:"name" gorm:"type:varchar(255);not null"`
	Address      string       `json:"address" gorm:"type:text"`
	Phone        string       `json:"phone" gorm:"type:varchar(32);not null;uniqueIndex"`
	Email        string       `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string       `json:"-" gorm:"type:varchar(255);not null"`
	RegionID     uuid.UUID    `json:"region_id" gorm:"type:uuid;not null;index"`
	CityID       uuid.UUID    `json:"city_id" gorm:"type:uuid;not null;index"`
	MapsURL      string       `json:"maps_url,omitempty" gorm:"type:text"`
	Subscription Subscription `json:"subscription" gorm:"embedded;embeddedPrefix:subscription_"`
	Active       bool         `json:"active" gorm:"not null;index"`
	PushToken    *string      `json:"-" gorm:"type:text"`
	LastLoginAt  *time.Time   `json:"last_login_at,omitempty"`

	ResetCode        *string    `json:"-" gorm:"type:varchar(16)"`
	ResetCodeExpires *time.Time `json:"-"`

	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func (Pharmacy) TableName() string {
	return "pharmacies"
}

func (p *Pharmacy) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsEligible reports whether the pharmacy may receive and accept requests
func (p *Pharmacy) IsEligible(now time.Time) bool {
	return p.Active && p.Subscription.IsValidAt(now)
}
