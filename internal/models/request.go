package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Zone is the geographic scope a request is broadcast to
type Zone string

const (
	ZoneCity     Zone = "city"
	ZoneRegion   Zone = "region"
	ZoneNational Zone = "national"
)

func (z Zone) IsValid() bool {
	switch z {
	case ZoneCity, ZoneRegion, ZoneNational:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of a request
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusExpired    RequestStatus = "expired"
	StatusRefused    RequestStatus = "refused"
)

func (s RequestStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusExpired, StatusRefused:
		return true
	}
	return false
}

// IsTerminal reports whether no regular transition leaves this status
func (s RequestStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusRefused
}

// LineItem is a single medication line in a request
type LineItem struct {
	Name                 string `json:"name"`
	Quantity             int    `json:"quantity"`
	PrescriptionRequired bool   `json:"prescription_required"`
}

// Request is a client's medication request
type Request struct {
	ID              uuid.UUID                     `json:"id" gorm:"type:uuid;primary_key"`
	ClientID        uuid.UUID                     `json:"client_id" gorm:"type:uuid;not null;index"`
	Items           datatypes.JSONSlice[LineItem] `json:"items" gorm:"type:jsonb"`
	PrescriptionURL *string                       `json:"prescription_url,omitempty" gorm:"type:text"`
	Zone            Zone                          `json:"zone" gorm:"type:varchar(20);not null"`
	RegionID        *uuid.UUID                    `json:"region_id,omitempty" gorm:"type:uuid;index"`
	CityID          *uuid.UUID                    `json:"city_id,omitempty" gorm:"type:uuid;index"`
	PharmacyIDs     pq.StringArray                `json:"pharmacy_ids" gorm:"type:text[];not null"`
	Status          RequestStatus                 `json:"status" gorm:"type:varchar(20);not null;index"`
	AcceptedAt      *time.Time                    `json:"accepted_at,omitempty"`
	ExpiresAt       *time.Time                    `json:"expires_at,omitempty" gorm:"index"`
	PickedUpAt      *time.Time                    `json:"picked_up_at,omitempty"`
	CreatedAt       time.Time                     `json:"created_at" gorm:"index"`
	UpdatedAt       time.Time                     `json:"updated_at"`

	History []StatusEntry `json:"history,omitempty" gorm:"foreignKey:RequestID"`
}

func (Request) TableName() string {
	return "requests"
}

func (r *Request) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.PharmacyIDs == nil {
		r.PharmacyIDs = pq.StringArray{}
	}
	return nil
}

// HasPayload reports whether the request carries line items or a prescription
func (r *Request) HasPayload() bool {
	return len(r.Items) > 0 || (r.PrescriptionURL != nil && *r.PrescriptionURL != "")
}

// HasPharmacy reports whether the pharmacy is currently associated with the request
func (r *Request) HasPharmacy(id uuid.UUID) bool {
	s := id.String()
	for _, p := range r.PharmacyIDs {
		if p == s {
			return true
		}
	}
	return false
}

// IsSoleAssignee reports whether the pharmacy is the only associated pharmacy
func (r *Request) IsSoleAssignee(id uuid.UUID) bool {
	return len(r.PharmacyIDs) == 1 && r.PharmacyIDs[0] == id.String()
}

// PharmacyUUIDs parses the associated pharmacy ids, skipping malformed entries
func (r *Request) PharmacyUUIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.PharmacyIDs))
	for _, p := range r.PharmacyIDs {
		if id, err := uuid.Parse(p); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsOverdue reports whether an in-progress hold has passed its deadline
func (r *Request) IsOverdue(now time.Time) bool {
	return r.Status == StatusInProgress && r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// StatusEvent names the transition recorded in the audit trail
type StatusEvent string

const (
	EventCreated    StatusEvent = "created"
	EventAccepted   StatusEvent = "accepted"
	EventRefused    StatusEvent = "refused"
	EventCompleted  StatusEvent = "completed"
	EventExpired    StatusEvent = "expired"
	EventReassigned StatusEvent = "reassigned"
	EventStatusSet  StatusEvent = "status_set"
)

// StatusEntry is one row of a request's audit trail
type StatusEntry struct {
	ID        uuid.UUID     `json:"id" gorm:"type:uuid;primary_key"`
	RequestID uuid.UUID     `json:"request_id" gorm:"type:uuid;not null;index"`
	Event     StatusEvent   `json:"event" gorm:"type:varchar(20);not null"`
	Status    RequestStatus `json:"status" gorm:"type:varchar(20);not null"`
	ActorKind ActorKind     `json:"actor_kind,omitempty" gorm:"type:varchar(20)"`
	ActorID   *uuid.UUID    `json:"actor_id,omitempty" gorm:"type:uuid"`
	Timestamp time.Time     `json:"timestamp" gorm:"not null;index"`
}

func (StatusEntry) TableName() string {
	return "request_status_entries"
}

func (e *StatusEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// NewStatusEntry builds an audit entry for a transition performed by actor.
// A nil actor records a system transition such as the expiry sweep.
func NewStatusEntry(event StatusEvent, status RequestStatus, actor *Actor, at time.Time) StatusEntry {
	entry := StatusEntry{Event: event, Status: status, Timestamp: at}
	if actor != nil {
		id := actor.ID
		entry.ActorKind = actor.Kind
		entry.ActorID = &id
	}
	return entry
}
