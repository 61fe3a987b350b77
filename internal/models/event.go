package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the suffix of the subject an event is published on
type EventType string

const (
	EventRequestCreated      EventType = "request.created"
	EventRequestAccepted     EventType = "request.accepted"
	EventRequestRefused      EventType = "request.refused"
	EventRequestCompleted    EventType = "request.completed"
	EventRequestExpired      EventType = "request.expired"
	EventRequestReassigned   EventType = "request.reassigned"
	EventRequestStatusSet    EventType = "request.status_set"
	EventRequestDeleted      EventType = "request.deleted"
	EventMessagePosted       EventType = "message.posted"
	EventSubscriptionExpired EventType = "subscription.expired"
)

// Event is the envelope published after a successful state change
type Event struct {
	ID           string        `json:"id"`
	Type         EventType     `json:"type"`
	RequestID    *uuid.UUID    `json:"request_id,omitempty"`
	PharmacyID   *uuid.UUID    `json:"pharmacy_id,omitempty"`
	PharmacyName string        `json:"pharmacy_name,omitempty"`
	Status       RequestStatus `json:"status,omitempty"`
	Actor        *Actor        `json:"actor,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// NewRequestEvent builds an event describing a request transition
func NewRequestEvent(t EventType, req *Request, actor *Actor, at time.Time) *Event {
	id := req.ID
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		RequestID: &id,
		Status:    req.Status,
		Actor:     actor,
		Timestamp: at,
	}
}
