package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is an immutable entry in a request thread
type Message struct {
	ID            uuid.UUID       `json:"id" gorm:"type:uuid;primary_key"`
	RequestID     uuid.UUID       `json:"request_id" gorm:"type:uuid;not null;index:idx_messages_thread,priority:1"`
	SenderKind    ParticipantKind `json:"sender_kind" gorm:"type:varchar(20);not null"`
	SenderID      uuid.UUID       `json:"sender_id" gorm:"type:uuid;not null"`
	RecipientKind ParticipantKind `json:"recipient_kind" gorm:"type:varchar(20);not null"`
	RecipientID   uuid.UUID       `json:"recipient_id" gorm:"type:uuid;not null"`
	Body          string          `json:"body" gorm:"type:text;not null"`
	SentAt        time.Time       `json:"sent_at" gorm:"not null;index:idx_messages_thread,priority:2"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

func (m *Message) Sender() Participant {
	return Participant{Kind: m.SenderKind, ID: m.SenderID}
}

func (m *Message) Recipient() Participant {
	return Participant{Kind: m.RecipientKind, ID: m.RecipientID}
}
