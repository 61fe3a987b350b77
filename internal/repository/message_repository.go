package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

// GormMessageRepository handles database operations for request threads
type GormMessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, m *models.Message) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *GormMessageRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("sent_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
