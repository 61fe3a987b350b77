package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

// GormComplaintRepository handles database operations for complaints
type GormComplaintRepository struct {
	db *gorm.DB
}

// NewComplaintRepository creates a new complaint repository
func NewComplaintRepository(db *gorm.DB) *GormComplaintRepository {
	return &GormComplaintRepository{db: db}
}

func (r *GormComplaintRepository) Create(ctx context.Context, c *models.Complaint) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("failed to create complaint: %w", err)
	}
	return nil
}

func (r *GormComplaintRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Complaint, error) {
	var c models.Complaint
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get complaint: %w", err)
	}
	return &c, nil
}

func (r *GormComplaintRepository) List(ctx context.Context, filter ComplaintFilter) ([]models.Complaint, error) {
	query := r.db.WithContext(ctx).Model(&models.Complaint{})
	if filter.AuthorKind != "" {
		query = query.Where("author_kind = ?", filter.AuthorKind)
	}
	if filter.AuthorID != nil {
		query = query.Where("author_id = ?", *filter.AuthorID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var complaints []models.Complaint
	if err := query.Order("created_at DESC, id ASC").Find(&complaints).Error; err != nil {
		return nil, fmt.Errorf("failed to list complaints: %w", err)
	}
	return complaints, nil
}

func (r *GormComplaintRepository) Update(ctx context.Context, c *models.Complaint) error {
	result := r.db.WithContext(ctx).Model(&models.Complaint{}).
		Where("id = ?", c.ID).
		Updates(map[string]interface{}{
			"status":      c.Status,
			"response":    c.Response,
			"resolved_at": c.ResolvedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update complaint: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
