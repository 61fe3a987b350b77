package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

// GormRequestRepository handles database operations for requests
type GormRequestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *gorm.DB) *GormRequestRepository {
	return &GormRequestRepository{db: db}
}

// Create inserts the request and its history in one transaction
func (r *GormRequestRepository) Create(ctx context.Context, req *models.Request) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// GetByID retrieves a request with its history ordered oldest first
func (r *GormRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	var req models.Request
	err := r.db.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("timestamp ASC")
		}).
		First(&req, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return &req, nil
}

// List retrieves requests with filtering and pagination
func (r *GormRequestRepository) List(ctx context.Context, filter RequestFilter) ([]models.Request, int64, error) {
	var requests []models.Request
	var total int64

	query := r.applyFilters(r.db.WithContext(ctx).Model(&models.Request{}), filter)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	limit := 50
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	query = query.Order("created_at DESC").Limit(limit)
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&requests).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}
	return requests, total, nil
}

func (r *GormRequestRepository) applyFilters(query *gorm.DB, filter RequestFilter) *gorm.DB {
	if filter.ClientID != nil {
		query = query.Where("client_id = ?", *filter.ClientID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Zone != "" {
		query = query.Where("zone = ?", filter.Zone)
	}
	if filter.RegionID != nil {
		query = query.Where("region_id = ?", *filter.RegionID)
	}
	if filter.CityID != nil {
		query = query.Where("city_id = ?", *filter.CityID)
	}
	if filter.FromDate != nil {
		query = query.Where("created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("created_at <= ?", *filter.ToDate)
	}
	return query
}

// ListForPharmacy retrieves pending and in-progress requests that list the pharmacy
func (r *GormRequestRepository) ListForPharmacy(ctx context.Context, pharmacyID uuid.UUID) ([]models.Request, error) {
	var requests []models.Request
	err := r.db.WithContext(ctx).
		Where("?::text = ANY(pharmacy_ids)", pharmacyID.String()).
		Where("status IN ?", []string{string(models.StatusPending), string(models.StatusInProgress)}).
		Order("created_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pharmacy requests: %w", err)
	}
	return requests, nil
}

// Apply runs the conditional update and, when it matched, inserts the audit
// entry in the same transaction
func (r *GormRequestRepository) Apply(ctx context.Context, t *Transition) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := t.Guard.Scope(tx.Model(&models.Request{}).Where("id = ?", t.RequestID))
		result := query.Updates(t.Changes.Columns())
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		entry := t.Entry
		entry.RequestID = t.RequestID
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to apply %s transition: %w", t.Entry.Event, err)
	}
	return applied, nil
}

// ListOverdue returns ids of in-progress requests past their deadline
func (r *GormRequestRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	query := r.db.WithContext(ctx).Model(&models.Request{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.StatusInProgress, now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list overdue requests: %w", err)
	}
	return ids, nil
}

// Delete hard-deletes the request along with its history and thread
func (r *GormRequestRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("request_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("request_id = ?", id).Delete(&models.StatusEntry{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.Request{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete request: %w", err)
	}
	return deleted, nil
}
