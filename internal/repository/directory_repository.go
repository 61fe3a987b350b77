package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

// GormDirectoryRepository handles region and city reference data
type GormDirectoryRepository struct {
	db *gorm.DB
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *gorm.DB) *GormDirectoryRepository {
	return &GormDirectoryRepository{db: db}
}

// FindRegionByName matches names case-insensitively
func (r *GormDirectoryRepository) FindRegionByName(ctx context.Context, name string) (*models.Region, error) {
	var region models.Region
	if err := r.db.WithContext(ctx).Where("LOWER(name) = LOWER(?)", name).First(&region).Error; err != nil {
		return nil, notFoundOr(err, "region")
	}
	return &region, nil
}

func (r *GormDirectoryRepository) FindCityByName(ctx context.Context, name string, regionID uuid.UUID) (*models.City, error) {
	var city models.City
	err := r.db.WithContext(ctx).
		Where("LOWER(name) = LOWER(?) AND region_id = ?", name, regionID).
		First(&city).Error
	if err != nil {
		return nil, notFoundOr(err, "city")
	}
	return &city, nil
}

func (r *GormDirectoryRepository) GetRegion(ctx context.Context, id uuid.UUID) (*models.Region, error) {
	var region models.Region
	if err := r.db.WithContext(ctx).First(&region, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "region")
	}
	return &region, nil
}

func (r *GormDirectoryRepository) GetCity(ctx context.Context, id uuid.UUID) (*models.City, error) {
	var city models.City
	if err := r.db.WithContext(ctx).First(&city, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "city")
	}
	return &city, nil
}

func (r *GormDirectoryRepository) ListRegions(ctx context.Context) ([]models.Region, error) {
	var regions []models.Region
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&regions).Error; err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	return regions, nil
}

func (r *GormDirectoryRepository) ListCities(ctx context.Context, regionID *uuid.UUID) ([]models.City, error) {
	var cities []models.City
	query := r.db.WithContext(ctx).Order("name ASC")
	if regionID != nil {
		query = query.Where("region_id = ?", *regionID)
	}
	if err := query.Find(&cities).Error; err != nil {
		return nil, fmt.Errorf("failed to list cities: %w", err)
	}
	return cities, nil
}

func (r *GormDirectoryRepository) CountRegions(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Region{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count regions: %w", err)
	}
	return count, nil
}

func (r *GormDirectoryRepository) CreateRegion(ctx context.Context, region *models.Region) error {
	if err := r.db.WithContext(ctx).Create(region).Error; err != nil {
		return fmt.Errorf("failed to create region: %w", err)
	}
	return nil
}

func (r *GormDirectoryRepository) CreateCity(ctx context.Context, city *models.City) error {
	if err := r.db.WithContext(ctx).Create(city).Error; err != nil {
		return fmt.Errorf("failed to create city: %w", err)
	}
	return nil
}

func notFoundOr(err error, resource string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to get %s: %w", resource, err)
}
