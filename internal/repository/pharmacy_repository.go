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

// GormPharmacyRepository handles database operations for pharmacies
type GormPharmacyRepository struct {
	db *gorm.DB
}

// NewPharmacyRepository creates a new pharmacy repository
func NewPharmacyRepository(db *gorm.DB) *GormPharmacyRepository {
	return &GormPharmacyRepository{db: db}
}

func (r *GormPharmacyRepository) Create(ctx context.Context, p *models.Pharmacy) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create pharmacy: %w", err)
	}
	return nil
}

func (r *GormPharmacyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Pharmacy, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormPharmacyRepository) GetByPhone(ctx context.Context, phone string) (*models.Pharmacy, error) {
	return r.first(ctx, "phone = ?", phone)
}

func (r *GormPharmacyRepository) first(ctx context.Context, cond string, arg interface{}) (*models.Pharmacy, error) {
	var p models.Pharmacy
	if err := r.db.WithContext(ctx).Where(cond, arg).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pharmacy: %w", err)
	}
	return &p, nil
}

func (r *GormPharmacyRepository) ExistsByContact(ctx context.Context, phone, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Pharmacy{}).
		Where("phone = ? OR email = ?", phone, email).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check pharmacy contact: %w", err)
	}
	return count > 0, nil
}

func (r *GormPharmacyRepository) List(ctx context.Context, filter PharmacyFilter) ([]models.Pharmacy, error) {
	var pharmacies []models.Pharmacy
	query := r.db.WithContext(ctx).Model(&models.Pharmacy{})
	if filter.RegionID != nil {
		query = query.Where("region_id = ?", *filter.RegionID)
	}
	if filter.CityID != nil {
		query = query.Where("city_id = ?", *filter.CityID)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if err := query.Order("name ASC").Find(&pharmacies).Error; err != nil {
		return nil, fmt.Errorf("failed to list pharmacies: %w", err)
	}
	return pharmacies, nil
}

func (r *GormPharmacyRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Pharmacy, error) {
	var pharmacies []models.Pharmacy
	if len(ids) == 0 {
		return pharmacies, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&pharmacies).Error; err != nil {
		return nil, fmt.Errorf("failed to find pharmacies: %w", err)
	}
	return pharmacies, nil
}

func (r *GormPharmacyRepository) FindEligible(ctx context.Context, filter EligibilityFilter) ([]models.Pharmacy, error) {
	var pharmacies []models.Pharmacy
	query := r.db.WithContext(ctx).
		Where("active = ? AND subscription_active = ? AND subscription_period_end > ?", true, true, filter.Now)
	if filter.RegionID != nil {
		query = query.Where("region_id = ?", *filter.RegionID)
	}
	if filter.CityID != nil {
		query = query.Where("city_id = ?", *filter.CityID)
	}
	if err := query.Find(&pharmacies).Error; err != nil {
		return nil, fmt.Errorf("failed to find eligible pharmacies: %w", err)
	}
	return pharmacies, nil
}

func (r *GormPharmacyRepository) ListExpiredSubscriptions(ctx context.Context, now time.Time) ([]models.Pharmacy, error) {
	var pharmacies []models.Pharmacy
	err := r.db.WithContext(ctx).
		Where("subscription_active = ? AND subscription_period_end < ?", true, now).
		Find(&pharmacies).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired subscriptions: %w", err)
	}
	return pharmacies, nil
}

func (r *GormPharmacyRepository) DeactivateSubscription(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Pharmacy{}).
		Where("id = ? AND subscription_active = ? AND subscription_period_end < ?", id, true, now).
		Update("subscription_active", false)
	if result.Error != nil {
		return false, fmt.Errorf("failed to deactivate subscription: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *GormPharmacyRepository) UpdateSubscription(ctx context.Context, id uuid.UUID, sub models.Subscription) error {
	result := r.db.WithContext(ctx).Model(&models.Pharmacy{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"subscription_plan":         string(sub.Plan),
			"subscription_period_start": sub.PeriodStart,
			"subscription_period_end":   sub.PeriodEnd,
			"subscription_active":       sub.Active,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormPharmacyRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Pharmacy{}).
		Where("id = ?", id).
		Update("active", active)
	if result.Error != nil {
		return false, fmt.Errorf("failed to update pharmacy status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RecordLogin replaces the push token and stamps the last login
func (r *GormPharmacyRepository) RecordLogin(ctx context.Context, id uuid.UUID, pushToken *string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Pharmacy{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"push_token":    pushToken,
			"last_login_at": at,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record pharmacy login: %w", err)
	}
	return nil
}

func (r *GormPharmacyRepository) SetResetCode(ctx context.Context, id uuid.UUID, code string, expires time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Pharmacy{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"reset_code":         code,
			"reset_code_expires": expires,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to store pharmacy reset code: %w", err)
	}
	return nil
}

func (r *GormPharmacyRepository) ResetPassword(ctx context.Context, id uuid.UUID, code, hash string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Pharmacy{}).
		Where("id = ? AND reset_code = ? AND reset_code_expires > ?", id, code, now).
		Updates(map[string]interface{}{
			"password_hash":      hash,
			"reset_code":         nil,
			"reset_code_expires": nil,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to reset pharmacy password: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
