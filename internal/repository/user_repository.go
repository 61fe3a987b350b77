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

// GormUserRepository handles database operations for client and admin accounts
type GormUserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) Create(ctx context.Context, u *models.User) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *GormUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *GormUserRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "phone = ?", phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// ExistsByContact checks phone, and email when one is given
func (r *GormUserRepository) ExistsByContact(ctx context.Context, phone, email string) (bool, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.User{})
	if email != "" {
		query = query.Where("phone = ? OR email = ?", phone, email)
	} else {
		query = query.Where("phone = ?", phone)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check user contact: %w", err)
	}
	return count > 0, nil
}

// RecordLogin replaces the push token
func (r *GormUserRepository) RecordLogin(ctx context.Context, id uuid.UUID, pushToken *string) error {
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("push_token", pushToken).Error
	if err != nil {
		return fmt.Errorf("failed to record user login: %w", err)
	}
	return nil
}

func (r *GormUserRepository) Update(ctx context.Context, u *models.User) error {
	result := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", u.ID).
		Updates(map[string]interface{}{
			"first_name":    u.FirstName,
			"last_name":     u.LastName,
			"phone":         u.Phone,
			"email":         u.Email,
			"password_hash": u.PasswordHash,
			"region_id":     u.RegionID,
			"city_id":       u.CityID,
			"active":        u.Active,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormUserRepository) SetResetCode(ctx context.Context, id uuid.UUID, code string, expires time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"reset_code":         code,
			"reset_code_expires": expires,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to store user reset code: %w", err)
	}
	return nil
}

func (r *GormUserRepository) ResetPassword(ctx context.Context, id uuid.UUID, code, hash string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND reset_code = ? AND reset_code_expires > ?", id, code, now).
		Updates(map[string]interface{}{
			"password_hash":      hash,
			"reset_code":         nil,
			"reset_code_expires": nil,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to reset user password: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}
