package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
)

const resetCodeTTL = 15 * time.Minute

// resetStore is the reset-code part shared by the user and pharmacy repositories
type resetStore interface {
	SetResetCode(ctx context.Context, id uuid.UUID, code string, expires time.Time) error
	ResetPassword(ctx context.Context, id uuid.UUID, code, hash string, now time.Time) (bool, error)
}

type resetAccount struct {
	id        uuid.UUID
	pushToken *string
	code      *string
	expires   *time.Time
	store     resetStore
}

// RequestPasswordReset stores a fresh six-digit code valid for 15 minutes and
// sends it to the account's device. Unknown phones succeed silently.
func (s *AccountService) RequestPasswordReset(ctx context.Context, kind models.ActorKind, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return NewValidationError("phone", "is required")
	}

	acct, err := s.findResetAccount(ctx, kind, phone)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.WithField("kind", kind).Debug("Password reset requested for unknown account")
		return nil
	}
	if err != nil {
		return err
	}

	code, err := generateResetCode()
	if err != nil {
		return err
	}
	if err := acct.store.SetResetCode(ctx, acct.id, code, s.deps.now().Add(resetCodeTTL)); err != nil {
		return err
	}

	fields := logrus.Fields{"account_id": acct.id, "kind": kind}
	if acct.pushToken == nil {
		s.logger.WithFields(fields).Warn("No device registered to receive the reset code")
	} else {
		s.logger.WithFields(fields).Info("Password reset code issued")
	}
	s.deps.push(acct.pushToken, "Password reset", fmt.Sprintf("Your reset code is %s", code), map[string]string{
		"type": "password_reset",
	})
	return nil
}

// ResetPassword sets a new password when the code matches and has not expired
func (s *AccountService) ResetPassword(ctx context.Context, kind models.ActorKind, phone, code, newPassword string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return NewValidationError("code", "is required")
	}
	if len(newPassword) < minPasswordLength {
		return NewValidationError("new_password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}

	acct, err := s.findResetAccount(ctx, kind, strings.TrimSpace(phone))
	if errors.Is(err, repository.ErrNotFound) {
		return NewValidationError("code", "is invalid")
	}
	if err != nil {
		return err
	}

	now := s.deps.now()
	if acct.code == nil || subtle.ConstantTimeCompare([]byte(*acct.code), []byte(code)) != 1 {
		return NewValidationError("code", "is invalid")
	}
	if acct.expires == nil || !acct.expires.After(now) {
		return NewValidationError("code", "has expired")
	}

	hash, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	reset, err := acct.store.ResetPassword(ctx, acct.id, code, hash, now)
	if err != nil {
		return err
	}
	if !reset {
		// consumed or replaced since it was read
		return NewValidationError("code", "is invalid")
	}

	s.logger.WithFields(logrus.Fields{"account_id": acct.id, "kind": kind}).Info("Password reset")
	return nil
}

func (s *AccountService) findResetAccount(ctx context.Context, kind models.ActorKind, phone string) (*resetAccount, error) {
	switch kind {
	case models.ActorClient, models.ActorAdmin:
		u, err := s.users.GetByPhone(ctx, phone)
		if err != nil {
			return nil, err
		}
		return &resetAccount{id: u.ID, pushToken: u.PushToken, code: u.ResetCode, expires: u.ResetCodeExpires, store: s.users}, nil
	case models.ActorPharmacy:
		p, err := s.pharmacies.GetByPhone(ctx, phone)
		if err != nil {
			return nil, err
		}
		return &resetAccount{id: p.ID, pushToken: p.PushToken, code: p.ResetCode, expires: p.ResetCodeExpires, store: s.pharmacies}, nil
	}
	return nil, NewValidationError("kind", "must be client or pharmacy")
}

func generateResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate reset code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
