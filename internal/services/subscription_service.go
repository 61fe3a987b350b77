package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
)

// DeactivatedPharmacy identifies a pharmacy whose subscription the sweep ended
type DeactivatedPharmacy struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// SweepResult summarizes one subscription sweep
type SweepResult struct {
	Checked     int                   `json:"checked"`
	Deactivated []DeactivatedPharmacy `json:"deactivated"`
	Failed      int                   `json:"failed"`
}

// SubscriptionService manages pharmacy billing state
type SubscriptionService struct {
	pharmacies repository.PharmacyRepository
	deps       Collaborators
	logger     *logrus.Logger
}

func NewSubscriptionService(pharmacies repository.PharmacyRepository, deps Collaborators, logger *logrus.Logger) *SubscriptionService {
	return &SubscriptionService{pharmacies: pharmacies, deps: deps, logger: logger}
}

// RunSweep deactivates every subscription whose period has ended. Each
// deactivation is a conditional write, so running it again changes nothing.
func (s *SubscriptionService) RunSweep(ctx context.Context) (*SweepResult, error) {
	now := s.deps.now()
	expired, err := s.pharmacies.ListExpiredSubscriptions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired subscriptions: %w", err)
	}

	result := &SweepResult{Checked: len(expired), Deactivated: []DeactivatedPharmacy{}}
	for i := range expired {
		p := &expired[i]
		changed, err := s.pharmacies.DeactivateSubscription(ctx, p.ID, now)
		if err != nil {
			result.Failed++
			s.logger.WithError(err).WithField("pharmacy_id", p.ID).Warn("Failed to deactivate subscription")
			continue
		}
		if !changed {
			continue
		}

		result.Deactivated = append(result.Deactivated, DeactivatedPharmacy{ID: p.ID, Name: p.Name})
		s.logger.WithFields(logrus.Fields{
			"pharmacy_id": p.ID,
			"name":        p.Name,
			"period_end":  p.Subscription.PeriodEnd,
		}).Info("Subscription expired")

		id := p.ID
		s.deps.emit(s.logger, &models.Event{
			ID:           uuid.NewString(),
			Type:         models.EventSubscriptionExpired,
			PharmacyID:   &id,
			PharmacyName: p.Name,
			Timestamp:    now,
		})
	}

	return result, nil
}

// Extend adds a plan's months to a pharmacy's subscription. An inactive
// subscription restarts from now; an active one is extended from its end.
func (s *SubscriptionService) Extend(ctx context.Context, actor models.Actor, pharmacyID uuid.UUID, plan models.SubscriptionPlan) (*models.Pharmacy, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("extend subscription", "administrator role required")
	}
	if !plan.IsValid() {
		return nil, NewValidationError("plan", "must be one of 1_month, 3_months, 6_months, 12_months")
	}

	p, err := s.load(ctx, pharmacyID)
	if err != nil {
		return nil, err
	}

	now := s.deps.now()
	sub := p.Subscription
	if sub.Active {
		sub.PeriodEnd = sub.PeriodEnd.AddDate(0, plan.Months(), 0)
	} else {
		sub.PeriodStart = now
		sub.PeriodEnd = now.AddDate(0, plan.Months(), 0)
	}
	sub.Plan = plan
	sub.Active = true

	if err := s.pharmacies.UpdateSubscription(ctx, pharmacyID, sub); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewNotFoundError("pharmacy", pharmacyID.String())
		}
		return nil, err
	}
	p.Subscription = sub

	s.logger.WithFields(logrus.Fields{
		"pharmacy_id": pharmacyID,
		"plan":        plan,
		"period_end":  sub.PeriodEnd,
	}).Info("Subscription extended")
	return p, nil
}

// SetPharmacyActive toggles the operational flag, independent of billing
func (s *SubscriptionService) SetPharmacyActive(ctx context.Context, actor models.Actor, pharmacyID uuid.UUID, active bool) (*models.Pharmacy, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("change pharmacy status", "administrator role required")
	}

	changed, err := s.pharmacies.SetActive(ctx, pharmacyID, active)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, NewNotFoundError("pharmacy", pharmacyID.String())
	}

	s.logger.WithFields(logrus.Fields{
		"pharmacy_id": pharmacyID,
		"active":      active,
	}).Info("Pharmacy status changed")
	return s.load(ctx, pharmacyID)
}

func (s *SubscriptionService) load(ctx context.Context, id uuid.UUID) (*models.Pharmacy, error) {
	p, err := s.pharmacies.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewNotFoundError("pharmacy", id.String())
		}
		return nil, fmt.Errorf("failed to load pharmacy: %w", err)
	}
	return p, nil
}
