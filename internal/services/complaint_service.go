package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
)

// ComplaintService lets clients and pharmacies file complaints and
// administrators answer and close them
type ComplaintService struct {
	complaints repository.ComplaintRepository
	users      repository.UserRepository
	pharmacies repository.PharmacyRepository
	deps       Collaborators
	logger     *logrus.Logger
}

func NewComplaintService(
	complaints repository.ComplaintRepository,
	users repository.UserRepository,
	pharmacies repository.PharmacyRepository,
	deps Collaborators,
	logger *logrus.Logger,
) *ComplaintService {
	return &ComplaintService{
		complaints: complaints,
		users:      users,
		pharmacies: pharmacies,
		deps:       deps,
		logger:     logger,
	}
}

// File records a new open complaint authored by the actor
func (s *ComplaintService) File(ctx context.Context, actor models.Actor, subject, description string) (*models.Complaint, error) {
	if actor.Kind != models.ActorClient && actor.Kind != models.ActorPharmacy {
		return nil, NewAuthorizationError("file complaint", "only clients and pharmacies can file complaints")
	}
	subject = strings.TrimSpace(subject)
	description = strings.TrimSpace(description)
	if subject == "" {
		return nil, NewValidationError("subject", "is required")
	}
	if description == "" {
		return nil, NewValidationError("description", "is required")
	}
	if _, err := s.authorToken(ctx, actor.Kind, actor.ID); err != nil {
		return nil, err
	}

	c := &models.Complaint{
		ID:          uuid.New(),
		AuthorKind:  actor.Kind,
		AuthorID:    actor.ID,
		Subject:     subject,
		Description: description,
		Status:      models.ComplaintOpen,
		CreatedAt:   s.deps.now(),
	}
	if err := s.complaints.Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"complaint_id": c.ID,
		"author_kind":  actor.Kind,
		"author_id":    actor.ID,
	}).Info("Complaint filed")
	return c, nil
}

// List returns every matching complaint to administrators and only their own
// to clients and pharmacies
func (s *ComplaintService) List(ctx context.Context, actor models.Actor, filter repository.ComplaintFilter) ([]models.Complaint, error) {
	if !actor.IsAdmin() {
		filter.AuthorKind = actor.Kind
		filter.AuthorID = &actor.ID
	}
	return s.complaints.List(ctx, filter)
}

// Get returns a complaint to its author or an administrator
func (s *ComplaintService) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Complaint, error) {
	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && (c.AuthorKind != actor.Kind || c.AuthorID != actor.ID) {
		return nil, NewAuthorizationError("view complaint", "not the author of this complaint")
	}
	return c, nil
}

// SetStatus moves a complaint between open, in_progress and resolved.
// Resolving stamps the resolution time; reopening clears it.
func (s *ComplaintService) SetStatus(ctx context.Context, actor models.Actor, id uuid.UUID, status models.ComplaintStatus) (*models.Complaint, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("update complaint", "administrator role required")
	}
	if !status.IsValid() {
		return nil, NewValidationError("status", "must be one of open, in_progress, resolved")
	}

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Status = status
	if status == models.ComplaintResolved {
		if c.ResolvedAt == nil {
			now := s.deps.now()
			c.ResolvedAt = &now
		}
	} else {
		c.ResolvedAt = nil
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"complaint_id": id,
		"admin_id":     actor.ID,
		"status":       status,
	}).Info("Complaint status updated")
	if status == models.ComplaintResolved {
		s.notifyAuthor(ctx, c, "Complaint resolved", fmt.Sprintf("Your complaint %q has been resolved", c.Subject))
	}
	return c, nil
}

// Respond attaches the administrator's answer. An unresolved complaint moves
// to in_progress.
func (s *ComplaintService) Respond(ctx context.Context, actor models.Actor, id uuid.UUID, message string) (*models.Complaint, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("respond to complaint", "administrator role required")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, NewValidationError("message", "is required")
	}

	c, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Response = &message
	if c.Status != models.ComplaintResolved {
		c.Status = models.ComplaintInProgress
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"complaint_id": id,
		"admin_id":     actor.ID,
	}).Info("Complaint answered")
	s.notifyAuthor(ctx, c, "Complaint answered", message)
	return c, nil
}

func (s *ComplaintService) load(ctx context.Context, id uuid.UUID) (*models.Complaint, error) {
	c, err := s.complaints.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewNotFoundError("complaint", id.String())
		}
		return nil, fmt.Errorf("failed to load complaint: %w", err)
	}
	return c, nil
}

func (s *ComplaintService) save(ctx context.Context, c *models.Complaint) error {
	if err := s.complaints.Update(ctx, c); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return NewNotFoundError("complaint", c.ID.String())
		}
		return err
	}
	return nil
}

// authorToken loads the author's push token, failing when the author is gone
func (s *ComplaintService) authorToken(ctx context.Context, kind models.ActorKind, id uuid.UUID) (*string, error) {
	switch kind {
	case models.ActorPharmacy:
		p, err := s.pharmacies.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, NewNotFoundError("pharmacy", id.String())
			}
			return nil, err
		}
		return p.PushToken, nil
	default:
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, NewNotFoundError("user", id.String())
			}
			return nil, err
		}
		return u.PushToken, nil
	}
}

func (s *ComplaintService) notifyAuthor(ctx context.Context, c *models.Complaint, title, body string) {
	token, err := s.authorToken(ctx, c.AuthorKind, c.AuthorID)
	if err != nil {
		s.logger.WithError(err).WithField("complaint_id", c.ID).Warn("Failed to load complaint author for notification")
		return
	}
	s.deps.push(token, title, body, map[string]string{
		"type":         "complaint",
		"complaint_id": c.ID.String(),
		"status":       string(c.Status),
	})
}
