package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
)

const maxMessageLength = 2000

// MessageService manages per-request threads between a client and its pharmacies
type MessageService struct {
	messages   repository.MessageRepository
	requests   repository.RequestRepository
	users      repository.UserRepository
	pharmacies repository.PharmacyRepository
	deps       Collaborators
	logger     *logrus.Logger
}

func NewMessageService(
	messages repository.MessageRepository,
	requests repository.RequestRepository,
	users repository.UserRepository,
	pharmacies repository.PharmacyRepository,
	deps Collaborators,
	logger *logrus.Logger,
) *MessageService {
	return &MessageService{
		messages:   messages,
		requests:   requests,
		users:      users,
		pharmacies: pharmacies,
		deps:       deps,
		logger:     logger,
	}
}

// PostMessage appends a message to a request thread. Membership is checked
// against the request as it is now, so a pharmacy that refused loses access.
func (s *MessageService) PostMessage(ctx context.Context, actor models.Actor, requestID uuid.UUID, recipient models.Participant, body string) (*models.Message, error) {
	const action = "post message"
	sender, ok := actor.Participant()
	if !ok {
		return nil, NewAuthorizationError(action, "administrators do not take part in request threads")
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, NewValidationError("body", "is required")
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		return nil, NewValidationError("body", fmt.Sprintf("must be at most %d characters", maxMessageLength))
	}
	if !recipient.Kind.IsValid() {
		return nil, NewValidationError("recipient.kind", "must be client or pharmacy")
	}

	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParticipant(req, sender, action); err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, NewConflictError("request", fmt.Sprintf("thread is closed, request is %s", req.Status))
	}
	if err := checkCounterparty(req, sender, recipient); err != nil {
		return nil, err
	}

	now := s.deps.now()
	msg := &models.Message{
		ID:            uuid.New(),
		RequestID:     requestID,
		SenderKind:    sender.Kind,
		SenderID:      sender.ID,
		RecipientKind: recipient.Kind,
		RecipientID:   recipient.ID,
		Body:          body,
		SentAt:        now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to post message: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"request_id":   requestID,
		"message_id":   msg.ID,
		"sender_kind":  sender.Kind,
		"recipient_id": recipient.ID,
	}).Debug("Message posted")

	s.notifyRecipient(ctx, msg)
	s.deps.emit(s.logger, &models.Event{
		ID:        uuid.NewString(),
		Type:      models.EventMessagePosted,
		RequestID: &requestID,
		Status:    req.Status,
		Actor:     &actor,
		Timestamp: now,
	})

	return msg, nil
}

// ListMessages returns the thread oldest first. Administrators may read any thread.
func (s *MessageService) ListMessages(ctx context.Context, actor models.Actor, requestID uuid.UUID) ([]models.Message, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if !actor.IsAdmin() {
		participant, ok := actor.Participant()
		if !ok {
			return nil, NewAuthorizationError("list messages", "unknown actor")
		}
		if err := authorizeParticipant(req, participant, "list messages"); err != nil {
			return nil, err
		}
	}

	messages, err := s.messages.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func (s *MessageService) loadRequest(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewNotFoundError("request", id.String())
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	return req, nil
}

func authorizeParticipant(req *models.Request, p models.Participant, action string) error {
	switch p.Kind {
	case models.ParticipantClient:
		if req.ClientID == p.ID {
			return nil
		}
		return NewAuthorizationError(action, "client does not own this request")
	case models.ParticipantPharmacy:
		if req.HasPharmacy(p.ID) {
			return nil
		}
		return NewAuthorizationError(action, "pharmacy is not assigned to this request")
	}
	return NewAuthorizationError(action, "unknown participant")
}

// checkCounterparty requires the recipient to be on the other side of the request
func checkCounterparty(req *models.Request, sender, recipient models.Participant) error {
	switch sender.Kind {
	case models.ParticipantClient:
		if recipient.Kind != models.ParticipantPharmacy || !req.HasPharmacy(recipient.ID) {
			return NewValidationError("recipient", "must be a pharmacy assigned to the request")
		}
	case models.ParticipantPharmacy:
		if recipient.Kind != models.ParticipantClient || recipient.ID != req.ClientID {
			return NewValidationError("recipient", "must be the client who created the request")
		}
	}
	return nil
}

func (s *MessageService) notifyRecipient(ctx context.Context, msg *models.Message) {
	if s.deps.Push == nil {
		return
	}

	var token *string
	switch msg.RecipientKind {
	case models.ParticipantClient:
		if u, err := s.users.GetByID(ctx, msg.RecipientID); err == nil {
			token = u.PushToken
		}
	case models.ParticipantPharmacy:
		if p, err := s.pharmacies.GetByID(ctx, msg.RecipientID); err == nil {
			token = p.PushToken
		}
	}

	preview := msg.Body
	if utf8.RuneCountInString(preview) > 80 {
		preview = string([]rune(preview)[:80]) + "..."
	}
	s.deps.push(token, "New message", preview, map[string]string{
		"request_id": msg.RequestID.String(),
		"message_id": msg.ID.String(),
		"event":      string(models.EventMessagePosted),
	})
}
