package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
	"github.com/tesseract-hub/pharmacy-request-service/internal/storage"
)

// overdueBatchSize bounds one expiry sweep pass
const overdueBatchSize = 500

// RequestServiceConfig holds lifecycle timing
type RequestServiceConfig struct {
	LocalHold    time.Duration // city and region zones
	NationalHold time.Duration
}

// Upload is a prescription document attached to a new request
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CreateRequestInput is a client's request submission
type CreateRequestInput struct {
	Items        []models.LineItem
	Zone         models.Zone
	RegionName   string
	CityName     string
	Prescription *Upload
}

// RequestService owns the request state machine
type RequestService struct {
	requests    repository.RequestRepository
	pharmacies  repository.PharmacyRepository
	users       repository.UserRepository
	directory   *DirectoryService
	eligibility *EligibilityResolver
	cfg         RequestServiceConfig
	deps        Collaborators
	logger      *logrus.Logger
}

// NewRequestService creates a new request lifecycle service
func NewRequestService(
	requests repository.RequestRepository,
	pharmacies repository.PharmacyRepository,
	users repository.UserRepository,
	directory *DirectoryService,
	eligibility *EligibilityResolver,
	cfg RequestServiceConfig,
	deps Collaborators,
	logger *logrus.Logger,
) *RequestService {
	if cfg.LocalHold == 0 {
		cfg.LocalHold = 2 * time.Hour
	}
	if cfg.NationalHold == 0 {
		cfg.NationalHold = 24 * time.Hour
	}
	return &RequestService{
		requests:    requests,
		pharmacies:  pharmacies,
		users:       users,
		directory:   directory,
		eligibility: eligibility,
		cfg:         cfg,
		deps:        deps,
		logger:      logger,
	}
}

// Create validates a submission, computes its candidate pharmacies, persists
// it as pending and notifies the candidates
func (s *RequestService) Create(ctx context.Context, actor models.Actor, in CreateRequestInput) (*models.Request, error) {
	if actor.Kind != models.ActorClient {
		return nil, NewAuthorizationError("create request", "only clients can submit requests")
	}
	if err := validateSubmission(in); err != nil {
		return nil, err
	}

	regionID, cityID, err := s.directory.ResolveLocation(ctx, in.Zone, in.RegionName, in.CityName)
	if err != nil {
		return nil, err
	}

	var prescriptionURL *string
	var uploadErr error
	if in.Prescription != nil {
		url, err := s.storePrescription(ctx, in.Prescription)
		if err != nil {
			uploadErr = err
			s.logger.WithError(err).WithField("client_id", actor.ID).Warn("Prescription upload failed, continuing without it")
		} else {
			prescriptionURL = &url
		}
	}

	now := s.deps.now()
	req := &models.Request{
		ID:              uuid.New(),
		ClientID:        actor.ID,
		Items:           datatypes.JSONSlice[models.LineItem](in.Items),
		PrescriptionURL: prescriptionURL,
		Zone:            in.Zone,
		RegionID:        regionID,
		CityID:          cityID,
		Status:          models.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !req.HasPayload() {
		return nil, NewDependencyError("blob store", uploadErr)
	}

	candidates, err := s.eligibility.Eligible(ctx, in.Zone, regionID, cityID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ID.String()
	}
	req.PharmacyIDs = ids
	req.History = []models.StatusEntry{models.NewStatusEntry(models.EventCreated, models.StatusPending, &actor, now)}

	if err := s.requests.Create(ctx, req); err != nil {
		s.deps.Metrics.ObserveTransition(string(models.EventCreated), "error")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	s.deps.Metrics.ObserveTransition(string(models.EventCreated), "ok")
	s.deps.Metrics.ObserveCandidates(len(candidates))
	s.logger.WithFields(logrus.Fields{
		"request_id": req.ID,
		"client_id":  actor.ID,
		"zone":       req.Zone,
		"candidates": len(candidates),
	}).Info("Request created")

	data := pushData(req, models.EventCreated)
	for i := range candidates {
		s.deps.push(candidates[i].PushToken, "New request", "A client is looking for medication near you", data)
	}
	s.deps.emit(s.logger, models.NewRequestEvent(models.EventRequestCreated, req, &actor, now))

	return req, nil
}

func validateSubmission(in CreateRequestInput) error {
	if !in.Zone.IsValid() {
		return NewValidationError("zone", "must be one of city, region, national")
	}
	for i, item := range in.Items {
		if strings.TrimSpace(item.Name) == "" {
			return NewValidationError(fmt.Sprintf("items[%d].name", i), "is required")
		}
		if item.Quantity < 1 {
			return NewValidationError(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
	}
	if len(in.Items) == 0 && in.Prescription == nil {
		return NewValidationError("items", "at least one line item or a prescription is required")
	}
	if in.Prescription != nil {
		if err := storage.ValidatePrescription(in.Prescription.ContentType, int64(len(in.Prescription.Data))); err != nil {
			return NewValidationError("prescription", err.Error())
		}
	}
	return nil
}

func (s *RequestService) storePrescription(ctx context.Context, up *Upload) (string, error) {
	if s.deps.Blobs == nil {
		return "", errors.New("blob storage is not configured")
	}
	return s.deps.Blobs.Store(ctx, up.Filename, up.ContentType, up.Data)
}

// Accept gives the pharmacy the exclusive hold on a pending request. Of
// several concurrent accepts exactly one succeeds.
func (s *RequestService) Accept(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Request, error) {
	const action = "accept request"
	if actor.Kind != models.ActorPharmacy {
		return nil, NewAuthorizationError(action, "only pharmacies can accept requests")
	}

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOpenCandidate(req, actor.ID, action); err != nil {
		s.observeRejection(models.EventAccepted, err)
		return nil, err
	}

	pharmacy, err := s.loadPharmacy(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	now := s.deps.now()
	if !pharmacy.IsEligible(now) {
		return nil, NewAuthorizationError(action, "pharmacy is inactive or its subscription has lapsed")
	}

	status := models.StatusInProgress
	expires := now.Add(s.holdFor(req.Zone))
	applied, err := s.requests.Apply(ctx, &repository.Transition{
		RequestID: id,
		Guard: repository.Guard{
			Statuses: []models.RequestStatus{models.StatusPending},
			Member:   &actor.ID,
		},
		Changes: repository.Changes{
			Status:            &status,
			ReplacePharmacies: true,
			PharmacyIDs:       []uuid.UUID{actor.ID},
			AcceptedAt:        &now,
			ExpiresAt:         &expires,
		},
		Entry: models.NewStatusEntry(models.EventAccepted, status, &actor, now),
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		err := s.classifyCandidateMiss(ctx, id, actor.ID, action)
		s.observeRejection(models.EventAccepted, err)
		return nil, err
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.ObserveTransition(string(models.EventAccepted), "ok")
	s.logger.WithFields(logrus.Fields{
		"request_id":  id,
		"pharmacy_id": actor.ID,
		"expires_at":  expires,
	}).Info("Request accepted")

	s.notifyClient(ctx, updated, models.EventAccepted, "Request accepted",
		fmt.Sprintf("%s accepted your request", pharmacy.Name))
	s.deps.emit(s.logger, models.NewRequestEvent(models.EventRequestAccepted, updated, &actor, now))

	return updated, nil
}

// Refuse removes the pharmacy from the candidates of a pending request. The
// status never changes.
func (s *RequestService) Refuse(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Request, error) {
	const action = "refuse request"
	if actor.Kind != models.ActorPharmacy {
		return nil, NewAuthorizationError(action, "only pharmacies can refuse requests")
	}

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkOpenCandidate(req, actor.ID, action); err != nil {
		s.observeRejection(models.EventRefused, err)
		return nil, err
	}

	now := s.deps.now()
	applied, err := s.requests.Apply(ctx, &repository.Transition{
		RequestID: id,
		Guard: repository.Guard{
			Statuses: []models.RequestStatus{models.StatusPending},
			Member:   &actor.ID,
		},
		Changes: repository.Changes{RemovePharmacy: &actor.ID},
		Entry:   models.NewStatusEntry(models.EventRefused, models.StatusPending, &actor, now),
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		err := s.classifyCandidateMiss(ctx, id, actor.ID, action)
		s.observeRejection(models.EventRefused, err)
		return nil, err
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.ObserveTransition(string(models.EventRefused), "ok")
	entry := s.logger.WithFields(logrus.Fields{
		"request_id":  id,
		"pharmacy_id": actor.ID,
		"remaining":   len(updated.PharmacyIDs),
	})
	if len(updated.PharmacyIDs) == 0 {
		entry.Warn("Request refused by its last candidate, it needs reassignment")
	} else {
		entry.Info("Request refused")
	}
	s.deps.emit(s.logger, models.NewRequestEvent(models.EventRequestRefused, updated, &actor, now))

	return updated, nil
}

// Complete marks an in-progress request as picked up. Only the pharmacy
// holding the request may complete it, and only before its deadline.
func (s *RequestService) Complete(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Request, error) {
	const action = "complete request"
	if actor.Kind != models.ActorPharmacy {
		return nil, NewAuthorizationError(action, "only pharmacies can complete requests")
	}

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.deps.now()
	if err := s.checkCompletable(ctx, req, actor.ID, now); err != nil {
		s.observeRejection(models.EventCompleted, err)
		return nil, err
	}

	status := models.StatusCompleted
	applied, err := s.requests.Apply(ctx, &repository.Transition{
		RequestID: id,
		Guard: repository.Guard{
			Statuses:   []models.RequestStatus{models.StatusInProgress},
			SoleMember: &actor.ID,
			LiveAt:     &now,
		},
		Changes: repository.Changes{Status: &status, PickedUpAt: &now},
		Entry:   models.NewStatusEntry(models.EventCompleted, status, &actor, now),
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		current, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.checkCompletable(ctx, current, actor.ID, now); err != nil {
			s.observeRejection(models.EventCompleted, err)
			return nil, err
		}
		return nil, NewConflictError("request", "request changed concurrently, fetch it again")
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.ObserveTransition(string(models.EventCompleted), "ok")
	s.logger.WithFields(logrus.Fields{
		"request_id":  id,
		"pharmacy_id": actor.ID,
	}).Info("Request completed")

	s.notifyClient(ctx, updated, models.EventCompleted, "Request completed", "Your medication has been picked up")
	s.deps.emit(s.logger, models.NewRequestEvent(models.EventRequestCompleted, updated, &actor, now))

	return updated, nil
}

// checkCompletable expires an overdue request on the spot
func (s *RequestService) checkCompletable(ctx context.Context, req *models.Request, pharmacyID uuid.UUID, now time.Time) error {
	if req.Status != models.StatusInProgress {
		return NewConflictError("request", fmt.Sprintf("request is %s, not in progress", req.Status))
	}
	if !req.IsSoleAssignee(pharmacyID) {
		return NewConflictError("request", "request is not assigned to this pharmacy")
	}
	if req.IsOverdue(now) {
		if _, err := s.expire(ctx, req.ID, now); err != nil {
			s.logger.WithError(err).WithField("request_id", req.ID).Warn("Failed to expire overdue request")
		}
		return NewConflictError("request", "the hold on this request has expired")
	}
	return nil
}

// Reassign replaces the candidates and resets the request to pending,
// whatever its current status
func (s *RequestService) Reassign(ctx context.Context, actor models.Actor, id uuid.UUID, pharmacyIDs []uuid.UUID) (*models.Request, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("reassign request", "administrator role required")
	}
	if len(pharmacyIDs) == 0 {
		return nil, NewValidationError("pharmacy_ids", "at least one pharmacy is required")
	}

	unique := make([]uuid.UUID, 0, len(pharmacyIDs))
	seen := make(map[uuid.UUID]bool, len(pharmacyIDs))
	for _, pid := range pharmacyIDs {
		if !seen[pid] {
			seen[pid] = true
			unique = append(unique, pid)
		}
	}

	found, err := s.pharmacies.FindByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to load pharmacies: %w", err)
	}
	if len(found) != len(unique) {
		present := make(map[uuid.UUID]bool, len(found))
		for i := range found {
			present[found[i].ID] = true
		}
		for _, pid := range unique {
			if !present[pid] {
				return nil, NewNotFoundError("pharmacy", pid.String())
			}
		}
	}

	now := s.deps.now()
	status := models.StatusPending
	applied, err := s.requests.Apply(ctx, &repository.Transition{
		RequestID: id,
		Changes: repository.Changes{
			Status:            &status,
			ReplacePharmacies: true,
			PharmacyIDs:       unique,
			ClearHold:         true,
		},
		Entry: models.NewStatusEntry(models.EventReassigned, status, &actor, now),
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, NewNotFoundError("request", id.String())
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.ObserveTransition(string(models.EventReassigned), "ok")
	s.logger.WithFields(logrus.Fields{
		"request_id": id,
		"admin_id":   actor.ID,
		"pharmacies": len(unique),
	}).Info("Request reassigned")

	data := pushData(updated, models.EventReassigned)
	for i := range found {
		s.deps.push(found[i].PushToken, "New request", "A request has been assigned to you", data)
	}
	s.deps.emit(s.logger, models.NewRequestEvent(models.EventRequestReassigned, updated, &actor, now))

	return updated, nil
}

// SetStatus overrides the status. Moving to in_progress starts a fresh hold
// for the single assigned pharmacy; moving to pending drops the hold.
func (s *RequestService) SetStatus(ctx context.Context, actor models.Actor, id uuid.UUID, status models.RequestStatus) (*models.Request, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("set request status", "administrator role required")
	}
	if !status.IsValid() {
		return nil, NewValidationError("status", "must be one of pending, in_progress, completed, expired, refused")
	}

	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.deps.now()
	t := &repository.Transition{
		RequestID: id,
		Changes:   repository.Changes{Status: &status},
		Entry:     models.NewStatusEntry(models.EventStatusSet, status, &actor, now),
	}
	switch status {
	case models.StatusInProgress:
		// a hold needs exactly one pharmacy and a deadline the expiry sweep can act on
		assigned := req.PharmacyUUIDs()
		if len(assigned) != 1 {
			return nil, NewValidationError("status", "in_progress requires exactly one assigned pharmacy, reassign first")
		}
		expiresAt := now.Add(s.holdFor(req.Zone))
		t.Guard.SoleMember = &assigned[0]
		t.Changes.AcceptedAt = &now
		t.Changes.ExpiresAt = &expiresAt
	case models.StatusPending:
		t.Changes.ClearHold = true
	case models.StatusCompleted:
		if req.PickedUpAt == nil {
			t.Changes.PickedUpAt = &now
		}
	}

	applied, err := s.requests.Apply(ctx, t)
	if err != nil {
		return nil, err
	}
	if !applied {
		if t.Guard.SoleMember != nil {
			return nil, NewConflictError("request", "assigned pharmacies changed, re-fetch and retry")
		}
		return nil, NewNotFoundError("request", id.String())
	}

	updated, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.ObserveTransition(string(models.EventStatusSet), "ok")
	s.logger.WithFields(logrus.Fields{
		"request_id": id,
		"admin_id":   actor.ID,
		"status":     status,
	}).Info("Request status overridden")
	s.deps.emit(s.logger, models.NewRequestEvent(models.EventRequestStatusSet, updated, &actor, now))

	return updated, nil
}

// Delete purges a request, its history and its thread
func (s *RequestService) Delete(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return NewAuthorizationError("delete request", "administrator role required")
	}

	deleted, err := s.requests.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return NewNotFoundError("request", id.String())
	}

	s.logger.WithFields(logrus.Fields{
		"request_id": id,
		"admin_id":   actor.ID,
	}).Info("Request deleted")
	s.deps.emit(s.logger, &models.Event{
		ID:        uuid.NewString(),
		Type:      models.EventRequestDeleted,
		RequestID: &id,
		Actor:     &actor,
		Timestamp: s.deps.now(),
	})
	return nil
}

// Get returns a request to its client, its current pharmacies or an admin
func (s *RequestService) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Request, error) {
	req, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch actor.Kind {
	case models.ActorAdmin:
		return req, nil
	case models.ActorClient:
		if req.ClientID == actor.ID {
			return req, nil
		}
	case models.ActorPharmacy:
		if req.HasPharmacy(actor.ID) {
			return req, nil
		}
	}
	return nil, NewAuthorizationError("view request", "not a participant of this request")
}

// ListForClient returns the client's own requests
func (s *RequestService) ListForClient(ctx context.Context, actor models.Actor, filter repository.RequestFilter) ([]models.Request, int64, error) {
	if actor.Kind != models.ActorClient {
		return nil, 0, NewAuthorizationError("list requests", "client role required")
	}
	filter.ClientID = &actor.ID
	return s.requests.List(ctx, filter)
}

// ListForPharmacy returns pending requests offered to the pharmacy and the
// ones it currently holds
func (s *RequestService) ListForPharmacy(ctx context.Context, actor models.Actor) ([]models.Request, error) {
	if actor.Kind != models.ActorPharmacy {
		return nil, NewAuthorizationError("list requests", "pharmacy role required")
	}
	return s.requests.ListForPharmacy(ctx, actor.ID)
}

// ListAll returns every request matching the filter
func (s *RequestService) ListAll(ctx context.Context, actor models.Actor, filter repository.RequestFilter) ([]models.Request, int64, error) {
	if !actor.IsAdmin() {
		return nil, 0, NewAuthorizationError("list requests", "administrator role required")
	}
	return s.requests.List(ctx, filter)
}

// ExpireOverdue moves in-progress requests past their deadline to expired,
// freeing the pharmacy's hold. It returns how many requests were expired.
func (s *RequestService) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.deps.now()
	ids, err := s.requests.ListOverdue(ctx, now, overdueBatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		applied, err := s.expire(ctx, id, now)
		if err != nil {
			s.logger.WithError(err).WithField("request_id", id).Warn("Failed to expire request")
			continue
		}
		if applied {
			expired++
		}
	}
	return expired, nil
}

func (s *RequestService) expire(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	status := models.StatusExpired
	applied, err := s.requests.Apply(ctx, &repository.Transition{
		RequestID: id,
		Guard: repository.Guard{
			Statuses: []models.RequestStatus{models.StatusInProgress},
			DueBy:    &now,
		},
		Changes: repository.Changes{Status: &status},
		Entry:   models.NewStatusEntry(models.EventExpired, status, nil, now),
	})
	if err != nil || !applied {
		return false, err
	}

	s.deps.Metrics.ObserveTransition(string(models.EventExpired), "ok")
	s.logger.WithField("request_id", id).Info("Request expired")

	if req, err := s.load(ctx, id); err == nil {
		s.notifyClient(ctx, req, models.EventExpired, "Request expired", "The pharmacy did not complete your request in time")
		s.deps.emit(s.logger, models.NewRequestEvent(models.EventRequestExpired, req, nil, now))
	}
	return true, nil
}

func (s *RequestService) holdFor(zone models.Zone) time.Duration {
	if zone == models.ZoneNational {
		return s.cfg.NationalHold
	}
	return s.cfg.LocalHold
}

func (s *RequestService) load(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewNotFoundError("request", id.String())
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}
	return req, nil
}

func (s *RequestService) loadPharmacy(ctx context.Context, id uuid.UUID) (*models.Pharmacy, error) {
	p, err := s.pharmacies.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewNotFoundError("pharmacy", id.String())
		}
		return nil, fmt.Errorf("failed to load pharmacy: %w", err)
	}
	return p, nil
}

// checkOpenCandidate checks status before membership so a lost race always
// reads as a conflict
func checkOpenCandidate(req *models.Request, pharmacyID uuid.UUID, action string) error {
	if req.Status != models.StatusPending {
		return NewConflictError("request", "request is no longer available")
	}
	if !req.HasPharmacy(pharmacyID) {
		return NewAuthorizationError(action, "pharmacy is not a candidate for this request")
	}
	return nil
}

func (s *RequestService) classifyCandidateMiss(ctx context.Context, id, pharmacyID uuid.UUID, action string) error {
	req, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := checkOpenCandidate(req, pharmacyID, action); err != nil {
		return err
	}
	return NewConflictError("request", "request changed concurrently, fetch it again")
}

func (s *RequestService) observeRejection(event models.StatusEvent, err error) {
	outcome := "error"
	switch {
	case isConflict(err):
		outcome = "conflict"
	case isAuthorization(err):
		outcome = "forbidden"
	}
	s.deps.Metrics.ObserveTransition(string(event), outcome)
}

func isConflict(err error) bool {
	_, ok := IsConflictError(err)
	return ok
}

func isAuthorization(err error) bool {
	_, ok := IsAuthorizationError(err)
	return ok
}

func (s *RequestService) notifyClient(ctx context.Context, req *models.Request, event models.StatusEvent, title, body string) {
	if s.deps.Push == nil {
		return
	}
	user, err := s.users.GetByID(ctx, req.ClientID)
	if err != nil {
		s.logger.WithError(err).WithField("client_id", req.ClientID).Debug("Skipping client notification")
		return
	}
	s.deps.push(user.PushToken, title, body, pushData(req, event))
}

func pushData(req *models.Request, event models.StatusEvent) map[string]string {
	return map[string]string{
		"request_id": req.ID.String(),
		"event":      string(event),
		"status":     string(req.Status),
	}
}
