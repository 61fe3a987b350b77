package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

// ErrNotFound is returned when a lookup matches no record
var ErrNotFound = errors.New("record not found")

// RequestFilter narrows request listings
type RequestFilter struct {
	ClientID *uuid.UUID
	Status   models.RequestStatus
	Zone     models.Zone
	RegionID *uuid.UUID
	CityID   *uuid.UUID
	FromDate *time.Time
	ToDate   *time.Time
	Limit    int
	Offset   int
}

// PharmacyFilter narrows pharmacy listings
type PharmacyFilter struct {
	RegionID *uuid.UUID
	CityID   *uuid.UUID
	Active   *bool
}

// EligibilityFilter selects pharmacies that may receive a request
type EligibilityFilter struct {
	RegionID *uuid.UUID
	CityID   *uuid.UUID
	Now      time.Time
}

// RequestRepository defines the contract for request persistence
type RequestRepository interface {
	// Create stores a new request together with its initial history
	Create(ctx context.Context, req *models.Request) error

	// GetByID retrieves a request with its history
	GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error)

	// List retrieves requests matching the filter, newest first
	List(ctx context.Context, filter RequestFilter) ([]models.Request, int64, error)

	// ListForPharmacy retrieves open requests the pharmacy is associated with
	ListForPharmacy(ctx context.Context, pharmacyID uuid.UUID) ([]models.Request, error)

	// Apply performs a guarded transition and records its audit entry atomically.
	// It reports false when the guard did not match at write time.
	Apply(ctx context.Context, t *Transition) (bool, error)

	// ListOverdue returns in-progress requests whose hold deadline has passed
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// Delete removes a request, its history and its messages
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

// PharmacyRepository defines the contract for pharmacy persistence
type PharmacyRepository interface {
	Create(ctx context.Context, p *models.Pharmacy) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Pharmacy, error)
	GetByPhone(ctx context.Context, phone string) (*models.Pharmacy, error)
	ExistsByContact(ctx context.Context, phone, email string) (bool, error)
	List(ctx context.Context, filter PharmacyFilter) ([]models.Pharmacy, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Pharmacy, error)

	// FindEligible returns active pharmacies with a valid subscription in the given location
	FindEligible(ctx context.Context, filter EligibilityFilter) ([]models.Pharmacy, error)

	// ListExpiredSubscriptions returns pharmacies still flagged active past their period end
	ListExpiredSubscriptions(ctx context.Context, now time.Time) ([]models.Pharmacy, error)

	// DeactivateSubscription clears the subscription flag only if it is still
	// active and expired at write time
	DeactivateSubscription(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	UpdateSubscription(ctx context.Context, id uuid.UUID, sub models.Subscription) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error)
	RecordLogin(ctx context.Context, id uuid.UUID, pushToken *string, at time.Time) error
	SetResetCode(ctx context.Context, id uuid.UUID, code string, expires time.Time) error

	// ResetPassword replaces the password hash only while the reset code
	// still matches and has not expired, then clears the code
	ResetPassword(ctx context.Context, id uuid.UUID, code, hash string, now time.Time) (bool, error)
}

// UserRepository defines the contract for client and admin accounts
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	ExistsByContact(ctx context.Context, phone, email string) (bool, error)
	RecordLogin(ctx context.Context, id uuid.UUID, pushToken *string) error

	// Update writes the profile columns: names, contact, location, password
	// hash and the active flag
	Update(ctx context.Context, u *models.User) error

	SetResetCode(ctx context.Context, id uuid.UUID, code string, expires time.Time) error
	ResetPassword(ctx context.Context, id uuid.UUID, code, hash string, now time.Time) (bool, error)
}

// MessageRepository defines the contract for request threads
type MessageRepository interface {
	Create(ctx context.Context, m *models.Message) error

	// ListByRequest returns the thread ordered by send time ascending
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Message, error)
}

// ComplaintFilter narrows complaint listings
type ComplaintFilter struct {
	AuthorKind models.ActorKind
	AuthorID   *uuid.UUID
	Status     models.ComplaintStatus
}

// ComplaintRepository defines the contract for complaints
type ComplaintRepository interface {
	Create(ctx context.Context, c *models.Complaint) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Complaint, error)

	// List returns matching complaints, newest first
	List(ctx context.Context, filter ComplaintFilter) ([]models.Complaint, error)

	// Update writes status, response and resolution time
	Update(ctx context.Context, c *models.Complaint) error
}

// DirectoryRepository defines the contract for region and city reference data
type DirectoryRepository interface {
	FindRegionByName(ctx context.Context, name string) (*models.Region, error)
	FindCityByName(ctx context.Context, name string, regionID uuid.UUID) (*models.City, error)
	GetRegion(ctx context.Context, id uuid.UUID) (*models.Region, error)
	GetCity(ctx context.Context, id uuid.UUID) (*models.City, error)
	ListRegions(ctx context.Context) ([]models.Region, error)
	ListCities(ctx context.Context, regionID *uuid.UUID) ([]models.City, error)
	CountRegions(ctx context.Context) (int64, error)
	CreateRegion(ctx context.Context, r *models.Region) error
	CreateCity(ctx context.Context, c *models.City) error
}

// Ensure implementations satisfy the interfaces
var (
	_ RequestRepository   = (*GormRequestRepository)(nil)
	_ PharmacyRepository  = (*GormPharmacyRepository)(nil)
	_ UserRepository      = (*GormUserRepository)(nil)
	_ MessageRepository   = (*GormMessageRepository)(nil)
	_ DirectoryRepository = (*GormDirectoryRepository)(nil)
	_ ComplaintRepository = (*GormComplaintRepository)(nil)

	_ RequestRepository   = (*memoryRequests)(nil)
	_ PharmacyRepository  = (*memoryPharmacies)(nil)
	_ UserRepository      = (*memoryUsers)(nil)
	_ MessageRepository   = (*memoryMessages)(nil)
	_ DirectoryRepository = (*memoryDirectory)(nil)
	_ ComplaintRepository = (*memoryComplaints)(nil)
)
