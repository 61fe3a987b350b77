package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
)

const minPasswordLength = 6

// TokenIssuer issues access tokens for an authenticated actor
type TokenIssuer interface {
	Issue(actor models.Actor) (string, time.Time, error)
}

// LoginResult is returned on successful login
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	Actor     models.Actor `json:"actor"`
}

// RegisterClientInput is a client sign-up
type RegisterClientInput struct {
	FirstName  string
	LastName   string
	Phone      string
	Email      string
	Password   string
	RegionName string
	CityName   string
}

// CreatePharmacyInput is an admin's new pharmacy
type CreatePharmacyInput struct {
	Name       string
	Address    string
	Phone      string
	Email      string
	Password   string
	RegionName string
	CityName   string
	MapsURL    string
	Plan       models.SubscriptionPlan
}

// AccountService handles registration, login and pharmacy onboarding
type AccountService struct {
	users      repository.UserRepository
	pharmacies repository.PharmacyRepository
	directory  *DirectoryService
	tokens     TokenIssuer
	deps       Collaborators
	logger     *logrus.Logger
	bcryptCost int
}

func NewAccountService(
	users repository.UserRepository,
	pharmacies repository.PharmacyRepository,
	directory *DirectoryService,
	tokens TokenIssuer,
	deps Collaborators,
	logger *logrus.Logger,
) *AccountService {
	return &AccountService{
		users:      users,
		pharmacies: pharmacies,
		directory:  directory,
		tokens:     tokens,
		deps:       deps,
		logger:     logger,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// RegisterClient creates a client account
func (s *AccountService) RegisterClient(ctx context.Context, in RegisterClientInput) (*models.User, error) {
	phone := strings.TrimSpace(in.Phone)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if phone == "" {
		return nil, NewValidationError("phone", "is required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}

	exists, err := s.users.ExistsByContact(ctx, phone, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, NewConflictError("user", "phone or email already registered")
	}

	user := &models.User{
		ID:        uuid.New(),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Phone:     phone,
		Role:      models.RoleClient,
		Active:    true,
	}
	if email != "" {
		user.Email = &email
	}

	if strings.TrimSpace(in.RegionName) != "" {
		zone := models.ZoneRegion
		if strings.TrimSpace(in.CityName) != "" {
			zone = models.ZoneCity
		}
		regionID, cityID, err := s.directory.ResolveLocation(ctx, zone, in.RegionName, in.CityName)
		if err != nil {
			return nil, err
		}
		user.RegionID, user.CityID = regionID, cityID
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.WithField("user_id", user.ID).Info("Client registered")
	return user, nil
}

// EnsureAdmin creates the bootstrap administrator when its phone is unused
func (s *AccountService) EnsureAdmin(ctx context.Context, phone, password string) error {
	if phone == "" || password == "" {
		return nil
	}
	if _, err := s.users.GetByPhone(ctx, phone); err == nil {
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	admin := &models.User{
		ID:           uuid.New(),
		FirstName:    "Admin",
		Phone:        phone,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		Active:       true,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		return err
	}
	s.logger.WithField("user_id", admin.ID).Info("Bootstrap administrator created")
	return nil
}

// LoginUser authenticates a client or admin and replaces their push token
func (s *AccountService) LoginUser(ctx context.Context, phone, password string, pushToken *string) (*LoginResult, error) {
	user, err := s.users.GetByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Active || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.users.RecordLogin(ctx, user.ID, normalizeToken(pushToken)); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to record login")
	}
	return s.issue(user.Actor())
}

// LoginPharmacy authenticates a pharmacy, replaces its push token and stamps
// the login time
func (s *AccountService) LoginPharmacy(ctx context.Context, phone, password string, pushToken *string) (*LoginResult, error) {
	p, err := s.pharmacies.GetByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.pharmacies.RecordLogin(ctx, p.ID, normalizeToken(pushToken), s.deps.now()); err != nil {
		s.logger.WithError(err).WithField("pharmacy_id", p.ID).Warn("Failed to record login")
	}
	return s.issue(models.PharmacyActor(p.ID))
}

// CreatePharmacy onboards a pharmacy with an initial subscription
func (s *AccountService) CreatePharmacy(ctx context.Context, actor models.Actor, in CreatePharmacyInput) (*models.Pharmacy, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("create pharmacy", "administrator role required")
	}

	name := strings.TrimSpace(in.Name)
	phone := strings.TrimSpace(in.Phone)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	switch {
	case name == "":
		return nil, NewValidationError("name", "is required")
	case phone == "":
		return nil, NewValidationError("phone", "is required")
	case email == "":
		return nil, NewValidationError("email", "is required")
	case len(in.Password) < minPasswordLength:
		return nil, NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	case !in.Plan.IsValid():
		return nil, NewValidationError("plan", "must be one of 1_month, 3_months, 6_months, 12_months")
	}

	exists, err := s.pharmacies.ExistsByContact(ctx, phone, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, NewConflictError("pharmacy", "phone or email already registered")
	}

	regionID, cityID, err := s.directory.ResolveLocation(ctx, models.ZoneCity, in.RegionName, in.CityName)
	if err != nil {
		return nil, err
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.deps.now()
	p := &models.Pharmacy{
		ID:           uuid.New(),
		Name:         name,
		Address:      strings.TrimSpace(in.Address),
		Phone:        phone,
		Email:        email,
		PasswordHash: hash,
		RegionID:     *regionID,
		CityID:       *cityID,
		MapsURL:      strings.TrimSpace(in.MapsURL),
		Subscription: models.Subscription{
			Plan:        in.Plan,
			PeriodStart: now,
			PeriodEnd:   now.AddDate(0, in.Plan.Months(), 0),
			Active:      true,
		},
		Active: true,
	}
	if err := s.pharmacies.Create(ctx, p); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"pharmacy_id": p.ID,
		"admin_id":    actor.ID,
		"plan":        in.Plan,
	}).Info("Pharmacy created")
	return p, nil
}

// ListPharmacies returns pharmacies for administrators
func (s *AccountService) ListPharmacies(ctx context.Context, actor models.Actor, filter repository.PharmacyFilter) ([]models.Pharmacy, error) {
	if !actor.IsAdmin() {
		return nil, NewAuthorizationError("list pharmacies", "administrator role required")
	}
	return s.pharmacies.List(ctx, filter)
}

// UpdateProfileInput is a partial profile change; nil fields are left as they are
type UpdateProfileInput struct {
	FirstName  *string
	LastName   *string
	Phone      *string
	Email      *string
	Password   *string
	RegionName *string
	CityName   *string
	Active     *bool
}

// GetProfile returns a user account to the user itself or an administrator
func (s *AccountService) GetProfile(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.User, error) {
	if !actor.IsAdmin() && actor.ID != id {
		return nil, NewAuthorizationError("view profile", "only the account owner or an administrator")
	}
	return s.loadUser(ctx, id)
}

// UpdateProfile changes a user's profile. The location is re-resolved through
// the directory; only administrators may change the active flag.
func (s *AccountService) UpdateProfile(ctx context.Context, actor models.Actor, id uuid.UUID, in UpdateProfileInput) (*models.User, error) {
	const action = "update profile"
	if !actor.IsAdmin() && actor.ID != id {
		return nil, NewAuthorizationError(action, "only the account owner or an administrator")
	}
	if in.Active != nil && !actor.IsAdmin() {
		return nil, NewAuthorizationError(action, "administrator role required to change the active flag")
	}

	user, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.FirstName != nil {
		user.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		user.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		phone := strings.TrimSpace(*in.Phone)
		if phone == "" {
			return nil, NewValidationError("phone", "must not be empty")
		}
		if phone != user.Phone {
			if err := s.ensureUnusedContact(ctx, phone, ""); err != nil {
				return nil, err
			}
			user.Phone = phone
		}
	}
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		switch {
		case email == "":
			user.Email = nil
		case user.Email == nil || *user.Email != email:
			if err := s.ensureUnusedContact(ctx, "", email); err != nil {
				return nil, err
			}
			user.Email = &email
		}
	}
	if in.Password != nil {
		if len(*in.Password) < minPasswordLength {
			return nil, NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
		}
		hash, err := s.hash(*in.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	if err := s.relocate(ctx, user, in.RegionName, in.CityName); err != nil {
		return nil, err
	}
	if in.Active != nil {
		user.Active = *in.Active
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewNotFoundError("user", id.String())
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  id,
		"actor_id": actor.ID,
	}).Info("Profile updated")
	return user, nil
}

func (s *AccountService) relocate(ctx context.Context, user *models.User, regionName, cityName *string) error {
	switch {
	case regionName != nil && strings.TrimSpace(*regionName) == "":
		user.RegionID, user.CityID = nil, nil
	case regionName != nil:
		zone, city := models.ZoneRegion, ""
		if cityName != nil && strings.TrimSpace(*cityName) != "" {
			zone, city = models.ZoneCity, *cityName
		}
		regionID, cityID, err := s.directory.ResolveLocation(ctx, zone, *regionName, city)
		if err != nil {
			return err
		}
		user.RegionID, user.CityID = regionID, cityID
	case cityName != nil && strings.TrimSpace(*cityName) == "":
		user.CityID = nil
	case cityName != nil:
		if user.RegionID == nil {
			return NewValidationError("region", "is required to set a city")
		}
		cityID, err := s.directory.ResolveCity(ctx, *cityName, *user.RegionID)
		if err != nil {
			return err
		}
		user.CityID = &cityID
	}
	return nil
}

func (s *AccountService) ensureUnusedContact(ctx context.Context, phone, email string) error {
	exists, err := s.users.ExistsByContact(ctx, phone, email)
	if err != nil {
		return err
	}
	if exists {
		return NewConflictError("user", "phone or email already registered")
	}
	return nil
}

func (s *AccountService) loadUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewNotFoundError("user", id.String())
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (s *AccountService) issue(actor models.Actor) (*LoginResult, error) {
	token, expiresAt, err := s.tokens.Issue(actor)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Actor: actor}, nil
}

func (s *AccountService) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeToken(token *string) *string {
	if token == nil {
		return nil
	}
	t := strings.TrimSpace(*token)
	if t == "" {
		return nil
	}
	return &t
}
