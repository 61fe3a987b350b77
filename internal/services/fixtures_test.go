package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/tesseract-hub/pharmacy-request-service/internal/cache"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
)

type pushCall struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

type recordingPush struct {
	mu    sync.Mutex
	calls []pushCall
}

func (p *recordingPush) Dispatch(token, title, body string, data map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{Token: token, Title: title, Body: body, Data: data})
}

func (p *recordingPush) tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.Token
	}
	return out
}

func (p *recordingPush) last() (pushCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return pushCall{}, false
	}
	return p.calls[len(p.calls)-1], true
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(t models.EventType) []*models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeBlobs struct {
	url string
	err error
}

func (b *fakeBlobs) Store(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return b.url, nil
}

type fixture struct {
	store     *repository.MemoryStore
	push      *recordingPush
	events    *recordingPublisher
	clock     *fakeClock
	blobs     *fakeBlobs
	deps      Collaborators
	directory *DirectoryService
	requests  *RequestService
	messages  *MessageService
	subs      *SubscriptionService

	dakar, plateau, pikine uuid.UUID
	thies, mbour           uuid.UUID
	client                 models.Actor
	admin                  models.Actor
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := quietLogger()

	f := &fixture{
		store:  repository.NewMemoryStore(),
		push:   &recordingPush{},
		events: &recordingPublisher{},
		clock:  &fakeClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)},
		blobs:  &fakeBlobs{url: "https://blobs.example/prescriptions/x.pdf"},
		admin:  models.AdminActor(uuid.New()),
	}
	f.deps = Collaborators{
		Push:      f.push,
		Publisher: f.events,
		Blobs:     f.blobs,
		Clock:     f.clock.Now,
	}

	dir := f.store.Directory()
	f.dakar = f.region(t, dir, "Dakar")
	f.thies = f.region(t, dir, "Thies")
	f.plateau = f.city(t, dir, "Plateau", f.dakar)
	f.pikine = f.city(t, dir, "Pikine", f.dakar)
	f.mbour = f.city(t, dir, "Mbour", f.thies)

	token := "client-device"
	client := &models.User{Phone: "+221700000001", Role: models.RoleClient, Active: true, PushToken: &token}
	require.NoError(t, f.store.Users().Create(ctx, client))
	f.client = client.Actor()

	f.directory = NewDirectoryService(dir, cache.NewDirectoryCache(cache.CacheConfig{Logger: logger}), logger)
	eligibility := NewEligibilityResolver(f.store.Pharmacies(), f.deps)
	f.requests = NewRequestService(
		f.store.Requests(), f.store.Pharmacies(), f.store.Users(),
		f.directory, eligibility, RequestServiceConfig{}, f.deps, logger,
	)
	f.messages = NewMessageService(f.store.Messages(), f.store.Requests(), f.store.Users(), f.store.Pharmacies(), f.deps, logger)
	f.subs = NewSubscriptionService(f.store.Pharmacies(), f.deps, logger)
	return f
}

func (f *fixture) region(t *testing.T, dir repository.DirectoryRepository, name string) uuid.UUID {
	r := &models.Region{Name: name}
	require.NoError(t, dir.CreateRegion(context.Background(), r))
	return r.ID
}

func (f *fixture) city(t *testing.T, dir repository.DirectoryRepository, name string, regionID uuid.UUID) uuid.UUID {
	c := &models.City{Name: name, RegionID: regionID}
	require.NoError(t, dir.CreateCity(context.Background(), c))
	return c.ID
}

type pharmacyOption func(*models.Pharmacy)

func inCity(regionID, cityID uuid.UUID) pharmacyOption {
	return func(p *models.Pharmacy) { p.RegionID, p.CityID = regionID, cityID }
}

func inactive() pharmacyOption {
	return func(p *models.Pharmacy) { p.Active = false }
}

func subscriptionEnds(end time.Time) pharmacyOption {
	return func(p *models.Pharmacy) { p.Subscription.PeriodEnd = end }
}

func (f *fixture) addPharmacy(t *testing.T, name string, opts ...pharmacyOption) models.Actor {
	t.Helper()
	now := f.clock.Now()
	token := "device-" + name
	p := &models.Pharmacy{
		Name:     name,
		Phone:    "+2213300" + name,
		Email:    name + "@pharma.test",
		RegionID: f.dakar,
		CityID:   f.plateau,
		Active:   true,
		Subscription: models.Subscription{
			Plan:        models.PlanMonthly,
			PeriodStart: now.AddDate(0, -1, 0),
			PeriodEnd:   now.AddDate(0, 1, 0),
			Active:      true,
		},
		PushToken: &token,
	}
	for _, opt := range opts {
		opt(p)
	}
	require.NoError(t, f.store.Pharmacies().Create(context.Background(), p))
	return models.PharmacyActor(p.ID)
}

func (f *fixture) createCityRequest(t *testing.T) *models.Request {
	t.Helper()
	req, err := f.requests.Create(context.Background(), f.client, CreateRequestInput{
		Items:      []models.LineItem{{Name: "Paracetamol 500mg", Quantity: 2}},
		Zone:       models.ZoneCity,
		RegionName: "Dakar",
		CityName:   "Plateau",
	})
	require.NoError(t, err)
	return req
}

func requireErrorKind[T error](t *testing.T, err error) T {
	t.Helper()
	require.Error(t, err)
	var target T
	require.True(t, errors.As(err, &target), "expected %T, got %v", target, err)
	return target
}
