package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
)

func TestRequestService_CityScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha")
	b := f.addPharmacy(t, "beta")
	f.addPharmacy(t, "gamma", inCity(f.dakar, f.pikine))
	f.addPharmacy(t, "lapsed", subscriptionEnds(f.clock.Now().Add(-time.Hour)))
	f.addPharmacy(t, "closed", inactive())

	req := f.createCityRequest(t)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.ElementsMatch(t, []string{a.ID.String(), b.ID.String()}, []string(req.PharmacyIDs))
	assert.ElementsMatch(t, []string{"device-alpha", "device-beta"}, f.push.tokens())

	accepted, err := f.requests.Accept(ctx, a, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, accepted.Status)
	assert.Equal(t, []string{a.ID.String()}, []string(accepted.PharmacyIDs))
	require.NotNil(t, accepted.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(2*time.Hour), *accepted.ExpiresAt)

	_, err = f.requests.Accept(ctx, b, req.ID)
	requireErrorKind[*ConflictError](t, err)

	completed, err := f.requests.Complete(ctx, a, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, completed.Status)
	require.NotNil(t, completed.PickedUpAt)

	_, err = f.requests.Complete(ctx, b, req.ID)
	requireErrorKind[*ConflictError](t, err)

	events := []models.StatusEvent{}
	for _, e := range completed.History {
		events = append(events, e.Event)
	}
	assert.Equal(t, []models.StatusEvent{models.EventCreated, models.EventAccepted, models.EventCompleted}, events)

	assert.Eventually(t, func() bool {
		return len(f.events.ofType(models.EventRequestCompleted)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRequestService_NationalHoldIsLonger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha", inCity(f.thies, f.mbour))

	req, err := f.requests.Create(ctx, f.client, CreateRequestInput{
		Items: []models.LineItem{{Name: "Insulin", Quantity: 1, PrescriptionRequired: true}},
		Zone:  models.ZoneNational,
	})
	require.NoError(t, err)
	assert.Nil(t, req.RegionID)
	assert.Nil(t, req.CityID)

	accepted, err := f.requests.Accept(ctx, a, req.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), *accepted.ExpiresAt)
}

func TestRequestService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	items := []models.LineItem{{Name: "Amoxicillin", Quantity: 1}}

	tests := []struct {
		name  string
		actor models.Actor
		in    CreateRequestInput
		check func(t *testing.T, err error)
	}{
		{
			name:  "no items and no prescription",
			actor: f.client,
			in:    CreateRequestInput{Zone: models.ZoneNational},
			check: func(t *testing.T, err error) { requireErrorKind[*ValidationError](t, err) },
		},
		{
			name:  "unknown zone",
			actor: f.client,
			in:    CreateRequestInput{Items: items, Zone: "planet"},
			check: func(t *testing.T, err error) { requireErrorKind[*ValidationError](t, err) },
		},
		{
			name:  "zero quantity",
			actor: f.client,
			in:    CreateRequestInput{Items: []models.LineItem{{Name: "x", Quantity: 0}}, Zone: models.ZoneNational},
			check: func(t *testing.T, err error) { requireErrorKind[*ValidationError](t, err) },
		},
		{
			name:  "city zone without city",
			actor: f.client,
			in:    CreateRequestInput{Items: items, Zone: models.ZoneCity, RegionName: "Dakar"},
			check: func(t *testing.T, err error) { requireErrorKind[*ValidationError](t, err) },
		},
		{
			name:  "region zone without region",
			actor: f.client,
			in:    CreateRequestInput{Items: items, Zone: models.ZoneRegion},
			check: func(t *testing.T, err error) { requireErrorKind[*ValidationError](t, err) },
		},
		{
			name:  "unknown city",
			actor: f.client,
			in:    CreateRequestInput{Items: items, Zone: models.ZoneCity, RegionName: "Dakar", CityName: "Mbour"},
			check: func(t *testing.T, err error) {
				nf := requireErrorKind[*NotFoundError](t, err)
				assert.Equal(t, "city", nf.Resource)
			},
		},
		{
			name:  "unsupported prescription type",
			actor: f.client,
			in: CreateRequestInput{Zone: models.ZoneNational, Prescription: &Upload{
				Filename: "rx.gif", ContentType: "image/gif", Data: []byte("GIF89a"),
			}},
			check: func(t *testing.T, err error) { requireErrorKind[*ValidationError](t, err) },
		},
		{
			name:  "pharmacy cannot submit",
			actor: models.PharmacyActor(uuid.New()),
			in:    CreateRequestInput{Items: items, Zone: models.ZoneNational},
			check: func(t *testing.T, err error) { requireErrorKind[*AuthorizationError](t, err) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.requests.Create(ctx, tt.actor, tt.in)
			tt.check(t, err)
		})
	}

	all, total, err := f.requests.ListAll(ctx, f.admin, repository.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, total)
}

func TestRequestService_CreateWithPrescription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rx := &Upload{Filename: "rx.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}

	req, err := f.requests.Create(ctx, f.client, CreateRequestInput{Zone: models.ZoneNational, Prescription: rx})
	require.NoError(t, err)
	require.NotNil(t, req.PrescriptionURL)
	assert.Equal(t, f.blobs.url, *req.PrescriptionURL)
	assert.Empty(t, req.PharmacyIDs)

	f.blobs.err = errors.New("bucket unreachable")

	withItems, err := f.requests.Create(ctx, f.client, CreateRequestInput{
		Zone:         models.ZoneNational,
		Items:        []models.LineItem{{Name: "Ibuprofen", Quantity: 1}},
		Prescription: rx,
	})
	require.NoError(t, err)
	assert.Nil(t, withItems.PrescriptionURL)

	_, err = f.requests.Create(ctx, f.client, CreateRequestInput{Zone: models.ZoneNational, Prescription: rx})
	requireErrorKind[*DependencyError](t, err)
}

func TestRequestService_ConcurrentAcceptHasOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var pharmacies []models.Actor
	for _, name := range []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"} {
		pharmacies = append(pharmacies, f.addPharmacy(t, name))
	}
	req := f.createCityRequest(t)
	require.Len(t, req.PharmacyIDs, len(pharmacies))

	var (
		mu        sync.Mutex
		winners   []uuid.UUID
		conflicts int
		wg        sync.WaitGroup
	)
	start := make(chan struct{})
	for _, p := range pharmacies {
		wg.Add(1)
		go func(p models.Actor) {
			defer wg.Done()
			<-start
			_, err := f.requests.Accept(ctx, p, req.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, p.ID)
				return
			}
			if _, ok := IsConflictError(err); ok {
				conflicts++
			}
		}(p)
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, len(pharmacies)-1, conflicts)

	stored, err := f.requests.Get(ctx, f.admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, stored.Status)
	assert.Equal(t, []string{winners[0].String()}, []string(stored.PharmacyIDs))
}

func TestRequestService_Refuse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha")
	b := f.addPharmacy(t, "beta")
	outsider := f.addPharmacy(t, "outsider", inCity(f.thies, f.mbour))
	req := f.createCityRequest(t)

	refused, err := f.requests.Refuse(ctx, a, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, refused.Status)
	assert.Equal(t, []string{b.ID.String()}, []string(refused.PharmacyIDs))

	_, err = f.requests.Refuse(ctx, a, req.ID)
	requireErrorKind[*AuthorizationError](t, err)

	_, err = f.requests.Accept(ctx, a, req.ID)
	requireErrorKind[*AuthorizationError](t, err)

	_, err = f.requests.Accept(ctx, outsider, req.ID)
	requireErrorKind[*AuthorizationError](t, err)

	_, err = f.requests.Accept(ctx, b, req.ID)
	require.NoError(t, err)

	_, err = f.requests.Refuse(ctx, b, req.ID)
	requireErrorKind[*ConflictError](t, err)
}

func TestRequestService_LastRefusalLeavesPendingRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha")
	req := f.createCityRequest(t)

	refused, err := f.requests.Refuse(ctx, a, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, refused.Status)
	assert.Empty(t, refused.PharmacyIDs)
}

func TestRequestService_CompleteGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha")
	req := f.createCityRequest(t)

	_, err := f.requests.Complete(ctx, a, req.ID)
	requireErrorKind[*ConflictError](t, err)

	_, err = f.requests.Complete(ctx, f.client, req.ID)
	requireErrorKind[*AuthorizationError](t, err)

	_, err = f.requests.Accept(ctx, a, req.ID)
	require.NoError(t, err)

	f.clock.Advance(2*time.Hour + time.Second)
	_, err = f.requests.Complete(ctx, a, req.ID)
	requireErrorKind[*ConflictError](t, err)

	stored, err := f.requests.Get(ctx, f.admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)
}

func TestRequestService_AcceptRequiresEligiblePharmacy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha", subscriptionEnds(f.clock.Now().Add(time.Hour)))
	req := f.createCityRequest(t)
	require.Len(t, req.PharmacyIDs, 1)

	f.clock.Advance(2 * time.Hour)
	_, err := f.requests.Accept(ctx, a, req.ID)
	requireErrorKind[*AuthorizationError](t, err)
}

func TestRequestService_Reassign(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha")
	c := f.addPharmacy(t, "charlie", inCity(f.thies, f.mbour))
	req := f.createCityRequest(t)

	_, err := f.requests.Accept(ctx, a, req.ID)
	require.NoError(t, err)
	_, err = f.requests.Complete(ctx, a, req.ID)
	require.NoError(t, err)

	_, err = f.requests.Reassign(ctx, f.client, req.ID, []uuid.UUID{c.ID})
	requireErrorKind[*AuthorizationError](t, err)

	_, err = f.requests.Reassign(ctx, f.admin, req.ID, []uuid.UUID{uuid.New()})
	requireErrorKind[*NotFoundError](t, err)

	_, err = f.requests.Reassign(ctx, f.admin, req.ID, nil)
	requireErrorKind[*ValidationError](t, err)

	reassigned, err := f.requests.Reassign(ctx, f.admin, req.ID, []uuid.UUID{c.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reassigned.Status)
	assert.Equal(t, []string{c.ID.String()}, []string(reassigned.PharmacyIDs))
	assert.Nil(t, reassigned.ExpiresAt)
	assert.Nil(t, reassigned.AcceptedAt)
	assert.Contains(t, f.push.tokens(), "device-charlie")

	_, err = f.requests.Accept(ctx, c, req.ID)
	require.NoError(t, err)
}

func TestRequestService_AdminOverrides(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addPharmacy(t, "alpha")
	req := f.createCityRequest(t)

	_, err := f.requests.SetStatus(ctx, f.admin, req.ID, "bogus")
	requireErrorKind[*ValidationError](t, err)

	updated, err := f.requests.SetStatus(ctx, f.admin, req.ID, models.StatusRefused)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefused, updated.Status)
	assert.Equal(t, models.EventStatusSet, updated.History[len(updated.History)-1].Event)

	_, err = f.requests.SetStatus(ctx, f.admin, uuid.New(), models.StatusPending)
	requireErrorKind[*NotFoundError](t, err)

	err = f.requests.Delete(ctx, f.client, req.ID)
	requireErrorKind[*AuthorizationError](t, err)

	require.NoError(t, f.requests.Delete(ctx, f.admin, req.ID))
	_, err = f.requests.Get(ctx, f.admin, req.ID)
	requireErrorKind[*NotFoundError](t, err)

	err = f.requests.Delete(ctx, f.admin, req.ID)
	requireErrorKind[*NotFoundError](t, err)
}

func TestRequestService_SetStatusKeepsHoldConsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha")
	f.addPharmacy(t, "beta")
	req := f.createCityRequest(t)

	_, err := f.requests.SetStatus(ctx, f.admin, req.ID, models.StatusInProgress)
	requireErrorKind[*ValidationError](t, err)
	unchanged, err := f.requests.Get(ctx, f.admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, unchanged.Status)

	_, err = f.requests.Reassign(ctx, f.admin, req.ID, []uuid.UUID{a.ID})
	require.NoError(t, err)
	held, err := f.requests.SetStatus(ctx, f.admin, req.ID, models.StatusInProgress)
	require.NoError(t, err)
	require.NotNil(t, held.AcceptedAt)
	require.NotNil(t, held.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(2*time.Hour), *held.ExpiresAt)

	f.clock.Advance(72 * time.Hour)
	n, err := f.requests.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	expired, err := f.requests.Get(ctx, f.admin, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expired.Status)

	reopened, err := f.requests.SetStatus(ctx, f.admin, req.ID, models.StatusPending)
	require.NoError(t, err)
	assert.Nil(t, reopened.ExpiresAt)
	assert.Nil(t, reopened.AcceptedAt)

	done, err := f.requests.SetStatus(ctx, f.admin, req.ID, models.StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, done.PickedUpAt)
	assert.Equal(t, f.clock.Now(), *done.PickedUpAt)
}

func TestRequestService_GetIsParticipantScoped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha")
	other := f.addPharmacy(t, "other", inCity(f.thies, f.mbour))
	req := f.createCityRequest(t)

	_, err := f.requests.Get(ctx, f.client, req.ID)
	assert.NoError(t, err)
	_, err = f.requests.Get(ctx, a, req.ID)
	assert.NoError(t, err)
	_, err = f.requests.Get(ctx, other, req.ID)
	requireErrorKind[*AuthorizationError](t, err)
	_, err = f.requests.Get(ctx, models.ClientActor(uuid.New()), req.ID)
	requireErrorKind[*AuthorizationError](t, err)
}

func TestRequestService_Listings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha")
	first := f.createCityRequest(t)
	f.createCityRequest(t)

	mine, total, err := f.requests.ListForClient(ctx, f.client, repository.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)
	assert.Equal(t, int64(2), total)

	_, err = f.requests.Refuse(ctx, a, first.ID)
	require.NoError(t, err)

	offered, err := f.requests.ListForPharmacy(ctx, a)
	require.NoError(t, err)
	assert.Len(t, offered, 1)

	_, _, err = f.requests.ListAll(ctx, f.client, repository.RequestFilter{})
	requireErrorKind[*AuthorizationError](t, err)
}

func TestRequestService_ExpireOverdueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha")
	held := f.createCityRequest(t)
	waiting := f.createCityRequest(t)

	_, err := f.requests.Accept(ctx, a, held.ID)
	require.NoError(t, err)

	n, err := f.requests.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(3 * time.Hour)
	n, err = f.requests.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.requests.ExpireOverdue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	expired, err := f.requests.Get(ctx, f.admin, held.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expired.Status)
	last := expired.History[len(expired.History)-1]
	assert.Equal(t, models.EventExpired, last.Event)
	assert.Nil(t, last.ActorID)

	untouched, err := f.requests.Get(ctx, f.admin, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, untouched.Status)

	assert.Eventually(t, func() bool {
		return len(f.events.ofType(models.EventRequestExpired)) == 1
	}, time.Second, 10*time.Millisecond)
}
