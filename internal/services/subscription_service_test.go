package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

func TestSubscriptionService_RunSweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()
	lapsed := f.addPharmacy(t, "lapsed", subscriptionEnds(now.Add(-time.Minute)))
	f.addPharmacy(t, "current", subscriptionEnds(now.Add(time.Hour)))

	result, err := f.subs.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Zero(t, result.Failed)
	require.Len(t, result.Deactivated, 1)
	assert.Equal(t, lapsed.ID, result.Deactivated[0].ID)
	assert.Equal(t, "lapsed", result.Deactivated[0].Name)

	p, err := f.store.Pharmacies().GetByID(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.False(t, p.Subscription.Active)
	assert.True(t, p.Active, "operational flag is independent of billing")

	again, err := f.subs.RunSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Checked)
	assert.Empty(t, again.Deactivated)

	assert.Eventually(t, func() bool {
		events := f.events.ofType(models.EventSubscriptionExpired)
		return len(events) == 1 && *events[0].PharmacyID == lapsed.ID
	}, time.Second, 10*time.Millisecond)
}

func TestSubscriptionService_SweptPharmacyLosesNewRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addPharmacy(t, "lapsed", subscriptionEnds(f.clock.Now().Add(time.Hour)))
	kept := f.addPharmacy(t, "kept")

	f.clock.Advance(2 * time.Hour)
	_, err := f.subs.RunSweep(ctx)
	require.NoError(t, err)

	req := f.createCityRequest(t)
	assert.Equal(t, []string{kept.ID.String()}, []string(req.PharmacyIDs))
}

func TestSubscriptionService_Extend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.clock.Now()
	end := now.Add(10 * 24 * time.Hour)
	active := f.addPharmacy(t, "active", subscriptionEnds(end))
	lapsed := f.addPharmacy(t, "lapsed", subscriptionEnds(now.Add(-time.Hour)))
	_, err := f.subs.RunSweep(ctx)
	require.NoError(t, err)

	_, err = f.subs.Extend(ctx, f.client, active.ID, models.PlanQuarterly)
	requireErrorKind[*AuthorizationError](t, err)

	_, err = f.subs.Extend(ctx, f.admin, active.ID, "2_weeks")
	requireErrorKind[*ValidationError](t, err)

	_, err = f.subs.Extend(ctx, f.admin, uuid.New(), models.PlanMonthly)
	requireErrorKind[*NotFoundError](t, err)

	extended, err := f.subs.Extend(ctx, f.admin, active.ID, models.PlanQuarterly)
	require.NoError(t, err)
	assert.Equal(t, end.AddDate(0, 3, 0), extended.Subscription.PeriodEnd)
	assert.Equal(t, models.PlanQuarterly, extended.Subscription.Plan)

	restarted, err := f.subs.Extend(ctx, f.admin, lapsed.ID, models.PlanAnnual)
	require.NoError(t, err)
	assert.True(t, restarted.Subscription.Active)
	assert.Equal(t, now, restarted.Subscription.PeriodStart)
	assert.Equal(t, now.AddDate(1, 0, 0), restarted.Subscription.PeriodEnd)

	stored, err := f.store.Pharmacies().GetByID(ctx, lapsed.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsEligible(now))
}

func TestSubscriptionService_SetPharmacyActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha")

	_, err := f.subs.SetPharmacyActive(ctx, a, a.ID, false)
	requireErrorKind[*AuthorizationError](t, err)

	p, err := f.subs.SetPharmacyActive(ctx, f.admin, a.ID, false)
	require.NoError(t, err)
	assert.False(t, p.Active)
	assert.True(t, p.Subscription.Active)
	assert.False(t, p.IsEligible(f.clock.Now()))

	_, err = f.subs.SetPharmacyActive(ctx, f.admin, uuid.New(), true)
	requireErrorKind[*NotFoundError](t, err)
}
