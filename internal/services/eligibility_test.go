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

func TestEligibilityResolver_Zones(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plateau := f.addPharmacy(t, "plateau")
	pikine := f.addPharmacy(t, "pikine", inCity(f.dakar, f.pikine))
	mbour := f.addPharmacy(t, "mbour", inCity(f.thies, f.mbour))
	f.addPharmacy(t, "closed", inactive())
	f.addPharmacy(t, "lapsed", subscriptionEnds(f.clock.Now().Add(-time.Second)))

	resolver := NewEligibilityResolver(f.store.Pharmacies(), f.deps)

	tests := []struct {
		name     string
		zone     models.Zone
		regionID *uuid.UUID
		cityID   *uuid.UUID
		want     []uuid.UUID
	}{
		{"city", models.ZoneCity, &f.dakar, &f.plateau, []uuid.UUID{plateau.ID}},
		{"region", models.ZoneRegion, &f.dakar, nil, []uuid.UUID{plateau.ID, pikine.ID}},
		{"other region", models.ZoneRegion, &f.thies, nil, []uuid.UUID{mbour.ID}},
		{"national", models.ZoneNational, nil, nil, []uuid.UUID{plateau.ID, pikine.ID, mbour.ID}},
		{"city without pharmacies", models.ZoneCity, &f.thies, &f.pikine, []uuid.UUID{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(ctx, tt.zone, tt.regionID, tt.cityID)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestEligibilityResolver_OrderedByID(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		f.addPharmacy(t, name)
	}

	got, err := NewEligibilityResolver(f.store.Pharmacies(), f.deps).Resolve(context.Background(), models.ZoneNational, nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].String(), got[i].String())
	}
}

func TestEligibilityResolver_MissingLocation(t *testing.T) {
	f := newFixture(t)
	resolver := NewEligibilityResolver(f.store.Pharmacies(), f.deps)

	_, err := resolver.Resolve(context.Background(), models.ZoneCity, &f.dakar, nil)
	requireErrorKind[*ValidationError](t, err)

	_, err = resolver.Resolve(context.Background(), models.ZoneRegion, nil, nil)
	requireErrorKind[*ValidationError](t, err)

	_, err = resolver.Resolve(context.Background(), "galaxy", nil, nil)
	requireErrorKind[*ValidationError](t, err)
}

func TestEligibilityResolver_UsesCurrentState(t *testing.T) {
	f := newFixture(t)
	a := f.addPharmacy(t, "alpha", subscriptionEnds(f.clock.Now().Add(time.Hour)))
	resolver := NewEligibilityResolver(f.store.Pharmacies(), f.deps)

	got, err := resolver.Resolve(context.Background(), models.ZoneNational, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, got)

	f.clock.Advance(time.Hour)
	got, err = resolver.Resolve(context.Background(), models.ZoneNational, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
