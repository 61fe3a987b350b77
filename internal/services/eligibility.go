package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
)

// EligibilityResolver computes which pharmacies may see a request. Results
// are recomputed on every call from current pharmacy state.
type EligibilityResolver struct {
	pharmacies repository.PharmacyRepository
	deps       Collaborators
}

func NewEligibilityResolver(pharmacies repository.PharmacyRepository, deps Collaborators) *EligibilityResolver {
	return &EligibilityResolver{pharmacies: pharmacies, deps: deps}
}

// Resolve returns the ids of eligible pharmacies for a zone and location
func (r *EligibilityResolver) Resolve(ctx context.Context, zone models.Zone, regionID, cityID *uuid.UUID) ([]uuid.UUID, error) {
	pharmacies, err := r.Eligible(ctx, zone, regionID, cityID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(pharmacies))
	for i := range pharmacies {
		ids[i] = pharmacies[i].ID
	}
	return ids, nil
}

// Eligible returns the eligible pharmacies ordered by id
func (r *EligibilityResolver) Eligible(ctx context.Context, zone models.Zone, regionID, cityID *uuid.UUID) ([]models.Pharmacy, error) {
	filter := repository.EligibilityFilter{Now: r.deps.now()}

	switch zone {
	case models.ZoneCity:
		if regionID == nil || cityID == nil {
			return nil, NewValidationError("city", "city zone requires a region and a city")
		}
		filter.RegionID, filter.CityID = regionID, cityID
	case models.ZoneRegion:
		if regionID == nil {
			return nil, NewValidationError("region", "region zone requires a region")
		}
		filter.RegionID = regionID
	case models.ZoneNational:
	default:
		return nil, NewValidationError("zone", "must be one of city, region, national")
	}

	candidates, err := r.pharmacies.FindEligible(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve eligible pharmacies: %w", err)
	}

	eligible := make([]models.Pharmacy, 0, len(candidates))
	for _, p := range candidates {
		if !p.IsEligible(filter.Now) {
			continue
		}
		if filter.RegionID != nil && p.RegionID != *filter.RegionID {
			continue
		}
		if filter.CityID != nil && p.CityID != *filter.CityID {
			continue
		}
		eligible = append(eligible, p)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].ID.String() < eligible[j].ID.String()
	})
	return eligible, nil
}
