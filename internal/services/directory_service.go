package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/cache"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
)

// DirectoryService resolves region and city names to identifiers
type DirectoryService struct {
	repo   repository.DirectoryRepository
	cache  *cache.DirectoryCache
	logger *logrus.Logger
}

// NewDirectoryService creates a new directory service. cache may be nil.
func NewDirectoryService(repo repository.DirectoryRepository, c *cache.DirectoryCache, logger *logrus.Logger) *DirectoryService {
	return &DirectoryService{repo: repo, cache: c, logger: logger}
}

// ResolveRegion returns the id of the named region
func (s *DirectoryService) ResolveRegion(ctx context.Context, name string) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, NewValidationError("region", "is required")
	}

	key := cache.RegionKey(name)
	if s.cache != nil {
		if id, err := s.cache.GetID(ctx, key); err == nil {
			return id, nil
		}
	}

	region, err := s.repo.FindRegionByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, NewNotFoundError("region", name)
		}
		return uuid.Nil, NewDependencyError("directory", err)
	}

	if s.cache != nil {
		s.cache.SetID(ctx, key, region.ID)
	}
	return region.ID, nil
}

// ResolveCity returns the id of the named city within a region
func (s *DirectoryService) ResolveCity(ctx context.Context, name string, regionID uuid.UUID) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, NewValidationError("city", "is required")
	}

	key := cache.CityKey(name, regionID)
	if s.cache != nil {
		if id, err := s.cache.GetID(ctx, key); err == nil {
			return id, nil
		}
	}

	city, err := s.repo.FindCityByName(ctx, name, regionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, NewNotFoundError("city", name)
		}
		return uuid.Nil, NewDependencyError("directory", err)
	}

	if s.cache != nil {
		s.cache.SetID(ctx, key, city.ID)
	}
	return city.ID, nil
}

// ResolveLocation resolves the names a zone needs. Names below the zone's
// granularity are ignored.
func (s *DirectoryService) ResolveLocation(ctx context.Context, zone models.Zone, regionName, cityName string) (*uuid.UUID, *uuid.UUID, error) {
	switch zone {
	case models.ZoneNational:
		return nil, nil, nil
	case models.ZoneRegion:
		regionID, err := s.ResolveRegion(ctx, regionName)
		if err != nil {
			return nil, nil, err
		}
		return &regionID, nil, nil
	case models.ZoneCity:
		if strings.TrimSpace(cityName) == "" {
			return nil, nil, NewValidationError("city", "is required for city zone")
		}
		regionID, err := s.ResolveRegion(ctx, regionName)
		if err != nil {
			return nil, nil, err
		}
		cityID, err := s.ResolveCity(ctx, cityName, regionID)
		if err != nil {
			return nil, nil, err
		}
		return &regionID, &cityID, nil
	}
	return nil, nil, NewValidationError("zone", "must be one of city, region, national")
}

func (s *DirectoryService) ListRegions(ctx context.Context) ([]models.Region, error) {
	regions, err := s.repo.ListRegions(ctx)
	if err != nil {
		return nil, NewDependencyError("directory", err)
	}
	return regions, nil
}

func (s *DirectoryService) ListCities(ctx context.Context, regionID *uuid.UUID) ([]models.City, error) {
	cities, err := s.repo.ListCities(ctx, regionID)
	if err != nil {
		return nil, NewDependencyError("directory", err)
	}
	return cities, nil
}
