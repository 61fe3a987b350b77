package seeder

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
)

// RegionData is a region with the cities it contains
type RegionData struct {
	Name   string
	Cities []string
}

// SeedDirectory loads the region and city reference data and returns the
// number of regions inserted. It does nothing when regions already exist.
func SeedDirectory(ctx context.Context, repo repository.DirectoryRepository, data []RegionData, logger *logrus.Logger) (int, error) {
	count, err := repo.CountRegions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count regions: %w", err)
	}
	if count > 0 {
		logger.WithField("regions", count).Info("Directory already seeded, skipping")
		return 0, nil
	}

	regions, cities := 0, 0
	for _, rd := range data {
		region := &models.Region{Name: rd.Name}
		if err := repo.CreateRegion(ctx, region); err != nil {
			logger.WithError(err).WithField("region", rd.Name).Warn("Failed to seed region")
			continue
		}
		regions++
		for _, name := range rd.Cities {
			if err := repo.CreateCity(ctx, &models.City{Name: name, RegionID: region.ID}); err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"region": rd.Name,
					"city":   name,
				}).Warn("Failed to seed city")
				continue
			}
			cities++
		}
	}

	logger.WithFields(logrus.Fields{
		"regions": regions,
		"cities":  cities,
	}).Info("Directory seeded")
	return regions, nil
}

// DefaultRegions returns the governorates and main cities served at launch
func DefaultRegions() []RegionData {
	return []RegionData{
		{Name: "Tunis", Cities: []string{"Tunis", "La Marsa", "Carthage", "Le Bardo", "Sidi Bou Said"}},
		{Name: "Ariana", Cities: []string{"Ariana", "La Soukra", "Raoued", "Ettadhamen"}},
		{Name: "Ben Arous", Cities: []string{"Ben Arous", "Rades", "Ezzahra", "Hammam Lif", "Megrine"}},
		{Name: "Manouba", Cities: []string{"Manouba", "Den Den", "Oued Ellil", "Tebourba"}},
		{Name: "Nabeul", Cities: []string{"Nabeul", "Hammamet", "Kelibia", "Korba"}},
		{Name: "Zaghouan", Cities: []string{"Zaghouan", "El Fahs"}},
		{Name: "Bizerte", Cities: []string{"Bizerte", "Menzel Bourguiba", "Mateur", "Ras Jebel"}},
		{Name: "Beja", Cities: []string{"Beja", "Medjez el-Bab", "Testour"}},
		{Name: "Jendouba", Cities: []string{"Jendouba", "Tabarka", "Ain Draham"}},
		{Name: "Le Kef", Cities: []string{"Le Kef", "Dahmani", "Tajerouine"}},
		{Name: "Siliana", Cities: []string{"Siliana", "Makthar", "Gaafour"}},
		{Name: "Sousse", Cities: []string{"Sousse", "Hammam Sousse", "Msaken", "Akouda"}},
		{Name: "Monastir", Cities: []string{"Monastir", "Moknine", "Ksar Hellal", "Jemmal"}},
		{Name: "Mahdia", Cities: []string{"Mahdia", "El Jem", "Ksour Essef"}},
		{Name: "Sfax", Cities: []string{"Sfax", "Sakiet Ezzit", "Sakiet Eddaier", "El Hencha"}},
		{Name: "Kairouan", Cities: []string{"Kairouan", "Haffouz", "Sbikha"}},
		{Name: "Kasserine", Cities: []string{"Kasserine", "Sbeitla", "Feriana"}},
		{Name: "Sidi Bouzid", Cities: []string{"Sidi Bouzid", "Regueb", "Meknassy"}},
		{Name: "Gabes", Cities: []string{"Gabes", "El Hamma", "Mareth"}},
		{Name: "Medenine", Cities: []string{"Medenine", "Djerba Houmt Souk", "Zarzis", "Ben Gardane"}},
		{Name: "Tataouine", Cities: []string{"Tataouine", "Ghomrassen", "Remada"}},
		{Name: "Gafsa", Cities: []string{"Gafsa", "Metlaoui", "Redeyef"}},
		{Name: "Tozeur", Cities: []string{"Tozeur", "Nefta", "Degache"}},
		{Name: "Kebili", Cities: []string{"Kebili", "Douz", "Souk Lahad"}},
	}
}
