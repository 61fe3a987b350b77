package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

// DirectoryHandlers serves region and city reference data
type DirectoryHandlers struct {
	service *services.DirectoryService
	logger  *logrus.Logger
}

func NewDirectoryHandlers(service *services.DirectoryService, logger *logrus.Logger) *DirectoryHandlers {
	return &DirectoryHandlers{service: service, logger: logger}
}

// RegisterRoutes mounts the public directory routes
func (h *DirectoryHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/regions", h.ListRegions)
	rg.GET("/cities", h.ListCities)
}

// ListRegions lists every region
// GET /api/v1/regions
func (h *DirectoryHandlers) ListRegions(c *gin.Context) {
	regions, err := h.service.ListRegions(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "list regions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": regions, "total": len(regions)})
}

// ListCities lists cities, optionally of one region
// GET /api/v1/cities?region_id=
func (h *DirectoryHandlers) ListCities(c *gin.Context) {
	var regionID *uuid.UUID
	if raw := c.Query("region_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "Invalid region_id", nil)
			return
		}
		regionID = &id
	}

	cities, err := h.service.ListCities(c.Request.Context(), regionID)
	if err != nil {
		respondError(c, h.logger, err, "list cities")
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cities, "total": len(cities)})
}
