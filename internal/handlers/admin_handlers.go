package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/middleware"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
	"github.com/tesseract-hub/pharmacy-request-service/internal/scheduler"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

// SweepRunner triggers a periodic job on demand
type SweepRunner interface {
	RunNow(ctx context.Context, job string) (*scheduler.JobRun, error)
}

// AdminHandlers handles pharmacy management and maintenance endpoints
type AdminHandlers struct {
	accounts      *services.AccountService
	subscriptions *services.SubscriptionService
	sweeper       SweepRunner
	logger        *logrus.Logger
}

// NewAdminHandlers creates a new admin handlers instance
func NewAdminHandlers(
	accounts *services.AccountService,
	subscriptions *services.SubscriptionService,
	sweeper SweepRunner,
	logger *logrus.Logger,
) *AdminHandlers {
	return &AdminHandlers{
		accounts:      accounts,
		subscriptions: subscriptions,
		sweeper:       sweeper,
		logger:        logger,
	}
}

// RegisterRoutes mounts the admin routes on an authenticated group
func (h *AdminHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	admin := rg.Group("/admin", middleware.RequireRole(models.ActorAdmin))
	{
		admin.POST("/pharmacies", h.CreatePharmacy)
		admin.GET("/pharmacies", h.ListPharmacies)
		admin.POST("/pharmacies/:id/subscription", h.ExtendSubscription)
		admin.PUT("/pharmacies/:id/active", h.SetPharmacyActive)
		admin.POST("/sweeps/:job", h.RunSweep)
	}
}

type createPharmacyBody struct {
	Name     string                  `json:"name" binding:"required"`
	Address  string                  `json:"address"`
	Phone    string                  `json:"phone" binding:"required"`
	Email    string                  `json:"email" binding:"required"`
	Password string                  `json:"password" binding:"required"`
	Region   string                  `json:"region" binding:"required"`
	City     string                  `json:"city" binding:"required"`
	MapsURL  string                  `json:"maps_url"`
	Plan     models.SubscriptionPlan `json:"plan"`
}

// CreatePharmacy registers a pharmacy account
// POST /api/v1/admin/pharmacies
func (h *AdminHandlers) CreatePharmacy(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var body createPharmacyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	pharmacy, err := h.accounts.CreatePharmacy(c.Request.Context(), actor, services.CreatePharmacyInput{
		Name:       body.Name,
		Address:    body.Address,
		Phone:      body.Phone,
		Email:      body.Email,
		Password:   body.Password,
		RegionName: body.Region,
		CityName:   body.City,
		MapsURL:    body.MapsURL,
		Plan:       body.Plan,
	})
	if err != nil {
		respondError(c, h.logger, err, "create pharmacy")
		return
	}

	c.JSON(http.StatusCreated, pharmacy)
}

// ListPharmacies lists pharmacies, optionally by location and active flag
// GET /api/v1/admin/pharmacies
func (h *AdminHandlers) ListPharmacies(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var filter repository.PharmacyFilter
	if id, err := uuid.Parse(c.Query("region_id")); err == nil {
		filter.RegionID = &id
	}
	if id, err := uuid.Parse(c.Query("city_id")); err == nil {
		filter.CityID = &id
	}
	if active, err := strconv.ParseBool(c.Query("active")); err == nil {
		filter.Active = &active
	}

	pharmacies, err := h.accounts.ListPharmacies(c.Request.Context(), actor, filter)
	if err != nil {
		respondError(c, h.logger, err, "list pharmacies")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  pharmacies,
		"total": len(pharmacies),
	})
}

type extendBody struct {
	Plan models.SubscriptionPlan `json:"plan" binding:"required"`
}

// ExtendSubscription adds a plan period to a pharmacy's subscription
// POST /api/v1/admin/pharmacies/:id/subscription
func (h *AdminHandlers) ExtendSubscription(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body extendBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	pharmacy, err := h.subscriptions.Extend(c.Request.Context(), actor, id, body.Plan)
	if err != nil {
		respondError(c, h.logger, err, "extend subscription")
		return
	}

	c.JSON(http.StatusOK, pharmacy)
}

type activeBody struct {
	Active *bool `json:"active" binding:"required"`
}

// SetPharmacyActive toggles the pharmacy's operational flag
// PUT /api/v1/admin/pharmacies/:id/active
func (h *AdminHandlers) SetPharmacyActive(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body activeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	pharmacy, err := h.subscriptions.SetPharmacyActive(c.Request.Context(), actor, id, *body.Active)
	if err != nil {
		respondError(c, h.logger, err, "update pharmacy")
		return
	}

	c.JSON(http.StatusOK, pharmacy)
}

// RunSweep runs a periodic job immediately and reports its outcome
// POST /api/v1/admin/sweeps/:job
func (h *AdminHandlers) RunSweep(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "UNAVAILABLE", "message": "Scheduler is not configured"})
		return
	}

	run, err := h.sweeper.RunNow(c.Request.Context(), c.Param("job"))
	if err != nil {
		respondError(c, h.logger, err, "run sweep")
		return
	}

	c.JSON(http.StatusOK, run)
}
