package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

// UserHandlers handles client profile endpoints
type UserHandlers struct {
	service *services.AccountService
	logger  *logrus.Logger
}

// NewUserHandlers creates a new user handlers instance
func NewUserHandlers(service *services.AccountService, logger *logrus.Logger) *UserHandlers {
	return &UserHandlers{service: service, logger: logger}
}

// RegisterRoutes mounts the profile routes on an authenticated group
func (h *UserHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/users/:id", h.GetProfile)
	rg.PUT("/users/:id", h.UpdateProfile)
}

// GetProfile returns a user profile
// GET /api/v1/users/:id
func (h *UserHandlers) GetProfile(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	user, err := h.service.GetProfile(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err, "get profile")
		return
	}

	c.JSON(http.StatusOK, user)
}

type updateProfileBody struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	Region    *string `json:"region"`
	City      *string `json:"city"`
	Active    *bool   `json:"active"`
}

// UpdateProfile applies a partial profile change
// PUT /api/v1/users/:id
func (h *UserHandlers) UpdateProfile(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body updateProfileBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	user, err := h.service.UpdateProfile(c.Request.Context(), actor, id, services.UpdateProfileInput{
		FirstName:  body.FirstName,
		LastName:   body.LastName,
		Phone:      body.Phone,
		Email:      body.Email,
		Password:   body.Password,
		RegionName: body.Region,
		CityName:   body.City,
		Active:     body.Active,
	})
	if err != nil {
		respondError(c, h.logger, err, "update profile")
		return
	}

	c.JSON(http.StatusOK, user)
}
