package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

// AccountHandlers handles sign-up and login
type AccountHandlers struct {
	service *services.AccountService
	logger  *logrus.Logger
}

// NewAccountHandlers creates a new account handlers instance
func NewAccountHandlers(service *services.AccountService, logger *logrus.Logger) *AccountHandlers {
	return &AccountHandlers{service: service, logger: logger}
}

// RegisterRoutes mounts the public auth routes
func (h *AccountHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	auth := rg.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.LoginUser)
		auth.POST("/pharmacy/login", h.LoginPharmacy)
		auth.POST("/forgot-password", h.forgotPassword(models.ActorClient))
		auth.POST("/reset-password", h.resetPassword(models.ActorClient))
		auth.POST("/pharmacy/forgot-password", h.forgotPassword(models.ActorPharmacy))
		auth.POST("/pharmacy/reset-password", h.resetPassword(models.ActorPharmacy))
	}
}

type registerBody struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone" binding:"required"`
	Email     string `json:"email"`
	Password  string `json:"password" binding:"required"`
	Region    string `json:"region"`
	City      string `json:"city"`
}

// Register creates a client account
// POST /api/v1/auth/register
func (h *AccountHandlers) Register(c *gin.Context) {
	var body registerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	user, err := h.service.RegisterClient(c.Request.Context(), services.RegisterClientInput{
		FirstName:  body.FirstName,
		LastName:   body.LastName,
		Phone:      body.Phone,
		Email:      body.Email,
		Password:   body.Password,
		RegionName: body.Region,
		CityName:   body.City,
	})
	if err != nil {
		respondError(c, h.logger, err, "register")
		return
	}

	c.JSON(http.StatusCreated, user)
}

type loginBody struct {
	Phone     string  `json:"phone" binding:"required"`
	Password  string  `json:"password" binding:"required"`
	PushToken *string `json:"push_token"`
}

// LoginUser authenticates a client or administrator
// POST /api/v1/auth/login
func (h *AccountHandlers) LoginUser(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	result, err := h.service.LoginUser(c.Request.Context(), body.Phone, body.Password, body.PushToken)
	if err != nil {
		respondError(c, h.logger, err, "log in")
		return
	}

	c.JSON(http.StatusOK, result)
}

// LoginPharmacy authenticates a pharmacy
// POST /api/v1/auth/pharmacy/login
func (h *AccountHandlers) LoginPharmacy(c *gin.Context) {
	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	result, err := h.service.LoginPharmacy(c.Request.Context(), body.Phone, body.Password, body.PushToken)
	if err != nil {
		respondError(c, h.logger, err, "log in")
		return
	}

	c.JSON(http.StatusOK, result)
}

type forgotPasswordBody struct {
	Phone string `json:"phone" binding:"required"`
}

// forgotPassword sends a reset code to the account's device. The response is
// the same whether or not the phone is registered.
// POST /api/v1/auth/forgot-password
// POST /api/v1/auth/pharmacy/forgot-password
func (h *AccountHandlers) forgotPassword(kind models.ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body forgotPasswordBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}

		if err := h.service.RequestPasswordReset(c.Request.Context(), kind, body.Phone); err != nil {
			respondError(c, h.logger, err, "request password reset")
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"message": "If the account exists, a reset code has been sent to its device",
		})
	}
}

type resetPasswordBody struct {
	Phone       string `json:"phone" binding:"required"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// resetPassword sets a new password from a reset code
// POST /api/v1/auth/reset-password
// POST /api/v1/auth/pharmacy/reset-password
func (h *AccountHandlers) resetPassword(kind models.ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body resetPasswordBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}

		if err := h.service.ResetPassword(c.Request.Context(), kind, body.Phone, body.Code, body.NewPassword); err != nil {
			respondError(c, h.logger, err, "reset password")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "Password updated"})
	}
}
