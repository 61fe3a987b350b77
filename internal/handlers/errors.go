package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/middleware"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

// respondError maps a service error to its HTTP status and error code
func respondError(c *gin.Context, logger *logrus.Logger, err error, action string) {
	if ve, ok := services.IsValidationError(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "VALIDATION_ERROR", "message": ve.Error(), "field": ve.Field})
		return
	}
	if ae, ok := services.IsAuthorizationError(err); ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN", "message": ae.Error()})
		return
	}
	if ne, ok := services.IsNotFoundError(err); ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": ne.Error()})
		return
	}
	if ce, ok := services.IsConflictError(err); ok {
		c.JSON(http.StatusConflict, gin.H{"error": "CONFLICT", "message": ce.Error()})
		return
	}
	if errors.Is(err, services.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "INVALID_CREDENTIALS", "message": err.Error()})
		return
	}
	if de, ok := services.IsDependencyError(err); ok {
		logger.WithError(err).WithFields(logrus.Fields{
			"action":     action,
			"dependency": de.Dependency,
			"request_id": c.GetString("request_id"),
		}).Error("Dependency failure")
		c.JSON(http.StatusBadGateway, gin.H{"error": "DEPENDENCY_UNAVAILABLE", "message": "A required service is unavailable, please retry"})
		return
	}

	logger.WithError(err).WithFields(logrus.Fields{
		"action":     action,
		"request_id": c.GetString("request_id"),
	}).Error("Request failed")
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL_ERROR", "message": "Failed to " + action})
}

func badRequest(c *gin.Context, message string, details error) {
	body := gin.H{"error": "INVALID_REQUEST", "message": message}
	if details != nil {
		body["details"] = details.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

// pathID parses a uuid path parameter, writing a 400 when it is malformed
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "Invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

// currentActor returns the authenticated actor. Routes are mounted behind
// middleware.Authenticate, so a missing actor is a wiring bug.
func currentActor(c *gin.Context) (models.Actor, bool) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "Authentication required"})
	}
	return actor, ok
}
