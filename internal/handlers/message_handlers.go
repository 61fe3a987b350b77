package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/middleware"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

// MessageHandlers handles HTTP requests for request threads
type MessageHandlers struct {
	service *services.MessageService
	logger  *logrus.Logger
}

// NewMessageHandlers creates a new message handlers instance
func NewMessageHandlers(service *services.MessageService, logger *logrus.Logger) *MessageHandlers {
	return &MessageHandlers{service: service, logger: logger}
}

// RegisterRoutes mounts the thread routes on an authenticated group
func (h *MessageHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/requests/:id/messages", h.ListMessages)
	rg.POST("/requests/:id/messages",
		middleware.RequireRole(models.ActorClient, models.ActorPharmacy), h.PostMessage)
}

type postMessageBody struct {
	Recipient models.Participant `json:"recipient"`
	Body      string             `json:"body"`
}

// PostMessage appends a message to a request thread
// POST /api/v1/requests/:id/messages
func (h *MessageHandlers) PostMessage(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body postMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	msg, err := h.service.PostMessage(c.Request.Context(), actor, requestID, body.Recipient, body.Body)
	if err != nil {
		respondError(c, h.logger, err, "post message")
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// ListMessages returns a request thread oldest first
// GET /api/v1/requests/:id/messages
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "id")
	if !ok {
		return
	}

	messages, err := h.service.ListMessages(c.Request.Context(), actor, requestID)
	if err != nil {
		respondError(c, h.logger, err, "list messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": requestID,
		"messages":   messages,
		"count":      len(messages),
	})
}
