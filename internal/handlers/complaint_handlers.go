package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/middleware"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

// ComplaintHandlers handles complaint filing and administration
type ComplaintHandlers struct {
	service *services.ComplaintService
	logger  *logrus.Logger
}

// NewComplaintHandlers creates a new complaint handlers instance
func NewComplaintHandlers(service *services.ComplaintService, logger *logrus.Logger) *ComplaintHandlers {
	return &ComplaintHandlers{service: service, logger: logger}
}

// RegisterRoutes mounts the complaint routes on an authenticated group
func (h *ComplaintHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	complaints := rg.Group("/complaints")
	{
		complaints.POST("",
			middleware.RequireRole(models.ActorClient, models.ActorPharmacy), h.FileComplaint)
		complaints.GET("", h.ListComplaints)
		complaints.GET("/:id", h.GetComplaint)
		complaints.PUT("/:id/status", middleware.RequireRole(models.ActorAdmin), h.SetComplaintStatus)
		complaints.POST("/:id/response", middleware.RequireRole(models.ActorAdmin), h.RespondToComplaint)
	}
}

type fileComplaintBody struct {
	Subject     string `json:"subject" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// FileComplaint records a complaint from the caller
// POST /api/v1/complaints
func (h *ComplaintHandlers) FileComplaint(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var body fileComplaintBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	complaint, err := h.service.File(c.Request.Context(), actor, body.Subject, body.Description)
	if err != nil {
		respondError(c, h.logger, err, "file complaint")
		return
	}

	c.JSON(http.StatusCreated, complaint)
}

// ListComplaints returns complaints visible to the caller, newest first
// GET /api/v1/complaints
func (h *ComplaintHandlers) ListComplaints(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	filter := repository.ComplaintFilter{
		Status:     models.ComplaintStatus(c.Query("status")),
		AuthorKind: models.ActorKind(c.Query("author_kind")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		badRequest(c, "Invalid status", nil)
		return
	}
	if filter.AuthorKind != "" && !filter.AuthorKind.IsValid() {
		badRequest(c, "Invalid author_kind", nil)
		return
	}

	complaints, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		respondError(c, h.logger, err, "list complaints")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"complaints": complaints,
		"count":      len(complaints),
	})
}

// GetComplaint returns one complaint
// GET /api/v1/complaints/:id
func (h *ComplaintHandlers) GetComplaint(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	complaint, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err, "get complaint")
		return
	}

	c.JSON(http.StatusOK, complaint)
}

type complaintStatusBody struct {
	Status models.ComplaintStatus `json:"status" binding:"required"`
}

// SetComplaintStatus moves a complaint to a new status
// PUT /api/v1/complaints/:id/status
func (h *ComplaintHandlers) SetComplaintStatus(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body complaintStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	complaint, err := h.service.SetStatus(c.Request.Context(), actor, id, body.Status)
	if err != nil {
		respondError(c, h.logger, err, "update complaint status")
		return
	}

	c.JSON(http.StatusOK, complaint)
}

type complaintResponseBody struct {
	Message string `json:"message" binding:"required"`
}

// RespondToComplaint attaches an administrator's answer
// POST /api/v1/complaints/:id/response
func (h *ComplaintHandlers) RespondToComplaint(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body complaintResponseBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	complaint, err := h.service.Respond(c.Request.Context(), actor, id, body.Message)
	if err != nil {
		respondError(c, h.logger, err, "respond to complaint")
		return
	}

	c.JSON(http.StatusOK, complaint)
}
