package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tesseract-hub/pharmacy-request-service/internal/middleware"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
	"github.com/tesseract-hub/pharmacy-request-service/internal/storage"
)

// multipart overhead allowed on top of the prescription itself
const formOverhead = 1 << 20

// RequestHandlers handles HTTP requests for the request lifecycle
type RequestHandlers struct {
	service *services.RequestService
	logger  *logrus.Logger
}

// NewRequestHandlers creates a new request handlers instance
func NewRequestHandlers(service *services.RequestService, logger *logrus.Logger) *RequestHandlers {
	return &RequestHandlers{service: service, logger: logger}
}

// RegisterRoutes mounts the request routes on an authenticated group
func (h *RequestHandlers) RegisterRoutes(rg *gin.RouterGroup) {
	requests := rg.Group("/requests")
	{
		requests.POST("", middleware.RequireRole(models.ActorClient), h.CreateRequest)
		requests.GET("", h.ListRequests)
		requests.GET("/:id", h.GetRequest)

		requests.POST("/:id/accept", middleware.RequireRole(models.ActorPharmacy), h.AcceptRequest)
		requests.POST("/:id/refuse", middleware.RequireRole(models.ActorPharmacy), h.RefuseRequest)
		requests.POST("/:id/complete", middleware.RequireRole(models.ActorPharmacy), h.CompleteRequest)

		requests.PUT("/:id/pharmacies", middleware.RequireRole(models.ActorAdmin), h.ReassignRequest)
		requests.PUT("/:id/status", middleware.RequireRole(models.ActorAdmin), h.SetRequestStatus)
		requests.DELETE("/:id", middleware.RequireRole(models.ActorAdmin), h.DeleteRequest)
	}
}

type createRequestBody struct {
	Items  []models.LineItem `json:"items"`
	Zone   models.Zone       `json:"zone"`
	Region string            `json:"region"`
	City   string            `json:"city"`
}

// CreateRequest submits a new request. Accepts JSON, or multipart form data
// with an optional "prescription" file and the items as a JSON string.
// POST /api/v1/requests
func (h *RequestHandlers) CreateRequest(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var in services.CreateRequestInput
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		parsed, err := h.parseMultipart(c)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "PAYLOAD_TOO_LARGE", "message": "Prescription must not exceed 5 MB"})
				return
			}
			badRequest(c, "Invalid form data", err)
			return
		}
		in = *parsed
	} else {
		var body createRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
		in = services.CreateRequestInput{
			Items:      body.Items,
			Zone:       models.Zone(strings.ToLower(string(body.Zone))),
			RegionName: body.Region,
			CityName:   body.City,
		}
	}

	req, err := h.service.Create(c.Request.Context(), actor, in)
	if err != nil {
		respondError(c, h.logger, err, "create request")
		return
	}

	c.JSON(http.StatusCreated, req)
}

func (h *RequestHandlers) parseMultipart(c *gin.Context) (*services.CreateRequestInput, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, storage.MaxPrescriptionSize+formOverhead)
	if err := c.Request.ParseMultipartForm(storage.MaxPrescriptionSize + formOverhead); err != nil {
		return nil, err
	}

	in := &services.CreateRequestInput{
		Zone:       models.Zone(strings.ToLower(c.PostForm("zone"))),
		RegionName: c.PostForm("region"),
		CityName:   c.PostForm("city"),
	}
	if raw := c.PostForm("items"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Items); err != nil {
			return nil, err
		}
	}

	header, err := c.FormFile("prescription")
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil
	}
	if err != nil {
		return nil, err
	}
	if header.Size > storage.MaxPrescriptionSize {
		return nil, &http.MaxBytesError{Limit: storage.MaxPrescriptionSize}
	}

	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	in.Prescription = &services.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}
	return in, nil
}

// GetRequest retrieves a single request with its history
// GET /api/v1/requests/:id
func (h *RequestHandlers) GetRequest(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err, "get request")
		return
	}

	c.JSON(http.StatusOK, req)
}

// ListRequests lists the requests visible to the caller. Clients see their
// own, pharmacies what is offered to or held by them, admins everything.
// GET /api/v1/requests
func (h *RequestHandlers) ListRequests(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if actor.Kind == models.ActorPharmacy {
		requests, err := h.service.ListForPharmacy(ctx, actor)
		if err != nil {
			respondError(c, h.logger, err, "list requests")
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": requests, "total": len(requests)})
		return
	}

	filter := parseRequestFilter(c)
	var (
		requests []models.Request
		total    int64
		err      error
	)
	if actor.IsAdmin() {
		requests, total, err = h.service.ListAll(ctx, actor, filter)
	} else {
		requests, total, err = h.service.ListForClient(ctx, actor, filter)
	}
	if err != nil {
		respondError(c, h.logger, err, "list requests")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":   requests,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func parseRequestFilter(c *gin.Context) repository.RequestFilter {
	filter := repository.RequestFilter{
		Status: models.RequestStatus(c.Query("status")),
		Zone:   models.Zone(c.Query("zone")),
	}
	if id, err := uuid.Parse(c.Query("region_id")); err == nil {
		filter.RegionID = &id
	}
	if id, err := uuid.Parse(c.Query("city_id")); err == nil {
		filter.CityID = &id
	}
	if from, err := time.Parse(time.RFC3339, c.Query("from_date")); err == nil {
		filter.FromDate = &from
	}
	if to, err := time.Parse(time.RFC3339, c.Query("to_date")); err == nil {
		filter.ToDate = &to
	}

	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}

// AcceptRequest takes the exclusive hold on a pending request
// POST /api/v1/requests/:id/accept
func (h *RequestHandlers) AcceptRequest(c *gin.Context) {
	h.transition(c, "accept request", h.service.Accept)
}

// RefuseRequest withdraws the pharmacy from a pending request
// POST /api/v1/requests/:id/refuse
func (h *RequestHandlers) RefuseRequest(c *gin.Context) {
	h.transition(c, "refuse request", h.service.Refuse)
}

// CompleteRequest marks a held request as picked up
// POST /api/v1/requests/:id/complete
func (h *RequestHandlers) CompleteRequest(c *gin.Context) {
	h.transition(c, "complete request", h.service.Complete)
}

type transitionFunc func(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Request, error)

func (h *RequestHandlers) transition(c *gin.Context, action string, apply transitionFunc) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, err := apply(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err, action)
		return
	}

	c.JSON(http.StatusOK, req)
}

type reassignBody struct {
	PharmacyIDs []uuid.UUID `json:"pharmacy_ids"`
}

// ReassignRequest replaces the candidate pharmacies and reopens the request
// PUT /api/v1/requests/:id/pharmacies
func (h *RequestHandlers) ReassignRequest(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body reassignBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	req, err := h.service.Reassign(c.Request.Context(), actor, id, body.PharmacyIDs)
	if err != nil {
		respondError(c, h.logger, err, "reassign request")
		return
	}

	c.JSON(http.StatusOK, req)
}

type statusBody struct {
	Status models.RequestStatus `json:"status" binding:"required"`
}

// SetRequestStatus overrides the status of a request
// PUT /api/v1/requests/:id/status
func (h *RequestHandlers) SetRequestStatus(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body statusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	req, err := h.service.SetStatus(c.Request.Context(), actor, id, body.Status)
	if err != nil {
		respondError(c, h.logger, err, "set request status")
		return
	}

	c.JSON(http.StatusOK, req)
}

// DeleteRequest removes a request and its thread
// DELETE /api/v1/requests/:id
func (h *RequestHandlers) DeleteRequest(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), actor, id); err != nil {
		respondError(c, h.logger, err, "delete request")
		return
	}

	c.Status(http.StatusNoContent)
}
