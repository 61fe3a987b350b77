package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseract-hub/pharmacy-request-service/internal/auth"
	"github.com/tesseract-hub/pharmacy-request-service/internal/middleware"
	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
	"github.com/tesseract-hub/pharmacy-request-service/internal/repository"
	"github.com/tesseract-hub/pharmacy-request-service/internal/scheduler"
	"github.com/tesseract-hub/pharmacy-request-service/internal/seeder"
	"github.com/tesseract-hub/pharmacy-request-service/internal/services"
)

const (
	adminPhone    = "+21670000001"
	adminPassword = "admin-secret"
)

type memoryBlobs struct {
	mu    sync.Mutex
	names []string
}

func (b *memoryBlobs) Store(ctx context.Context, name, contentType string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append(b.names, name)
	return "https://blobs.test/prescriptions/" + name, nil
}

type stubSweeper struct {
	jobs []string
}

func (s *stubSweeper) RunNow(ctx context.Context, job string) (*scheduler.JobRun, error) {
	if job != scheduler.JobRequests && job != scheduler.JobSubscriptions {
		return nil, services.NewValidationError("job", "unknown job")
	}
	s.jobs = append(s.jobs, job)
	return &scheduler.JobRun{Job: job, StartedAt: time.Now(), Affected: 2}, nil
}

type server struct {
	router   *gin.Engine
	store    *repository.MemoryStore
	requests *services.RequestService
	blobs    *memoryBlobs
	sweeper  *stubSweeper
}

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T, source EventSource) *server {
	t.Helper()
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := repository.NewMemoryStore()
	_, err := seeder.SeedDirectory(ctx, store.Directory(), []seeder.RegionData{
		{Name: "Tunis", Cities: []string{"Tunis", "La Marsa"}},
		{Name: "Sfax", Cities: []string{"Sfax"}},
	}, logger)
	require.NoError(t, err)

	tokens, err := auth.NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)

	blobs := &memoryBlobs{}
	deps := services.Collaborators{Blobs: blobs}
	directory := services.NewDirectoryService(store.Directory(), nil, logger)
	eligibility := services.NewEligibilityResolver(store.Pharmacies(), deps)
	requestService := services.NewRequestService(store.Requests(), store.Pharmacies(), store.Users(),
		directory, eligibility, services.RequestServiceConfig{}, deps, logger)
	messageService := services.NewMessageService(store.Messages(), store.Requests(), store.Users(), store.Pharmacies(), deps, logger)
	subscriptionService := services.NewSubscriptionService(store.Pharmacies(), deps, logger)
	accountService := services.NewAccountService(store.Users(), store.Pharmacies(), directory, tokens, deps, logger)
	require.NoError(t, accountService.EnsureAdmin(ctx, adminPhone, adminPassword))
	complaintService := services.NewComplaintService(store.Complaints(), store.Users(), store.Pharmacies(), deps, logger)

	sweeper := &stubSweeper{}
	router := gin.New()
	router.Use(middleware.Recovery(logger), middleware.RequestID())
	NewHealthHandlers().RegisterRoutes(router)

	api := router.Group("/api/v1")
	NewAccountHandlers(accountService, logger).RegisterRoutes(api)
	NewDirectoryHandlers(directory, logger).RegisterRoutes(api)

	protected := api.Group("", middleware.Authenticate(tokens))
	NewRequestHandlers(requestService, logger).RegisterRoutes(protected)
	NewMessageHandlers(messageService, logger).RegisterRoutes(protected)
	NewAdminHandlers(accountService, subscriptionService, sweeper, logger).RegisterRoutes(protected)
	NewUserHandlers(accountService, logger).RegisterRoutes(protected)
	NewComplaintHandlers(complaintService, logger).RegisterRoutes(protected)
	NewEventStreamHandlers(requestService, source, logger).RegisterRoutes(protected)

	return &server{router: router, store: store, requests: requestService, blobs: blobs, sweeper: sweeper}
}

func (s *server) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *server) login(t *testing.T, path, phone, password string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, path, "", gin.H{"phone": phone, "password": password, "push_token": "device-" + phone})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[services.LoginResult](t, w).Token
}

func (s *server) adminToken(t *testing.T) string {
	return s.login(t, "/api/v1/auth/login", adminPhone, adminPassword)
}

func (s *server) registerClient(t *testing.T, phone string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"first_name": "Amel",
		"phone":      phone,
		"password":   "client-secret",
		"region":     "Tunis",
		"city":       "Tunis",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return s.login(t, "/api/v1/auth/login", phone, "client-secret")
}

func (s *server) createPharmacy(t *testing.T, admin, name, phone string) (uuid.UUID, string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/admin/pharmacies", admin, gin.H{
		"name":     name,
		"phone":    phone,
		"email":    strings.ToLower(name) + "@pharma.test",
		"password": "pharmacy-secret",
		"region":   "Tunis",
		"city":     "Tunis",
		"plan":     "1_month",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := decode[models.Pharmacy](t, w)
	return p.ID, s.login(t, "/api/v1/auth/pharmacy/login", phone, "pharmacy-secret")
}

func (s *server) createRequest(t *testing.T, client string) models.Request {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/requests", client, gin.H{
		"items":  []gin.H{{"name": "Paracetamol 500mg", "quantity": 2}},
		"zone":   "city",
		"region": "Tunis",
		"city":   "Tunis",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Request](t, w)
}

func TestRequestFlow(t *testing.T) {
	s := newServer(t, nil)
	admin := s.adminToken(t)
	client := s.registerClient(t, "+21698000001")
	alphaID, alpha := s.createPharmacy(t, admin, "Alpha", "+21671000001")
	_, beta := s.createPharmacy(t, admin, "Beta", "+21671000002")

	req := s.createRequest(t, client)
	assert.Equal(t, models.StatusPending, req.Status)
	assert.Len(t, req.PharmacyIDs, 2)

	w := s.do(t, http.MethodGet, "/api/v1/requests", beta, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), req.ID.String())

	w = s.do(t, http.MethodPost, "/api/v1/requests/"+req.ID.String()+"/accept", alpha, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	accepted := decode[models.Request](t, w)
	assert.Equal(t, models.StatusInProgress, accepted.Status)
	assert.Equal(t, []string{alphaID.String()}, []string(accepted.PharmacyIDs))

	w = s.do(t, http.MethodPost, "/api/v1/requests/"+req.ID.String()+"/accept", beta, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", decode[gin.H](t, w)["error"])

	w = s.do(t, http.MethodPost, "/api/v1/requests/"+req.ID.String()+"/complete", alpha, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusCompleted, decode[models.Request](t, w).Status)

	w = s.do(t, http.MethodGet, "/api/v1/requests/"+req.ID.String(), client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[models.Request](t, w).History, 3)

	w = s.do(t, http.MethodGet, "/api/v1/requests", client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[gin.H](t, w)["total"])
}

func TestRequestErrors(t *testing.T) {
	s := newServer(t, nil)
	admin := s.adminToken(t)
	client := s.registerClient(t, "+21698000001")
	other := s.registerClient(t, "+21698000002")
	_, pharmacy := s.createPharmacy(t, admin, "Alpha", "+21671000001")
	req := s.createRequest(t, client)
	base := "/api/v1/requests/" + req.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		want   int
	}{
		{"no token", http.MethodGet, base, "", nil, http.StatusUnauthorized},
		{"malformed id", http.MethodGet, "/api/v1/requests/not-a-uuid", client, nil, http.StatusBadRequest},
		{"unknown request", http.MethodGet, "/api/v1/requests/" + uuid.NewString(), admin, nil, http.StatusNotFound},
		{"other client", http.MethodGet, base, other, nil, http.StatusForbidden},
		{"client accepts", http.MethodPost, base + "/accept", client, nil, http.StatusForbidden},
		{"pharmacy creates", http.MethodPost, "/api/v1/requests", pharmacy, gin.H{"zone": "city"}, http.StatusForbidden},
		{"bad zone", http.MethodPost, "/api/v1/requests", client, gin.H{"zone": "planet", "items": []gin.H{{"name": "x", "quantity": 1}}}, http.StatusBadRequest},
		{"unknown city", http.MethodPost, "/api/v1/requests", client, gin.H{"zone": "city", "region": "Tunis", "city": "Atlantis", "items": []gin.H{{"name": "x", "quantity": 1}}}, http.StatusNotFound},
		{"complete pending", http.MethodPost, base + "/complete", pharmacy, nil, http.StatusConflict},
		{"bad status", http.MethodPut, base + "/status", admin, gin.H{"status": "lost"}, http.StatusBadRequest},
		{"empty reassign", http.MethodPut, base + "/pharmacies", admin, gin.H{"pharmacy_ids": []string{}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestAdminRequestOperations(t *testing.T) {
	s := newServer(t, nil)
	admin := s.adminToken(t)
	client := s.registerClient(t, "+21698000001")
	_, _ = s.createPharmacy(t, admin, "Alpha", "+21671000001")
	betaID, _ := s.createPharmacy(t, admin, "Beta", "+21671000002")
	req := s.createRequest(t, client)
	base := "/api/v1/requests/" + req.ID.String()

	w := s.do(t, http.MethodPut, base+"/pharmacies", admin, gin.H{"pharmacy_ids": []string{betaID.String()}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{betaID.String()}, []string(decode[models.Request](t, w).PharmacyIDs))

	w = s.do(t, http.MethodPut, base+"/status", admin, gin.H{"status": "refused"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusRefused, decode[models.Request](t, w).Status)

	w = s.do(t, http.MethodGet, "/api/v1/requests?status=refused", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[gin.H](t, w)["total"])

	w = s.do(t, http.MethodDelete, base, admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, base, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMultipartCreate(t *testing.T) {
	s := newServer(t, nil)
	admin := s.adminToken(t)
	client := s.registerClient(t, "+21698000001")
	_, _ = s.createPharmacy(t, admin, "Alpha", "+21671000001")

	post := func(size int) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("zone", "region"))
		require.NoError(t, mw.WriteField("region", "Tunis"))
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="prescription"; filename="scan.pdf"`)
		header.Set("Content-Type", "application/pdf")
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(bytes.Repeat([]byte("x"), size))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+client)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	w := post(1024)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[models.Request](t, w)
	require.NotNil(t, created.PrescriptionURL)
	assert.Contains(t, *created.PrescriptionURL, "scan.pdf")
	assert.Empty(t, created.Items)
	assert.Equal(t, []string{"scan.pdf"}, s.blobs.names)

	w = post(5<<20 + 1)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestMessages(t *testing.T) {
	s := newServer(t, nil)
	admin := s.adminToken(t)
	client := s.registerClient(t, "+21698000001")
	pharmacyID, pharmacy := s.createPharmacy(t, admin, "Alpha", "+21671000001")
	req := s.createRequest(t, client)
	thread := "/api/v1/requests/" + req.ID.String() + "/messages"

	w := s.do(t, http.MethodPost, thread, client, gin.H{
		"recipient": gin.H{"kind": "pharmacy", "id": pharmacyID},
		"body":      "Do you have it in stock?",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, thread, pharmacy, gin.H{
		"recipient": gin.H{"kind": "client", "id": req.ClientID},
		"body":      "Yes, two boxes.",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, thread, admin, gin.H{
		"recipient": gin.H{"kind": "client", "id": req.ClientID},
		"body":      "Hello",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, thread, client, gin.H{
		"recipient": gin.H{"kind": "pharmacy", "id": pharmacyID},
		"body":      "",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, thread, admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Messages []models.Message `json:"messages"`
		Count    int              `json:"count"`
	}](t, w)
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "Do you have it in stock?", body.Messages[0].Body)
	assert.Equal(t, "Yes, two boxes.", body.Messages[1].Body)
}

func TestAuthEndpoints(t *testing.T) {
	s := newServer(t, nil)
	s.registerClient(t, "+21698000001")

	w := s.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"phone": "+21698000001", "password": "another-secret"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"phone": "+21698000001", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decode[gin.H](t, w)["error"])

	w = s.do(t, http.MethodPost, "/api/v1/auth/pharmacy/login", "", gin.H{"phone": "+21698000001", "password": "client-secret"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"phone": "+21698000001"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminPharmacyEndpoints(t *testing.T) {
	s := newServer(t, nil)
	admin := s.adminToken(t)
	client := s.registerClient(t, "+21698000001")
	pharmacyID, _ := s.createPharmacy(t, admin, "Alpha", "+21671000001")
	base := "/api/v1/admin/pharmacies/" + pharmacyID.String()

	w := s.do(t, http.MethodGet, "/api/v1/admin/pharmacies", client, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, base+"/subscription", admin, gin.H{"plan": "3_months"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p := decode[models.Pharmacy](t, w)
	assert.Equal(t, models.PlanQuarterly, p.Subscription.Plan)
	assert.True(t, p.Subscription.PeriodEnd.After(time.Now().AddDate(0, 3, 0)))

	w = s.do(t, http.MethodPost, base+"/subscription", admin, gin.H{"plan": "2_weeks"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPut, base+"/active", admin, gin.H{"active": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[models.Pharmacy](t, w).Active)

	w = s.do(t, http.MethodPut, base+"/active", admin, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/admin/pharmacies?active=false", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[gin.H](t, w)["total"])

	w = s.do(t, http.MethodPost, "/api/v1/admin/pharmacies", admin, gin.H{
		"name": "Dup", "phone": "+21671000001", "email": "dup@pharma.test", "password": "pharmacy-secret",
		"region": "Tunis", "city": "Tunis", "plan": "1_month",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRunSweep(t *testing.T) {
	s := newServer(t, nil)
	admin := s.adminToken(t)

	w := s.do(t, http.MethodPost, "/api/v1/admin/sweeps/requests", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[scheduler.JobRun](t, w).Affected)

	w = s.do(t, http.MethodPost, "/api/v1/admin/sweeps/invoices", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{scheduler.JobRequests}, s.sweeper.jobs)
}

func TestDirectoryEndpoints(t *testing.T) {
	s := newServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/v1/regions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	regions := decode[struct {
		Data []models.Region `json:"data"`
	}](t, w)
	require.Len(t, regions.Data, 2)

	var tunis models.Region
	for _, r := range regions.Data {
		if r.Name == "Tunis" {
			tunis = r
		}
	}
	w = s.do(t, http.MethodGet, "/api/v1/cities?region_id="+tunis.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode[gin.H](t, w)["total"])

	w = s.do(t, http.MethodGet, "/api/v1/cities?region_id=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type failingCheck struct{ err error }

func (f failingCheck) Health(ctx context.Context) error { return f.err }

func TestHealthEndpoints(t *testing.T) {
	h := NewHealthHandlers()
	h.AddCheck("database", failingCheck{})
	h.AddStats("scheduler", func() map[string]interface{} { return map[string]interface{}{"running": true} })
	r := gin.New()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/stats", nil))
	assert.Contains(t, w.Body.String(), `"running":true`)

	h.AddCheck("redis", failingCheck{err: errors.New("connection refused")})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

type channelSource struct {
	events chan *models.Event
}

func (s *channelSource) SubscribeToAll(ctx context.Context) (<-chan *models.Event, func(), error) {
	return s.events, func() {}, nil
}

func TestStreamEvents(t *testing.T) {
	source := &channelSource{events: make(chan *models.Event, 1)}
	s := newServer(t, source)
	admin := s.adminToken(t)

	requestID := uuid.New()
	source.events <- &models.Event{ID: "evt-1", Type: models.EventRequestAccepted, RequestID: &requestID}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/events/stream?access_token="+admin, nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.router.ServeHTTP(w, req)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, `"type":"connected"`)
	assert.Contains(t, body, fmt.Sprintf(`"request_id":"%s"`, requestID))
}

func TestStreamEvents_RequiresAdmin(t *testing.T) {
	s := newServer(t, nil)
	client := s.registerClient(t, "+21698000001")

	w := s.do(t, http.MethodGet, "/api/v1/admin/events/stream", client, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPasswordResetEndpoints(t *testing.T) {
	s := newServer(t, nil)
	ctx := context.Background()
	s.registerClient(t, "+21698000001")

	w := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", "", gin.H{"phone": "+21698000001"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	generic := w.Body.String()

	w = s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", "", gin.H{"phone": "+21698009999"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, generic, w.Body.String(), "unknown phones get the same answer")

	user, err := s.store.Users().GetByPhone(ctx, "+21698000001")
	require.NoError(t, err)
	require.NotNil(t, user.ResetCode)

	w = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", gin.H{
		"phone": "+21698000001", "code": "000000", "new_password": "fresh-secret",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "code", decode[gin.H](t, w)["field"])

	w = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", gin.H{"phone": "+21698000001"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", gin.H{
		"phone": "+21698000001", "code": *user.ResetCode, "new_password": "fresh-secret",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s.login(t, "/api/v1/auth/login", "+21698000001", "fresh-secret")

	admin := s.adminToken(t)
	_, _ = s.createPharmacy(t, admin, "Alpha", "+21671000001")
	w = s.do(t, http.MethodPost, "/api/v1/auth/pharmacy/forgot-password", "", gin.H{"phone": "+21671000001"})
	require.Equal(t, http.StatusAccepted, w.Code)
	p, err := s.store.Pharmacies().GetByPhone(ctx, "+21671000001")
	require.NoError(t, err)
	require.NotNil(t, p.ResetCode)

	w = s.do(t, http.MethodPost, "/api/v1/auth/pharmacy/reset-password", "", gin.H{
		"phone": "+21671000001", "code": *p.ResetCode, "new_password": "pharmacy-fresh",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s.login(t, "/api/v1/auth/pharmacy/login", "+21671000001", "pharmacy-fresh")
}

func TestProfileEndpoints(t *testing.T) {
	s := newServer(t, nil)
	client := s.registerClient(t, "+21698000001")
	other := s.registerClient(t, "+21698000002")
	user, err := s.store.Users().GetByPhone(context.Background(), "+21698000001")
	require.NoError(t, err)
	path := "/api/v1/users/" + user.ID.String()

	w := s.do(t, http.MethodGet, path, client, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "+21698000001", decode[models.User](t, w).Phone)

	w = s.do(t, http.MethodGet, path, other, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, path, client, gin.H{"last_name": "Ben Ali", "region": "Sfax", "city": "Sfax"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[models.User](t, w)
	assert.Equal(t, "Ben Ali", updated.LastName)
	assert.Equal(t, "Amel", updated.FirstName)
	require.NotNil(t, updated.CityID)
	assert.NotEqual(t, *user.CityID, *updated.CityID)

	w = s.do(t, http.MethodPut, path, client, gin.H{"region": "Nowhere"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPut, path, client, gin.H{"phone": "+21698000002"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPut, path, client, gin.H{"active": false})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, path, s.adminToken(t), gin.H{"active": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[models.User](t, w).Active)

	w = s.do(t, http.MethodGet, "/api/v1/users/not-a-uuid", client, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestComplaintEndpoints(t *testing.T) {
	s := newServer(t, nil)
	admin := s.adminToken(t)
	client := s.registerClient(t, "+21698000001")
	_, alpha := s.createPharmacy(t, admin, "Alpha", "+21671000001")

	w := s.do(t, http.MethodPost, "/api/v1/complaints", client, gin.H{"subject": "Late", "description": "Never delivered"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	filed := decode[models.Complaint](t, w)
	assert.Equal(t, models.ComplaintOpen, filed.Status)
	path := "/api/v1/complaints/" + filed.ID.String()

	w = s.do(t, http.MethodPost, "/api/v1/complaints", alpha, gin.H{"subject": "Spam", "description": "Fake requests"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/v1/complaints", admin, gin.H{"subject": "x", "description": "y"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodPost, "/api/v1/complaints", client, gin.H{"subject": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	type listing struct {
		Complaints []models.Complaint `json:"complaints"`
		Count      int                `json:"count"`
	}
	w = s.do(t, http.MethodGet, "/api/v1/complaints", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[listing](t, w).Count)

	w = s.do(t, http.MethodGet, "/api/v1/complaints?author_kind=pharmacy", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[listing](t, w).Count)

	w = s.do(t, http.MethodGet, "/api/v1/complaints", client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	own := decode[listing](t, w)
	require.Equal(t, 1, own.Count)
	assert.Equal(t, filed.ID, own.Complaints[0].ID)

	w = s.do(t, http.MethodGet, "/api/v1/complaints?status=closed", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, path, alpha, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, path+"/response", client, gin.H{"message": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodPost, path+"/response", admin, gin.H{"message": "On it"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.ComplaintInProgress, decode[models.Complaint](t, w).Status)

	w = s.do(t, http.MethodPut, path+"/status", admin, gin.H{"status": "closed"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPut, path+"/status", admin, gin.H{"status": "resolved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, path, client, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Complaint](t, w)
	assert.Equal(t, models.ComplaintResolved, got.Status)
	require.NotNil(t, got.Response)
	assert.Equal(t, "On it", *got.Response)
	assert.NotNil(t, got.ResolvedAt)

	w = s.do(t, http.MethodGet, "/api/v1/complaints/"+uuid.New().String(), admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
