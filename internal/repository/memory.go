package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

// MemoryStore keeps every aggregate in process memory. It backs local runs
// without Postgres and honours the same conditional-update contract as the
// SQL repositories: each guarded write is checked and applied under one lock.
type MemoryStore struct {
	mu         sync.RWMutex
	requests   map[uuid.UUID]*models.Request
	pharmacies map[uuid.UUID]*models.Pharmacy
	users      map[uuid.UUID]*models.User
	messages   []models.Message
	complaints map[uuid.UUID]*models.Complaint
	regions    map[uuid.UUID]*models.Region
	cities     map[uuid.UUID]*models.City
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:   make(map[uuid.UUID]*models.Request),
		pharmacies: make(map[uuid.UUID]*models.Pharmacy),
		users:      make(map[uuid.UUID]*models.User),
		complaints: make(map[uuid.UUID]*models.Complaint),
		regions:    make(map[uuid.UUID]*models.Region),
		cities:     make(map[uuid.UUID]*models.City),
	}
}

func (s *MemoryStore) Requests() RequestRepository { return &memoryRequests{s} }
func (s *MemoryStore) Pharmacies() PharmacyRepository { return &memoryPharmacies{s} }
func (s *MemoryStore) Users() UserRepository { return &memoryUsers{s} }
func (s *MemoryStore) Messages() MessageRepository { return &memoryMessages{s} }
func (s *MemoryStore) Directory() DirectoryRepository { return &memoryDirectory{s} }
func (s *MemoryStore) Complaints() ComplaintRepository { return &memoryComplaints{s} }

func copyRequest(r *models.Request) *models.Request {
	c := *r
	c.Items = append(c.Items[:0:0], r.Items...)
	c.PharmacyIDs = append(pq.StringArray{}, r.PharmacyIDs...)
	c.History = append([]models.StatusEntry(nil), r.History...)
	c.AcceptedAt = copyTime(r.AcceptedAt)
	c.ExpiresAt = copyTime(r.ExpiresAt)
	c.PickedUpAt = copyTime(r.PickedUpAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type memoryRequests struct{ s *MemoryStore }

func (m *memoryRequests) Create(ctx context.Context, req *models.Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.PharmacyIDs == nil {
		req.PharmacyIDs = pq.StringArray{}
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	for i := range req.History {
		if req.History[i].ID == uuid.Nil {
			req.History[i].ID = uuid.New()
		}
		req.History[i].RequestID = req.ID
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.requests[req.ID] = copyRequest(req)
	return nil
}

func (m *memoryRequests) GetByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	req, ok := m.s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRequest(req), nil
}

func (m *memoryRequests) List(ctx context.Context, filter RequestFilter) ([]models.Request, int64, error) {
	m.s.mu.RLock()
	var matched []models.Request
	for _, req := range m.s.requests {
		if matchesFilter(req, filter) {
			c := copyRequest(req)
			c.History = nil
			matched = append(matched, *c)
		}
	}
	m.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))

	limit := 50
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	if filter.Offset >= len(matched) {
		return []models.Request{}, total, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func matchesFilter(req *models.Request, f RequestFilter) bool {
	if f.ClientID != nil && req.ClientID != *f.ClientID {
		return false
	}
	if f.Status != "" && req.Status != f.Status {
		return false
	}
	if f.Zone != "" && req.Zone != f.Zone {
		return false
	}
	if f.RegionID != nil && (req.RegionID == nil || *req.RegionID != *f.RegionID) {
		return false
	}
	if f.CityID != nil && (req.CityID == nil || *req.CityID != *f.CityID) {
		return false
	}
	if f.FromDate != nil && req.CreatedAt.Before(*f.FromDate) {
		return false
	}
	if f.ToDate != nil && req.CreatedAt.After(*f.ToDate) {
		return false
	}
	return true
}

func (m *memoryRequests) ListForPharmacy(ctx context.Context, pharmacyID uuid.UUID) ([]models.Request, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []models.Request
	for _, req := range m.s.requests {
		if req.HasPharmacy(pharmacyID) && (req.Status == models.StatusPending || req.Status == models.StatusInProgress) {
			c := copyRequest(req)
			c.History = nil
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryRequests) Apply(ctx context.Context, t *Transition) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	req, ok := m.s.requests[t.RequestID]
	if !ok || !t.Guard.Matches(req) {
		return false, nil
	}
	t.Changes.ApplyTo(req)
	req.UpdatedAt = time.Now().UTC()

	entry := t.Entry
	entry.ID = uuid.New()
	entry.RequestID = t.RequestID
	req.History = append(req.History, entry)
	return true, nil
}

func (m *memoryRequests) ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var ids []uuid.UUID
	for id, req := range m.s.requests {
		if req.IsOverdue(now) {
			ids = append(ids, id)
		}
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (m *memoryRequests) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.requests[id]; !ok {
		return false, nil
	}
	delete(m.s.requests, id)
	kept := m.s.messages[:0]
	for _, msg := range m.s.messages {
		if msg.RequestID != id {
			kept = append(kept, msg)
		}
	}
	m.s.messages = kept
	return true, nil
}

type memoryPharmacies struct{ s *MemoryStore }

func (m *memoryPharmacies) Create(ctx context.Context, p *models.Pharmacy) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c := *p
	m.s.pharmacies[p.ID] = &c
	return nil
}

func (m *memoryPharmacies) GetByID(ctx context.Context, id uuid.UUID) (*models.Pharmacy, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.pharmacies[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memoryPharmacies) GetByPhone(ctx context.Context, phone string) (*models.Pharmacy, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, p := range m.s.pharmacies {
		if p.Phone == phone {
			c := *p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryPharmacies) ExistsByContact(ctx context.Context, phone, email string) (bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, p := range m.s.pharmacies {
		if p.Phone == phone || p.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryPharmacies) List(ctx context.Context, filter PharmacyFilter) ([]models.Pharmacy, error) {
	m.s.mu.RLock()
	var out []models.Pharmacy
	for _, p := range m.s.pharmacies {
		if filter.RegionID != nil && p.RegionID != *filter.RegionID {
			continue
		}
		if filter.CityID != nil && p.CityID != *filter.CityID {
			continue
		}
		if filter.Active != nil && p.Active != *filter.Active {
			continue
		}
		out = append(out, *p)
	}
	m.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryPharmacies) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Pharmacy, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []models.Pharmacy
	for _, id := range ids {
		if p, ok := m.s.pharmacies[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memoryPharmacies) FindEligible(ctx context.Context, filter EligibilityFilter) ([]models.Pharmacy, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []models.Pharmacy
	for _, p := range m.s.pharmacies {
		if !p.IsEligible(filter.Now) {
			continue
		}
		if filter.RegionID != nil && p.RegionID != *filter.RegionID {
			continue
		}
		if filter.CityID != nil && p.CityID != *filter.CityID {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *memoryPharmacies) ListExpiredSubscriptions(ctx context.Context, now time.Time) ([]models.Pharmacy, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []models.Pharmacy
	for _, p := range m.s.pharmacies {
		if p.Subscription.Active && p.Subscription.PeriodEnd.Before(now) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memoryPharmacies) DeactivateSubscription(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.pharmacies[id]
	if !ok || !p.Subscription.Active || !p.Subscription.PeriodEnd.Before(now) {
		return false, nil
	}
	p.Subscription.Active = false
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memoryPharmacies) UpdateSubscription(ctx context.Context, id uuid.UUID, sub models.Subscription) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.pharmacies[id]
	if !ok {
		return ErrNotFound
	}
	p.Subscription = sub
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryPharmacies) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.pharmacies[id]
	if !ok {
		return false, nil
	}
	p.Active = active
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memoryPharmacies) RecordLogin(ctx context.Context, id uuid.UUID, pushToken *string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.pharmacies[id]
	if !ok {
		return ErrNotFound
	}
	p.PushToken = pushToken
	p.LastLoginAt = copyTime(&at)
	return nil
}

func (m *memoryPharmacies) SetResetCode(ctx context.Context, id uuid.UUID, code string, expires time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.pharmacies[id]
	if !ok {
		return ErrNotFound
	}
	p.ResetCode, p.ResetCodeExpires = &code, copyTime(&expires)
	return nil
}

func (m *memoryPharmacies) ResetPassword(ctx context.Context, id uuid.UUID, code, hash string, now time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.pharmacies[id]
	if !ok || !resetCodeMatches(p.ResetCode, p.ResetCodeExpires, code, now) {
		return false, nil
	}
	p.PasswordHash = hash
	p.ResetCode, p.ResetCodeExpires = nil, nil
	return true, nil
}

type memoryUsers struct{ s *MemoryStore }

func (m *memoryUsers) Create(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c := *u
	m.s.users[u.ID] = &c
	return nil
}

func (m *memoryUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memoryUsers) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, u := range m.s.users {
		if u.Phone == phone {
			c := *u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryUsers) ExistsByContact(ctx context.Context, phone, email string) (bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, u := range m.s.users {
		if u.Phone == phone {
			return true, nil
		}
		if email != "" && u.Email != nil && *u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryUsers) RecordLogin(ctx context.Context, id uuid.UUID, pushToken *string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PushToken = pushToken
	return nil
}

func (m *memoryUsers) Update(ctx context.Context, u *models.User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored, ok := m.s.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	stored.FirstName, stored.LastName = u.FirstName, u.LastName
	stored.Phone, stored.Email = u.Phone, u.Email
	stored.PasswordHash = u.PasswordHash
	stored.RegionID, stored.CityID = u.RegionID, u.CityID
	stored.Active = u.Active
	stored.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryUsers) SetResetCode(ctx context.Context, id uuid.UUID, code string, expires time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.ResetCode, u.ResetCodeExpires = &code, copyTime(&expires)
	return nil
}

func (m *memoryUsers) ResetPassword(ctx context.Context, id uuid.UUID, code, hash string, now time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok || !resetCodeMatches(u.ResetCode, u.ResetCodeExpires, code, now) {
		return false, nil
	}
	u.PasswordHash = hash
	u.ResetCode, u.ResetCodeExpires = nil, nil
	return true, nil
}

func resetCodeMatches(stored *string, expires *time.Time, code string, now time.Time) bool {
	return stored != nil && *stored == code && expires != nil && expires.After(now)
}

type memoryMessages struct{ s *MemoryStore }

func (m *memoryMessages) Create(ctx context.Context, msg *models.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.messages = append(m.s.messages, *msg)
	return nil
}

func (m *memoryMessages) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]models.Message, error) {
	m.s.mu.RLock()
	var out []models.Message
	for _, msg := range m.s.messages {
		if msg.RequestID == requestID {
			out = append(out, msg)
		}
	}
	m.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

type memoryDirectory struct{ s *MemoryStore }

func (m *memoryDirectory) FindRegionByName(ctx context.Context, name string) (*models.Region, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, r := range m.s.regions {
		if strings.EqualFold(r.Name, name) {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryDirectory) FindCityByName(ctx context.Context, name string, regionID uuid.UUID) (*models.City, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, c := range m.s.cities {
		if c.RegionID == regionID && strings.EqualFold(c.Name, name) {
			cc := *c
			return &cc, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryDirectory) GetRegion(ctx context.Context, id uuid.UUID) (*models.Region, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	r, ok := m.s.regions[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *memoryDirectory) GetCity(ctx context.Context, id uuid.UUID) (*models.City, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	c, ok := m.s.cities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (m *memoryDirectory) ListRegions(ctx context.Context) ([]models.Region, error) {
	m.s.mu.RLock()
	out := make([]models.Region, 0, len(m.s.regions))
	for _, r := range m.s.regions {
		out = append(out, *r)
	}
	m.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryDirectory) ListCities(ctx context.Context, regionID *uuid.UUID) ([]models.City, error) {
	m.s.mu.RLock()
	out := make([]models.City, 0, len(m.s.cities))
	for _, c := range m.s.cities {
		if regionID == nil || c.RegionID == *regionID {
			out = append(out, *c)
		}
	}
	m.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryDirectory) CountRegions(ctx context.Context) (int64, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	return int64(len(m.s.regions)), nil
}

func (m *memoryDirectory) CreateRegion(ctx context.Context, r *models.Region) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	c := *r
	m.s.regions[r.ID] = &c
	return nil
}

func (m *memoryDirectory) CreateCity(ctx context.Context, c *models.City) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cc := *c
	m.s.cities[c.ID] = &cc
	return nil
}

type memoryComplaints struct{ s *MemoryStore }

func copyComplaint(c *models.Complaint) *models.Complaint {
	out := *c
	if c.Response != nil {
		r := *c.Response
		out.Response = &r
	}
	out.ResolvedAt = copyTime(c.ResolvedAt)
	return &out
}

func (m *memoryComplaints) Create(ctx context.Context, c *models.Complaint) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.complaints[c.ID] = copyComplaint(c)
	return nil
}

func (m *memoryComplaints) GetByID(ctx context.Context, id uuid.UUID) (*models.Complaint, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	c, ok := m.s.complaints[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyComplaint(c), nil
}

func (m *memoryComplaints) List(ctx context.Context, filter ComplaintFilter) ([]models.Complaint, error) {
	m.s.mu.RLock()
	out := make([]models.Complaint, 0, len(m.s.complaints))
	for _, c := range m.s.complaints {
		if filter.AuthorKind != "" && c.AuthorKind != filter.AuthorKind {
			continue
		}
		if filter.AuthorID != nil && c.AuthorID != *filter.AuthorID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, *copyComplaint(c))
	}
	m.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *memoryComplaints) Update(ctx context.Context, c *models.Complaint) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored, ok := m.s.complaints[c.ID]
	if !ok {
		return ErrNotFound
	}
	updated := copyComplaint(c)
	stored.Status = updated.Status
	stored.Response = updated.Response
	stored.ResolvedAt = updated.ResolvedAt
	stored.UpdatedAt = time.Now().UTC()
	return nil
}
