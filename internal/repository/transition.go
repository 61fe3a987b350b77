package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/tesseract-hub/pharmacy-request-service/internal/models"
)

// Guard is the condition a request row must satisfy at write time
type Guard struct {
	Statuses []models.RequestStatus

	// Member requires the pharmacy to be in pharmacy_ids
	Member *uuid.UUID

	// SoleMember requires pharmacy_ids to be exactly this pharmacy
	SoleMember *uuid.UUID

	// DueBy requires a hold deadline at or before the instant
	DueBy *time.Time

	// LiveAt requires no hold deadline or one after the instant
	LiveAt *time.Time
}

// Changes are the column updates a transition applies
type Changes struct {
	Status            *models.RequestStatus
	ReplacePharmacies bool
	PharmacyIDs       []uuid.UUID
	RemovePharmacy    *uuid.UUID
	AcceptedAt        *time.Time
	ExpiresAt         *time.Time
	PickedUpAt        *time.Time
	ClearHold         bool
}

// Transition is a guarded, atomic change of one request plus its audit entry
type Transition struct {
	RequestID uuid.UUID
	Guard     Guard
	Changes   Changes
	Entry     models.StatusEntry
}

// Matches evaluates the guard against an in-memory request
func (g Guard) Matches(req *models.Request) bool {
	if len(g.Statuses) > 0 {
		ok := false
		for _, s := range g.Statuses {
			if req.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if g.Member != nil && !req.HasPharmacy(*g.Member) {
		return false
	}
	if g.SoleMember != nil && !req.IsSoleAssignee(*g.SoleMember) {
		return false
	}
	if g.DueBy != nil && (req.ExpiresAt == nil || req.ExpiresAt.After(*g.DueBy)) {
		return false
	}
	if g.LiveAt != nil && req.ExpiresAt != nil && !req.ExpiresAt.After(*g.LiveAt) {
		return false
	}
	return true
}

// Scope adds the guard as WHERE conditions
func (g Guard) Scope(db *gorm.DB) *gorm.DB {
	if len(g.Statuses) > 0 {
		statuses := make([]string, len(g.Statuses))
		for i, s := range g.Statuses {
			statuses[i] = string(s)
		}
		db = db.Where("status IN ?", statuses)
	}
	if g.Member != nil {
		db = db.Where("?::text = ANY(pharmacy_ids)", g.Member.String())
	}
	if g.SoleMember != nil {
		db = db.Where("pharmacy_ids = ARRAY[?::text]", g.SoleMember.String())
	}
	if g.DueBy != nil {
		db = db.Where("expires_at IS NOT NULL AND expires_at <= ?", *g.DueBy)
	}
	if g.LiveAt != nil {
		db = db.Where("(expires_at IS NULL OR expires_at > ?)", *g.LiveAt)
	}
	return db
}

// ApplyTo mutates an in-memory request
func (c Changes) ApplyTo(req *models.Request) {
	if c.Status != nil {
		req.Status = *c.Status
	}
	if c.ReplacePharmacies {
		req.PharmacyIDs = toStringArray(c.PharmacyIDs)
	}
	if c.RemovePharmacy != nil {
		kept := pq.StringArray{}
		for _, p := range req.PharmacyIDs {
			if p != c.RemovePharmacy.String() {
				kept = append(kept, p)
			}
		}
		req.PharmacyIDs = kept
	}
	if c.ClearHold {
		req.AcceptedAt = nil
		req.ExpiresAt = nil
	}
	if c.AcceptedAt != nil {
		t := *c.AcceptedAt
		req.AcceptedAt = &t
	}
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		req.ExpiresAt = &t
	}
	if c.PickedUpAt != nil {
		t := *c.PickedUpAt
		req.PickedUpAt = &t
	}
}

// Columns returns the update map for the SQL implementation
func (c Changes) Columns() map[string]interface{} {
	cols := make(map[string]interface{})
	if c.Status != nil {
		cols["status"] = string(*c.Status)
	}
	if c.ReplacePharmacies {
		cols["pharmacy_ids"] = toStringArray(c.PharmacyIDs)
	}
	if c.RemovePharmacy != nil {
		cols["pharmacy_ids"] = gorm.Expr("array_remove(pharmacy_ids, ?::text)", c.RemovePharmacy.String())
	}
	if c.ClearHold {
		cols["accepted_at"] = nil
		cols["expires_at"] = nil
	}
	if c.AcceptedAt != nil {
		cols["accepted_at"] = *c.AcceptedAt
	}
	if c.ExpiresAt != nil {
		cols["expires_at"] = *c.ExpiresAt
	}
	if c.PickedUpAt != nil {
		cols["picked_up_at"] = *c.PickedUpAt
	}
	return cols
}

func toStringArray(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id.String())
	}
	return out
}
