// Package domain contains the core domain models for the leadflow service.
package domain

import (
	"fmt"
	"time"
)

// LeadStatus represents the lifecycle state of a lead
type LeadStatus string

const (
	LeadStatusNew         LeadStatus = "new"
	LeadStatusContacted   LeadStatus = "contacted"
	LeadStatusClosed      LeadStatus = "closed"
	LeadStatusLost        LeadStatus = "lost"
	LeadStatusUnreachable LeadStatus = "unreachable"
)

// ValidStatus reports whether s is a known lead status
func ValidStatus(s LeadStatus) bool {
	switch s {
	case LeadStatusNew, LeadStatusContacted, LeadStatusClosed, LeadStatusLost, LeadStatusUnreachable:
		return true
	default:
		return false
	}
}

// ClaimableStatus reports whether s is a status a claim may target.
// "new" is the creation-time state and never a claim target.
func ClaimableStatus(s LeadStatus) bool {
	return ValidStatus(s) && s != LeadStatusNew
}

// Lead represents a sales lead record.
// The version column is the optimistic-lock token for the general update path;
// owner_id doubles as the claim token (a non-null owner means claimed).
type Lead struct {
	ID      string     `db:"id"       json:"id"`
	Version int64      `db:"version"  json:"version"`
	Status  LeadStatus `db:"status"   json:"status"`

	OwnerID   *string `db:"owner_id"   json:"owner_id,omitempty"`
	OwnerName *string `db:"owner_name" json:"owner_name,omitempty"`

	Email     string `db:"email"      json:"email"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name"  json:"last_name"`
	Company   string `db:"company"    json:"company"`
	Domain    string `db:"domain"     json:"domain"`
	Phone     string `db:"phone"      json:"phone,omitempty"`
	Source    string `db:"source"     json:"source,omitempty"`

	// Enrichment fields, set once at creation time
	Industry     string   `db:"industry"      json:"industry"`
	TalkingPoint string   `db:"talking_point" json:"talking_point,omitempty"`
	Website      *string  `db:"website"       json:"website,omitempty"`
	Capital      *string  `db:"capital"       json:"capital,omitempty"`
	Sector       *string  `db:"sector"        json:"sector,omitempty"`
	Confidence   float64  `db:"confidence"    json:"confidence"`
	CampaignID   *string  `db:"campaign_id"   json:"campaign_id,omitempty"`
	CampaignName *string  `db:"campaign_name" json:"campaign_name,omitempty"`

	ContactedAt   *time.Time `db:"contacted_at"   json:"contacted_at,omitempty"`
	ClosedAt      *time.Time `db:"closed_at"      json:"closed_at,omitempty"`
	LostAt        *time.Time `db:"lost_at"        json:"lost_at,omitempty"`
	UnreachableAt *time.Time `db:"unreachable_at" json:"unreachable_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsClaimed reports whether the lead has an owner
func (l *Lead) IsClaimed() bool {
	return l.OwnerID != nil && *l.OwnerID != ""
}

// OwnedBy reports whether userID is the current owner
func (l *Lead) OwnedBy(userID string) bool {
	return l.OwnerID != nil && *l.OwnerID == userID
}

// ApplyStatus transitions the lead to status as a single mutation.
// Invariant: at most one of closed_at/lost_at/unreachable_at is set at any
// time; stamping one clears the other two.
func (l *Lead) ApplyStatus(status LeadStatus, now time.Time) error {
	if !ValidStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	switch status {
	case LeadStatusContacted:
		l.ContactedAt = &now
	case LeadStatusClosed:
		l.ClosedAt = &now
		l.LostAt = nil
		l.UnreachableAt = nil
	case LeadStatusLost:
		l.LostAt = &now
		l.ClosedAt = nil
		l.UnreachableAt = nil
	case LeadStatusUnreachable:
		l.UnreachableAt = &now
		l.ClosedAt = nil
		l.LostAt = nil
	case LeadStatusNew:
		// Creation-time state, no timestamp to stamp
	}

	l.Status = status
	l.UpdatedAt = now
	return nil
}
