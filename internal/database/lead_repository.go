package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/leadflow/internal/domain"
)

// leadSelectList is the column list for SELECT/RETURNING on leads (single source for schema changes)
const leadSelectList = `id, version, status, owner_id, owner_name,
			email, first_name, last_name, company, domain, phone, source,
			industry, talking_point, website, capital, sector, confidence,
			campaign_id, campaign_name,
			contacted_at, closed_at, lost_at, unreachable_at,
			created_at, updated_at`

// LeadRepository manages lead records in PostgreSQL
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository creates a new repository
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Ping verifies database connectivity
func (r *LeadRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Create inserts a new lead at version 1 and returns the stored record.
// The enrichment fields are written here and never mutated afterwards.
func (r *LeadRepository) Create(ctx context.Context, lead *domain.Lead) (*domain.Lead, error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = domain.LeadStatusNew
	}

	query := `
		INSERT INTO leads
			(id, version, status, email, first_name, last_name, company, domain,
			 phone, source, industry, talking_point, website, capital, sector,
			 confidence, campaign_id, campaign_name, created_at, updated_at)
		VALUES ($1, 1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			 $15, $16, $17, NOW(), NOW())
		RETURNING ` + leadSelectList

	var stored domain.Lead
	err := r.db.QueryRowxContext(ctx, query,
		lead.ID, lead.Status,
		lead.Email, lead.FirstName, lead.LastName, lead.Company, lead.Domain,
		lead.Phone, lead.Source,
		lead.Industry, lead.TalkingPoint, lead.Website, lead.Capital, lead.Sector,
		lead.Confidence, lead.CampaignID, lead.CampaignName,
	).StructScan(&stored)
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	return &stored, nil
}

// GetByID retrieves a single lead
func (r *LeadRepository) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	query := `SELECT ` + leadSelectList + ` FROM leads WHERE id = $1`

	var lead domain.Lead
	err := r.db.GetContext(ctx, &lead, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lead: %w", err)
	}
	return &lead, nil
}

// Update writes the lead's mutable fields under an optimistic version check.
// expectedVersion must match the stored version or ErrVersionConflict is
// returned; the write bumps the version by one.
func (r *LeadRepository) Update(ctx context.Context, lead *domain.Lead, expectedVersion int64) (*domain.Lead, error) {
	query := `
		UPDATE leads
		SET status = $3,
		    owner_id = $4,
		    owner_name = $5,
		    contacted_at = $6,
		    closed_at = $7,
		    lost_at = $8,
		    unreachable_at = $9,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + leadSelectList

	var stored domain.Lead
	err := r.db.QueryRowxContext(ctx, query,
		lead.ID, expectedVersion,
		lead.Status, lead.OwnerID, lead.OwnerName,
		lead.ContactedAt, lead.ClosedAt, lead.LostAt, lead.UnreachableAt,
	).StructScan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.disambiguateConflict(ctx, lead.ID, domain.ErrVersionConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("update lead: %w", err)
	}
	return &stored, nil
}

// Claim writes the claim mutation conditionally: it succeeds only while the
// lead is unowned or already owned by ownerID, so two concurrent claims on an
// unowned lead cannot both win. A lost race surfaces as ErrClaimConflict.
func (r *LeadRepository) Claim(ctx context.Context, lead *domain.Lead, ownerID string) (*domain.Lead, error) {
	query := `
		UPDATE leads
		SET owner_id = $2,
		    owner_name = $3,
		    status = $4,
		    contacted_at = $5,
		    closed_at = $6,
		    lost_at = $7,
		    unreachable_at = $8,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND (owner_id IS NULL OR owner_id = $2)
		RETURNING ` + leadSelectList

	var stored domain.Lead
	err := r.db.QueryRowxContext(ctx, query,
		lead.ID, ownerID, lead.OwnerName, lead.Status,
		lead.ContactedAt, lead.ClosedAt, lead.LostAt, lead.UnreachableAt,
	).StructScan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, r.disambiguateConflict(ctx, lead.ID, domain.ErrClaimConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("claim lead: %w", err)
	}
	return &stored, nil
}

// disambiguateConflict distinguishes "row gone" from "condition failed" when
// a conditional update matched nothing
func (r *LeadRepository) disambiguateConflict(ctx context.Context, id string, conflict error) error {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM leads WHERE id = $1)`, id)
	if err != nil {
		return fmt.Errorf("check lead existence: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return conflict
}
