// Package leads implements the claim protocol that arbitrates exclusive
// ownership of a lead record.
package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/leadflow/internal/domain"
	"github.com/jonesrussell/leadflow/internal/logger"
)

// Store is the persistence surface the claim protocol needs
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Lead, error)
	Update(ctx context.Context, lead *domain.Lead, expectedVersion int64) (*domain.Lead, error)
	Claim(ctx context.Context, lead *domain.Lead, ownerID string) (*domain.Lead, error)
}

// ClaimResult is the structured outcome of a claim attempt. An ownership
// conflict is a normal negative result, not an error.
type ClaimResult struct {
	Success        bool         `json:"success"`
	AlreadyClaimed bool         `json:"already_claimed"`
	FirstClaim     bool         `json:"first_claim,omitempty"`
	OwnerName      string       `json:"owner_name,omitempty"`
	Lead           *domain.Lead `json:"lead,omitempty"`
}

// Service runs the claim protocol against the lead store
type Service struct {
	store  Store
	logger logger.Logger
}

// NewService creates a claim service
func NewService(store Store, log logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

// Claim grants userID exclusive ownership of the lead and moves it to
// targetStatus. Only the current owner (or nobody) may hold the lead; a
// foreign owner yields AlreadyClaimed with the owner's name and no mutation.
// The write is conditional on ownership at the store, so a concurrent claim
// losing the race also resolves to AlreadyClaimed.
func (s *Service) Claim(ctx context.Context, leadID, userID, userName string, targetStatus domain.LeadStatus) (*ClaimResult, error) {
	if !domain.ClaimableStatus(targetStatus) {
		return nil, fmt.Errorf("%w: %q is not a claimable status", domain.ErrInvalidStatus, targetStatus)
	}
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	lead, err := s.store.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}

	if lead.IsClaimed() && !lead.OwnedBy(userID) {
		s.logger.Info("claim rejected, lead owned by another user",
			logger.String("lead_id", leadID),
			logger.String("user_id", userID))
		return &ClaimResult{
			AlreadyClaimed: true,
			OwnerName:      ownerName(lead),
		}, nil
	}

	firstClaim := !lead.IsClaimed()

	lead.OwnerID = &userID
	lead.OwnerName = &userName
	if applyErr := lead.ApplyStatus(targetStatus, time.Now()); applyErr != nil {
		return nil, applyErr
	}

	stored, err := s.store.Claim(ctx, lead, userID)
	if errors.Is(err, domain.ErrClaimConflict) {
		// Lost the race between our read and the conditional write; report
		// the winner instead of failing
		return s.resolveLostRace(ctx, leadID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("lead claimed",
		logger.String("lead_id", leadID),
		logger.String("user_id", userID),
		logger.String("status", string(targetStatus)),
		logger.Bool("first_claim", firstClaim))

	return &ClaimResult{
		Success:    true,
		FirstClaim: firstClaim,
		Lead:       stored,
	}, nil
}

// UpdateStatus is the general, non-claim mutation path: the current owner
// moves the lead to a new status under an optimistic version check.
// A stale expectedVersion surfaces as domain.ErrVersionConflict.
func (s *Service) UpdateStatus(ctx context.Context, leadID, userID string, targetStatus domain.LeadStatus, expectedVersion int64) (*domain.Lead, error) {
	if !domain.ClaimableStatus(targetStatus) {
		return nil, fmt.Errorf("%w: %q is not a valid target status", domain.ErrInvalidStatus, targetStatus)
	}

	lead, err := s.store.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if !lead.OwnedBy(userID) {
		return nil, fmt.Errorf("%w: only the owner may update status", domain.ErrClaimConflict)
	}

	if applyErr := lead.ApplyStatus(targetStatus, time.Now()); applyErr != nil {
		return nil, applyErr
	}

	return s.store.Update(ctx, lead, expectedVersion)
}

// Get reads one lead
func (s *Service) Get(ctx context.Context, leadID string) (*domain.Lead, error) {
	return s.store.GetByID(ctx, leadID)
}

func (s *Service) resolveLostRace(ctx context.Context, leadID string) (*ClaimResult, error) {
	lead, err := s.store.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	return &ClaimResult{
		AlreadyClaimed: true,
		OwnerName:      ownerName(lead),
	}, nil
}

func ownerName(lead *domain.Lead) string {
	if lead.OwnerName != nil {
		return *lead.OwnerName
	}
	return ""
}
