package services

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/brademus/investorkonnect-sub002/internal/models"
)

// ResolvedState is the full negotiation picture for one scope, as callers
// consume it.
type ResolvedState struct {
	Agreement           *models.LegalAgreement `json:"agreement,omitempty"`
	PendingCounterOffer *models.CounterOffer   `json:"pending_counter_offer,omitempty"`
	DealTerms           models.ProposedTerms   `json:"deal_terms"`
	RequiresRegenerate  bool                   `json:"requires_regenerate"`
	InvestorSigned      bool                   `json:"investor_signed"`
	AgentSigned         bool                   `json:"agent_signed"`
	FullySigned         bool                   `json:"fully_signed"`
}

// IResolverService determines the single authoritative agreement for a
// scope.
type IResolverService interface {
	// Resolve follows the fallback chain: scope pointer, then the most
	// recent non-terminal agreement, then best-effort newest regardless.
	// forceRefresh reconciles against the provider before answering.
	// Query failures degrade to a nil agreement; only a missing deal or
	// room is an error.
	Resolve(ctx context.Context, dealID string, roomID *string, forceRefresh bool) (*ResolvedState, error)
}

type resolverService struct {
	db      *mongo.Database
	sync    ISyncService
	signing ISigningService
}

// NewResolverService creates a new ResolverService.
func NewResolverService(database *mongo.Database, sync ISyncService, signing ISigningService) IResolverService {
	return &resolverService{db: database, sync: sync, signing: signing}
}

func (s *resolverService) Resolve(ctx context.Context, dealID string, roomID *string, forceRefresh bool) (*ResolvedState, error) {
	scope, err := loadScope(ctx, s.db, dealID, roomID)
	if err != nil {
		return nil, err
	}

	agreement := s.resolveAgreement(ctx, scope)

	if agreement != nil && forceRefresh && agreement.EnvelopeID != "" {
		if _, syncErr := s.sync.Reconcile(ctx, agreement); syncErr != nil {
			// Reads never fail on provider trouble; answer from the last
			// known local state.
			log.Printf("WARN: provider sync during resolve of deal %s failed: %v", dealID, syncErr)
		} else if refreshed, findErr := findAgreementByID(ctx, s.db, agreement.ID); findErr == nil {
			agreement = refreshed
		}
	}
	if agreement != nil && agreement.ReviewElapsed(time.Now().UTC()) {
		if finalized, finErr := s.signing.FinalizeReviewIfElapsed(ctx, agreement); finErr == nil {
			agreement = finalized
		} else {
			log.Printf("WARN: failed to finalize elapsed review for agreement %s: %v", agreement.ID, finErr)
		}
	}

	pending, err := pendingCounterOffer(ctx, s.db, dealID, roomID)
	if err != nil {
		log.Printf("WARN: failed to load pending counter-offer for deal %s: %v", dealID, err)
		pending = nil
	}

	state := &ResolvedState{
		Agreement:           agreement,
		PendingCounterOffer: pending,
		DealTerms:           scope.Terms,
		RequiresRegenerate:  scope.RequiresRegenerate,
	}
	if agreement != nil {
		state.InvestorSigned = agreement.InvestorSignedAt != nil
		state.AgentSigned = agreement.AgentSignedAt != nil
		state.FullySigned = agreement.Status == models.AgreementFullySigned
	}
	return state, nil
}

// resolveAgreement walks the fallback chain. The pointer field can go stale
// faster than every write path updates it, so a live agreement found by
// query always beats a dead pointer.
func (s *resolverService) resolveAgreement(ctx context.Context, scope *scopeState) *models.LegalAgreement {
	if scope.PointerID != nil {
		agreement, err := findAgreementByID(ctx, s.db, *scope.PointerID)
		if err != nil {
			log.Printf("WARN: agreement pointer %s on deal %s did not resolve: %v", *scope.PointerID, scope.DealID, err)
		} else if !agreement.Status.Terminal() {
			return agreement
		}
	}

	agreements, err := latestAgreements(ctx, s.db, scope.DealID, scope.RoomID, resolverCandidateLimit)
	if err != nil {
		log.Printf("WARN: agreement query for deal %s failed: %v", scope.DealID, err)
		return nil
	}
	for i := range agreements {
		if !agreements[i].Status.Terminal() {
			return &agreements[i]
		}
	}
	// Best-effort: with only dead agreements left, surface the newest one
	// rather than nothing. Callers see its terminal status.
	if len(agreements) > 0 {
		return &agreements[0]
	}
	return nil
}
