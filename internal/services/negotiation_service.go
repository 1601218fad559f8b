package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/brademus/investorkonnect-sub002/internal/db"
	"github.com/brademus/investorkonnect-sub002/internal/models"
)

// INegotiationService is the counter-offer state machine: propose,
// supersede, accept, decline.
type INegotiationService interface {
	// Propose opens a new pending counter-offer for the scope, superseding
	// any existing pending one and voiding an agreement that is already out
	// for signature.
	Propose(ctx context.Context, dealID string, roomID *string, fromRole models.Role, delta models.TermsDelta) (*models.CounterOffer, error)
	// Respond accepts or declines a pending counter-offer. On an accept by
	// the investor the replacement agreement is generated immediately and
	// returned; an agent accept only flags the scope for regeneration.
	Respond(ctx context.Context, offerID string, event models.CounterOfferEvent, respondingRole models.Role) (*models.CounterOffer, *models.LegalAgreement, error)
	FindPendingCounterOffer(ctx context.Context, dealID string, roomID *string) (*models.CounterOffer, error)
}

type negotiationService struct {
	db         *mongo.Database
	agreements IAgreementService
	notifier   Notifier
}

// NewNegotiationService creates a new NegotiationService.
func NewNegotiationService(database *mongo.Database, agreements IAgreementService, notifier Notifier) INegotiationService {
	return &negotiationService{db: database, agreements: agreements, notifier: notifier}
}

func (s *negotiationService) Propose(ctx context.Context, dealID string, roomID *string, fromRole models.Role, delta models.TermsDelta) (*models.CounterOffer, error) {
	if !fromRole.Valid() {
		return nil, fmt.Errorf("invalid proposing role %q", fromRole)
	}

	scope, err := loadScope(ctx, s.db, dealID, roomID)
	if err != nil {
		return nil, err
	}

	active, err := activeAgreement(ctx, s.db, dealID, roomID)
	if err != nil {
		return nil, err
	}
	if scope.IsFullySigned || (active != nil &&
		(active.Status == models.AgreementFullySigned || active.Status == models.AgreementAttorneyReview)) {
		return nil, NewConflict(ConflictAlreadyFullySigned)
	}

	// An in-flight envelope becomes meaningless the moment new terms hit
	// the table; collected signatures are discarded with it.
	if active != nil && active.EnvelopeID != "" {
		if err := s.voidInFlightAgreement(ctx, active); err != nil {
			return nil, err
		}
	}

	merged := models.ApplyDelta(scope.Terms, delta)
	if err := updateScope(ctx, s.db, scope, bson.M{"proposed_terms": merged}); err != nil {
		return nil, err
	}

	collection := s.db.Collection(counterOffersCollection)
	var offer *models.CounterOffer
	// Supersede-then-insert runs as one retryable unit: when a concurrent
	// Propose wins the race the unique pending index rejects the insert,
	// and the retry supersedes the winner before inserting again.
	operation := func() error {
		now := time.Now().UTC()
		supersede := bson.M{"$set": bson.M{
			"status":            models.CounterOfferSuperseded,
			"responded_by_role": fromRole,
			"updated_at":        now,
		}}
		pendingFilter := scopeFilter(dealID, roomID)
		pendingFilter["status"] = models.CounterOfferPending
		if _, err := collection.UpdateMany(ctx, pendingFilter, supersede); err != nil {
			return fmt.Errorf("failed to supersede pending counter-offer for deal %s: %w", dealID, err)
		}

		offer = &models.CounterOffer{
			ID:         models.NewID(),
			DealID:     dealID,
			RoomID:     roomID,
			FromRole:   fromRole,
			TermsDelta: delta,
			Status:     models.CounterOfferPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		_, insertErr := collection.InsertOne(ctx, offer)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert counter-offer for deal %s: %w", dealID, err)
	}

	if s.notifier != nil {
		s.notifier.CounterOfferProposed(ctx, offer)
	}
	return offer, nil
}

func (s *negotiationService) Respond(ctx context.Context, offerID string, event models.CounterOfferEvent, respondingRole models.Role) (*models.CounterOffer, *models.LegalAgreement, error) {
	if event != models.CounterOfferEventAccept && event != models.CounterOfferEventDecline {
		return nil, nil, fmt.Errorf("invalid counter-offer response %q", event)
	}
	if !respondingRole.Valid() {
		return nil, nil, fmt.Errorf("invalid responding role %q", respondingRole)
	}

	collection := s.db.Collection(counterOffersCollection)
	var offer models.CounterOffer
	err := collection.FindOne(ctx, bson.M{"_id": offerID}).Decode(&offer)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("error finding counter-offer %s: %w", offerID, err)
	}

	nextStatus, err := models.NextCounterOfferStatus(offer.Status, event)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	res, err := collection.UpdateOne(ctx,
		bson.M{"_id": offerID, "status": models.CounterOfferPending},
		bson.M{"$set": bson.M{
			"status":            nextStatus,
			"responded_by_role": respondingRole,
			"updated_at":        now,
		}})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update counter-offer %s: %w", offerID, err)
	}
	if res.MatchedCount == 0 {
		// Lost a race: the offer left pending between the read and the write.
		return nil, nil, fmt.Errorf("counter-offer %s is no longer pending", offerID)
	}
	offer.Status = nextStatus
	offer.RespondedByRole = &respondingRole
	offer.UpdatedAt = now

	if s.notifier != nil {
		s.notifier.CounterOfferResponded(ctx, &offer)
	}
	if event == models.CounterOfferEventDecline {
		return &offer, nil, nil
	}

	scope, err := loadScope(ctx, s.db, offer.DealID, offer.RoomID)
	if err != nil {
		return nil, nil, err
	}
	merged := models.ApplyDelta(scope.Terms, offer.TermsDelta)
	set := bson.M{
		"proposed_terms":      merged,
		"requires_regenerate": true,
	}
	if err := updateScope(ctx, s.db, scope, set); err != nil {
		return nil, nil, err
	}

	// Only the investor side regenerates immediately; the agent side waits
	// for the investor to come back and re-sign.
	if respondingRole != models.RoleInvestor {
		return &offer, nil, nil
	}

	agreement, _, err := s.agreements.Generate(ctx, offer.DealID, offer.RoomID, nil, models.SignerModeBoth)
	if err != nil {
		// The accept already stands; leave the regenerate flag set and let
		// the investor retry generation with complete terms.
		log.Printf("WARN: regeneration after accepted counter-offer %s failed: %v", offer.ID, err)
		return &offer, nil, nil
	}
	return &offer, agreement, nil
}

func (s *negotiationService) FindPendingCounterOffer(ctx context.Context, dealID string, roomID *string) (*models.CounterOffer, error) {
	return pendingCounterOffer(ctx, s.db, dealID, roomID)
}

// voidInFlightAgreement voids an agreement and wipes its envelope state so
// a later regeneration starts clean.
func (s *negotiationService) voidInFlightAgreement(ctx context.Context, agreement *models.LegalAgreement) error {
	update := bson.M{
		"$set": bson.M{
			"status":     models.AgreementVoided,
			"updated_at": time.Now().UTC(),
		},
		"$unset": bson.M{
			"investor_signed_at":    "",
			"agent_signed_at":       "",
			"investor_recipient_id": "",
			"agent_recipient_id":    "",
			"envelope_id":           "",
		},
	}
	filter := bson.M{"_id": agreement.ID, "status": bson.M{"$nin": []models.AgreementStatus{
		models.AgreementVoided, models.AgreementSuperseded,
	}}}
	if _, err := s.db.Collection(agreementsCollection).UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to void agreement %s: %w", agreement.ID, err)
	}
	return nil
}

// pendingCounterOffer returns the scope's pending counter-offer, nil when
// none exists.
func pendingCounterOffer(ctx context.Context, database *mongo.Database, dealID string, roomID *string) (*models.CounterOffer, error) {
	filter := scopeFilter(dealID, roomID)
	filter["status"] = models.CounterOfferPending
	var offer models.CounterOffer
	err := database.Collection(counterOffersCollection).FindOne(ctx, filter).Decode(&offer)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("error finding pending counter-offer for deal %s: %w", dealID, err)
	}
	return &offer, nil
}
