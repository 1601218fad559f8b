package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/brademus/investorkonnect-sub002/internal/models"
)

const (
	dealsCollection         = "deals"
	roomsCollection         = "rooms"
	agreementsCollection    = "legal_agreements"
	counterOffersCollection = "counter_offers"
	connectionsCollection   = "provider_connections"
	usersCollection         = "users"
)

// scopeFilter matches records bound to one (deal_id, room_id) scope. A nil
// roomID selects legacy deal-scoped records, which have no room_id field at
// all, so the filter must exclude room-scoped siblings explicitly.
func scopeFilter(dealID string, roomID *string) bson.M {
	filter := bson.M{"deal_id": dealID}
	if roomID != nil {
		filter["room_id"] = *roomID
	} else {
		filter["room_id"] = bson.M{"$exists": false}
	}
	return filter
}

// scopeState is the negotiation slice of a Deal or Room: the terms on the
// table, the agreement pointer, and the regeneration flag. Room-scoped
// values shadow the deal's when a room is given.
type scopeState struct {
	DealID        string
	RoomID        *string
	InvestorID    string
	AgentID       string // empty in legacy deal scope
	PropertyState string

	Terms              models.ProposedTerms
	PointerID          *string
	RequiresRegenerate bool
	IsFullySigned      bool
}

// loadScope fetches the deal (and room, when given) backing a scope. A
// missing deal is ErrDealNotFound; a missing or mismatched room is
// ErrNotFound.
func loadScope(ctx context.Context, database *mongo.Database, dealID string, roomID *string) (*scopeState, error) {
	var deal models.Deal
	err := database.Collection(dealsCollection).FindOne(ctx, bson.M{"_id": dealID, "deleted": false}).Decode(&deal)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("error finding deal %s: %w", dealID, err)
	}

	scope := &scopeState{
		DealID:             deal.ID,
		InvestorID:         deal.InvestorID,
		PropertyState:      deal.PropertyState,
		Terms:              deal.ProposedTerms,
		PointerID:          deal.CurrentLegalAgreementID,
		RequiresRegenerate: deal.RequiresRegenerate,
		IsFullySigned:      deal.IsFullySigned,
	}
	if roomID == nil {
		return scope, nil
	}

	var room models.Room
	err = database.Collection(roomsCollection).FindOne(ctx, bson.M{"_id": *roomID, "deal_id": dealID, "deleted": false}).Decode(&room)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding room %s: %w", *roomID, err)
	}
	scope.RoomID = &room.ID
	scope.AgentID = room.AgentID
	scope.Terms = room.ProposedTerms
	scope.PointerID = room.CurrentLegalAgreementID
	scope.RequiresRegenerate = room.RequiresRegenerate
	scope.IsFullySigned = room.IsFullySigned
	return scope, nil
}

// updateScope writes a partial update against whichever record backs the
// scope (room when present, deal otherwise).
func updateScope(ctx context.Context, database *mongo.Database, scope *scopeState, set bson.M) error {
	set["updated_at"] = time.Now().UTC()
	coll := database.Collection(dealsCollection)
	id := scope.DealID
	if scope.RoomID != nil {
		coll = database.Collection(roomsCollection)
		id = *scope.RoomID
	}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": id, "deleted": false}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update scope %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
