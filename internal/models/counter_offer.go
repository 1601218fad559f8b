package models

import (
	"fmt"
	"time"
)

// CounterOfferStatus is the lifecycle state of a CounterOffer. Everything
// except pending is terminal.
type CounterOfferStatus string

const (
	CounterOfferPending    CounterOfferStatus = "pending"
	CounterOfferAccepted   CounterOfferStatus = "accepted"
	CounterOfferDeclined   CounterOfferStatus = "declined"
	CounterOfferSuperseded CounterOfferStatus = "superseded"
)

// Terminal reports whether the counter-offer can no longer change state.
func (s CounterOfferStatus) Terminal() bool {
	return s != CounterOfferPending
}

// CounterOfferEvent drives counter-offer status transitions.
type CounterOfferEvent string

const (
	CounterOfferEventAccept    CounterOfferEvent = "accept"
	CounterOfferEventDecline   CounterOfferEvent = "decline"
	CounterOfferEventSupersede CounterOfferEvent = "supersede"
)

// NextCounterOfferStatus resolves (currentState, event) for a counter-offer.
// All transitions leave pending; terminal states accept no events.
func NextCounterOfferStatus(current CounterOfferStatus, event CounterOfferEvent) (CounterOfferStatus, error) {
	if current != CounterOfferPending {
		return current, fmt.Errorf("counter-offer in terminal state %q cannot accept event %q", current, event)
	}
	switch event {
	case CounterOfferEventAccept:
		return CounterOfferAccepted, nil
	case CounterOfferEventDecline:
		return CounterOfferDeclined, nil
	case CounterOfferEventSupersede:
		return CounterOfferSuperseded, nil
	}
	return current, fmt.Errorf("unknown counter-offer event %q", event)
}

// CounterOffer is a proposed change to commission terms awaiting the other
// party's response. At most one pending counter-offer exists per
// (deal_id, room_id) scope; a newer proposal supersedes it.
type CounterOffer struct {
	ID              string             `bson:"_id" json:"id"`
	DealID          string             `bson:"deal_id" json:"deal_id"`
	RoomID          *string            `bson:"room_id,omitempty" json:"room_id,omitempty"`
	FromRole        Role               `bson:"from_role" json:"from_role"`
	TermsDelta      TermsDelta         `bson:"terms_delta" json:"terms_delta"`
	Status          CounterOfferStatus `bson:"status" json:"status"`
	RespondedByRole *Role              `bson:"responded_by_role,omitempty" json:"responded_by_role,omitempty"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}
