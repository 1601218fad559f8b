package models

import (
	"time"
)

// Deal represents one property transaction proposal owned by an investor.
// The agreement-pointer and regenerate fields exist in two scopes: on the
// Deal itself (legacy deal-scoped negotiation) and on each Room.
type Deal struct {
	ID         string `bson:"_id" json:"id"`
	InvestorID string `bson:"investor_id" json:"investor_id"`

	PropertyAddress string `bson:"property_address" json:"property_address"`
	// PropertyState is the two-letter US state code; drives the
	// attorney-review requirement after full signature.
	PropertyState string `bson:"property_state" json:"property_state"`

	ProposedTerms ProposedTerms `bson:"proposed_terms" json:"proposed_terms"`

	// CurrentLegalAgreementID is the legacy deal-scoped agreement pointer.
	// It can go stale; the resolver never trusts it blindly.
	CurrentLegalAgreementID *string `bson:"current_legal_agreement_id,omitempty" json:"current_legal_agreement_id,omitempty"`
	RequiresRegenerate      bool    `bson:"requires_regenerate" json:"requires_regenerate"`
	IsFullySigned           bool    `bson:"is_fully_signed" json:"is_fully_signed"`

	Deleted   bool      `bson:"deleted" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// RoomAgreementStatus is the denormalized agreement state shown on a room.
type RoomAgreementStatus string

const (
	RoomAgreementDraft          RoomAgreementStatus = "draft"
	RoomAgreementSent           RoomAgreementStatus = "sent"
	RoomAgreementInvestorSigned RoomAgreementStatus = "investor_signed"
	RoomAgreementAgentSigned    RoomAgreementStatus = "agent_signed"
	RoomAgreementFullySigned    RoomAgreementStatus = "fully_signed"
	RoomAgreementAttorneyReview RoomAgreementStatus = "attorney_review_pending"
)

// Room is a deal×agent negotiation context. It carries its own term and
// agreement-pointer fields so one deal can run several agent negotiations
// in parallel without them contaminating each other.
type Room struct {
	ID         string `bson:"_id" json:"id"`
	DealID     string `bson:"deal_id" json:"deal_id"`
	InvestorID string `bson:"investor_id" json:"investor_id"`
	AgentID    string `bson:"agent_id" json:"agent_id"`

	ProposedTerms           ProposedTerms       `bson:"proposed_terms" json:"proposed_terms"`
	CurrentLegalAgreementID *string             `bson:"current_legal_agreement_id,omitempty" json:"current_legal_agreement_id,omitempty"`
	RequiresRegenerate      bool                `bson:"requires_regenerate" json:"requires_regenerate"`
	IsFullySigned           bool                `bson:"is_fully_signed" json:"is_fully_signed"`
	AgreementStatus         RoomAgreementStatus `bson:"agreement_status" json:"agreement_status"`

	Deleted   bool      `bson:"deleted" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
