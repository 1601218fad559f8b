package models

import (
	"fmt"
	"time"
)

// Role identifies a negotiating party.
type Role string

const (
	RoleInvestor Role = "investor"
	RoleAgent    Role = "agent"
)

// Valid reports whether the role is one of the two negotiating parties.
func (r Role) Valid() bool {
	return r == RoleInvestor || r == RoleAgent
}

// Other returns the counterparty role.
func (r Role) Other() Role {
	if r == RoleInvestor {
		return RoleAgent
	}
	return RoleInvestor
}

// AgreementStatus is the lifecycle state of a LegalAgreement.
type AgreementStatus string

const (
	AgreementDraft          AgreementStatus = "draft"
	AgreementSent           AgreementStatus = "sent"
	AgreementInvestorSigned AgreementStatus = "investor_signed"
	AgreementAgentSigned    AgreementStatus = "agent_signed"
	AgreementAttorneyReview AgreementStatus = "attorney_review_pending"
	AgreementFullySigned    AgreementStatus = "fully_signed"
	AgreementVoided         AgreementStatus = "voided"
	AgreementSuperseded     AgreementStatus = "superseded"
)

// Terminal reports whether the agreement can no longer be acted on. A
// terminal agreement does not count against the single-active-agreement
// invariant for its scope.
func (s AgreementStatus) Terminal() bool {
	return s == AgreementVoided || s == AgreementSuperseded
}

// SignerMode controls which parties an agreement is routed to for signature.
type SignerMode string

const (
	SignerModeInvestorOnly SignerMode = "investor_only"
	SignerModeAgentOnly    SignerMode = "agent_only"
	SignerModeBoth         SignerMode = "both"
)

// AgreementEvent drives agreement status transitions.
type AgreementEvent string

const (
	AgreementEventSend           AgreementEvent = "send"
	AgreementEventInvestorSigned AgreementEvent = "investor_signed"
	AgreementEventAgentSigned    AgreementEvent = "agent_signed"
	AgreementEventEnterReview    AgreementEvent = "enter_attorney_review"
	AgreementEventReviewElapsed  AgreementEvent = "attorney_review_elapsed"
	AgreementEventComplete       AgreementEvent = "complete"
	AgreementEventVoid           AgreementEvent = "void"
	AgreementEventSupersede      AgreementEvent = "supersede"
)

var agreementTransitions = map[AgreementStatus]map[AgreementEvent]AgreementStatus{
	AgreementDraft: {
		AgreementEventSend:           AgreementSent,
		AgreementEventInvestorSigned: AgreementInvestorSigned,
		AgreementEventVoid:           AgreementVoided,
		AgreementEventSupersede:      AgreementSuperseded,
	},
	AgreementSent: {
		AgreementEventInvestorSigned: AgreementInvestorSigned,
		AgreementEventVoid:           AgreementVoided,
		AgreementEventSupersede:      AgreementSuperseded,
	},
	AgreementInvestorSigned: {
		AgreementEventAgentSigned: AgreementAgentSigned,
		AgreementEventVoid:        AgreementVoided,
		AgreementEventSupersede:   AgreementSuperseded,
	},
	AgreementAgentSigned: {
		AgreementEventComplete:    AgreementFullySigned,
		AgreementEventEnterReview: AgreementAttorneyReview,
		AgreementEventVoid:        AgreementVoided,
		AgreementEventSupersede:   AgreementSuperseded,
	},
	AgreementAttorneyReview: {
		AgreementEventReviewElapsed: AgreementFullySigned,
		AgreementEventVoid:          AgreementVoided,
	},
}

// NextAgreementStatus resolves the (currentState, event) pair against the
// transition table. Repeating an event that has already taken effect is
// tolerated as a no-op so that concurrent write-backs stay idempotent.
func NextAgreementStatus(current AgreementStatus, event AgreementEvent) (AgreementStatus, error) {
	if next, ok := agreementTransitions[current][event]; ok {
		return next, nil
	}
	if idempotentAgreementEvent(current, event) {
		return current, nil
	}
	return current, fmt.Errorf("agreement in state %q cannot accept event %q", current, event)
}

// idempotentAgreementEvent recognises repeats of an event whose effect is
// already reflected in the current state.
func idempotentAgreementEvent(current AgreementStatus, event AgreementEvent) bool {
	switch event {
	case AgreementEventSend:
		return current == AgreementSent || current == AgreementInvestorSigned ||
			current == AgreementAgentSigned || current == AgreementAttorneyReview ||
			current == AgreementFullySigned
	case AgreementEventInvestorSigned:
		return current == AgreementInvestorSigned || current == AgreementAgentSigned ||
			current == AgreementAttorneyReview || current == AgreementFullySigned
	case AgreementEventAgentSigned:
		return current == AgreementAgentSigned || current == AgreementAttorneyReview ||
			current == AgreementFullySigned
	case AgreementEventComplete, AgreementEventReviewElapsed:
		return current == AgreementFullySigned
	case AgreementEventVoid:
		return current == AgreementVoided
	case AgreementEventSupersede:
		return current == AgreementSuperseded
	}
	return false
}

// LegalAgreement is one versioned instance of the representation agreement
// between investor and agent for a deal. Agreements are never deleted; new
// terms void or supersede the old record so the audit trail survives.
type LegalAgreement struct {
	ID     string          `bson:"_id" json:"id"`
	DealID string          `bson:"deal_id" json:"deal_id"`
	RoomID *string         `bson:"room_id,omitempty" json:"room_id,omitempty"` // absent = legacy deal-scoped instance
	Status AgreementStatus `bson:"status" json:"status"`

	// ExhibitATerms is a frozen copy of the commercial terms at generation
	// time. Later edits to the deal's proposed terms never touch it.
	ExhibitATerms ProposedTerms `bson:"exhibit_a_terms" json:"exhibit_a_terms"`
	SignerMode    SignerMode    `bson:"signer_mode" json:"signer_mode"`

	InvestorSignedAt    *time.Time `bson:"investor_signed_at,omitempty" json:"investor_signed_at,omitempty"`
	AgentSignedAt       *time.Time `bson:"agent_signed_at,omitempty" json:"agent_signed_at,omitempty"`
	InvestorRecipientID string     `bson:"investor_recipient_id,omitempty" json:"investor_recipient_id,omitempty"`
	AgentRecipientID    string     `bson:"agent_recipient_id,omitempty" json:"agent_recipient_id,omitempty"`

	EnvelopeID        string `bson:"envelope_id,omitempty" json:"envelope_id,omitempty"`
	SignedDocumentURL string `bson:"signed_document_url,omitempty" json:"signed_document_url,omitempty"`
	SignedDocumentKey string `bson:"signed_document_key,omitempty" json:"signed_document_key,omitempty"`

	// NJReviewEndAt is the attorney-review deadline. The review window is a
	// wall-clock deadline evaluated lazily on read, not a scheduled task.
	NJReviewEndAt *time.Time `bson:"nj_review_end_at,omitempty" json:"nj_review_end_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// SignedBy reports whether the given role has completed its signature.
func (a *LegalAgreement) SignedBy(role Role) bool {
	if role == RoleInvestor {
		return a.InvestorSignedAt != nil
	}
	return a.AgentSignedAt != nil
}

// RecipientID returns the provider recipient id assigned to the role, empty
// when the role has not been added to the envelope yet.
func (a *LegalAgreement) RecipientID(role Role) string {
	if role == RoleInvestor {
		return a.InvestorRecipientID
	}
	return a.AgentRecipientID
}

// ReviewElapsed reports whether the attorney-review window has passed.
func (a *LegalAgreement) ReviewElapsed(now time.Time) bool {
	return a.Status == AgreementAttorneyReview && a.NJReviewEndAt != nil && now.After(*a.NJReviewEndAt)
}
