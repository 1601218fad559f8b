package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDealNotFound distinguishes a missing deal from a missing agreement:
// callers treat an absent agreement as a normal state but a missing deal as
// a hard failure.
var ErrDealNotFound = errors.New("deal not found")

// ErrProviderUnavailable is surfaced when the signature provider cannot be
// reached for a non-rate-limit reason. Read paths treat it as non-fatal.
var ErrProviderUnavailable = errors.New("signature provider unavailable")

// ErrRateLimited is surfaced after local backoff against the provider's
// rate limit has been exhausted. The caller may retry shortly.
var ErrRateLimited = errors.New("signature provider rate limited, try again shortly")

// ValidationError reports term fields that must be filled in before an
// agreement can be generated.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required term fields: %s", strings.Join(e.Missing, ", "))
}

// ConflictCode identifies which negotiation rule blocked an operation.
type ConflictCode string

const (
	ConflictCounterOfferPending   ConflictCode = "CounterOfferPending"
	ConflictTermsMismatch         ConflictCode = "TermsMismatch"
	ConflictInvestorMustSignFirst ConflictCode = "InvestorMustSignFirst"
	ConflictAlreadyFullySigned    ConflictCode = "AlreadyFullySigned"
	ConflictReviewWindowClosed    ConflictCode = "ReviewWindowClosed"
)

// ConflictError reports an operation blocked by the current negotiation
// state. These are user-actionable and never retried automatically.
type ConflictError struct {
	Code ConflictCode
}

func (e *ConflictError) Error() string {
	switch e.Code {
	case ConflictCounterOfferPending:
		return "a counter-offer is pending; respond to it before signing"
	case ConflictTermsMismatch:
		return "the agreement no longer matches the current terms; regenerate it first"
	case ConflictInvestorMustSignFirst:
		return "the investor must sign before the agent"
	case ConflictAlreadyFullySigned:
		return "the agreement is already fully signed"
	case ConflictReviewWindowClosed:
		return "the attorney review window has ended"
	}
	return string(e.Code)
}

// NewConflict builds a ConflictError for the given code.
func NewConflict(code ConflictCode) *ConflictError {
	return &ConflictError{Code: code}
}

// IsConflict reports whether err is a ConflictError with the given code.
func IsConflict(err error, code ConflictCode) bool {
	var ce *ConflictError
	return errors.As(err, &ce) && ce.Code == code
}
