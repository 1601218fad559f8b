package models

// CommissionType distinguishes percentage-based from flat-fee commission.
type CommissionType string

const (
	CommissionPercentage CommissionType = "percentage"
	CommissionFlatFee    CommissionType = "flat_fee"
)

// CommissionTerms describes the commission owed to the agent on one side of
// a transaction.
type CommissionTerms struct {
	Type                CommissionType `bson:"type" json:"type"`
	Percentage          *float64       `bson:"percentage,omitempty" json:"percentage,omitempty"`
	FlatAmount          *float64       `bson:"flat_amount,omitempty" json:"flat_amount,omitempty"`
	AgreementLengthDays int            `bson:"agreement_length_days" json:"agreement_length_days"`
}

// ProposedTerms holds the commission terms currently on the table for a
// deal or room. Either side may be absent while the deal is one-sided.
type ProposedTerms struct {
	BuyerSide  *CommissionTerms `bson:"buyer_side,omitempty" json:"buyer_side,omitempty"`
	SellerSide *CommissionTerms `bson:"seller_side,omitempty" json:"seller_side,omitempty"`
}

// CommissionTermsDelta is a partial update to one side's terms. Nil fields
// leave the current value untouched.
type CommissionTermsDelta struct {
	Type                *CommissionType `bson:"type,omitempty" json:"type,omitempty"`
	Percentage          *float64        `bson:"percentage,omitempty" json:"percentage,omitempty"`
	FlatAmount          *float64        `bson:"flat_amount,omitempty" json:"flat_amount,omitempty"`
	AgreementLengthDays *int            `bson:"agreement_length_days,omitempty" json:"agreement_length_days,omitempty"`
}

// TermsDelta is the payload of a counter-offer: a partial update per side.
type TermsDelta struct {
	BuyerSide  *CommissionTermsDelta `bson:"buyer_side,omitempty" json:"buyer_side,omitempty"`
	SellerSide *CommissionTermsDelta `bson:"seller_side,omitempty" json:"seller_side,omitempty"`
}

// ApplyDelta merges a delta into a copy of the given terms and returns the
// merged result. The input is never mutated.
func ApplyDelta(current ProposedTerms, delta TermsDelta) ProposedTerms {
	merged := ProposedTerms{
		BuyerSide:  cloneSide(current.BuyerSide),
		SellerSide: cloneSide(current.SellerSide),
	}
	merged.BuyerSide = applySideDelta(merged.BuyerSide, delta.BuyerSide)
	merged.SellerSide = applySideDelta(merged.SellerSide, delta.SellerSide)
	return merged
}

func cloneSide(side *CommissionTerms) *CommissionTerms {
	if side == nil {
		return nil
	}
	c := *side
	if side.Percentage != nil {
		v := *side.Percentage
		c.Percentage = &v
	}
	if side.FlatAmount != nil {
		v := *side.FlatAmount
		c.FlatAmount = &v
	}
	return &c
}

func applySideDelta(side *CommissionTerms, delta *CommissionTermsDelta) *CommissionTerms {
	if delta == nil {
		return side
	}
	if side == nil {
		side = &CommissionTerms{}
	}
	if delta.Type != nil {
		side.Type = *delta.Type
		// A type switch makes the other type's amount meaningless.
		switch *delta.Type {
		case CommissionPercentage:
			side.FlatAmount = nil
		case CommissionFlatFee:
			side.Percentage = nil
		}
	}
	if delta.Percentage != nil {
		v := *delta.Percentage
		side.Percentage = &v
	}
	if delta.FlatAmount != nil {
		v := *delta.FlatAmount
		side.FlatAmount = &v
	}
	if delta.AgreementLengthDays != nil {
		side.AgreementLengthDays = *delta.AgreementLengthDays
	}
	return side
}

// MissingTermFields validates that every present side carries the fields its
// commission type requires. It returns the missing field paths, empty when
// the terms are complete. At least one side must be present.
func MissingTermFields(terms ProposedTerms) []string {
	var missing []string
	if terms.BuyerSide == nil && terms.SellerSide == nil {
		return []string{"buyer_side", "seller_side"}
	}
	missing = append(missing, missingSideFields("buyer_side", terms.BuyerSide)...)
	missing = append(missing, missingSideFields("seller_side", terms.SellerSide)...)
	return missing
}

func missingSideFields(prefix string, side *CommissionTerms) []string {
	if side == nil {
		return nil
	}
	var missing []string
	switch side.Type {
	case CommissionPercentage:
		if side.Percentage == nil || *side.Percentage <= 0 {
			missing = append(missing, prefix+".percentage")
		}
	case CommissionFlatFee:
		if side.FlatAmount == nil || *side.FlatAmount <= 0 {
			missing = append(missing, prefix+".flat_amount")
		}
	default:
		missing = append(missing, prefix+".type")
	}
	if side.AgreementLengthDays <= 0 {
		missing = append(missing, prefix+".agreement_length_days")
	}
	return missing
}

// TermsEqual reports whether two term sets are semantically identical. Used
// by the generator's idempotence short-circuit and the orchestrator's
// terms-mismatch check.
func TermsEqual(a, b ProposedTerms) bool {
	return sideEqual(a.BuyerSide, b.BuyerSide) && sideEqual(a.SellerSide, b.SellerSide)
}

func sideEqual(a, b *CommissionTerms) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type != b.Type || a.AgreementLengthDays != b.AgreementLengthDays {
		return false
	}
	return floatPtrEqual(a.Percentage, b.Percentage) && floatPtrEqual(a.FlatAmount, b.FlatAmount)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
