package services

import (
	"context"

	"github.com/brademus/investorkonnect-sub002/internal/models"
)

// Notifier fans negotiation events out to the parties. Delivery is
// best-effort and asynchronous; implementations enqueue rather than send
// inline. A nil Notifier disables notifications.
type Notifier interface {
	CounterOfferProposed(ctx context.Context, offer *models.CounterOffer)
	CounterOfferResponded(ctx context.Context, offer *models.CounterOffer)
	AgreementReadyToSign(ctx context.Context, agreement *models.LegalAgreement, role models.Role)
	AgreementFullySigned(ctx context.Context, agreement *models.LegalAgreement)
}
