package tasks

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"github.com/brademus/investorkonnect-sub002/internal/email"
	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/services"
)

// taskNotifier enqueues one notify task per negotiation event. Enqueue
// failures are logged and swallowed; notifications never block the
// originating write.
type taskNotifier struct {
	client *asynq.Client
}

func NewTaskNotifier(client *asynq.Client) services.Notifier {
	return &taskNotifier{client: client}
}

func (n *taskNotifier) CounterOfferProposed(ctx context.Context, offer *models.CounterOffer) {
	n.enqueue(ctx, NotifyPayload{
		Kind:           email.KindCounterOfferProposed,
		DealID:         offer.DealID,
		RoomID:         offer.RoomID,
		CounterOfferID: offer.ID,
		TargetRole:     offer.FromRole.Other(),
	})
}

func (n *taskNotifier) CounterOfferResponded(ctx context.Context, offer *models.CounterOffer) {
	kind := email.KindCounterOfferDeclined
	if offer.Status == models.CounterOfferAccepted {
		kind = email.KindCounterOfferAccepted
	}
	n.enqueue(ctx, NotifyPayload{
		Kind:           kind,
		DealID:         offer.DealID,
		RoomID:         offer.RoomID,
		CounterOfferID: offer.ID,
		TargetRole:     offer.FromRole,
	})
}

func (n *taskNotifier) AgreementReadyToSign(ctx context.Context, agreement *models.LegalAgreement, role models.Role) {
	n.enqueue(ctx, NotifyPayload{
		Kind:        email.KindAgreementReadyToSign,
		DealID:      agreement.DealID,
		RoomID:      agreement.RoomID,
		AgreementID: agreement.ID,
		TargetRole:  role,
	})
}

func (n *taskNotifier) AgreementFullySigned(ctx context.Context, agreement *models.LegalAgreement) {
	n.enqueue(ctx, NotifyPayload{
		Kind:        email.KindAgreementFullySigned,
		DealID:      agreement.DealID,
		RoomID:      agreement.RoomID,
		AgreementID: agreement.ID,
	})
}

func (n *taskNotifier) enqueue(ctx context.Context, payload NotifyPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("WARN: failed to marshal %s notification: %v", payload.Kind, err)
		return
	}
	task := asynq.NewTask(TypeNotify, body)
	if _, err := n.client.EnqueueContext(ctx, task, asynq.Queue("default")); err != nil {
		log.Printf("WARN: failed to enqueue %s notification for deal %s: %v", payload.Kind, payload.DealID, err)
	}
}
