package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/brademus/investorkonnect-sub002/internal/config"
	"github.com/brademus/investorkonnect-sub002/internal/email"
	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/services"
)

const (
	// TypeProviderSync sweeps agreements that are out for signature and
	// reconciles them against the provider. The scheduled stand-in for
	// provider webhooks.
	TypeProviderSync = "agreement:provider_sync"
	// TypeNotify delivers one negotiation notification email.
	TypeNotify = "notify:negotiation"
)

// NewClient builds an asynq client on the shared Redis connection.
func NewClient(rdb *redis.Client) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	})
}

// NotifyPayload is the TypeNotify task payload. Recipient emails are
// resolved at processing time so a stale enqueue never emails the wrong
// party.
type NotifyPayload struct {
	Kind           email.NotificationKind `json:"kind"`
	DealID         string                 `json:"deal_id"`
	RoomID         *string                `json:"room_id,omitempty"`
	AgreementID    string                 `json:"agreement_id,omitempty"`
	CounterOfferID string                 `json:"counter_offer_id,omitempty"`
	// TargetRole limits delivery to one side; empty notifies both.
	TargetRole models.Role `json:"target_role,omitempty"`
}

// TaskProcessor handles the processing of tasks. It holds the dependencies
// the task handlers need.
type TaskProcessor struct {
	cfg         *config.Config
	emailSender email.Sender
	syncService services.ISyncService
	dealService services.IDealService
	roomService services.IRoomService
	userService services.IUserService
	negotiation services.INegotiationService
	agreements  services.IAgreementService
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	syncService services.ISyncService,
	dealService services.IDealService,
	roomService services.IRoomService,
	userService services.IUserService,
	negotiation services.INegotiationService,
	agreements services.IAgreementService,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:         cfg,
		emailSender: emailSender,
		syncService: syncService,
		dealService: dealService,
		roomService: roomService,
		userService: userService,
		negotiation: negotiation,
		agreements:  agreements,
	}
}

// SetupServer configures and runs an Asynq server for the bg worker mode.
func SetupServer(rdb *redis.Client, processor *TaskProcessor) *asynq.Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     rdb.Options().Addr,
			Password: rdb.Options().Password,
			DB:       rdb.Options().DB,
		},
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("WARN: task %s failed: %v (payload: %s)", task.Type(), err, string(task.Payload()))
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeProviderSync, processor.HandleProviderSyncTask)
	mux.HandleFunc(TypeNotify, processor.HandleNotifyTask)

	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("Could not run Asynq server: %v", err)
		}
	}()
	return srv
}

// EnqueueProviderSync schedules one reconcile sweep. Sweeps collapse to a
// single queued instance via a stable task id.
func EnqueueProviderSync(client *asynq.Client) error {
	task := asynq.NewTask(TypeProviderSync, nil)
	_, err := client.Enqueue(task, asynq.Queue("low"), asynq.TaskID("provider-sync-sweep"))
	if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("failed to enqueue provider sync: %w", err)
	}
	return nil
}

// HandleProviderSyncTask reconciles every agreement out for signature.
func (p *TaskProcessor) HandleProviderSyncTask(ctx context.Context, t *asynq.Task) error {
	changed, err := p.syncService.ReconcileOutstanding(ctx)
	if err != nil {
		return fmt.Errorf("provider sync sweep failed: %w", err)
	}
	if changed > 0 {
		log.Printf("Provider sync updated %d agreement(s)", changed)
	}
	return nil
}

// HandleNotifyTask renders and delivers one negotiation notification.
func (p *TaskProcessor) HandleNotifyTask(ctx context.Context, t *asynq.Task) error {
	var payload NotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal notify payload: %v: %w", err, asynq.SkipRetry)
	}

	notification, err := p.renderNotification(ctx, payload)
	if err != nil {
		return err
	}
	recipients, err := p.resolveRecipients(ctx, payload)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		log.Printf("WARN: no recipients for %s notification on deal %s", payload.Kind, payload.DealID)
		return nil
	}

	raw := email.BuildRawMessage(p.cfg.SmtpFromAddress, recipients, notification.Subject, notification.Body)
	if err := p.emailSender.Send(ctx, recipients, notification.Subject, raw); err != nil {
		return fmt.Errorf("failed to send %s notification: %w", payload.Kind, err)
	}
	return nil
}

func (p *TaskProcessor) renderNotification(ctx context.Context, payload NotifyPayload) (email.Notification, error) {
	switch payload.Kind {
	case email.KindCounterOfferProposed, email.KindCounterOfferAccepted, email.KindCounterOfferDeclined:
		offer, err := p.negotiation.FindPendingCounterOffer(ctx, payload.DealID, payload.RoomID)
		if err == nil && offer != nil && offer.ID == payload.CounterOfferID {
			return email.CounterOfferNotification(offer), nil
		}
		// Responded/superseded offers are no longer pending; synthesize
		// from the payload. TargetRole is the proposer's counterparty for
		// a proposal and the proposer for a response.
		fromRole := payload.TargetRole
		if payload.Kind == email.KindCounterOfferProposed {
			fromRole = payload.TargetRole.Other()
		}
		return email.CounterOfferNotification(&models.CounterOffer{
			ID:       payload.CounterOfferID,
			DealID:   payload.DealID,
			FromRole: fromRole,
			Status:   counterStatusForKind(payload.Kind),
		}), nil
	case email.KindAgreementReadyToSign:
		agreement, err := p.agreements.FindAgreementByID(ctx, payload.AgreementID)
		if err != nil {
			return email.Notification{}, fmt.Errorf("agreement %s for notification: %v: %w", payload.AgreementID, err, asynq.SkipRetry)
		}
		return email.AgreementReadyNotification(agreement, payload.TargetRole), nil
	case email.KindAgreementFullySigned:
		agreement, err := p.agreements.FindAgreementByID(ctx, payload.AgreementID)
		if err != nil {
			return email.Notification{}, fmt.Errorf("agreement %s for notification: %v: %w", payload.AgreementID, err, asynq.SkipRetry)
		}
		return email.AgreementSignedNotification(agreement), nil
	}
	return email.Notification{}, fmt.Errorf("unknown notification kind %q: %w", payload.Kind, asynq.SkipRetry)
}

// resolveRecipients maps the scope's parties to email addresses.
func (p *TaskProcessor) resolveRecipients(ctx context.Context, payload NotifyPayload) ([]string, error) {
	var userIDs []string

	deal, err := p.dealService.FindDealByID(ctx, payload.DealID)
	if err != nil {
		return nil, fmt.Errorf("deal %s for notification: %v: %w", payload.DealID, err, asynq.SkipRetry)
	}
	investorID := deal.InvestorID
	agentID := ""
	if payload.RoomID != nil {
		room, err := p.roomService.FindRoomByID(ctx, *payload.RoomID)
		if err != nil {
			return nil, fmt.Errorf("room %s for notification: %v: %w", *payload.RoomID, err, asynq.SkipRetry)
		}
		agentID = room.AgentID
	}

	switch payload.TargetRole {
	case models.RoleInvestor:
		userIDs = []string{investorID}
	case models.RoleAgent:
		if agentID != "" {
			userIDs = []string{agentID}
		}
	default:
		userIDs = []string{investorID}
		if agentID != "" {
			userIDs = append(userIDs, agentID)
		}
	}

	var recipients []string
	for _, id := range userIDs {
		user, err := p.userService.FindUserByID(ctx, id)
		if err != nil {
			log.Printf("WARN: notification recipient %s not found: %v", id, err)
			continue
		}
		recipients = append(recipients, user.Email)
	}
	return recipients, nil
}

func counterStatusForKind(kind email.NotificationKind) models.CounterOfferStatus {
	switch kind {
	case email.KindCounterOfferAccepted:
		return models.CounterOfferAccepted
	case email.KindCounterOfferDeclined:
		return models.CounterOfferDeclined
	}
	return models.CounterOfferPending
}
