package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/provider"
	"github.com/brademus/investorkonnect-sub002/internal/storage"
)

// ISyncService reconciles local signature state against the provider's
// current truth. It carries no polling interval of its own; callers invoke
// it on demand (forced refresh) or on a schedule (background task).
type ISyncService interface {
	// Reconcile pulls the envelope's recipient list and writes back any
	// signature the provider knows about and we do not. Returns whether
	// anything changed locally.
	Reconcile(ctx context.Context, agreement *models.LegalAgreement) (bool, error)
	// ReconcileOutstanding sweeps every agreement that is out for
	// signature. Returns how many changed.
	ReconcileOutstanding(ctx context.Context) (int, error)
}

type syncService struct {
	db          *mongo.Database
	client      provider.IClient
	connections IConnectionService
	signing     ISigningService
	docs        storage.ISignedDocStorage // nil when S3 is not configured
}

// NewSyncService creates a new SyncService. docs may be nil; the provider's
// document URL is then kept as the only copy.
func NewSyncService(database *mongo.Database, client provider.IClient, connections IConnectionService, signing ISigningService, docs storage.ISignedDocStorage) ISyncService {
	return &syncService{db: database, client: client, connections: connections, signing: signing, docs: docs}
}

func (s *syncService) Reconcile(ctx context.Context, agreement *models.LegalAgreement) (bool, error) {
	changed := false

	if agreement.Status == models.AgreementAttorneyReview {
		finalized, err := s.signing.FinalizeReviewIfElapsed(ctx, agreement)
		if err != nil {
			return false, err
		}
		if finalized.Status != agreement.Status {
			changed = true
		}
		agreement = finalized
	}
	if agreement.EnvelopeID == "" || agreement.Status.Terminal() {
		return changed, nil
	}

	conn, err := s.connections.Token(ctx)
	if err != nil {
		return changed, err
	}
	recipients, err := s.client.ListRecipients(ctx, conn, agreement.EnvelopeID)
	if err != nil {
		return changed, mapProviderError(err)
	}

	// Investor first so that a poll reporting both signatures lands them in
	// signer order.
	for _, role := range []models.Role{models.RoleInvestor, models.RoleAgent} {
		rec, ok := matchRecipient(agreement, recipients, role)
		if !ok || !rec.Completed() || agreement.SignedBy(role) {
			continue
		}
		signedAt := time.Now().UTC()
		if ts := rec.SignedAt(); ts != nil {
			signedAt = *ts
		}
		applied, err := s.signing.ApplySignature(ctx, agreement.ID, role, signedAt)
		if err != nil {
			return changed, err
		}
		if applied {
			changed = true
			if agreement, err = findAgreementByID(ctx, s.db, agreement.ID); err != nil {
				return changed, err
			}
		}
	}

	if signaturesComplete(agreement) && agreement.SignedDocumentKey == "" {
		if err := s.archiveDocument(ctx, conn, agreement); err != nil {
			// Archival is retried on the next sweep; the signatures stand.
			log.Printf("WARN: failed to archive signed document for agreement %s: %v", agreement.ID, err)
		}
	}
	return changed, nil
}

func (s *syncService) ReconcileOutstanding(ctx context.Context) (int, error) {
	filter := bson.M{
		"envelope_id": bson.M{"$exists": true, "$ne": ""},
		"status": bson.M{"$in": []models.AgreementStatus{
			models.AgreementSent,
			models.AgreementInvestorSigned,
			models.AgreementAgentSigned,
			models.AgreementAttorneyReview,
		}},
	}
	opts := options.Find().SetSort(bson.M{"updated_at": 1}).SetLimit(200)
	cursor, err := s.db.Collection(agreementsCollection).Find(ctx, filter, opts)
	if err != nil {
		return 0, fmt.Errorf("error listing outstanding agreements: %w", err)
	}
	defer cursor.Close(ctx)

	var agreements []models.LegalAgreement
	if err := cursor.All(ctx, &agreements); err != nil {
		return 0, fmt.Errorf("error decoding outstanding agreements: %w", err)
	}

	changedCount := 0
	for i := range agreements {
		changed, err := s.Reconcile(ctx, &agreements[i])
		if err != nil {
			log.Printf("WARN: reconcile failed for agreement %s: %v", agreements[i].ID, err)
			continue
		}
		if changed {
			changedCount++
		}
	}
	return changedCount, nil
}

// archiveDocument downloads the completed document and records where it
// lives. Without S3 the provider-hosted URL is kept as the only reference.
func (s *syncService) archiveDocument(ctx context.Context, conn *models.ProviderConnection, agreement *models.LegalAgreement) error {
	set := bson.M{
		"signed_document_url": fmt.Sprintf("%s/v2.1/accounts/%s/envelopes/%s/documents/combined",
			conn.BaseURI, conn.AccountID, agreement.EnvelopeID),
		"updated_at": time.Now().UTC(),
	}

	if s.docs != nil {
		pdf, err := s.client.DownloadDocument(ctx, conn, agreement.EnvelopeID)
		if err != nil {
			return mapProviderError(err)
		}
		key, err := s.docs.ArchiveSignedDocument(ctx, agreement.DealID, agreement.ID, pdf)
		if err != nil {
			return err
		}
		set["signed_document_key"] = key
	}

	_, err := s.db.Collection(agreementsCollection).UpdateOne(ctx, bson.M{"_id": agreement.ID}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to record signed document for agreement %s: %w", agreement.ID, err)
	}
	return nil
}

// matchRecipient finds the provider recipient backing a role, by stored
// recipient id first and role name as fallback.
func matchRecipient(agreement *models.LegalAgreement, recipients []provider.RecipientStatus, role models.Role) (provider.RecipientStatus, bool) {
	wantID := agreement.RecipientID(role)
	for _, rec := range recipients {
		if wantID != "" && rec.RecipientID == wantID {
			return rec, true
		}
	}
	for _, rec := range recipients {
		if rec.RoleName == string(role) {
			return rec, true
		}
	}
	return provider.RecipientStatus{}, false
}
