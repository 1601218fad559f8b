package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/brademus/investorkonnect-sub002/internal/config"
	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/provider"
)

// Session is the outcome of a signing-session request. AlreadySigned marks
// the idempotent short-circuit: the signer has completed and no provider
// call was made.
type Session struct {
	SigningURL    string `json:"signing_url,omitempty"`
	AlreadySigned bool   `json:"already_signed,omitempty"`
}

// ISigningService orchestrates the sequential two-party signing flow over
// an agreement.
type ISigningService interface {
	// CreateSigningSession enforces the pre-signing checks in order
	// (pending counter-offer, terms mismatch, signer ordering, already
	// signed), then creates or reuses the provider envelope and recipient
	// and returns the embedded-signing URL.
	CreateSigningSession(ctx context.Context, agreementID string, role models.Role, redirectURL string) (*Session, error)
	// ApplySignature records a completed signature reported by the
	// provider (webhook or sync poll). Repeats are no-ops.
	ApplySignature(ctx context.Context, agreementID string, role models.Role, signedAt time.Time) (bool, error)
	// CancelDuringReview voids an agreement inside the attorney-review
	// window. After the window's end-of-day deadline the agreement
	// completes instead.
	CancelDuringReview(ctx context.Context, agreementID string, role models.Role) (*models.LegalAgreement, error)
	// FinalizeReviewIfElapsed promotes an agreement whose attorney-review
	// deadline has passed to fully signed. State is derived lazily on
	// read; there is no scheduled timer.
	FinalizeReviewIfElapsed(ctx context.Context, agreement *models.LegalAgreement) (*models.LegalAgreement, error)
}

type signingService struct {
	db          *mongo.Database
	cfg         *config.Config
	client      provider.IClient
	connections IConnectionService
	notifier    Notifier
	now         func() time.Time
}

// NewSigningService creates a new SigningService.
func NewSigningService(database *mongo.Database, cfg *config.Config, client provider.IClient, connections IConnectionService, notifier Notifier) ISigningService {
	return &signingService{
		db:          database,
		cfg:         cfg,
		client:      client,
		connections: connections,
		notifier:    notifier,
		now:         time.Now,
	}
}

func (s *signingService) CreateSigningSession(ctx context.Context, agreementID string, role models.Role, redirectURL string) (*Session, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid signing role %q", role)
	}

	agreement, err := findAgreementByID(ctx, s.db, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.Status.Terminal() {
		return nil, NewConflict(ConflictTermsMismatch)
	}
	if agreement, err = s.FinalizeReviewIfElapsed(ctx, agreement); err != nil {
		return nil, err
	}

	scope, err := loadScope(ctx, s.db, agreement.DealID, agreement.RoomID)
	if err != nil {
		return nil, err
	}
	if !signerModeIncludes(agreement.SignerMode, role) {
		return nil, fmt.Errorf("role %q is not a signer on agreement %s", role, agreementID)
	}

	// Pre-signing checks, in order. Each later check only runs once the
	// earlier gates pass so the caller always gets the most actionable
	// conflict.
	pending, err := pendingCounterOffer(ctx, s.db, agreement.DealID, agreement.RoomID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, NewConflict(ConflictCounterOfferPending)
	}
	if scope.RequiresRegenerate || !models.TermsEqual(scope.Terms, agreement.ExhibitATerms) {
		return nil, NewConflict(ConflictTermsMismatch)
	}
	if role == models.RoleAgent && agreement.SignerMode != models.SignerModeAgentOnly && agreement.InvestorSignedAt == nil {
		return nil, NewConflict(ConflictInvestorMustSignFirst)
	}
	if agreement.SignedBy(role) {
		return &Session{AlreadySigned: true}, nil
	}
	if agreement.Status == models.AgreementFullySigned || agreement.Status == models.AgreementAttorneyReview {
		return nil, NewConflict(ConflictAlreadyFullySigned)
	}

	conn, err := s.connections.Token(ctx)
	if err != nil {
		return nil, err
	}

	if agreement.EnvelopeID == "" {
		envelopeID, envErr := s.client.CreateEnvelope(ctx, conn, provider.EnvelopeRequest{
			Subject:      "Representation Agreement for " + scope.DealID,
			DocumentName: "representation-agreement.pdf",
			DocumentPDF:  renderAgreementPDF(agreement, s.propertyAddress(ctx, scope.DealID)),
		})
		if envErr != nil {
			return nil, mapProviderError(envErr)
		}
		if err := s.updateAgreement(ctx, agreement.ID, bson.M{
			"envelope_id": envelopeID,
			"status":      models.AgreementSent,
		}); err != nil {
			return nil, err
		}
		agreement.EnvelopeID = envelopeID
		agreement.Status = models.AgreementSent
		s.updateRoomStatus(ctx, scope, models.RoomAgreementSent)
	}

	signerID, name, email, err := s.signerIdentity(ctx, scope, role)
	if err != nil {
		return nil, err
	}

	recipientID := agreement.RecipientID(role)
	if recipientID == "" {
		recipientID, err = s.client.AddRecipient(ctx, conn, agreement.EnvelopeID, provider.RecipientRequest{
			Name:         name,
			Email:        email,
			RoleName:     string(role),
			RoutingOrder: routingOrder(role),
			ClientUserID: signerID,
		})
		if err != nil {
			return nil, mapProviderError(err)
		}
		field := "investor_recipient_id"
		if role == models.RoleAgent {
			field = "agent_recipient_id"
		}
		if err := s.updateAgreement(ctx, agreement.ID, bson.M{field: recipientID}); err != nil {
			return nil, err
		}
	}

	signingURL, err := s.client.CreateRecipientView(ctx, conn, agreement.EnvelopeID, provider.RecipientViewRequest{
		RecipientID:  recipientID,
		Name:         name,
		Email:        email,
		ClientUserID: signerID,
		ReturnURL:    redirectURL,
	})
	if err != nil {
		return nil, mapProviderError(err)
	}
	return &Session{SigningURL: signingURL}, nil
}

func (s *signingService) ApplySignature(ctx context.Context, agreementID string, role models.Role, signedAt time.Time) (bool, error) {
	if !role.Valid() {
		return false, fmt.Errorf("invalid signing role %q", role)
	}

	agreement, err := findAgreementByID(ctx, s.db, agreementID)
	if err != nil {
		return false, err
	}
	if agreement.Status.Terminal() {
		return false, nil
	}
	if agreement.SignedBy(role) {
		return false, nil
	}
	// Ordering holds on the write-back path too; a racing provider report
	// for the agent cannot land before the investor's.
	if role == models.RoleAgent && agreement.SignerMode != models.SignerModeAgentOnly && agreement.InvestorSignedAt == nil {
		return false, NewConflict(ConflictInvestorMustSignFirst)
	}

	scope, err := loadScope(ctx, s.db, agreement.DealID, agreement.RoomID)
	if err != nil {
		return false, err
	}

	signedAt = signedAt.UTC()
	if role == models.RoleInvestor {
		agreement.InvestorSignedAt = &signedAt
	} else {
		agreement.AgentSignedAt = &signedAt
	}

	set := bson.M{}
	if role == models.RoleInvestor {
		set["investor_signed_at"] = signedAt
	} else {
		set["agent_signed_at"] = signedAt
	}

	complete := signaturesComplete(agreement)
	var roomStatus models.RoomAgreementStatus
	switch {
	case complete && s.cfg.RequiresAttorneyReview(scope.PropertyState):
		reviewEnd := endOfDay(s.now().UTC().AddDate(0, 0, s.cfg.AttorneyReviewDays))
		set["status"] = models.AgreementAttorneyReview
		set["nj_review_end_at"] = reviewEnd
		agreement.Status = models.AgreementAttorneyReview
		agreement.NJReviewEndAt = &reviewEnd
		roomStatus = models.RoomAgreementAttorneyReview
	case complete:
		set["status"] = models.AgreementFullySigned
		agreement.Status = models.AgreementFullySigned
		roomStatus = models.RoomAgreementFullySigned
	case role == models.RoleInvestor:
		set["status"] = models.AgreementInvestorSigned
		agreement.Status = models.AgreementInvestorSigned
		roomStatus = models.RoomAgreementInvestorSigned
	default:
		set["status"] = models.AgreementAgentSigned
		agreement.Status = models.AgreementAgentSigned
		roomStatus = models.RoomAgreementAgentSigned
	}

	if err := s.updateAgreement(ctx, agreement.ID, set); err != nil {
		return false, err
	}

	scopeSet := bson.M{}
	if scope.RoomID != nil {
		scopeSet["agreement_status"] = roomStatus
	}
	if agreement.Status == models.AgreementFullySigned {
		scopeSet["is_fully_signed"] = true
	}
	if len(scopeSet) > 0 {
		if err := updateScope(ctx, s.db, scope, scopeSet); err != nil {
			log.Printf("WARN: failed to denormalize signature state onto scope for deal %s: %v", scope.DealID, err)
		}
	}

	if s.notifier != nil {
		switch {
		case agreement.Status == models.AgreementFullySigned:
			s.notifier.AgreementFullySigned(ctx, agreement)
		case role == models.RoleInvestor && agreement.SignerMode == models.SignerModeBoth:
			s.notifier.AgreementReadyToSign(ctx, agreement, models.RoleAgent)
		}
	}
	return true, nil
}

func (s *signingService) CancelDuringReview(ctx context.Context, agreementID string, role models.Role) (*models.LegalAgreement, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	agreement, err := findAgreementByID(ctx, s.db, agreementID)
	if err != nil {
		return nil, err
	}
	if agreement.Status != models.AgreementAttorneyReview {
		return nil, fmt.Errorf("agreement %s is not in attorney review", agreementID)
	}
	if agreement.ReviewElapsed(s.now().UTC()) {
		if agreement, err = s.FinalizeReviewIfElapsed(ctx, agreement); err != nil {
			return nil, err
		}
		return agreement, NewConflict(ConflictReviewWindowClosed)
	}

	nextStatus, err := models.NextAgreementStatus(agreement.Status, models.AgreementEventVoid)
	if err != nil {
		return nil, err
	}
	// Filtered on the current status so only one of two racing cancels
	// (or a cancel racing the deadline) takes effect.
	res, err := s.db.Collection(agreementsCollection).UpdateOne(ctx,
		bson.M{"_id": agreementID, "status": models.AgreementAttorneyReview},
		bson.M{"$set": bson.M{"status": nextStatus, "updated_at": s.now().UTC()}})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel agreement %s: %w", agreementID, err)
	}
	if res.MatchedCount == 0 {
		return nil, fmt.Errorf("agreement %s left attorney review concurrently", agreementID)
	}
	agreement.Status = nextStatus

	scope, err := loadScope(ctx, s.db, agreement.DealID, agreement.RoomID)
	if err == nil {
		set := bson.M{"is_fully_signed": false, "requires_regenerate": true}
		if scope.RoomID != nil {
			set["agreement_status"] = models.RoomAgreementDraft
		}
		if uErr := updateScope(ctx, s.db, scope, set); uErr != nil {
			log.Printf("WARN: failed to reset scope after review cancel for deal %s: %v", scope.DealID, uErr)
		}
	}
	return agreement, nil
}

func (s *signingService) FinalizeReviewIfElapsed(ctx context.Context, agreement *models.LegalAgreement) (*models.LegalAgreement, error) {
	if !agreement.ReviewElapsed(s.now().UTC()) {
		return agreement, nil
	}
	nextStatus, err := models.NextAgreementStatus(agreement.Status, models.AgreementEventReviewElapsed)
	if err != nil {
		return nil, err
	}
	res, err := s.db.Collection(agreementsCollection).UpdateOne(ctx,
		bson.M{"_id": agreement.ID, "status": models.AgreementAttorneyReview},
		bson.M{"$set": bson.M{"status": nextStatus, "updated_at": s.now().UTC()}})
	if err != nil {
		return nil, fmt.Errorf("failed to finalize review for agreement %s: %w", agreement.ID, err)
	}
	if res.MatchedCount == 0 {
		// Someone else finalized or cancelled first; reload the truth.
		return findAgreementByID(ctx, s.db, agreement.ID)
	}
	agreement.Status = nextStatus

	scope, err := loadScope(ctx, s.db, agreement.DealID, agreement.RoomID)
	if err == nil {
		set := bson.M{"is_fully_signed": true}
		if scope.RoomID != nil {
			set["agreement_status"] = models.RoomAgreementFullySigned
		}
		if uErr := updateScope(ctx, s.db, scope, set); uErr != nil {
			log.Printf("WARN: failed to denormalize review completion for deal %s: %v", scope.DealID, uErr)
		}
	}
	if s.notifier != nil {
		s.notifier.AgreementFullySigned(ctx, agreement)
	}
	return agreement, nil
}

// updateAgreement applies a $set against a non-terminal agreement.
func (s *signingService) updateAgreement(ctx context.Context, agreementID string, set bson.M) error {
	set["updated_at"] = s.now().UTC()
	filter := bson.M{"_id": agreementID, "status": bson.M{"$nin": []models.AgreementStatus{
		models.AgreementVoided, models.AgreementSuperseded,
	}}}
	res, err := s.db.Collection(agreementsCollection).UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update agreement %s: %w", agreementID, err)
	}
	if res.MatchedCount == 0 {
		return NewConflict(ConflictTermsMismatch)
	}
	return nil
}

func (s *signingService) updateRoomStatus(ctx context.Context, scope *scopeState, status models.RoomAgreementStatus) {
	if scope.RoomID == nil {
		return
	}
	if err := updateScope(ctx, s.db, scope, bson.M{"agreement_status": status}); err != nil {
		log.Printf("WARN: failed to update room %s agreement status: %v", *scope.RoomID, err)
	}
}

// signerIdentity resolves the user behind a role in this scope.
func (s *signingService) signerIdentity(ctx context.Context, scope *scopeState, role models.Role) (string, string, string, error) {
	userID := scope.InvestorID
	if role == models.RoleAgent {
		userID = scope.AgentID
	}
	if userID == "" {
		return "", "", "", fmt.Errorf("%w: no %s bound to deal %s", ErrNotFound, role, scope.DealID)
	}
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", "", "", fmt.Errorf("%w: signer %s", ErrNotFound, userID)
		}
		return "", "", "", fmt.Errorf("error finding signer %s: %w", userID, err)
	}
	return user.ID, user.Name, user.Email, nil
}

func (s *signingService) propertyAddress(ctx context.Context, dealID string) string {
	var deal models.Deal
	if err := s.db.Collection(dealsCollection).FindOne(ctx, bson.M{"_id": dealID}).Decode(&deal); err != nil {
		return ""
	}
	return deal.PropertyAddress
}

// signaturesComplete reports whether every signer the mode requires has a
// timestamp.
func signaturesComplete(a *models.LegalAgreement) bool {
	switch a.SignerMode {
	case models.SignerModeInvestorOnly:
		return a.InvestorSignedAt != nil
	case models.SignerModeAgentOnly:
		return a.AgentSignedAt != nil
	default:
		return a.InvestorSignedAt != nil && a.AgentSignedAt != nil
	}
}

func signerModeIncludes(mode models.SignerMode, role models.Role) bool {
	switch mode {
	case models.SignerModeInvestorOnly:
		return role == models.RoleInvestor
	case models.SignerModeAgentOnly:
		return role == models.RoleAgent
	default:
		return true
	}
}

func routingOrder(role models.Role) int {
	if role == models.RoleInvestor {
		return 1
	}
	return 2
}

// endOfDay returns the last second of t's calendar day in UTC. The review
// deadline is end-of-day, not a 72-hour stopwatch.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// mapProviderError translates provider failures into the service taxonomy.
func mapProviderError(err error) error {
	if errors.Is(err, provider.ErrRateLimited) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
