package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/brademus/investorkonnect-sub002/internal/db"
	"github.com/brademus/investorkonnect-sub002/internal/models"
)

// resolverCandidateLimit bounds the fallback query over recent agreements.
const resolverCandidateLimit = 10

// IAgreementService generates agreement instances and owns the
// single-active-agreement invariant for a scope.
type IAgreementService interface {
	// Generate voids every live agreement in the scope and creates a fresh
	// draft from a frozen snapshot of the given terms (the scope's current
	// proposed terms when terms is nil). Returns regenerated=false when an
	// identical unsigned draft is already active.
	Generate(ctx context.Context, dealID string, roomID *string, terms *models.ProposedTerms, signerMode models.SignerMode) (*models.LegalAgreement, bool, error)
	FindAgreementByID(ctx context.Context, agreementID string) (*models.LegalAgreement, error)
}

type agreementService struct {
	db *mongo.Database
}

// NewAgreementService creates a new AgreementService.
func NewAgreementService(database *mongo.Database) IAgreementService {
	return &agreementService{db: database}
}

func (s *agreementService) Generate(ctx context.Context, dealID string, roomID *string, terms *models.ProposedTerms, signerMode models.SignerMode) (*models.LegalAgreement, bool, error) {
	scope, err := loadScope(ctx, s.db, dealID, roomID)
	if err != nil {
		return nil, false, err
	}

	snapshot := scope.Terms
	if terms != nil {
		snapshot = *terms
	}
	if missing := models.MissingTermFields(snapshot); len(missing) > 0 {
		return nil, false, &ValidationError{Missing: missing}
	}

	active, err := activeAgreement(ctx, s.db, dealID, roomID)
	if err != nil {
		return nil, false, err
	}

	// An unsigned draft over identical terms is reusable; re-pointing at it
	// still clears the regeneration flag so signing can resume.
	if active != nil && active.InvestorSignedAt == nil && active.AgentSignedAt == nil &&
		models.TermsEqual(active.ExhibitATerms, snapshot) {
		if err := s.pointScopeAt(ctx, scope, active); err != nil {
			return nil, false, err
		}
		return active, false, nil
	}

	if err := voidScopeAgreements(ctx, s.db, dealID, roomID); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	collection := s.db.Collection(agreementsCollection)
	var agreement *models.LegalAgreement
	operation := func() error {
		agreement = &models.LegalAgreement{
			ID:            models.NewID(),
			DealID:        dealID,
			RoomID:        roomID,
			Status:        models.AgreementDraft,
			ExhibitATerms: snapshot,
			SignerMode:    signerMode,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		_, insertErr := collection.InsertOne(ctx, agreement)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, false, fmt.Errorf("failed to insert agreement for deal %s: %w", dealID, err)
	}

	if err := s.pointScopeAt(ctx, scope, agreement); err != nil {
		return nil, false, err
	}
	return agreement, true, nil
}

func (s *agreementService) FindAgreementByID(ctx context.Context, agreementID string) (*models.LegalAgreement, error) {
	return findAgreementByID(ctx, s.db, agreementID)
}

// pointScopeAt updates the scope's agreement pointer, clears the
// regeneration flag, and resets the room's denormalized status.
func (s *agreementService) pointScopeAt(ctx context.Context, scope *scopeState, agreement *models.LegalAgreement) error {
	set := bson.M{
		"current_legal_agreement_id": agreement.ID,
		"requires_regenerate":        false,
	}
	if scope.RoomID != nil {
		set["agreement_status"] = models.RoomAgreementDraft
	}
	return updateScope(ctx, s.db, scope, set)
}

func findAgreementByID(ctx context.Context, database *mongo.Database, agreementID string) (*models.LegalAgreement, error) {
	var agreement models.LegalAgreement
	err := database.Collection(agreementsCollection).FindOne(ctx, bson.M{"_id": agreementID}).Decode(&agreement)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding agreement %s: %w", agreementID, err)
	}
	return &agreement, nil
}

// latestAgreements returns the newest agreements in a scope, most recent
// first.
func latestAgreements(ctx context.Context, database *mongo.Database, dealID string, roomID *string, limit int) ([]models.LegalAgreement, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(int64(limit))
	cursor, err := database.Collection(agreementsCollection).Find(ctx, scopeFilter(dealID, roomID), opts)
	if err != nil {
		return nil, fmt.Errorf("error listing agreements for deal %s: %w", dealID, err)
	}
	defer cursor.Close(ctx)

	var agreements []models.LegalAgreement
	if err := cursor.All(ctx, &agreements); err != nil {
		return nil, fmt.Errorf("error decoding agreements for deal %s: %w", dealID, err)
	}
	return agreements, nil
}

// activeAgreement returns the newest non-terminal agreement in a scope, nil
// when none exists.
func activeAgreement(ctx context.Context, database *mongo.Database, dealID string, roomID *string) (*models.LegalAgreement, error) {
	agreements, err := latestAgreements(ctx, database, dealID, roomID, resolverCandidateLimit)
	if err != nil {
		return nil, err
	}
	for i := range agreements {
		if !agreements[i].Status.Terminal() {
			return &agreements[i], nil
		}
	}
	return nil, nil
}

// voidScopeAgreements terminally voids every live agreement in the scope.
func voidScopeAgreements(ctx context.Context, database *mongo.Database, dealID string, roomID *string) error {
	filter := scopeFilter(dealID, roomID)
	filter["status"] = bson.M{"$nin": []models.AgreementStatus{models.AgreementVoided, models.AgreementSuperseded}}
	update := bson.M{"$set": bson.M{
		"status":     models.AgreementVoided,
		"updated_at": time.Now().UTC(),
	}}
	if _, err := database.Collection(agreementsCollection).UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to void agreements for deal %s: %w", dealID, err)
	}
	return nil
}
