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

// IDealService defines deal intake and term-editing operations.
type IDealService interface {
	CreateDeal(ctx context.Context, investorID, propertyAddress, propertyState string, terms models.ProposedTerms) (*models.Deal, error)
	FindDealByID(ctx context.Context, dealID string) (*models.Deal, error)
	FindDealsByInvestor(ctx context.Context, investorID string, limit int) ([]models.Deal, error)
	// UpdateTerms merges a delta into the scope's proposed terms. An edit
	// while an agreement is out for signature (but not yet agent-signed)
	// flags the scope for regeneration.
	UpdateTerms(ctx context.Context, dealID string, roomID *string, delta models.TermsDelta) (models.ProposedTerms, error)
}

type dealService struct {
	db *mongo.Database
}

// NewDealService creates a new DealService.
func NewDealService(database *mongo.Database) IDealService {
	return &dealService{db: database}
}

func (s *dealService) CreateDeal(ctx context.Context, investorID, propertyAddress, propertyState string, terms models.ProposedTerms) (*models.Deal, error) {
	collection := s.db.Collection(dealsCollection)
	now := time.Now().UTC()

	var deal *models.Deal
	operation := func() error {
		deal = &models.Deal{
			ID:              models.NewID(),
			InvestorID:      investorID,
			PropertyAddress: propertyAddress,
			PropertyState:   propertyState,
			ProposedTerms:   terms,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		_, insertErr := collection.InsertOne(ctx, deal)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert deal for investor %s: %w", investorID, err)
	}
	return deal, nil
}

func (s *dealService) FindDealByID(ctx context.Context, dealID string) (*models.Deal, error) {
	var deal models.Deal
	err := s.db.Collection(dealsCollection).FindOne(ctx, bson.M{"_id": dealID, "deleted": false}).Decode(&deal)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("error finding deal %s: %w", dealID, err)
	}
	return &deal, nil
}

func (s *dealService) FindDealsByInvestor(ctx context.Context, investorID string, limit int) ([]models.Deal, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	opts := options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(int64(limit))
	cursor, err := s.db.Collection(dealsCollection).Find(ctx, bson.M{"investor_id": investorID, "deleted": false}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing deals for investor %s: %w", investorID, err)
	}
	defer cursor.Close(ctx)

	var deals []models.Deal
	if err := cursor.All(ctx, &deals); err != nil {
		return nil, fmt.Errorf("error decoding deals for investor %s: %w", investorID, err)
	}
	return deals, nil
}

func (s *dealService) UpdateTerms(ctx context.Context, dealID string, roomID *string, delta models.TermsDelta) (models.ProposedTerms, error) {
	scope, err := loadScope(ctx, s.db, dealID, roomID)
	if err != nil {
		return models.ProposedTerms{}, err
	}
	if scope.IsFullySigned {
		return models.ProposedTerms{}, NewConflict(ConflictAlreadyFullySigned)
	}

	merged := models.ApplyDelta(scope.Terms, delta)
	set := bson.M{"proposed_terms": merged}
	if flaggable, ferr := s.hasAgreementAwaitingSignature(ctx, scope); ferr == nil && flaggable {
		set["requires_regenerate"] = true
	}
	if err := updateScope(ctx, s.db, scope, set); err != nil {
		return models.ProposedTerms{}, err
	}
	return merged, nil
}

// hasAgreementAwaitingSignature reports whether the scope has an agreement
// in draft, sent or investor_signed. Edits during that window invalidate
// the snapshot the parties would sign.
func (s *dealService) hasAgreementAwaitingSignature(ctx context.Context, scope *scopeState) (bool, error) {
	filter := scopeFilter(scope.DealID, scope.RoomID)
	filter["status"] = bson.M{"$in": []models.AgreementStatus{
		models.AgreementDraft, models.AgreementSent, models.AgreementInvestorSigned,
	}}
	count, err := s.db.Collection(agreementsCollection).CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("error counting in-flight agreements for deal %s: %w", scope.DealID, err)
	}
	return count > 0, nil
}
