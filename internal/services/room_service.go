package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/brademus/investorkonnect-sub002/internal/db"
	"github.com/brademus/investorkonnect-sub002/internal/models"
)

// IRoomService manages deal×agent negotiation contexts.
type IRoomService interface {
	CreateRoom(ctx context.Context, dealID, agentID string) (*models.Room, error)
	FindRoomByID(ctx context.Context, roomID string) (*models.Room, error)
	FindRoomsByDeal(ctx context.Context, dealID string) ([]models.Room, error)
}

type roomService struct {
	db *mongo.Database
}

// NewRoomService creates a new RoomService.
func NewRoomService(database *mongo.Database) IRoomService {
	return &roomService{db: database}
}

// CreateRoom opens a negotiation room between the deal's investor and one
// agent. The room starts from a copy of the deal's current proposed terms
// so later per-room negotiation never contaminates the deal or sibling
// rooms.
func (s *roomService) CreateRoom(ctx context.Context, dealID, agentID string) (*models.Room, error) {
	var deal models.Deal
	err := s.db.Collection(dealsCollection).FindOne(ctx, bson.M{"_id": dealID, "deleted": false}).Decode(&deal)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDealNotFound
		}
		return nil, fmt.Errorf("error finding deal %s: %w", dealID, err)
	}

	collection := s.db.Collection(roomsCollection)
	now := time.Now().UTC()

	var room *models.Room
	operation := func() error {
		room = &models.Room{
			ID:              models.NewID(),
			DealID:          deal.ID,
			InvestorID:      deal.InvestorID,
			AgentID:         agentID,
			ProposedTerms:   deal.ProposedTerms,
			AgreementStatus: models.RoomAgreementDraft,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		_, insertErr := collection.InsertOne(ctx, room)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert room for deal %s agent %s: %w", dealID, agentID, err)
	}
	return room, nil
}

func (s *roomService) FindRoomByID(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := s.db.Collection(roomsCollection).FindOne(ctx, bson.M{"_id": roomID, "deleted": false}).Decode(&room)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding room %s: %w", roomID, err)
	}
	return &room, nil
}

func (s *roomService) FindRoomsByDeal(ctx context.Context, dealID string) ([]models.Room, error) {
	cursor, err := s.db.Collection(roomsCollection).Find(ctx, bson.M{"deal_id": dealID, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("error listing rooms for deal %s: %w", dealID, err)
	}
	defer cursor.Close(ctx)

	var rooms []models.Room
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, fmt.Errorf("error decoding rooms for deal %s: %w", dealID, err)
	}
	return rooms, nil
}
