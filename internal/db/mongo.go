package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectDB initializes and returns a MongoDB client and database instance.
func ConnectDB(uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping the primary node
	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	fmt.Println("Successfully connected to MongoDB!")

	return client, db, nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	fmt.Println("MongoDB connection closed.")
	return nil
}

// EnsureIndexes creates the indexes this subsystem's invariants lean on.
// The partial unique index on pending counter-offers is what turns a
// concurrent double-Propose into a duplicate-key error instead of two
// coexisting pending offers.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	// Multi-key index documents must be ordered; the driver rejects maps
	// with more than one key.
	pendingOnly := mongo.IndexModel{
		Keys: bson.D{{Key: "deal_id", Value: 1}, {Key: "room_id", Value: 1}},
		Options: options.Index().
			SetName("uniq_pending_counter_offer").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"status": "pending"}),
	}
	if _, err := db.Collection("counter_offers").Indexes().CreateOne(ctx, pendingOnly); err != nil {
		return fmt.Errorf("failed to create counter_offers index: %w", err)
	}

	byScope := mongo.IndexModel{
		Keys:    bson.D{{Key: "deal_id", Value: 1}, {Key: "room_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("agreements_by_scope"),
	}
	if _, err := db.Collection("legal_agreements").Indexes().CreateOne(ctx, byScope); err != nil {
		return fmt.Errorf("failed to create legal_agreements index: %w", err)
	}

	userEmail := mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetName("uniq_user_email").SetUnique(true),
	}
	if _, err := db.Collection("users").Indexes().CreateOne(ctx, userEmail); err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}
	return nil
}
