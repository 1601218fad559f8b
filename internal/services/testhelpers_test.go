package services

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/brademus/investorkonnect-sub002/internal/config"
	"github.com/brademus/investorkonnect-sub002/internal/db"
	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/provider"
)

var testMongoURI string

func init() {
	_, filename, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil {
		godotenv.Load()
	}

	testMongoURI = os.Getenv("MONGO_URI_TEST")
	if testMongoURI == "" {
		panic("MONGO_URI_TEST environment variable is required for tests")
	}
}

func setupTestDB(t *testing.T, dbName string) *mongo.Database {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(testMongoURI))
	require.NoError(t, err, "Failed to connect to MongoDB")
	database := client.Database(dbName)
	for _, coll := range []string{
		dealsCollection, roomsCollection, agreementsCollection,
		counterOffersCollection, connectionsCollection, usersCollection,
	} {
		_ = database.Collection(coll).Drop(context.Background())
	}
	require.NoError(t, db.EnsureIndexes(context.Background(), database))
	return database
}

func testServiceConfig() *config.Config {
	return &config.Config{
		AttorneyReviewStates:   []string{"NJ"},
		AttorneyReviewDays:     3,
		TokenRefreshMargin:     5 * time.Minute,
		ConnectionCacheTTL:     time.Minute,
		ProviderDefaultBaseURI: "https://demo.docusign.net",
	}
}

func floatPtr(v float64) *float64 { return &v }
func strPtr(v string) *string     { return &v }

func percentageTerms(pct float64, days int) *models.CommissionTerms {
	return &models.CommissionTerms{
		Type:                models.CommissionPercentage,
		Percentage:          floatPtr(pct),
		AgreementLengthDays: days,
	}
}

func flatTerms(amount float64, days int) *models.CommissionTerms {
	return &models.CommissionTerms{
		Type:                models.CommissionFlatFee,
		FlatAmount:          floatPtr(amount),
		AgreementLengthDays: days,
	}
}

func seedUser(t *testing.T, database *mongo.Database, role models.Role) *models.User {
	now := time.Now().UTC()
	user := &models.User{
		ID:        models.NewID(),
		Name:      string(role) + " tester",
		Email:     models.NewID() + "@example.com",
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := database.Collection(usersCollection).InsertOne(context.Background(), user)
	require.NoError(t, err)
	return user
}

func seedDeal(t *testing.T, database *mongo.Database, investorID, propertyState string, terms models.ProposedTerms) *models.Deal {
	deal, err := NewDealService(database).CreateDeal(context.Background(), investorID, "1 Main St", propertyState, terms)
	require.NoError(t, err)
	return deal
}

func seedRoom(t *testing.T, database *mongo.Database, dealID, agentID string) *models.Room {
	room, err := NewRoomService(database).CreateRoom(context.Background(), dealID, agentID)
	require.NoError(t, err)
	return room
}

func seedConnection(t *testing.T, database *mongo.Database, expiresAt time.Time) *models.ProviderConnection {
	now := time.Now().UTC()
	conn := &models.ProviderConnection{
		ID:           models.NewID(),
		AccessToken:  "seed-access",
		RefreshToken: "seed-refresh",
		ExpiresAt:    expiresAt,
		BaseURI:      "https://demo.docusign.net",
		AccountID:    "acct-test",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err := database.Collection(connectionsCollection).InsertOne(context.Background(), conn)
	require.NoError(t, err)
	return conn
}

// mockProviderClient mocks provider.IClient.
type mockProviderClient struct {
	mock.Mock
}

func (m *mockProviderClient) RefreshToken(ctx context.Context, refreshToken string) (*provider.TokenResponse, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.TokenResponse), args.Error(1)
}

func (m *mockProviderClient) CreateEnvelope(ctx context.Context, conn *models.ProviderConnection, req provider.EnvelopeRequest) (string, error) {
	args := m.Called(ctx, conn, req)
	return args.String(0), args.Error(1)
}

func (m *mockProviderClient) AddRecipient(ctx context.Context, conn *models.ProviderConnection, envelopeID string, rec provider.RecipientRequest) (string, error) {
	args := m.Called(ctx, conn, envelopeID, rec)
	return args.String(0), args.Error(1)
}

func (m *mockProviderClient) CreateRecipientView(ctx context.Context, conn *models.ProviderConnection, envelopeID string, req provider.RecipientViewRequest) (string, error) {
	args := m.Called(ctx, conn, envelopeID, req)
	return args.String(0), args.Error(1)
}

func (m *mockProviderClient) ListRecipients(ctx context.Context, conn *models.ProviderConnection, envelopeID string) ([]provider.RecipientStatus, error) {
	args := m.Called(ctx, conn, envelopeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.RecipientStatus), args.Error(1)
}

func (m *mockProviderClient) DownloadDocument(ctx context.Context, conn *models.ProviderConnection, envelopeID string) ([]byte, error) {
	args := m.Called(ctx, conn, envelopeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
