package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/brademus/investorkonnect-sub002/internal/config"
	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/provider"
)

// IConnectionService owns the signature provider's OAuth credential: the
// newest stored connection is authoritative, and it is refreshed before the
// access token expires.
type IConnectionService interface {
	// Token returns a connection whose access token is valid for at least
	// the configured refresh margin, refreshing and persisting it if not.
	Token(ctx context.Context) (*models.ProviderConnection, error)
	// SaveConnection stores a freshly-authorized credential (consent flow).
	SaveConnection(ctx context.Context, accessToken, refreshToken string, expiresIn int64, baseURI, accountID string) (*models.ProviderConnection, error)
	// InvalidateCache drops the in-process cached connection.
	InvalidateCache()
}

// cachedConnection is an explicit {value, fetchedAt} pair so the TTL check
// is visible at the call site and tests can start from a cold cache.
type cachedConnection struct {
	value     *models.ProviderConnection
	fetchedAt time.Time
}

type connectionService struct {
	db     *mongo.Database
	cfg    *config.Config
	client provider.IClient
	now    func() time.Time

	mu    sync.Mutex
	cache cachedConnection
}

// NewConnectionService creates a new ConnectionService with a cold cache.
func NewConnectionService(database *mongo.Database, cfg *config.Config, client provider.IClient) IConnectionService {
	return &connectionService{db: database, cfg: cfg, client: client, now: time.Now}
}

func (s *connectionService) Token(ctx context.Context) (*models.ProviderConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if s.cache.value != nil &&
		now.Sub(s.cache.fetchedAt) < s.cfg.ConnectionCacheTTL &&
		!s.cache.value.ExpiresWithin(now, s.cfg.TokenRefreshMargin) {
		return s.cache.value, nil
	}

	conn, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}

	if conn.ExpiresWithin(now, s.cfg.TokenRefreshMargin) {
		conn, err = s.refresh(ctx, conn, now)
		if err != nil {
			return nil, err
		}
	}

	s.cache = cachedConnection{value: conn, fetchedAt: now}
	return conn, nil
}

func (s *connectionService) SaveConnection(ctx context.Context, accessToken, refreshToken string, expiresIn int64, baseURI, accountID string) (*models.ProviderConnection, error) {
	now := s.now().UTC()
	if baseURI == "" {
		baseURI = s.cfg.ProviderDefaultBaseURI
	}
	conn := &models.ProviderConnection{
		ID:           models.NewID(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(time.Duration(expiresIn) * time.Second),
		BaseURI:      baseURI,
		AccountID:    accountID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.db.Collection(connectionsCollection).InsertOne(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to store provider connection: %w", err)
	}

	s.mu.Lock()
	s.cache = cachedConnection{value: conn, fetchedAt: now}
	s.mu.Unlock()
	return conn, nil
}

func (s *connectionService) InvalidateCache() {
	s.mu.Lock()
	s.cache = cachedConnection{}
	s.mu.Unlock()
}

// latest loads the most recent connection record.
func (s *connectionService) latest(ctx context.Context) (*models.ProviderConnection, error) {
	var conn models.ProviderConnection
	opts := options.FindOne().SetSort(bson.M{"created_at": -1})
	err := s.db.Collection(connectionsCollection).FindOne(ctx, bson.M{}, opts).Decode(&conn)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: no provider connection configured", ErrNotFound)
		}
		return nil, fmt.Errorf("error loading provider connection: %w", err)
	}
	return &conn, nil
}

// refresh exchanges the refresh token and persists the new credential. The
// access_token, refresh_token and expires_at triple goes out in one update
// so a concurrent reader sees either the old credential or the new one,
// never a mix.
func (s *connectionService) refresh(ctx context.Context, conn *models.ProviderConnection, now time.Time) (*models.ProviderConnection, error) {
	tok, err := s.client.RefreshToken(ctx, conn.RefreshToken)
	if err != nil {
		if errors.Is(err, provider.ErrRateLimited) {
			return nil, fmt.Errorf("%w: token refresh: %v", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("%w: token refresh: %v", ErrProviderUnavailable, err)
	}

	conn.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		// Some providers rotate the refresh token, some return it blank.
		conn.RefreshToken = tok.RefreshToken
	}
	conn.ExpiresAt = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	conn.UpdatedAt = now

	update := bson.M{"$set": bson.M{
		"access_token":  conn.AccessToken,
		"refresh_token": conn.RefreshToken,
		"expires_at":    conn.ExpiresAt,
		"updated_at":    conn.UpdatedAt,
	}}
	res, err := s.db.Collection(connectionsCollection).UpdateOne(ctx, bson.M{"_id": conn.ID}, update)
	if err != nil {
		return nil, fmt.Errorf("failed to persist refreshed provider token: %w", err)
	}
	if res.MatchedCount == 0 {
		log.Printf("WARN: provider connection %s vanished during refresh", conn.ID)
		return nil, fmt.Errorf("%w: provider connection %s", ErrNotFound, conn.ID)
	}
	return conn, nil
}
