package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/brademus/investorkonnect-sub002/internal/auth"
	"github.com/brademus/investorkonnect-sub002/internal/db"
	"github.com/brademus/investorkonnect-sub002/internal/models"
)

// ErrInvalidCredentials is returned for a wrong email/password pair.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrEmailTaken is returned when registering an email that already exists.
var ErrEmailTaken = errors.New("email already registered")

// IUserService manages platform accounts.
type IUserService interface {
	Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, error)
	FindUserByID(ctx context.Context, userID string) (*models.User, error)
}

type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(database *mongo.Database) IUserService {
	return &userService{db: database}
}

func (s *userService) Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		ID:           models.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = s.db.Collection(usersCollection).InsertOne(ctx, user)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to insert user %s: %w", email, err)
	}
	return user, nil
}

func (s *userService) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"email": email, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error finding user %s: %w", email, err)
	}
	if user.Suspended {
		return nil, fmt.Errorf("account suspended")
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func (s *userService) FindUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": userID, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding user %s: %w", userID, err)
	}
	return &user, nil
}
