package handlers_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/services"
)

// --- Mocks for service interfaces used by the API handlers ---

type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	args := m.Called(ctx, name, email, password, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Login(ctx context.Context, email, password string) (*models.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindUserByID(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type MockDealService struct {
	mock.Mock
}

func (m *MockDealService) CreateDeal(ctx context.Context, investorID, propertyAddress, propertyState string, terms models.ProposedTerms) (*models.Deal, error) {
	args := m.Called(ctx, investorID, propertyAddress, propertyState, terms)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deal), args.Error(1)
}

func (m *MockDealService) FindDealByID(ctx context.Context, dealID string) (*models.Deal, error) {
	args := m.Called(ctx, dealID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Deal), args.Error(1)
}

func (m *MockDealService) FindDealsByInvestor(ctx context.Context, investorID string, limit int) ([]models.Deal, error) {
	args := m.Called(ctx, investorID, limit)
	return args.Get(0).([]models.Deal), args.Error(1)
}

func (m *MockDealService) UpdateTerms(ctx context.Context, dealID string, roomID *string, delta models.TermsDelta) (models.ProposedTerms, error) {
	args := m.Called(ctx, dealID, roomID, delta)
	return args.Get(0).(models.ProposedTerms), args.Error(1)
}

type MockRoomService struct {
	mock.Mock
}

func (m *MockRoomService) CreateRoom(ctx context.Context, dealID, agentID string) (*models.Room, error) {
	args := m.Called(ctx, dealID, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}

func (m *MockRoomService) FindRoomByID(ctx context.Context, roomID string) (*models.Room, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}

func (m *MockRoomService) FindRoomsByDeal(ctx context.Context, dealID string) ([]models.Room, error) {
	args := m.Called(ctx, dealID)
	return args.Get(0).([]models.Room), args.Error(1)
}

type MockAgreementService struct {
	mock.Mock
}

func (m *MockAgreementService) Generate(ctx context.Context, dealID string, roomID *string, terms *models.ProposedTerms, signerMode models.SignerMode) (*models.LegalAgreement, bool, error) {
	args := m.Called(ctx, dealID, roomID, terms, signerMode)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.LegalAgreement), args.Bool(1), args.Error(2)
}

func (m *MockAgreementService) FindAgreementByID(ctx context.Context, agreementID string) (*models.LegalAgreement, error) {
	args := m.Called(ctx, agreementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LegalAgreement), args.Error(1)
}

type MockNegotiationService struct {
	mock.Mock
}

func (m *MockNegotiationService) Propose(ctx context.Context, dealID string, roomID *string, fromRole models.Role, delta models.TermsDelta) (*models.CounterOffer, error) {
	args := m.Called(ctx, dealID, roomID, fromRole, delta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CounterOffer), args.Error(1)
}

func (m *MockNegotiationService) Respond(ctx context.Context, offerID string, event models.CounterOfferEvent, respondingRole models.Role) (*models.CounterOffer, *models.LegalAgreement, error) {
	args := m.Called(ctx, offerID, event, respondingRole)
	var offer *models.CounterOffer
	var agreement *models.LegalAgreement
	if args.Get(0) != nil {
		offer = args.Get(0).(*models.CounterOffer)
	}
	if args.Get(1) != nil {
		agreement = args.Get(1).(*models.LegalAgreement)
	}
	return offer, agreement, args.Error(2)
}

func (m *MockNegotiationService) FindPendingCounterOffer(ctx context.Context, dealID string, roomID *string) (*models.CounterOffer, error) {
	args := m.Called(ctx, dealID, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CounterOffer), args.Error(1)
}

type MockSigningService struct {
	mock.Mock
}

func (m *MockSigningService) CreateSigningSession(ctx context.Context, agreementID string, role models.Role, redirectURL string) (*services.Session, error) {
	args := m.Called(ctx, agreementID, role, redirectURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Session), args.Error(1)
}

func (m *MockSigningService) ApplySignature(ctx context.Context, agreementID string, role models.Role, signedAt time.Time) (bool, error) {
	args := m.Called(ctx, agreementID, role, signedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockSigningService) CancelDuringReview(ctx context.Context, agreementID string, role models.Role) (*models.LegalAgreement, error) {
	args := m.Called(ctx, agreementID, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LegalAgreement), args.Error(1)
}

func (m *MockSigningService) FinalizeReviewIfElapsed(ctx context.Context, agreement *models.LegalAgreement) (*models.LegalAgreement, error) {
	args := m.Called(ctx, agreement)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LegalAgreement), args.Error(1)
}

type MockResolverService struct {
	mock.Mock
}

func (m *MockResolverService) Resolve(ctx context.Context, dealID string, roomID *string, forceRefresh bool) (*services.ResolvedState, error) {
	args := m.Called(ctx, dealID, roomID, forceRefresh)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ResolvedState), args.Error(1)
}

type MockConnectionService struct {
	mock.Mock
}

func (m *MockConnectionService) Token(ctx context.Context) (*models.ProviderConnection, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProviderConnection), args.Error(1)
}

func (m *MockConnectionService) SaveConnection(ctx context.Context, accessToken, refreshToken string, expiresIn int64, baseURI, accountID string) (*models.ProviderConnection, error) {
	args := m.Called(ctx, accessToken, refreshToken, expiresIn, baseURI, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProviderConnection), args.Error(1)
}

func (m *MockConnectionService) InvalidateCache() {
	m.Called()
}

type MockSyncService struct {
	mock.Mock
}

func (m *MockSyncService) Reconcile(ctx context.Context, agreement *models.LegalAgreement) (bool, error) {
	args := m.Called(ctx, agreement)
	return args.Bool(0), args.Error(1)
}

func (m *MockSyncService) ReconcileOutstanding(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockSignedDocStorage struct {
	mock.Mock
}

func (m *MockSignedDocStorage) ArchiveSignedDocument(ctx context.Context, dealID, agreementID string, pdf []byte) (string, error) {
	args := m.Called(ctx, dealID, agreementID, pdf)
	return args.String(0), args.Error(1)
}

func (m *MockSignedDocStorage) GeneratePresignedGetURL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}
