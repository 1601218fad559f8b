package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/brademus/investorkonnect-sub002/internal/api/handlers"
	"github.com/brademus/investorkonnect-sub002/internal/auth"
	"github.com/brademus/investorkonnect-sub002/internal/config"
	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/services"
)

// --- Test Setup ---

type handlerFixture struct {
	userSvc     *MockUserService
	dealSvc     *MockDealService
	roomSvc     *MockRoomService
	agreements  *MockAgreementService
	negotiation *MockNegotiationService
	signing     *MockSigningService
	resolver    *MockResolverService
	connections *MockConnectionService
	syncSvc     *MockSyncService
	router      *gin.Engine
	cfg         *config.Config
}

func newHandlerFixture() *handlerFixture {
	gin.SetMode(gin.TestMode)
	f := &handlerFixture{
		userSvc:     new(MockUserService),
		dealSvc:     new(MockDealService),
		roomSvc:     new(MockRoomService),
		agreements:  new(MockAgreementService),
		negotiation: new(MockNegotiationService),
		signing:     new(MockSigningService),
		resolver:    new(MockResolverService),
		connections: new(MockConnectionService),
		syncSvc:     new(MockSyncService),
	}
	f.cfg = &config.Config{
		JwtSecret: "testsecret",
		JwtTTL:    time.Hour,
	}
	handler := handlers.NewJsonApiHandler(
		f.cfg, f.userSvc, f.dealSvc, f.roomSvc,
		f.agreements, f.negotiation, f.signing, f.resolver, f.connections, f.syncSvc)
	f.router = gin.New()
	f.router.POST("/v1/api", handler.HandleRequest)
	return f
}

func (f *handlerFixture) call(t *testing.T, method string, arg interface{}, token string) handlers.JsonApiResponse {
	t.Helper()
	reqBody := handlers.JsonApiRequest{Method: method}
	if arg != nil {
		argBytes, err := json.Marshal([]interface{}{arg})
		assert.NoError(t, err)
		reqBody.Arguments = argBytes
	}
	jsonBody, _ := json.Marshal(reqBody)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/api", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp handlers.JsonApiResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func (f *handlerFixture) tokenFor(t *testing.T, userID string, role models.Role, isAdmin bool) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, role, isAdmin, f.cfg.JwtSecret, f.cfg.JwtTTL)
	assert.NoError(t, err)
	return token
}

func strPtr(s string) *string { return &s }

// --- Tests ---

func TestJsonApiHandler_Ping(t *testing.T) {
	f := newHandlerFixture()

	resp := f.call(t, "ping", nil, "")
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Data)
	assert.Empty(t, resp.Error)
}

func TestJsonApiHandler_UnknownMethod(t *testing.T) {
	f := newHandlerFixture()

	resp := f.call(t, "teleport", nil, "")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Unknown method")
}

func TestJsonApiHandler_SignUpAndLogin(t *testing.T) {
	f := newHandlerFixture()
	user := &models.User{ID: "user-1", Name: "Ann", Email: "ann@example.com", Role: models.RoleInvestor}
	f.userSvc.On("Register", mock.Anything, "Ann", "ann@example.com", "supersecret", models.RoleInvestor).Return(user, nil)
	f.userSvc.On("Login", mock.Anything, "ann@example.com", "supersecret").Return(user, nil)

	resp := f.call(t, "signUp", handlers.SignUpArgs{
		Name: "Ann", Email: "ann@example.com", Password: "supersecret", Role: models.RoleInvestor,
	}, "")
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.NotEmpty(t, data["token"])

	resp = f.call(t, "login", handlers.LoginArgs{Email: "ann@example.com", Password: "supersecret"}, "")
	assert.True(t, resp.Success)
	f.userSvc.AssertExpectations(t)
}

func TestJsonApiHandler_SignUpRejectsBadInput(t *testing.T) {
	f := newHandlerFixture()

	resp := f.call(t, "signUp", handlers.SignUpArgs{Name: "X", Email: "not-an-email", Password: "supersecret", Role: models.RoleAgent}, "")
	assert.False(t, resp.Success)
	assert.Equal(t, "invalid_email", resp.Error)

	resp = f.call(t, "signUp", handlers.SignUpArgs{Name: "X", Email: "x@example.com", Password: "short", Role: models.RoleAgent}, "")
	assert.False(t, resp.Success)

	resp = f.call(t, "signUp", handlers.SignUpArgs{Name: "X", Email: "x@example.com", Password: "supersecret", Role: "admin"}, "")
	assert.False(t, resp.Success)
	f.userSvc.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJsonApiHandler_AuthRequired(t *testing.T) {
	f := newHandlerFixture()

	resp := f.call(t, "resolveAgreementState", handlers.ResolveAgreementStateArgs{ScopeArgs: handlers.ScopeArgs{DealID: "deal-1"}}, "")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Authorization header required")
}

func TestJsonApiHandler_AdminRequired(t *testing.T) {
	f := newHandlerFixture()
	token := f.tokenFor(t, "user-1", models.RoleInvestor, false)

	resp := f.call(t, "runProviderSync", nil, token)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Administrator privileges required")
	f.syncSvc.AssertNotCalled(t, "ReconcileOutstanding", mock.Anything)
}

func TestJsonApiHandler_CreateDealInvestorOnly(t *testing.T) {
	f := newHandlerFixture()
	agentToken := f.tokenFor(t, "agent-1", models.RoleAgent, false)

	resp := f.call(t, "createDeal", handlers.CreateDealArgs{
		PropertyAddress: "1 Main St", PropertyState: "TX",
	}, agentToken)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Only investors")

	investorToken := f.tokenFor(t, "inv-1", models.RoleInvestor, false)
	deal := &models.Deal{ID: "deal-1", InvestorID: "inv-1", PropertyState: "TX"}
	f.dealSvc.On("CreateDeal", mock.Anything, "inv-1", "1 Main St", "TX", mock.Anything).Return(deal, nil)

	resp = f.call(t, "createDeal", handlers.CreateDealArgs{
		PropertyAddress: "1 Main St", PropertyState: "tx",
	}, investorToken)
	assert.True(t, resp.Success)
	f.dealSvc.AssertExpectations(t)
}

func TestJsonApiHandler_ProposeCounterOfferResolvesRoleFromScope(t *testing.T) {
	f := newHandlerFixture()
	roomID := "room-1"
	deal := &models.Deal{ID: "deal-1", InvestorID: "inv-1"}
	room := &models.Room{ID: roomID, DealID: "deal-1", AgentID: "agent-1"}
	f.dealSvc.On("FindDealByID", mock.Anything, "deal-1").Return(deal, nil)
	f.roomSvc.On("FindRoomByID", mock.Anything, roomID).Return(room, nil)

	offer := &models.CounterOffer{ID: "co-1", DealID: "deal-1", FromRole: models.RoleAgent, Status: models.CounterOfferPending}
	f.negotiation.On("Propose", mock.Anything, "deal-1", mock.Anything, models.RoleAgent, mock.Anything).Return(offer, nil)

	// The caller's role comes from scope membership, not the token alone.
	agentToken := f.tokenFor(t, "agent-1", models.RoleAgent, false)
	resp := f.call(t, "proposeCounterOffer", handlers.ProposeCounterOfferArgs{
		ScopeArgs: handlers.ScopeArgs{DealID: "deal-1", RoomID: strPtr(roomID)},
	}, agentToken)
	assert.True(t, resp.Success)

	// A stranger is rejected before the service is reached.
	strangerToken := f.tokenFor(t, "stranger", models.RoleAgent, false)
	resp = f.call(t, "proposeCounterOffer", handlers.ProposeCounterOfferArgs{
		ScopeArgs: handlers.ScopeArgs{DealID: "deal-1", RoomID: strPtr(roomID)},
	}, strangerToken)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not a party")
	f.negotiation.AssertNumberOfCalls(t, "Propose", 1)
}

func TestJsonApiHandler_ConflictErrorsCarryCodes(t *testing.T) {
	f := newHandlerFixture()
	deal := &models.Deal{ID: "deal-1", InvestorID: "inv-1"}
	f.dealSvc.On("FindDealByID", mock.Anything, "deal-1").Return(deal, nil)
	f.signing.On("CreateSigningSession", mock.Anything, "agr-1", models.RoleInvestor, "https://app/return").
		Return(nil, services.NewConflict(services.ConflictCounterOfferPending))

	token := f.tokenFor(t, "inv-1", models.RoleInvestor, false)
	resp := f.call(t, "createSigningSession", handlers.CreateSigningSessionArgs{
		ScopeArgs:   handlers.ScopeArgs{DealID: "deal-1"},
		AgreementID: "agr-1",
		ReturnURL:   "https://app/return",
	}, token)

	assert.False(t, resp.Success)
	assert.Equal(t, string(services.ConflictCounterOfferPending), resp.Code)
}

func TestJsonApiHandler_ValidationErrorsListMissingFields(t *testing.T) {
	f := newHandlerFixture()
	deal := &models.Deal{ID: "deal-1", InvestorID: "inv-1"}
	f.dealSvc.On("FindDealByID", mock.Anything, "deal-1").Return(deal, nil)
	f.agreements.On("Generate", mock.Anything, "deal-1", mock.Anything, mock.Anything, models.SignerModeBoth).
		Return(nil, false, &services.ValidationError{Missing: []string{"buyer_side.flat_amount"}})

	token := f.tokenFor(t, "inv-1", models.RoleInvestor, false)
	resp := f.call(t, "generateAgreement", handlers.GenerateAgreementArgs{
		ScopeArgs: handlers.ScopeArgs{DealID: "deal-1"},
	}, token)

	assert.False(t, resp.Success)
	assert.Equal(t, "validation_failed", resp.Code)
	assert.Equal(t, []string{"buyer_side.flat_amount"}, resp.Missing)
}

func TestJsonApiHandler_ResolveAgreementState(t *testing.T) {
	f := newHandlerFixture()
	deal := &models.Deal{ID: "deal-1", InvestorID: "inv-1"}
	f.dealSvc.On("FindDealByID", mock.Anything, "deal-1").Return(deal, nil)

	state := &services.ResolvedState{
		Agreement:      &models.LegalAgreement{ID: "agr-1", DealID: "deal-1", Status: models.AgreementInvestorSigned},
		InvestorSigned: true,
	}
	f.resolver.On("Resolve", mock.Anything, "deal-1", (*string)(nil), true).Return(state, nil)

	token := f.tokenFor(t, "inv-1", models.RoleInvestor, false)
	resp := f.call(t, "resolveAgreementState", handlers.ResolveAgreementStateArgs{
		ScopeArgs:    handlers.ScopeArgs{DealID: "deal-1"},
		ForceRefresh: true,
	}, token)

	assert.True(t, resp.Success)
	f.resolver.AssertExpectations(t)
}

func TestJsonApiHandler_ProviderErrorsAreTransient(t *testing.T) {
	f := newHandlerFixture()
	deal := &models.Deal{ID: "deal-1", InvestorID: "inv-1"}
	f.dealSvc.On("FindDealByID", mock.Anything, "deal-1").Return(deal, nil)
	f.signing.On("CreateSigningSession", mock.Anything, "agr-1", models.RoleInvestor, "").
		Return(nil, services.ErrRateLimited)

	token := f.tokenFor(t, "inv-1", models.RoleInvestor, false)
	resp := f.call(t, "createSigningSession", handlers.CreateSigningSessionArgs{
		ScopeArgs:   handlers.ScopeArgs{DealID: "deal-1"},
		AgreementID: "agr-1",
	}, token)

	assert.False(t, resp.Success)
	assert.Equal(t, "provider_rate_limited", resp.Code)
	assert.Contains(t, resp.Error, "try again")
}

func TestJsonApiHandler_SaveProviderConnectionAdmin(t *testing.T) {
	f := newHandlerFixture()
	conn := &models.ProviderConnection{ID: "conn-1", AccountID: "acct-1"}
	f.connections.On("SaveConnection", mock.Anything, "at", "rt", int64(3600), "", "acct-1").Return(conn, nil)

	adminToken := f.tokenFor(t, "admin-1", models.RoleInvestor, true)
	resp := f.call(t, "saveProviderConnection", handlers.SaveProviderConnectionArgs{
		AccessToken: "at", RefreshToken: "rt", AccountID: "acct-1", ExpiresInSec: 3600,
	}, adminToken)

	assert.True(t, resp.Success)
	f.connections.AssertExpectations(t)
}
