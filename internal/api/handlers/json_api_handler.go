package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/brademus/investorkonnect-sub002/internal/auth"
	"github.com/brademus/investorkonnect-sub002/internal/config"
	"github.com/brademus/investorkonnect-sub002/internal/models"
	"github.com/brademus/investorkonnect-sub002/internal/services"
)

// Context key type for AuthResult
type authContextKey string

const authResultKey authContextKey = "authResult"

// getAuthFromContext returns the AuthResult stored by checkAuthForMethod.
func getAuthFromContext(ctx context.Context) (*AuthResult, bool) {
	val, ok := ctx.Value(authResultKey).(*AuthResult)
	return val, ok
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Missing []string    `json:"missing,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg         *config.Config
	userService services.IUserService
	dealService services.IDealService
	roomService services.IRoomService
	agreements  services.IAgreementService
	negotiation services.INegotiationService
	signing     services.ISigningService
	resolver    services.IResolverService
	connections services.IConnectionService
	syncService services.ISyncService
	methods     map[string]apiMethodFunc
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
func NewJsonApiHandler(
	cfg *config.Config,
	userService services.IUserService,
	dealService services.IDealService,
	roomService services.IRoomService,
	agreements services.IAgreementService,
	negotiation services.INegotiationService,
	signing services.ISigningService,
	resolver services.IResolverService,
	connections services.IConnectionService,
	syncService services.ISyncService,
) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:         cfg,
		userService: userService,
		dealService: dealService,
		roomService: roomService,
		agreements:  agreements,
		negotiation: negotiation,
		signing:     signing,
		resolver:    resolver,
		connections: connections,
		syncService: syncService,
	}
	h.methods = map[string]apiMethodFunc{
		"ping":                   h.ping,
		"signUp":                 h.signUp,
		"login":                  h.login,
		"createDeal":             h.createDeal,
		"listMyDeals":            h.listMyDeals,
		"createRoom":             h.createRoom,
		"updateDealTerms":        h.updateDealTerms,
		"generateAgreement":      h.generateAgreement,
		"proposeCounterOffer":    h.proposeCounterOffer,
		"respondCounterOffer":    h.respondCounterOffer,
		"createSigningSession":   h.createSigningSession,
		"cancelDuringReview":     h.cancelDuringReview,
		"resolveAgreementState":  h.resolveAgreementState,
		"saveProviderConnection": h.saveProviderConnection,
		"runProviderSync":        h.runProviderSync,
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, NewApiError("Failed to read request body"))
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, NewApiError("Invalid JSON request format"))
		return
	}

	authErr := h.checkAuthForMethod(c, req.Method)
	if authErr != nil {
		h.sendErrorResponse(c, authErr)
		return
	}

	handlerFunc, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, NewApiError(fmt.Sprintf("Unknown method: %s", req.Method)))
		return
	}

	result, apiErr := handlerFunc(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, apiErr)
		return
	}

	h.sendSuccessResponse(c, result)
}

// AuthResult holds optional authentication details
type AuthResult struct {
	UserID  string
	Role    models.Role
	IsAdmin bool
}

// checkAuthForMethod checks if auth is needed and validates/extracts details
// if so. It stores the AuthResult in c.Request.Context().
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	needsAuth := h.methodRequiresAuth(method)
	needsAdmin := h.methodRequiresAdmin(method)

	authHeader := c.GetHeader("Authorization")
	if !needsAuth && !needsAdmin {
		// Public method; an optional valid token still attaches identity.
		if strings.HasPrefix(authHeader, "Bearer ") {
			if claims, err := auth.ValidateJWT(strings.TrimPrefix(authHeader, "Bearer "), h.cfg.JwtSecret); err == nil {
				ctx := context.WithValue(c.Request.Context(), authResultKey, &AuthResult{
					UserID: claims.UserID, Role: claims.Role, IsAdmin: claims.IsAdmin,
				})
				c.Request = c.Request.WithContext(ctx)
			}
		}
		return nil
	}

	if authHeader == "" {
		return NewApiError("Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return NewApiError("Authorization header format must be Bearer {token}")
	}
	claims, err := auth.ValidateJWT(parts[1], h.cfg.JwtSecret)
	if err != nil {
		return NewApiError(fmt.Sprintf("Invalid or expired token: %v", err))
	}
	if needsAdmin && !claims.IsAdmin {
		return NewApiError("Administrator privileges required")
	}

	ctx := context.WithValue(c.Request.Context(), authResultKey, &AuthResult{
		UserID: claims.UserID, Role: claims.Role, IsAdmin: claims.IsAdmin,
	})
	c.Request = c.Request.WithContext(ctx)
	return nil
}

// methodRequiresAuth checks if a given API method requires authentication.
func (h *JsonApiHandler) methodRequiresAuth(method string) bool {
	switch method {
	case "createDeal",
		"listMyDeals",
		"createRoom",
		"updateDealTerms",
		"generateAgreement",
		"proposeCounterOffer",
		"respondCounterOffer",
		"createSigningSession",
		"cancelDuringReview",
		"resolveAgreementState",
		"saveProviderConnection",
		"runProviderSync":
		return true

	case "ping",
		"signUp",
		"login":
		return false

	default:
		log.Printf("Warning: methodRequiresAuth check for unlisted method '%s', defaulting to false (public)", method)
		return false
	}
}

// methodRequiresAdmin checks if a given API method requires admin privileges.
func (h *JsonApiHandler) methodRequiresAdmin(method string) bool {
	switch method {
	case "saveProviderConnection",
		"runProviderSync":
		return true
	default:
		return false
	}
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: true, Data: data})
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, apiErr *ApiError) {
	c.JSON(http.StatusOK, JsonApiResponse{
		Success: false,
		Error:   apiErr.Message,
		Code:    apiErr.Code,
		Missing: apiErr.Missing,
	})
}

// ApiError carries a user-facing message plus an optional machine code.
type ApiError struct {
	Message string
	Code    string
	Missing []string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message}
}

// apiErrorFromService maps service errors onto API error payloads.
func apiErrorFromService(err error) *ApiError {
	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		return &ApiError{
			Message: validationErr.Error(),
			Code:    "validation_failed",
			Missing: validationErr.Missing,
		}
	}
	var conflictErr *services.ConflictError
	if errors.As(err, &conflictErr) {
		return &ApiError{Message: conflictErr.Error(), Code: string(conflictErr.Code)}
	}
	switch {
	case errors.Is(err, services.ErrDealNotFound):
		return &ApiError{Message: "Deal not found", Code: "not_found"}
	case errors.Is(err, services.ErrNotFound):
		return &ApiError{Message: "Not found", Code: "not_found"}
	case errors.Is(err, services.ErrRateLimited):
		return &ApiError{Message: "Signature provider is rate limiting requests, try again shortly", Code: "provider_rate_limited"}
	case errors.Is(err, services.ErrProviderUnavailable):
		return &ApiError{Message: "Signature provider is unavailable, try again shortly", Code: "provider_unavailable"}
	}
	log.Printf("ERROR: unhandled service error: %v", err)
	return NewApiError("Internal error")
}

// parseRequiredSingleArgFromArray unmarshals the first element of the
// 'arguments' array into targetVarPtr.
func (h *JsonApiHandler) parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	var argArray []json.RawMessage
	if rawArgPayload == nil {
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}
	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}
	if len(argArray) == 0 {
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}
	if err := json.Unmarshal(argArray[0], targetVarPtr); err != nil {
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}

// authorizeScope resolves the caller's role within a deal/room scope. The
// investor must own the deal; an agent must be the room's agent.
func (h *JsonApiHandler) authorizeScope(c *gin.Context, dealID string, roomID *string) (models.Role, *ApiError) {
	authRes, ok := getAuthFromContext(c.Request.Context())
	if !ok || authRes == nil {
		return "", NewApiError("Authentication required")
	}
	if authRes.IsAdmin {
		return authRes.Role, nil
	}

	ctx := c.Request.Context()
	deal, err := h.dealService.FindDealByID(ctx, dealID)
	if err != nil {
		return "", apiErrorFromService(err)
	}
	if deal.InvestorID == authRes.UserID {
		return models.RoleInvestor, nil
	}
	if roomID != nil {
		room, err := h.roomService.FindRoomByID(ctx, *roomID)
		if err != nil {
			return "", apiErrorFromService(err)
		}
		if room.DealID != dealID {
			return "", NewApiError("Room does not belong to this deal")
		}
		if room.AgentID == authRes.UserID {
			return models.RoleAgent, nil
		}
	}
	return "", NewApiError("You are not a party to this negotiation")
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	return "pong", nil
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// SignUpArgs defines the arguments for the signUp method.
type SignUpArgs struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

func (h *JsonApiHandler) signUp(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SignUpArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if !emailRegex.MatchString(reqArgs.Email) {
		return nil, NewApiError("invalid_email")
	}
	if len(reqArgs.Password) < 8 {
		return nil, NewApiError("Password must be at least 8 characters")
	}
	if reqArgs.Role != models.RoleInvestor && reqArgs.Role != models.RoleAgent {
		return nil, NewApiError("Role must be investor or agent")
	}

	user, err := h.userService.Register(c.Request.Context(), reqArgs.Name, reqArgs.Email, reqArgs.Password, reqArgs.Role)
	if err != nil {
		if errors.Is(err, services.ErrEmailTaken) {
			return nil, NewApiError("email_taken")
		}
		return nil, apiErrorFromService(err)
	}
	return h.issueToken(user)
}

// LoginArgs defines the arguments for the login method.
type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *JsonApiHandler) login(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs LoginArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	user, err := h.userService.Login(c.Request.Context(), reqArgs.Email, reqArgs.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			return nil, NewApiError("invalid_credentials")
		}
		return nil, apiErrorFromService(err)
	}
	return h.issueToken(user)
}

func (h *JsonApiHandler) issueToken(user *models.User) (interface{}, *ApiError) {
	token, err := auth.GenerateJWT(user.ID, user.Role, user.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		log.Printf("ERROR generating JWT for user %s: %v", user.ID, err)
		return nil, NewApiError("Internal error")
	}
	return gin.H{"token": token, "user": user}, nil
}

// CreateDealArgs defines the arguments for the createDeal method.
type CreateDealArgs struct {
	PropertyAddress string               `json:"property_address"`
	PropertyState   string               `json:"property_state"`
	Terms           models.ProposedTerms `json:"terms"`
}

func (h *JsonApiHandler) createDeal(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs CreateDealArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	authRes, _ := getAuthFromContext(c.Request.Context())
	if authRes.Role != models.RoleInvestor {
		return nil, NewApiError("Only investors can create deals")
	}
	if reqArgs.PropertyAddress == "" || len(reqArgs.PropertyState) != 2 {
		return nil, NewApiError("property_address and a two-letter property_state are required")
	}

	deal, err := h.dealService.CreateDeal(c.Request.Context(), authRes.UserID, reqArgs.PropertyAddress, strings.ToUpper(reqArgs.PropertyState), reqArgs.Terms)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return deal, nil
}

func (h *JsonApiHandler) listMyDeals(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	authRes, _ := getAuthFromContext(c.Request.Context())
	deals, err := h.dealService.FindDealsByInvestor(c.Request.Context(), authRes.UserID, 100)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return deals, nil
}

// CreateRoomArgs defines the arguments for the createRoom method.
type CreateRoomArgs struct {
	DealID  string `json:"deal_id"`
	AgentID string `json:"agent_id"`
}

func (h *JsonApiHandler) createRoom(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs CreateRoomArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	authRes, _ := getAuthFromContext(c.Request.Context())

	ctx := c.Request.Context()
	deal, err := h.dealService.FindDealByID(ctx, reqArgs.DealID)
	if err != nil {
		return nil, apiErrorFromService(err)
	}

	agentID := reqArgs.AgentID
	switch authRes.Role {
	case models.RoleInvestor:
		if deal.InvestorID != authRes.UserID {
			return nil, NewApiError("You do not own this deal")
		}
		if agentID == "" {
			return nil, NewApiError("agent_id is required")
		}
	case models.RoleAgent:
		// An agent opens a room for themselves.
		agentID = authRes.UserID
	default:
		return nil, NewApiError("Only investors or agents can open rooms")
	}

	agent, err := h.userService.FindUserByID(ctx, agentID)
	if err != nil || agent.Role != models.RoleAgent {
		return nil, NewApiError("agent_id must reference an agent account")
	}

	room, err := h.roomService.CreateRoom(ctx, reqArgs.DealID, agentID)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return room, nil
}

// ScopeArgs identify a deal-level or room-level negotiation scope.
type ScopeArgs struct {
	DealID string  `json:"deal_id"`
	RoomID *string `json:"room_id,omitempty"`
}

// UpdateDealTermsArgs defines the arguments for the updateDealTerms method.
type UpdateDealTermsArgs struct {
	ScopeArgs
	Delta models.TermsDelta `json:"delta"`
}

func (h *JsonApiHandler) updateDealTerms(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs UpdateDealTermsArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if _, apiErr := h.authorizeScope(c, reqArgs.DealID, reqArgs.RoomID); apiErr != nil {
		return nil, apiErr
	}

	terms, err := h.dealService.UpdateTerms(c.Request.Context(), reqArgs.DealID, reqArgs.RoomID, reqArgs.Delta)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return gin.H{"terms": terms}, nil
}

// GenerateAgreementArgs defines the arguments for the generateAgreement method.
type GenerateAgreementArgs struct {
	ScopeArgs
	Terms      *models.ProposedTerms `json:"terms,omitempty"`
	SignerMode models.SignerMode     `json:"signer_mode,omitempty"`
}

func (h *JsonApiHandler) generateAgreement(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs GenerateAgreementArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if _, apiErr := h.authorizeScope(c, reqArgs.DealID, reqArgs.RoomID); apiErr != nil {
		return nil, apiErr
	}

	signerMode := reqArgs.SignerMode
	if signerMode == "" {
		signerMode = models.SignerModeBoth
	}

	agreement, regenerated, err := h.agreements.Generate(c.Request.Context(), reqArgs.DealID, reqArgs.RoomID, reqArgs.Terms, signerMode)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return gin.H{"agreement": agreement, "regenerated": regenerated}, nil
}

// ProposeCounterOfferArgs defines the arguments for the proposeCounterOffer method.
type ProposeCounterOfferArgs struct {
	ScopeArgs
	Delta models.TermsDelta `json:"delta"`
}

func (h *JsonApiHandler) proposeCounterOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ProposeCounterOfferArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	role, apiErr := h.authorizeScope(c, reqArgs.DealID, reqArgs.RoomID)
	if apiErr != nil {
		return nil, apiErr
	}

	offer, err := h.negotiation.Propose(c.Request.Context(), reqArgs.DealID, reqArgs.RoomID, role, reqArgs.Delta)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return offer, nil
}

// RespondCounterOfferArgs defines the arguments for the respondCounterOffer method.
type RespondCounterOfferArgs struct {
	ScopeArgs
	CounterOfferID string `json:"counter_offer_id"`
	Accept         bool   `json:"accept"`
}

func (h *JsonApiHandler) respondCounterOffer(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs RespondCounterOfferArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	role, apiErr := h.authorizeScope(c, reqArgs.DealID, reqArgs.RoomID)
	if apiErr != nil {
		return nil, apiErr
	}

	event := models.CounterOfferEventDecline
	if reqArgs.Accept {
		event = models.CounterOfferEventAccept
	}

	offer, agreement, err := h.negotiation.Respond(c.Request.Context(), reqArgs.CounterOfferID, event, role)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return gin.H{"counter_offer": offer, "agreement": agreement}, nil
}

// CreateSigningSessionArgs defines the arguments for the createSigningSession method.
type CreateSigningSessionArgs struct {
	ScopeArgs
	AgreementID string `json:"agreement_id"`
	ReturnURL   string `json:"return_url"`
}

func (h *JsonApiHandler) createSigningSession(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs CreateSigningSessionArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	role, apiErr := h.authorizeScope(c, reqArgs.DealID, reqArgs.RoomID)
	if apiErr != nil {
		return nil, apiErr
	}

	session, err := h.signing.CreateSigningSession(c.Request.Context(), reqArgs.AgreementID, role, reqArgs.ReturnURL)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return session, nil
}

// CancelDuringReviewArgs defines the arguments for the cancelDuringReview method.
type CancelDuringReviewArgs struct {
	ScopeArgs
	AgreementID string `json:"agreement_id"`
}

func (h *JsonApiHandler) cancelDuringReview(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs CancelDuringReviewArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	role, apiErr := h.authorizeScope(c, reqArgs.DealID, reqArgs.RoomID)
	if apiErr != nil {
		return nil, apiErr
	}

	agreement, err := h.signing.CancelDuringReview(c.Request.Context(), reqArgs.AgreementID, role)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return agreement, nil
}

// ResolveAgreementStateArgs defines the arguments for the resolveAgreementState method.
type ResolveAgreementStateArgs struct {
	ScopeArgs
	ForceRefresh bool `json:"force_refresh,omitempty"`
}

func (h *JsonApiHandler) resolveAgreementState(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs ResolveAgreementStateArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if _, apiErr := h.authorizeScope(c, reqArgs.DealID, reqArgs.RoomID); apiErr != nil {
		return nil, apiErr
	}

	state, err := h.resolver.Resolve(c.Request.Context(), reqArgs.DealID, reqArgs.RoomID, reqArgs.ForceRefresh)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return state, nil
}

// SaveProviderConnectionArgs defines the arguments for the saveProviderConnection method.
type SaveProviderConnectionArgs struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id"`
	BaseURI      string `json:"base_uri,omitempty"`
	ExpiresInSec int64  `json:"expires_in_sec"`
}

func (h *JsonApiHandler) saveProviderConnection(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs SaveProviderConnectionArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.AccessToken == "" || reqArgs.RefreshToken == "" || reqArgs.AccountID == "" {
		return nil, NewApiError("access_token, refresh_token and account_id are required")
	}

	conn, err := h.connections.SaveConnection(c.Request.Context(), reqArgs.AccessToken, reqArgs.RefreshToken, reqArgs.ExpiresInSec, reqArgs.BaseURI, reqArgs.AccountID)
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return conn, nil
}

func (h *JsonApiHandler) runProviderSync(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	changed, err := h.syncService.ReconcileOutstanding(c.Request.Context())
	if err != nil {
		return nil, apiErrorFromService(err)
	}
	return gin.H{"updated": changed}, nil
}
