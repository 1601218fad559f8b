package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brademus/investorkonnect-sub002/internal/api/middleware"
	"github.com/brademus/investorkonnect-sub002/internal/services"
	"github.com/brademus/investorkonnect-sub002/internal/storage"
)

// RestAgreementHandler handles REST reads for negotiation state and signed
// documents.
type RestAgreementHandler struct {
	dealService services.IDealService
	roomService services.IRoomService
	agreements  services.IAgreementService
	resolver    services.IResolverService
	docStorage  storage.ISignedDocStorage // nil when archiving is not configured
}

// NewRestAgreementHandler creates a new RestAgreementHandler.
func NewRestAgreementHandler(
	dealService services.IDealService,
	roomService services.IRoomService,
	agreements services.IAgreementService,
	resolver services.IResolverService,
	docStorage storage.ISignedDocStorage,
) *RestAgreementHandler {
	return &RestAgreementHandler{
		dealService: dealService,
		roomService: roomService,
		agreements:  agreements,
		resolver:    resolver,
		docStorage:  docStorage,
	}
}

func restStatusForError(err error) (int, gin.H) {
	var validationErr *services.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, gin.H{"error": validationErr.Error(), "missing": validationErr.Missing}
	}
	var conflictErr *services.ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusConflict, gin.H{"error": conflictErr.Error(), "code": string(conflictErr.Code)}
	}
	switch {
	case errors.Is(err, services.ErrDealNotFound), errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": "Not found"}
	case errors.Is(err, services.ErrRateLimited), errors.Is(err, services.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": "Signature provider is unavailable, try again shortly"}
	}
	return http.StatusInternalServerError, gin.H{"error": "Internal error"}
}

// callerInScope checks the authenticated user against the scope's parties.
func (h *RestAgreementHandler) callerInScope(c *gin.Context, dealID string, roomID *string) bool {
	if c.GetBool(middleware.ContextKeyIsAdmin) {
		return true
	}
	userID := c.GetString(middleware.ContextKeyUserID)

	deal, err := h.dealService.FindDealByID(c.Request.Context(), dealID)
	if err != nil {
		return false
	}
	if deal.InvestorID == userID {
		return true
	}
	if roomID != nil {
		room, err := h.roomService.FindRoomByID(c.Request.Context(), *roomID)
		if err == nil && room.DealID == dealID && room.AgentID == userID {
			return true
		}
	}
	return false
}

// GetAgreementState handles GET /v1/deal/:id/agreement-state.
// Optional query params: room (room ID), refresh=true to reconcile with the
// signature provider before answering.
func (h *RestAgreementHandler) GetAgreementState(c *gin.Context) {
	dealID := c.Param("id")
	var roomID *string
	if room := c.Query("room"); room != "" {
		roomID = &room
	}
	forceRefresh := c.Query("refresh") == "true"

	if !h.callerInScope(c, dealID, roomID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not a party to this negotiation"})
		return
	}

	state, err := h.resolver.Resolve(c.Request.Context(), dealID, roomID, forceRefresh)
	if err != nil {
		status, body := restStatusForError(err)
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetSignedDocument handles GET /v1/agreement/:id/document. Replies with a
// short-lived download URL for the archived signed PDF.
func (h *RestAgreementHandler) GetSignedDocument(c *gin.Context) {
	agreement, err := h.agreements.FindAgreementByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		status, body := restStatusForError(err)
		c.JSON(status, body)
		return
	}

	if !h.callerInScope(c, agreement.DealID, agreement.RoomID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You are not a party to this agreement"})
		return
	}

	if agreement.SignedDocumentKey == "" || h.docStorage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No archived document for this agreement"})
		return
	}

	url, err := h.docStorage.GeneratePresignedGetURL(c.Request.Context(), agreement.SignedDocumentKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate download URL"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
