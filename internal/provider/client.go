package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/brademus/investorkonnect-sub002/internal/config"
	"github.com/brademus/investorkonnect-sub002/internal/models"
)

// TokenResponse is the provider's OAuth token-endpoint reply. RefreshToken
// may be empty when the provider does not rotate it.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// EnvelopeRequest describes the document bundle sent out for signature.
type EnvelopeRequest struct {
	Subject      string
	DocumentName string
	DocumentPDF  []byte
}

// RecipientRequest adds one signer to an envelope. RoutingOrder carries the
// signer-ordering invariant to the provider side as well.
type RecipientRequest struct {
	Name         string
	Email        string
	RoleName     string
	RoutingOrder int
	ClientUserID string
}

// RecipientViewRequest asks for an embedded-signing redirect URL.
type RecipientViewRequest struct {
	RecipientID  string
	Name         string
	Email        string
	ClientUserID string
	ReturnURL    string
}

// RecipientStatus is one signer's state as the provider reports it.
type RecipientStatus struct {
	RecipientID    string `json:"recipientId"`
	RoleName       string `json:"roleName"`
	Email          string `json:"email"`
	Status         string `json:"status"` // "created", "sent", "delivered", "signed", "completed", "declined"
	SignedDateTime string `json:"signedDateTime"`
}

// Completed reports whether the signer has finished signing.
func (r RecipientStatus) Completed() bool {
	return r.Status == "completed" || r.Status == "signed"
}

// SignedAt parses the provider's signature timestamp, nil when absent or
// unparseable.
func (r RecipientStatus) SignedAt() *time.Time {
	if r.SignedDateTime == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, r.SignedDateTime)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// IClient is the boundary to the external signature provider. Everything the
// orchestrator and sync need, nothing more, so tests can mock it.
type IClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
	CreateEnvelope(ctx context.Context, conn *models.ProviderConnection, req EnvelopeRequest) (string, error)
	AddRecipient(ctx context.Context, conn *models.ProviderConnection, envelopeID string, rec RecipientRequest) (string, error)
	CreateRecipientView(ctx context.Context, conn *models.ProviderConnection, envelopeID string, req RecipientViewRequest) (string, error)
	ListRecipients(ctx context.Context, conn *models.ProviderConnection, envelopeID string) ([]RecipientStatus, error)
	DownloadDocument(ctx context.Context, conn *models.ProviderConnection, envelopeID string) ([]byte, error)
}

// client implements IClient over the provider's REST API.
type client struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewClient creates a provider client with a bounded-timeout HTTP client.
func NewClient(cfg *config.Config) IClient {
	return &client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.ProviderHTTPTimeout},
	}
}

// RefreshToken exchanges the stored refresh token for a fresh access token
// (grant_type=refresh_token with HTTP basic app credentials).
func (c *client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ProviderTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ProviderIntegrationKey + ":" + c.cfg.ProviderSecretKey))
	req.Header.Set("Authorization", "Basic "+basic)

	var tok TokenResponse
	if err := c.do(req, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: token endpoint returned empty access_token", ErrUnavailable)
	}
	return &tok, nil
}

// CreateEnvelope creates a draft-then-sent envelope carrying the agreement
// document and returns the provider's envelope id.
func (c *client) CreateEnvelope(ctx context.Context, conn *models.ProviderConnection, req EnvelopeRequest) (string, error) {
	payload := map[string]interface{}{
		"emailSubject": req.Subject,
		"status":       "sent",
		"documents": []map[string]interface{}{{
			"documentId":     "1",
			"name":           req.DocumentName,
			"fileExtension":  "pdf",
			"documentBase64": base64.StdEncoding.EncodeToString(req.DocumentPDF),
		}},
	}

	var out struct {
		EnvelopeID string `json:"envelopeId"`
	}
	path := fmt.Sprintf("%s/v2.1/accounts/%s/envelopes", strings.TrimRight(conn.BaseURI, "/"), conn.AccountID)
	if err := c.doJSON(ctx, conn, http.MethodPost, path, payload, &out); err != nil {
		return "", err
	}
	if out.EnvelopeID == "" {
		return "", fmt.Errorf("%w: envelope create returned empty envelopeId", ErrUnavailable)
	}
	return out.EnvelopeID, nil
}

// AddRecipient adds a signer to an existing envelope and returns the
// provider-assigned recipient id.
func (c *client) AddRecipient(ctx context.Context, conn *models.ProviderConnection, envelopeID string, rec RecipientRequest) (string, error) {
	recipientID := uuid.NewString()
	payload := map[string]interface{}{
		"signers": []map[string]interface{}{{
			"recipientId":  recipientID,
			"name":         rec.Name,
			"email":        rec.Email,
			"roleName":     rec.RoleName,
			"routingOrder": fmt.Sprintf("%d", rec.RoutingOrder),
			"clientUserId": rec.ClientUserID,
		}},
	}

	var out struct {
		Signers []struct {
			RecipientID string `json:"recipientId"`
		} `json:"signers"`
	}
	path := fmt.Sprintf("%s/v2.1/accounts/%s/envelopes/%s/recipients", strings.TrimRight(conn.BaseURI, "/"), conn.AccountID, envelopeID)
	if err := c.doJSON(ctx, conn, http.MethodPost, path, payload, &out); err != nil {
		return "", err
	}
	if len(out.Signers) > 0 && out.Signers[0].RecipientID != "" {
		return out.Signers[0].RecipientID, nil
	}
	return recipientID, nil
}

// CreateRecipientView returns the embedded-signing redirect URL for one
// recipient.
func (c *client) CreateRecipientView(ctx context.Context, conn *models.ProviderConnection, envelopeID string, req RecipientViewRequest) (string, error) {
	payload := map[string]interface{}{
		"authenticationMethod": "none",
		"recipientId":          req.RecipientID,
		"userName":             req.Name,
		"email":                req.Email,
		"clientUserId":         req.ClientUserID,
		"returnUrl":            req.ReturnURL,
	}

	var out struct {
		URL string `json:"url"`
	}
	path := fmt.Sprintf("%s/v2.1/accounts/%s/envelopes/%s/views/recipient", strings.TrimRight(conn.BaseURI, "/"), conn.AccountID, envelopeID)
	if err := c.doJSON(ctx, conn, http.MethodPost, path, payload, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: recipient view returned empty url", ErrUnavailable)
	}
	return out.URL, nil
}

// ListRecipients pulls the envelope's signer list with per-signer status.
func (c *client) ListRecipients(ctx context.Context, conn *models.ProviderConnection, envelopeID string) ([]RecipientStatus, error) {
	var out struct {
		Signers []RecipientStatus `json:"signers"`
	}
	path := fmt.Sprintf("%s/v2.1/accounts/%s/envelopes/%s/recipients", strings.TrimRight(conn.BaseURI, "/"), conn.AccountID, envelopeID)
	if err := c.doJSON(ctx, conn, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Signers, nil
}

// DownloadDocument fetches the combined signed document PDF.
func (c *client) DownloadDocument(ctx context.Context, conn *models.ProviderConnection, envelopeID string) ([]byte, error) {
	path := fmt.Sprintf("%s/v2.1/accounts/%s/envelopes/%s/documents/combined", strings.TrimRight(conn.BaseURI, "/"), conn.AccountID, envelopeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create document download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)

	var body []byte
	err = c.withRateLimitRetry(ctx, func() error {
		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, doErr)
		}
		defer resp.Body.Close()
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, readErr)
		}
		if resp.StatusCode != http.StatusOK {
			return classifyStatus(resp.StatusCode, truncateBody(data))
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// doJSON marshals payload, attaches the connection's bearer token, executes
// with rate-limit retry, and decodes the JSON response into out.
func (c *client) doJSON(ctx context.Context, conn *models.ProviderConnection, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal provider request: %w", err)
		}
	}

	return c.withRateLimitRetry(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, path, reader)
		if err != nil {
			return fmt.Errorf("failed to create provider request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.execute(req, out)
	})
}

// do executes a fully-built request (used by the token path, which carries
// its own auth header) with rate-limit retry.
func (c *client) do(req *http.Request, out interface{}) error {
	// The body is buffered up front so the 429 retry wrapper can re-send it.
	bodyBytes, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read provider request body: %w", err)
	}
	return c.withRateLimitRetry(req.Context(), func() error {
		clone := req.Clone(req.Context())
		clone.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		return c.execute(clone, out)
	})
}

func (c *client) execute(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp.StatusCode, truncateBody(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: failed to parse response: %v", ErrUnavailable, err)
	}
	return nil
}

// withRateLimitRetry retries op on ErrRateLimited with exponential backoff
// (base delay doubling per attempt, hard attempt ceiling). Authorization and
// validation failures are never retried.
func (c *client) withRateLimitRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ProviderRetryBaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsRateLimited(err) {
			log.Printf("WARN: signature provider rate limited, backing off: %v", err)
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.ProviderMaxRetries)), ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// IsRateLimited reports whether err classifies as a provider rate limit.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func truncateBody(data []byte) string {
	const max = 512
	if len(data) > max {
		data = data[:max]
	}
	return string(data)
}
