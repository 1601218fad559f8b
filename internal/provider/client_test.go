package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brademus/investorkonnect-sub002/internal/config"
	"github.com/brademus/investorkonnect-sub002/internal/models"
)

func testConfig(tokenURL string) *config.Config {
	return &config.Config{
		ProviderTokenURL:       tokenURL,
		ProviderIntegrationKey: "int-key",
		ProviderSecretKey:      "secret",
		ProviderHTTPTimeout:    5 * time.Second,
		ProviderMaxRetries:     3,
		ProviderRetryBaseDelay: time.Millisecond,
	}
}

func testConnection(baseURI string) *models.ProviderConnection {
	return &models.ProviderConnection{
		ID:          "conn1",
		AccessToken: "access-token",
		BaseURI:     baseURI,
		AccountID:   "acct1",
	}
}

func TestRefreshToken(t *testing.T) {
	var gotGrant, gotRefresh, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotGrant = r.PostForm.Get("grant_type")
		gotRefresh = r.PostForm.Get("refresh_token")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	tok, err := c.RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, "new-refresh", tok.RefreshToken)
	assert.Equal(t, int64(3600), tok.ExpiresIn)
	assert.Equal(t, "refresh_token", gotGrant)
	assert.Equal(t, "old-refresh", gotRefresh)
	assert.Contains(t, gotAuth, "Basic ")
}

func TestRefreshTokenUnauthorizedNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.RefreshToken(context.Background(), "stale")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRateLimitRetriedThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"envelopeId": "env-123"})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	envID, err := c.CreateEnvelope(context.Background(), testConnection(srv.URL), EnvelopeRequest{
		Subject:      "Buyer Agency Agreement",
		DocumentName: "agreement.pdf",
		DocumentPDF:  []byte("%PDF-1.4 fake"),
	})
	require.NoError(t, err)
	assert.Equal(t, "env-123", envID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRateLimitExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.CreateEnvelope(context.Background(), testConnection(srv.URL), EnvelopeRequest{DocumentPDF: []byte("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	// initial attempt plus the configured retries
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestListRecipients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/v2.1/accounts/acct1/envelopes/env-1/recipients", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"signers": []map[string]interface{}{
				{"recipientId": "r1", "roleName": "investor", "status": "completed", "signedDateTime": "2026-08-29T10:00:00Z"},
				{"recipientId": "r2", "roleName": "agent", "status": "sent"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	recipients, err := c.ListRecipients(context.Background(), testConnection(srv.URL), "env-1")
	require.NoError(t, err)
	require.Len(t, recipients, 2)

	assert.True(t, recipients[0].Completed())
	signedAt := recipients[0].SignedAt()
	require.NotNil(t, signedAt)
	assert.Equal(t, time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC), *signedAt)

	assert.False(t, recipients[1].Completed())
	assert.Nil(t, recipients[1].SignedAt())
}

func TestCreateRecipientView(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r1", body["recipientId"])
		assert.Equal(t, "none", body["authenticationMethod"])
		json.NewEncoder(w).Encode(map[string]interface{}{"url": "https://sign.example/s/abc"})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	u, err := c.CreateRecipientView(context.Background(), testConnection(srv.URL), "env-1", RecipientViewRequest{
		RecipientID:  "r1",
		Name:         "Ann Investor",
		Email:        "ann@example.com",
		ClientUserID: "user-1",
		ReturnURL:    "https://app.example/done",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://sign.example/s/abc", u)
}

func TestDownloadDocument(t *testing.T) {
	pdf := []byte("%PDF-1.4 signed content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2.1/accounts/acct1/envelopes/env-1/documents/combined", r.URL.Path)
		w.Write(pdf)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	got, err := c.DownloadDocument(context.Background(), testConnection(srv.URL), "env-1")
	require.NoError(t, err)
	assert.Equal(t, pdf, got)
}

func TestServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.ListRecipients(context.Background(), testConnection(srv.URL), "env-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("stream interrupted") }

func TestDoUnreadableBodyFailsWithoutRequest(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL)).(*client)
	req, err := http.NewRequest(http.MethodPost, srv.URL, io.NopCloser(brokenReader{}))
	require.NoError(t, err)

	err = c.do(req, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read provider request body")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "the request must not be sent with a truncated body")
}
