package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brademus/investorkonnect-sub002/internal/config"
)

// RedisSender stores emails in Redis instead of sending them. Integration
// tests read the captured message back by recipient and kind.
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{client: client, cfg: cfg}
}

func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	kind := kindFromSubject(subject)

	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}

	emailData := map[string]interface{}{
		"to":      strings.Join(to, ", "),
		"from":    s.cfg.SmtpFromAddress,
		"subject": subject,
		"body":    string(rawMessage),
		"kind":    string(kind),
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := fmt.Sprintf("mockemail:%s:%s", primaryTo, kind)
	ttl := 5 * time.Minute
	if err := s.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	log.Printf("Mock email stored in Redis key '%s' (TTL: %v, To: %s, Subject: %s)", key, ttl, strings.Join(to, ", "), subject)
	return nil
}

// kindFromSubject recovers the notification kind from the subject line so
// test lookups have a stable key.
func kindFromSubject(subject string) NotificationKind {
	switch {
	case strings.Contains(subject, "counter-offer was accepted"):
		return KindCounterOfferAccepted
	case strings.Contains(subject, "counter-offer was declined"):
		return KindCounterOfferDeclined
	case strings.Contains(subject, "counter-offer"):
		return KindCounterOfferProposed
	case strings.Contains(subject, "ready for your signature"):
		return KindAgreementReadyToSign
	case strings.Contains(subject, "fully signed"):
		return KindAgreementFullySigned
	}
	return "unknown"
}
