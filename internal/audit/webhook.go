package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-SteelWatch-Signature"

// WebhookSink POSTs each event to a URL, signed with a shared secret.
type WebhookSink struct {
	url        string
	secret     string
	httpClient *http.Client
}

// NewWebhookSink creates a WebhookSink with a 10s delivery timeout.
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// LogEvent implements Sink.
func (s *WebhookSink) LogEvent(ctx context.Context, kind string, payload any) error {
	body, err := json.Marshal(newEvent(kind, payload))
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, s.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the "sha256=<hex>" HMAC of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now().UTC(), Payload: payload}
}
