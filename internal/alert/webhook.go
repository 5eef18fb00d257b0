package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opensource-finance/sentinelstream/internal/circuitbreaker"
	"github.com/opensource-finance/sentinelstream/internal/domain"
	"github.com/opensource-finance/sentinelstream/internal/retry"
)

// Webhook request headers.
const (
	HeaderSignature = "X-Sentinel-Signature"
	HeaderTimestamp = "X-Sentinel-Timestamp"
	HeaderEvent     = "X-Sentinel-Event"
)

// ErrCircuitOpen is returned while the endpoint's circuit is open.
var ErrCircuitOpen = errors.New("webhook circuit open")

// WebhookSink POSTs alerts as JSON, signed with HMAC-SHA256 when a secret is set.
type WebhookSink struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewWebhookSink validates the endpoint and creates a sink.
func NewWebhookSink(endpoint, secret string, timeout time.Duration) (*WebhookSink, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid webhook url %q", domain.ErrInvalidInput, endpoint)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		url:     endpoint,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}, nil
}

func (s *WebhookSink) Name() string { return domain.AlertSinkWebhook }

// Deliver sends one alert. Client errors other than 429 are not retried.
func (s *WebhookSink) Deliver(ctx context.Context, task domain.AlertTask) error {
	if !s.breaker.Allow(s.url) {
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal alert: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, "fraud.alert")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	if s.secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign(payload, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.breaker.RecordFailure(s.url)
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.breaker.RecordSuccess(s.url)
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		s.breaker.RecordFailure(s.url)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of payload keyed with secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature header produced by Sign.
func VerifySignature(payload []byte, secret, header string) bool {
	expected := "sha256=" + Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(header))
}
