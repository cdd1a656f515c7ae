// Package webhook posts signed JSON events to the lead collection endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/badgeflow/internal/domain"
)

const (
	HeaderSignature = "X-Badgeflow-Signature"
	HeaderTimestamp = "X-Badgeflow-Timestamp"
	HeaderEvent     = "X-Badgeflow-Event"
	HeaderDelivery  = "X-Badgeflow-Delivery"

	EventLeadSubmitted = "lead.submitted"
)

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    max(1, cfg.MaxAttempts),
		initialBackoff: initialBackoff,
		maxBackoff:     max(cfg.MaxBackoff, initialBackoff),
	}
}

// LeadBody is the JSON posted for a submitted lead.
type LeadBody struct {
	LeadID      string    `json:"lead_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Company     string    `json:"company"`
	Designation string    `json:"designation"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// DeliverLead posts the four profile fields of lead. It returns how many
// attempts were made.
func (c *Client) DeliverLead(ctx context.Context, endpoint string, lead domain.Lead) (int, error) {
	return c.Send(ctx, endpoint, EventLeadSubmitted, lead.ID, LeadBody{
		LeadID:      lead.ID,
		Name:        lead.Profile.Name,
		Email:       lead.Profile.Email,
		Company:     lead.Profile.Company,
		Designation: lead.Profile.Designation,
		SubmittedAt: lead.CreatedAt,
	})
}

// Send posts payload with retries and exponential backoff. A blank endpoint
// is a no-op.
func (c *Client) Send(ctx context.Context, endpoint, event, deliveryID string, payload any) (int, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return 0, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	signature := Sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	attempt := 0
	for attempt < c.maxAttempts {
		attempt++
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return attempt, fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderEvent, event)
		if deliveryID != "" {
			req.Header.Set(HeaderDelivery, deliveryID)
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return attempt, nil
			}
			lastErr = fmt.Errorf("webhook returned status=%d", resp.StatusCode)
			// Client errors will not succeed on retry.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				break
			}
		} else {
			lastErr = err
		}
		if attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	return attempt, fmt.Errorf("webhook delivery failed after %d attempts: %w", attempt, lastErr)
}

// Sign computes the signature header value for a timestamp and body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}
