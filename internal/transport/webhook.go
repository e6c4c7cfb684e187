package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaybird/relaybird/internal/domain"
)

// WebhookConfig holds webhook adapter configuration.
type WebhookConfig struct {
	URL       string
	AuthToken string
	Timeout   time.Duration
}

// WebhookAdapter sends messages through an external messaging gateway over
// HTTP and receives receipt callbacks via PushReceipt (wired to an HTTP
// endpoint by the application).
type WebhookAdapter struct {
	config   WebhookConfig
	client   *http.Client
	receipts chan Receipt
}

// NewWebhookAdapter creates a webhook transport adapter.
func NewWebhookAdapter(config WebhookConfig) (*WebhookAdapter, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook adapter: url is required")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookAdapter{
		config:   config,
		client:   &http.Client{Timeout: timeout},
		receipts: make(chan Receipt, 256),
	}, nil
}

type sendRequest struct {
	DestinationID string   `json:"destinationId"`
	Text          string   `json:"text"`
	MediaRefs     []string `json:"mediaRefs,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
}

// Send posts the message to the gateway and returns its message id.
// 4xx responses other than 408/429 are permanent failures.
func (a *WebhookAdapter) Send(ctx context.Context, destinationID string, content domain.RenderedContent) (string, error) {
	reqBody, err := json.Marshal(sendRequest{
		DestinationID: destinationID,
		Text:          content.Text,
		MediaRefs:     content.MediaRefs,
	})
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.config.AuthToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send to gateway: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		// fall through to decode
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	default:
		return "", Permanent(fmt.Errorf("gateway rejected send with %d: %s", resp.StatusCode, string(body)))
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("decode gateway response: %w body=%q", err, string(body))
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("gateway response missing messageId body=%q", string(body))
	}

	return sr.MessageID, nil
}

// Receipts returns the receipt stream.
func (a *WebhookAdapter) Receipts() <-chan Receipt {
	return a.receipts
}

// PushReceipt feeds a receipt callback into the stream. Drops the receipt
// with a warning when the buffer is full so gateway callbacks never block.
func (a *WebhookAdapter) PushReceipt(r Receipt) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	select {
	case a.receipts <- r:
	default:
		slog.Warn("receipt buffer full, dropping receipt",
			"transport_message_id", r.TransportMessageID,
			"kind", r.Kind,
		)
	}
}

// Close closes the receipt stream.
func (a *WebhookAdapter) Close() {
	close(a.receipts)
}
