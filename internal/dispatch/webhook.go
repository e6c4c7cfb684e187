package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaybird/relaybird/internal/domain"
)

// GatewayConfig holds the connection settings for one external gateway
// endpoint.
type GatewayConfig struct {
	URL       string
	AuthToken string
	Timeout   time.Duration
}

func newGatewayClient(cfg GatewayConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func postJSON(ctx context.Context, client *http.Client, cfg GatewayConfig, reqBody, respBody any) error {
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

// WebhookContentSource pulls new content items from an external gateway.
type WebhookContentSource struct {
	config GatewayConfig
	client *http.Client
}

// NewWebhookContentSource creates a gateway-backed content source.
func NewWebhookContentSource(config GatewayConfig) (*WebhookContentSource, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("content source: url is required")
	}
	return &WebhookContentSource{config: config, client: newGatewayClient(config)}, nil
}

type listItemsRequest struct {
	SourceRef string    `json:"sourceRef"`
	Since     time.Time `json:"since"`
}

type listItemsResponse struct {
	Items []domain.ContentItem `json:"items"`
}

// ListNewItems returns items published after since, oldest first.
func (s *WebhookContentSource) ListNewItems(ctx context.Context, sourceRef string, since time.Time) ([]domain.ContentItem, error) {
	var resp listItemsResponse
	err := postJSON(ctx, s.client, s.config, listItemsRequest{SourceRef: sourceRef, Since: since}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// WebhookRenderer renders templates through an external gateway.
type WebhookRenderer struct {
	config GatewayConfig
	client *http.Client
}

// NewWebhookRenderer creates a gateway-backed renderer.
func NewWebhookRenderer(config GatewayConfig) (*WebhookRenderer, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("renderer: url is required")
	}
	return &WebhookRenderer{config: config, client: newGatewayClient(config)}, nil
}

type renderRequest struct {
	TemplateRef string             `json:"templateRef"`
	Item        domain.ContentItem `json:"item"`
}

// Render produces the message body for one content item.
func (r *WebhookRenderer) Render(ctx context.Context, templateRef string, item domain.ContentItem) (domain.RenderedContent, error) {
	var resp domain.RenderedContent
	if err := postJSON(ctx, r.client, r.config, renderRequest{TemplateRef: templateRef, Item: item}, &resp); err != nil {
		return domain.RenderedContent{}, err
	}
	return resp, nil
}

// EmptySource is the content source used when no gateway is configured. The
// trigger then only materializes items through OnNewContent and manual sends.
type EmptySource struct{}

// ListNewItems always returns nothing.
func (EmptySource) ListNewItems(context.Context, string, time.Time) ([]domain.ContentItem, error) {
	return nil, nil
}

// RawFieldRenderer renders an item from its raw "text" field when no
// renderer gateway is configured.
type RawFieldRenderer struct{}

// Render returns the item's text field as the message body.
func (RawFieldRenderer) Render(_ context.Context, _ string, item domain.ContentItem) (domain.RenderedContent, error) {
	text, ok := item.Fields["text"]
	if !ok || text == "" {
		return domain.RenderedContent{}, fmt.Errorf("content item %s has no text field", item.ID)
	}
	return domain.RenderedContent{Text: text}, nil
}
