package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StatusDraft is the only status this client ever sends. There is no
// publish call; publication is a human decision made in the CMS.
const StatusDraft = "draft"

// Draft is an unpublished content item
type Draft struct {
	SourceID    string         `json:"source_id"`
	ContentType string         `json:"content_type"`
	Title       string         `json:"title"`
	Body        string         `json:"body"`
	Relevancy   int            `json:"relevancy_score"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type createRequest struct {
	Status string `json:"status"`
	Draft
}

type createResponse struct {
	ID string `json:"id"`
}

// Publisher creates drafts in the destination content system
type Publisher interface {
	CreateDraft(ctx context.Context, d Draft) (string, error)
}

// Client is the HTTP client for the destination CMS
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *logger.Logger
}

// NewClient creates a CMS client posting to {base_url}/collections/{collection}/items
func NewClient(cfg config.DestinationConfig, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		endpoint: fmt.Sprintf("%s/collections/%s/items", strings.TrimRight(cfg.BaseURL, "/"), cfg.Collection),
		token:    cfg.APIToken,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
		logger:   log.WithComponent("destination"),
	}
}

// CreateDraft posts d as an unpublished draft and returns the CMS item id.
// The source id is sent as the idempotency key so a retried request cannot
// create a second draft.
func (c *Client) CreateDraft(ctx context.Context, d Draft) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(createRequest{Status: StatusDraft, Draft: d})
	if err != nil {
		return "", fmt.Errorf("failed to marshal draft: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build draft request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", d.SourceID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("draft request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("create draft: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body createResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode draft response: %w", err)
	}
	if body.ID == "" {
		return "", fmt.Errorf("create draft: response carried no id")
	}

	c.logger.Debug("Draft created",
		zap.String("source_id", d.SourceID),
		zap.String("destination_id", body.ID),
		zap.Duration("duration", time.Since(start)))

	return body.ID, nil
}
