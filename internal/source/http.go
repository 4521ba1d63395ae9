package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/raaihank/case-sentinel/internal/logger"
	"go.uber.org/zap"
)

// HTTPStore talks to a tabular store exposed over HTTP:
//
//	GET   {base}/records?synced=false&min_relevancy=N&content_type=a,b&limit=N
//	PATCH {base}/records/{id}  {"synced": true, "destination_id": "..."}
//
// A 409 from the PATCH means the record was already synced.
type HTTPStore struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *logger.Logger
}

type recordsResponse struct {
	Records []Record `json:"records"`
}

type markSyncedRequest struct {
	Synced        bool   `json:"synced"`
	DestinationID string `json:"destination_id"`
}

// NewHTTPStore creates a client for the HTTP source store
func NewHTTPStore(baseURL, token string, timeout time.Duration, log *logger.Logger) *HTTPStore {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  log.WithComponent("source_http"),
	}
}

// Candidates fetches unsynced records at or above the minimum relevancy
func (h *HTTPStore) Candidates(ctx context.Context, q CandidateQuery) ([]Record, error) {
	params := url.Values{}
	params.Set("synced", "false")
	params.Set("min_relevancy", strconv.Itoa(q.MinRelevancy))
	if len(q.ContentTypes) > 0 {
		params.Set("content_type", strings.Join(q.ContentTypes, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/records?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build candidates request: %w", err)
	}

	resp, err := h.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list records", resp)
	}

	var body recordsResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}

	h.logger.Debug("Candidates fetched", zap.Int("count", len(body.Records)))
	return body.Records, nil
}

// MarkSynced writes the sync marker for a record
func (h *HTTPStore) MarkSynced(ctx context.Context, id, destinationID string) error {
	payload, err := json.Marshal(markSyncedRequest{Synced: true, DestinationID: destinationID})
	if err != nil {
		return fmt.Errorf("failed to marshal sync marker: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		h.baseURL+"/records/"+url.PathEscape(id), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build sync marker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%s: %w", id, ErrAlreadySynced)
	case resp.StatusCode >= 300:
		return statusError("mark synced", resp)
	}
	return nil
}

// Close releases idle connections
func (h *HTTPStore) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTPStore) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source request failed: %w", err)
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
