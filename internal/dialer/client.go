package dialer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client calls the campaign platform's REST API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a dialer client. baseURL is the platform API root.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ListBatches returns all batches visible to the account.
func (c *Client) ListBatches(ctx context.Context) ([]Batch, error) {
	var out struct {
		Batches []Batch `json:"batches"`
	}
	if err := c.get(ctx, "/v1/batches", &out); err != nil {
		return nil, fmt.Errorf("dialer: list batches: %w", err)
	}
	return out.Batches, nil
}

// GetBatchDetail returns one batch with per-recipient call status.
func (c *Client) GetBatchDetail(ctx context.Context, batchID string) (*BatchDetail, error) {
	var out BatchDetail
	if err := c.get(ctx, "/v1/batches/"+url.PathEscape(batchID), &out); err != nil {
		return nil, fmt.Errorf("dialer: batch detail %s: %w", batchID, err)
	}
	return &out, nil
}

// GetCallSummary returns the post-call synopsis for a conversation, if the
// platform has produced one yet.
func (c *Client) GetCallSummary(ctx context.Context, conversationID string) (*CallSummary, error) {
	var out CallSummary
	if err := c.get(ctx, "/v1/conversations/"+url.PathEscape(conversationID)+"/summary", &out); err != nil {
		return nil, fmt.Errorf("dialer: call summary %s: %w", conversationID, err)
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
