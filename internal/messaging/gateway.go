// Package messaging is the client edge for the text-messaging gateway: an
// outbound send client and the inbound webhook handler. Transport internals
// (delivery, retries inside the provider) belong to the gateway itself.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Gateway delivers text messages to counterpart addresses.
type Gateway interface {
	// Send delivers text to address and returns the gateway message identity.
	Send(ctx context.Context, address, text string) (string, error)
}

// HTTPGateway is a Gateway over the provider's REST send endpoint, with a
// token-bucket limiter so bursts of bridge sends stay inside provider quotas.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	sender  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPGateway creates a gateway client. rpm caps sends per minute
// (0 = unlimited). sender is the provider-side sending identity.
func NewHTTPGateway(baseURL, apiKey, sender string, rpm int) *HTTPGateway {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		sender:  sender,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: limiter,
	}
}

type sendRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Send delivers one message, waiting on the rate limiter first.
func (g *HTTPGateway) Send(ctx context.Context, address, text string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("messaging: rate limit wait: %w", err)
	}

	body, err := json.Marshal(sendRequest{From: g.sender, To: address, Text: text})
	if err != nil {
		return "", fmt.Errorf("messaging: encode send: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("messaging: send to %s: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("messaging: send to %s: status %d: %s",
			address, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("messaging: decode send response: %w", err)
	}
	return out.MessageID, nil
}
