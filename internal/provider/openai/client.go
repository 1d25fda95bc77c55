// Package openai is a hand-rolled chat completions backend. It also serves
// OpenAI-compatible APIs (DeepSeek) via a base URL override.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chatgraph/chatgraph/internal/domain"
)

const (
	defaultBaseURL  = "https://api.openai.com/v1"
	deepseekBaseURL = "https://api.deepseek.com/v1"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client is the HTTP client for the chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateChatCompletion sends a chat completion request. Errors carry a
// domain kind: 401/403/400/404 are fatal, 429/408/5xx and transport
// failures are transient.
func (c *Client) CreateChatCompletion(ctx context.Context, req *chatCompletionRequest) (*chatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.Errorf(domain.KindFatalProvider, "marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.Errorf(domain.KindFatalProvider, "create request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("User-Agent", "chatgraph/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.Errorf(domain.KindTransientProvider, "request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Errorf(domain.KindTransientProvider, "read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.Errorf(domain.KindFatalProvider, "unmarshal response: %v", err)
	}

	return &result, nil
}

// classifyStatus maps an HTTP error status to the error taxonomy.
func classifyStatus(status int, body []byte) *domain.Error {
	msg := extractErrorMessage(body)

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return domain.Errorf(domain.KindTransientProvider, "API error (status %d): %s", status, msg)
	default:
		return domain.Errorf(domain.KindFatalProvider, "API error (status %d): %s", status, msg)
	}
}

func extractErrorMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return fmt.Sprintf("%.512s", string(body))
}
