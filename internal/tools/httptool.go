package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatgraph/chatgraph/internal/config"
	"github.com/chatgraph/chatgraph/internal/domain"
)

const defaultToolTimeout = 15 * time.Second

// maxToolResponseBytes caps how much of a tool response is fed back to the
// model.
const maxToolResponseBytes = 64 * 1024

// HTTPTool performs a declared external HTTP call. GET requests encode
// arguments as query parameters; other methods send a JSON body.
type HTTPTool struct {
	name        string
	description string
	url         string
	method      string
	client      *http.Client
}

// NewHTTPTool builds a tool from its configuration entry.
func NewHTTPTool(cfg config.ToolConfig) *HTTPTool {
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}

	return &HTTPTool{
		name:        cfg.Name,
		description: cfg.Description,
		url:         cfg.URL,
		method:      method,
		client:      &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTool) Name() string        { return t.name }
func (t *HTTPTool) Description() string { return t.description }

// Parameters is nil for HTTP tools: the schema is free-form and the
// endpoint validates its own inputs.
func (t *HTTPTool) Parameters() map[string]any { return nil }

func (t *HTTPTool) Call(ctx context.Context, args map[string]any) (string, error) {
	req, err := t.buildRequest(ctx, args)
	if err != nil {
		return "", domain.Errorf(domain.KindTool, "tool %s: build request: %v", t.name, err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", domain.Errorf(domain.KindTool, "tool %s: %v", t.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseBytes))
	if err != nil {
		return "", domain.Errorf(domain.KindTool, "tool %s: read response: %v", t.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", domain.Errorf(domain.KindTool, "tool %s: status %d: %s", t.name, resp.StatusCode, string(body))
	}

	return string(body), nil
}

func (t *HTTPTool) buildRequest(ctx context.Context, args map[string]any) (*http.Request, error) {
	if t.method == http.MethodGet {
		u, err := url.Parse(t.url)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, v := range args {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, t.method, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// FromConfig builds a registry holding all configured HTTP tools.
func FromConfig(cfgs []config.ToolConfig) *Registry {
	r := NewRegistry()
	for _, cfg := range cfgs {
		r.Register(NewHTTPTool(cfg))
	}
	return r
}

var _ Tool = (*HTTPTool)(nil)
