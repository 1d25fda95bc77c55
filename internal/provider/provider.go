// Package provider abstracts chat-completion backends behind one interface.
//
// Backends are registered as named factories and instantiated from
// configuration, so provider selection is a config input rather than a code
// branch the pipeline has to know about.
package provider

import (
	"context"

	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/tools"
)

// Usage reports token accounting for one completion, when the backend
// provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the structured result of one provider call. ToolCall is set
// when the model requests an external call before finalizing its answer.
type Completion struct {
	Content  string
	ToolCall *domain.ToolCall
	Usage    Usage
}

// Provider is a single completion backend.
type Provider interface {
	// Name returns the configured handle for this backend.
	Name() string

	// Complete generates the next assistant turn for the message sequence.
	// Tool definitions describe the external calls the model may request.
	// Errors carry a domain.ErrorKind so callers can tell transient from
	// fatal failures.
	Complete(ctx context.Context, msgs []domain.Message, defs []tools.Definition, params domain.ProviderParams) (*Completion, error)
}
