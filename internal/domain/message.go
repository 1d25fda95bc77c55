// Package domain holds the canonical types threaded through the pipeline:
// messages, tool directives, conversation state, and the error taxonomy.
package domain

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is a single entry in a conversation. Within a pipeline run
// messages are append-only and their order is chronological.
type Message struct {
	Role     Role              `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ToolCall is a directive from the completion provider asking the pipeline
// to perform an external call before finalizing a response.
type ToolCall struct {
	// ID correlates the directive with its result on providers that
	// require it. May be empty.
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ProviderParams selects and tunes the completion backend for one run.
// It is passed explicitly into adapter calls so runs are reproducible
// without process-wide setup.
type ProviderParams struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}
