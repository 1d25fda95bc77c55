package openai

import (
	"context"

	"github.com/chatgraph/chatgraph/internal/config"
	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/provider"
	"github.com/chatgraph/chatgraph/internal/tools"
)

// Provider implements provider.Provider over the chat completions API.
type Provider struct {
	name         string
	client       *Client
	defaultModel string
}

// New creates a provider instance.
func New(name, apiKey string, opts ...ClientOption) *Provider {
	return &Provider{
		name:   name,
		client: NewClient(apiKey, opts...),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Complete(ctx context.Context, msgs []domain.Message, defs []tools.Definition, params domain.ProviderParams) (*provider.Completion, error) {
	req := p.toAPIRequest(msgs, defs, params)

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, domain.NewError(domain.KindFatalProvider, "provider returned no choices")
	}

	return toCompletion(resp)
}

func (p *Provider) toAPIRequest(msgs []domain.Message, defs []tools.Definition, params domain.ProviderParams) *chatCompletionRequest {
	apiMsgs := make([]chatMessage, len(msgs))
	for i, m := range msgs {
		apiMsgs[i] = chatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		switch m.Role {
		case domain.RoleTool:
			// Tool results reference the directive that produced them.
			apiMsgs[i].Name = m.Metadata["tool_name"]
			apiMsgs[i].ToolCallID = m.Metadata["tool_call_id"]
		case domain.RoleAssistant:
			// Assistant turns that requested a tool must echo the call on
			// the wire or the API rejects the following tool message.
			if id := m.Metadata["tool_call_id"]; id != "" {
				apiMsgs[i].ToolCalls = []toolCall{{
					ID:   id,
					Type: "function",
					Function: functionCall{
						Name:      m.Metadata["tool_name"],
						Arguments: m.Metadata["tool_args"],
					},
				}}
			}
		}
	}

	model := params.Model
	if model == "" {
		model = p.defaultModel
	}

	req := &chatCompletionRequest{
		Model:     model,
		Messages:  apiMsgs,
		MaxTokens: params.MaxTokens,
	}
	if params.Temperature > 0 {
		req.Temperature = &params.Temperature
	}

	for _, d := range defs {
		req.Tools = append(req.Tools, tool{
			Type: "function",
			Function: functionTool{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}

	return req
}

func toCompletion(resp *chatCompletionResponse) (*provider.Completion, error) {
	c := resp.Choices[0]

	completion := &provider.Completion{
		Content: c.Message.Content,
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}

	if len(c.Message.ToolCalls) > 0 {
		tc := c.Message.ToolCalls[0]
		args, err := tools.ParseArguments(tc.Function.Arguments)
		if err != nil {
			return nil, domain.Errorf(domain.KindFatalProvider, "malformed tool arguments from provider: %v", err)
		}
		completion.ToolCall = &domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		}
	}

	return completion, nil
}

// RegisterFactories wires the "openai" and "deepseek" provider types into
// the registry. DeepSeek speaks the same wire format behind its own base
// URL.
func RegisterFactories(r *provider.Registry) {
	r.RegisterFactory("openai", func(cfg config.ProviderConfig) (provider.Provider, error) {
		var opts []ClientOption
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		p := New(cfg.Name, cfg.APIKey, opts...)
		p.defaultModel = cfg.Model
		return p, nil
	})

	r.RegisterFactory("deepseek", func(cfg config.ProviderConfig) (provider.Provider, error) {
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = deepseekBaseURL
		}
		p := New(cfg.Name, cfg.APIKey, WithBaseURL(baseURL))
		p.defaultModel = cfg.Model
		return p, nil
	})
}

var _ provider.Provider = (*Provider)(nil)
