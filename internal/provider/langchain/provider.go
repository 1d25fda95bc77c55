// Package langchain adapts langchaingo models as completion backends.
// It covers OpenAI-compatible gateways (openrouter and similar) behind a
// base URL override, giving the registry a second backend family that
// shares no client code with the hand-rolled one.
package langchain

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/chatgraph/chatgraph/internal/config"
	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/provider"
	"github.com/chatgraph/chatgraph/internal/tools"
)

// Provider implements provider.Provider over an llms.Model.
type Provider struct {
	name         string
	model        llms.Model
	defaultModel string
}

// New wraps an existing llms.Model.
func New(name string, model llms.Model, defaultModel string) *Provider {
	return &Provider{name: name, model: model, defaultModel: defaultModel}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Complete(ctx context.Context, msgs []domain.Message, defs []tools.Definition, params domain.ProviderParams) (*provider.Completion, error) {
	messages := toMessageContent(msgs)

	opts := []llms.CallOption{}
	if params.Model != "" {
		opts = append(opts, llms.WithModel(params.Model))
	} else if p.defaultModel != "" {
		opts = append(opts, llms.WithModel(p.defaultModel))
	}
	if params.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(params.Temperature))
	}
	if params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxTokens))
	}
	if len(defs) > 0 {
		opts = append(opts, llms.WithTools(toLLMTools(defs)))
	}

	resp, err := p.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewError(domain.KindFatalProvider, "provider returned no choices")
	}

	choice := resp.Choices[0]
	completion := &provider.Completion{Content: choice.Content}

	if len(choice.ToolCalls) > 0 {
		tc := choice.ToolCalls[0]
		if tc.FunctionCall != nil {
			args, err := tools.ParseArguments(tc.FunctionCall.Arguments)
			if err != nil {
				return nil, domain.Errorf(domain.KindFatalProvider, "malformed tool arguments from provider: %v", err)
			}
			completion.ToolCall = &domain.ToolCall{
				ID:        tc.ID,
				Name:      tc.FunctionCall.Name,
				Arguments: args,
			}
		}
	}

	return completion, nil
}

func toMessageContent(msgs []domain.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case domain.RoleAssistant:
			out = append(out, llms.TextParts(llms.ChatMessageTypeAI, m.Content))
		case domain.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{
					llms.ToolCallResponse{
						ToolCallID: m.Metadata["tool_call_id"],
						Name:       m.Metadata["tool_name"],
						Content:    m.Content,
					},
				},
			})
		default:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		}
	}
	return out
}

func toLLMTools(defs []tools.Definition) []llms.Tool {
	out := make([]llms.Tool, len(defs))
	for i, d := range defs {
		out[i] = llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		}
	}
	return out
}

// classify maps langchaingo errors onto the taxonomy. The library surfaces
// upstream status text in the error string; auth and request-shape failures
// must not be retried.
func classify(err error) *domain.Error {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "403", "invalid api key", "incorrect api key", "status code: 400", "status code: 404"} {
		if strings.Contains(msg, marker) {
			return domain.Errorf(domain.KindFatalProvider, "provider error: %v", err)
		}
	}
	return domain.Errorf(domain.KindTransientProvider, "provider error: %v", err)
}

// RegisterFactory wires the "langchain" provider type into the registry.
func RegisterFactory(r *provider.Registry) {
	r.RegisterFactory("langchain", func(cfg config.ProviderConfig) (provider.Provider, error) {
		opts := []lcopenai.Option{
			lcopenai.WithToken(cfg.APIKey),
		}
		if cfg.Model != "" {
			opts = append(opts, lcopenai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
		}
		model, err := lcopenai.New(opts...)
		if err != nil {
			return nil, err
		}
		return New(cfg.Name, model, cfg.Model), nil
	})
}

var _ provider.Provider = (*Provider)(nil)
