package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/history"
	"github.com/chatgraph/chatgraph/internal/provider"
)

// fallbackResponse is returned when the model keeps asking for tools past
// the iteration cap.
const fallbackResponse = "I wasn't able to complete the external lookups needed for this request. Please try again."

// run is the per-turn execution context: the state plus the knobs that stay
// constant across nodes.
type run struct {
	engine   *Engine
	provider provider.Provider
	params   domain.ProviderParams
	state    *domain.State
	// toolIterations counts completed call_tool visits.
	toolIterations int
}

// loadHistory prepends the stored session history to the current user turn.
// A missing session is the normal first turn. An unavailable store degrades
// to an empty history and marks the state, so one storage outage does not
// turn into a user-facing failure.
func (r *run) loadHistory(ctx context.Context) Transition {
	msgs, err := r.engine.store.Get(ctx, r.state.SessionID)
	switch {
	case err == nil:
		r.state.Messages = append(msgs, r.state.Messages...)
	case errors.Is(err, history.ErrNotFound):
		// First turn for this session.
	default:
		r.engine.logger.Warn("history load failed, continuing with empty history",
			slog.String("session_id", r.state.SessionID),
			slog.String("error", err.Error()))
		r.state.SetMeta("history_error", err.Error())
	}
	return Goto(NodeGenerate)
}

// generate asks the provider for the next assistant turn. A tool directive
// loops through call_tool unless the iteration budget is spent, in which
// case the run terminates with a fallback answer instead of spinning.
func (r *run) generate(ctx context.Context) Transition {
	completion, err := r.provider.Complete(ctx, r.state.Messages, r.engine.tools.Definitions(), r.params)
	if err != nil {
		if de, ok := domain.AsError(err); ok {
			return Fatal(de.WithNode(NodeGenerate))
		}
		return Fatal(domain.Errorf(domain.KindInternal, "completion failed: %v", err).WithNode(NodeGenerate))
	}

	if completion.Usage.TotalTokens > 0 {
		r.state.SetMeta("prompt_tokens", strconv.Itoa(completion.Usage.PromptTokens))
		r.state.SetMeta("completion_tokens", strconv.Itoa(completion.Usage.CompletionTokens))
	}

	if completion.ToolCall != nil {
		if r.toolIterations >= r.engine.cfg.MaxToolIterations {
			r.engine.logger.Warn("tool iteration cap reached, falling back",
				slog.String("session_id", r.state.SessionID),
				slog.Int("iterations", r.toolIterations))
			r.state.Append(domain.Message{Role: domain.RoleAssistant, Content: fallbackResponse})
			return Goto(NodePostprocess)
		}

		args, _ := json.Marshal(completion.ToolCall.Arguments)
		r.state.Append(domain.Message{
			Role:    domain.RoleAssistant,
			Content: completion.Content,
			Metadata: map[string]string{
				"tool_call_id": completion.ToolCall.ID,
				"tool_name":    completion.ToolCall.Name,
				"tool_args":    string(args),
			},
		})
		r.state.PendingToolCall = completion.ToolCall
		return Goto(NodeCallTool)
	}

	r.state.Append(domain.Message{Role: domain.RoleAssistant, Content: completion.Content})
	return Goto(NodePostprocess)
}

// callTool resolves the pending directive and feeds the result back as a
// tool message. Tool failures become context for the model, not run
// failures.
func (r *run) callTool(ctx context.Context) Transition {
	tc := r.state.PendingToolCall
	if tc == nil {
		return Fatal(domain.NewError(domain.KindInternal, "call_tool reached with no pending directive").WithNode(NodeCallTool))
	}

	content, err := r.engine.tools.Invoke(ctx, tc.Name, tc.Arguments)
	if err != nil {
		r.engine.logger.Warn("tool invocation failed",
			slog.String("session_id", r.state.SessionID),
			slog.String("tool", tc.Name),
			slog.String("error", err.Error()))
		content = "error: " + err.Error()
	}

	r.state.Append(domain.Message{
		Role:    domain.RoleTool,
		Content: content,
		Metadata: map[string]string{
			"tool_call_id": tc.ID,
			"tool_name":    tc.Name,
		},
	})
	r.state.PendingToolCall = nil
	r.toolIterations++
	return Goto(NodeGenerate)
}

// postprocess fixes the final response from the last assistant turn,
// truncating to the configured token budget when one is set.
func (r *run) postprocess(ctx context.Context) Transition {
	response := r.state.LastAssistant()

	if max := r.engine.cfg.MaxResponseTokens; max > 0 {
		truncated := r.engine.counter.Truncate(r.params.Model, response, max)
		if truncated != response {
			response = truncated
			for i := len(r.state.Messages) - 1; i >= 0; i-- {
				if r.state.Messages[i].Role == domain.RoleAssistant {
					r.state.Messages[i].Content = truncated
					break
				}
			}
		}
	}

	count, _ := r.engine.counter.CountText(r.params.Model, response)
	r.state.SetMeta("response_tokens", strconv.Itoa(count))
	r.state.FinalResponse = response
	return Goto(NodeSaveHistory)
}

// saveHistory persists the turn. The write uses a detached context so a
// client that hangs up after generation still gets its turn recorded, and a
// failed write is logged rather than failing a response that already exists.
func (r *run) saveHistory(ctx context.Context) Transition {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	if err := r.engine.store.Put(saveCtx, r.state.SessionID, r.state.Messages, r.engine.historyMax); err != nil {
		r.engine.logger.Warn("history save failed",
			slog.String("session_id", r.state.SessionID),
			slog.String("error", err.Error()))
	}
	return Terminal()
}
