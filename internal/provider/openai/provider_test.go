package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/tools"
)

func completionBody(content string, toolCalls []toolCall) string {
	resp := chatCompletionResponse{
		ID:    "cmpl-1",
		Model: "gpt-4o-mini",
		Choices: []choice{{
			Message: chatMessage{Role: "assistant", Content: content, ToolCalls: toolCalls},
		}},
		Usage: usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestProvider_CompletePlainResponse(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(completionBody("hi there", nil)))
	}))
	defer srv.Close()

	p := New("openai", "sk-test", WithBaseURL(srv.URL))

	got, err := p.Complete(context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "hello"}},
		nil, domain.ProviderParams{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "hi there" {
		t.Errorf("unexpected content: %q", got.Content)
	}
	if got.ToolCall != nil {
		t.Error("expected no tool call")
	}
	if got.Usage.TotalTokens != 17 {
		t.Errorf("usage not mapped: %+v", got.Usage)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
}

func TestProvider_CompleteToolDirective(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionBody("", []toolCall{{
			ID:   "call_1",
			Type: "function",
			Function: functionCall{
				Name:      "get_weather",
				Arguments: `{"city":"Lisbon"}`,
			},
		}})))
	}))
	defer srv.Close()

	p := New("openai", "sk-test", WithBaseURL(srv.URL))

	got, err := p.Complete(context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "weather in lisbon?"}},
		[]tools.Definition{{Name: "get_weather", Description: "current weather"}},
		domain.ProviderParams{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ToolCall == nil {
		t.Fatal("expected tool call directive")
	}
	if got.ToolCall.Name != "get_weather" {
		t.Errorf("unexpected tool name: %q", got.ToolCall.Name)
	}
	if got.ToolCall.Arguments["city"] != "Lisbon" {
		t.Errorf("arguments not parsed: %v", got.ToolCall.Arguments)
	}
}

func TestProvider_AuthErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := New("openai", "sk-bad", WithBaseURL(srv.URL))

	_, err := p.Complete(context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "hello"}},
		nil, domain.ProviderParams{})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.KindOf(err) != domain.KindFatalProvider {
		t.Errorf("expected fatal kind for 401, got %s", domain.KindOf(err))
	}
}

func TestProvider_RateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	p := New("openai", "sk-test", WithBaseURL(srv.URL))

	_, err := p.Complete(context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "hello"}},
		nil, domain.ProviderParams{})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.KindOf(err) != domain.KindTransientProvider {
		t.Errorf("expected transient kind for 429, got %s", domain.KindOf(err))
	}
}

func TestProvider_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New("openai", "sk-test", WithBaseURL(srv.URL))

	_, err := p.Complete(context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "hello"}},
		nil, domain.ProviderParams{})
	if domain.KindOf(err) != domain.KindTransientProvider {
		t.Errorf("expected transient kind for 500, got %v", err)
	}
}

func TestProvider_ToolResultCarriesCallID(t *testing.T) {
	var gotReq chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(completionBody("18 degrees in Lisbon", nil)))
	}))
	defer srv.Close()

	p := New("openai", "sk-test", WithBaseURL(srv.URL))

	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "weather?"},
		{Role: domain.RoleAssistant, Content: ""},
		{Role: domain.RoleTool, Content: `{"temp":18}`, Metadata: map[string]string{
			"tool_name":    "get_weather",
			"tool_call_id": "call_1",
		}},
	}

	if _, err := p.Complete(context.Background(), msgs, nil, domain.ProviderParams{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotReq.Messages) != 3 {
		t.Fatalf("expected 3 wire messages, got %d", len(gotReq.Messages))
	}
	toolMsg := gotReq.Messages[2]
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message not wired: %+v", toolMsg)
	}
}
