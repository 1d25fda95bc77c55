package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatgraph/chatgraph/internal/config"
	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/pipeline"
	"github.com/chatgraph/chatgraph/internal/webhook"
)

type stubRunner struct {
	response  string
	err       error
	gotParams domain.ProviderParams
}

func (s *stubRunner) Run(ctx context.Context, sessionID, userMessage string, params domain.ProviderParams) (*pipeline.Result, error) {
	s.gotParams = params
	if s.err != nil {
		return nil, s.err
	}
	return &pipeline.Result{Response: s.response}, nil
}

type stubWebhooks struct {
	trackID string
	err     error
	record  webhook.Record
	known   bool
}

func (s *stubWebhooks) Submit(ctx context.Context, sessionID, message, callbackURL string, params domain.ProviderParams) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.trackID, nil
}

func (s *stubWebhooks) Status(trackID string) (webhook.Record, bool) {
	return s.record, s.known
}

func newTestServer(runner Runner, hooks WebhookService) *Server {
	return New(config.ServerConfig{Port: 0, RequestTimeout: 5 * time.Second}, runner, hooks, nil)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	return rr
}

func TestHandleChat_Success(t *testing.T) {
	runner := &stubRunner{response: "hello back"}
	s := newTestServer(runner, &stubWebhooks{})

	rr := doJSON(t, s, http.MethodPost, "/v1/chat",
		`{"session_id":"s1","message":"hello","provider_config":{"provider":"openai","model":"gpt-4o-mini","temperature":0.2}}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Response != "hello back" || resp.SessionID != "s1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if runner.gotParams.Provider != "openai" || runner.gotParams.Model != "gpt-4o-mini" {
		t.Errorf("provider params not forwarded: %+v", runner.gotParams)
	}
}

func TestHandleChat_StructuredErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   domain.ErrorKind
	}{
		{"validation", domain.NewError(domain.KindValidation, "message is required"), http.StatusBadRequest, domain.KindValidation},
		{"fatal provider", domain.NewError(domain.KindFatalProvider, "invalid api key").WithNode("generate"), http.StatusBadGateway, domain.KindFatalProvider},
		{"transient provider", domain.NewError(domain.KindTransientProvider, "upstream overloaded"), http.StatusServiceUnavailable, domain.KindTransientProvider},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(&stubRunner{err: tc.err}, &stubWebhooks{})

			rr := doJSON(t, s, http.MethodPost, "/v1/chat",
				`{"session_id":"s1","message":"hello","provider_config":{"provider":"openai"}}`)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("bad error body: %v", err)
			}
			if resp.Error == nil || resp.Error.Kind != tc.wantKind {
				t.Errorf("unexpected error envelope: %+v", resp.Error)
			}
		})
	}
}

func TestHandleChat_MalformedBody(t *testing.T) {
	s := newTestServer(&stubRunner{response: "x"}, &stubWebhooks{})

	rr := doJSON(t, s, http.MethodPost, "/v1/chat", `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestHandleWebhookSubmit_Accepted(t *testing.T) {
	s := newTestServer(&stubRunner{}, &stubWebhooks{trackID: "track-123"})

	rr := doJSON(t, s, http.MethodPost, "/v1/webhook",
		`{"session_id":"s1","message":"hello","callback_url":"http://example.com/hook","provider_config":{"provider":"openai"}}`)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp submitResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.TrackID != "track-123" {
		t.Errorf("unexpected track ID: %q", resp.TrackID)
	}
}

func TestHandleWebhookSubmit_ValidationRejected(t *testing.T) {
	s := newTestServer(&stubRunner{}, &stubWebhooks{
		err: domain.NewError(domain.KindValidation, "callback_url must be an absolute http(s) URL"),
	})

	rr := doJSON(t, s, http.MethodPost, "/v1/webhook",
		`{"session_id":"s1","message":"hello","callback_url":"/hook","provider_config":{"provider":"openai"}}`)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandleWebhookStatus(t *testing.T) {
	rec := webhook.Record{
		TrackID:   "track-123",
		SessionID: "s1",
		Status:    webhook.StatusDelivered,
		Attempts:  2,
		Response:  "done",
	}
	s := newTestServer(&stubRunner{}, &stubWebhooks{record: rec, known: true})

	rr := doJSON(t, s, http.MethodGet, "/v1/webhook/track-123", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var got webhook.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad status body: %v", err)
	}
	if got.TrackID != "track-123" || got.Status != webhook.StatusDelivered || got.Attempts != 2 {
		t.Errorf("unexpected status body: %+v", got)
	}
}

func TestHandleWebhookStatus_Unknown(t *testing.T) {
	s := newTestServer(&stubRunner{}, &stubWebhooks{})

	rr := doJSON(t, s, http.MethodGet, "/v1/webhook/nope", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown track ID, got %d", rr.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&stubRunner{}, &stubWebhooks{})

	rr := doJSON(t, s, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad health body: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] == "" {
		t.Errorf("unexpected health body: %v", resp)
	}
}

func TestRequestIDHeaderSet(t *testing.T) {
	s := newTestServer(&stubRunner{}, &stubWebhooks{})

	rr := doJSON(t, s, http.MethodGet, "/health", "")
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}
