package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatgraph/chatgraph/internal/config"
	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/pipeline"
)

// stubRunner stands in for the pipeline engine.
type stubRunner struct {
	response string
	err      error
	calls    atomic.Int32
}

func (r *stubRunner) Run(ctx context.Context, sessionID, userMessage string, params domain.ProviderParams) (*pipeline.Result, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &pipeline.Result{Response: r.response}, nil
}

func newTestEngine(t *testing.T, runner Runner, maxAttempts int) *Engine {
	t.Helper()
	e := New(runner, config.WebhookConfig{
		MaxAttempts:    maxAttempts,
		BaseDelay:      time.Second,
		AttemptTimeout: 2 * time.Second,
	}, nil)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Close(ctx)
	})
	return e
}

// waitTerminal polls until the record reaches a terminal status.
func waitTerminal(t *testing.T, e *Engine, trackID string) Record {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if rec, ok := e.Status(trackID); ok && rec.Status.Terminal() {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, _ := e.Status(trackID)
	t.Fatalf("record %s never reached a terminal status, last: %+v", trackID, rec)
	return Record{}
}

func TestSubmit_FirstAttemptDelivered(t *testing.T) {
	var gotPayload deliveryPayload
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newTestEngine(t, &stubRunner{response: "all done"}, 3)

	trackID, err := e.Submit(context.Background(), "s1", "hello", srv.URL, domain.ProviderParams{Provider: "test"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	rec := waitTerminal(t, e, trackID)
	if rec.Status != StatusDelivered {
		t.Errorf("expected delivered, got %s", rec.Status)
	}
	if rec.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", rec.Attempts)
	}
	if posts.Load() != 1 {
		t.Errorf("expected 1 post, got %d", posts.Load())
	}
	if gotPayload.TrackID != trackID || gotPayload.Response != "all done" || gotPayload.Status != "delivered" {
		t.Errorf("unexpected payload: %+v", gotPayload)
	}
}

func TestSubmit_RetriesThenDelivered(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if posts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newTestEngine(t, &stubRunner{response: "eventually"}, 3)

	trackID, err := e.Submit(context.Background(), "s1", "hello", srv.URL, domain.ProviderParams{Provider: "test"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	rec := waitTerminal(t, e, trackID)
	if rec.Status != StatusDelivered {
		t.Errorf("expected delivered, got %s", rec.Status)
	}
	if rec.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", rec.Attempts)
	}
}

func TestSubmit_ExhaustsRetryBudget(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := newTestEngine(t, &stubRunner{response: "never lands"}, 3)

	trackID, err := e.Submit(context.Background(), "s1", "hello", srv.URL, domain.ProviderParams{Provider: "test"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	rec := waitTerminal(t, e, trackID)
	if rec.Status != StatusExhausted {
		t.Errorf("expected exhausted, got %s", rec.Status)
	}
	if rec.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", rec.Attempts)
	}
	if posts.Load() != 3 {
		t.Errorf("expected exactly 3 posts, got %d", posts.Load())
	}
	if rec.LastDeliveryError == "" {
		t.Error("expected last delivery error to be retained")
	}
	// The response survives for the status endpoint even when delivery
	// never landed.
	if rec.Response != "never lands" {
		t.Errorf("response not retained: %q", rec.Response)
	}
}

func TestSubmit_PipelineFailureMarksFailed(t *testing.T) {
	var gotPayload deliveryPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotPayload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	runErr := domain.NewError(domain.KindFatalProvider, "invalid api key").WithNode("generate")
	e := newTestEngine(t, &stubRunner{err: runErr}, 3)

	trackID, err := e.Submit(context.Background(), "s1", "hello", srv.URL, domain.ProviderParams{Provider: "test"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	rec := waitTerminal(t, e, trackID)
	if rec.Status != StatusFailed {
		t.Errorf("expected failed, got %s", rec.Status)
	}
	if rec.Err == nil || rec.Err.Kind != domain.KindFatalProvider {
		t.Errorf("structured error not retained: %+v", rec.Err)
	}
	// Failure is still announced to the callback, once.
	if gotPayload.Status != "failed" || gotPayload.Error == nil {
		t.Errorf("failure payload not posted: %+v", gotPayload)
	}
}

func TestSubmit_ValidatesBeforeCreatingRecord(t *testing.T) {
	e := newTestEngine(t, &stubRunner{response: "x"}, 3)

	cases := []struct {
		name        string
		sessionID   string
		message     string
		callbackURL string
	}{
		{"empty callback", "s1", "hello", ""},
		{"relative callback", "s1", "hello", "/hook"},
		{"wrong scheme", "s1", "hello", "ftp://example.com/hook"},
		{"empty session", "", "hello", "http://example.com/hook"},
		{"empty message", "s1", "", "http://example.com/hook"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trackID, err := e.Submit(context.Background(), tc.sessionID, tc.message, tc.callbackURL, domain.ProviderParams{})
			if domain.KindOf(err) != domain.KindValidation {
				t.Errorf("expected validation error, got %v", err)
			}
			if trackID != "" {
				t.Errorf("no track ID should be issued on validation failure, got %q", trackID)
			}
		})
	}
}

func TestStatus_UnknownAndIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := newTestEngine(t, &stubRunner{response: "done"}, 3)

	if _, ok := e.Status("no-such-track"); ok {
		t.Error("expected unknown track ID to report not found")
	}

	trackID, err := e.Submit(context.Background(), "s1", "hello", srv.URL, domain.ProviderParams{})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	waitTerminal(t, e, trackID)

	first, _ := e.Status(trackID)
	second, _ := e.Status(trackID)
	if first != second {
		t.Errorf("status reads disagree: %+v vs %+v", first, second)
	}
}

func TestTracker_SweepDropsOnlyOldTerminalRecords(t *testing.T) {
	tr := NewTracker()

	tr.Create("old-done", "s1", "http://example.com")
	tr.Update("old-done", func(r *Record) { r.Status = StatusDelivered })
	tr.Create("live", "s2", "http://example.com")
	tr.Update("live", func(r *Record) { r.Status = StatusRunning })

	// Age the terminal record past the retention window.
	tr.mu.Lock()
	tr.records["old-done"].UpdatedAt = time.Now().Add(-2 * time.Hour)
	tr.records["live"].UpdatedAt = time.Now().Add(-2 * time.Hour)
	tr.mu.Unlock()

	if n := tr.Sweep(time.Hour); n != 1 {
		t.Errorf("expected 1 swept record, got %d", n)
	}
	if _, ok := tr.Snapshot("old-done"); ok {
		t.Error("terminal record past retention should be gone")
	}
	if _, ok := tr.Snapshot("live"); !ok {
		t.Error("non-terminal record must survive the sweep")
	}
}
