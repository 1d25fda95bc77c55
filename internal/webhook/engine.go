package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatgraph/chatgraph/internal/config"
	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/pipeline"
)

// Runner executes one conversational turn. Satisfied by *pipeline.Engine.
type Runner interface {
	Run(ctx context.Context, sessionID, userMessage string, params domain.ProviderParams) (*pipeline.Result, error)
}

// deliveryPayload is the JSON body posted to the callback URL.
type deliveryPayload struct {
	TrackID   string        `json:"track_id"`
	SessionID string        `json:"session_id"`
	Status    string        `json:"status"`
	Response  string        `json:"response,omitempty"`
	Error     *domain.Error `json:"error,omitempty"`
}

// Engine accepts webhook submissions, runs the pipeline in a worker
// goroutine per submission, and delivers the outcome with bounded retries.
// The worker is the sole mutator of its record.
type Engine struct {
	runner  Runner
	tracker *Tracker
	cfg     config.WebhookConfig
	client  *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer

	wg   sync.WaitGroup
	stop chan struct{}
	// sleep is swapped in tests to avoid real backoff delays.
	sleep func(context.Context, time.Duration) error
}

func New(runner Runner, cfg config.WebhookConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}

	e := &Engine{
		runner:  runner,
		tracker: NewTracker(),
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.AttemptTimeout},
		logger:  logger,
		tracer:  otel.Tracer("chatgraph/webhook"),
		stop:    make(chan struct{}),
		sleep:   sleepCtx,
	}

	if cfg.Retention > 0 {
		e.wg.Add(1)
		go e.sweepLoop()
	}
	return e
}

// Submit validates the callback URL, registers a pending record, and starts
// the worker. It returns the track ID immediately; progress is observable
// through Status.
func (e *Engine) Submit(ctx context.Context, sessionID, message, callbackURL string, params domain.ProviderParams) (string, error) {
	if sessionID == "" {
		return "", domain.NewError(domain.KindValidation, "session_id is required")
	}
	if message == "" {
		return "", domain.NewError(domain.KindValidation, "message is required")
	}
	if err := validateCallbackURL(callbackURL); err != nil {
		return "", err
	}

	trackID := uuid.NewString()
	e.tracker.Create(trackID, sessionID, callbackURL)

	e.wg.Add(1)
	go e.work(trackID, sessionID, message, params)

	return trackID, nil
}

// Status returns a copy of the tracking record.
func (e *Engine) Status(trackID string) (Record, bool) {
	return e.tracker.Snapshot(trackID)
}

// Close stops the retention sweeper and waits for in-flight workers,
// bounded by ctx.
func (e *Engine) Close(ctx context.Context) error {
	close(e.stop)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook engine shutdown: %w", ctx.Err())
	}
}

func (e *Engine) work(trackID, sessionID, message string, params domain.ProviderParams) {
	defer e.wg.Done()

	// The worker outlives the submitting request on purpose.
	ctx, span := e.tracer.Start(context.Background(), "webhook.work",
		trace.WithAttributes(
			attribute.String("track_id", trackID),
			attribute.String("session_id", sessionID)))
	defer span.End()

	e.tracker.Update(trackID, func(r *Record) { r.Status = StatusRunning })

	result, err := e.runner.Run(ctx, sessionID, message, params)
	if err != nil {
		de, ok := domain.AsError(err)
		if !ok {
			de = domain.Errorf(domain.KindInternal, "pipeline failed: %v", err)
		}
		e.tracker.Update(trackID, func(r *Record) {
			r.Status = StatusFailed
			r.Err = de
		})
		// The caller registered a callback; tell it about the failure once,
		// without the retry budget.
		e.postOnce(ctx, trackID, deliveryPayload{
			TrackID:   trackID,
			SessionID: sessionID,
			Status:    string(StatusFailed),
			Error:     de,
		})
		return
	}

	e.tracker.Update(trackID, func(r *Record) {
		r.Status = StatusDelivering
		r.Response = result.Response
	})

	e.deliver(ctx, trackID, deliveryPayload{
		TrackID:   trackID,
		SessionID: sessionID,
		Status:    string(StatusDelivered),
		Response:  result.Response,
	})
}

// deliver posts the payload with doubling backoff, at most MaxAttempts
// times. First success wins.
func (e *Engine) deliver(ctx context.Context, trackID string, payload deliveryPayload) {
	rec, ok := e.tracker.Snapshot(trackID)
	if !ok {
		return
	}

	delay := e.cfg.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		e.tracker.Update(trackID, func(r *Record) { r.Attempts = attempt })

		err := e.post(ctx, rec.CallbackURL, payload)
		if err == nil {
			e.tracker.Update(trackID, func(r *Record) { r.Status = StatusDelivered })
			return
		}

		lastErr = err
		e.tracker.Update(trackID, func(r *Record) { r.LastDeliveryError = err.Error() })
		e.logger.Warn("webhook delivery attempt failed",
			slog.String("track_id", trackID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		if attempt < e.cfg.MaxAttempts {
			if err := e.sleep(ctx, delay); err != nil {
				break
			}
			delay *= 2
		}
	}

	e.tracker.Update(trackID, func(r *Record) {
		r.Status = StatusExhausted
		if lastErr != nil {
			r.LastDeliveryError = lastErr.Error()
		}
	})
}

// postOnce is the best-effort single delivery used for failure payloads.
func (e *Engine) postOnce(ctx context.Context, trackID string, payload deliveryPayload) {
	rec, ok := e.tracker.Snapshot(trackID)
	if !ok {
		return
	}
	if err := e.post(ctx, rec.CallbackURL, payload); err != nil {
		e.logger.Warn("failure callback not delivered",
			slog.String("track_id", trackID),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) post(ctx context.Context, callbackURL string, payload deliveryPayload) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "webhook.deliver")
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Errorf(domain.KindDelivery, "encode payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return domain.Errorf(domain.KindDelivery, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.Errorf(domain.KindDelivery, "post callback: %v", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Errorf(domain.KindDelivery, "callback returned status %d", resp.StatusCode)
	}
	return nil
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	interval := e.cfg.Retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if n := e.tracker.Sweep(e.cfg.Retention); n > 0 {
				e.logger.Debug("swept terminal tracking records", slog.Int("count", n))
			}
		}
	}
}

func validateCallbackURL(raw string) error {
	if raw == "" {
		return domain.NewError(domain.KindValidation, "callback_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.Errorf(domain.KindValidation, "callback_url must be an absolute http(s) URL")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
