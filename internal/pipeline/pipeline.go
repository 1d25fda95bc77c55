// Package pipeline runs the conversation graph: a dispatch loop over named
// nodes that load history, generate completions, resolve tool directives,
// shape the response, and persist the turn.
package pipeline

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chatgraph/chatgraph/internal/config"
	"github.com/chatgraph/chatgraph/internal/domain"
	"github.com/chatgraph/chatgraph/internal/history"
	"github.com/chatgraph/chatgraph/internal/provider"
	"github.com/chatgraph/chatgraph/internal/tokens"
	"github.com/chatgraph/chatgraph/internal/tools"
)

// Node names. The graph is fixed; configuration tunes its bounds, not its
// shape.
const (
	NodeLoadHistory = "load_history"
	NodeGenerate    = "generate"
	NodeCallTool    = "call_tool"
	NodePostprocess = "postprocess"
	NodeSaveHistory = "save_history"
)

// sessionShards sizes the striped lock table for per-session serialization.
const sessionShards = 64

// saveTimeout bounds the detached save_history write.
const saveTimeout = 5 * time.Second

// Transition is the control-flow result of one node: continue to a named
// node, finish the run, or abort it with a structured error.
type Transition struct {
	next     string
	terminal bool
	err      *domain.Error
}

// Goto continues the run at the named node.
func Goto(node string) Transition { return Transition{next: node} }

// Terminal ends the run successfully.
func Terminal() Transition { return Transition{terminal: true} }

// Fatal aborts the run with err.
func Fatal(err *domain.Error) Transition { return Transition{err: err} }

// Result is the outcome of a successful run.
type Result struct {
	Response string
	State    *domain.State
}

// Engine executes the conversation graph. One Engine serves all sessions;
// concurrent turns on the same session serialize on a striped lock so each
// run sees the history the previous one saved.
type Engine struct {
	store     history.Store
	providers *provider.Registry
	tools     tools.Invoker
	counter   *tokens.Counter
	cfg       config.PipelineConfig
	// historyMax is the per-session retention limit handed to the store.
	historyMax int
	logger     *slog.Logger
	tracer     trace.Tracer

	locks [sessionShards]sync.Mutex
}

func New(store history.Store, providers *provider.Registry, invoker tools.Invoker, cfg config.PipelineConfig, historyMax int, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 3
	}
	return &Engine{
		store:      store,
		providers:  providers,
		tools:      invoker,
		counter:    tokens.NewCounter(),
		cfg:        cfg,
		historyMax: historyMax,
		logger:     logger,
		tracer:     otel.Tracer("chatgraph/pipeline"),
	}
}

// Run executes one conversational turn. On success the result carries the
// final response and the full run state; on failure the returned error is a
// *domain.Error tagged with the node that failed. Exactly one of the two is
// returned.
func (e *Engine) Run(ctx context.Context, sessionID, userMessage string, params domain.ProviderParams) (*Result, error) {
	if sessionID == "" {
		return nil, domain.NewError(domain.KindValidation, "session_id is required")
	}
	if userMessage == "" {
		return nil, domain.NewError(domain.KindValidation, "message is required")
	}
	prov, err := e.providers.Get(params.Provider)
	if err != nil {
		return nil, domain.Errorf(domain.KindValidation, "unknown provider %q", params.Provider)
	}

	lock := e.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	r := &run{
		engine:   e,
		provider: prov,
		params:   params,
		state:    domain.NewState(sessionID, userMessage),
	}

	// Bounds the dispatch loop. The graph has no cycle other than the
	// capped generate/call_tool exchange.
	maxSteps := 2*e.cfg.MaxToolIterations + len(nodeOrder) + 1

	node := NodeLoadHistory
	for steps := 0; ; steps++ {
		if steps > maxSteps {
			return nil, domain.Errorf(domain.KindInternal, "pipeline did not terminate after %d steps", steps).WithNode(node)
		}

		t := e.step(ctx, node, r)
		if t.err != nil {
			r.state.Err = t.err
			return nil, t.err
		}
		if t.terminal {
			return &Result{Response: r.state.FinalResponse, State: r.state}, nil
		}
		node = t.next
	}
}

var nodeOrder = []string{NodeLoadHistory, NodeGenerate, NodeCallTool, NodePostprocess, NodeSaveHistory}

func (e *Engine) step(ctx context.Context, node string, r *run) Transition {
	ctx, span := e.tracer.Start(ctx, "pipeline."+node,
		trace.WithAttributes(attribute.String("session_id", r.state.SessionID)))
	defer span.End()

	var t Transition
	switch node {
	case NodeLoadHistory:
		t = r.loadHistory(ctx)
	case NodeGenerate:
		t = r.generate(ctx)
	case NodeCallTool:
		t = r.callTool(ctx)
	case NodePostprocess:
		t = r.postprocess(ctx)
	case NodeSaveHistory:
		t = r.saveHistory(ctx)
	default:
		t = Fatal(domain.Errorf(domain.KindInternal, "unknown node %q", node))
	}

	if t.err != nil {
		span.SetAttributes(attribute.String("error.kind", string(t.err.Kind)))
	}
	return t
}

func (e *Engine) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &e.locks[h.Sum32()%sessionShards]
}
