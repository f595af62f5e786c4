// Package engine wires every component into a single facade and exposes
// the tool-call surface from spec Section 6 as one dispatch entry point.
// Nothing outside this package constructs components directly; cmd/justmemoryd
// only ever calls Boot and Call.
package engine

import (
	"context"
	"sync"

	"justmemory/internal/briefing"
	"justmemory/internal/config"
	"justmemory/internal/consolidator"
	"justmemory/internal/contradiction"
	"justmemory/internal/errs"
	"justmemory/internal/gateway"
	"justmemory/internal/graph"
	"justmemory/internal/logging"
	"justmemory/internal/memory"
	"justmemory/internal/scheduler"
	"justmemory/internal/search"
	"justmemory/internal/session"
	"justmemory/internal/store"
	"justmemory/internal/vectorstore"
)

// Engine holds every component and the shared config/session identity a
// single process instance runs with.
type Engine struct {
	cfg *config.Config

	db     *store.Store
	vec    *vectorstore.Store
	gw     *gateway.Gateway
	mem    *memory.Service
	contra *contradiction.Engine
	grph   *graph.Service
	srch   *search.Service
	sess   *session.Service
	cons   *consolidator.Service
	sched  *scheduler.Service
	brief  *briefing.Service

	cancelBackground context.CancelFunc
	bgWG             sync.WaitGroup

	projMu         sync.Mutex
	currentProject string
}

// Boot loads cfg, opens every component against it, seeds the default
// entity types, starts the Consolidator's background loop, and returns a
// ready Engine. Callers must call Close when done.
func Boot(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.Wrap(errs.SchemaError, err, "validate config")
	}
	if err := logging.Initialize(cfg.DataDir, cfg.Logging.DebugMode, cfg.Logging.Categories, cfg.Logging.Level, cfg.Logging.JSONFormat); err != nil {
		return nil, errs.Wrap(errs.SchemaError, err, "initialize logging")
	}

	db, err := store.OpenWithConcurrency(cfg.DBPath(), cfg.Writer.MaxConcurrency)
	if err != nil {
		return nil, errs.Wrap(errs.SchemaError, err, "open storage layer")
	}

	vec, err := vectorstore.New(ctx, db, cfg)
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.SchemaError, err, "open vector store")
	}

	gw := gateway.New(ctx, cfg)

	mem := memory.NewService(db, vec, gw)
	contra := contradiction.New(db, gw)
	mem.SetContradictionHook(contra)

	grph, err := graph.New(db)
	if err != nil {
		db.Close()
		return nil, errs.Wrap(errs.SchemaError, err, "build graph layer")
	}
	if err := grph.SeedDefaultEntityTypes(ctx); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.SchemaError, err, "seed default entity types")
	}

	srch := search.New(db, vec, gw)
	sess := session.New(db)
	sched := scheduler.New(db)
	brief := briefing.New(db, sess)
	cons := consolidator.New(db, contra, cfg.Consolidator)

	bgCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg: cfg, db: db, vec: vec, gw: gw, mem: mem, contra: contra,
		grph: grph, srch: srch, sess: sess, cons: cons, sched: sched, brief: brief,
		cancelBackground: cancel,
		currentProject:   store.GlobalProject,
	}
	e.bgWG.Add(1)
	go func() {
		defer e.bgWG.Done()
		cons.Run(bgCtx)
	}()

	logging.Boot("justmemory engine booted (data_dir=%s, session=%s)", cfg.DataDir, sess.SessionID())
	return e, nil
}

// Close stops the background consolidation loop and closes the storage
// layer. Safe to call once; idempotent on the consolidator side since Run
// simply returns when its context is cancelled.
func (e *Engine) Close() error {
	e.cancelBackground()
	e.bgWG.Wait()
	logging.CloseAll()
	return e.db.Close()
}

// CurrentProject returns the project a call uses when it omits the
// "project" parameter.
func (e *Engine) CurrentProject() string {
	e.projMu.Lock()
	defer e.projMu.Unlock()
	return e.currentProject
}

// SetCurrentProject changes the default project for calls that omit
// "project". It does not touch any stored data; project scoping is still
// explicit per call for anything that passes "project".
func (e *Engine) SetCurrentProject(project string) {
	e.projMu.Lock()
	e.currentProject = project
	e.projMu.Unlock()
}

// Touch records caller activity against the Consolidator's idle clock.
// Call() does this on every call so idle-triggered sweeps never fire mid-burst.
func (e *Engine) Touch() {
	e.cons.Touch()
}

// ErrorResponse is the shape every Call failure marshals to, per spec
// Section 6: a stable kind plus a short message and any offending fields.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// AsErrorResponse converts err into the wire error shape. Non-*errs.Error
// values (should not happen across component boundaries) are reported as
// InvariantViolation so a caller bug in this package never leaks a raw Go
// error string without a stable kind.
func AsErrorResponse(err error) ErrorResponse {
	kind := errs.KindOf(err)
	if kind == "" {
		return ErrorResponse{Error: string(errs.InvariantViolation), Message: err.Error()}
	}
	var fields map[string]any
	var e *errs.Error
	if as, ok := err.(*errs.Error); ok {
		e = as
	}
	if e != nil {
		fields = e.Fields
	}
	return ErrorResponse{Error: string(kind), Message: err.Error(), Fields: fields}
}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", errs.New(errs.ValidationError, "missing required parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errs.New(errs.ValidationError, "parameter %q must be a string", key)
	}
	return s, nil
}

func optString(params map[string]any, key, def string) string {
	v, ok := params[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func optFloat(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func optInt(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func optBool(params map[string]any, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func optStringSlice(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func optStringMap(params map[string]any, key string) map[string]any {
	v, ok := params[key]
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}

func unknownTool(tool string) error {
	return errs.New(errs.ValidationError, "unknown tool %q", tool)
}
