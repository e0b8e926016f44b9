package orchestrator

import (
	"context"
	"sync"

	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/stream"
)

// Engine serves runs for any method in a store. Orchestrators are built on
// first use and rebuilt after any store invalidation, so edited methods and
// edited prompts both reach new runs.
type Engine struct {
	store         *method.Store
	deps          Deps
	opts          []Option
	defaultMethod string

	mu    sync.Mutex
	cache map[string]cachedOrchestrator
}

type cachedOrchestrator struct {
	o   *Orchestrator
	gen uint64
}

// NewEngine creates an engine. defaultMethod is used for requests without a method id.
func NewEngine(store *method.Store, defaultMethod string, deps Deps, opts ...Option) *Engine {
	if deps.Prompts == nil {
		deps.Prompts = store
	}
	return &Engine{
		store:         store,
		deps:          deps,
		opts:          opts,
		defaultMethod: defaultMethod,
		cache:         make(map[string]cachedOrchestrator),
	}
}

// DefaultMethod returns the method id used when none is requested.
func (e *Engine) DefaultMethod() string {
	return e.defaultMethod
}

// Orchestrator returns the orchestrator for methodID, or the default method
// when methodID is empty. Load failures wrap method.ErrConfigNotFound or
// method.ErrConfigInvalid.
func (e *Engine) Orchestrator(methodID string) (*Orchestrator, error) {
	if methodID == "" {
		methodID = e.defaultMethod
	}
	gen := e.store.Generation()
	cfg, err := e.store.LoadMethod(methodID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.cache[methodID]; ok && c.o.cfg == cfg && c.gen == gen {
		return c.o, nil
	}
	o, err := New(cfg, e.deps, e.opts...)
	if err != nil {
		return nil, err
	}
	e.cache[methodID] = cachedOrchestrator{o: o, gen: gen}
	return o, nil
}

// Run executes req with methodID.
func (e *Engine) Run(ctx context.Context, methodID string, req Request) (*Result, error) {
	o, err := e.Orchestrator(methodID)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, req)
}

// Stream starts req with methodID. Only method load failures are returned as
// errors; everything after that surfaces as stream events.
func (e *Engine) Stream(ctx context.Context, methodID string, req Request) (*stream.Stream, error) {
	o, err := e.Orchestrator(methodID)
	if err != nil {
		return nil, err
	}
	return o.Stream(ctx, req), nil
}
