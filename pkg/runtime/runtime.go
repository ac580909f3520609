package runtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rari-build/rari-go/internal/errors"
	"github.com/rari-build/rari-go/pkg/loader"
)

// criticalErrorMarkers are engine failures no script can recover from. Any
// of these tears the engine down and rebuilds it; the requester gets a
// single graceful-restart error.
var criticalErrorMarkers = []string{
	"out of memory",
	"maximum call stack size exceeded",
	"unreachable code reached",
	"invalid wasm",
	"internal engine state corrupted",
	"isolate disposed",
}

// Config tunes the runtime adapter.
type Config struct {
	// ScriptTimeout bounds each script execution (default 1s).
	ScriptTimeout time.Duration

	// QueueDepth bounds the request mailbox (default 256).
	QueueDepth int

	Logger *slog.Logger
}

// Runtime is the request/response façade over a single-threaded engine.
// All operations cross a multi-producer channel to one worker goroutine;
// the worker processes one request at a time and drains the engine's job
// queue after each.
type Runtime struct {
	factory Factory
	loader  *loader.Loader

	requests chan request
	closed   chan struct{}
	stopOnce sync.Once

	scriptTimeout time.Duration
	logger        *slog.Logger

	initialized atomic.Bool

	mu        sync.Mutex
	moduleIDs map[int]string // engine module id -> specifier
}

type request struct {
	name  string
	op    func(Engine) (any, error)
	reply chan response
}

type response struct {
	value any
	err   error
}

// New creates the runtime and starts its worker goroutine.
func New(factory Factory, ld *loader.Loader, cfg Config) (*Runtime, error) {
	if cfg.ScriptTimeout == 0 {
		cfg.ScriptTimeout = time.Second
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Runtime{
		factory:       factory,
		loader:        ld,
		requests:      make(chan request, cfg.QueueDepth),
		closed:        make(chan struct{}),
		scriptTimeout: cfg.ScriptTimeout,
		logger:        cfg.Logger,
		moduleIDs:     make(map[int]string),
	}

	engine, err := factory(ld)
	if err != nil {
		return nil, errors.New("E001").Wrap(err)
	}

	go r.serve(engine)
	return r, nil
}

// serve is the worker loop. It owns the engine exclusively.
func (r *Runtime) serve(engine Engine) {
	defer func() {
		if engine != nil {
			engine.Close()
		}
	}()

	for {
		select {
		case <-r.closed:
			return
		case req := <-r.requests:
			value, err := r.runWithDeadline(engine, req)
			if err != nil && isCriticalEngineError(err) {
				r.logger.Error("critical engine error, rebuilding worker",
					"op", req.name, "err", err)
				engine.Close()

				rebuilt, buildErr := r.factory(r.loader)
				if buildErr != nil {
					r.logger.Error("engine rebuild failed", "err", buildErr)
					req.reply <- response{err: errors.New("E004").Wrap(buildErr)}
					return
				}
				engine = rebuilt
				r.initialized.Store(false)
				req.reply <- response{err: errors.New("E004").Wrap(err)}
				continue
			}
			req.reply <- response{value: value, err: err}
		}
	}
}

// runWithDeadline executes one request, interrupting the engine if it
// exceeds the script timeout, then drains the job queue.
func (r *Runtime) runWithDeadline(engine Engine, req request) (any, error) {
	timer := time.AfterFunc(r.scriptTimeout, func() {
		engine.Interrupt("script timeout")
	})
	defer func() {
		timer.Stop()
		engine.ClearInterrupt()
		engine.RunMicrotasks()
	}()

	value, err := req.op(engine)
	if err != nil && errChainContains(err, "script timeout") {
		return nil, errors.New("E003").WithDetail(req.name)
	}
	return value, err
}

// errChainContains reports whether any error in the wrap chain mentions
// the substring.
func errChainContains(err error, substr string) bool {
	for err != nil {
		if strings.Contains(err.Error(), substr) {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// submit enqueues an operation and waits for its reply or ctx cancellation.
func (r *Runtime) submit(ctx context.Context, name string, op func(Engine) (any, error)) (any, error) {
	req := request{name: name, op: op, reply: make(chan response, 1)}

	select {
	case r.requests <- req:
	case <-ctx.Done():
		return nil, errors.Newf(errors.CategoryTimeout, "runtime queue full: %s", name).Wrap(ctx.Err())
	case <-r.closed:
		return nil, errors.New("E004").WithDetail("runtime closed")
	}

	select {
	case resp := <-req.reply:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, errors.New("E003").WithDetail(name).Wrap(ctx.Err())
	}
}

// ExecuteScript evaluates a script and returns its completion value.
func (r *Runtime) ExecuteScript(ctx context.Context, name, source string) (any, error) {
	return r.submit(ctx, name, func(e Engine) (any, error) {
		v, err := e.ExecuteScript(name, source)
		if err != nil {
			return nil, errors.New("E002").WithDetail(name).Wrap(err)
		}
		return v, nil
	})
}

// ExecuteFunction calls a global function with JSON-compatible args.
func (r *Runtime) ExecuteFunction(ctx context.Context, fn string, args []any) (any, error) {
	return r.submit(ctx, fn, func(e Engine) (any, error) {
		v, err := e.CallFunction(fn, args)
		if err != nil {
			return nil, errors.New("E002").WithDetail(fn).Wrap(err)
		}
		return v, nil
	})
}

// ExecuteScriptForStreaming runs a script with an emit callback bound; the
// script pushes chunk strings through __rari_emit_chunk as it produces
// them.
func (r *Runtime) ExecuteScriptForStreaming(ctx context.Context, name, source string, chunks chan<- []byte) error {
	_, err := r.submit(ctx, name, func(e Engine) (any, error) {
		emit := func(chunk string) {
			select {
			case chunks <- []byte(chunk):
			case <-ctx.Done():
			}
		}
		if err := e.SetGlobal("__rari_emit_chunk", emit); err != nil {
			return nil, errors.New("E002").Wrap(err)
		}
		v, err := e.ExecuteScript(name, source)
		if err != nil {
			return nil, errors.New("E002").WithDetail(name).Wrap(err)
		}
		return v, nil
	})
	return err
}

// LoadESModule loads (without evaluating) a module graph and returns the
// engine module id.
func (r *Runtime) LoadESModule(ctx context.Context, specifier string) (int, error) {
	v, err := r.submit(ctx, "load:"+specifier, func(e Engine) (any, error) {
		id, err := e.LoadModule(specifier)
		if err != nil {
			return nil, errors.New("E023").WithDetail(specifier).Wrap(err)
		}
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	id := v.(int)

	r.mu.Lock()
	r.moduleIDs[id] = specifier
	r.mu.Unlock()
	return id, nil
}

// EvaluateModule runs a loaded module. A module the engine already
// evaluated is not an error: the adapter converts it into a synthetic
// success and marks the module evaluated in the loader.
func (r *Runtime) EvaluateModule(ctx context.Context, moduleID int) (any, error) {
	r.mu.Lock()
	specifier := r.moduleIDs[moduleID]
	r.mu.Unlock()

	v, err := r.submit(ctx, "evaluate:"+specifier, func(e Engine) (any, error) {
		return e.EvaluateModule(moduleID)
	})
	if err != nil {
		if strings.Contains(err.Error(), "already evaluated") {
			if specifier != "" {
				r.loader.MarkEvaluated(specifier)
			}
			return map[string]any{"alreadyEvaluated": true}, nil
		}
		return nil, errors.New("E005").WithDetail(specifier).Wrap(err)
	}

	if specifier != "" {
		r.loader.MarkEvaluated(specifier)
	}
	return v, nil
}

// GetModuleNamespace returns the exports of an evaluated module.
func (r *Runtime) GetModuleNamespace(ctx context.Context, moduleID int) (any, error) {
	return r.submit(ctx, "namespace", func(e Engine) (any, error) {
		v, err := e.ModuleNamespace(moduleID)
		if err != nil {
			return nil, errors.New("E005").Wrap(err)
		}
		return v, nil
	})
}

// AddModuleToLoaderOnly stores module code without touching the engine's
// ES-module system. This is the explicit HMR operating mode: reloaded
// component sources go through the loader (and script-level re-import),
// never through module re-evaluation, which the engine forbids.
func (r *Runtime) AddModuleToLoaderOnly(specifier, code string) {
	r.loader.SetModuleCode(specifier, code)
}

// ClearModuleLoaderCaches drops every cached version of a component and
// detaches its runtime registration.
func (r *Runtime) ClearModuleLoaderCaches(ctx context.Context, componentID string) error {
	r.loader.ClearComponentCaches(componentID)
	script := "if (globalThis.__rari_components) { delete globalThis.__rari_components[" +
		jsString(componentID) + "]; } null"
	_, err := r.ExecuteScript(ctx, "<clear_component_"+componentID+">", script)
	return err
}

// SetRequestContext publishes the per-request context to the engine before
// a render.
func (r *Runtime) SetRequestContext(ctx context.Context, rc RequestContext) error {
	_, err := r.submit(ctx, "set_request_context", func(e Engine) (any, error) {
		return nil, e.SetGlobal("__rari_request_context", rc.asGlobal())
	})
	return err
}

// Loader exposes the module loader the runtime serves from.
func (r *Runtime) Loader() *loader.Loader {
	return r.loader
}

// MarkInitialized records that the runtime environment verified its
// globals.
func (r *Runtime) MarkInitialized() {
	r.initialized.Store(true)
}

// IsInitialized reports whether the environment bootstrap completed.
func (r *Runtime) IsInitialized() bool {
	return r.initialized.Load()
}

// Close stops the worker. In-flight requests receive closed-runtime errors.
func (r *Runtime) Close() {
	r.stopOnce.Do(func() {
		close(r.closed)
	})
}

func isCriticalEngineError(err error) bool {
	for err != nil {
		msg := strings.ToLower(err.Error())
		for _, marker := range criticalErrorMarkers {
			if strings.Contains(msg, marker) {
				return true
			}
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func jsString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
