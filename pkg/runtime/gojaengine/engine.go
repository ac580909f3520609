// Package gojaengine implements the runtime.Engine interface on top of the
// goja ECMAScript engine. ES modules are lowered to CommonJS through
// esbuild and evaluated inside a small module cache, which sidesteps
// re-evaluation restrictions during hot reload.
package gojaengine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/evanw/esbuild/pkg/api"

	"github.com/rari-build/rari-go/pkg/runtime"
)

// module is one loaded module instance.
type module struct {
	id        int
	specifier string
	source    string
	exports   *goja.Object
	evaluated bool
}

// Engine executes scripts on a goja VM. It is single-threaded; the runtime
// adapter owns it from one goroutine.
type Engine struct {
	vm      *goja.Runtime
	sources runtime.SourceResolver
	logger  *slog.Logger

	modules    map[string]*module
	modulesByID map[int]*module
	nextModule int

	timerMu sync.Mutex
	timers  []timer
	timerSeq int
}

type timer struct {
	id  int
	due time.Time
	fn  goja.Callable
}

// New builds an engine over the given module sources. It satisfies
// runtime.Factory.
func New(sources runtime.SourceResolver) (runtime.Engine, error) {
	e := &Engine{
		vm:          goja.New(),
		sources:     sources,
		logger:      slog.Default(),
		modules:     make(map[string]*module),
		modulesByID: make(map[int]*module),
	}
	e.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	registry := require.NewRegistry()
	registry.Enable(e.vm)
	console.Enable(e.vm)

	if err := e.installHostGlobals(); err != nil {
		return nil, err
	}
	return e, nil
}

// installHostGlobals binds the handful of host functions scripts expect.
func (e *Engine) installHostGlobals() error {
	if err := e.vm.Set("setTimeout", e.setTimeout); err != nil {
		return err
	}
	if err := e.vm.Set("clearTimeout", e.clearTimeout); err != nil {
		return err
	}
	if err := e.vm.Set("queueMicrotask", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			e.timerMu.Lock()
			e.timers = append(e.timers, timer{id: e.nextTimerID(), fn: fn})
			e.timerMu.Unlock()
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}
	return e.vm.Set("__rari_import", e.jsImport)
}

func (e *Engine) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return goja.Undefined()
	}
	delayMs := call.Argument(1).ToFloat()

	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	id := e.nextTimerID()
	e.timers = append(e.timers, timer{
		id:  id,
		due: time.Now().Add(time.Duration(delayMs) * time.Millisecond),
		fn:  fn,
	})
	return e.vm.ToValue(id)
}

func (e *Engine) clearTimeout(call goja.FunctionCall) goja.Value {
	id := int(call.Argument(0).ToInteger())

	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	for i, t := range e.timers {
		if t.id == id {
			e.timers = append(e.timers[:i], e.timers[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

func (e *Engine) nextTimerID() int {
	e.timerSeq++
	return e.timerSeq
}

// ExecuteScript implements runtime.Engine.
func (e *Engine) ExecuteScript(name, source string) (any, error) {
	v, err := e.vm.RunScript(name, source)
	if err != nil {
		return nil, normalizeError(err)
	}
	return export(v), nil
}

// CallFunction implements runtime.Engine. Dotted paths traverse globals.
func (e *Engine) CallFunction(fn string, args []any) (any, error) {
	var current goja.Value = e.vm.GlobalObject()
	for _, part := range strings.Split(fn, ".") {
		obj := current.ToObject(e.vm)
		if obj == nil {
			return nil, fmt.Errorf("function %q not found", fn)
		}
		current = obj.Get(part)
		if current == nil || goja.IsUndefined(current) {
			return nil, fmt.Errorf("function %q not found", fn)
		}
	}

	callable, ok := goja.AssertFunction(current)
	if !ok {
		return nil, fmt.Errorf("%q is not callable", fn)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = e.vm.ToValue(a)
	}

	v, err := callable(goja.Undefined(), jsArgs...)
	if err != nil {
		return nil, normalizeError(err)
	}
	return export(v), nil
}

// LoadModule implements runtime.Engine. The module graph is fetched and
// transformed eagerly; evaluation is deferred to EvaluateModule.
func (e *Engine) LoadModule(specifier string) (int, error) {
	resolved, err := e.sources.Resolve(specifier, "")
	if err != nil {
		return 0, err
	}

	if m, ok := e.modules[resolved]; ok {
		return m.id, nil
	}

	source, err := e.sources.Load(resolved)
	if err != nil {
		return 0, err
	}

	lowered, err := lowerToCommonJS(resolved, source)
	if err != nil {
		return 0, err
	}

	e.nextModule++
	m := &module{id: e.nextModule, specifier: resolved, source: lowered}
	e.modules[resolved] = m
	e.modulesByID[m.id] = m
	return m.id, nil
}

// EvaluateModule implements runtime.Engine. Re-evaluation is refused the
// way real module systems refuse it; callers route hot updates through the
// loader instead.
func (e *Engine) EvaluateModule(id int) (any, error) {
	m, ok := e.modulesByID[id]
	if !ok {
		return nil, fmt.Errorf("unknown module id %d", id)
	}
	if m.evaluated {
		return nil, fmt.Errorf("module %s already evaluated", m.specifier)
	}
	if err := e.evaluate(m); err != nil {
		return nil, err
	}
	return map[string]any{"specifier": m.specifier, "evaluated": true}, nil
}

// evaluate runs a module body inside a CommonJS wrapper whose require
// resolves through the engine's sources.
func (e *Engine) evaluate(m *module) error {
	exports := e.vm.NewObject()
	moduleObj := e.vm.NewObject()
	if err := moduleObj.Set("exports", exports); err != nil {
		return err
	}

	requireFn := func(spec string) goja.Value {
		v, err := e.requireModule(spec, m.specifier)
		if err != nil {
			panic(e.vm.NewGoError(err))
		}
		return v
	}

	wrapper := fmt.Sprintf("(function(module, exports, require) {\n%s\n})", m.source)
	fnVal, err := e.vm.RunScript(m.specifier, wrapper)
	if err != nil {
		return normalizeError(err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return fmt.Errorf("module wrapper for %s did not compile to a function", m.specifier)
	}

	if _, err := fn(goja.Undefined(), moduleObj, exports, e.vm.ToValue(requireFn)); err != nil {
		return normalizeError(err)
	}

	final := moduleObj.Get("exports")
	if obj, ok := final.(*goja.Object); ok {
		m.exports = obj
	} else {
		wrapped := e.vm.NewObject()
		_ = wrapped.Set("default", final)
		m.exports = wrapped
	}
	m.evaluated = true
	return nil
}

// requireModule loads and evaluates a dependency on demand.
func (e *Engine) requireModule(spec, referrer string) (goja.Value, error) {
	resolved, err := e.sources.Resolve(spec, referrer)
	if err != nil {
		return nil, err
	}

	if m, ok := e.modules[resolved]; ok {
		if !m.evaluated {
			if err := e.evaluate(m); err != nil {
				return nil, err
			}
		}
		return m.exports, nil
	}

	source, err := e.sources.Load(resolved)
	if err != nil {
		return nil, err
	}
	lowered, err := lowerToCommonJS(resolved, source)
	if err != nil {
		return nil, err
	}

	e.nextModule++
	m := &module{id: e.nextModule, specifier: resolved, source: lowered}
	e.modules[resolved] = m
	e.modulesByID[m.id] = m
	if err := e.evaluate(m); err != nil {
		return nil, err
	}
	return m.exports, nil
}

// jsImport backs dynamic import() in lowered modules.
func (e *Engine) jsImport(spec, referrer string) goja.Value {
	v, err := e.requireModule(spec, referrer)
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	return v
}

// ModuleNamespace implements runtime.Engine.
func (e *Engine) ModuleNamespace(id int) (any, error) {
	m, ok := e.modulesByID[id]
	if !ok {
		return nil, fmt.Errorf("unknown module id %d", id)
	}
	if !m.evaluated || m.exports == nil {
		return nil, fmt.Errorf("module %s not evaluated", m.specifier)
	}
	return m.exports.Export(), nil
}

// SetGlobal implements runtime.Engine.
func (e *Engine) SetGlobal(name string, value any) error {
	return e.vm.Set(name, value)
}

// Interrupt implements runtime.Engine.
func (e *Engine) Interrupt(reason string) {
	e.vm.Interrupt(reason)
}

// ClearInterrupt implements runtime.Engine.
func (e *Engine) ClearInterrupt() {
	e.vm.ClearInterrupt()
}

// RunMicrotasks implements runtime.Engine: runs every due timer and queued
// microtask. goja drains promise reactions on its own when the stack
// empties, so only host-scheduled work lives here.
func (e *Engine) RunMicrotasks() {
	for {
		e.timerMu.Lock()
		now := time.Now()
		idx := -1
		for i, t := range e.timers {
			if t.due.IsZero() || !t.due.After(now) {
				idx = i
				break
			}
		}
		if idx == -1 {
			e.timerMu.Unlock()
			return
		}
		t := e.timers[idx]
		e.timers = append(e.timers[:idx], e.timers[idx+1:]...)
		e.timerMu.Unlock()

		if _, err := t.fn(goja.Undefined()); err != nil {
			e.logger.Warn("timer callback failed", "err", err)
		}
	}
}

// Close implements runtime.Engine.
func (e *Engine) Close() {
	e.vm.Interrupt("engine closed")
}

// lowerToCommonJS transforms an ES module to CommonJS so it can run inside
// the wrapper.
func lowerToCommonJS(specifier, source string) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatCommonJS,
		Target:     api.ES2020,
		Sourcefile: specifier,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			msgs = append(msgs, m.Text)
		}
		sort.Strings(msgs)
		return "", fmt.Errorf("lowering %s: %s", specifier, strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}

// export converts a goja value to plain Go data.
func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

// normalizeError flattens goja exception types into plain errors.
func normalizeError(err error) error {
	var exc *goja.Exception
	if ok := asException(err, &exc); ok {
		return fmt.Errorf("%s", exc.Error())
	}
	return err
}

func asException(err error, target **goja.Exception) bool {
	if exc, ok := err.(*goja.Exception); ok {
		*target = exc
		return true
	}
	return false
}
