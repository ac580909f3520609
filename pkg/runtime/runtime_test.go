package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	rarierrors "github.com/rari-build/rari-go/internal/errors"
	"github.com/rari-build/rari-go/pkg/loader"
)

// fakeEngine scripts its responses for adapter tests.
type fakeEngine struct {
	scripts     map[string]any
	failWith    error
	evalErr     error
	interrupted atomic.Bool
	closed      bool
	globals     map[string]any
	nextModule  int
	slow        time.Duration
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{scripts: map[string]any{}, globals: map[string]any{}}
}

func (f *fakeEngine) ExecuteScript(name, source string) (any, error) {
	if f.slow > 0 {
		deadline := time.Now().Add(f.slow)
		for time.Now().Before(deadline) {
			if f.interrupted.Load() {
				return nil, errors.New("script timeout")
			}
			time.Sleep(time.Millisecond)
		}
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	if v, ok := f.scripts[name]; ok {
		return v, nil
	}
	return "ok", nil
}

func (f *fakeEngine) CallFunction(fn string, args []any) (any, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return fmt.Sprintf("%s(%d args)", fn, len(args)), nil
}

func (f *fakeEngine) LoadModule(specifier string) (int, error) {
	f.nextModule++
	return f.nextModule, nil
}

func (f *fakeEngine) EvaluateModule(id int) (any, error) {
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	return map[string]any{"evaluated": true}, nil
}

func (f *fakeEngine) ModuleNamespace(id int) (any, error) { return map[string]any{}, nil }

func (f *fakeEngine) SetGlobal(name string, value any) error {
	f.globals[name] = value
	return nil
}

func (f *fakeEngine) Interrupt(reason string) { f.interrupted.Store(true) }
func (f *fakeEngine) ClearInterrupt()         { f.interrupted.Store(false) }
func (f *fakeEngine) RunMicrotasks()          {}
func (f *fakeEngine) Close()                  { f.closed = true }

func newTestRuntime(t *testing.T, engines ...*fakeEngine) (*Runtime, *loader.Loader) {
	t.Helper()
	ld := loader.New()
	i := 0
	factory := func(sources SourceResolver) (Engine, error) {
		if i >= len(engines) {
			t.Fatal("factory called more times than engines provided")
		}
		e := engines[i]
		i++
		return e, nil
	}
	rt, err := New(factory, ld, Config{ScriptTimeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rt.Close)
	return rt, ld
}

func TestExecuteScript(t *testing.T) {
	eng := newFakeEngine()
	eng.scripts["<hello>"] = map[string]any{"ok": true}
	rt, _ := newTestRuntime(t, eng)

	v, err := rt.ExecuteScript(context.Background(), "<hello>", "1+1")
	if err != nil {
		t.Fatal(err)
	}
	m := v.(map[string]any)
	if m["ok"] != true {
		t.Errorf("v = %v", v)
	}
}

func TestExecuteScriptError(t *testing.T) {
	eng := newFakeEngine()
	eng.failWith = errors.New("ReferenceError: boom")
	rt, _ := newTestRuntime(t, eng)

	_, err := rt.ExecuteScript(context.Background(), "<bad>", "boom()")
	if err == nil {
		t.Fatal("want error")
	}
	if !rarierrors.IsCategory(err, rarierrors.CategoryScriptExecution) {
		t.Errorf("category = %v", rarierrors.CategoryOf(err))
	}
}

func TestScriptTimeout(t *testing.T) {
	eng := newFakeEngine()
	eng.slow = 2 * time.Second
	rt, _ := newTestRuntime(t, eng)

	start := time.Now()
	_, err := rt.ExecuteScript(context.Background(), "<slow>", "while(true){}")
	if err == nil {
		t.Fatal("want timeout error")
	}
	if !rarierrors.IsCategory(err, rarierrors.CategoryTimeout) {
		t.Errorf("category = %v", rarierrors.CategoryOf(err))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestCriticalErrorRebuildsEngine(t *testing.T) {
	first := newFakeEngine()
	first.failWith = errors.New("Maximum call stack size exceeded")
	second := newFakeEngine()
	second.scripts["<after>"] = "recovered"
	rt, _ := newTestRuntime(t, first, second)

	_, err := rt.ExecuteScript(context.Background(), "<crash>", "recurse()")
	if err == nil {
		t.Fatal("want restart error")
	}
	if !rarierrors.IsCategory(err, rarierrors.CategoryRestart) {
		t.Errorf("category = %v", rarierrors.CategoryOf(err))
	}
	if !first.closed {
		t.Error("crashed engine should be closed")
	}

	v, err := rt.ExecuteScript(context.Background(), "<after>", "1")
	if err != nil {
		t.Fatalf("post-rebuild script: %v", err)
	}
	if v != "recovered" {
		t.Errorf("v = %v", v)
	}
}

func TestAlreadyEvaluatedIsNotAnError(t *testing.T) {
	eng := newFakeEngine()
	rt, ld := newTestRuntime(t, eng)

	spec := loader.ComponentSpecifier("Page")
	ld.SetModuleCode(spec, "export default 1")

	id, err := rt.LoadESModule(context.Background(), spec)
	if err != nil {
		t.Fatal(err)
	}

	eng.evalErr = fmt.Errorf("module %s already evaluated", spec)
	v, err := rt.EvaluateModule(context.Background(), id)
	if err != nil {
		t.Fatalf("already-evaluated should convert to success: %v", err)
	}
	m := v.(map[string]any)
	if m["alreadyEvaluated"] != true {
		t.Errorf("v = %v", v)
	}
	if !ld.IsEvaluated(spec) {
		t.Error("loader should mark module evaluated")
	}
}

func TestSetRequestContext(t *testing.T) {
	eng := newFakeEngine()
	rt, _ := newTestRuntime(t, eng)

	rc := RequestContext{ID: "req-1", Pathname: "/about", Headers: map[string]string{"x-render-mode": "Ssr"}}
	if err := rt.SetRequestContext(context.Background(), rc); err != nil {
		t.Fatal(err)
	}

	g, ok := eng.globals["__rari_request_context"].(map[string]any)
	if !ok {
		t.Fatalf("global not set: %v", eng.globals)
	}
	if g["pathname"] != "/about" || g["id"] != "req-1" {
		t.Errorf("context global = %v", g)
	}
}

func TestExecuteScriptForStreaming(t *testing.T) {
	eng := newFakeEngine()
	rt, _ := newTestRuntime(t, eng)

	chunks := make(chan []byte, 4)
	err := rt.ExecuteScriptForStreaming(context.Background(), "<stream>", "emit()", chunks)
	if err != nil {
		t.Fatal(err)
	}

	emit, ok := eng.globals["__rari_emit_chunk"].(func(string))
	if !ok {
		t.Fatal("emit callback not bound")
	}
	emit("row-1\n")
	select {
	case chunk := <-chunks:
		if string(chunk) != "row-1\n" {
			t.Errorf("chunk = %q", chunk)
		}
	default:
		t.Error("chunk not delivered")
	}
}

func TestAddModuleToLoaderOnly(t *testing.T) {
	eng := newFakeEngine()
	rt, ld := newTestRuntime(t, eng)

	spec := loader.ComponentSpecifier("Hot")
	rt.AddModuleToLoaderOnly(spec, "v1")
	rt.AddModuleToLoaderOnly(spec, "v2")

	if !ld.IsHMRModule(spec) {
		t.Error("second write should flag HMR")
	}
	src, _ := ld.GetModule(spec)
	if src != "v2" {
		t.Errorf("src = %q", src)
	}
}

func TestInitializedFlag(t *testing.T) {
	eng := newFakeEngine()
	rt, _ := newTestRuntime(t, eng)
	if rt.IsInitialized() {
		t.Error("fresh runtime should not be initialized")
	}
	rt.MarkInitialized()
	if !rt.IsInitialized() {
		t.Error("MarkInitialized should stick")
	}
}

func TestCallFunction(t *testing.T) {
	eng := newFakeEngine()
	rt, _ := newTestRuntime(t, eng)
	v, err := rt.ExecuteFunction(context.Background(), "ServerFunctions.resolve", []any{"fn1", "default"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(v.(string), "ServerFunctions.resolve") {
		t.Errorf("v = %v", v)
	}
}
