package reload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rari-build/rari-go/pkg/loader"
	"github.com/rari-build/rari-go/pkg/registry"
)

// fakeRuntime records reload interactions.
type fakeRuntime struct {
	mu           sync.Mutex
	ld           *loader.Loader
	scripts      []string
	failRegister atomic.Bool
	cleared      []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{ld: loader.New()}
}

func (f *fakeRuntime) AddModuleToLoaderOnly(specifier, code string) {
	f.ld.SetModuleCode(specifier, code)
}

func (f *fakeRuntime) ClearModuleLoaderCaches(ctx context.Context, componentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, componentID)
	f.ld.ClearComponentCaches(componentID)
	return nil
}

func (f *fakeRuntime) ExecuteScript(ctx context.Context, name, source string) (any, error) {
	f.mu.Lock()
	f.scripts = append(f.scripts, name)
	f.mu.Unlock()
	if f.failRegister.Load() && strings.HasPrefix(name, "<reload_") {
		return `{"success":false,"error":"injected failure"}`, nil
	}
	if strings.HasPrefix(name, "<verify_") {
		return `{"ok":true}`, nil
	}
	return `{"success":true}`, nil
}

func (f *fakeRuntime) Loader() *loader.Loader { return f.ld }

func (f *fakeRuntime) scriptCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.scripts {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestController(t *testing.T, rt *fakeRuntime) (*Controller, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	cfg := DefaultConfig()
	cfg.DebounceDelay = 20 * time.Millisecond
	cfg.ReloadTimeout = 2 * time.Second
	c := NewController(cfg, rt, reg)
	c.artifactPollInterval = 5 * time.Millisecond
	c.artifactPollCeiling = 100 * time.Millisecond
	return c, reg
}

func TestReloadModuleSuccess(t *testing.T) {
	rt := newFakeRuntime()
	c, reg := newTestController(t, rt)
	reg.Register("Widget", "old", "old", nil)

	path := writeSource(t, "Widget.js", "module.exports.default = function Widget() {}")
	if err := c.ReloadModule(context.Background(), "Widget", path); err != nil {
		t.Fatalf("ReloadModule: %v", err)
	}

	// Loader got a versioned copy plus the canonical specifier.
	if got := rt.ld.VersionedSpecifier("Widget"); !strings.Contains(got, "?v=") {
		t.Errorf("versioned specifier = %s", got)
	}
	src, ok := rt.ld.GetModule(loader.ComponentSpecifier("Widget"))
	if !ok || !strings.Contains(src, "function Widget") {
		t.Errorf("canonical module = %q, %v", src, ok)
	}

	entry, _ := reg.Get("Widget")
	if entry.State != registry.StateLoaded {
		t.Errorf("state = %v", entry.State)
	}
	if entry.Version != 2 {
		t.Errorf("version = %d, want bumped to 2", entry.Version)
	}

	stats := c.Stats()
	if stats.Total != 1 || stats.Succeeded != 1 {
		t.Errorf("stats = %+v", stats)
	}
	history := c.History()
	if len(history) != 1 || !history[0].Success {
		t.Errorf("history = %+v", history)
	}
}

func TestReloadIdenticalContentOnlyBumpsVersion(t *testing.T) {
	rt := newFakeRuntime()
	c, reg := newTestController(t, rt)
	reg.Register("Widget", "old", "old", nil)

	path := writeSource(t, "Widget.js", "module.exports.default = function Widget() {}")
	if err := c.ReloadModule(context.Background(), "Widget", path); err != nil {
		t.Fatal(err)
	}
	before, _ := reg.Get("Widget")

	if err := c.ReloadModule(context.Background(), "Widget", path); err != nil {
		t.Fatal(err)
	}
	after, _ := reg.Get("Widget")

	if after.Version != before.Version+1 {
		t.Errorf("version %d -> %d, want +1", before.Version, after.Version)
	}
	if after.Source != before.Source || after.TransformedSource != before.TransformedSource {
		t.Error("identical reload should leave sources unchanged")
	}
	if !after.LastReload.After(before.LastReload) && !after.LastReload.Equal(before.LastReload) {
		t.Error("reload timestamp should advance")
	}
}

func TestReloadRetriesThenFails(t *testing.T) {
	rt := newFakeRuntime()
	rt.failRegister.Store(true)
	c, reg := newTestController(t, rt)
	reg.Register("Widget", "old", "old", nil)

	path := writeSource(t, "Widget.js", "module.exports.default = 42")
	err := c.ReloadModule(context.Background(), "Widget", path)
	if err == nil {
		t.Fatal("want failure")
	}

	if n := rt.scriptCount("<reload_Widget>"); n != c.cfg.MaxRetryAttempts {
		t.Errorf("attempts = %d, want %d", n, c.cfg.MaxRetryAttempts)
	}
	entry, _ := reg.Get("Widget")
	if entry.RetryAttempts != 1 {
		t.Errorf("consecutive failures = %d", entry.RetryAttempts)
	}
	if c.Stats().Failed != 1 {
		t.Errorf("stats = %+v", c.Stats())
	}
}

func TestReloadShortCircuitsAfterConsecutiveFailures(t *testing.T) {
	rt := newFakeRuntime()
	rt.failRegister.Store(true)
	c, reg := newTestController(t, rt)
	reg.Register("Widget", "old", "old", nil)

	path := writeSource(t, "Widget.js", "bad")
	for i := 0; i < c.cfg.MaxRetryAttempts; i++ {
		_ = c.ReloadModule(context.Background(), "Widget", path)
	}

	before := rt.scriptCount("<reload_Widget>")
	_ = c.ReloadModule(context.Background(), "Widget", path)
	if after := rt.scriptCount("<reload_Widget>"); after != before {
		t.Error("short-circuited reload should not touch the runtime")
	}

	// A successful reload (next file change fixes the source) resets the
	// counter.
	rt.failRegister.Store(false)
	reg.ResetRetries("Widget")
	if err := c.ReloadModule(context.Background(), "Widget", path); err != nil {
		t.Fatalf("recovered reload: %v", err)
	}
	entry, _ := reg.Get("Widget")
	if entry.RetryAttempts != 0 {
		t.Errorf("retries after recovery = %d", entry.RetryAttempts)
	}
}

func TestDebounceCoalescesRapidChanges(t *testing.T) {
	rt := newFakeRuntime()
	c, reg := newTestController(t, rt)
	reg.Register("Widget", "old", "old", nil)

	path := writeSource(t, "Widget.js", "module.exports.default = function W() {}")
	for i := 0; i < 5; i++ {
		c.ReloadModuleDebounced("Widget", path)
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)
	if n := rt.scriptCount("<reload_Widget>"); n != 1 {
		t.Errorf("reload ran %d times, want 1", n)
	}
}

func TestWaitForFreshArtifact(t *testing.T) {
	rt := newFakeRuntime()
	c, reg := newTestController(t, rt)
	reg.Register("Widget", "old", "old", nil)

	dir := t.TempDir()
	source := filepath.Join(dir, "Widget.tsx")
	artifact := filepath.Join(dir, "Widget.js")
	if err := os.WriteFile(source, []byte("const x = 1"), 0644); err != nil {
		t.Fatal(err)
	}

	c.WithArtifactResolver(func(_, _ string) string { return artifact })

	// Artifact appears shortly after the reload starts.
	go func() {
		time.Sleep(30 * time.Millisecond)
		os.WriteFile(artifact, []byte("module.exports.default = function W() {}"), 0644)
	}()

	if err := c.ReloadModule(context.Background(), "Widget", source); err != nil {
		t.Fatalf("ReloadModule: %v", err)
	}
}

func TestStaleArtifactTimesOut(t *testing.T) {
	rt := newFakeRuntime()
	c, reg := newTestController(t, rt)
	reg.Register("Widget", "old", "old", nil)

	dir := t.TempDir()
	artifact := filepath.Join(dir, "Widget.js")
	if err := os.WriteFile(artifact, []byte("old build"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	os.Chtimes(artifact, old, old)

	source := filepath.Join(dir, "Widget.tsx")
	if err := os.WriteFile(source, []byte("const x = 1"), 0644); err != nil {
		t.Fatal(err)
	}

	c.WithArtifactResolver(func(_, _ string) string { return artifact })
	if err := c.ReloadModule(context.Background(), "Widget", source); err == nil {
		t.Fatal("stale artifact should fail the reload")
	}
}

func TestBatchReloadBothModes(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		rt := newFakeRuntime()
		reg := registry.New()
		cfg := DefaultConfig()
		cfg.ParallelReloads = parallel
		cfg.ReloadTimeout = 2 * time.Second
		c := NewController(cfg, rt, reg)
		c.artifactPollInterval = 5 * time.Millisecond
		c.artifactPollCeiling = 100 * time.Millisecond

		reg.Register("A", "s", "t", nil)
		reg.Register("B", "s", "t", nil)
		pathA := writeSource(t, "A.js", "module.exports.default = function A() {}")
		pathB := writeSource(t, "B.js", "module.exports.default = function B() {}")

		err := c.ReloadModulesBatch(context.Background(), []Request{
			{ComponentID: "A", FilePath: pathA},
			{ComponentID: "B", FilePath: pathB},
		})
		if err != nil {
			t.Fatalf("parallel=%v: %v", parallel, err)
		}
		if c.Stats().Succeeded != 2 {
			t.Errorf("parallel=%v stats = %+v", parallel, c.Stats())
		}
	}
}

func TestHistoryBounded(t *testing.T) {
	ring := newHistoryRing(3)
	for i := 0; i < 10; i++ {
		ring.add(HistoryEntry{ComponentID: "C", Success: true})
	}
	if got := len(ring.snapshot()); got != 3 {
		t.Errorf("history length = %d, want 3", got)
	}
}

func TestQueue(t *testing.T) {
	rt := newFakeRuntime()
	c, _ := newTestController(t, rt)

	c.Enqueue(Request{ComponentID: "A", FilePath: "a.js"})
	c.Enqueue(Request{ComponentID: "B", FilePath: "b.js"})
	if c.QueueSize() != 2 {
		t.Errorf("queue size = %d", c.QueueSize())
	}
	req, ok := c.Dequeue()
	if !ok || req.ComponentID != "A" {
		t.Errorf("dequeue = %+v, %v", req, ok)
	}
}

func TestDisabledControllerIsInert(t *testing.T) {
	rt := newFakeRuntime()
	reg := registry.New()
	cfg := DefaultConfig()
	cfg.Enabled = false
	c := NewController(cfg, rt, reg)

	if err := c.ReloadModule(context.Background(), "X", "x.js"); err != nil {
		t.Fatalf("disabled reload should be a no-op: %v", err)
	}
	if rt.scriptCount("<reload_") != 0 {
		t.Error("disabled controller touched the runtime")
	}
}

func TestMemoryEstimate(t *testing.T) {
	rt := newFakeRuntime()
	c, _ := newTestController(t, rt)
	c.Enqueue(Request{ComponentID: "A", FilePath: "/long/path/to/a.js"})
	if c.approxMemoryUsage() == 0 {
		t.Error("memory estimate should be non-zero with queued work")
	}
}
