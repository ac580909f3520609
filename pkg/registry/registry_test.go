package registry

import (
	"sync"
	"testing"
)

func TestRegisterRequiresID(t *testing.T) {
	r := New()
	if err := r.Register("", "src", "out", nil); err == nil {
		t.Fatal("empty id should fail")
	}
	if err := r.Register("Page", "src", "out", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.IsRegistered("Page") {
		t.Error("Page should be registered")
	}
}

func TestLoadedImpliesRegistered(t *testing.T) {
	r := New()
	r.Register("Page", "s", "t", nil)
	if r.IsLoaded("Page") {
		t.Error("fresh entry should not be loaded")
	}
	r.MarkLoaded("Page")
	if !r.IsLoaded("Page") || !r.IsRegistered("Page") {
		t.Error("loaded entry must be registered")
	}
}

func TestMarkStaleKeepsEntry(t *testing.T) {
	r := New()
	r.Register("Page", "s", "t", nil)
	r.MarkLoaded("Page")
	r.MarkStale("Page")
	if r.IsLoaded("Page") {
		t.Error("stale entry should not report loaded")
	}
	if !r.IsRegistered("Page") {
		t.Error("stale entry must stay registered")
	}
}

func TestReRegisterBumpsVersionAndStales(t *testing.T) {
	r := New()
	r.Register("Page", "v1", "t1", nil)
	r.MarkLoaded("Page")
	r.Register("Page", "v2", "t2", nil)

	entry, ok := r.Get("Page")
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.Version != 2 {
		t.Errorf("Version = %d, want 2", entry.Version)
	}
	if entry.State != StateStale {
		t.Errorf("State = %v, want stale", entry.State)
	}
	if entry.Source != "v2" {
		t.Errorf("Source = %q", entry.Source)
	}
}

func TestDependencyOrder(t *testing.T) {
	r := New()
	r.Register("Page", "", "", []string{"Header", "Footer"})
	r.Register("Header", "", "", []string{"Logo"})
	r.Register("Footer", "", "", nil)
	r.Register("Logo", "", "", nil)

	order := r.GetUnloadedComponentsInOrder()
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if pos["Logo"] > pos["Header"] {
		t.Errorf("Logo should precede Header: %v", order)
	}
	if pos["Header"] > pos["Page"] || pos["Footer"] > pos["Page"] {
		t.Errorf("dependencies should precede Page: %v", order)
	}
}

func TestDependencyOrderToleratesCycles(t *testing.T) {
	r := New()
	r.Register("A", "", "", []string{"B"})
	r.Register("B", "", "", []string{"A"})
	r.Register("C", "", "", []string{"A"})

	order := r.GetUnloadedComponentsInOrder()
	if len(order) != 3 {
		t.Fatalf("order = %v", order)
	}
	// A and B form a cycle; the first-registered member leads and C, which
	// depends on the cycle, comes after both.
	if order[0] != "A" || order[1] != "B" || order[2] != "C" {
		t.Errorf("order = %v, want [A B C]", order)
	}
}

func TestDependencyOrderSkipsLoadedAndClientRefs(t *testing.T) {
	r := New()
	r.Register("Page", "", "", []string{"Button"})
	r.Register("Done", "", "", nil)
	r.MarkLoaded("Done")
	r.RegisterClientReference("Button", "./Button.client.js", "default")

	order := r.GetUnloadedComponentsInOrder()
	if len(order) != 1 || order[0] != "Page" {
		t.Errorf("order = %v, want [Page]", order)
	}
}

func TestDependencyOrderIgnoresExternalDeps(t *testing.T) {
	r := New()
	r.Register("Page", "", "", []string{"react", "./local.css"})
	order := r.GetUnloadedComponentsInOrder()
	if len(order) != 1 {
		t.Errorf("order = %v", order)
	}
}

func TestClientReference(t *testing.T) {
	r := New()
	r.RegisterClientReference("Button", "./components/Button.client.js", "default")
	if !r.IsClientReference("Button") {
		t.Error("Button should be a client reference")
	}
	ref, ok := r.GetClientReference("Button")
	if !ok || ref.FilePath != "./components/Button.client.js" || ref.ExportName != "default" {
		t.Errorf("ref = %+v", ref)
	}
	if r.IsClientReference("Other") {
		t.Error("unknown id should not be a client reference")
	}
}

func TestRemove(t *testing.T) {
	r := New()
	r.Register("Page", "", "", nil)
	r.Remove("Page")
	if r.IsRegistered("Page") {
		t.Error("removed entry should be gone")
	}
}

func TestRetryCounter(t *testing.T) {
	r := New()
	r.Register("Page", "", "", nil)
	if n := r.RecordRetry("Page"); n != 1 {
		t.Errorf("first retry = %d", n)
	}
	if n := r.RecordRetry("Page"); n != 2 {
		t.Errorf("second retry = %d", n)
	}
	r.MarkLoaded("Page")
	entry, _ := r.Get("Page")
	if entry.RetryAttempts != 0 {
		t.Errorf("MarkLoaded should reset retries, got %d", entry.RetryAttempts)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	r := New()
	r.Register("Page", "", "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.IsLoaded("Page")
				r.Get("Page")
				r.GetUnloadedComponentsInOrder()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Register("Page", "s", "t", []string{"Dep"})
				r.MarkStale("Page")
			}
		}()
	}
	wg.Wait()

	entry, ok := r.Get("Page")
	if !ok {
		t.Fatal("entry lost")
	}
	if entry.Version == 0 {
		t.Error("version never advanced")
	}
}
