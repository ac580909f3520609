package loader

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func passthroughTranspiler(path, source string) (string, error) {
	return source, nil
}

func TestAddAndGetModule(t *testing.T) {
	l := New().WithTranspiler(passthroughTranspiler)
	spec := ComponentSpecifier("Page")
	if err := l.AddModule(spec, "Page.js", "export default 1;"); err != nil {
		t.Fatal(err)
	}
	src, ok := l.GetModule(spec)
	if !ok || src != "export default 1;" {
		t.Errorf("GetModule = %q, %v", src, ok)
	}
	if l.Version(spec) != 1 {
		t.Errorf("Version = %d, want 1", l.Version(spec))
	}
	if l.IsHMRModule(spec) {
		t.Error("first write should not flag HMR")
	}
}

func TestOverwriteBumpsVersionAndFlagsHMR(t *testing.T) {
	l := New()
	spec := ComponentSpecifier("Page")
	l.SetModuleCode(spec, "v1")
	l.MarkEvaluated(spec)
	l.SetModuleCode(spec, "v2")

	if l.Version(spec) != 2 {
		t.Errorf("Version = %d, want 2", l.Version(spec))
	}
	if !l.IsHMRModule(spec) {
		t.Error("overwrite should flag HMR")
	}
	if l.IsEvaluated(spec) {
		t.Error("overwrite should clear evaluated flag")
	}
	src, _ := l.GetModule(spec)
	if src != "v2" {
		t.Errorf("source = %q", src)
	}
}

func TestConcurrentReadsSeeConsistentBytes(t *testing.T) {
	l := New()
	spec := ComponentSpecifier("Page")
	l.SetModuleCode(spec, strings.Repeat("a", 64))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				a, _ := l.GetModule(spec)
				b, _ := l.GetModule(spec)
				if a != b {
					t.Error("two reads disagreed")
					return
				}
			}
		}()
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				l.SetModuleCode(spec, strings.Repeat("b", 64))
			}
		}(i)
	}
	wg.Wait()

	src, ok := l.GetModule(spec)
	if !ok || src != strings.Repeat("b", 64) {
		t.Errorf("write-then-read mismatch: %q", src)
	}
}

func TestVersionedSpecifiers(t *testing.T) {
	l := New()
	spec1 := l.AddVersionedModule("Page", "v1")
	spec2 := l.AddVersionedModule("Page", "v2")
	if spec1 == spec2 {
		t.Fatalf("versions should differ: %s", spec1)
	}
	if !strings.Contains(spec2, "?v=2") {
		t.Errorf("spec2 = %s", spec2)
	}
	if got := l.VersionedSpecifier("Page"); got != spec2 {
		t.Errorf("VersionedSpecifier = %s, want %s", got, spec2)
	}
}

func TestClearComponentCaches(t *testing.T) {
	l := New()
	l.SetModuleCode(ComponentSpecifier("Page"), "base")
	l.AddVersionedModule("Page", "v1")
	l.SetModuleCode(InternalSpecifier("load_Page"), "stub")
	l.SetModuleCode(ComponentSpecifier("Other"), "keep")

	l.ClearComponentCaches("Page")

	for _, spec := range l.Specifiers() {
		if strings.Contains(spec, "Page") && !strings.Contains(spec, "Other") {
			t.Errorf("specifier survived clear: %s", spec)
		}
	}
	if _, ok := l.GetModule(ComponentSpecifier("Other")); !ok {
		t.Error("unrelated component was dropped")
	}
}

func TestResolveBuiltins(t *testing.T) {
	l := New()
	tests := []struct {
		in   string
		want string
	}{
		{"node:path", "file:///node_builtin/path.js"},
		{"fs", "file:///node_builtin/fs.js"},
		{"react", "file:///node_builtin/react.js"},
		{"react/jsx-runtime", "file:///node_builtin/react_jsx-runtime.js"},
		{"/node_builtin/crypto.js", "file:///node_builtin/crypto.js"},
		{"/rari_internal/load_Page.js", "file:///rari_internal/load_Page.js"},
	}
	for _, tt := range tests {
		got, err := l.Resolve(tt.in, "")
		if err != nil {
			t.Errorf("Resolve(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveRelativeAgainstReferrer(t *testing.T) {
	l := New()
	l.SetModuleCode("file:///app/components/Button.js", "x")

	got, err := l.Resolve("./Button.js", "file:///app/components/Page.js")
	if err != nil {
		t.Fatal(err)
	}
	if got != "file:///app/components/Button.js" {
		t.Errorf("Resolve = %q", got)
	}
}

func TestResolveBarePackage(t *testing.T) {
	dir := t.TempDir()
	pkgDir := filepath.Join(dir, "node_modules", "widget")
	if err := os.MkdirAll(pkgDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "package.json"), []byte(`{"module":"dist/widget.mjs"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(pkgDir, "dist"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pkgDir, "dist", "widget.mjs"), []byte("export default 1"), 0644); err != nil {
		t.Fatal(err)
	}

	oldWD, _ := os.Getwd()
	defer os.Chdir(oldWD)
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	l := New()
	got, err := l.Resolve("widget", "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(got, "node_modules/widget/dist/widget.mjs") {
		t.Errorf("Resolve = %q", got)
	}
}

func TestResolveUnknownBarePackage(t *testing.T) {
	l := New()
	if _, err := l.Resolve("definitely-not-installed-pkg-xyz", ""); err == nil {
		t.Fatal("want error for unknown package")
	}
}

func TestLoadGeneratesBuiltinStubs(t *testing.T) {
	l := New()
	src, err := l.Load("file:///node_builtin/path.js")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(src, "export function join") {
		t.Errorf("path stub incomplete: %s", src[:80])
	}

	// Stub is cached after first load.
	if _, ok := l.GetModule("file:///node_builtin/path.js"); !ok {
		t.Error("stub should be cached")
	}
}

func TestLoadGeneratesLoaderStubWithComponentID(t *testing.T) {
	l := New()
	src, err := l.Load("file:///rari_internal/load_Dashboard.js")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(src, `"Dashboard"`) {
		t.Errorf("loader stub should name the component: %s", src)
	}
}

func TestLoadFromRemoteStore(t *testing.T) {
	l := New().WithRemoteStore(fakeStore{"file:///srv/App.js": "export default 7;"})
	src, err := l.Load("file:///srv/App.js")
	if err != nil {
		t.Fatal(err)
	}
	if src != "export default 7;" {
		t.Errorf("src = %q", src)
	}
}

type fakeStore map[string]string

func (f fakeStore) Fetch(specifier string) (string, error) {
	if src, ok := f[specifier]; ok {
		return src, nil
	}
	return "", os.ErrNotExist
}
