package loader

import (
	"fmt"
	"strings"
	"sync"
)

const (
	componentPrefix  = "file:///rari_component/"
	internalPrefix   = "file:///rari_internal/"
	builtinPrefix    = "file:///node_builtin/"
	fileProtocol     = "file://"
	nodePrefix       = "node:"
	versionQuery     = "?v="
	loaderStubPrefix = "load_"
)

// moduleEntry is one stored module.
type moduleEntry struct {
	source    string
	version   uint64
	evaluated bool
	hmr       bool
}

// Loader stores module sources keyed by specifier and serves bytes to the
// script runtime. Writes with an existing key bump the version and flag the
// module as HMR-updated.
type Loader struct {
	mu      sync.RWMutex
	modules map[string]*moduleEntry

	transpiler Transpiler
	remote     SourceStore
}

// SourceStore serves module sources that are not in memory, e.g. from S3.
type SourceStore interface {
	Fetch(specifier string) (string, error)
}

// New creates an empty loader with the default esbuild transpiler.
func New() *Loader {
	return &Loader{
		modules:    make(map[string]*moduleEntry),
		transpiler: DefaultTranspiler,
	}
}

// WithTranspiler overrides the TS/JSX transpiler callback.
func (l *Loader) WithTranspiler(t Transpiler) *Loader {
	if t != nil {
		l.transpiler = t
	}
	return l
}

// WithRemoteStore attaches a fallback source store consulted before the
// filesystem for absolute file specifiers.
func (l *Loader) WithRemoteStore(s SourceStore) *Loader {
	l.remote = s
	return l
}

// AddModule stores (or overwrites) a module source. TS/JSX sources are
// transpiled before storage so the runtime always receives JavaScript.
func (l *Loader) AddModule(specifier, originalPath, code string) error {
	if needsTranspile(originalPath) {
		transpiled, err := l.transpiler(originalPath, code)
		if err != nil {
			return err
		}
		code = transpiled
	}
	l.SetModuleCode(specifier, code)
	return nil
}

// SetModuleCode stores raw JavaScript for the specifier. Overwrites bump
// the version and set the HMR flag.
func (l *Loader) SetModuleCode(specifier, code string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.modules[specifier]; ok {
		entry.source = code
		entry.version++
		entry.hmr = true
		entry.evaluated = false
		return
	}
	l.modules[specifier] = &moduleEntry{source: code, version: 1}
}

// GetModule returns the stored source for the exact specifier.
func (l *Loader) GetModule(specifier string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.modules[specifier]
	if !ok {
		return "", false
	}
	return entry.source, true
}

// Version returns the current version for the specifier (0 if absent).
func (l *Loader) Version(specifier string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if entry, ok := l.modules[specifier]; ok {
		return entry.version
	}
	return 0
}

// IsHMRModule reports whether the specifier was overwritten since its last
// evaluation.
func (l *Loader) IsHMRModule(specifier string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.modules[specifier]
	return ok && entry.hmr
}

// MarkEvaluated records that the runtime evaluated the module and clears
// the HMR flag.
func (l *Loader) MarkEvaluated(specifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.modules[specifier]; ok {
		entry.evaluated = true
		entry.hmr = false
	}
}

// IsEvaluated reports whether the runtime already evaluated the module.
func (l *Loader) IsEvaluated(specifier string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.modules[specifier]
	return ok && entry.evaluated
}

// ComponentSpecifier returns the canonical specifier for a component id.
func ComponentSpecifier(componentID string) string {
	return componentPrefix + componentID + ".js"
}

// InternalSpecifier returns the specifier for a synthetic internal stub.
func InternalSpecifier(name string) string {
	return internalPrefix + name + ".js"
}

// VersionedSpecifier returns the newest versioned specifier for a
// component, or the plain one when no versions exist.
func (l *Loader) VersionedSpecifier(componentID string) string {
	base := ComponentSpecifier(componentID)

	l.mu.RLock()
	defer l.mu.RUnlock()

	best := ""
	var bestVersion uint64
	for spec := range l.modules {
		if spec == base {
			if best == "" {
				best = spec
			}
			continue
		}
		if strings.HasPrefix(spec, base+versionQuery) {
			var v uint64
			if _, err := fmt.Sscanf(spec[len(base)+len(versionQuery):], "%d", &v); err == nil && v >= bestVersion {
				bestVersion = v
				best = spec
			}
		}
	}
	if best == "" {
		return base
	}
	return best
}

// AddVersionedModule stores a component source under a fresh versioned
// specifier and returns it.
func (l *Loader) AddVersionedModule(componentID, code string) string {
	base := ComponentSpecifier(componentID)

	l.mu.Lock()
	var next uint64 = 1
	for spec, entry := range l.modules {
		if strings.HasPrefix(spec, base+versionQuery) && entry.version >= next {
			next = entry.version + 1
		}
	}
	spec := fmt.Sprintf("%s%s%d", base, versionQuery, next)
	l.modules[spec] = &moduleEntry{source: code, version: next, hmr: true}
	l.mu.Unlock()

	return spec
}

// ClearComponentCaches drops every stored version of a component, including
// its loader stubs.
func (l *Loader) ClearComponentCaches(componentID string) {
	base := ComponentSpecifier(componentID)
	stub := InternalSpecifier(loaderStubPrefix + componentID)

	l.mu.Lock()
	defer l.mu.Unlock()
	for spec := range l.modules {
		if spec == base || spec == stub || strings.HasPrefix(spec, base+versionQuery) {
			delete(l.modules, spec)
		}
	}
}

// Specifiers returns all stored specifiers, unordered.
func (l *Loader) Specifiers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.modules))
	for spec := range l.modules {
		out = append(out, spec)
	}
	return out
}

func needsTranspile(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".ts") || strings.HasSuffix(p, ".tsx") || strings.HasSuffix(p, ".jsx") || strings.HasSuffix(p, ".mts")
}
