package dev

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rari-build/rari-go/internal/config"
)

// ChangeKind classifies what a change means to the render engine.
type ChangeKind int

const (
	// ChangeUpdated: a component source was created or modified; the
	// reload controller should hot-swap it.
	ChangeUpdated ChangeKind = iota
	// ChangeRemoved: a component source disappeared; its registration is
	// stale.
	ChangeRemoved
	// ChangeConfig: rari.json changed; callers typically restart.
	ChangeConfig
)

// String returns the string representation of the ChangeKind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeUpdated:
		return "updated"
	case ChangeRemoved:
		return "removed"
	case ChangeConfig:
		return "config"
	default:
		return "unknown"
	}
}

// ComponentChange is one observed change, already resolved to the
// component id the registry and reload controller key on.
type ComponentChange struct {
	ComponentID string
	Path        string
	Kind        ChangeKind
}

// Watcher polls the project's component trees (per rari.json) and emits
// per-component changes. It only tracks what the engine consumes:
// component sources and the config file — stylesheets and assets never
// reach the reload controller, so they are not tracked at all.
type Watcher struct {
	cfg      *config.Config
	interval time.Duration
	ignore   []string // user globs from dev.ignore, matched on basename

	events   chan ComponentChange
	snapshot map[string]time.Time
}

// NewWatcher creates a watcher over the project's watch paths. Extra
// ignore globs come from rari.json dev.ignore.
func NewWatcher(cfg *config.Config) *Watcher {
	return &Watcher{
		cfg:      cfg,
		interval: 100 * time.Millisecond,
		ignore:   cfg.Dev.Ignore,
		events:   make(chan ComponentChange, 32),
		snapshot: make(map[string]time.Time),
	}
}

// WithInterval overrides the polling interval.
func (w *Watcher) WithInterval(d time.Duration) *Watcher {
	if d > 0 {
		w.interval = d
	}
	return w
}

// Events delivers observed changes. The channel closes when Run returns.
func (w *Watcher) Events() <-chan ComponentChange {
	return w.events
}

// Run polls until ctx is done. The first scan only primes the snapshot;
// it reports nothing.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	w.snapshot = w.scan()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, change := range w.diff() {
				select {
				case w.events <- change:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// scan snapshots the modification time of every tracked file under the
// config-driven watch paths.
func (w *Watcher) scan() map[string]time.Time {
	seen := make(map[string]time.Time, len(w.snapshot))
	for _, root := range CollectWatchPaths(w.cfg) {
		filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !w.tracked(p) {
				return nil
			}
			if info, err := d.Info(); err == nil {
				seen[p] = info.ModTime()
			}
			return nil
		})
	}
	return seen
}

// diff compares a fresh scan against the snapshot and coalesces the
// result per component, so a save that touches a source twice within one
// interval reloads once.
func (w *Watcher) diff() []ComponentChange {
	current := w.scan()
	previous := w.snapshot
	w.snapshot = current

	byComponent := make(map[string]ComponentChange)

	for p, modTime := range current {
		prev, existed := previous[p]
		if existed && !modTime.After(prev) {
			continue
		}
		byComponent[changeKey(p)] = changeFor(p, ChangeUpdated)
	}
	for p := range previous {
		if _, still := current[p]; !still {
			key := changeKey(p)
			if _, alreadyUpdated := byComponent[key]; !alreadyUpdated {
				byComponent[key] = changeFor(p, ChangeRemoved)
			}
		}
	}

	out := make([]ComponentChange, 0, len(byComponent))
	for _, change := range byComponent {
		out = append(out, change)
	}
	return out
}

func changeKey(p string) string {
	if isConfigFile(p) {
		return config.ConfigFileName
	}
	return ComponentIDFor(p)
}

func changeFor(p string, kind ChangeKind) ComponentChange {
	if isConfigFile(p) {
		return ComponentChange{Path: p, Kind: ChangeConfig}
	}
	return ComponentChange{ComponentID: ComponentIDFor(p), Path: p, Kind: kind}
}

// tracked reports whether the engine cares about this file: component
// sources and rari.json only, minus the skip set and user globs.
func (w *Watcher) tracked(p string) bool {
	name := filepath.Base(p)
	if isConfigFile(p) {
		return true
	}
	if !isComponentSource(name) {
		return false
	}
	if skipFile(name) {
		return false
	}
	for _, pattern := range w.ignore {
		if ok, _ := path.Match(pattern, name); ok {
			return false
		}
	}
	return true
}

func isConfigFile(p string) bool {
	return filepath.Base(p) == config.ConfigFileName
}

func isComponentSource(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".tsx", ".jsx", ".ts", ".js", ".mjs":
		return true
	default:
		return false
	}
}

// skipDir prunes trees the engine never loads components from.
func skipDir(name string) bool {
	switch name {
	case "node_modules", "dist", ".rari", ".git":
		return true
	}
	return strings.HasPrefix(name, ".")
}

// skipFile drops editor temp files.
func skipFile(name string) bool {
	return strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasSuffix(name, ".swp") ||
		strings.HasPrefix(name, ".#")
}

// ComponentIDFor derives the stable component id the registry keys on
// from a source path: the basename up to its first dot, so
// Button.client.tsx and Button.tsx both map to Button.
func ComponentIDFor(p string) string {
	base := filepath.Base(p)
	if dot := strings.Index(base, "."); dot > 0 {
		return base[:dot]
	}
	return base
}
