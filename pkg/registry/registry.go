package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/rari-build/rari-go/internal/errors"
)

// LoadState tracks how far a component has progressed toward being
// executable inside the runtime.
type LoadState int

const (
	StateUnregistered LoadState = iota
	StateRegistered
	StateLoaded
	StateStale
)

// String returns the string representation of the LoadState.
func (s LoadState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateLoaded:
		return "loaded"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// ClientReference marks a component as browser-materialized.
type ClientReference struct {
	FilePath   string
	ExportName string
}

// Entry is one registered component. Copies returned by Get are snapshots;
// only the registry mutates entries, under its write lock.
type Entry struct {
	ID                string
	Source            string
	TransformedSource string
	Dependencies      []string
	State             LoadState
	Version           uint64
	LastReload        time.Time
	RetryAttempts     int
	ClientRef         *ClientReference

	seq int // insertion order, used for cycle tie-breaks
}

// Registry holds component entries. Concurrent readers are allowed; all
// writes serialize through a single writer lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	nextSeq int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register inserts or upgrades a component entry. Re-registering an
// existing id replaces sources and dependencies and bumps the version.
func (r *Registry) Register(id, source, transformedSource string, dependencies []string) error {
	if id == "" {
		return errors.New("E020")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	deps := make([]string, len(dependencies))
	copy(deps, dependencies)

	if existing, ok := r.entries[id]; ok {
		existing.Source = source
		existing.TransformedSource = transformedSource
		existing.Dependencies = deps
		existing.Version++
		if existing.State == StateLoaded {
			existing.State = StateStale
		}
		return nil
	}

	r.entries[id] = &Entry{
		ID:                id,
		Source:            source,
		TransformedSource: transformedSource,
		Dependencies:      deps,
		State:             StateRegistered,
		Version:           1,
		seq:               r.nextSeq,
	}
	r.nextSeq++
	return nil
}

// RegisterClientReference records a component that only exists as a
// browser module. The entry is created if missing.
func (r *Registry) RegisterClientReference(id, filePath, exportName string) error {
	if id == "" {
		return errors.New("E020")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		entry = &Entry{ID: id, State: StateRegistered, Version: 1, seq: r.nextSeq}
		r.nextSeq++
		r.entries[id] = entry
	}
	entry.ClientRef = &ClientReference{FilePath: filePath, ExportName: exportName}
	return nil
}

// Get returns a snapshot of the entry.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return snapshot(entry), true
}

func snapshot(e *Entry) Entry {
	out := *e
	out.Dependencies = append([]string(nil), e.Dependencies...)
	if e.ClientRef != nil {
		ref := *e.ClientRef
		out.ClientRef = &ref
	}
	return out
}

// IsRegistered reports whether the id has an entry.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// IsLoaded reports whether the component finished loading and is not stale.
func (r *Registry) IsLoaded(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return ok && entry.State == StateLoaded
}

// IsClientReference reports whether the id is a client component.
func (r *Registry) IsClientReference(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return ok && entry.ClientRef != nil
}

// GetClientReference returns the client module binding for the id.
func (r *Registry) GetClientReference(id string) (ClientReference, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || entry.ClientRef == nil {
		return ClientReference{}, false
	}
	return *entry.ClientRef, true
}

// MarkLoaded flips the entry to loaded and stamps the reload time.
func (r *Registry) MarkLoaded(id string) {
	r.setState(id, StateLoaded, true)
}

// MarkInitiallyLoaded marks an entry loaded without touching reload
// bookkeeping, used during first boot.
func (r *Registry) MarkInitiallyLoaded(id string) {
	r.setState(id, StateLoaded, false)
}

// MarkStale flags the entry for reload without removing it.
func (r *Registry) MarkStale(id string) {
	r.setState(id, StateStale, false)
}

func (r *Registry) setState(id string, state LoadState, stamp bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return
	}
	entry.State = state
	if stamp {
		entry.LastReload = time.Now()
		entry.RetryAttempts = 0
	}
}

// RecordRetry increments the consecutive-failure counter and returns the
// new count.
func (r *Registry) RecordRetry(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return 0
	}
	entry.RetryAttempts++
	return entry.RetryAttempts
}

// ResetRetries clears the consecutive-failure counter.
func (r *Registry) ResetRetries(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[id]; ok {
		entry.RetryAttempts = 0
	}
}

// Remove deletes the entry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// IDs returns all registered ids in insertion order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []string {
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.entries[out[i]].seq < r.entries[out[j]].seq
	})
	return out
}

// GetUnloadedComponentsInOrder returns ids that still need loading, in a
// dependency-consistent order: a component appears only after its locally
// resolvable dependencies. Cycles are legal; within a cycle the earliest
// registered component comes first and callers must tolerate forward
// references.
func (r *Registry) GetUnloadedComponentsInOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Strongly-connected components via Tarjan, then emit condensation in
	// dependency order. Dependencies that are not registered locally are
	// ignored.
	ids := r.idsLocked()
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	t := &tarjan{
		ids:     ids,
		entries: r.entries,
		index:   index,
		low:     make([]int, len(ids)),
		disc:    make([]int, len(ids)),
		comp:    make([]int, len(ids)),
	}
	for i := range t.disc {
		t.disc[i] = -1
		t.comp[i] = -1
	}
	for i := range ids {
		if t.disc[i] == -1 {
			t.strongConnect(i)
		}
	}

	// Edges point at dependencies, so an SCC completes only after every
	// SCC it depends on: ascending component numbers visit dependencies
	// before dependents.
	groups := make([][]string, t.nextComp)
	for i, id := range ids {
		groups[t.comp[i]] = append(groups[t.comp[i]], id)
	}

	var out []string
	for c := 0; c < t.nextComp; c++ {
		group := groups[c]
		sort.Slice(group, func(i, j int) bool {
			return r.entries[group[i]].seq < r.entries[group[j]].seq
		})
		for _, id := range group {
			entry := r.entries[id]
			if entry.State == StateLoaded || entry.ClientRef != nil {
				continue
			}
			out = append(out, id)
		}
	}
	return out
}

type tarjan struct {
	ids      []string
	entries  map[string]*Entry
	index    map[string]int
	low      []int
	disc     []int
	comp     []int
	stack    []int
	onStack  map[int]bool
	counter  int
	nextComp int
}

func (t *tarjan) strongConnect(v int) {
	if t.onStack == nil {
		t.onStack = make(map[int]bool)
	}
	t.disc[v] = t.counter
	t.low[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, dep := range t.entries[t.ids[v]].Dependencies {
		w, local := t.index[dep]
		if !local {
			continue
		}
		if t.disc[w] == -1 {
			t.strongConnect(w)
			if t.low[w] < t.low[v] {
				t.low[v] = t.low[w]
			}
		} else if t.onStack[w] && t.disc[w] < t.low[v] {
			t.low[v] = t.disc[w]
		}
	}

	if t.low[v] == t.disc[v] {
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			t.comp[w] = t.nextComp
			if w == v {
				break
			}
		}
		t.nextComp++
	}
}
