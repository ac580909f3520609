// Package registry tracks server and client components: their sources,
// dependency graphs, load state, and client-reference metadata.
//
// The registry is the single owner of component entries. Reads never
// observe a half-updated entry; writes serialize through one writer lock.
// Dependency cycles are legal and surface as forward references in
// GetUnloadedComponentsInOrder.
package registry
