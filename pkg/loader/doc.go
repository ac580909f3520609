// Package loader stores module sources keyed by URL-like specifiers and
// resolves import specifiers for the script runtime.
//
// Specifier families:
//
//	file:///rari_component/<id>.js[?v=N]  component sources, versioned at HMR
//	file:///rari_internal/<name>.js       synthetic stubs generated on demand
//	file:///node_builtin/<name>.js        allow-listed node builtin stubs
//	file:///<abs path>                    filesystem (or remote store) sources
//
// Relative and bare specifiers resolve through the referrer and the
// node_modules walk before landing in one of the families above. Exactly
// one source is stored per specifier at any instant; overwrites bump the
// version and mark the module HMR-updated.
package loader
