// Package reload hot-swaps component modules in development: debounced
// invalidate, re-import through the loader, verify, with bounded retry and
// a bounded outcome history. Reloaded sources deliberately bypass the
// engine's ES-module system; registration happens at script level so a
// module is never re-evaluated.
package reload
