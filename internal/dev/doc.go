// Package dev watches a project's component sources for hot reload.
//
// The watcher is deliberately narrow: it tracks exactly what the render
// engine consumes — component sources under the rari.json routes and
// components trees, plus the config file itself — and emits changes
// already resolved to component ids, coalesced per component within a
// polling interval. Stylesheets and static assets are invisible to it;
// the engine has no pipeline for them.
//
// Changes flow over Events() to the reload controller's debounced entry
// point; the controller then notifies browsers over WebSocket.
package dev
