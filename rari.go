// Package rari provides the public API for the rari rendering engine.
//
// This is the recommended import for most applications:
//
//	import "github.com/rari-build/rari-go"
//
// Usage:
//
//	reg := rari.NewRegistry()
//	rt, _ := rari.NewRuntime(gojaengine.New, rari.NewLoader(), rari.RuntimeConfig{})
//	engine := rari.NewOrchestrator(rt, reg)
//	_ = engine.Initialize(ctx)
//	result, _ := engine.RenderToHTML(ctx, "Page", nil)
package rari

import (
	"github.com/rari-build/rari-go/pkg/loader"
	"github.com/rari-build/rari-go/pkg/registry"
	"github.com/rari-build/rari-go/pkg/reload"
	"github.com/rari-build/rari-go/pkg/renderer"
	"github.com/rari-build/rari-go/pkg/runtime"
	"github.com/rari-build/rari-go/pkg/streaming"
	"github.com/rari-build/rari-go/pkg/wire"
)

// =============================================================================
// Component registry
// =============================================================================

// Registry tracks server and client components.
type Registry = registry.Registry

// NewRegistry creates an empty component registry.
var NewRegistry = registry.New

// =============================================================================
// Module loader and runtime
// =============================================================================

// Loader stores and resolves module sources for the script runtime.
type Loader = loader.Loader

// NewLoader creates an empty module loader.
var NewLoader = loader.New

// Runtime is the request/response façade over the embedded script engine.
type Runtime = runtime.Runtime

// RuntimeConfig tunes the runtime adapter.
type RuntimeConfig = runtime.Config

// RequestContext is the immutable per-request value exposed to scripts.
type RequestContext = runtime.RequestContext

// NewRuntime starts a runtime worker over an engine factory.
var NewRuntime = runtime.New

// =============================================================================
// Rendering
// =============================================================================

// Orchestrator composes layouts and pages and drives renders.
type Orchestrator = renderer.Orchestrator

// NewOrchestrator creates a renderer orchestrator.
var NewOrchestrator = renderer.New

// RenderResult is the outcome of an HTML-producing render.
type RenderResult = renderer.RenderResult

// RouteMatch is a resolved route: page component, layouts, params.
type RouteMatch = renderer.RouteMatch

// RenderMode selects HTML or wire-format output.
type RenderMode = renderer.RenderMode

// Render modes and result kinds, re-exported from the renderer package.
const (
	ModeSSR           = renderer.ModeSSR
	ModeRSCNavigation = renderer.ModeRSCNavigation

	ResultStatic            = renderer.ResultStatic
	ResultStaticWithPayload = renderer.ResultStaticWithPayload
	ResultStreaming         = renderer.ResultStreaming
)

// =============================================================================
// Streaming and wire format
// =============================================================================

// Stream delivers progressive render chunks to one consumer.
type Stream = streaming.Stream

// Chunk is one unit of stream output.
type Chunk = streaming.Chunk

// Tree is a node of the server component tree.
type Tree = wire.Tree

// Props holds element attributes and serializable values.
type Props = wire.Props

// Serializer converts component trees to numbered wire rows.
type Serializer = wire.Serializer

// NewSerializer creates an empty wire serializer.
var NewSerializer = wire.NewSerializer

// ParseWire reads a wire payload back into rows.
var ParseWire = wire.Parse

// =============================================================================
// Hot reload
// =============================================================================

// ReloadController performs debounced module reloads in development.
type ReloadController = reload.Controller

// NewReloadController creates a reload controller.
var NewReloadController = reload.NewController

// ReloadConfig tunes the reload controller.
type ReloadConfig = reload.Config
