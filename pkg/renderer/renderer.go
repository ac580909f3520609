package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rari-build/rari-go/internal/errors"
	"github.com/rari-build/rari-go/pkg/htmlstream"
	"github.com/rari-build/rari-go/pkg/registry"
	"github.com/rari-build/rari-go/pkg/runtime"
	"github.com/rari-build/rari-go/pkg/streaming"
	"github.com/rari-build/rari-go/pkg/wire"
)

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDevMode enables filesystem auto-registration from the search roots.
func WithDevMode(searchRoots ...string) Option {
	return func(o *Orchestrator) {
		o.devMode = true
		o.searchRoots = searchRoots
	}
}

// WithMaxConcurrentRenders sets the advisory in-flight render cap.
func WithMaxConcurrentRenders(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrentRenders = int64(n)
		}
	}
}

// WithStreamingEnabled toggles progressive streaming for suspense routes.
func WithStreamingEnabled(enabled bool) Option {
	return func(o *Orchestrator) {
		o.streamingEnabled = enabled
	}
}

// Orchestrator composes layouts and pages, drives execution inside the
// runtime, and produces wire payloads, HTML, or live streams.
type Orchestrator struct {
	runtime  *runtime.Runtime
	registry *registry.Registry
	streams  *streaming.Engine
	logger   *slog.Logger

	devMode          bool
	searchRoots      []string
	streamingEnabled bool

	activeRenders        atomic.Int64
	maxConcurrentRenders int64
	memoryPressure       atomic.Bool
}

// New creates an orchestrator over the runtime and registry.
func New(rt *runtime.Runtime, reg *registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runtime:              rt,
		registry:             reg,
		streams:              streaming.NewEngine(rt),
		logger:               slog.Default(),
		streamingEnabled:     true,
		maxConcurrentRenders: 64,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Initialize installs the runtime environment and verifies the globals
// the engine requires. Renders fail with a not-initialized error until
// this succeeds.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if _, err := o.runtime.ExecuteScript(ctx, "<bootstrap>", bootstrapScript); err != nil {
		return errors.New("E001").Wrap(err)
	}

	result, err := o.runtime.ExecuteScript(ctx, "<verify_globals>", verifyGlobalsScript)
	if err != nil {
		return errors.New("E001").Wrap(err)
	}
	checks, err := decodeJSONResult(result)
	if err != nil {
		return errors.New("E001").Wrap(err)
	}
	for _, global := range []string{"renderToHTML", "promiseManager", "registerModule", "serverFunctions"} {
		if checks[global] != true {
			return errors.New("E001").WithDetailf("missing runtime global %s", global)
		}
	}

	o.runtime.MarkInitialized()
	return nil
}

// beginRender tracks the advisory render counter and reports memory
// pressure above 80% of the cap. Renders are never rejected.
func (o *Orchestrator) beginRender() func() {
	active := o.activeRenders.Add(1)
	if o.maxConcurrentRenders > 0 && float64(active)/float64(o.maxConcurrentRenders) > 0.8 {
		if !o.memoryPressure.Swap(true) {
			o.logger.Warn("render concurrency above 80% of advisory cap",
				"active", active, "max", o.maxConcurrentRenders)
		}
	}
	return func() {
		if o.activeRenders.Add(-1) <= o.maxConcurrentRenders*8/10 {
			o.memoryPressure.Store(false)
		}
	}
}

// MemoryPressure reports whether the advisory render cap is near.
func (o *Orchestrator) MemoryPressure() bool {
	return o.memoryPressure.Load()
}

// ActiveRenders returns the in-flight render count.
func (o *Orchestrator) ActiveRenders() int64 {
	return o.activeRenders.Load()
}

// compose runs setup plus composition for a component and returns the
// extracted result.
func (o *Orchestrator) compose(ctx context.Context, layoutIDs []string, componentID string, props map[string]any) (*compositionResult, error) {
	if !o.runtime.IsInitialized() {
		return nil, errors.New("E001")
	}

	resolved, err := o.ensureComponentLoaded(ctx, componentID)
	if err != nil {
		return nil, err
	}
	for _, layoutID := range layoutIDs {
		if _, err := o.ensureComponentLoaded(ctx, layoutID); err != nil {
			return nil, err
		}
	}

	setup := buildSetupBatch(resolved)
	setupResult, err := o.runtime.ExecuteScript(ctx, "<setup_batch_"+resolved+">", setup)
	if err != nil {
		return nil, err
	}
	setupData, err := decodeJSONResult(setupResult)
	if err != nil {
		return nil, errors.New("E002").WithDetail("unparseable setup batch result").Wrap(err)
	}
	if setupData["success"] != true {
		return nil, errors.Newf(errors.CategoryScriptExecution, "setup batch failed: %v", setupData["errors"])
	}

	propsJSON := "{}"
	if props != nil {
		data, err := json.Marshal(props)
		if err != nil {
			return nil, errors.New("E040").Wrap(err)
		}
		propsJSON = string(data)
	}

	script := buildCompositionScript(layoutIDs, resolved, propsJSON)
	raw, err := o.runtime.ExecuteScript(ctx, "<composition_"+resolved+">", script)
	if err != nil {
		return nil, err
	}
	return parseCompositionResult(raw)
}

// serializePayload converts extracted content to the wire format,
// registering every known client reference first.
func (o *Orchestrator) serializePayload(rscData any) (string, error) {
	tree, err := wire.FromJSON(rscData)
	if err != nil {
		return "", errors.New("E040").Wrap(err)
	}

	s := wire.NewSerializer().WithLogger(o.logger)
	for _, id := range o.registry.IDs() {
		if ref, ok := o.registry.GetClientReference(id); ok {
			s.RegisterClientComponent(id, ref.FilePath, ref.ExportName)
		}
	}
	return s.SerializeTree(tree)
}

// RenderToRSC renders a component to the wire format.
func (o *Orchestrator) RenderToRSC(ctx context.Context, componentID string, props map[string]any) (string, error) {
	done := o.beginRender()
	defer done()

	comp, err := o.compose(ctx, nil, componentID, props)
	if err != nil {
		return "", err
	}
	return o.serializePayload(comp.RSCData)
}

// RenderToHTML renders a component to HTML. Routes with discovered
// suspense and a valid layout structure return a streaming result; client
// references return a self-contained placeholder immediately.
func (o *Orchestrator) RenderToHTML(ctx context.Context, componentID string, props map[string]any) (RenderResult, error) {
	done := o.beginRender()
	defer done()

	if ref, ok := o.registry.GetClientReference(componentID); ok {
		return o.clientReferenceResult(componentID, ref, props)
	}

	comp, err := o.compose(ctx, nil, componentID, props)
	if err != nil {
		return o.diagnosticResult(componentID, err), nil
	}
	return o.finishRender(ctx, componentID, comp)
}

// RenderWithStreaming always returns a live stream for the component.
func (o *Orchestrator) RenderWithStreaming(ctx context.Context, componentID string, props map[string]any) (*streaming.Stream, error) {
	done := o.beginRender()
	defer done()

	comp, err := o.compose(ctx, nil, componentID, props)
	if err != nil {
		return nil, err
	}
	return o.streams.StartStreamingWithPrecomputedData(ctx, comp.RSCData, comp.Boundaries, comp.Layout, comp.PendingPromises)
}

// RenderRouteToHTMLDirect renders a matched route, injecting the request
// context first.
func (o *Orchestrator) RenderRouteToHTMLDirect(ctx context.Context, match RouteMatch, reqCtx *runtime.RequestContext) (RenderResult, error) {
	done := o.beginRender()
	defer done()

	if reqCtx != nil {
		if err := o.runtime.SetRequestContext(ctx, *reqCtx); err != nil {
			o.logger.Warn("request context injection failed", "err", err)
		}
	}

	props := routeProps(match)
	comp, err := o.compose(ctx, match.LayoutIDs, match.ComponentID, props)
	if err != nil {
		return o.diagnosticResult(match.ComponentID, err), nil
	}
	return o.finishRender(ctx, match.ComponentID, comp)
}

// RenderRouteByMode renders a route as either a full HTML document or a
// wire payload, per the request's render mode.
func (o *Orchestrator) RenderRouteByMode(ctx context.Context, match RouteMatch, mode RenderMode, reqCtx *runtime.RequestContext) (string, error) {
	switch mode {
	case ModeRSCNavigation:
		done := o.beginRender()
		defer done()
		if reqCtx != nil {
			if err := o.runtime.SetRequestContext(ctx, *reqCtx); err != nil {
				o.logger.Warn("request context injection failed", "err", err)
			}
		}
		comp, err := o.compose(ctx, match.LayoutIDs, match.ComponentID, routeProps(match))
		if err != nil {
			return "", err
		}
		return o.serializePayload(comp.RSCData)

	default:
		result, err := o.RenderRouteToHTMLDirect(ctx, match, reqCtx)
		if err != nil {
			return "", err
		}
		if result.Kind == ResultStreaming {
			return o.drainStreamToHTML(ctx, result.Stream), nil
		}
		return result.HTML, nil
	}
}

// finishRender picks streaming or static output for a composed result.
func (o *Orchestrator) finishRender(ctx context.Context, componentID string, comp *compositionResult) (RenderResult, error) {
	if o.streamingEnabled && comp.HasSuspense && len(comp.Boundaries) > 0 && comp.Layout.IsValid() {
		stream, err := o.streams.StartStreamingWithPrecomputedData(ctx, comp.RSCData, comp.Boundaries, comp.Layout, comp.PendingPromises)
		if err == nil {
			return RenderResult{Kind: ResultStreaming, Stream: stream}, nil
		}
		o.logger.Warn("streaming refused, falling back to static", "component", componentID, "err", err)
	}

	payload, err := o.serializePayload(comp.RSCData)
	if err != nil {
		return o.diagnosticResult(componentID, err), nil
	}

	html, err := o.htmlFromTree(comp.RSCData)
	if err != nil {
		return o.diagnosticResult(componentID, err), nil
	}
	html = sanitizeRenderedHTML(html)

	if strings.TrimSpace(html) == "" {
		return o.diagnosticResult(componentID, errors.Newf(errors.CategoryScriptExecution, "extraction produced no content")), nil
	}

	return RenderResult{Kind: ResultStaticWithPayload, HTML: html, Payload: payload}, nil
}

// htmlFromTree converts extracted content straight to a complete HTML
// document via the stream converter.
func (o *Orchestrator) htmlFromTree(rscData any) (string, error) {
	body, err := json.Marshal(rscData)
	if err != nil {
		return "", errors.New("E040").Wrap(err)
	}

	var buf bytes.Buffer
	converter := htmlstream.NewConverter(&buf, htmlstream.ShellConfig{}).WithLogger(o.logger)
	converter.Consume(streaming.Chunk{
		Data: []byte("0:" + string(body) + "\n"),
		Type: streaming.ChunkInitialShell,
	})
	converter.Consume(streaming.Chunk{Type: streaming.ChunkStreamComplete, IsFinal: true})
	return buf.String(), nil
}

// drainStreamToHTML collects a live stream into one document, for callers
// that need a plain string.
func (o *Orchestrator) drainStreamToHTML(ctx context.Context, stream *streaming.Stream) string {
	var buf bytes.Buffer
	converter := htmlstream.NewConverter(&buf, htmlstream.ShellConfig{}).WithLogger(o.logger)
	for _, chunk := range stream.Collect(ctx) {
		converter.Consume(chunk)
	}
	return sanitizeRenderedHTML(buf.String())
}

// clientReferenceResult renders a client component as a self-contained
// placeholder plus its serialized payload.
func (o *Orchestrator) clientReferenceResult(componentID string, ref registry.ClientReference, props map[string]any) (RenderResult, error) {
	tree := wire.ClientRef(ref.FilePath+"#"+ref.ExportName, wire.Props(props))

	s := wire.NewSerializer().WithLogger(o.logger)
	s.RegisterClientComponent(componentID, ref.FilePath, ref.ExportName)
	payload, err := s.SerializeTree(tree)
	if err != nil {
		return o.diagnosticResult(componentID, err), nil
	}

	html := fmt.Sprintf(
		`<div data-client-component=%q data-client-ref=%q></div>`,
		componentID, ref.FilePath+"#"+ref.ExportName)

	return RenderResult{Kind: ResultStaticWithPayload, HTML: html, Payload: payload}, nil
}

// diagnosticResult renders a failure as an HTML card naming the component
// and server time. Render paths never surface a bare 5xx.
func (o *Orchestrator) diagnosticResult(componentID string, err error) RenderResult {
	o.logger.Error("render failed", "component", componentID, "err", err)

	html := fmt.Sprintf(
		`<div style="border:1px solid red;padding:10px;margin:10px;font-family:monospace">`+
			`<h3>Unable to render %s</h3><p>The server could not produce content for this route at %s.</p></div>`,
		htmlEscape(componentID), time.Now().UTC().Format(time.RFC3339))

	return RenderResult{Kind: ResultStatic, HTML: html}
}

// ExecuteServerFunction routes a server-function call through the
// runtime's resolver entry point.
func (o *Orchestrator) ExecuteServerFunction(ctx context.Context, functionID, exportName string, args []any) (any, error) {
	if !o.runtime.IsInitialized() {
		return nil, errors.New("E001")
	}
	return o.runtime.ExecuteFunction(ctx, "ServerFunctions.resolve", []any{functionID, exportName, args})
}

// Streams exposes the streaming engine, e.g. for replaying cached wire
// payloads.
func (o *Orchestrator) Streams() *streaming.Engine {
	return o.streams
}

func routeProps(match RouteMatch) map[string]any {
	if len(match.Params) == 0 {
		return nil
	}
	params := make(map[string]any, len(match.Params))
	for k, v := range match.Params {
		params[k] = v
	}
	return map[string]any{"params": params}
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
