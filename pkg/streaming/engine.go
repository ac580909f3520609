package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rari-build/rari-go/internal/errors"
	"github.com/rari-build/rari-go/pkg/runtime"
	"github.com/rari-build/rari-go/pkg/wire"
)

// chunkBuffer bounds the chunk channel so a slow consumer backpressures
// the coordinator.
const chunkBuffer = 64

// Engine drives progressive streams: one shell, skeletons for every
// suspended subtree, then fills (or errors) as promises settle.
type Engine struct {
	rt            *runtime.Runtime
	logger        *slog.Logger
	renderTimeout time.Duration
}

// NewEngine creates a streaming engine over the runtime.
func NewEngine(rt *runtime.Runtime) *Engine {
	return &Engine{
		rt:            rt,
		logger:        slog.Default(),
		renderTimeout: 3 * time.Second,
	}
}

// WithLogger overrides the engine logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// WithRenderTimeout overrides the initial-render completion ceiling.
func (e *Engine) WithRenderTimeout(d time.Duration) *Engine {
	if d > 0 {
		e.renderTimeout = d
	}
	return e
}

// session is the shared mutable state of one stream.
type session struct {
	mu                 sync.Mutex
	rowCounter         uint32
	boundaryRowIDs     map[string]uint32
	renderedSkeletons  map[string]bool
	resolvedBoundaries map[string]bool
}

func newSession() *session {
	return &session{
		boundaryRowIDs:     make(map[string]uint32),
		renderedSkeletons:  make(map[string]bool),
		resolvedBoundaries: make(map[string]bool),
	}
}

// nextRow allocates the next stream-global row id.
func (s *session) nextRow() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.rowCounter
	s.rowCounter++
	return id
}

// claimResolution returns false when the boundary already accepted a
// terminal chunk; the first claim also retires the skeleton.
func (s *session) claimResolution(boundaryID string) (first, skeletonRemoved bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolvedBoundaries[boundaryID] {
		return false, false
	}
	s.resolvedBoundaries[boundaryID] = true
	removed := s.renderedSkeletons[boundaryID]
	delete(s.renderedSkeletons, boundaryID)
	return true, removed
}

func (s *session) markSkeleton(boundaryID string, rowID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := !s.renderedSkeletons[boundaryID]
	s.renderedSkeletons[boundaryID] = true
	s.boundaryRowIDs[boundaryID] = rowID
	return first
}

func (s *session) unresolvedSkeletons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.renderedSkeletons {
		out = append(out, id)
	}
	return out
}

// StartStreaming renders the component live inside the runtime and streams
// its boundaries as they resolve.
func (e *Engine) StartStreaming(ctx context.Context, componentID string, props map[string]any) (*Stream, error) {
	partial, err := e.renderPartial(ctx, componentID, props)
	if err != nil {
		return nil, err
	}
	layout := permissiveLayout(partial.Boundaries)
	return e.start(ctx, partial, layout, false)
}

// StartStreamingFromRSC replays a previously serialized wire payload,
// re-scheduling any pending promises it references.
func (e *Engine) StartStreamingFromRSC(ctx context.Context, wireFormat string) (*Stream, error) {
	partial, err := parseWirePartial(wireFormat)
	if err != nil {
		return nil, err
	}
	layout := permissiveLayout(partial.Boundaries)
	return e.start(ctx, partial, layout, true)
}

// StartStreamingWithPrecomputedData is the hot path: the orchestrator
// already ran the composition and extracted everything.
func (e *Engine) StartStreamingWithPrecomputedData(ctx context.Context, rscData any, boundaries []SuspenseBoundaryInfo, layout LayoutStructure, promises []PendingSuspensePromise) (*Stream, error) {
	if !layout.IsValid() {
		return nil, errors.New("E060")
	}
	partial := PartialRenderResult{
		InitialContent:  rscData,
		PendingPromises: promises,
		Boundaries:      boundaries,
		HasSuspense:     len(boundaries) > 0,
	}
	return e.start(ctx, partial, layout, false)
}

// start emits the initial rows and wires the background pipeline.
func (e *Engine) start(ctx context.Context, partial PartialRenderResult, layout LayoutStructure, replay bool) (*Stream, error) {
	if !layout.IsValid() {
		return nil, errors.New("E060")
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sess := newSession()
	chunks := make(chan Chunk, chunkBuffer)

	// Producers are bounded by promise count, so sized channels behave as
	// the unbounded queues the protocol expects.
	updates := make(chan BoundaryUpdate, len(partial.PendingPromises)+4)
	errorsCh := make(chan BoundaryError, len(partial.PendingPromises)+4)

	if err := e.sendInitialRows(streamCtx, chunks, sess, &partial); err != nil {
		cancel()
		return nil, err
	}

	resolver := newResolver(e.rt, e.logger, updates, errorsCh)

	// Deferred async components run once, then every pending promise gets
	// its own resolution task. The channels close when all tasks finish.
	go func() {
		defer close(updates)
		defer close(errorsCh)

		if replay {
			if _, err := e.rt.ExecuteScript(streamCtx, "<init_promise_tracking>", promiseTrackingInitScript); err != nil {
				e.logger.Warn("promise tracking init failed", "err", err)
			}
		}
		e.runDeferredComponents(streamCtx)

		g, gctx := errgroup.WithContext(streamCtx)
		for _, promise := range partial.PendingPromises {
			g.Go(func() error {
				resolver.resolve(gctx, promise)
				return nil
			})
		}
		_ = g.Wait()
	}()

	go e.coordinate(streamCtx, chunks, sess, layout, updates, errorsCh)

	return newStream(chunks, cancel), nil
}

// sendInitialRows emits the symbol row, the shell, one skeleton per
// boundary, and the flush sentinel.
func (e *Engine) sendInitialRows(ctx context.Context, chunks chan<- Chunk, sess *session, partial *PartialRenderResult) error {
	var symbolRef string

	if partial.HasSuspense {
		symbolRow := sess.nextRow()
		symbolRef = wire.RefValue(symbolRow)
		line := fmt.Sprintf("%d:%q\n", symbolRow, "$Sreact.suspense")
		if !send(ctx, chunks, Chunk{Data: []byte(line), Type: ChunkInitialShell, RowID: symbolRow}) {
			return errors.New("E060").WithDetail("consumer gone before shell")
		}
	}

	shellRow := sess.nextRow()
	body, err := shellBody(partial.InitialContent, symbolRef)
	if err != nil {
		return errors.New("E040").Wrap(err)
	}
	line := fmt.Sprintf("%d:%s\n", shellRow, body)
	if !send(ctx, chunks, Chunk{Data: []byte(line), Type: ChunkInitialShell, RowID: shellRow}) {
		return errors.New("E060").WithDetail("consumer gone before shell")
	}

	for _, boundary := range partial.Boundaries {
		rowID := sess.nextRow()
		if !sess.markSkeleton(boundary.ID, rowID) {
			e.logger.Warn("duplicate skeleton suppressed", "boundary", boundary.ID)
			continue
		}
		skeleton, err := skeletonBody(boundary, symbolRef)
		if err != nil {
			return errors.New("E040").Wrap(err)
		}
		line := fmt.Sprintf("%d:%s\n", rowID, skeleton)
		send(ctx, chunks, Chunk{
			Data:       []byte(line),
			Type:       ChunkModuleImport,
			RowID:      rowID,
			BoundaryID: boundary.ID,
		})
	}

	// Non-final sentinel: HTTP consumers flush the initial buffer here.
	send(ctx, chunks, Chunk{Data: []byte("STREAM_COMPLETE\n"), Type: ChunkStreamComplete})
	return nil
}

// coordinate drains updates and errors until both close, then finishes the
// stream.
func (e *Engine) coordinate(ctx context.Context, chunks chan<- Chunk, sess *session, layout LayoutStructure, updates <-chan BoundaryUpdate, errorsCh <-chan BoundaryError) {
	defer close(chunks)

	for updates != nil || errorsCh != nil {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			first, skeletonRemoved := sess.claimResolution(update.BoundaryID)
			if !first {
				e.logger.Warn("duplicate resolution dropped", "boundary", update.BoundaryID)
				continue
			}
			if !skeletonRemoved {
				e.logger.Warn("boundary resolved with no tracked skeleton", "boundary", update.BoundaryID)
			}
			if path, ok := layout.DOMPathFor(update.BoundaryID); ok {
				update.DOMPath = path
			} else if len(update.DOMPath) == 0 {
				e.logger.Warn("dom path missing for boundary", "boundary", update.BoundaryID)
			}
			update.RowID = sess.nextRow()
			if !send(ctx, chunks, updateChunk(update)) {
				return
			}
		case berr, ok := <-errorsCh:
			if !ok {
				errorsCh = nil
				continue
			}
			first, _ := sess.claimResolution(berr.BoundaryID)
			if !first {
				e.logger.Warn("duplicate boundary error dropped", "boundary", berr.BoundaryID)
				continue
			}
			berr.RowID = sess.nextRow()
			if !send(ctx, chunks, errorChunk(berr)) {
				return
			}
		}
	}

	if orphaned := sess.unresolvedSkeletons(); len(orphaned) > 0 {
		e.logger.Warn("stream completed with unresolved skeletons", "boundaries", orphaned)
	}

	send(ctx, chunks, Chunk{
		Data:    []byte("STREAM_COMPLETE\n"),
		Type:    ChunkStreamComplete,
		IsFinal: true,
	})
}

// runDeferredComponents executes queued deferred async components in one
// script, logging non-fatal per-promise failures.
func (e *Engine) runDeferredComponents(ctx context.Context) {
	result, err := e.rt.ExecuteScript(ctx, "<execute_deferred_components>", deferredExecutionScript)
	if err != nil {
		e.logger.Error("deferred component execution failed", "err", err)
		return
	}
	data, err := decodeScriptJSON(result)
	if err != nil {
		e.logger.Warn("unparseable deferred execution result", "err", err)
		return
	}
	results, _ := data["results"].([]any)
	for _, item := range results {
		entry, _ := item.(map[string]any)
		if entry == nil || entry["success"] == true {
			continue
		}
		e.logger.Warn("deferred component failed",
			"promise", entry["promiseId"],
			"component", entry["componentPath"],
			"err", entry["error"])
	}
}

// renderPartial runs the live render scripts and extracts the partial
// result, polling for completion up to the render timeout.
func (e *Engine) renderPartial(ctx context.Context, componentID string, props map[string]any) (PartialRenderResult, error) {
	var zero PartialRenderResult

	initResult, err := e.rt.ExecuteScript(ctx, "streaming-react-init", reactInitScript)
	if err != nil {
		return zero, err
	}
	initData, err := decodeScriptJSON(initResult)
	if err != nil || initData["available"] != true {
		return zero, errors.New("E001").WithDetail("React unavailable in streaming context")
	}

	if _, err := e.rt.ExecuteScript(ctx, "<streaming_init>", streamingInitScript); err != nil {
		return zero, err
	}

	propsJSON := "{}"
	if props != nil {
		data, err := json.Marshal(props)
		if err != nil {
			return zero, errors.New("E040").Wrap(err)
		}
		propsJSON = string(data)
	}

	setup := strings.NewReplacer(
		"{component_id}", jsonQuote(componentID),
		"{props_json}", propsJSON,
	).Replace(renderSetupScript)
	if _, err := e.rt.ExecuteScript(ctx, fmt.Sprintf("<setup_render_%s>", componentID), setup); err != nil {
		return zero, err
	}

	if _, err := e.rt.ExecuteScript(ctx, fmt.Sprintf("<start_render_%s>", componentID), renderStartScript); err != nil {
		return zero, err
	}

	deadline := time.Now().Add(e.renderTimeout)
	for {
		if time.Now().After(deadline) {
			return zero, errors.New("E062").WithDetail(componentID)
		}
		check, err := e.rt.ExecuteScript(ctx, fmt.Sprintf("<check_complete_%s>", componentID), renderCheckCompleteScript)
		if err != nil {
			return zero, err
		}
		data, err := decodeScriptJSON(check)
		if err == nil && data["complete"] == true {
			break
		}
		select {
		case <-ctx.Done():
			return zero, errors.New("E062").WithDetail(componentID).Wrap(ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}

	fetched, err := e.rt.ExecuteScript(ctx, fmt.Sprintf("<fetch_result_%s>", componentID), renderFetchResultScript)
	if err != nil {
		return zero, err
	}
	resultData, err := decodeScriptJSON(fetched)
	if err != nil {
		return zero, errors.New("E040").WithDetail("unparseable render result").Wrap(err)
	}
	if resultData["success"] != true {
		msg, _ := resultData["error"].(string)
		return zero, errors.Newf(errors.CategoryScriptExecution, "component render failed: %s", msg)
	}

	return extractPartialResult(resultData, componentID), nil
}

// extractPartialResult maps the script result shape onto Go types. Only
// boundaries with at least one pending promise stream.
func extractPartialResult(data map[string]any, componentID string) PartialRenderResult {
	pendingCounts := make(map[string]int)
	var promises []PendingSuspensePromise
	if rawPromises, ok := data["pending_promises"].([]any); ok {
		for _, item := range rawPromises {
			p, _ := item.(map[string]any)
			if p == nil {
				continue
			}
			id, _ := p["id"].(string)
			boundaryID, _ := p["boundaryId"].(string)
			if boundaryID == "" {
				boundaryID = "root"
			}
			componentPath, _ := p["componentPath"].(string)
			if componentPath == "" {
				componentPath = componentID
			}
			pendingCounts[boundaryID]++
			promises = append(promises, PendingSuspensePromise{
				ID:            id,
				BoundaryID:    boundaryID,
				ComponentPath: componentPath,
				Handle:        id,
			})
		}
	}

	var boundaries []SuspenseBoundaryInfo
	if rawBoundaries, ok := data["boundaries"].([]any); ok {
		for _, item := range rawBoundaries {
			b, _ := item.(map[string]any)
			if b == nil {
				continue
			}
			id, _ := b["id"].(string)
			count := pendingCounts[id]
			if count == 0 {
				continue
			}
			info := SuspenseBoundaryInfo{
				ID:                  id,
				FallbackContent:     b["fallback"],
				PendingPromiseCount: count,
				IsInContentArea:     b["isInContentArea"] == true,
			}
			if parentID, ok := b["parentId"].(string); ok {
				info.ParentBoundaryID = parentID
			}
			if rawPath, ok := b["parentPath"].([]any); ok {
				for _, seg := range rawPath {
					if s, ok := seg.(string); ok {
						info.ParentPath = append(info.ParentPath, s)
					}
				}
			}
			if rawDOM, ok := b["domPath"].([]any); ok {
				for _, seg := range rawDOM {
					if n, ok := seg.(float64); ok {
						info.DOMPath = append(info.DOMPath, int(n))
					}
				}
			}
			boundaries = append(boundaries, info)
		}
	}

	return PartialRenderResult{
		InitialContent:  data["rsc_data"],
		PendingPromises: promises,
		Boundaries:      boundaries,
		HasSuspense:     data["has_suspense"] == true || len(boundaries) > 0,
	}
}

// parseWirePartial reconstructs a partial result from a serialized wire
// payload for the replay path.
func parseWirePartial(wireFormat string) (PartialRenderResult, error) {
	var zero PartialRenderResult

	parsed, err := wire.Parse(wireFormat)
	if err != nil {
		return zero, err
	}

	boundaries := parsed.FindSuspenseBoundaries()
	promises := parsed.FindPromises()
	linkedBoundaries, linkedPromises := parsed.LinkPromisesToBoundaries(boundaries, promises)

	var infos []SuspenseBoundaryInfo
	for _, b := range linkedBoundaries {
		infos = append(infos, SuspenseBoundaryInfo{
			ID:                  b.BoundaryID,
			FallbackContent:     fallbackOrDefault(b.Fallback),
			PendingPromiseCount: len(b.PromiseIDs),
			IsInContentArea:     true,
			DOMPath:             []int{0},
		})
	}

	var pending []PendingSuspensePromise
	for _, p := range linkedPromises {
		if p.BoundaryID == "" {
			continue
		}
		pending = append(pending, PendingSuspensePromise{
			ID:            p.PromiseID,
			BoundaryID:    p.BoundaryID,
			ComponentPath: "async_component_" + p.PromiseID,
			Handle:        p.ElementRef,
		})
	}

	var initial any
	if root, ok := parsed.RootRow(); ok {
		_ = json.Unmarshal([]byte(root.Body), &initial)
	} else {
		for _, row := range parsed.Rows() {
			if row.Tag != 0 {
				continue
			}
			var v any
			if json.Unmarshal([]byte(row.Body), &v) == nil {
				initial = v
				break
			}
		}
	}
	if initial == nil {
		return zero, errors.New("E042").WithDetail("no element row in wire payload")
	}

	return PartialRenderResult{
		InitialContent:  initial,
		PendingPromises: pending,
		Boundaries:      infos,
		HasSuspense:     len(infos) > 0,
	}, nil
}

func fallbackOrDefault(v any) any {
	if v != nil {
		return v
	}
	return map[string]any{"type": "div", "props": map[string]any{"children": "Loading..."}}
}

// permissiveLayout builds an always-valid structure for paths that have no
// extracted layout: every boundary is treated as in-content with a root
// DOM path.
func permissiveLayout(boundaries []SuspenseBoundaryInfo) LayoutStructure {
	layout := LayoutStructure{NavigationPosition: -1, ContentPosition: -1}
	for _, b := range boundaries {
		path := b.DOMPath
		if len(path) == 0 {
			path = []int{0}
		}
		layout.SuspenseBoundaries = append(layout.SuspenseBoundaries, LayoutBoundary{
			BoundaryID:      b.ID,
			ParentPath:      b.ParentPath,
			DOMPath:         path,
			IsInContentArea: true,
		})
	}
	return layout
}

func send(ctx context.Context, chunks chan<- Chunk, chunk Chunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// updateChunk renders a boundary fill row.
func updateChunk(update BoundaryUpdate) Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:{\"boundary_id\":%s,\"content\":%s", update.RowID, jsonQuote(update.BoundaryID), jsonValue(update.Content))
	if len(update.DOMPath) > 0 {
		b.WriteString(",\"dom_path\":[")
		for i, n := range update.DOMPath {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%d", n)
		}
		b.WriteByte(']')
	}
	b.WriteString("}\n")

	return Chunk{
		Data:       []byte(b.String()),
		Type:       ChunkBoundaryUpdate,
		RowID:      update.RowID,
		BoundaryID: update.BoundaryID,
	}
}

// errorChunk renders a boundary error row. Only the boundary id and a
// short message cross the wire.
func errorChunk(berr BoundaryError) Chunk {
	line := fmt.Sprintf("%d:E{\"boundary_id\":%s,\"error\":%s}\n",
		berr.RowID, jsonQuote(berr.BoundaryID), jsonQuote(berr.Message))
	return Chunk{
		Data:       []byte(line),
		Type:       ChunkBoundaryError,
		RowID:      berr.RowID,
		BoundaryID: berr.BoundaryID,
	}
}

// shellBody converts extracted render JSON to the element-tuple form,
// rewriting suspense types to the symbol reference.
func shellBody(content any, symbolRef string) (string, error) {
	converted := convertShellValue(content, symbolRef)
	data, err := json.Marshal(converted)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func convertShellValue(v any, symbolRef string) any {
	switch val := v.(type) {
	case map[string]any:
		typ, hasType := val["type"]
		props, hasProps := val["props"]
		if hasType && hasProps {
			elementType := typ
			if s, ok := typ.(string); ok && s == "react.suspense" && symbolRef != "" {
				elementType = symbolRef
			}
			convertedProps := map[string]any{}
			if propsMap, ok := props.(map[string]any); ok {
				for k, pv := range propsMap {
					if k == "children" {
						convertedProps[k] = convertShellValue(pv, symbolRef)
					} else {
						convertedProps[k] = pv
					}
				}
			}
			return []any{"$", elementType, nil, convertedProps}
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = convertShellValue(item, symbolRef)
		}
		return out
	case []any:
		if len(val) == 4 {
			if marker, ok := val[0].(string); ok && marker == "$" {
				out := []any{"$", val[1], val[2], convertShellValue(val[3], symbolRef)}
				if s, ok := val[1].(string); ok && s == "react.suspense" && symbolRef != "" {
					out[1] = symbolRef
				}
				return out
			}
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertShellValue(item, symbolRef)
		}
		return out
	default:
		return v
	}
}

// skeletonBody renders a boundary's fallback shell row.
func skeletonBody(boundary SuspenseBoundaryInfo, symbolRef string) (string, error) {
	elementType := "react.suspense"
	if symbolRef != "" {
		elementType = symbolRef
	}
	fallback := convertShellValue(fallbackOrDefault(boundary.FallbackContent), symbolRef)
	fallbackJSON, err := json.Marshal(fallback)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`["$",%s,null,{"fallback":%s,"boundaryId":%s}]`,
		jsonQuote(elementType), fallbackJSON, jsonQuote(boundary.ID)), nil
}

// decodeScriptJSON normalizes script results: engines return either
// JSON-encoded strings or already-decoded maps.
func decodeScriptJSON(v any) (map[string]any, error) {
	switch val := v.(type) {
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil, err
		}
		return out, nil
	case map[string]any:
		return val, nil
	default:
		return nil, fmt.Errorf("unexpected script result type %T", v)
	}
}

func jsonQuote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

func jsonValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}
