package streaming

import (
	"context"
	"strings"
	"testing"
	"time"
)

const liveRenderResult = `{"success":true,
"rsc_data":{"type":"main","props":{"children":{"type":"react.suspense","props":{"~boundaryId":"B1","children":"$@p1"}}}},
"pending_promises":[{"id":"p1","boundaryId":"B1","componentPath":"Feed"}],
"boundaries":[{"id":"B1","fallback":{"type":"div","props":{"children":"Loading feed"}},"isInContentArea":true}],
"has_suspense":true}`

func TestLiveStreamingRendersAndResolves(t *testing.T) {
	eng := newScriptedEngine()
	eng.answer("streaming-react-init", `{"available":true}`)
	eng.answer("<check_complete_Feed>", `{"complete":true}`)
	eng.answer("<fetch_result_Feed>", liveRenderResult)
	eng.answer("<promise_resolution_p1>", `{"success":true,"content":"feed loaded"}`)

	e := newStreamingEngine(t, eng)

	stream, err := e.StartStreaming(context.Background(), "Feed", map[string]any{"page": 1.0})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	chunks := stream.Collect(ctx)

	var sawSymbol, sawSkeleton, sawUpdate, sawFinal bool
	for _, chunk := range chunks {
		data := string(chunk.Data)
		if strings.Contains(data, "$Sreact.suspense") {
			sawSymbol = true
		}
		if chunk.Type == ChunkModuleImport && chunk.BoundaryID == "B1" {
			sawSkeleton = true
			if !strings.Contains(data, "Loading feed") {
				t.Errorf("skeleton without fallback: %q", data)
			}
		}
		if chunk.Type == ChunkBoundaryUpdate && strings.Contains(data, "feed loaded") {
			sawUpdate = true
		}
		if chunk.IsFinal {
			sawFinal = true
		}
	}
	if !sawSymbol || !sawSkeleton || !sawUpdate || !sawFinal {
		t.Errorf("symbol=%v skeleton=%v update=%v final=%v\n%v",
			sawSymbol, sawSkeleton, sawUpdate, sawFinal, chunkSummaries(chunks))
	}
}

func TestLiveStreamingReactUnavailable(t *testing.T) {
	eng := newScriptedEngine()
	eng.answer("streaming-react-init", `{"available":false}`)
	e := newStreamingEngine(t, eng)

	if _, err := e.StartStreaming(context.Background(), "Feed", nil); err == nil {
		t.Fatal("want initialization error")
	}
}

func TestLiveStreamingTimesOutWhenNeverComplete(t *testing.T) {
	eng := newScriptedEngine()
	eng.answer("streaming-react-init", `{"available":true}`)
	eng.answer("<check_complete_Feed>", `{"complete":false}`)
	e := newStreamingEngine(t, eng).WithRenderTimeout(100 * time.Millisecond)

	start := time.Now()
	_, err := e.StartStreaming(context.Background(), "Feed", nil)
	if err == nil {
		t.Fatal("want timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}
