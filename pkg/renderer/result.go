package renderer

import (
	"github.com/rari-build/rari-go/pkg/streaming"
)

// RenderMode selects the response shape for a route render.
type RenderMode int

const (
	// ModeSSR returns a full HTML document.
	ModeSSR RenderMode = iota
	// ModeRSCNavigation returns the wire-format payload for client-side
	// navigation.
	ModeRSCNavigation
)

// ParseRenderMode maps the x-render-mode header value onto a mode.
func ParseRenderMode(s string) RenderMode {
	switch s {
	case "RscNavigation", "rsc", "rsc-navigation":
		return ModeRSCNavigation
	default:
		return ModeSSR
	}
}

// ResultKind discriminates render outcomes.
type ResultKind int

const (
	// ResultStatic is plain HTML with no embedded payload.
	ResultStatic ResultKind = iota
	// ResultStaticWithPayload is HTML plus the serialized wire payload for
	// hydration.
	ResultStaticWithPayload
	// ResultStreaming carries a live chunk stream.
	ResultStreaming
)

// RenderResult is the outcome of an HTML-producing render.
type RenderResult struct {
	Kind    ResultKind
	HTML    string
	Payload string
	Stream  *streaming.Stream
}

// RouteMatch is the resolved route handed in by the HTTP layer: the page
// component, its enclosing layouts outermost-first, and path params.
type RouteMatch struct {
	ComponentID string
	LayoutIDs   []string
	Params      map[string]string
	IsNotFound  bool
}
