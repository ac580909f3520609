package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rari-build/rari-go/pkg/renderer"
	"github.com/rari-build/rari-go/pkg/runtime"
)

// fakeRenderer scripts route render outcomes.
type fakeRenderer struct {
	htmlResult renderer.RenderResult
	rscPayload string
	lastMode   renderer.RenderMode
	lastMatch  renderer.RouteMatch
	lastReq    *runtime.RequestContext
	fnCalls    []string
}

func (f *fakeRenderer) RenderRouteToHTMLDirect(ctx context.Context, match renderer.RouteMatch, reqCtx *runtime.RequestContext) (renderer.RenderResult, error) {
	f.lastMatch = match
	f.lastReq = reqCtx
	return f.htmlResult, nil
}

func (f *fakeRenderer) RenderRouteByMode(ctx context.Context, match renderer.RouteMatch, mode renderer.RenderMode, reqCtx *runtime.RequestContext) (string, error) {
	f.lastMode = mode
	f.lastMatch = match
	f.lastReq = reqCtx
	return f.rscPayload, nil
}

func (f *fakeRenderer) ExecuteServerFunction(ctx context.Context, functionID, exportName string, args []any) (any, error) {
	f.fnCalls = append(f.fnCalls, functionID+"#"+exportName)
	return map[string]any{"ok": true, "args": len(args)}, nil
}

func staticResolver(match renderer.RouteMatch, ok bool) RouteResolver {
	return func(path string) (renderer.RouteMatch, bool) {
		return match, ok
	}
}

func TestSSRRendering(t *testing.T) {
	f := &fakeRenderer{htmlResult: renderer.RenderResult{
		Kind:    renderer.ResultStaticWithPayload,
		HTML:    "<html><body>page</body></html>",
		Payload: `0:["$","div",null,{}]`,
	}}
	s := New(Config{}, f, staticResolver(renderer.RouteMatch{ComponentID: "Page"}, true))

	req := httptest.NewRequest(http.MethodGet, "/about", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.Contains(string(body), "page") {
		t.Errorf("body = %s", body)
	}
	if !strings.Contains(string(body), "__rari_payload") {
		t.Errorf("embedded payload missing: %s", body)
	}
	if f.lastReq == nil || f.lastReq.Pathname != "/about" {
		t.Errorf("request context = %+v", f.lastReq)
	}
}

func TestRSCNavigationMode(t *testing.T) {
	f := &fakeRenderer{rscPayload: `0:["$","div",null,{"children":"hi"}]`}
	s := New(Config{}, f, staticResolver(renderer.RouteMatch{ComponentID: "Page"}, true))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-render-mode", "RscNavigation")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/x-component") {
		t.Errorf("content type = %s", got)
	}
	if f.lastMode != renderer.ModeRSCNavigation {
		t.Errorf("mode = %v", f.lastMode)
	}
	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.HasPrefix(string(body), "0:[") {
		t.Errorf("body = %s", body)
	}
}

func TestNotFoundRouteEntryGets404(t *testing.T) {
	f := &fakeRenderer{htmlResult: renderer.RenderResult{
		Kind: renderer.ResultStatic,
		HTML: "<html>not found page</html>",
	}}
	s := New(Config{}, f, staticResolver(renderer.RouteMatch{ComponentID: "NotFound", IsNotFound: true}, true))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.Contains(string(body), "not found page") {
		t.Errorf("404 should still render the route: %s", body)
	}
}

func TestUnresolvedPathIsPlain404(t *testing.T) {
	f := &fakeRenderer{}
	s := New(Config{}, f, staticResolver(renderer.RouteMatch{}, false))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestServerFunctionEndpoint(t *testing.T) {
	f := &fakeRenderer{}
	s := New(Config{}, f, staticResolver(renderer.RouteMatch{}, false))

	req := httptest.NewRequest(http.MethodPost, "/_rari/fn/actions/submitForm", strings.NewReader(`[1,"two"]`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(f.fnCalls) != 1 || f.fnCalls[0] != "actions#submitForm" {
		t.Errorf("fn calls = %v", f.fnCalls)
	}
	if !strings.Contains(rec.Body.String(), `"result"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestMetricsEndpointMounted(t *testing.T) {
	f := &fakeRenderer{htmlResult: renderer.RenderResult{Kind: renderer.ResultStatic, HTML: "<html></html>"}}
	s := New(Config{EnableMetrics: true}, f, staticResolver(renderer.RouteMatch{ComponentID: "Page"}, true))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}

func TestAddrDefaults(t *testing.T) {
	s := New(Config{}, &fakeRenderer{}, staticResolver(renderer.RouteMatch{}, false))
	if s.Addr() != "localhost:3000" {
		t.Errorf("addr = %s", s.Addr())
	}
}
