package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/rari-build/rari-go/pkg/htmlstream"
	"github.com/rari-build/rari-go/pkg/renderer"
	"github.com/rari-build/rari-go/pkg/runtime"
	"github.com/rari-build/rari-go/pkg/streaming"
)

// rscContentType is the wire-format media type the browser runtime reads.
const rscContentType = "text/x-component; charset=utf-8"

// handleRender serves page requests in either render mode. A not-found
// route entry still renders, with a 404 status.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	match, ok := s.resolve(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	reqCtx := requestContext(r)
	mode := renderer.ParseRenderMode(r.Header.Get("x-render-mode"))

	status := http.StatusOK
	if match.IsNotFound {
		status = http.StatusNotFound
	}

	if mode == renderer.ModeRSCNavigation {
		payload, err := s.renderer.RenderRouteByMode(r.Context(), match, mode, &reqCtx)
		if err != nil {
			s.logger.Error("rsc render failed", "path", r.URL.Path, "err", err)
			http.Error(w, "render failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", rscContentType)
		w.WriteHeader(status)
		w.Write([]byte(payload))
		return
	}

	result, err := s.renderer.RenderRouteToHTMLDirect(r.Context(), match, &reqCtx)
	if err != nil {
		s.logger.Error("render failed", "path", r.URL.Path, "err", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	switch result.Kind {
	case renderer.ResultStreaming:
		w.WriteHeader(status)
		s.streamHTML(w, r, result.Stream)
	default:
		w.WriteHeader(status)
		w.Write([]byte(result.HTML))
		if result.Kind == renderer.ResultStaticWithPayload && result.Payload != "" {
			writeEmbeddedPayload(w, result.Payload)
		}
	}
}

// streamHTML drives the converter over a live stream; the non-final
// sentinel flushes the shell.
func (s *Server) streamHTML(w http.ResponseWriter, r *http.Request, stream *streaming.Stream) {
	defer stream.Close()

	converter := htmlstream.NewConverter(w, htmlstream.ShellConfig{}).WithLogger(s.logger)
	for {
		chunk, ok := stream.Next(r.Context())
		if !ok {
			return
		}
		converter.Consume(chunk)
		if chunk.IsFinal {
			return
		}
	}
}

// writeEmbeddedPayload ships the wire payload alongside static HTML so the
// browser runtime hydrates without a second request.
func writeEmbeddedPayload(w http.ResponseWriter, payload string) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	w.Write([]byte(`<script type="application/json" id="__rari_payload">`))
	w.Write(data)
	w.Write([]byte(`</script>`))
}

// handleServerFunction invokes a registered server function with a JSON
// argument array.
func (s *Server) handleServerFunction(w http.ResponseWriter, r *http.Request) {
	functionID := chi.URLParam(r, "functionID")
	exportName := chi.URLParam(r, "exportName")

	var args []any
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil && err.Error() != "EOF" {
			http.Error(w, "invalid argument payload", http.StatusBadRequest)
			return
		}
	}

	result, err := s.renderer.ExecuteServerFunction(r.Context(), functionID, exportName, args)
	if err != nil {
		s.logger.Error("server function failed", "function", functionID, "export", exportName, "err", err)
		http.Error(w, "server function failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"result": result})
}

// requestContext captures the immutable per-request view scripts consume.
func requestContext(r *http.Request) runtime.RequestContext {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = uuid.NewString()
	}
	return runtime.RequestContext{
		ID:       id,
		Pathname: r.URL.Path,
		Headers:  headers,
	}
}
