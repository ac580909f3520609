package streaming

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rari-build/rari-go/pkg/runtime"
)

// resolver runs per-promise resolution scripts in the runtime and feeds
// updates and errors back to the coordinator.
type resolver struct {
	rt      *runtime.Runtime
	logger  *slog.Logger
	updates chan<- BoundaryUpdate
	errors  chan<- BoundaryError
}

func newResolver(rt *runtime.Runtime, logger *slog.Logger, updates chan<- BoundaryUpdate, errors chan<- BoundaryError) *resolver {
	return &resolver{rt: rt, logger: logger, updates: updates, errors: errors}
}

// resolve executes one promise's resolution script and emits exactly one
// update or error.
func (r *resolver) resolve(ctx context.Context, promise PendingSuspensePromise) {
	script := strings.NewReplacer(
		"{promise_id}", jsonQuote(promise.ID),
		"{boundary_id}", jsonQuote(promise.BoundaryID),
		"{component_path}", jsonQuote(promise.ComponentPath),
	).Replace(promiseResolutionScript)

	scriptName := fmt.Sprintf("<promise_resolution_%s>", promise.ID)

	result, err := r.rt.ExecuteScript(ctx, scriptName, script)
	if err != nil {
		r.fail(ctx, promise.BoundaryID, fmt.Sprintf("failed to execute promise: %v", err))
		return
	}

	data, err := decodeScriptJSON(result)
	if err != nil {
		r.logger.Error("unparseable promise resolution result",
			"boundary", promise.BoundaryID, "promise", promise.ID, "err", err)
		r.fail(ctx, promise.BoundaryID, fmt.Sprintf("failed to parse promise result: %v", err))
		return
	}

	if data["success"] != true {
		msg, _ := data["error"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		if errCtx, ok := data["errorContext"].(map[string]any); ok {
			r.logger.Error("promise resolution failed",
				"boundary", promise.BoundaryID,
				"promise", promise.ID,
				"phase", errCtx["phase"],
				"component", errCtx["componentPath"],
				"err", msg)
		} else {
			r.logger.Error("promise resolution failed",
				"boundary", promise.BoundaryID, "promise", promise.ID, "err", msg)
		}
		r.fail(ctx, promise.BoundaryID, msg)
		return
	}

	// Row ids are assigned by the coordinator at forward time so the
	// emitted stream stays strictly monotonic regardless of which
	// resolution lands first.
	update := BoundaryUpdate{
		BoundaryID: promise.BoundaryID,
		Content:    data["content"],
	}
	select {
	case r.updates <- update:
	case <-ctx.Done():
	}
}

func (r *resolver) fail(ctx context.Context, boundaryID, message string) {
	berr := BoundaryError{
		BoundaryID: boundaryID,
		Message:    message,
	}
	select {
	case r.errors <- berr:
	case <-ctx.Done():
	}
}
