package reload

import (
	"context"
	"encoding/json"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ReloadModulesBatch reloads a set of components, concurrently when
// parallel reloads are enabled. Individual failures do not abort the
// batch; the first error is returned after all requests finish.
func (c *Controller) ReloadModulesBatch(ctx context.Context, requests []Request) error {
	if !c.cfg.Enabled || len(requests) == 0 {
		return nil
	}

	if !c.cfg.ParallelReloads {
		var firstErr error
		for _, req := range requests {
			if err := c.ReloadModule(ctx, req.ComponentID, req.FilePath); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	g, gctx := errgroup.WithContext(ctx)
	errs := make([]error, len(requests))
	for i, req := range requests {
		g.Go(func() error {
			errs[i] = c.ReloadModule(gctx, req.ComponentID, req.FilePath)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// buildReRegisterScript wraps a transformed source so evaluating it
// replaces the component registration in place.
func buildReRegisterScript(componentID, code string) string {
	var b strings.Builder
	b.WriteString("(function () {\n  try {\n")
	b.WriteString("    const exportsObj = {};\n    const moduleObj = { exports: exportsObj };\n")
	b.WriteString("    (function (module, exports, require) {\n")
	b.WriteString(code)
	b.WriteString("\n    })(moduleObj, exportsObj, globalThis.__rari_require);\n")
	b.WriteString("    const component = moduleObj.exports.default || moduleObj.exports;\n")
	b.WriteString("    if (typeof component !== \"function\") {\n")
	b.WriteString("      return JSON.stringify({ success: false, error: \"default export is not a function\" });\n")
	b.WriteString("    }\n")
	b.WriteString("    globalThis.registerModule(" + jsonQuote(componentID) + ", component);\n")
	b.WriteString("    return JSON.stringify({ success: true });\n")
	b.WriteString("  } catch (err) {\n")
	b.WriteString("    return JSON.stringify({ success: false, error: String(err && err.message || err) });\n")
	b.WriteString("  }\n})()")
	return b.String()
}

// reRegisterSucceeded decodes a {success, error?} or {ok} script result.
func reRegisterSucceeded(v any) (bool, string) {
	var data map[string]any
	switch val := v.(type) {
	case string:
		if err := json.Unmarshal([]byte(val), &data); err != nil {
			return false, "unparseable result"
		}
	case map[string]any:
		data = val
	default:
		return false, "unexpected result type"
	}
	if data["success"] == true || data["ok"] == true {
		return true, ""
	}
	detail, _ := data["error"].(string)
	return false, detail
}

func jsonQuote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
