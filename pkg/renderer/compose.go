package renderer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rari-build/rari-go/internal/errors"
	"github.com/rari-build/rari-go/pkg/streaming"
)

// batchSection is one named step of the per-render setup batch.
type batchSection struct {
	name   string
	script string
}

// buildSetupBatch assembles the ordered setup script: clear the component
// environment, install promise tracking, augment the use hook, install the
// server-function resolver, and initialize isolation namespaces. Sections
// collect their errors into __batch_errors and the batch fails atomically.
func buildSetupBatch(componentID string) string {
	idJSON := jsonQuote(componentID)
	sections := []batchSection{
		{"clear_environment", sectionClearEnvironment},
		{"promise_helpers", sectionPromiseHelpers},
		{"use_hook", sectionUseHookAugmentation},
		{"server_functions", sectionServerFunctionResolver},
		{"isolation", strings.ReplaceAll(sectionIsolationNamespaces, "{component_id}", idJSON)},
	}

	var b strings.Builder
	b.WriteString("(function () {\n")
	b.WriteString("  globalThis.__batch_errors = [];\n")
	for _, s := range sections {
		fmt.Fprintf(&b, "  try {\n%s\n  } catch (err) { globalThis.__batch_errors.push({ section: %s, error: String(err && err.message || err) }); }\n",
			s.script, jsonQuote(s.name))
	}
	b.WriteString("  return JSON.stringify({ success: globalThis.__batch_errors.length === 0, errors: globalThis.__batch_errors });\n")
	b.WriteString("})()")
	return b.String()
}

// buildCompositionScript nests the page inside its layouts, outermost
// first, and extracts the structured result in the runtime.
func buildCompositionScript(layoutIDs []string, componentID string, propsJSON string) string {
	var b strings.Builder
	b.WriteString("(function () {\n")
	b.WriteString("  try {\n")
	fmt.Fprintf(&b, "    const page = globalThis.__rari_components[%s];\n", jsonQuote(componentID))
	fmt.Fprintf(&b, "    if (!page) { throw new Error(\"component not registered: \" + %s); }\n", jsonQuote(componentID))
	fmt.Fprintf(&b, "    let element = globalThis.React.createElement(page, %s);\n", propsJSON)
	for i := len(layoutIDs) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "    {\n      const layout = globalThis.__rari_components[%s];\n", jsonQuote(layoutIDs[i]))
		fmt.Fprintf(&b, "      if (!layout) { throw new Error(\"layout not registered: \" + %s); }\n", jsonQuote(layoutIDs[i]))
		b.WriteString("      element = globalThis.React.createElement(layout, { children: element });\n    }\n")
	}
	fmt.Fprintf(&b, "    const result = globalThis.renderToHTML.extract(element, %s);\n", jsonQuote(componentID))
	b.WriteString("    return JSON.stringify({ success: true, rsc_data: result.rsc_data, pending_promises: result.pending_promises, boundaries: result.boundaries, has_suspense: result.has_suspense, layout_structure: result.layout_structure });\n")
	b.WriteString("  } catch (err) {\n")
	b.WriteString("    return JSON.stringify({ success: false, error: String(err && err.message || err), error_stack: err && err.stack || \"\" });\n")
	b.WriteString("  }\n")
	b.WriteString("})()")
	return b.String()
}

// compositionResult is the decoded output of a composition run.
type compositionResult struct {
	RSCData         any
	PendingPromises []streaming.PendingSuspensePromise
	Boundaries      []streaming.SuspenseBoundaryInfo
	HasSuspense     bool
	Layout          streaming.LayoutStructure
}

// parseCompositionResult decodes the composition script's JSON payload.
func parseCompositionResult(raw any) (*compositionResult, error) {
	data, err := decodeJSONResult(raw)
	if err != nil {
		return nil, errors.New("E040").WithDetail("unparseable composition result").Wrap(err)
	}
	if data["success"] != true {
		msg, _ := data["error"].(string)
		return nil, errors.Newf(errors.CategoryScriptExecution, "composition failed: %s", msg)
	}

	out := &compositionResult{
		RSCData:     data["rsc_data"],
		HasSuspense: data["has_suspense"] == true,
	}

	pendingCounts := make(map[string]int)
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
			pendingCounts[boundaryID]++
			out.PendingPromises = append(out.PendingPromises, streaming.PendingSuspensePromise{
				ID:            id,
				BoundaryID:    boundaryID,
				ComponentPath: componentPath,
				Handle:        id,
			})
		}
	}

	out.Layout = streaming.LayoutStructure{NavigationPosition: -1, ContentPosition: -1}
	if ls, ok := data["layout_structure"].(map[string]any); ok {
		out.Layout.HasNavigation = ls["hasNavigation"] == true
		if ls["hasNavigation"] == true {
			out.Layout.NavigationPosition = 0
			out.Layout.ContentPosition = 1
			if ls["navigationBeforeContent"] != true {
				// Navigation after content: encode the inversion so
				// validation refuses to stream.
				out.Layout.NavigationPosition = 1
				out.Layout.ContentPosition = 0
			}
		} else if ls["contentSeen"] == true {
			out.Layout.ContentPosition = 0
		}
	}

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
			info := streaming.SuspenseBoundaryInfo{
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
					info.ParentPath = append(info.ParentPath, fmt.Sprintf("%v", seg))
				}
			}
			if rawDOM, ok := b["domPath"].([]any); ok {
				for _, seg := range rawDOM {
					if n, ok := seg.(float64); ok {
						info.DOMPath = append(info.DOMPath, int(n))
					}
				}
			}
			if len(info.DOMPath) == 0 {
				info.DOMPath = []int{0}
			}
			out.Boundaries = append(out.Boundaries, info)

			out.Layout.SuspenseBoundaries = append(out.Layout.SuspenseBoundaries, streaming.LayoutBoundary{
				BoundaryID:      id,
				ParentPath:      info.ParentPath,
				DOMPath:         info.DOMPath,
				IsInContentArea: info.IsInContentArea,
			})
		}
	}

	return out, nil
}

// decodeJSONResult accepts either a JSON string or a decoded map.
func decodeJSONResult(v any) (map[string]any, error) {
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
		return nil, fmt.Errorf("unexpected result type %T", v)
	}
}

func jsonQuote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
