package htmlstream

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// voidElements never get closing tags.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// internalProps never render as attributes.
var internalProps = map[string]bool{
	"children":    true,
	"fallback":    true,
	"key":         true,
	"boundaryId":  true,
	"~boundaryId": true,
	"dangerouslySetInnerHTML": true,
}

// renderValue writes the HTML for one decoded wire value: element tuples,
// child arrays, text, scalars, or null.
func (c *Converter) renderValue(w io.Writer, v any) error {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		_, err := io.WriteString(w, escapeHTML(unescapeWireText(val)))
		return err
	case bool:
		return nil
	case float64:
		_, err := fmt.Fprintf(w, "%v", val)
		return err
	case []any:
		if isElementTuple(val) {
			return c.renderElement(w, val)
		}
		for _, item := range val {
			if err := c.renderValue(w, item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		// {type, props} objects appear in fallback content extracted from
		// the runtime before tuple conversion.
		if typ, ok := val["type"].(string); ok {
			props, _ := val["props"].(map[string]any)
			return c.renderElement(w, []any{"$", typ, nil, props})
		}
		return nil
	default:
		return nil
	}
}

func isElementTuple(arr []any) bool {
	if len(arr) != 4 {
		return false
	}
	marker, ok := arr[0].(string)
	return ok && marker == "$"
}

// renderElement writes one ["$", type, key, props] tuple.
func (c *Converter) renderElement(w io.Writer, tuple []any) error {
	typ, _ := tuple[1].(string)
	props, _ := tuple[3].(map[string]any)

	switch {
	case strings.HasPrefix(typ, "$L"):
		return c.renderClientMarker(w, typ, props)
	case typ == "react.suspense" || isSymbolRef(typ, props):
		return c.renderSuspense(w, props)
	default:
		return c.renderServerElement(w, typ, props)
	}
}

// isSymbolRef recognizes a suspense element whose type is a by-value
// reference to the react.suspense symbol row.
func isSymbolRef(typ string, props map[string]any) bool {
	if !strings.HasPrefix(typ, "$") || strings.HasPrefix(typ, "$L") {
		return false
	}
	if props == nil {
		return false
	}
	_, hasFallback := props["fallback"]
	return hasFallback
}

// renderClientMarker emits the placeholder div the browser runtime hydrates.
func (c *Converter) renderClientMarker(w io.Writer, ref string, props map[string]any) error {
	if _, err := fmt.Fprintf(w, `<div data-client-ref="%s"`, escapeAttr(ref)); err != nil {
		return err
	}
	if err := c.renderAttributes(w, props); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "></div>"); err != nil {
		return err
	}
	return nil
}

// renderSuspense writes the boundary's fallback inside a template block the
// client swaps once the fill arrives.
func (c *Converter) renderSuspense(w io.Writer, props map[string]any) error {
	boundaryID, _ := props["boundaryId"].(string)
	if boundaryID == "" {
		boundaryID, _ = props["~boundaryId"].(string)
	}

	if boundaryID == "" {
		// No boundary id means this subtree never streams: render the
		// resolved children (or the fallback when children are pending).
		if children, ok := props["children"]; ok {
			if s, isRef := children.(string); !isRef || !strings.HasPrefix(s, "$") {
				return c.renderValue(w, children)
			}
		}
		return c.renderValue(w, props["fallback"])
	}

	if _, err := fmt.Fprintf(w, `<template id="B:%s">`, escapeAttr(boundaryID)); err != nil {
		return err
	}
	if err := c.renderValue(w, props["fallback"]); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</template>")
	return err
}

func (c *Converter) renderServerElement(w io.Writer, tag string, props map[string]any) error {
	if tag == "" {
		tag = "div"
	}

	if _, err := fmt.Fprintf(w, "<%s", tag); err != nil {
		return err
	}
	if err := c.renderAttributes(w, props); err != nil {
		return err
	}

	if voidElements[tag] {
		_, err := io.WriteString(w, ">")
		return err
	}

	if _, err := io.WriteString(w, ">"); err != nil {
		return err
	}

	if rawHTML, ok := innerHTML(props); ok {
		if _, err := io.WriteString(w, rawHTML); err != nil {
			return err
		}
	} else if children, ok := props["children"]; ok {
		if err := c.renderValue(w, children); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "</%s>", tag)
	return err
}

func innerHTML(props map[string]any) (string, bool) {
	raw, ok := props["dangerouslySetInnerHTML"]
	if !ok {
		return "", false
	}
	if m, ok := raw.(map[string]any); ok {
		if html, ok := m["__html"].(string); ok {
			return html, true
		}
	}
	if s, ok := raw.(string); ok {
		return s, true
	}
	return "", false
}

// renderAttributes writes element attributes in sorted order for
// deterministic output.
func (c *Converter) renderAttributes(w io.Writer, props map[string]any) error {
	if len(props) == 0 {
		return nil
	}

	keys := make([]string, 0, len(props))
	for key := range props {
		if internalProps[key] || strings.HasPrefix(key, "on") || strings.HasPrefix(key, "_") {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := props[key]
		name := key
		switch key {
		case "className":
			name = "class"
		case "htmlFor":
			name = "for"
		}

		switch v := value.(type) {
		case nil:
			continue
		case bool:
			if v {
				if _, err := fmt.Fprintf(w, " %s", name); err != nil {
					return err
				}
			}
		case string:
			if _, err := fmt.Fprintf(w, ` %s="%s"`, name, escapeAttr(unescapeWireText(v))); err != nil {
				return err
			}
		case float64:
			if _, err := fmt.Fprintf(w, ` %s="%v"`, name, v); err != nil {
				return err
			}
		case map[string]any:
			if name == "style" {
				if _, err := fmt.Fprintf(w, ` style="%s"`, escapeAttr(styleString(v))); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// styleString converts a style object to css text, camelCase keys lowered
// to kebab-case.
func styleString(style map[string]any) string {
	keys := make([]string, 0, len(style))
	for k := range style {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(kebabCase(k))
		b.WriteByte(':')
		fmt.Fprintf(&b, "%v", style[k])
	}
	return b.String()
}

func kebabCase(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// unescapeWireText reverses the serializer's leading-dollar escape.
func unescapeWireText(s string) string {
	if strings.HasPrefix(s, "$$") {
		return s[1:]
	}
	return s
}
