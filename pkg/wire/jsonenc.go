package wire

import (
	"encoding/json"
	"sort"
	"strings"
)

// raw marks a string as pre-encoded JSON that must be embedded verbatim.
type raw string

// encodeValue renders a value as deterministic JSON. Object keys are
// emitted in sorted order with "children" pinned last, matching the row
// layout the browser-side reader expects. Strings pass through escapeText.
func encodeValue(v any) (string, error) {
	var b strings.Builder
	if err := writeValue(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeValue(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case raw:
		b.WriteString(string(val))
	case string:
		return writeString(b, escapeText(val))
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeValue(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		return writeObject(b, val)
	case Props:
		return writeObject(b, val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return err
		}
		b.Write(data)
	}
	return nil
}

func writeObject(b *strings.Builder, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	hasChildren := false
	for k := range obj {
		if k == "children" {
			hasChildren = true
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if hasChildren {
		keys = append(keys, "children")
	}

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeString(b, k); err != nil {
			return err
		}
		b.WriteByte(':')
		if err := writeValue(b, obj[k]); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func writeString(b *strings.Builder, s string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	b.Write(data)
	return nil
}

// orderedObject renders an object with an explicit key order, used for row
// bodies whose layout is fixed (suspense boundaries, error rows).
func orderedObject(pairs ...[2]any) (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := writeString(&b, p[0].(string)); err != nil {
			return "", err
		}
		b.WriteByte(':')
		if err := writeValue(&b, p[1]); err != nil {
			return "", err
		}
	}
	b.WriteByte('}')
	return b.String(), nil
}
