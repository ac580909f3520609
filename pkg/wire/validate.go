package wire

import (
	"fmt"
	"reflect"
	"strings"
)

// ValidationErrorType classifies a rejected prop value.
type ValidationErrorType string

const (
	ValidationNonSerializable   ValidationErrorType = "non_serializable"
	ValidationCircularReference ValidationErrorType = "circular_reference"
	ValidationFunctionFound     ValidationErrorType = "function_found"
)

// ValidationError describes one rejected value inside a prop tree.
type ValidationError struct {
	FieldPath string
	Type      ValidationErrorType
	Message   string
}

// validateProp walks a processed prop value. Rejected values are replaced
// with nil in the returned copy; the original keys and shape are preserved.
func validateProp(fieldPath string, value any) (any, []ValidationError) {
	var errs []ValidationError
	visited := make(map[uintptr]bool)
	out := validateValue(fieldPath, value, visited, &errs)
	return out, errs
}

func validateValue(fieldPath string, value any, visited map[uintptr]bool, errs *[]ValidationError) any {
	switch v := value.(type) {
	case nil, bool, float64, int, int64, uint32, raw:
		return v

	case string:
		if isLikelyFunctionSource(v) {
			*errs = append(*errs, ValidationError{
				FieldPath: fieldPath,
				Type:      ValidationFunctionFound,
				Message:   fmt.Sprintf("functions are not serializable in props: %q", fieldPath),
			})
			return nil
		}
		if strings.Contains(v, "Symbol(") || strings.Contains(v, "Object [object") {
			*errs = append(*errs, ValidationError{
				FieldPath: fieldPath,
				Type:      ValidationNonSerializable,
				Message:   fmt.Sprintf("non-serializable content in prop %q: %s", fieldPath, v),
			})
			return nil
		}
		return v

	case []any:
		ptr := reflect.ValueOf(v).Pointer()
		if visited[ptr] {
			*errs = append(*errs, ValidationError{
				FieldPath: fieldPath,
				Type:      ValidationCircularReference,
				Message:   fmt.Sprintf("circular reference in prop %q", fieldPath),
			})
			return nil
		}
		visited[ptr] = true
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = validateValue(fmt.Sprintf("%s[%d]", fieldPath, i), item, visited, errs)
		}
		delete(visited, ptr)
		return out

	case map[string]any:
		return validateMap(fieldPath, v, visited, errs)

	case Props:
		return validateMap(fieldPath, map[string]any(v), visited, errs)

	default:
		// Non-JSON values (func, chan, struct) cannot cross the wire.
		rv := reflect.ValueOf(value)
		if rv.Kind() == reflect.Func || rv.Kind() == reflect.Chan {
			*errs = append(*errs, ValidationError{
				FieldPath: fieldPath,
				Type:      ValidationFunctionFound,
				Message:   fmt.Sprintf("go value of kind %s in prop %q", rv.Kind(), fieldPath),
			})
			return nil
		}
		return value
	}
}

func validateMap(fieldPath string, m map[string]any, visited map[uintptr]bool, errs *[]ValidationError) any {
	ptr := reflect.ValueOf(m).Pointer()
	if visited[ptr] {
		*errs = append(*errs, ValidationError{
			FieldPath: fieldPath,
			Type:      ValidationCircularReference,
			Message:   fmt.Sprintf("circular reference in prop %q", fieldPath),
		})
		return nil
	}
	visited[ptr] = true
	out := make(map[string]any, len(m))
	for k, v := range m {
		nested := k
		if fieldPath != "" {
			nested = fieldPath + "." + k
		}
		out[k] = validateValue(nested, v, visited, errs)
	}
	delete(visited, ptr)
	return out
}

// isLikelyFunctionSource detects strings that look like serialized function
// bodies. Markup-bearing and long strings are never flagged.
func isLikelyFunctionSource(s string) bool {
	if strings.Contains(s, "<") || strings.Contains(s, "&lt;") {
		return false
	}
	if len(s) > 500 {
		return false
	}
	if strings.HasPrefix(s, "function") && strings.Contains(s, "(") && strings.Contains(s, ")") {
		return true
	}
	if strings.HasPrefix(s, "(") && strings.Contains(s, "=>") && len(s) < 100 {
		return true
	}
	return strings.HasPrefix(s, "async function") && strings.Contains(s, "(")
}
