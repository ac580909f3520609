// Package errors provides structured, actionable error messages for rari.
//
// Each error carries a stable code (e.g. "E021"), a category matching the
// engine's error taxonomy (not_found, module_load, timeout, ...), an
// optional source location, and an optional wrapped cause. Errors are
// compatible with the standard errors.Is/As machinery; category sentinels
// can be matched with IsCategory.
//
// Usage:
//
//	err := errors.New("E022").
//	    WithDetailf("specifier %q", spec).
//	    Wrap(cause)
//
//	if errors.IsCategory(err, errors.CategoryNotFound) { ... }
package errors
