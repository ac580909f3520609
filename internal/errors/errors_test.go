package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewFromRegistry(t *testing.T) {
	err := New("E021")
	if err.Code != "E021" {
		t.Errorf("Code = %q, want E021", err.Code)
	}
	if err.Category != CategoryNotFound {
		t.Errorf("Category = %q, want not_found", err.Category)
	}
	if !strings.Contains(err.Error(), "E021") {
		t.Errorf("Error() = %q, want code prefix", err.Error())
	}
}

func TestNewUnknownCode(t *testing.T) {
	err := New("E999")
	if err.Message != "Unknown error" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := New("E002").Wrap(cause)
	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestIsMatchesCodeAndCategory(t *testing.T) {
	err := New("E003").WithDetail("script x")
	if !stderrors.Is(err, New("E003")) {
		t.Error("same-code errors should match")
	}
	if !stderrors.Is(err, &RariError{Category: CategoryTimeout}) {
		t.Error("category sentinel should match")
	}
	if stderrors.Is(err, New("E002")) {
		t.Error("different codes should not match")
	}
}

func TestCategoryOfWalksWrapChain(t *testing.T) {
	inner := New("E022")
	outer := Newf(CategoryModuleLoad, "load failed").Wrap(inner)
	if got := CategoryOf(outer); got != CategoryModuleLoad {
		t.Errorf("CategoryOf = %q, want module_load", got)
	}
	viaStd := fmt.Errorf("context: %w", inner)
	if got := CategoryOf(viaStd); got != CategoryNotFound {
		t.Errorf("CategoryOf(std wrap) = %q, want not_found", got)
	}
	wrapped := FromError(stderrors.New("io"), "E025")
	if !IsCategory(wrapped, CategoryModuleLoad) {
		t.Error("E025 should be module_load")
	}
}

func TestFormatContainsParts(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("E060").WithSuggestion("move the boundary inside the content area")
	out := err.Format()
	for _, want := range []string{"E060", "Invalid layout structure", "Hint:", "rari.dev/docs/errors/E060"} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q", want)
		}
	}
}

func TestRegisterCustomCode(t *testing.T) {
	Register("X001", ErrorTemplate{Category: CategoryCLI, Message: "custom"})
	if err := New("X001"); err.Message != "custom" {
		t.Errorf("custom template not used: %q", err.Message)
	}
	if _, ok := Lookup("X001"); !ok {
		t.Error("Lookup should find registered code")
	}
}
