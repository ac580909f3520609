package gojaengine

import (
	"fmt"
	"strings"
	"testing"
)

// mapResolver serves modules from a map.
type mapResolver map[string]string

func (m mapResolver) Resolve(specifier, referrer string) (string, error) {
	if _, ok := m[specifier]; ok {
		return specifier, nil
	}
	return "", fmt.Errorf("unknown specifier %q", specifier)
}

func (m mapResolver) Load(specifier string) (string, error) {
	src, ok := m[specifier]
	if !ok {
		return "", fmt.Errorf("unknown specifier %q", specifier)
	}
	return src, nil
}

func TestExecuteScript(t *testing.T) {
	e, err := New(mapResolver{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	v, err := e.ExecuteScript("<t>", "1 + 1")
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprintf("%v", v) != "2" {
		t.Errorf("v = %v", v)
	}
}

func TestExecuteScriptError(t *testing.T) {
	e, err := New(mapResolver{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := e.ExecuteScript("<t>", "throw new Error('nope')"); err == nil {
		t.Fatal("want error")
	}
}

func TestCallFunctionDottedPath(t *testing.T) {
	e, err := New(mapResolver{})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if _, err := e.ExecuteScript("<setup>", "globalThis.api = { double: function (n) { return n * 2; } }"); err != nil {
		t.Fatal(err)
	}
	v, err := e.CallFunction("api.double", []any{21})
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprintf("%v", v) != "42" {
		t.Errorf("v = %v", v)
	}
}

func TestModuleLoadEvaluateNamespace(t *testing.T) {
	sources := mapResolver{
		"file:///app/math.js": "export function add(a, b) { return a + b; }\nexport default 7;",
	}
	e, err := New(sources)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	id, err := e.LoadModule("file:///app/math.js")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.EvaluateModule(id); err != nil {
		t.Fatal(err)
	}

	ns, err := e.ModuleNamespace(id)
	if err != nil {
		t.Fatal(err)
	}
	exports, ok := ns.(map[string]any)
	if !ok {
		t.Fatalf("namespace type %T", ns)
	}
	if fmt.Sprintf("%v", exports["default"]) != "7" {
		t.Errorf("default = %v", exports["default"])
	}
}

func TestReEvaluationRefused(t *testing.T) {
	sources := mapResolver{"file:///m.js": "export default 1;"}
	e, err := New(sources)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	id, err := e.LoadModule("file:///m.js")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.EvaluateModule(id); err != nil {
		t.Fatal(err)
	}
	_, err = e.EvaluateModule(id)
	if err == nil || !strings.Contains(err.Error(), "already evaluated") {
		t.Errorf("err = %v", err)
	}
}

func TestModuleRequiresDependency(t *testing.T) {
	sources := mapResolver{
		"file:///app/main.js": `import { add } from "file:///app/math.js"; export default add(2, 3);`,
		"file:///app/math.js": "export function add(a, b) { return a + b; }",
	}
	e, err := New(sources)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	id, err := e.LoadModule("file:///app/main.js")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.EvaluateModule(id); err != nil {
		t.Fatal(err)
	}
	ns, err := e.ModuleNamespace(id)
	if err != nil {
		t.Fatal(err)
	}
	exports := ns.(map[string]any)
	if fmt.Sprintf("%v", exports["default"]) != "5" {
		t.Errorf("default = %v", exports["default"])
	}
}
