package htmlstream

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rari-build/rari-go/pkg/streaming"
)

func shellChunk(data string) streaming.Chunk {
	return streaming.Chunk{Data: []byte(data), Type: streaming.ChunkInitialShell}
}

func TestShellRendering(t *testing.T) {
	var buf bytes.Buffer
	c := NewConverter(&buf, ShellConfig{Title: "Demo"})

	c.Consume(shellChunk(`0:["$","main",null,{"className":"app","children":"hello"}]` + "\n"))
	c.Consume(streaming.Chunk{Data: []byte("STREAM_COMPLETE\n"), Type: streaming.ChunkStreamComplete, IsFinal: true})

	out := buf.String()
	for _, want := range []string{
		"<!DOCTYPE html>",
		"<title>Demo</title>",
		`<div id="root">`,
		`<main class="app">hello</main>`,
		"</div>\n</body>\n</html>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestSymbolRowSkipped(t *testing.T) {
	var buf bytes.Buffer
	c := NewConverter(&buf, ShellConfig{})

	c.Consume(shellChunk("0:\"$Sreact.suspense\"\n"))
	c.Consume(shellChunk(`1:["$","div",null,{"children":"x"}]` + "\n"))
	c.Consume(streaming.Chunk{Type: streaming.ChunkStreamComplete, IsFinal: true})

	out := buf.String()
	if strings.Contains(out, "react.suspense") {
		t.Errorf("symbol row leaked into HTML:\n%s", out)
	}
	if !strings.Contains(out, "<div>x</div>") {
		t.Errorf("element row not rendered:\n%s", out)
	}
}

func TestSuspenseFallbackTemplate(t *testing.T) {
	var buf bytes.Buffer
	c := NewConverter(&buf, ShellConfig{})

	row := `2:["$","$0",null,{"fallback":["$","div",null,{"children":"Loading"}],"boundaryId":"B1"}]` + "\n"
	c.Consume(streaming.Chunk{Data: []byte(row), Type: streaming.ChunkModuleImport, BoundaryID: "B1"})

	out := buf.String()
	if !strings.Contains(out, `<template id="B:B1">`) {
		t.Errorf("missing skeleton template:\n%s", out)
	}
	if !strings.Contains(out, "<div>Loading</div>") {
		t.Errorf("fallback not rendered:\n%s", out)
	}
}

func TestBoundaryUpdateEmitsSwap(t *testing.T) {
	var buf bytes.Buffer
	c := NewConverter(&buf, ShellConfig{})

	row := `3:{"boundary_id":"B1","content":["$","section",null,{"children":"done"}],"dom_path":[0]}` + "\n"
	c.Consume(streaming.Chunk{Data: []byte(row), Type: streaming.ChunkBoundaryUpdate, BoundaryID: "B1"})

	out := buf.String()
	if !strings.Contains(out, `<template id="U:B1"><section>done</section></template>`) {
		t.Errorf("missing update template:\n%s", out)
	}
	if !strings.Contains(out, `document.getElementById("U:B1")`) {
		t.Errorf("missing swap script:\n%s", out)
	}
}

func TestBoundaryErrorHidesDetails(t *testing.T) {
	var buf bytes.Buffer
	c := NewConverter(&buf, ShellConfig{})

	row := `4:E{"boundary_id":"B1","error":"TypeError: secret.internal is undefined"}` + "\n"
	c.Consume(streaming.Chunk{Data: []byte(row), Type: streaming.ChunkBoundaryError, BoundaryID: "B1"})

	out := buf.String()
	if strings.Contains(out, "secret.internal") {
		t.Errorf("internal error detail leaked:\n%s", out)
	}
	if !strings.Contains(out, `data-boundary-error="B1"`) {
		t.Errorf("missing error marker:\n%s", out)
	}
}

func TestClientReferenceMarker(t *testing.T) {
	var buf bytes.Buffer
	c := NewConverter(&buf, ShellConfig{})

	c.Consume(shellChunk(`0:["$","$L1",null,{"children":"Click"}]` + "\n"))

	out := buf.String()
	if !strings.Contains(out, `<div data-client-ref="$L1"`) {
		t.Errorf("missing client marker:\n%s", out)
	}
}

func TestTextEscaping(t *testing.T) {
	var buf bytes.Buffer
	c := NewConverter(&buf, ShellConfig{})

	c.Consume(shellChunk(`0:["$","p",null,{"children":"<script>alert(1)</script>"}]` + "\n"))

	out := buf.String()
	if strings.Contains(out, "<script>alert") {
		t.Errorf("unescaped markup:\n%s", out)
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Errorf("expected escaped text:\n%s", out)
	}
}

func TestStyleObjectAndAttributeMapping(t *testing.T) {
	var buf bytes.Buffer
	c := NewConverter(&buf, ShellConfig{})

	row := `0:["$","label",null,{"className":"lbl","htmlFor":"name","style":{"backgroundColor":"red"},"children":"Name"}]` + "\n"
	c.Consume(shellChunk(row))

	out := buf.String()
	for _, want := range []string{`class="lbl"`, `for="name"`, `style="background-color:red"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestFlushOnSentinel(t *testing.T) {
	fw := &FlushableWriter{Writer: &bytes.Buffer{}}
	c := NewConverter(fw, ShellConfig{})

	c.Consume(shellChunk(`0:["$","div",null,{}]` + "\n"))
	c.Consume(streaming.Chunk{Data: []byte("STREAM_COMPLETE\n"), Type: streaming.ChunkStreamComplete})

	if fw.FlushCount == 0 {
		t.Error("sentinel should flush the initial buffer")
	}
}

// brokenWriter fails after n writes.
type brokenWriter struct {
	n int
}

func (b *brokenWriter) Write(p []byte) (int, error) {
	if b.n <= 0 {
		return 0, errors.New("broken pipe")
	}
	b.n--
	return len(p), nil
}

func TestBrokenPipeStopsQuietly(t *testing.T) {
	c := NewConverter(&brokenWriter{n: 1}, ShellConfig{})

	c.Consume(shellChunk(`0:["$","div",null,{"children":"a"}]` + "\n"))
	// Subsequent chunks are no-ops, not panics.
	c.Consume(shellChunk(`1:["$","div",null,{"children":"b"}]` + "\n"))
	c.Consume(streaming.Chunk{Type: streaming.ChunkStreamComplete, IsFinal: true})

	if c.shouldContinue.Load() {
		t.Error("converter should stop after a write failure")
	}
}
