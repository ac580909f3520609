package htmlstream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/rari-build/rari-go/pkg/streaming"
)

// ShellConfig customizes the HTML document wrapper.
type ShellConfig struct {
	// Lang is the html lang attribute (default "en").
	Lang string

	// Title is the document title.
	Title string

	// HeadExtra is injected verbatim before </head> (asset links, meta
	// tags); callers own its safety.
	HeadExtra string
}

// Converter consumes stream chunks in order and produces an HTML byte
// stream: a shell, progressive boundary fills, and an end-of-stream flush.
//
// The converter is failure tolerant: a broken pipe flips shouldContinue and
// every later chunk becomes a no-op instead of an error.
type Converter struct {
	w       io.Writer
	flusher http.Flusher
	shell   ShellConfig
	logger  *slog.Logger

	shouldContinue atomic.Bool
	wroteShell     bool
	closedShell    bool
}

// NewConverter creates a converter writing to w. If w implements
// http.Flusher, output is flushed at the shell sentinel and after every
// fill.
func NewConverter(w io.Writer, shell ShellConfig) *Converter {
	if shell.Lang == "" {
		shell.Lang = "en"
	}
	flusher, _ := w.(http.Flusher)
	c := &Converter{w: w, flusher: flusher, shell: shell, logger: slog.Default()}
	c.shouldContinue.Store(true)
	return c
}

// WithLogger overrides the converter logger.
func (c *Converter) WithLogger(logger *slog.Logger) *Converter {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// Consume processes one chunk. Errors from the underlying writer stop all
// further work without propagating.
func (c *Converter) Consume(chunk streaming.Chunk) {
	if !c.shouldContinue.Load() {
		return
	}

	var err error
	switch chunk.Type {
	case streaming.ChunkInitialShell, streaming.ChunkModuleImport:
		err = c.consumeShellRow(chunk)
	case streaming.ChunkBoundaryUpdate:
		err = c.consumeBoundaryUpdate(chunk)
	case streaming.ChunkBoundaryError:
		err = c.consumeBoundaryError(chunk)
	case streaming.ChunkStreamComplete:
		if chunk.IsFinal {
			err = c.finish()
		} else {
			c.flush()
		}
	}

	if err != nil {
		c.logger.Debug("html stream consumer gone", "err", err)
		c.shouldContinue.Store(false)
	}
}

// ConsumeAll drains a stream to completion.
func (c *Converter) ConsumeAll(chunks []streaming.Chunk) {
	for _, chunk := range chunks {
		c.Consume(chunk)
	}
}

// consumeShellRow renders element rows of the initial shell; symbol rows
// and other non-element rows only matter to the wire consumer.
func (c *Converter) consumeShellRow(chunk streaming.Chunk) error {
	if !c.wroteShell {
		if err := c.writeShellPrefix(); err != nil {
			return err
		}
		c.wroteShell = true
	}

	body, ok := rowBody(chunk.Data)
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil
	}
	// Skip non-element rows (symbol strings, scalars).
	if _, isString := v.(string); isString {
		return nil
	}
	return c.renderValue(c.w, v)
}

func (c *Converter) consumeBoundaryUpdate(chunk streaming.Chunk) error {
	body, ok := rowBody(chunk.Data)
	if !ok {
		return nil
	}
	var payload struct {
		BoundaryID string          `json:"boundary_id"`
		Content    json.RawMessage `json:"content"`
		DOMPath    []int           `json:"dom_path"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		c.logger.Warn("unparseable boundary update", "err", err)
		return nil
	}

	var content any
	_ = json.Unmarshal(payload.Content, &content)

	if _, err := fmt.Fprintf(c.w, `<template id="U:%s">`, escapeAttr(payload.BoundaryID)); err != nil {
		return err
	}
	if err := c.renderValue(c.w, content); err != nil {
		return err
	}
	if _, err := io.WriteString(c.w, "</template>"); err != nil {
		return err
	}
	if err := c.writeSwapScript(payload.BoundaryID); err != nil {
		return err
	}
	c.flush()
	return nil
}

func (c *Converter) consumeBoundaryError(chunk streaming.Chunk) error {
	body, ok := rowBody(chunk.Data)
	if !ok {
		return nil
	}
	body = strings.TrimPrefix(body, "E")

	var payload struct {
		BoundaryID string `json:"boundary_id"`
		Error      string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil
	}

	// Only the boundary id and a short message; no component internals.
	if _, err := fmt.Fprintf(c.w,
		`<template id="U:%s"><div data-boundary-error="%s">Something went wrong loading this section.</div></template>`,
		escapeAttr(payload.BoundaryID), escapeAttr(payload.BoundaryID)); err != nil {
		return err
	}
	if err := c.writeSwapScript(payload.BoundaryID); err != nil {
		return err
	}
	c.flush()
	return nil
}

// writeSwapScript emits the inline script that replaces a skeleton with
// its fill.
func (c *Converter) writeSwapScript(boundaryID string) error {
	id := escapeAttr(boundaryID)
	_, err := fmt.Fprintf(c.w,
		`<script>(function(){var u=document.getElementById("U:%s");var b=document.getElementById("B:%s");if(u&&b){b.replaceWith(u.content.cloneNode(true));u.remove();}})();</script>`,
		id, id)
	return err
}

func (c *Converter) writeShellPrefix() error {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n")
	fmt.Fprintf(&b, `<html lang="%s">`+"\n", escapeAttr(c.shell.Lang))
	b.WriteString("<head>\n<meta charset=\"utf-8\">\n")
	if c.shell.Title != "" {
		fmt.Fprintf(&b, "<title>%s</title>\n", escapeHTML(c.shell.Title))
	}
	if c.shell.HeadExtra != "" {
		b.WriteString(c.shell.HeadExtra)
		b.WriteString("\n")
	}
	b.WriteString("</head>\n<body>\n<div id=\"root\">")

	_, err := io.WriteString(c.w, b.String())
	return err
}

// finish writes the shell suffix and flushes.
func (c *Converter) finish() error {
	if c.closedShell {
		return nil
	}
	c.closedShell = true
	if !c.wroteShell {
		if err := c.writeShellPrefix(); err != nil {
			return err
		}
		c.wroteShell = true
	}
	if _, err := io.WriteString(c.w, "</div>\n</body>\n</html>\n"); err != nil {
		return err
	}
	c.flush()
	return nil
}

func (c *Converter) flush() {
	if c.flusher != nil {
		c.flusher.Flush()
	}
}

// rowBody strips the "<id>:" prefix from a wire row line.
func rowBody(data []byte) (string, bool) {
	line := strings.TrimSuffix(string(data), "\n")
	if line == "" || line == "STREAM_COMPLETE" {
		return "", false
	}
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return "", false
	}
	return line[colon+1:], true
}

// FlushableWriter wraps an io.Writer with flush counting, useful in tests.
type FlushableWriter struct {
	io.Writer
	FlushCount int
}

// Flush implements http.Flusher.
func (w *FlushableWriter) Flush() {
	w.FlushCount++
}
