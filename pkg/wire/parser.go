package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rari-build/rari-go/internal/errors"
)

// Row is one parsed wire row. Tag is zero for element/array/scalar literals.
type Row struct {
	ID   uint32
	Tag  byte
	Body string
}

// Line reconstructs the exact wire line for the row (without newline).
func (r Row) Line() string {
	if r.Tag == 0 {
		return fmt.Sprintf("%d:%s", r.ID, r.Body)
	}
	return fmt.Sprintf("%d:%c%s", r.ID, r.Tag, r.Body)
}

// rowTags is the set of single-letter row tags (§ wire format).
const rowTags = "IEAOoUSsLlGgMmVRrC"

// Parsed holds a parsed wire stream and supports boundary/promise discovery
// for replay streaming.
type Parsed struct {
	rows []Row
}

// Parse splits a wire string into rows. Empty lines are skipped; malformed
// lines fail the parse.
func Parse(wireFormat string) (*Parsed, error) {
	p := &Parsed{}
	for _, line := range strings.Split(wireFormat, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return nil, errors.New("E042").WithDetailf("missing row id separator: %q", truncate(line, 80))
		}
		id, err := strconv.ParseUint(line[:colon], 10, 32)
		if err != nil {
			return nil, errors.New("E042").WithDetailf("bad row id: %q", line[:colon]).Wrap(err)
		}

		body := line[colon+1:]
		var tag byte
		if body != "" && strings.IndexByte(rowTags, body[0]) >= 0 {
			tag = body[0]
			body = body[1:]
		}
		p.rows = append(p.rows, Row{ID: uint32(id), Tag: tag, Body: body})
	}
	if len(p.rows) == 0 {
		return nil, errors.New("E042").WithDetail("empty wire payload")
	}
	return p, nil
}

// Rows returns the parsed rows in input order.
func (p *Parsed) Rows() []Row {
	out := make([]Row, len(p.rows))
	copy(out, p.rows)
	return out
}

// Serialize reconstructs the wire string. For any input accepted by Parse,
// Serialize(Parse(x)) == x up to blank lines.
func (p *Parsed) Serialize() string {
	lines := make([]string, len(p.rows))
	for i, r := range p.rows {
		lines[i] = r.Line()
	}
	return strings.Join(lines, "\n")
}

// RootRow returns the element row with id 0, if present.
func (p *Parsed) RootRow() (Row, bool) {
	for _, r := range p.rows {
		if r.ID == 0 && r.Tag == 0 {
			return r, true
		}
	}
	return Row{}, false
}

// BoundaryRef is a suspense boundary discovered in a wire stream.
type BoundaryRef struct {
	BoundaryID string
	RowID      uint32
	PromiseIDs []string // hex row ids of $@ references inside the boundary
	Fallback   any
}

// PromiseRef is a pending-promise reference discovered in a wire stream.
type PromiseRef struct {
	PromiseID  string // hex row id from the $@ token
	RowID      uint32 // row the token appeared in
	BoundaryID string // filled by LinkPromisesToBoundaries
	ElementRef string // the full $@ token
}

// FindSuspenseBoundaries scans element rows for react.suspense tuples that
// carry a boundary id.
func (p *Parsed) FindSuspenseBoundaries() []BoundaryRef {
	var out []BoundaryRef
	for _, r := range p.rows {
		if r.Tag != 0 || !strings.Contains(r.Body, "react.suspense") {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(r.Body), &v); err != nil {
			continue
		}
		collectBoundaries(v, r.ID, &out)
	}
	return out
}

func collectBoundaries(v any, rowID uint32, out *[]BoundaryRef) {
	switch val := v.(type) {
	case []any:
		if len(val) == 4 {
			if marker, _ := val[0].(string); marker == "$" {
				if typ, _ := val[1].(string); typ == "react.suspense" {
					if props, ok := val[3].(map[string]any); ok {
						id, _ := props["~boundaryId"].(string)
						if id == "" {
							id, _ = props["boundaryId"].(string)
						}
						if id != "" {
							ref := BoundaryRef{BoundaryID: id, RowID: rowID, Fallback: props["fallback"]}
							collectPromiseTokens(props, &ref.PromiseIDs)
							*out = append(*out, ref)
						}
					}
				}
			}
		}
		for _, item := range val {
			collectBoundaries(item, rowID, out)
		}
	case map[string]any:
		for _, item := range val {
			collectBoundaries(item, rowID, out)
		}
	}
}

func collectPromiseTokens(v any, out *[]string) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, "$@") && isHex(val[2:]) {
			*out = append(*out, val[2:])
		}
	case []any:
		for _, item := range val {
			collectPromiseTokens(item, out)
		}
	case map[string]any:
		for _, item := range val {
			collectPromiseTokens(item, out)
		}
	}
}

// FindPromises returns every $@ reference in the stream.
func (p *Parsed) FindPromises() []PromiseRef {
	var out []PromiseRef
	seen := make(map[string]bool)
	for _, r := range p.rows {
		if r.Tag != 0 {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(r.Body), &v); err != nil {
			continue
		}
		var tokens []string
		collectPromiseTokens(v, &tokens)
		for _, id := range tokens {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, PromiseRef{PromiseID: id, RowID: r.ID, ElementRef: "$@" + id})
		}
	}
	return out
}

// LinkPromisesToBoundaries attaches each promise to the boundary whose
// subtree references it. Promises with no owning boundary keep an empty
// BoundaryID and are not schedulable.
func (p *Parsed) LinkPromisesToBoundaries(boundaries []BoundaryRef, promises []PromiseRef) ([]BoundaryRef, []PromiseRef) {
	owner := make(map[string]string)
	for _, b := range boundaries {
		for _, pid := range b.PromiseIDs {
			owner[pid] = b.BoundaryID
		}
	}
	linked := make([]PromiseRef, len(promises))
	for i, pr := range promises {
		pr.BoundaryID = owner[pr.PromiseID]
		linked[i] = pr
	}
	return boundaries, linked
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
