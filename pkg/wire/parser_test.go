package wire

import (
	"strings"
	"testing"
)

const sampleStream = `0:I["./components/Chart.client.js",["client1"],"default"]
1:["$","div",null,{"children":"Loading chart"}]
2:["$","react.suspense",null,{"fallback":"$L1","children":"$@3","~boundaryId":"chart-b1"}]
3:{"status":"pending"}
4:["$","main",null,{"children":["$L0","$L2"]}]`

func TestParseRoundTrip(t *testing.T) {
	p, err := Parse(sampleStream)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := p.Serialize(); got != sampleStream {
		t.Errorf("round trip mismatch:\ngot  %s\nwant %s", got, sampleStream)
	}
}

func TestParseTags(t *testing.T) {
	p, err := Parse("0:I[\"a\",[\"main\"],\"default\"]\n1:E{\"boundary_id\":\"b\",\"error\":\"x\"}\n2:o3,AQID\n3:null")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rows := p.Rows()
	wantTags := []byte{'I', 'E', 'o', 0}
	for i, r := range rows {
		if r.Tag != wantTags[i] {
			t.Errorf("row %d tag = %q, want %q", i, r.Tag, wantTags[i])
		}
	}
	if rows[3].Body != "null" {
		t.Errorf("null body mangled: %q", rows[3].Body)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "no-colon", "x:1"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}

func TestFindSuspenseBoundaries(t *testing.T) {
	p, err := Parse(sampleStream)
	if err != nil {
		t.Fatal(err)
	}
	boundaries := p.FindSuspenseBoundaries()
	if len(boundaries) != 1 {
		t.Fatalf("boundaries = %d, want 1", len(boundaries))
	}
	b := boundaries[0]
	if b.BoundaryID != "chart-b1" || b.RowID != 2 {
		t.Errorf("boundary = %+v", b)
	}
	if len(b.PromiseIDs) != 1 || b.PromiseIDs[0] != "3" {
		t.Errorf("promise ids = %v", b.PromiseIDs)
	}
}

func TestLinkPromisesToBoundaries(t *testing.T) {
	p, err := Parse(sampleStream)
	if err != nil {
		t.Fatal(err)
	}
	boundaries := p.FindSuspenseBoundaries()
	promises := p.FindPromises()
	if len(promises) != 1 {
		t.Fatalf("promises = %d, want 1", len(promises))
	}

	_, linked := p.LinkPromisesToBoundaries(boundaries, promises)
	if linked[0].BoundaryID != "chart-b1" {
		t.Errorf("linked boundary = %q", linked[0].BoundaryID)
	}
	if linked[0].ElementRef != "$@3" {
		t.Errorf("element ref = %q", linked[0].ElementRef)
	}
}

func TestSerializerOutputSurvivesRoundTrip(t *testing.T) {
	s := NewSerializer()
	tree := Element("main", Props{"id": "app"},
		ClientRef("./components/Nav.client.js#default", Props{"active": "/"}),
		Element("section", Props{
			"meta": map[string]any{"$map": []any{[]any{"k", "v"}}},
		}, Text("body")),
	)
	out, err := s.SerializeTree(tree)
	if err != nil {
		t.Fatalf("SerializeTree: %v", err)
	}

	p, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := p.Serialize(); got != out {
		t.Errorf("round trip mismatch:\ngot  %s\nwant %s", got, out)
	}

	if _, ok := p.RootRow(); ok {
		t.Error("root element row should not be id 0 when imports precede it")
	}
	rows := p.Rows()
	last := rows[len(rows)-1]
	if !strings.Contains(last.Body, `"main"`) {
		t.Errorf("last row should be the root element: %s", last.Body)
	}
}
