package wire

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/rari-build/rari-go/internal/errors"
)

// moduleReference describes a client component module seen by the serializer.
type moduleReference struct {
	id     string
	path   string
	export string
	chunk  string
}

// Serializer converts a Tree into numbered wire rows. It is not safe for
// concurrent use; renders own one serializer each.
type Serializer struct {
	moduleMap         map[string]moduleReference
	serializedModules map[string]string // component id -> "$L<hex>"
	chunkCounter      uint32
	rowCounter        uint32
	lines             []string
	logger            *slog.Logger
}

// NewSerializer creates an empty serializer.
func NewSerializer() *Serializer {
	return &Serializer{
		moduleMap:         make(map[string]moduleReference),
		serializedModules: make(map[string]string),
		chunkCounter:      1,
		logger:            slog.Default(),
	}
}

// WithLogger sets the logger used for validation diagnostics.
func (s *Serializer) WithLogger(logger *slog.Logger) *Serializer {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// RegisterClientComponent records a client module so references to it emit
// an I-row. Chunk names are allocated monotonically (client1, client2, ...).
func (s *Serializer) RegisterClientComponent(componentID, filePath, exportName string) {
	chunk := fmt.Sprintf("client%d", s.chunkCounter)
	s.chunkCounter++
	s.moduleMap[componentID] = moduleReference{
		id:     componentID,
		path:   filePath,
		export: exportName,
		chunk:  chunk,
	}
}

// IsClientComponentRegistered reports whether the id has a module reference.
func (s *Serializer) IsClientComponentRegistered(componentID string) bool {
	_, ok := s.moduleMap[componentID]
	return ok
}

// Reset clears per-render state while keeping registered modules.
func (s *Serializer) Reset() {
	s.rowCounter = 0
	s.lines = s.lines[:0]
	s.serializedModules = make(map[string]string)
}

// SerializeTree converts a root tree to the newline-separated wire format.
// Module imports for every referenced client component precede any row that
// names them; the root element row is emitted last.
func (s *Serializer) SerializeTree(tree *Tree) (string, error) {
	s.Reset()

	s.collectClientComponents(tree)
	s.emitPendingModuleImports()

	body, err := s.serializeNode(tree)
	if err != nil {
		return "", err
	}

	rootID := s.nextRowID()
	s.lines = append(s.lines, fmt.Sprintf("%d:%s", rootID, body))

	return strings.Join(s.lines, "\n"), nil
}

// SerializeElement emits the element (and any subordinate rows) and returns
// a $L reference to its row. Used by the streaming engine for fills.
func (s *Serializer) SerializeElement(el *Tree) (string, error) {
	if el != nil && el.Kind == KindServerElement && el.Tag == "react.suspense" {
		fallback, okF := el.Props["fallback"]
		children, okC := el.Props["children"]
		if !okF || !okC {
			return "", errors.New("E041")
		}
		boundaryID, _ := el.Props["~boundaryId"].(string)
		if boundaryID == "" {
			boundaryID = "default"
		}

		fallbackRef, err := s.serializePropElement(fallback)
		if err != nil {
			return "", err
		}
		childrenRef, err := s.serializePropElement(children)
		if err != nil {
			return "", err
		}
		return s.EmitSuspenseBoundary(fallbackRef, childrenRef, boundaryID)
	}

	body, err := s.serializeNode(el)
	if err != nil {
		return "", err
	}
	rowID := s.nextRowID()
	s.lines = append(s.lines, fmt.Sprintf("%d:%s", rowID, body))
	return RefElement(rowID), nil
}

// EmitSuspenseBoundary emits a react.suspense row wiring pre-serialized
// fallback and children references to a boundary id, and returns a $L
// reference to the new row.
func (s *Serializer) EmitSuspenseBoundary(fallbackRef, childrenRef, boundaryID string) (string, error) {
	props, err := orderedObject(
		[2]any{"fallback", quoteToken(fallbackRef)},
		[2]any{"children", quoteToken(childrenRef)},
		[2]any{"~boundaryId", boundaryID},
	)
	if err != nil {
		return "", errors.New("E040").Wrap(err)
	}

	rowID := s.nextRowID()
	s.lines = append(s.lines, fmt.Sprintf(`%d:["$","react.suspense",null,%s]`, rowID, props))
	return RefElement(rowID), nil
}

// Rows returns the emitted rows so far, one per entry, without trailing
// newlines.
func (s *Serializer) Rows() []string {
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *Serializer) nextRowID() uint32 {
	id := s.rowCounter
	s.rowCounter++
	return id
}

// collectClientComponents registers every client reference in the tree
// (depth-first) so import rows precede element rows.
func (s *Serializer) collectClientComponents(tree *Tree) {
	tree.Walk(func(t *Tree) bool {
		if t.Kind == KindClientRef {
			if name, filePath, export, ok := splitClientRefID(t.ID); ok {
				if !s.IsClientComponentRegistered(name) {
					s.RegisterClientComponent(name, filePath, export)
				}
			}
		}
		return true
	})
}

// emitPendingModuleImports emits one I-row per registered module that has
// not been emitted yet, in chunk order for determinism.
func (s *Serializer) emitPendingModuleImports() {
	pending := make([]moduleReference, 0, len(s.moduleMap))
	for id, ref := range s.moduleMap {
		if _, done := s.serializedModules[id]; !done {
			pending = append(pending, ref)
		}
	}
	// chunk names are monotonic, so sorting by chunk restores
	// registration order
	for i := 0; i < len(pending); i++ {
		for j := i + 1; j < len(pending); j++ {
			if chunkLess(pending[j].chunk, pending[i].chunk) {
				pending[i], pending[j] = pending[j], pending[i]
			}
		}
	}
	for _, ref := range pending {
		s.emitModuleImport(ref)
	}
}

func chunkLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func (s *Serializer) emitModuleImport(ref moduleReference) string {
	rowID := s.nextRowID()
	line := fmt.Sprintf("%d:I[%s,[%s],%s]",
		rowID, mustJSONString(ref.path), mustJSONString(ref.chunk), mustJSONString(ref.export))
	s.lines = append(s.lines, line)

	moduleToken := RefElement(rowID)
	s.serializedModules[ref.id] = moduleToken
	return moduleToken
}

// serializeNode renders a node to its row-body JSON.
func (s *Serializer) serializeNode(t *Tree) (string, error) {
	if t == nil {
		return "null", nil
	}
	switch t.Kind {
	case KindNull:
		return "null", nil
	case KindText:
		return encodeValue(t.Text)
	case KindPrimitive:
		return encodeValue(t.Value)
	case KindError:
		return s.serializeError(t)
	case KindFragment, KindArray:
		return s.serializeChildrenArray(t.Children)
	case KindClientRef:
		return s.serializeClientRef(t)
	case KindServerElement:
		return s.serializeServerElement(t)
	default:
		return "", errors.New("E040").WithDetailf("unknown tree kind %d", t.Kind)
	}
}

func (s *Serializer) serializeChildrenArray(children []*Tree) (string, error) {
	var b strings.Builder
	b.WriteByte('[')
	for i, child := range children {
		if i > 0 {
			b.WriteByte(',')
		}
		body, err := s.serializeNode(child)
		if err != nil {
			return "", err
		}
		b.WriteString(body)
	}
	b.WriteByte(']')
	return b.String(), nil
}

func (s *Serializer) serializeServerElement(t *Tree) (string, error) {
	props := make(Props, len(t.Props)+1)
	for k, v := range t.Props {
		props[k] = v
	}

	// Suspense without a boundary id never streams: collapse to the
	// fallback so the shell carries the placeholder directly.
	if t.Tag == "react.suspense" {
		if _, hasBoundary := props["~boundaryId"]; !hasBoundary {
			if fallback, ok := props["fallback"]; ok {
				processed, err := s.processPropValue(fallback)
				if err != nil {
					return "", err
				}
				return encodeValue(processed)
			}
		}
	}

	switch len(t.Children) {
	case 0:
	case 1:
		body, err := s.serializeNode(t.Children[0])
		if err != nil {
			return "", err
		}
		props["children"] = raw(body)
	default:
		body, err := s.serializeChildrenArray(t.Children)
		if err != nil {
			return "", err
		}
		props["children"] = raw(body)
	}

	propsJSON, err := s.serializeProps(props)
	if err != nil {
		return "", err
	}

	keyJSON := "null"
	if t.Key != "" && !isDocumentTag(t.Tag) {
		keyJSON = mustJSONString(t.Key)
	}

	return fmt.Sprintf(`["$",%s,%s,%s]`, mustJSONString(t.Tag), keyJSON, propsJSON), nil
}

func (s *Serializer) serializeClientRef(t *Tree) (string, error) {
	name, _, _, ok := splitClientRefID(t.ID)
	if !ok {
		return s.missingClientPlaceholder(t)
	}

	moduleToken, emitted := s.serializedModules[name]
	if !emitted {
		ref, registered := s.moduleMap[name]
		if !registered {
			return s.missingClientPlaceholder(t)
		}
		moduleToken = s.emitModuleImport(ref)
	}

	propsJSON, err := s.serializeProps(t.Props)
	if err != nil {
		return "", err
	}

	keyJSON := "null"
	if t.Key != "" {
		keyJSON = mustJSONString(t.Key)
	}

	return fmt.Sprintf(`["$",%s,%s,%s]`, string(quoteToken(moduleToken)), keyJSON, propsJSON), nil
}

// missingClientPlaceholder renders an unregistered client reference as a
// visible marker div instead of failing the whole render.
func (s *Serializer) missingClientPlaceholder(t *Tree) (string, error) {
	props := make(Props, len(t.Props)+2)
	for k, v := range t.Props {
		props[k] = v
	}
	props["data-missing-client-component"] = t.ID
	props["children"] = "Missing client component: " + t.ID

	propsJSON, err := s.serializeProps(props)
	if err != nil {
		return "", err
	}

	keyJSON := "null"
	if t.Key != "" {
		keyJSON = mustJSONString(t.Key)
	}
	return fmt.Sprintf(`["$","div",%s,%s]`, keyJSON, propsJSON), nil
}

func (s *Serializer) serializeError(t *Tree) (string, error) {
	style, err := orderedObject(
		[2]any{"color", "red"},
		[2]any{"border", "1px solid red"},
		[2]any{"padding", "10px"},
		[2]any{"margin", "10px"},
	)
	if err != nil {
		return "", errors.New("E040").Wrap(err)
	}
	heading := fmt.Sprintf(`["$","h3",null,{"children":%s}]`, mustJSONString("Error in "+t.ComponentName))
	message := fmt.Sprintf(`["$","p",null,{"children":%s}]`, mustJSONString(t.Message))
	return fmt.Sprintf(`["$","div",null,{"style":%s,"children":[%s,%s]}]`, style, heading, message), nil
}

// serializePropElement serializes a prop value that holds an element
// (either a *Tree or a raw JSON tuple) and returns a row reference.
func (s *Serializer) serializePropElement(v any) (string, error) {
	switch el := v.(type) {
	case *Tree:
		body, err := s.serializeNode(el)
		if err != nil {
			return "", err
		}
		rowID := s.nextRowID()
		s.lines = append(s.lines, fmt.Sprintf("%d:%s", rowID, body))
		return RefElement(rowID), nil
	default:
		tree, err := FromJSON(v)
		if err != nil {
			return "", errors.New("E040").Wrap(err)
		}
		body, err := s.serializeNode(tree)
		if err != nil {
			return "", err
		}
		rowID := s.nextRowID()
		s.lines = append(s.lines, fmt.Sprintf("%d:%s", rowID, body))
		return RefElement(rowID), nil
	}
}

// splitClientRefID parses "<path>#<export>" and derives the component name
// from the file basename.
func splitClientRefID(id string) (name, filePath, export string, ok bool) {
	idx := strings.Index(id, "#")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", "", false
	}
	filePath = id[:idx]
	export = id[idx+1:]
	base := path.Base(filePath)
	if dot := strings.Index(base, "."); dot > 0 {
		base = base[:dot]
	}
	if base == "" {
		base = "UnknownComponent"
	}
	return base, filePath, export, true
}

func isDocumentTag(tag string) bool {
	return tag == "html" || tag == "head" || tag == "body"
}

func mustJSONString(s string) string {
	out, err := encodeValue(s)
	if err != nil {
		return `""`
	}
	return out
}

// quoteToken embeds a generated reference token as pre-quoted JSON,
// bypassing the user-string dollar escape.
func quoteToken(tok string) raw {
	data, _ := json.Marshal(tok)
	return raw(data)
}
