package wire

import (
	"encoding/json"
	"fmt"
)

// Kind is the tree node type discriminator.
type Kind uint8

const (
	KindServerElement Kind = iota // <div>, react.suspense, etc.
	KindClientRef                 // opaque client component reference
	KindFragment                  // grouping without wrapper
	KindArray                     // sibling list
	KindText                      // plain text node
	KindPrimitive                 // JSON scalar (number, bool)
	KindNull                      // explicit null
	KindError                     // render-time error placeholder
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindServerElement:
		return "ServerElement"
	case KindClientRef:
		return "ClientReference"
	case KindFragment:
		return "Fragment"
	case KindArray:
		return "Array"
	case KindText:
		return "Text"
	case KindPrimitive:
		return "Primitive"
	case KindNull:
		return "Null"
	case KindError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Props holds element attributes and serializable values.
type Props map[string]any

// Tree is a node of the server component tree produced by the runtime.
// Server elements carry a tag, props, and children; client references carry
// an id of the form "<path>#<export>" and props only.
type Tree struct {
	Kind     Kind
	Tag      string  // KindServerElement
	ID       string  // KindClientRef: "<path>#<export>"
	Key      string  // reconciliation key, optional
	Props    Props   // KindServerElement, KindClientRef
	Children []*Tree // KindServerElement, KindFragment, KindArray
	Text     string  // KindText
	Value    any     // KindPrimitive
	// KindError
	Message       string
	ComponentName string
}

// Element creates a server element node.
func Element(tag string, props Props, children ...*Tree) *Tree {
	return &Tree{Kind: KindServerElement, Tag: tag, Props: props, Children: children}
}

// ClientRef creates a client reference node.
func ClientRef(id string, props Props) *Tree {
	return &Tree{Kind: KindClientRef, ID: id, Props: props}
}

// Text creates a text node.
func Text(s string) *Tree {
	return &Tree{Kind: KindText, Text: s}
}

// Fragment groups children without a wrapper element.
func Fragment(children ...*Tree) *Tree {
	return &Tree{Kind: KindFragment, Children: children}
}

// Null is the explicit null node.
func Null() *Tree {
	return &Tree{Kind: KindNull}
}

// ErrorNode creates an error placeholder node.
func ErrorNode(message, componentName string) *Tree {
	return &Tree{Kind: KindError, Message: message, ComponentName: componentName}
}

// FromJSON converts a runtime-extracted JSON value into a Tree.
//
// The runtime emits either React element tuples ["$", type, key, props],
// {type, props} objects, arrays of children, scalars, or null.
func FromJSON(v any) (*Tree, error) {
	switch val := v.(type) {
	case nil:
		return Null(), nil
	case string:
		return Text(val), nil
	case bool, float64, json.Number:
		return &Tree{Kind: KindPrimitive, Value: val}, nil
	case []any:
		if t, ok, err := tupleToTree(val); ok || err != nil {
			return t, err
		}
		children := make([]*Tree, 0, len(val))
		for _, item := range val {
			child, err := FromJSON(item)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &Tree{Kind: KindArray, Children: children}, nil
	case map[string]any:
		return objectToTree(val)
	default:
		return nil, fmt.Errorf("unsupported tree value of type %T", v)
	}
}

// tupleToTree recognizes the ["$", type, key, props] element tuple.
func tupleToTree(arr []any) (*Tree, bool, error) {
	if len(arr) != 4 {
		return nil, false, nil
	}
	marker, ok := arr[0].(string)
	if !ok || marker != "$" {
		return nil, false, nil
	}
	typ, ok := arr[1].(string)
	if !ok {
		return nil, false, nil
	}

	key := ""
	if k, ok := arr[2].(string); ok {
		key = k
	}

	props := Props{}
	if p, ok := arr[3].(map[string]any); ok {
		for k, v := range p {
			props[k] = v
		}
	}

	node := &Tree{Key: key, Props: props}
	if isClientRefID(typ) {
		node.Kind = KindClientRef
		node.ID = typ
	} else {
		node.Kind = KindServerElement
		node.Tag = typ
	}

	// Children embedded in props stay as prop values; the serializer
	// handles nested element tuples during prop processing.
	return node, true, nil
}

func objectToTree(obj map[string]any) (*Tree, error) {
	typ, hasType := obj["type"].(string)
	if !hasType {
		return &Tree{Kind: KindPrimitive, Value: obj}, nil
	}

	props := Props{}
	if p, ok := obj["props"].(map[string]any); ok {
		for k, v := range p {
			props[k] = v
		}
	}

	if msg, ok := obj["error"].(string); ok {
		return ErrorNode(msg, typ), nil
	}

	node := &Tree{Props: props}
	if isClientRefID(typ) {
		node.Kind = KindClientRef
		node.ID = typ
	} else {
		node.Kind = KindServerElement
		node.Tag = typ
	}

	if rawChildren, ok := props["children"]; ok {
		switch c := rawChildren.(type) {
		case []any:
			for _, item := range c {
				child, err := FromJSON(item)
				if err != nil {
					return nil, err
				}
				node.Children = append(node.Children, child)
			}
			delete(props, "children")
		case map[string]any:
			child, err := FromJSON(c)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
			delete(props, "children")
		}
	}

	return node, nil
}

// isClientRefID reports whether a type string names a client module export
// rather than an intrinsic tag.
func isClientRefID(typ string) bool {
	for i := 0; i < len(typ); i++ {
		if typ[i] == '#' {
			return true
		}
	}
	return false
}

// Walk visits the node and all descendants in depth-first order. The visit
// function returning false prunes the subtree.
func (t *Tree) Walk(visit func(*Tree) bool) {
	if t == nil || !visit(t) {
		return
	}
	for _, child := range t.Children {
		child.Walk(visit)
	}
}
