// Package tree implements the configuration tree: a rooted structure of
// mappings, lists and scalars produced by the document loader and consumed
// by the schema, substitution and cab/recipe layers.
package tree

import "fmt"

// Kind tags the dynamic type of a Node.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Node is a tagged-variant value: exactly one of the typed fields below is
// meaningful, selected by Kind. Higher-level views (Schema, Cab, Recipe) are
// built as typed projections over Node rather than duck-typing raw `any`.
type Node struct {
	Kind Kind

	Bool   bool
	Int    int64
	Float  float64
	String string
	List   []*Node
	Map    *OrderedMap
}

// Null returns the null node.
func Null() *Node { return &Node{Kind: KindNull} }

// FromAny builds a Node tree from a generically-typed value, as produced by
// a YAML/JSON unmarshal into map[string]any / []any / scalars.
func FromAny(v any) *Node {
	switch val := v.(type) {
	case nil:
		return Null()
	case bool:
		return &Node{Kind: KindBool, Bool: val}
	case int:
		return &Node{Kind: KindInt, Int: int64(val)}
	case int64:
		return &Node{Kind: KindInt, Int: val}
	case float64:
		// Collapse whole floats from YAML/JSON decoding into ints only when
		// the source was an actual integer literal; yaml.v3 already gives us
		// int64 for integer scalars, so a float64 here is a genuine float.
		return &Node{Kind: KindFloat, Float: val}
	case string:
		return &Node{Kind: KindString, String: val}
	case []any:
		items := make([]*Node, len(val))
		for i, item := range val {
			items[i] = FromAny(item)
		}
		return &Node{Kind: KindList, List: items}
	case []string:
		items := make([]*Node, len(val))
		for i, item := range val {
			items[i] = &Node{Kind: KindString, String: item}
		}
		return &Node{Kind: KindList, List: items}
	case map[string]any:
		m := NewOrderedMap()
		for k, v := range val {
			m.Set(k, FromAny(v))
		}
		return &Node{Kind: KindMap, Map: m}
	case map[any]any:
		m := NewOrderedMap()
		for k, v := range val {
			m.Set(fmt.Sprintf("%v", k), FromAny(v))
		}
		return &Node{Kind: KindMap, Map: m}
	case *Node:
		return val
	default:
		return &Node{Kind: KindString, String: fmt.Sprintf("%v", val)}
	}
}

// ToAny converts a Node back into plain Go values (map[string]any / []any /
// scalars), the form the yaml/json encoders and the substitution engine's
// JSON-dump helpers expect.
func (n *Node) ToAny() any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindNull:
		return nil
	case KindBool:
		return n.Bool
	case KindInt:
		return n.Int
	case KindFloat:
		return n.Float
	case KindString:
		return n.String
	case KindList:
		out := make([]any, len(n.List))
		for i, item := range n.List {
			out[i] = item.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, n.Map.Len())
		for _, k := range n.Map.Keys() {
			v, _ := n.Map.Get(k)
			out[k] = v.ToAny()
		}
		return out
	}
	return nil
}

// IsScalar reports whether the node is a leaf (not a map or list).
func (n *Node) IsScalar() bool {
	return n == nil || (n.Kind != KindMap && n.Kind != KindList)
}

// Clone deep-copies a Node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindList:
		items := make([]*Node, len(n.List))
		for i, item := range n.List {
			items[i] = item.Clone()
		}
		return &Node{Kind: KindList, List: items}
	case KindMap:
		m := NewOrderedMap()
		for _, k := range n.Map.Keys() {
			v, _ := n.Map.Get(k)
			m.Set(k, v.Clone())
		}
		return &Node{Kind: KindMap, Map: m}
	default:
		cp := *n
		return &cp
	}
}

// Get walks a dotted path (e.g. "a.b.c") through nested maps, returning nil
// if any segment is missing or not a map.
func (n *Node) Get(path []string) *Node {
	cur := n
	for _, seg := range path {
		if cur == nil || cur.Kind != KindMap {
			return nil
		}
		v, ok := cur.Map.Get(seg)
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// Set writes a value at a dotted path, creating intermediate maps as needed.
func (n *Node) Set(path []string, value *Node) {
	if len(path) == 0 {
		return
	}
	cur := n
	for _, seg := range path[:len(path)-1] {
		v, ok := cur.Map.Get(seg)
		if !ok || v.Kind != KindMap {
			v = &Node{Kind: KindMap, Map: NewOrderedMap()}
			cur.Map.Set(seg, v)
		}
		cur = v
	}
	cur.Map.Set(path[len(path)-1], value)
}
