package configtree

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType is the value kind carried by a leaf node.
type ValueType int

const (
	None ValueType = iota
	Int
	Float
	Bool
	String
	List
)

func (t ValueType) String() string {
	switch t {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case String:
		return "string"
	case List:
		return "list"
	default:
		return "none"
	}
}

// Numeric reports whether range bounds apply to the type.
func (t ValueType) Numeric() bool {
	return t == Int || t == Float
}

// NodeID indexes a node inside its Tree arena.
type NodeID int

const NoParent NodeID = -1

// Bound keeps the bound text as declared next to its parsed value.
type Bound struct {
	Raw   string
	Value float64
}

func ParseBound(raw string) (*Bound, error) {
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("configtree: invalid bound %q: %w", raw, err)
	}
	return &Bound{Raw: raw, Value: v}, nil
}

type Range struct {
	Minimum *Bound
	Maximum *Bound
}

func (r Range) Empty() bool {
	return r.Minimum == nil && r.Maximum == nil
}

// Node is one named entry of a configuration or schema tree.
type Node struct {
	Name              string
	Parent            NodeID
	Children          []NodeID
	Type              ValueType
	Range             Range
	SetValue          any
	DefaultValue      string
	ErrorFlag         bool
	MissingFromSchema bool
	// Declared is set when the type came from a widget class marker.
	Declared   bool
	Attributes map[string]string
}

func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Tree owns every node; parents are indices, never pointers.
type Tree struct {
	nodes []Node
	roots []NodeID
}

func New() *Tree {
	return &Tree{}
}

// Add appends n under parent (or as a root for NoParent) and returns its id.
func (t *Tree) Add(parent NodeID, n Node) NodeID {
	id := NodeID(len(t.nodes))
	n.Parent = parent
	n.Children = nil
	t.nodes = append(t.nodes, n)
	if parent == NoParent {
		t.roots = append(t.roots, id)
		return id
	}
	p := &t.nodes[parent]
	p.Children = append(p.Children, id)
	p.Type = None
	p.SetValue = nil
	p.Range = Range{}
	return id
}

// Node returns the node for id; it panics on ids not issued by this tree.
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

func (t *Tree) Len() int {
	return len(t.nodes)
}

func (t *Tree) Roots() []NodeID {
	out := make([]NodeID, len(t.roots))
	copy(out, t.roots)
	return out
}

func (t *Tree) Parent(id NodeID) (NodeID, bool) {
	p := t.nodes[id].Parent
	return p, p != NoParent
}

// Lookup finds the first root with the given name.
func (t *Tree) Lookup(name string) (NodeID, bool) {
	for _, id := range t.roots {
		if t.nodes[id].Name == name {
			return id, true
		}
	}
	return NoParent, false
}

// Path joins names from the root down to id with dots.
func (t *Tree) Path(id NodeID) string {
	var parts []string
	for cur := id; cur != NoParent; cur = t.nodes[cur].Parent {
		parts = append(parts, t.nodes[cur].Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// Walk visits nodes depth-first, parents before children, in document order.
// Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(id NodeID, depth int) bool) {
	for _, id := range t.roots {
		t.walk(id, 0, fn)
	}
}

func (t *Tree) walk(id NodeID, depth int, fn func(NodeID, int) bool) {
	if !fn(id, depth) {
		return
	}
	for _, child := range t.nodes[id].Children {
		t.walk(child, depth+1, fn)
	}
}

// Clone returns a deep copy that shares no mutable state with t.
func (t *Tree) Clone() *Tree {
	out := &Tree{
		nodes: make([]Node, len(t.nodes)),
		roots: make([]NodeID, len(t.roots)),
	}
	copy(out.roots, t.roots)
	for i, n := range t.nodes {
		cp := n
		if n.Children != nil {
			cp.Children = make([]NodeID, len(n.Children))
			copy(cp.Children, n.Children)
		}
		if n.Attributes != nil {
			cp.Attributes = make(map[string]string, len(n.Attributes))
			for k, v := range n.Attributes {
				cp.Attributes[k] = v
			}
		}
		out.nodes[i] = cp
	}
	return out
}

// FormatValue renders a leaf value the way validation messages print it.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.ContainsAny(s, ".eEIN") {
			s += ".0"
		}
		return s
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// NumericValue converts int64/float64 leaf values for range comparison.
func NumericValue(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}
