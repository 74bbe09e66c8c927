// Package schema builds the canonical key catalog that submitted
// configuration documents are validated against.
//
// The catalog source is a flat table: a row carrying a name opens a new key,
// and marker rows below it declare the controlling widget class, the value
// range, or any other widget property for that key.
package schema

import (
	"fmt"
	"strings"

	"github.com/danmuck/holoctl/internal/configtree"
	"github.com/rs/zerolog/log"
)

const (
	MarkerClass   = "class"
	MarkerMinimum = "minimum"
	MarkerMaximum = "maximum"
)

// widgetTypes maps controller widget classes to the value type they edit.
var widgetTypes = map[string]configtree.ValueType{
	"QSpinBox":       configtree.Int,
	"QDoubleSpinBox": configtree.Float,
	"QCheckBox":      configtree.Bool,
	"QRadioButton":   configtree.Bool,
	"QComboBox":      configtree.Int,
	"QLineEdit":      configtree.String,
}

// Row is one line of the tabular schema source.
type Row struct {
	Name         string
	DefaultValue string
	Marker       string
	Value        string
}

// SchemaBuildError reports malformed tabular input.
type SchemaBuildError struct {
	Row    int
	Reason string
}

func (e *SchemaBuildError) Error() string {
	return fmt.Sprintf("schema: row %d: %s", e.Row, e.Reason)
}

// UnknownWidgetClassError reports a class marker outside the widget table.
type UnknownWidgetClassError struct {
	Row   int
	Key   string
	Class string
}

func (e *UnknownWidgetClassError) Error() string {
	return fmt.Sprintf("schema: row %d: unknown widget class %q for %s", e.Row, e.Class, e.Key)
}

// Catalog is the ordered, flat set of schema nodes for one validation run.
type Catalog struct {
	tree   *configtree.Tree
	byName map[string]configtree.NodeID
}

// Build turns rows into a catalog and fills in guessed types.
// Row numbers in errors are 1-based positions within rows.
func Build(rows []Row) (*Catalog, error) {
	tree := configtree.New()
	current := configtree.NoParent

	for i, row := range rows {
		rowNum := i + 1
		name := strings.TrimSpace(row.Name)
		marker := strings.TrimSpace(row.Marker)

		if name != "" {
			current = tree.Add(configtree.NoParent, configtree.Node{
				Name:         name,
				DefaultValue: row.DefaultValue,
			})
			continue
		}
		if marker == "" {
			continue
		}
		if current == configtree.NoParent {
			return nil, &SchemaBuildError{Row: rowNum, Reason: fmt.Sprintf("marker %q before any named row", marker)}
		}

		node := tree.Node(current)
		value := strings.TrimSpace(row.Value)
		switch marker {
		case MarkerClass:
			vt, ok := widgetTypes[value]
			if !ok {
				return nil, &UnknownWidgetClassError{Row: rowNum, Key: node.Name, Class: value}
			}
			node.Type = vt
			node.Declared = true
		case MarkerMinimum:
			b, err := configtree.ParseBound(value)
			if err != nil {
				return nil, &SchemaBuildError{Row: rowNum, Reason: err.Error()}
			}
			node.Range.Minimum = b
		case MarkerMaximum:
			b, err := configtree.ParseBound(value)
			if err != nil {
				return nil, &SchemaBuildError{Row: rowNum, Reason: err.Error()}
			}
			node.Range.Maximum = b
		}
		if node.Attributes == nil {
			node.Attributes = make(map[string]string)
		}
		node.Attributes[marker] = value
	}

	GuessValueType(tree)
	return newCatalog(tree), nil
}

// GuessValueType infers types for nodes that never received a class marker
// and flags them as not wired to a live control.
func GuessValueType(tree *configtree.Tree) {
	for i := 0; i < tree.Len(); i++ {
		id := configtree.NodeID(i)
		n := tree.Node(id)
		if _, hasParent := tree.Parent(id); !hasParent && !n.IsLeaf() {
			n.Type = configtree.None
			continue
		}
		if n.Declared {
			continue
		}
		n.Type = guessFromLiteral(n.DefaultValue)
		n.MissingFromSchema = true
	}
}

func guessFromLiteral(raw string) configtree.ValueType {
	v := strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(v, "true") || strings.EqualFold(v, "false"):
		return configtree.Bool
	case strings.Contains(v, "."):
		return configtree.Float
	case v == "":
		return configtree.None
	default:
		return configtree.Int
	}
}

func newCatalog(tree *configtree.Tree) *Catalog {
	c := &Catalog{
		tree:   tree,
		byName: make(map[string]configtree.NodeID, tree.Len()),
	}
	for _, id := range tree.Roots() {
		name := tree.Node(id).Name
		if _, dup := c.byName[name]; dup {
			log.Warn().Str("key", name).Msg("schema: duplicate key, first entry wins")
			continue
		}
		c.byName[name] = id
	}
	return c
}

// Lookup returns the schema node for name.
func (c *Catalog) Lookup(name string) (*configtree.Node, bool) {
	id, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return c.tree.Node(id), true
}

func (c *Catalog) Len() int {
	return len(c.tree.Roots())
}

// Nodes returns the catalog entries in source order.
func (c *Catalog) Nodes() []*configtree.Node {
	roots := c.tree.Roots()
	out := make([]*configtree.Node, 0, len(roots))
	for _, id := range roots {
		out = append(out, c.tree.Node(id))
	}
	return out
}

// Clone returns a catalog with fresh per-run node state.
func (c *Catalog) Clone() *Catalog {
	return newCatalog(c.tree.Clone())
}
