package configtree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidDocument = errors.New("configtree: invalid document")
	ErrIntOutOfRange   = errors.New("configtree: integer out of range")
)

// Parse builds a tree from a JSON or YAML object, keeping key order.
// An empty document yields an empty tree.
func Parse(data []byte) (*Tree, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return New(), nil
	}
	if trimmed[0] == '{' {
		t, err := parseJSON(trimmed)
		if err == nil || errors.Is(err, ErrIntOutOfRange) {
			return t, err
		}
		// A flow-style YAML mapping also starts with '{'.
		if yt, yerr := parseYAML(trimmed); yerr == nil {
			return yt, nil
		}
		return nil, err
	}
	return parseYAML(trimmed)
}

func parseJSON(data []byte) (*Tree, error) {
	t := New()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := t.readObject(dec, NoParent); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalidDocument)
	}
	return t, nil
}

// readObject consumes object members up to and including the closing brace.
func (t *Tree) readObject(dec *json.Decoder, parent NodeID) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: object key expected", ErrInvalidDocument)
		}
		tok, err = dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
		}
		if tok == json.Delim('{') {
			id := t.Add(parent, Node{Name: name, Type: None})
			if err := t.readObject(dec, id); err != nil {
				return err
			}
			continue
		}
		n := Node{Name: name}
		switch v := tok.(type) {
		case json.Delim:
			items, err := readArray(dec)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
			}
			n.Type, n.SetValue = List, items
		case json.Number:
			if n.Type, n.SetValue, err = jsonNumber(v); err != nil {
				return fmt.Errorf("%w: %s: %s", err, name, v)
			}
		case string:
			n.Type, n.SetValue = String, v
		case bool:
			n.Type, n.SetValue = Bool, v
		case nil:
			n.Type = None
		}
		t.Add(parent, n)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}

func jsonNumber(num json.Number) (ValueType, any, error) {
	raw := num.String()
	if strings.ContainsAny(raw, ".eE") {
		f, err := num.Float64()
		if err != nil {
			return None, nil, ErrInvalidDocument
		}
		return Float, f, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return None, nil, ErrIntOutOfRange
	}
	return Int, v, nil
}

// readArray decodes the elements of a list whose opening bracket has been read.
func readArray(dec *json.Decoder) ([]any, error) {
	items := []any{}
	for dec.More() {
		var item any
		if err := dec.Decode(&item); err != nil {
			return nil, err
		}
		items = append(items, listItem(item))
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return items, nil
}

// listItem maps decoded numbers to int or float64 like the YAML path does.
func listItem(v any) any {
	switch x := v.(type) {
	case json.Number:
		if _, val, err := jsonNumber(x); err == nil {
			if i, ok := val.(int64); ok {
				return int(i)
			}
			return val
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = listItem(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = listItem(x[k])
		}
	}
	return v
}

func parseYAML(data []byte) (*Tree, error) {
	t := New()
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return t, nil
	}
	root := resolve(doc.Content[0])
	if root.Kind == yaml.ScalarNode && root.ShortTag() == "!!null" {
		return t, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top-level value must be an object", ErrInvalidDocument)
	}
	if err := t.addMapping(NoParent, root); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) addMapping(parent NodeID, m *yaml.Node) error {
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := resolve(m.Content[i])
		val := resolve(m.Content[i+1])
		if key.Kind != yaml.ScalarNode {
			return fmt.Errorf("%w: non-scalar key at line %d", ErrInvalidDocument, key.Line)
		}
		n, err := leafFrom(key.Value, val)
		if err != nil {
			return err
		}
		id := t.Add(parent, n)
		if val.Kind == yaml.MappingNode {
			if err := t.addMapping(id, val); err != nil {
				return err
			}
		}
	}
	return nil
}

func leafFrom(name string, val *yaml.Node) (Node, error) {
	n := Node{Name: name}
	switch val.Kind {
	case yaml.MappingNode:
		n.Type = None
		return n, nil
	case yaml.SequenceNode:
		var items []any
		if err := val.Decode(&items); err != nil {
			return Node{}, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
		}
		n.Type = List
		n.SetValue = items
		return n, nil
	case yaml.ScalarNode:
	default:
		return Node{}, fmt.Errorf("%w: unsupported value for %s", ErrInvalidDocument, name)
	}

	var err error
	switch val.ShortTag() {
	case "!!int":
		var v int64
		if val.Decode(&v) != nil {
			return Node{}, fmt.Errorf("%w: %s: %s", ErrIntOutOfRange, name, val.Value)
		}
		n.Type, n.SetValue = Int, v
	case "!!float":
		// YAML resolves integers beyond 64 bits as floats.
		if isIntegerLiteral(val.Value) {
			return Node{}, fmt.Errorf("%w: %s: %s", ErrIntOutOfRange, name, val.Value)
		}
		var v float64
		if err = val.Decode(&v); err == nil {
			n.Type, n.SetValue = Float, v
		}
	case "!!bool":
		var v bool
		if err = val.Decode(&v); err == nil {
			n.Type, n.SetValue = Bool, v
		}
	case "!!null":
		n.Type = None
	default:
		n.Type, n.SetValue = String, val.Value
	}
	if err != nil {
		return Node{}, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, name, err)
	}
	return n, nil
}

func isIntegerLiteral(raw string) bool {
	digits := strings.TrimLeft(strings.ReplaceAll(raw, "_", ""), "+-")
	return digits != "" && strings.Trim(digits, "0123456789") == ""
}

func resolve(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

// MarshalJSON renders the tree as one JSON object in document order.
func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.writeObject(&buf, t.roots); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// AppendFields writes the root entries as "k":v pairs without braces so they
// can be spliced into an enclosing object.
func (t *Tree) AppendFields(buf *bytes.Buffer) error {
	return t.writeFields(buf, t.roots)
}

func (t *Tree) writeObject(buf *bytes.Buffer, ids []NodeID) error {
	buf.WriteByte('{')
	if err := t.writeFields(buf, ids); err != nil {
		return err
	}
	buf.WriteByte('}')
	return nil
}

func (t *Tree) writeFields(buf *bytes.Buffer, ids []NodeID) error {
	for i, id := range ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		n := &t.nodes[id]
		key, err := json.Marshal(n.Name)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(n.Children) > 0 {
			if err := t.writeObject(buf, n.Children); err != nil {
				return err
			}
			continue
		}
		val, err := json.Marshal(n.SetValue)
		if err != nil {
			return fmt.Errorf("configtree: encode %s: %w", t.Path(id), err)
		}
		buf.Write(val)
	}
	return nil
}
