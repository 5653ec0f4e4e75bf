// Package schema infers a structural schema from observed JSON bodies.
//
// A Node is folded one sample at a time. Folding never fails: a value
// whose kind differs from what was seen before widens the node to
// KindMixed. Object fields are required only while they have been present
// in every object folded so far, so the final required set does not depend
// on the order samples arrive in.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"strings"
)

// Kind is the JSON type of a node.
type Kind string

const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindNull    Kind = "null"
	KindMixed   Kind = "mixed"
)

// Node is the accumulated schema of one position in a JSON document.
type Node struct {
	Kind Kind `json:"kind"`
	// Variants lists, sorted, the kinds folded into a mixed node.
	Variants []Kind            `json:"variants,omitempty"`
	Seen     int               `json:"seen"`
	Objects  int               `json:"objects,omitempty"`
	Fields   map[string]*Field `json:"fields,omitempty"`
	Items    *Node             `json:"items,omitempty"`
}

// Field is a named child of an object node.
type Field struct {
	Node     *Node `json:"node"`
	Seen     int   `json:"seen"`
	Required bool  `json:"required"`
}

// KindOf returns the kind of a value decoded by encoding/json.
func KindOf(v any) Kind {
	switch val := v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBoolean
	case float64:
		if math.Trunc(val) == val && !math.IsInf(val, 0) && !math.IsNaN(val) {
			return KindInteger
		}
		return KindNumber
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return KindInteger
		}
		return KindNumber
	case string:
		return KindString
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return KindMixed
	}
}

// Fold merges one value into n and returns the result. A nil n starts a
// new node. n is modified in place.
func Fold(n *Node, v any) *Node {
	kind := KindOf(v)
	if n == nil {
		n = &Node{Kind: kind}
	} else {
		n.widen(kind)
	}
	n.Seen++

	switch val := v.(type) {
	case map[string]any:
		n.foldObject(val)
	case []any:
		for _, elem := range val {
			n.Items = Fold(n.Items, elem)
		}
	}
	return n
}

func (n *Node) widen(kind Kind) {
	switch {
	case n.Kind == kind:
		return
	case n.Kind == KindMixed:
		n.Variants = addKind(n.Variants, kind)
	default:
		n.Variants = addKind([]Kind{n.Kind}, kind)
		n.Kind = KindMixed
	}
}

func addKind(kinds []Kind, k Kind) []Kind {
	for _, existing := range kinds {
		if existing == k {
			return kinds
		}
	}
	kinds = append(kinds, k)
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (n *Node) foldObject(obj map[string]any) {
	n.Objects++
	if n.Fields == nil {
		n.Fields = make(map[string]*Field, len(obj))
	}
	for name, val := range obj {
		f := n.Fields[name]
		if f == nil {
			f = &Field{}
			n.Fields[name] = f
		}
		f.Node = Fold(f.Node, val)
		f.Seen++
	}
	for _, f := range n.Fields {
		f.Required = f.Seen == n.Objects
	}
}

// Has reports whether the node has ever held the given kind.
func (n *Node) Has(kind Kind) bool {
	if n.Kind == kind {
		return true
	}
	for _, k := range n.Variants {
		if k == kind {
			return true
		}
	}
	return false
}

// FieldNames returns the object's field names in sorted order.
func (n *Node) FieldNames() []string {
	names := make([]string, 0, len(n.Fields))
	for name := range n.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Kind:    n.Kind,
		Seen:    n.Seen,
		Objects: n.Objects,
		Items:   n.Items.Clone(),
	}
	if n.Variants != nil {
		c.Variants = append([]Kind{}, n.Variants...)
	}
	if n.Fields != nil {
		c.Fields = make(map[string]*Field, len(n.Fields))
		for name, f := range n.Fields {
			c.Fields[name] = &Field{Node: f.Node.Clone(), Seen: f.Seen, Required: f.Required}
		}
	}
	return c
}

// Shape renders the node's structure without counts. Two values with the
// same shape produce the same string.
func (n *Node) Shape() string {
	var b strings.Builder
	n.writeShape(&b)
	return b.String()
}

func (n *Node) writeShape(b *strings.Builder) {
	if n == nil {
		b.WriteString("_")
		return
	}
	b.WriteString(string(n.Kind))
	if len(n.Variants) > 0 {
		b.WriteByte('(')
		for i, k := range n.Variants {
			if i > 0 {
				b.WriteByte('|')
			}
			b.WriteString(string(k))
		}
		b.WriteByte(')')
	}
	if n.Has(KindObject) {
		b.WriteByte('{')
		for i, name := range n.FieldNames() {
			if i > 0 {
				b.WriteByte(',')
			}
			f := n.Fields[name]
			b.WriteString(name)
			if !f.Required {
				b.WriteByte('?')
			}
			b.WriteByte(':')
			f.Node.writeShape(b)
		}
		b.WriteByte('}')
	}
	if n.Has(KindArray) {
		b.WriteByte('[')
		n.Items.writeShape(b)
		b.WriteByte(']')
	}
}

// Fingerprint returns a stable hash of the shape of a single value.
func Fingerprint(v any) string {
	sum := sha256.Sum256([]byte(Fold(nil, v).Shape()))
	return hex.EncodeToString(sum[:])
}

// Decode parses a node stored by Encode.
func Decode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Encode serializes a node for storage.
func Encode(n *Node) ([]byte, error) {
	return json.Marshal(n)
}
