package schema

import (
	"github.com/invopop/jsonschema"
)

// ToJSONSchema renders a node as a JSON Schema. Mixed nodes become anyOf
// with one branch per variant; object and array branches keep the
// structure folded for them.
func ToJSONSchema(n *Node) *jsonschema.Schema {
	if n == nil {
		return &jsonschema.Schema{}
	}
	if n.Kind != KindMixed {
		return variantSchema(n, n.Kind)
	}

	anyOf := make([]*jsonschema.Schema, 0, len(n.Variants))
	for _, k := range n.Variants {
		anyOf = append(anyOf, variantSchema(n, k))
	}
	return &jsonschema.Schema{AnyOf: anyOf}
}

func variantSchema(n *Node, kind Kind) *jsonschema.Schema {
	switch kind {
	case KindObject:
		s := &jsonschema.Schema{
			Type:       "object",
			Properties: jsonschema.NewProperties(),
		}
		var required []string
		for _, name := range n.FieldNames() {
			f := n.Fields[name]
			s.Properties.Set(name, ToJSONSchema(f.Node))
			if f.Required {
				required = append(required, name)
			}
		}
		s.Required = required
		return s
	case KindArray:
		s := &jsonschema.Schema{Type: "array"}
		if n.Items != nil {
			s.Items = ToJSONSchema(n.Items)
		}
		return s
	default:
		return &jsonschema.Schema{Type: string(kind)}
	}
}
