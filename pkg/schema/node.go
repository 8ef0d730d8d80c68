// Package schema resolves Singer JSON Schema documents into a canonical node
// tree and translates that tree into BigQuery column schemas.
//
// Resolution happens once, in Parse. Everything downstream (the translator,
// the record validator, schema comparison) branches on Kind and never looks
// at raw type strings again.
package schema

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/target-bigquery/pkg/json"
	"github.com/ajitpratap0/target-bigquery/pkg/targeterrors"
)

// Kind is the primitive a schema node resolves to after union resolution.
type Kind string

const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
)

const kindNull = "null"

// Format hints the translator and validator understand.
const (
	FormatDateTime = "date-time"
	FormatJSON     = "json"
)

// Node is one resolved property of a structural schema.
type Node struct {
	Name     string
	Kind     Kind
	Nullable bool
	Format   string

	// Properties holds object children in document order.
	Properties []*Node
	// Required lists the object keys that must be present in a record.
	Required []string
	// Items describes array elements.
	Items *Node
}

// Property returns the direct child with the given name.
func (n *Node) Property(name string) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	for _, p := range n.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// IsRequired reports whether name appears in the node's required list.
func (n *Node) IsRequired(name string) bool {
	for _, r := range n.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Equal reports structural equality. Property order is significant because it
// decides column order.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Name != other.Name || n.Kind != other.Kind || n.Nullable != other.Nullable || n.Format != other.Format {
		return false
	}
	if len(n.Properties) != len(other.Properties) || len(n.Required) != len(other.Required) {
		return false
	}
	for i := range n.Properties {
		if !n.Properties[i].Equal(other.Properties[i]) {
			return false
		}
	}
	for i := range n.Required {
		if n.Required[i] != other.Required[i] {
			return false
		}
	}
	return n.Items.Equal(other.Items)
}

// rawSchema is the subset of JSON Schema keywords Parse looks at.
type rawSchema struct {
	Type       json.RawMessage   `json:"type"`
	Format     string            `json:"format"`
	Properties json.RawMessage   `json:"properties"`
	Items      json.RawMessage   `json:"items"`
	AnyOf      []json.RawMessage `json:"anyOf"`
	Required   []string          `json:"required"`
}

// Parse resolves a JSON Schema document into its canonical node tree. The
// root must describe an object; a root without a type keyword is accepted
// when it carries properties, as Singer taps commonly emit.
func Parse(raw []byte) (*Node, error) {
	var rs rawSchema
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, targeterrors.Wrap(err, targeterrors.ErrorTypeStructural, "invalid JSON schema")
	}

	if len(rs.Type) == 0 && len(rs.AnyOf) == 0 {
		rs.Type = json.RawMessage(`"object"`)
	}

	root, err := resolve("", "", rs)
	if err != nil {
		return nil, err
	}
	if root.Kind != KindObject {
		return nil, schemaError("", "root schema must be an object, got %s", root.Kind)
	}
	return root, nil
}

func resolve(name, path string, rs rawSchema) (*Node, error) {
	if len(rs.AnyOf) > 0 && len(rs.Type) == 0 {
		return resolveAnyOf(name, path, rs.AnyOf)
	}
	if len(rs.Type) == 0 {
		return nil, schemaError(path, "missing type")
	}

	tokens, err := typeTokens(rs.Type)
	if err != nil {
		return nil, schemaError(path, "%v", err)
	}

	kind, nullable, err := resolveUnion(tokens)
	if err != nil {
		return nil, schemaError(path, "%v", err)
	}

	node := &Node{
		Name:     name,
		Kind:     kind,
		Nullable: nullable,
		Format:   rs.Format,
	}

	switch kind {
	case KindObject:
		node.Required = rs.Required
		node.Properties, err = resolveProperties(path, rs.Properties)
		if err != nil {
			return nil, err
		}
	case KindArray:
		if len(rs.Items) == 0 {
			return nil, schemaError(path, "array without items")
		}
		var items rawSchema
		if err := json.Unmarshal(rs.Items, &items); err != nil {
			return nil, schemaError(path, "invalid items: %v", err)
		}
		node.Items, err = resolve(name, path, items)
		if err != nil {
			return nil, err
		}
		if node.Items.Kind == KindArray {
			return nil, schemaError(path, "nested arrays are not supported")
		}
	case KindString, KindInteger, KindNumber, KindBoolean:
	default:
		return nil, schemaError(path, "unknown type %q", kind)
	}

	return node, nil
}

func resolveProperties(path string, raw json.RawMessage) ([]*Node, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	keys, err := json.ObjectKeys(raw)
	if err != nil {
		return nil, schemaError(path, "invalid properties: %v", err)
	}
	var props map[string]rawSchema
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, schemaError(path, "invalid properties: %v", err)
	}

	nodes := make([]*Node, 0, len(keys))
	for _, key := range keys {
		child, err := resolve(key, joinPath(path, key), props[key])
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, child)
	}
	return nodes, nil
}

// resolveAnyOf treats a null variant as nullability. The remaining variants
// must agree on a kind; their format survives only if they all share it.
func resolveAnyOf(name, path string, variants []json.RawMessage) (*Node, error) {
	var (
		resolved *Node
		nullable bool
		format   string
	)

	for i, raw := range variants {
		var rs rawSchema
		if err := json.Unmarshal(raw, &rs); err != nil {
			return nil, schemaError(path, "invalid anyOf variant %d: %v", i, err)
		}

		if tokens, err := typeTokens(rs.Type); err == nil && len(tokens) == 1 && tokens[0] == kindNull {
			nullable = true
			continue
		}

		node, err := resolve(name, path, rs)
		if err != nil {
			return nil, err
		}
		nullable = nullable || node.Nullable

		if resolved == nil {
			resolved = node
			format = node.Format
			continue
		}
		if node.Kind != resolved.Kind {
			return nil, schemaError(path, "anyOf variants disagree: %s and %s", resolved.Kind, node.Kind)
		}
		if node.Format != format {
			format = ""
		}
	}

	if resolved == nil {
		return nil, schemaError(path, "anyOf has no non-null variant")
	}
	resolved.Nullable = nullable
	resolved.Format = format
	return resolved, nil
}

// typeTokens accepts "type": "T" and "type": [...].
func typeTokens(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("type must be a string or a list of strings")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("empty type list")
	}
	return list, nil
}

// resolveUnion strips "null" from a type list wherever it appears and requires
// exactly one remaining token.
func resolveUnion(tokens []string) (Kind, bool, error) {
	var (
		nullable bool
		rest     []string
	)
	for _, t := range tokens {
		if t == kindNull {
			nullable = true
			continue
		}
		rest = append(rest, t)
	}

	switch len(rest) {
	case 0:
		return "", false, fmt.Errorf("type has no non-null member")
	case 1:
		return Kind(rest[0]), nullable, nil
	default:
		return "", false, fmt.Errorf("ambiguous type union %v", tokens)
	}
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func schemaError(path, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		msg = strings.Join([]string{path, msg}, ": ")
	}
	return targeterrors.New(targeterrors.ErrorTypeStructural, msg).WithDetail("path", path)
}
