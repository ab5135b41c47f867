package document

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is the caller-supplied JSON Schema of a resource, extended with the
// metadata properties every document carries.
type Schema struct {
	root       *jsonschema.Schema
	properties map[string]*jsonschema.Resolved
	required   []string
}

// ParseSchema decodes a JSON Schema document and builds a Schema from it.
func ParseSchema(data []byte) (*Schema, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return NewSchema(&s)
}

// NewSchema clones s, injects the metadata properties and resolves every
// top-level property so that each one can be validated on its own.
func NewSchema(s *jsonschema.Schema) (*Schema, error) {
	if s == nil {
		s = &jsonschema.Schema{Type: "object"}
	}
	root, err := cloneSchema(s)
	if err != nil {
		return nil, err
	}
	if root.Type == "" && len(root.Types) == 0 {
		root.Type = "object"
	}
	if root.Properties == nil {
		root.Properties = map[string]*jsonschema.Schema{}
	}
	for name, prop := range metadataProperties() {
		if _, exists := root.Properties[name]; !exists {
			root.Properties[name] = prop
		}
	}

	out := &Schema{
		root:       root,
		properties: make(map[string]*jsonschema.Resolved, len(root.Properties)),
		required:   append([]string(nil), root.Required...),
	}
	for name, prop := range root.Properties {
		resolved, err := prop.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("resolve property %q: %w", name, err)
		}
		out.properties[name] = resolved
	}
	return out, nil
}

func metadataProperties() map[string]*jsonschema.Schema {
	minVersion := 0.0
	return map[string]*jsonschema.Schema{
		FieldCreatedAt:   {Type: "string", Format: "date-time"},
		FieldLastUpdated: {Type: "string", Format: "date-time"},
		FieldDeleted:     {Type: "boolean", Default: json.RawMessage("false")},
		FieldVersion:     {Type: "integer", Minimum: &minVersion},
	}
}

func cloneSchema(s *jsonschema.Schema) (*jsonschema.Schema, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var out jsonschema.Schema
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return &out, nil
}

// JSONSchema returns a copy of the extended schema, suitable for publishing.
func (s *Schema) JSONSchema() *jsonschema.Schema {
	out, err := cloneSchema(s.root)
	if err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return out
}

// Properties returns the declared property names in sorted order.
func (s *Schema) Properties() []string {
	names := make([]string, 0, len(s.root.Properties))
	for name := range s.root.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PropertyType returns the JSON type of a top-level property, or "" when the
// property is unknown or untyped.
func (s *Schema) PropertyType(name string) string {
	prop, ok := s.root.Properties[name]
	if !ok || prop == nil {
		return ""
	}
	if prop.Type != "" {
		return prop.Type
	}
	for _, t := range prop.Types {
		if t != "null" {
			return t
		}
	}
	return ""
}

// ApplyDefaults fills absent top-level properties that declare a default.
func (s *Schema) ApplyDefaults(doc Document) {
	for name, prop := range s.root.Properties {
		if _, present := doc[name]; present || len(prop.Default) == 0 {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(prop.Default, &v); err == nil {
			doc[name] = v
		}
	}
}

// Validate checks doc against every declared property and the required list.
// It returns a *ValidationError carrying one message per failing field.
func (s *Schema) Validate(doc Document) error {
	var messages []string
	for _, name := range s.required {
		if v, present := doc[name]; !present || v == nil {
			messages = append(messages, name+" is required")
		}
	}
	for _, name := range s.Properties() {
		v, present := doc[name]
		if !present || v == nil {
			continue
		}
		instance, err := jsonValue(v)
		if err != nil {
			messages = append(messages, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if err := s.properties[name].Validate(instance); err != nil {
			messages = append(messages, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(messages) > 0 {
		return &ValidationError{Messages: messages}
	}
	return nil
}

// jsonValue converts a stored value into its plain JSON form. ObjectIDs
// become hex strings and dates become RFC 3339 strings.
func jsonValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
