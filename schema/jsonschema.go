package schema

import (
	"github.com/google/jsonschema-go/jsonschema"
)

var kindTypes = map[Kind]string{
	KindInt:    "integer",
	KindFloat:  "number",
	KindBool:   "boolean",
	KindString: "string",
	KindList:   "array",
	KindDict:   "object",
}

// JSONSchema renders the definition as a JSON Schema describing the documents
// a client may post to create a record.
func (d *Definition) JSONSchema() *jsonschema.Schema {
	root := &jsonschema.Schema{
		Title:                d.Name,
		Type:                 "object",
		Properties:           make(map[string]*jsonschema.Schema, len(d.Fields)),
		AdditionalProperties: falseSchema(),
	}
	for _, f := range d.Fields {
		root.Properties[f.Name] = fieldSchema(f)
		root.Required = append(root.Required, f.Name)
	}
	return root
}

func fieldSchema(f Field) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: kindTypes[f.Kind]}
	if f.Unique {
		s.Description = "unique"
	}
	switch f.Kind {
	case KindString:
		s.Enum = enum(f.AllowedValues)
	case KindList:
		if f.AllowedValues != nil {
			s.Items = &jsonschema.Schema{Type: "string", Enum: enum(f.AllowedValues)}
		}
	case KindDict:
		if f.NestedKeys != nil {
			s.Properties = make(map[string]*jsonschema.Schema, len(f.NestedKeys))
			for _, key := range sortedKindKeys(f.NestedKeys) {
				s.Properties[key] = &jsonschema.Schema{Type: kindTypes[f.NestedKeys[key]]}
			}
			s.AdditionalProperties = falseSchema()
		}
	}
	return s
}

func enum(values []string) []any {
	if values == nil {
		return nil
	}
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// falseSchema matches nothing.
func falseSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Not: &jsonschema.Schema{}}
}
