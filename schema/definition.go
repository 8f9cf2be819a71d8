// Package schema defines schema definitions and validates documents against them.
package schema

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Kind is the declared type of a field.
type Kind string

const (
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindString Kind = "string"
	KindList   Kind = "list"
	KindDict   Kind = "dict"
)

var kindAliases = map[string]Kind{
	"int":     KindInt,
	"integer": KindInt,
	"float":   KindFloat,
	"number":  KindFloat,
	"double":  KindFloat,
	"bool":    KindBool,
	"boolean": KindBool,
	"string":  KindString,
	"str":     KindString,
	"text":    KindString,
	"list":    KindList,
	"array":   KindList,
	"dict":    KindDict,
	"object":  KindDict,
	"map":     KindDict,
}

// ParseKind returns the canonical Kind for s, accepting common aliases.
func ParseKind(s string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidDefinition, s)
	}
	return k, nil
}

// Scalar reports whether values of k are single JSON scalars.
func (k Kind) Scalar() bool {
	switch k {
	case KindInt, KindFloat, KindBool, KindString:
		return true
	}
	return false
}

// Reserved document keys, maintained by the server.
const (
	IDKey         = "_id"
	CreatedAtKey  = "createdAt"
	ModifiedAtKey = "modifiedAt"
)

// IsReservedKey reports whether key is maintained by the server.
func IsReservedKey(key string) bool {
	return key == IDKey || key == CreatedAtKey || key == ModifiedAtKey
}

// reservedNames collide with fixed routes.
var reservedNames = map[string]bool{
	"schemas": true,
	"export":  true,
	"health":  true,
}

// Field is one typed slot of a schema.
type Field struct {
	Name          string          `json:"name" yaml:"name"`
	Kind          Kind            `json:"kind" yaml:"kind"`
	Unique        bool            `json:"unique" yaml:"unique"`
	AllowedValues []string        `json:"allowedValues,omitempty" yaml:"allowedValues,omitempty"`
	NestedKeys    map[string]Kind `json:"nestedKeys,omitempty" yaml:"nestedKeys,omitempty"`
}

// Definition is a named set of fields governing one collection.
type Definition struct {
	Name      string    `json:"name" yaml:"name"`
	Fields    []Field   `json:"fields" yaml:"fields"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt,omitempty"`
}

// Field returns the field called name.
func (d *Definition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// UniqueFields returns the names of fields flagged unique, in schema order.
func (d *Definition) UniqueFields() []string {
	var names []string
	for _, f := range d.Fields {
		if f.Unique {
			names = append(names, f.Name)
		}
	}
	return names
}

// NormalizeName lowercases and trims a schema name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// CheckName validates a normalized schema name.
func CheckName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidSchemaName)
	case strings.IndexFunc(name, unicode.IsSpace) >= 0:
		return fmt.Errorf("%w: %q cannot contain spaces", ErrInvalidSchemaName, name)
	case strings.HasPrefix(name, "_"):
		return fmt.Errorf("%w: %q cannot start with an underscore", ErrInvalidSchemaName, name)
	case strings.ContainsAny(name, `/."$'`):
		return fmt.Errorf("%w: %q contains a forbidden character", ErrInvalidSchemaName, name)
	case reservedNames[name]:
		return fmt.Errorf("%w: %q is reserved", ErrInvalidSchemaName, name)
	}
	return nil
}

// Normalize canonicalizes the definition in place and checks its invariants.
func (d *Definition) Normalize() error {
	d.Name = NormalizeName(d.Name)
	if err := CheckName(d.Name); err != nil {
		return err
	}
	fields, err := NormalizeFields(d.Fields)
	if err != nil {
		return err
	}
	d.Fields = fields
	return nil
}

// NormalizeFields canonicalizes kinds, collapses duplicate allowed values and
// checks per-field invariants. The input slice is not modified.
func NormalizeFields(fields []Field) ([]Field, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: at least one field is required", ErrInvalidDefinition)
	}
	out := make([]Field, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if err := checkFieldName(f.Name); err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidDefinition, f.Name)
		}
		seen[f.Name] = true

		kind, err := ParseKind(string(f.Kind))
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		f.Kind = kind

		if f.AllowedValues != nil && len(f.AllowedValues) == 0 {
			return nil, fmt.Errorf("%w: field %q has an empty allowedValues list", ErrInvalidDefinition, f.Name)
		}
		if f.NestedKeys != nil && len(f.NestedKeys) == 0 {
			return nil, fmt.Errorf("%w: field %q has an empty nestedKeys map", ErrInvalidDefinition, f.Name)
		}
		if f.AllowedValues != nil && f.NestedKeys != nil {
			return nil, fmt.Errorf("%w: field %q cannot have both allowedValues and nestedKeys", ErrInvalidDefinition, f.Name)
		}
		if f.AllowedValues != nil {
			if kind != KindString && kind != KindList {
				return nil, fmt.Errorf("%w: allowedValues only apply to string and list fields (%q is %s)", ErrInvalidDefinition, f.Name, kind)
			}
			f.AllowedValues = dedupe(f.AllowedValues)
		}
		if f.NestedKeys != nil {
			if kind != KindDict {
				return nil, fmt.Errorf("%w: nestedKeys only apply to dict fields (%q is %s)", ErrInvalidDefinition, f.Name, kind)
			}
			keys := make(map[string]Kind, len(f.NestedKeys))
			for k, v := range f.NestedKeys {
				if v == "" {
					keys[k] = ""
					continue
				}
				nk, err := ParseKind(string(v))
				if err != nil {
					return nil, fmt.Errorf("field %q key %q: %w", f.Name, k, err)
				}
				keys[k] = nk
			}
			f.NestedKeys = keys
		}
		out = append(out, f)
	}
	return out, nil
}

func checkFieldName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: field name is empty", ErrInvalidDefinition)
	case strings.IndexFunc(name, unicode.IsSpace) >= 0:
		return fmt.Errorf("%w: field name %q cannot contain spaces", ErrInvalidDefinition, name)
	case strings.ContainsAny(name, `."$`):
		return fmt.Errorf("%w: field name %q contains a forbidden character", ErrInvalidDefinition, name)
	case IsReservedKey(name):
		return fmt.Errorf("%w: field name %q is reserved", ErrInvalidDefinition, name)
	}
	return nil
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
