// Package filter parses compact "field:value" filter expressions into
// exact-match queries.
package filter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/stevemurr/masterlist/schema"
)

// Term is one field:value pair of an expression.
type Term struct {
	Field string
	Value string
}

// Parse splits expr into terms. Segments are joined by "," or "&" and each
// segment is "field:value"; the value may itself contain ":".
func Parse(expr string) ([]Term, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", schema.ErrFilterSyntax)
	}
	segments := strings.FieldsFunc(expr, func(r rune) bool { return r == ',' || r == '&' })
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: empty expression", schema.ErrFilterSyntax)
	}
	terms := make([]Term, 0, len(segments))
	for _, seg := range segments {
		field, value, ok := strings.Cut(seg, ":")
		field = strings.TrimSpace(field)
		if !ok {
			return nil, fmt.Errorf("%w: segment %q is missing ':'", schema.ErrFilterSyntax, seg)
		}
		if field == "" {
			return nil, fmt.Errorf("%w: segment %q has no field name", schema.ErrFilterSyntax, seg)
		}
		terms = append(terms, Term{Field: field, Value: strings.TrimSpace(value)})
	}
	return terms, nil
}

// Build turns terms into a query against def's collection, converting each
// value to its field's kind. Fields that are not in the schema are rejected.
func Build(def *schema.Definition, terms []Term) (map[string]any, error) {
	q := make(map[string]any, len(terms))
	for _, t := range terms {
		if t.Field == schema.IDKey {
			q[t.Field] = t.Value
			continue
		}
		f, ok := def.Field(t.Field)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", schema.ErrFilterSyntax, t.Field)
		}
		v, err := Convert(f.Kind, t.Value)
		if err != nil {
			return nil, &schema.FieldError{Field: f.Name, Err: err}
		}
		q[f.Name] = v
	}
	return q, nil
}

// Convert parses the text form of a value of the given kind. Lists accept a
// JSON array or comma-separated items; dicts accept JSON, with single quotes
// tolerated.
func Convert(kind schema.Kind, s string) (any, error) {
	mismatch := func() error {
		return fmt.Errorf("%w: %q is not a valid %s", schema.ErrTypeMismatch, s, kind)
	}
	switch kind {
	case schema.KindInt:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			// Spreadsheets render whole numbers as "30.0".
			f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if ferr != nil || f != float64(int64(f)) {
				return nil, mismatch()
			}
			return int64(f), nil
		}
		return i, nil
	case schema.KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, mismatch()
		}
		return f, nil
	case schema.KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, mismatch()
		}
		return b, nil
	case schema.KindList:
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "[") {
			var l []any
			if err := json.Unmarshal([]byte(relaxQuotes(trimmed)), &l); err != nil {
				return nil, mismatch()
			}
			return l, nil
		}
		if trimmed == "" {
			return []any{}, nil
		}
		parts := strings.Split(trimmed, ",")
		l := make([]any, len(parts))
		for i, p := range parts {
			l[i] = strings.TrimSpace(p)
		}
		return l, nil
	case schema.KindDict:
		var m map[string]any
		if err := json.Unmarshal([]byte(relaxQuotes(strings.TrimSpace(s))), &m); err != nil || m == nil {
			return nil, mismatch()
		}
		return m, nil
	default:
		return s, nil
	}
}

// relaxQuotes accepts Python-style literals such as {'a': 'b'}.
func relaxQuotes(s string) string {
	if strings.Contains(s, `"`) {
		return s
	}
	return strings.ReplaceAll(s, "'", `"`)
}
