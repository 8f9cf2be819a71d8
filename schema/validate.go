package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Finder looks up one document in a collection by exact-match filter.
// It returns nil when nothing matches.
type Finder interface {
	FindOne(ctx context.Context, collection string, filter map[string]any) (map[string]any, error)
}

// Validator gates writes to one schema's collection.
type Validator struct {
	def        *Definition
	collection string
	finder     Finder
	now        func() time.Time
}

// NewValidator returns a Validator for def whose documents live in collection.
func NewValidator(def *Definition, collection string, finder Finder) *Validator {
	return &Validator{
		def:        def,
		collection: collection,
		finder:     finder,
		now:        time.Now,
	}
}

// WithClock overrides the timestamp source.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Definition returns the schema the validator enforces.
func (v *Validator) Definition() *Definition {
	return v.def
}

// ValidateCreate checks a new document and returns the record to insert.
// The first violation aborts.
func (v *Validator) ValidateCreate(ctx context.Context, doc map[string]any) (map[string]any, error) {
	out, errs, err := v.check(ctx, doc, "", true, false)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	ts := v.timestamp()
	out[CreatedAtKey] = ts
	out[ModifiedAtKey] = ts
	return out, nil
}

// ValidateUpdate checks the fields supplied for the document identified by id
// and returns the set of values to write.
func (v *Validator) ValidateUpdate(ctx context.Context, id string, patch map[string]any) (map[string]any, error) {
	out, errs, err := v.check(ctx, patch, id, false, false)
	if err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no schema field supplied for update", ErrMissingField)
	}
	out[ModifiedAtKey] = v.timestamp()
	return out, nil
}

// ValidateAll checks a new document and reports every violation instead of
// stopping at the first one. A non-nil error means the store failed.
func (v *Validator) ValidateAll(ctx context.Context, doc map[string]any) (map[string]any, []error, error) {
	out, errs, err := v.check(ctx, doc, "", true, true)
	if err != nil {
		return nil, nil, err
	}
	if len(errs) > 0 {
		return nil, errs, nil
	}
	ts := v.timestamp()
	out[CreatedAtKey] = ts
	out[ModifiedAtKey] = ts
	return out, nil, nil
}

func (v *Validator) timestamp() string {
	return v.now().UTC().Format(time.RFC3339)
}

// check walks the schema fields in order. For creates every field must be
// present; for updates only the supplied ones are checked. Validation errors
// go to errs; store failures are returned as err.
func (v *Validator) check(ctx context.Context, doc map[string]any, id string, create, collect bool) (map[string]any, []error, error) {
	var errs []error
	fail := func(e error) bool {
		errs = append(errs, e)
		return !collect
	}

	for _, key := range sortedKeys(doc) {
		if IsReservedKey(key) {
			continue
		}
		if _, ok := v.def.Field(key); !ok {
			if fail(fieldErr(key, ErrUnknownField)) {
				return nil, errs, nil
			}
		}
	}

	out := make(map[string]any, len(v.def.Fields)+2)
	for _, f := range v.def.Fields {
		raw, present := doc[f.Name]
		if !present {
			if create && fail(fieldErr(f.Name, ErrMissingField)) {
				return nil, errs, nil
			}
			continue
		}

		value, err := coerce(f.Kind, raw)
		if err != nil {
			if fail(fieldErr(f.Name, err)) {
				return nil, errs, nil
			}
			continue
		}

		if f.Unique {
			dup, err := v.duplicate(ctx, f.Name, value, id)
			if err != nil {
				return nil, nil, err
			}
			if dup && fail(fieldErr(f.Name, ErrUniquenessViolation)) {
				return nil, errs, nil
			}
		}

		if f.AllowedValues != nil {
			if bad, ok := firstDisallowed(f.AllowedValues, value); !ok {
				if fail(&FieldError{Field: f.Name, Value: bad, Err: ErrInvalidValue}) {
					return nil, errs, nil
				}
			}
		}

		if f.NestedKeys != nil {
			if e := checkNested(f, value.(map[string]any)); e != nil {
				if fail(e) {
					return nil, errs, nil
				}
			}
		}

		out[f.Name] = value
	}
	return out, errs, nil
}

func (v *Validator) duplicate(ctx context.Context, field string, value any, id string) (bool, error) {
	if v.finder == nil {
		return false, nil
	}
	existing, err := v.finder.FindOne(ctx, v.collection, map[string]any{field: value})
	if err != nil {
		return false, fmt.Errorf("uniqueness lookup on %s.%s: %w", v.collection, field, err)
	}
	if existing == nil {
		return false, nil
	}
	if id != "" {
		if existingID, _ := existing[IDKey].(string); existingID == id {
			return false, nil
		}
	}
	return true, nil
}

// coerce checks that value is of kind and returns its canonical form.
// Whole JSON numbers are accepted for int fields and returned as int64.
func coerce(kind Kind, value any) (any, error) {
	switch kind {
	case KindInt:
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if i, ok := wholeInt(n); ok {
				return i, nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
			if f, err := n.Float64(); err == nil {
				if i, ok := wholeInt(f); ok {
					return i, nil
				}
			}
		}
	case KindFloat:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, nil
			}
		}
	case KindBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case KindString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case KindList:
		if l, ok := value.([]any); ok {
			return l, nil
		}
		if l, ok := value.([]string); ok {
			out := make([]any, len(l))
			for i, s := range l {
				out[i] = s
			}
			return out, nil
		}
	case KindDict:
		if m, ok := value.(map[string]any); ok {
			return m, nil
		}
	case "":
		return value, nil
	}
	return nil, fmt.Errorf("%w: expected %s, got %s", ErrTypeMismatch, kind, jsonType(value))
}

// wholeInt returns f as an int64 when it has no fractional part and fits.
func wholeInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

func jsonType(v any) string {
	if v == nil {
		return "null"
	}
	switch n := v.(type) {
	case map[string]any:
		return "dict"
	case []any, []string:
		return "list"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64:
		if _, ok := wholeInt(n); ok {
			return "int"
		}
		return "float"
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return "int"
		}
		if f, err := n.Float64(); err == nil {
			return jsonType(f)
		}
		return "number"
	case int, int64:
		return "int"
	default:
		return reflect.TypeOf(v).String()
	}
}

// firstDisallowed reports the first value (or list element) that is not in
// allowed. ok is false when such a value exists.
func firstDisallowed(allowed []string, value any) (bad any, ok bool) {
	in := func(v any) bool {
		s, isString := v.(string)
		if !isString {
			return false
		}
		for _, a := range allowed {
			if a == s {
				return true
			}
		}
		return false
	}
	if list, isList := value.([]any); isList {
		for _, elem := range list {
			if !in(elem) {
				return elem, false
			}
		}
		return nil, true
	}
	if !in(value) {
		return value, false
	}
	return nil, true
}

// checkNested rejects keys not declared in f.NestedKeys and checks the kind
// of each declared key that is present.
func checkNested(f Field, value map[string]any) error {
	for _, key := range sortedKeys(value) {
		want, declared := f.NestedKeys[key]
		if !declared {
			return &FieldError{Field: f.Name, Key: key, Err: ErrInvalidKey}
		}
		if _, err := coerce(want, value[key]); err != nil {
			return &FieldError{Field: f.Name, Key: key, Err: err}
		}
	}
	return nil
}

// AsFieldError unwraps err to a *FieldError if it is one.
func AsFieldError(err error) (*FieldError, bool) {
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
