package schema

import (
	"errors"
	"fmt"
)

// Client-input errors. Handlers map these to 4xx responses.
var (
	ErrDuplicateSchema     = errors.New("schema already exists")
	ErrSchemaNotFound      = errors.New("schema not found")
	ErrInvalidSchemaName   = errors.New("invalid schema name")
	ErrInvalidDefinition   = errors.New("invalid schema definition")
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrUniquenessViolation = errors.New("must be unique")
	ErrInvalidValue        = errors.New("invalid value")
	ErrInvalidKey          = errors.New("invalid key")
	ErrMissingKey          = errors.New("missing key")
	ErrMissingField        = errors.New("missing field")
	ErrUnknownField        = errors.New("unknown field")
	ErrFilterSyntax        = errors.New("invalid filter")
	ErrRecordNotFound      = errors.New("record not found")
	ErrInvalidIdentifier   = errors.New("invalid identifier")
)

// FieldError is a violation tied to one field (and optionally one nested key).
type FieldError struct {
	Field string
	Key   string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	name := e.Field
	if e.Key != "" {
		name = e.Field + "." + e.Key
	}
	switch {
	case errors.Is(e.Err, ErrInvalidKey), errors.Is(e.Err, ErrMissingKey):
		return fmt.Sprintf("%s for %s: %s", e.Err, e.Field, e.Key)
	case e.Value != nil:
		return fmt.Sprintf("%s: %s (got %v)", name, e.Err, e.Value)
	default:
		return fmt.Sprintf("%s: %s", name, e.Err)
	}
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldErr(field string, err error) *FieldError {
	return &FieldError{Field: field, Err: err}
}

// IsClientError reports whether err is caused by caller input rather than
// by the storage layer.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrDuplicateSchema, ErrSchemaNotFound, ErrInvalidSchemaName,
		ErrInvalidDefinition, ErrTypeMismatch, ErrUniquenessViolation,
		ErrInvalidValue, ErrInvalidKey, ErrMissingKey, ErrMissingField,
		ErrUnknownField, ErrFilterSyntax, ErrRecordNotFound, ErrInvalidIdentifier,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
