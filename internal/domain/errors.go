package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrInvalidFileType      = errors.New("invalid file type")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidEmailFormat   = errors.New("invalid email format")
	ErrImageDecode          = errors.New("image decode failure")
	ErrRasterization        = errors.New("rasterization failure")
)

// FieldError is a validation failure shown inline next to one form field.
type FieldError struct {
	Field   string
	Kind    error
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *FieldError) Unwrap() error {
	return e.Kind
}

// FieldErrors collects at most one error per field.
type FieldErrors map[string]*FieldError

func (fe FieldErrors) Add(field string, kind error, message string) {
	fe[field] = &FieldError{Field: field, Kind: kind, Message: message}
}

func (fe FieldErrors) Error() string {
	fields := fe.fields()
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fe[field].Error())
	}
	return strings.Join(parts, "; ")
}

func (fe FieldErrors) Unwrap() []error {
	fields := fe.fields()
	out := make([]error, 0, len(fields))
	for _, field := range fields {
		out = append(out, fe[field])
	}
	return out
}

// Messages returns the user-facing message per field.
func (fe FieldErrors) Messages() map[string]string {
	out := make(map[string]string, len(fe))
	for field, err := range fe {
		out[field] = err.Message
	}
	return out
}

// Err returns nil when no field failed, so callers never hold a typed nil.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	return fe
}

func (fe FieldErrors) fields() []string {
	fields := make([]string, 0, len(fe))
	for field := range fe {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
