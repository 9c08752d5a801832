package jobs

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrNotFound is returned when a keyed lookup or update matched no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create hits an existing unique key.
	ErrConflict = errors.New("already exists")
	// ErrInconsistentState means a row written earlier in the same
	// transaction could not be read back.
	ErrInconsistentState = errors.New("inconsistent state")
)

// ValidationError lists missing or malformed input fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

// StoreError wraps a failure of the underlying store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

// Wrap tags err with the store operation that produced it. Sentinel errors
// from this package pass through unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrInconsistentState) {
		return err
	}
	var se *StoreError
	var ve *ValidationError
	if errors.As(err, &se) || errors.As(err, &ve) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Error kinds reported to callers.
const (
	KindNotFound          = "not_found"
	KindValidation        = "validation_error"
	KindConflict          = "conflict"
	KindInconsistentState = "inconsistent_state"
	KindStore             = "store_error"
	KindInternal          = "internal"
)

// Kind classifies err into one of the stable error kinds.
func Kind(err error) string {
	var ve *ValidationError
	var se *StoreError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInconsistentState):
		return KindInconsistentState
	case errors.As(err, &se):
		return KindStore
	default:
		return KindInternal
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(FieldName)
	return v
}

// FieldName reports the JSON name of f, or its lower-cased Go name when it
// has none. Register it on other validators so field errors line up.
func FieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "" || name == "-" {
		return strings.ToLower(f.Name)
	}
	return name
}

// Validate checks the struct tags of in and converts failures into a
// *ValidationError keyed by JSON field name.
func Validate(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate: %w", err)
	}
	fields := map[string]string{}
	for _, fe := range ve {
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{Fields: fields}
}
