// Package schema defines the validation contract used throughout runner-go:
// any type exposing Parse(input any) (any, error) can back a task input,
// resource config, event payload, or middleware config.
package schema

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// Schema is the minimal contract every validator in this module satisfies.
// It mirrors the Zod/Yup/Joi `parse(input) -> T` shape from the spec, kept
// deliberately narrow so callers can adapt any third-party validator to it.
type Schema interface {
	Parse(input any) (any, error)
}

// Func adapts a plain function to Schema.
type Func func(input any) (any, error)

func (f Func) Parse(input any) (any, error) { return f(input) }

// ValidationError is the cause wrapped by the framework's own ValidationError
// (defined at the module root); it carries the underlying library error and
// a path when the library can report one.
type ValidationError struct {
	Message string
	Path    []string
	Cause   error
}

func (e *ValidationError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%s at path %v", e.Message, e.Path)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Cause }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct builds a Schema backed by go-playground/validator struct tags.
// T must be a struct type; Parse accepts either a T or a *T and returns the
// validated value as T.
type structSchema[T any] struct{}

// Struct returns a Schema that validates input against T's `validate` tags.
func Struct[T any]() Schema {
	return structSchema[T]{}
}

func (structSchema[T]) Parse(input any) (any, error) {
	var zero T

	switch v := input.(type) {
	case T:
		if err := validate.Struct(v); err != nil {
			return nil, toValidationError(err)
		}
		return v, nil
	case *T:
		if v == nil {
			return nil, &ValidationError{Message: "input is nil"}
		}
		if err := validate.Struct(*v); err != nil {
			return nil, toValidationError(err)
		}
		return *v, nil
	default:
		return nil, &ValidationError{
			Message: fmt.Sprintf("expected %s, got %s", reflect.TypeOf(zero), reflect.TypeOf(input)),
		}
	}
}

func toValidationError(err error) *ValidationError {
	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return &ValidationError{
			Message: fmt.Sprintf("field %q failed %q validation", first.Namespace(), first.Tag()),
			Path:    []string{first.Namespace()},
			Cause:   err,
		}
	}
	return &ValidationError{Message: err.Error(), Cause: err}
}
