package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError aggregates one or more field-level validation failures
// into a single error, keyed by field name.
type ValidationError struct {
	Errors map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for field, msg := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// AddError records a failure for the given field, initializing the map if
// this is the first one.
func (e *ValidationError) AddError(field, message string) {
	if e.Errors == nil {
		e.Errors = make(map[string]string)
	}
	e.Errors[field] = message
}

// HasErrors reports whether any field failures have been recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// NewValidationError converts go-playground/validator field errors into a
// ValidationError keyed by Go struct field name and a human-readable message.
func NewValidationError(fieldErrors validator.ValidationErrors) *ValidationError {
	verr := &ValidationError{Errors: make(map[string]string)}
	for _, fe := range fieldErrors {
		verr.AddError(fe.Field(), messageForTag(fe))
	}
	return verr
}

func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "kind_enum":
		return "must be one of: local_path, s3, minio, db"
	case "image_count_matches":
		return "image_count must equal the number of image references"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "uuid":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed validation on tag %q", fe.Tag())
	}
}
