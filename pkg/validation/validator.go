package validation

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is the global validator instance, shared by every envelope type
// that carries `validate` struct tags.
var Validate *validator.Validate

func init() {
	Validate = validator.New()

	_ = Validate.RegisterValidation("kind_enum", validateKindEnum)
	_ = Validate.RegisterValidation("image_count_matches", validateImageCountMatches)
	_ = Validate.RegisterValidation("unique_indices", validateUniqueIndices)
}

// ValidateStruct validates a struct and returns a ValidationError if validation fails.
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// validateKindEnum restricts an Image Reference's Kind field to the closed
// set of resolver tags this service knows how to dispatch.
func validateKindEnum(fl validator.FieldLevel) bool {
	kind := strings.ToLower(strings.TrimSpace(fl.Field().String()))
	switch kind {
	case "local_path", "s3", "minio", "db":
		return true
	default:
		return false
	}
}

// validateImageCountMatches cross-checks payload.image_count against the
// actual length of the image_refs slice on the same struct. It expects the
// tagged field to be an int named ImageCount and a sibling slice field
// named ImageRefs.
func validateImageCountMatches(fl validator.FieldLevel) bool {
	count := fl.Field().Int()

	parent := fl.Parent()
	if parent.Kind() == reflect.Ptr {
		parent = parent.Elem()
	}
	if parent.Kind() != reflect.Struct {
		return false
	}

	refsField := parent.FieldByName("ImageRefs")
	if !refsField.IsValid() || refsField.Kind() != reflect.Slice {
		return false
	}

	return int(count) == refsField.Len()
}

// validateUniqueIndices enforces that every element of the tagged slice
// field carries a unique Index in [0, ImageCount) of the sibling struct.
// It expects a sibling int field named ImageCount and each slice element to
// expose an Index int field, matching Payload.ImageRefs/ImageCount.
func validateUniqueIndices(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.Slice {
		return false
	}

	parent := fl.Parent()
	if parent.Kind() == reflect.Ptr {
		parent = parent.Elem()
	}
	if parent.Kind() != reflect.Struct {
		return false
	}

	countField := parent.FieldByName("ImageCount")
	if !countField.IsValid() || countField.Kind() != reflect.Int {
		return false
	}
	count := int(countField.Int())

	seen := make(map[int]bool, field.Len())
	for i := 0; i < field.Len(); i++ {
		idxField := field.Index(i).FieldByName("Index")
		if !idxField.IsValid() || idxField.Kind() != reflect.Int {
			return false
		}
		idx := int(idxField.Int())
		if idx < 0 || idx >= count || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
