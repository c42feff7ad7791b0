package runtime

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"ghost-chat/errors"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// NewValidator reports fields under their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate turns a validator failure into an ErrValidation naming the faulty fields.
func Validate(v *validator.Validate, payload any) error {
	err := v.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %v", errors.ErrValidation, err)
	}
	messages := lo.Map(fieldErrors, func(fe validator.FieldError, _ int) string { return describe(fe) })
	return fmt.Errorf("%w: %s", errors.ErrValidation, strings.Join(messages, ", "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fe.Field() + " is invalid"
	}
}

// decode reads and validates an inbound payload.
func decode[T any](v *validator.Validate, raw json.RawMessage) (T, error) {
	var payload T
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return payload, fmt.Errorf("%w: malformed payload", errors.ErrValidation)
		}
	}
	return payload, Validate(v, payload)
}
