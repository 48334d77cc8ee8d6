package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// requestValidator wraps go-playground validation and reports fields by their
// JSON names.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: v}
}

// Struct validates s and flattens failures into one message.
func (v *requestValidator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + ": is required"
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s: must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s validation", fe.Field(), fe.Tag())
	}
}
