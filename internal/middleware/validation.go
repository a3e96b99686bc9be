package middleware

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
)

const maxSessionIDLength = 128

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	return v
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// ValidateStruct checks req against its validate tags and every string
// field for UTF-8. Failures are ValidationErrors naming the JSON field.
func ValidateStruct(req any) error {
	if err := validateUTF8(req); err != nil {
		return err
	}

	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation("%v", err)
	}

	t := reflect.TypeOf(req)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(t, fe))
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}

func describe(t reflect.Type, fe validator.FieldError) string {
	other := fe.Param()
	if f, ok := t.FieldByName(other); ok {
		other = jsonName(f)
	}

	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_without":
		return fmt.Sprintf("%s or %s is required", fe.Field(), other)
	case "excluded_with":
		return fmt.Sprintf("provide either %s or %s, not both", other, fe.Field())
	case "max":
		return fmt.Sprintf("%s exceeds maximum length of %s", fe.Field(), fe.Param())
	case "url":
		return fe.Field() + " must be a valid URL"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

func validateUTF8(req any) error {
	v := reflect.Indirect(reflect.ValueOf(req))
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() == reflect.String && !utf8.ValidString(f.String()) {
			return apperr.Validation("%s must be valid UTF-8", jsonName(t.Field(i)))
		}
	}
	return nil
}

// ValidateSessionID validates a caller supplied session key.
func ValidateSessionID(id string) error {
	if len(id) == 0 {
		return apperr.Validation("session ID cannot be empty")
	}
	if len(id) > maxSessionIDLength {
		return apperr.Validation("session ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return apperr.Validation("session ID must be valid UTF-8")
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return apperr.Validation("session ID must not contain whitespace or control characters")
		}
	}
	return nil
}
