package middleware

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apperrors "ccsml/internal/errors"
)

// RequestValidator decodes JSON request bodies and validates them with
// struct tags.
type RequestValidator struct {
	validator   *validator.Validate
	maxBodySize int64
}

// NewRequestValidator creates a validator that reads at most maxBodySize bytes.
func NewRequestValidator(maxBodySize int64) *RequestValidator {
	v := validator.New()
	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validator: v, maxBodySize: maxBodySize}
}

// Decode reads the JSON body into dst and validates it. An empty body leaves
// dst at its zero value, which is then validated as is.
func (m *RequestValidator) Decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body != nil && r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, m.maxBodySize)
		if err := render.DecodeJSON(r.Body, dst); err != nil {
			return apperrors.InvalidRequestWithError(err)
		}
	}
	return m.Validate(dst)
}

// Validate checks struct tags and returns a VALIDATION_FAILED error listing
// every rejected field.
func (m *RequestValidator) Validate(v interface{}) error {
	err := m.validator.Struct(v)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.InvalidRequestWithError(err)
	}
	fields := make([]apperrors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperrors.FieldError{Field: fe.Field(), Message: formatValidationError(fe)})
	}
	return apperrors.NewFieldErrors(fields)
}

// formatValidationError formats validation error messages
func formatValidationError(err validator.FieldError) string {
	field, param := err.Field(), err.Param()
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "dive":
		return fmt.Sprintf("%s has an invalid element", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}
