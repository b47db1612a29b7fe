// Package validator adds the scheduling field formats to
// go-playground/validator and renders its errors for API clients.
package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/care-scheduling-api/internal/model"
)

// FieldError is one failed rule in a request body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var messages = map[string]string{
	"required": "is required",
	"hhmm":     "must be a time of day in HH:MM form",
	"date":     "must be a date in YYYY-MM-DD form",
	"oneof":    "must be one of: %s",
	"max":      "must be at most %s long",
	"min":      "must be at least %s",
}

// Register installs the hhmm and date tags on v and reports fields by their
// json names.
func Register(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	if err := v.RegisterValidation("hhmm", timeOfDay); err != nil {
		return fmt.Errorf("failed to register hhmm: %w", err)
	}
	if err := v.RegisterValidation("date", calendarDate); err != nil {
		return fmt.Errorf("failed to register date: %w", err)
	}
	return nil
}

func timeOfDay(fl validator.FieldLevel) bool {
	_, err := model.ParseTimeOfDay(fl.Field().String())
	return err == nil
}

func calendarDate(fl validator.FieldLevel) bool {
	_, err := model.ParseDate(fl.Field().String())
	return err == nil
}

// Describe converts validation errors into client-facing field messages.
func Describe(errs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		msg, ok := messages[e.Tag()]
		switch {
		case !ok:
			msg = "failed " + e.Tag() + " validation"
		case strings.Contains(msg, "%s"):
			msg = fmt.Sprintf(msg, e.Param())
		}
		out = append(out, FieldError{Field: e.Field(), Message: msg})
	}
	return out
}
