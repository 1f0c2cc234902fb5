package domain

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/yurykabanov/pgbackuper/pkg/schedule"
)

var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		return schedule.Valid(fl.Field().String())
	})

	_ = validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})

	_ = validate.RegisterValidation("destination", func(fl validator.FieldLevel) bool {
		return DestinationType(fl.Field().String()).Valid()
	})
}

// validateStruct turns the first validator failure into a ValidationError.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return &ValidationError{Reason: err.Error()}
	}

	fe := fieldErrors[0]

	return &ValidationError{
		Field:  fieldPath(fe.Namespace()),
		Reason: reason(fe),
	}
}

// fieldPath drops the root struct name: "Settings.local.backupPath" -> "local.backupPath".
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "required_with":
		return "is required together with " + fe.Param()
	case "cron":
		return "is not a valid 5-field cron expression"
	case "destination":
		return "must be one of: local, objectStore"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed on " + fe.Tag()
}
