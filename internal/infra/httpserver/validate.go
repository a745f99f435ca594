package httpserver

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bryanwahyu/automaton-pipeline/internal/middleware"
)

// requestValidate checks request bodies by struct tag.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())

	// report JSON field names in errors
	requestValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = requestValidate.RegisterValidation("buildfile", func(fl validator.FieldLevel) bool {
		return middleware.ValidateBuildFile(fl.FieldName(), fl.Field().String()) == nil
	})
	_ = requestValidate.RegisterValidation("branch", func(fl validator.FieldLevel) bool {
		return middleware.ValidateBranch(fl.Field().String()) == nil
	})
}

// validateRequest returns a 400 naming the first failing field.
func validateRequest(v any) error {
	err := requestValidate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		if fe.Param() != "" {
			return badRequest(fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
		return badRequest(fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return badRequest(err.Error())
}
