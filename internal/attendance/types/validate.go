// Package types holds the JSON request and response bodies of the HTTP and
// gRPC APIs and their conversion to engine inputs and outputs.
package types

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/attendly/server/internal/attendance/zone"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("timestamp", func(fl validator.FieldLevel) bool {
		_, err := ParseTimestamp(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("zonekind", func(fl validator.FieldLevel) bool {
		_, err := zone.ParseKind(fl.Field().String())
		return err == nil
	})
	return v
}

// ValidationError lists every field that failed its constraints.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string { return strings.Join(e.Problems, "; ") }

// Validate checks v against its validate tags.
func Validate(v any) error {
	err := validate.Struct(v)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &ValidationError{Problems: make([]string, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		out.Problems = append(out.Problems, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return out
}
