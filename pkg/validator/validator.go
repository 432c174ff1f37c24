package validator

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	playground "github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/mailing-scheduler/pkg/errors"
)

var (
	once     sync.Once
	instance *playground.Validate
)

func get() *playground.Validate {
	once.Do(func() {
		instance = playground.New(playground.WithRequiredStructEnabled())
	})
	return instance
}

// Validate checks the `validate` tags on obj and returns a BadRequest AppError
// listing every failing field.
func Validate(obj interface{}) error {
	err := get().Struct(obj)
	if err == nil {
		return nil
	}

	var verrs playground.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.BadRequest("invalid input", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return apperrors.BadRequest(strings.Join(msgs, "; "), err)
}

// Var validates a single value against a tag expression.
func Var(field string, value interface{}, tag string) error {
	if err := get().Var(value, tag); err != nil {
		return apperrors.BadRequest(fmt.Sprintf("%s is invalid", field), err)
	}
	return nil
}

func describe(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
