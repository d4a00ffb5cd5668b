// Package service holds the business rules of the API.  Every operation takes
// the caller's auth.Principal explicitly; nothing here reads request state.
package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/repository"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *apperr.Error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return apperr.Validation("validation failed").WithDetails(details)
	}
	return apperr.Wrap(apperr.CodeValidation, err, "validation failed")
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "ltefield":
		return fmt.Sprintf("must not exceed %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	}
	return "is invalid"
}

// fieldError builds a single-field validation error.
func fieldError(field, msg string) *apperr.Error {
	return apperr.Validation("validation failed").WithDetails(map[string]string{field: msg})
}

// storeErr maps repository sentinels onto API errors.  what names the
// resource for NOT_FOUND messages.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case apperr.As(err) != nil:
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(what + " not found")
	case errors.Is(err, repository.ErrForbidden):
		return apperr.Forbidden("access denied")
	case errors.Is(err, repository.ErrConflict):
		return apperr.New(apperr.CodeConflict, what+" is in a conflicting state")
	case errors.Is(err, repository.ErrEmailExists):
		return apperr.New(apperr.CodeConflict, "email already exists")
	case errors.Is(err, repository.ErrInsufficientCredits):
		return apperr.New(apperr.CodeInsufficientCredits, "insufficient credits")
	case errors.Is(err, repository.ErrInvariant):
		return fieldError("available", "must not exceed quantity")
	}
	return apperr.Wrap(apperr.CodeUpstream, err, "store failure")
}
