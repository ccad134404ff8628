package core

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"tenderwatch/internal/types"
)

// Validator wraps go-playground/validator and translates its failures into
// structured AppErrors suitable for API responses.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates a request struct against its `validate` tags.
// On failure it returns a *types.AppError with the code of the first failed
// rule and a details map listing every violated field as
// details["validation_errors"] = {field: rule}.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Non-struct input is a programming error, not a client error.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "invalid validation target", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return types.NewAppError(types.ErrCodeValidationInvalidValue, "request validation failed", err)
	}

	violations := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations[fieldName(fe)] = fe.Tag()
	}

	first := fieldErrs[0]
	code := types.ErrCodeValidationInvalidValue
	message := "invalid value for field " + fieldName(first)
	if first.Tag() == "required" {
		code = types.ErrCodeValidationMissingField
		message = "missing required field " + fieldName(first)
	}

	return types.NewAppErrorWithDetails(code, message, err, map[string]any{
		"validation_errors": violations,
	})
}

// fieldName returns the struct field path in snake_case-ish form by
// lowercasing the leading struct name segment off the namespace.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.IndexByte(ns, '.'); idx >= 0 {
		ns = ns[idx+1:]
	}
	return strings.ToLower(ns)
}
