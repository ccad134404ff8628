package core

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"tenderwatch/internal/types"
)

type enqueueForm struct {
	TargetUserID string `validate:"required"`
	SubjectID    string `validate:"required"`
	Priority     int    `validate:"min=0,max=10"`
}

func newTestValidator() *Validator {
	return NewValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestValidateStruct_Valid(t *testing.T) {
	v := newTestValidator()

	err := v.ValidateStruct(enqueueForm{
		TargetUserID: "user_1",
		SubjectID:    "contract_1",
		Priority:     5,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStruct_MissingRequiredField(t *testing.T) {
	v := newTestValidator()

	err := v.ValidateStruct(enqueueForm{SubjectID: "contract_1"})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != types.ErrCodeValidationMissingField {
		t.Errorf("expected missing-field code, got %s", appErr.Code)
	}

	violations, ok := appErr.Details["validation_errors"].(map[string]any)
	if !ok {
		t.Fatalf("expected validation_errors detail, got %v", appErr.Details)
	}
	if violations["targetuserid"] != "required" {
		t.Errorf("expected required violation for target user, got %v", violations)
	}
}

func TestValidateStruct_OutOfRange(t *testing.T) {
	v := newTestValidator()

	err := v.ValidateStruct(enqueueForm{
		TargetUserID: "user_1",
		SubjectID:    "contract_1",
		Priority:     99,
	})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidValue {
		t.Errorf("expected invalid-value code, got %s", appErr.Code)
	}
}

func TestValidateStruct_NonStructInput(t *testing.T) {
	v := newTestValidator()

	err := v.ValidateStruct("not a struct")

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != types.ErrCodeInternalUnexpected {
		t.Errorf("expected internal code for non-struct input, got %s", appErr.Code)
	}
}
