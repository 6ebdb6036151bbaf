package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	apperrors "github.com/charlesng35/dentaldesk/pkg/errors"
)

type testPayload struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Age      int    `json:"age" validate:"gte=18"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := testPayload{
		Username: "alice",
		Email:    "alice@example.com",
		Age:      20,
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := testPayload{
		Username: "",
		Email:    "invalid",
		Age:      10,
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("tooth_code", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) == 2
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"tooth_code"`
	}

	if err := ValidateStruct(custom{Value: "11"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "111"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}

func patientRules() Rules {
	return Rules{
		"name":  "required,min=2",
		"email": "omitempty,email",
		"age":   "omitempty,gte=0,lte=130",
		"address": Rules{
			"city": "required",
		},
	}
}

func TestSchemaValidateReportsEveryField(t *testing.T) {
	schema := NewSchema(patientRules())

	result := schema.Validate(map[string]any{
		"email": "not-an-email",
		"age":   200,
	})

	require.False(t, result.Valid)
	fields := make([]string, 0, len(result.Errors))
	for _, fe := range result.Errors {
		fields = append(fields, fe.Field)
	}
	require.Equal(t, []string{"address", "age", "email", "name"}, fields)

	err := result.Err()
	require.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestSchemaValidateAcceptsCompleteDocument(t *testing.T) {
	schema := NewSchema(patientRules())

	result := schema.Validate(map[string]any{
		"name":    "Ana",
		"address": map[string]any{"city": "Lisbon"},
	})

	require.True(t, result.Valid)
	require.NoError(t, result.Err())
}

func TestSchemaValidatePartialSkipsRequired(t *testing.T) {
	schema := NewSchema(patientRules())

	require.True(t, schema.ValidatePartial(map[string]any{"age": 40}).Valid)

	result := schema.ValidatePartial(map[string]any{"name": "A", "email": "bad"})
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 2)
	require.Equal(t, "email", result.Errors[0].Field)
	require.Equal(t, "name", result.Errors[1].Field)
	require.Equal(t, "min", result.Errors[1].Rule)
}

func TestNilSchemaAlwaysValid(t *testing.T) {
	var schema *Schema
	require.True(t, schema.Validate(nil).Valid)
	require.True(t, schema.ValidatePartial(nil).Valid)
}
