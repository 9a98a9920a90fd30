package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Email  string `json:"email" validate:"required,email"`
	Status string `json:"status" validate:"omitempty,oneof=online busy away offline"`
}

func TestValidateStructPasses(t *testing.T) {
	require.NoError(t, ValidateStruct(sample{Email: "user@example.com", Status: "busy"}))
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(sample{Email: "not-an-email"})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, failures, 1)
	require.Equal(t, "email", failures[0].Field)
	require.Equal(t, "email", failures[0].Tag)
}

func TestValidateStructOneOf(t *testing.T) {
	err := ValidateStruct(sample{Email: "user@example.com", Status: "sleeping"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "oneof")
}
