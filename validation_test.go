package onboarding_test

import (
	"strings"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-onboarding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistrationInputValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*onboarding.RegistrationInput)
		field  string
	}{
		{"valid", func(*onboarding.RegistrationInput) {}, ""},
		{"username too short", func(in *onboarding.RegistrationInput) { in.Username = "ab" }, "username"},
		{"username with spaces", func(in *onboarding.RegistrationInput) { in.Username = "ada lovelace" }, "username"},
		{"bad email", func(in *onboarding.RegistrationInput) { in.Email = "ada-at-example.com" }, "email"},
		{"short password", func(in *onboarding.RegistrationInput) {
			in.Password = "short"
			in.ConfirmPassword = "short"
		}, "password"},
		{"mismatched confirmation", func(in *onboarding.RegistrationInput) { in.ConfirmPassword = "something-else" }, "confirm_password"},
		{"long first name", func(in *onboarding.RegistrationInput) { in.FirstName = strings.Repeat("a", 201) }, "first_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validRegistration()
			tt.mutate(&in)

			err := in.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			fields, ok := err.(validation.Errors)
			require.True(t, ok, "expected field errors, got %T", err)
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestInviteInputValidate(t *testing.T) {
	assert.NoError(t, validInvite().Validate())

	in := validInvite()
	in.InvitedBy = ""
	in.TemporaryPassword = "short"

	err := in.Validate()
	require.Error(t, err)
	fields, ok := err.(validation.Errors)
	require.True(t, ok)
	assert.Contains(t, fields, "invited_by")
	assert.Contains(t, fields, "temporary_password")
}

func TestValidateStringEquals(t *testing.T) {
	rule := onboarding.ValidateStringEquals("secret")

	assert.NoError(t, rule("secret"))
	assert.Error(t, rule("Secret"))
	assert.Error(t, rule(42))
}
