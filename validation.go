package onboarding

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// RegistrationInput is a self-registration submission.
type RegistrationInput struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	// GroupPath overrides the default group the identity joins on promotion.
	GroupPath string `json:"group_path,omitempty"`
}

// Validate will validate the payload
func (r RegistrationInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 64), validation.Match(usernamePattern)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 254), is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
	)
}

// InviteInput is an admin request to onboard a new identity.
type InviteInput struct {
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Groups    []string `json:"groups"`
	InvitedBy string   `json:"invited_by"`
	// TemporaryPassword is set on the directory identity and must be reset
	// on first login.
	TemporaryPassword string `json:"temporary_password"`
}

// Validate will validate the payload
func (r InviteInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(3, 64), validation.Match(usernamePattern)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 254), is.Email),
		validation.Field(&r.InvitedBy, validation.Required),
		validation.Field(&r.TemporaryPassword, validation.Required, validation.Length(8, 128)),
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
	)
}

// CreateInvitationInput describes a lobby row for an identity that already
// exists in the directory.
type CreateInvitationInput struct {
	IdentityID string
	Email      string
	Username   string
	FirstName  string
	LastName   string
	Groups     []string
	InvitedBy  string
	IsEnabled  bool
}

// Validate will validate the payload
func (r CreateInvitationInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.IdentityID, validation.Required),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Username, validation.Required),
	)
}

// Validate will validate the query
func (q InviteQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Page, validation.Min(0)),
		validation.Field(&q.Size, validation.Min(0)),
		validation.Field(&q.Stage, validation.In(
			StageAwaitingVerification,
			StageAwaitingPasswordReset,
			StageAwaitingProfileCompletion,
		)),
	)
}

// ValidateStringEquals returns a rule that matches str exactly.
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// validationError wraps an ozzo validation error as a bad input error
// carrying the per field messages.
func validationError(err error, msg string) error {
	if err == nil {
		return nil
	}

	richErr := goerrors.Wrap(err, goerrors.CategoryValidation, msg).
		WithCode(goerrors.CodeBadRequest)

	var fields validation.Errors
	if errors.As(err, &fields) {
		meta := make(map[string]any, len(fields))
		for field, ferr := range fields {
			meta[field] = ferr.Error()
		}
		richErr = richErr.WithMetadata(meta)
	}

	return richErr
}
