package onboarding

import (
	"context"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidToken                = "INVALID_TOKEN"
	TextCodeTokenExpired                = "TOKEN_EXPIRED"
	TextCodeInvalidOtp                  = "INVALID_OTP"
	TextCodeOtpExpired                  = "OTP_EXPIRED"
	TextCodeTooManyRequests             = "TOO_MANY_REQUESTS"
	TextCodePendingRegistrationNotFound = "PENDING_REGISTRATION_NOT_FOUND"
	TextCodeDirectoryUnavailable        = "IDENTITY_DIRECTORY_UNAVAILABLE"
	TextCodeIdentityConflict            = "IDENTITY_CONFLICT"
	TextCodeIdentitySyncFailure         = "IDENTITY_SYNC_FAILURE"
	TextCodeInvalidStage                = "INVALID_ONBOARDING_STAGE"
	TextCodeIdentityNotFound            = "IDENTITY_NOT_FOUND"
	TextCodeIdentityPolicyViolation     = "IDENTITY_POLICY_VIOLATION"
)

const (
	codeTooManyRequests    = 429
	codeServiceUnavailable = 503
)

// ErrInvalidToken is returned when no token matches the (token, email) pair.
var ErrInvalidToken = goerrors.New("invalid verification token", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpired is returned when the token exists but is past its expiry.
var ErrTokenExpired = goerrors.New("verification token has expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidOtp is returned when no live code exists or the code does not match.
var ErrInvalidOtp = goerrors.New("invalid one-time code", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidOtp).
	WithCode(goerrors.CodeBadRequest)

// ErrOtpExpired is returned when the stored code is past its expiry.
var ErrOtpExpired = goerrors.New("one-time code has expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeOtpExpired).
	WithCode(goerrors.CodeBadRequest)

// ErrTooManyRequests is returned inside the issuance cooldown window.
var ErrTooManyRequests = goerrors.New("too many requests, try again later", goerrors.CategoryOperation).
	WithTextCode(TextCodeTooManyRequests).
	WithCode(codeTooManyRequests)

// ErrPendingRegistrationNotFound is returned when a SELF_REG token has no
// staged registration behind it.
var ErrPendingRegistrationNotFound = goerrors.New("pending registration not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodePendingRegistrationNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrDirectoryUnavailable is returned when the identity directory cannot be
// reached. It is the only retryable error.
var ErrDirectoryUnavailable = goerrors.New("identity directory unavailable", goerrors.CategoryOperation).
	WithTextCode(TextCodeDirectoryUnavailable).
	WithCode(codeServiceUnavailable)

// ErrIdentityConflict is returned when the directory already holds the
// username or email.
var ErrIdentityConflict = goerrors.New("identity already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeIdentityConflict).
	WithCode(goerrors.CodeConflict)

// ErrIdentitySyncFailure is returned when the directory accepted a change
// but local state could not follow.
var ErrIdentitySyncFailure = goerrors.New("identity directory and local state out of sync", goerrors.CategoryInternal).
	WithTextCode(TextCodeIdentitySyncFailure).
	WithCode(goerrors.CodeInternal)

// ErrInvalidStage is returned for unknown onboarding stages.
var ErrInvalidStage = goerrors.New("invalid onboarding stage", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidStage).
	WithCode(goerrors.CodeBadRequest)

// ErrIdentityNotFound is returned by directories when the identity is unknown.
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrIdentityPolicyViolation is returned when the directory rejects a value
// (password policy, malformed email, ...).
var ErrIdentityPolicyViolation = goerrors.New("identity rejected by directory policy", goerrors.CategoryValidation).
	WithTextCode(TextCodeIdentityPolicyViolation).
	WithCode(goerrors.CodeBadRequest)

// DirectoryErrorKind classifies identity directory failures.
type DirectoryErrorKind string

const (
	DirectoryNotFound        DirectoryErrorKind = "not_found"
	DirectoryConflict        DirectoryErrorKind = "conflict"
	DirectoryPolicyViolation DirectoryErrorKind = "policy_violation"
	DirectoryUnavailable     DirectoryErrorKind = "unavailable"
)

// DirectoryError is the normalized error returned by IdentityDirectory
// implementations.
type DirectoryError struct {
	Kind  DirectoryErrorKind
	Cause error
}

// NewDirectoryError wraps cause with a kind.
func NewDirectoryError(kind DirectoryErrorKind, cause error) *DirectoryError {
	return &DirectoryError{Kind: kind, Cause: cause}
}

func (e *DirectoryError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("identity directory: %s", e.Kind)
	}
	return fmt.Sprintf("identity directory: %s: %v", e.Kind, e.Cause)
}

func (e *DirectoryError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel that corresponds to the error kind.
func (e *DirectoryError) Is(target error) bool {
	switch target {
	case ErrIdentityNotFound:
		return e.Kind == DirectoryNotFound
	case ErrIdentityConflict:
		return e.Kind == DirectoryConflict
	case ErrIdentityPolicyViolation:
		return e.Kind == DirectoryPolicyViolation
	case ErrDirectoryUnavailable:
		return e.Kind == DirectoryUnavailable
	}
	return false
}

// translateDirectoryError maps a directory failure into the service error
// taxonomy. Context deadlines and cancellation count as unavailability.
func translateDirectoryError(err error, op string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrDirectoryUnavailable
	}

	var dirErr *DirectoryError
	if errors.As(err, &dirErr) {
		switch dirErr.Kind {
		case DirectoryUnavailable:
			return ErrDirectoryUnavailable
		case DirectoryConflict:
			return ErrIdentityConflict
		case DirectoryNotFound:
			return ErrIdentityNotFound
		case DirectoryPolicyViolation:
			return goerrors.Wrap(err, goerrors.CategoryValidation, op+": rejected by identity directory").
				WithTextCode(TextCodeIdentityPolicyViolation).
				WithCode(goerrors.CodeBadRequest)
		}
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, op+": identity directory call failed")
}

// IsRetryable reports whether err signals a transient directory failure.
func IsRetryable(err error) bool {
	return hasTextCode(err, ErrDirectoryUnavailable, TextCodeDirectoryUnavailable)
}

// IsInvalidToken reports whether err is ErrInvalidToken.
func IsInvalidToken(err error) bool {
	return hasTextCode(err, ErrInvalidToken, TextCodeInvalidToken)
}

// IsTokenExpired reports whether err is ErrTokenExpired.
func IsTokenExpired(err error) bool {
	return hasTextCode(err, ErrTokenExpired, TextCodeTokenExpired)
}

// IsTooManyRequests reports whether err is ErrTooManyRequests.
func IsTooManyRequests(err error) bool {
	return hasTextCode(err, ErrTooManyRequests, TextCodeTooManyRequests)
}

// IsIdentityConflict reports whether err is ErrIdentityConflict.
func IsIdentityConflict(err error) bool {
	return hasTextCode(err, ErrIdentityConflict, TextCodeIdentityConflict)
}

func hasTextCode(err error, sentinel error, code string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sentinel) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// syncFailure wraps cause in ErrIdentitySyncFailure carrying the identity and
// the failed operation as metadata.
func syncFailure(cause error, identityID, op string) error {
	return goerrors.Wrap(cause, goerrors.CategoryInternal, "identity sync failure: "+op).
		WithTextCode(TextCodeIdentitySyncFailure).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{
			"identity_id": identityID,
			"operation":   op,
		})
}
