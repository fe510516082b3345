package onboarding

import (
	"context"
	"fmt"
	"time"
)

// Logger is the structured logger used across the package. Arguments
// after the message are key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds onboarding options
type Config interface {
	GetFrontendURL() string
	GetVerificationPath() string
	GetSelfRegTokenTTL() time.Duration
	GetInvitedTokenTTL() time.Duration
	GetAppUserTokenTTL() time.Duration
	GetOtpTTL() time.Duration
	GetOtpCooldown() time.Duration
	GetRateLimitCooldown() time.Duration
	GetDefaultGroupPath() string
	GetDirectoryTimeout() time.Duration
	GetPasswordSecret() string
}

// IdentityDirectory is the external system of record for identities
// (Keycloak, Auth0, ...). Implementations report failures with
// NewDirectoryError so the orchestrator can tell retryable failures apart.
type IdentityDirectory interface {
	CreateIdentity(ctx context.Context, profile IdentityProfile, groupPath string) (string, error)
	VerifyEmail(ctx context.Context, email string) error
	UpdateIdentity(ctx context.Context, id string, update IdentityUpdate) error
	FindByEmail(ctx context.Context, email string) (*DirectoryIdentity, error)
	FindByID(ctx context.Context, id string) (*DirectoryIdentity, error)
	AssignToGroup(ctx context.Context, id, groupPath string) error
	GetGroupsOf(ctx context.Context, id string) ([]string, error)
}

// IdentityProfile is the payload used to create a directory identity.
type IdentityProfile struct {
	Username      string
	Email         string
	FirstName     string
	LastName      string
	Password      string
	EmailVerified bool
	Enabled       bool
	// TemporaryPassword forces a reset on first login (admin invitations).
	TemporaryPassword bool
}

// IdentityUpdate carries the fields to change on a directory identity.
// Nil fields are left untouched.
type IdentityUpdate struct {
	Email         *string
	Username      *string
	FirstName     *string
	LastName      *string
	EmailVerified *bool
	Enabled       *bool
}

// DirectoryIdentity is the directory view of a user.
type DirectoryIdentity struct {
	ID            string
	Username      string
	Email         string
	FirstName     string
	LastName      string
	EmailVerified bool
	Enabled       bool
	Groups        []string
}

// NotificationDispatcher delivers out of band messages. Trigger is fire
// and forget: it reports whether the message was accepted and never
// returns an error to the caller.
type NotificationDispatcher interface {
	Trigger(ctx context.Context, workflow, recipientID, recipientEmail string, payload map[string]any) bool
}

// NotificationDispatcherFunc adapts a function to NotificationDispatcher.
type NotificationDispatcherFunc func(ctx context.Context, workflow, recipientID, recipientEmail string, payload map[string]any) bool

// Trigger implements NotificationDispatcher.
func (f NotificationDispatcherFunc) Trigger(ctx context.Context, workflow, recipientID, recipientEmail string, payload map[string]any) bool {
	if f == nil {
		return false
	}
	return f(ctx, workflow, recipientID, recipientEmail, payload)
}

// Notification workflows triggered by the orchestrator.
const (
	WorkflowVerifySelfRegistration = "verify-self-registration"
	WorkflowVerifyInvitation       = "verify-invitation"
	WorkflowVerifyEmail            = "verify-email"
	WorkflowVerifyEmailChange      = "verify-email-change"
	WorkflowOtpCode                = "otp-code"
)

// LogDispatcher is a NotificationDispatcher that only logs. Useful in
// development and as the default when no dispatcher is configured.
type LogDispatcher struct {
	Logger Logger
}

// Trigger implements NotificationDispatcher.
func (d LogDispatcher) Trigger(_ context.Context, workflow, recipientID, recipientEmail string, payload map[string]any) bool {
	logger := d.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("notification triggered",
		"workflow", workflow,
		"recipient_id", recipientID,
		"recipient_email", recipientEmail,
		"payload", payload,
	)
	return true
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Printf("[ERR] ONBOARDING %s%s\n", msg, formatArgs(args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Printf("[WRN] ONBOARDING %s%s\n", msg, formatArgs(args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Printf("[INF] ONBOARDING %s%s\n", msg, formatArgs(args))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Printf("[DBG] ONBOARDING %s%s\n", msg, formatArgs(args))
}

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	out := ""
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			out += fmt.Sprintf(" %v=%v", args[i], args[i+1])
			continue
		}
		out += fmt.Sprintf(" %v", args[i])
	}
	return out
}

// Clock returns the current time. Services accept one through WithClock so
// tests can control expiry.
type Clock func() time.Time

func normalizeClock(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}
