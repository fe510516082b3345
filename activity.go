package onboarding

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventTokenIssued          ActivityEventType = "onboarding.token.issued"
	ActivityEventVerificationSuccess  ActivityEventType = "onboarding.verification.success"
	ActivityEventVerificationFailure  ActivityEventType = "onboarding.verification.failure"
	ActivityEventInvitationCreated    ActivityEventType = "onboarding.invitation.created"
	ActivityEventStageChanged         ActivityEventType = "onboarding.invitation.stage_changed"
	ActivityEventInvitationCompleted  ActivityEventType = "onboarding.invitation.completed"
	ActivityEventRegistrationStaged   ActivityEventType = "onboarding.registration.staged"
	ActivityEventRegistrationPromoted ActivityEventType = "onboarding.registration.promoted"
	ActivityEventIdentitySyncFailure  ActivityEventType = "onboarding.identity.sync_failure"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	IdentityID string
	Email      string
	FromStage  OnboardingStage
	ToStage    OnboardingStage
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity never fails the caller, sink errors are logged.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink failed", "event", event.EventType, "error", err)
	}
}
