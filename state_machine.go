package onboarding

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const textCodeInvalidTransition = "INVALID_ONBOARDING_TRANSITION"

// ErrInvalidTransition is returned when a requested stage change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid onboarding stage transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor      ActorRef
	IdentityID string
	From       OnboardingStage
	To         OnboardingStage
	Meta       TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// StageMachine moves admin invitations between onboarding stages.
type StageMachine interface {
	// Transition reports whether the stored stage changed. A guarded
	// transition whose guard does not hold is a no-op, not an error.
	Transition(ctx context.Context, actor ActorRef, identityID string, target OnboardingStage, opts ...TransitionOption) (bool, error)
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*stageMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *stageMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish stage events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *stageMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *stageMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *stageMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithExpectedStage guards the update: the row only moves when it currently
// sits at stage.
func WithExpectedStage(stage OnboardingStage) TransitionOption {
	return func(opts *transitionOptions) {
		opts.expected = stage
	}
}

// WithForceTransition skips both the transition table and the stage guard.
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithStageFields sets extra columns in the same update as the stage.
func WithStageFields(fields map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(fields) == 0 {
			return
		}
		if opts.fields == nil {
			opts.fields = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			opts.fields[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the stage update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the stage update changed a row.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewStageMachine returns the default implementation backed by the lobby store.
func NewStageMachine(invitations Invitations, opts ...StateMachineOption) StageMachine {
	sm := &stageMachine{
		invitations: invitations,
		transitions: map[OnboardingStage]map[OnboardingStage]struct{}{
			StageAwaitingVerification: {
				StageAwaitingPasswordReset: {},
			},
			StageAwaitingPasswordReset: {
				StageAwaitingProfileCompletion: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type stageMachine struct {
	invitations      Invitations
	transitions      map[OnboardingStage]map[OnboardingStage]struct{}
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata    TransitionMetadata
	force       bool
	expected    OnboardingStage
	fields      map[string]any
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (sm *stageMachine) Transition(ctx context.Context, actor ActorRef, identityID string, target OnboardingStage, opts ...TransitionOption) (bool, error) {
	if !target.IsValid() {
		return false, ErrInvalidStage
	}

	options := sm.buildTransitionOptions(opts...)

	from := options.expected
	if options.force || from == "" {
		current, err := sm.invitations.GetByIdentityID(ctx, identityID)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return false, nil
			}
			return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load invitation")
		}
		from = current.CurrentStage
	}

	if !options.force && !sm.canTransition(from, target) {
		return false, ErrInvalidTransition
	}

	tc := TransitionContext{
		Actor:      actor,
		IdentityID: identityID,
		From:       from,
		To:         target,
		Meta:       options.metadata,
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return false, err
	}

	var (
		changed bool
		err     error
	)
	if options.force {
		changed, err = sm.invitations.SetStage(ctx, identityID, target, options.fields, sm.now())
	} else {
		changed, err = sm.invitations.AdvanceStage(ctx, identityID, from, target, options.fields, sm.now())
	}
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update onboarding stage")
	}

	if !changed {
		return false, nil
	}

	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		return true, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventStageChanged,
		Actor:      actor,
		IdentityID: identityID,
		FromStage:  from,
		ToStage:    target,
		Metadata:   sm.transitionMetadata(tc.Meta),
	})

	return true, nil
}

func (sm *stageMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return goerrors.Wrap(err, goerrors.CategoryOperation, string(phase)+" hook failed")
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *stageMachine) canTransition(from, to OnboardingStage) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *stageMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *stageMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	recordActivity(ctx, normalizeActivitySink(sm.activitySink), sm.logger, event)
}

func (sm *stageMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
