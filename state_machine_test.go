package onboarding_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-repository-bun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var smNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func smClock() time.Time { return smNow }

func TestStageMachineGuardedTransitionPublishesActivity(t *testing.T) {
	repo := &MockInvitations{}
	sink := &recordingSink{}

	repo.On("AdvanceStage", mock.Anything, "kc-1",
		onboarding.StageAwaitingVerification, onboarding.StageAwaitingPasswordReset,
		map[string]any{"is_email_verified": true}, smNow).
		Return(true, nil).Once()

	sm := onboarding.NewStageMachine(repo,
		onboarding.WithStateMachineClock(smClock),
		onboarding.WithStateMachineActivitySink(sink),
	)

	changed, err := sm.Transition(context.Background(), onboarding.ActorRef{ID: "admin"}, "kc-1",
		onboarding.StageAwaitingPasswordReset,
		onboarding.WithExpectedStage(onboarding.StageAwaitingVerification),
		onboarding.WithStageFields(map[string]any{"is_email_verified": true}),
		onboarding.WithTransitionReason("email verified"),
	)
	require.NoError(t, err)
	assert.True(t, changed)
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "GetByIdentityID", mock.Anything, mock.Anything)

	event, ok := sink.Find(onboarding.ActivityEventStageChanged)
	require.True(t, ok)
	assert.Equal(t, onboarding.StageAwaitingVerification, event.FromStage)
	assert.Equal(t, onboarding.StageAwaitingPasswordReset, event.ToStage)
	assert.Equal(t, "email verified", event.Metadata["reason"])
	assert.Equal(t, smNow, event.OccurredAt)
}

func TestStageMachineGuardMissIsNoop(t *testing.T) {
	repo := &MockInvitations{}
	sink := &recordingSink{}

	repo.On("AdvanceStage", mock.Anything, "kc-1",
		onboarding.StageAwaitingVerification, onboarding.StageAwaitingPasswordReset,
		mock.Anything, mock.Anything).
		Return(false, nil).Once()

	var afterCalled bool
	sm := onboarding.NewStageMachine(repo, onboarding.WithStateMachineActivitySink(sink))

	changed, err := sm.Transition(context.Background(), onboarding.ActorRef{}, "kc-1",
		onboarding.StageAwaitingPasswordReset,
		onboarding.WithExpectedStage(onboarding.StageAwaitingVerification),
		onboarding.WithAfterTransitionHook(func(context.Context, onboarding.TransitionContext) error {
			afterCalled = true
			return nil
		}),
	)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, afterCalled)
	assert.Empty(t, sink.Types())
}

func TestStageMachineLoadsCurrentStage(t *testing.T) {
	repo := &MockInvitations{}

	repo.On("GetByIdentityID", mock.Anything, "kc-1").
		Return(&onboarding.AdminInvitation{IdentityID: "kc-1", CurrentStage: onboarding.StageAwaitingPasswordReset}, nil).Once()
	repo.On("AdvanceStage", mock.Anything, "kc-1",
		onboarding.StageAwaitingPasswordReset, onboarding.StageAwaitingProfileCompletion,
		mock.Anything, mock.Anything).
		Return(true, nil).Once()

	sm := onboarding.NewStageMachine(repo)

	changed, err := sm.Transition(context.Background(), onboarding.ActorRef{}, "kc-1", onboarding.StageAwaitingProfileCompletion)
	require.NoError(t, err)
	assert.True(t, changed)
	repo.AssertExpectations(t)
}

func TestStageMachineMissingInvitationIsNoop(t *testing.T) {
	repo := &MockInvitations{}
	repo.On("GetByIdentityID", mock.Anything, "kc-404").
		Return(nil, repository.NewRecordNotFound()).Once()

	sm := onboarding.NewStageMachine(repo)

	changed, err := sm.Transition(context.Background(), onboarding.ActorRef{}, "kc-404", onboarding.StageAwaitingPasswordReset)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestStageMachineRejectsInvalidTransition(t *testing.T) {
	repo := &MockInvitations{}
	sm := onboarding.NewStageMachine(repo)

	_, err := sm.Transition(context.Background(), onboarding.ActorRef{}, "kc-1",
		onboarding.StageAwaitingVerification,
		onboarding.WithExpectedStage(onboarding.StageAwaitingProfileCompletion),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, onboarding.ErrInvalidTransition)

	_, err = sm.Transition(context.Background(), onboarding.ActorRef{}, "kc-1", onboarding.OnboardingStage("DONE"))
	assert.ErrorIs(t, err, onboarding.ErrInvalidStage)

	repo.AssertNotCalled(t, "AdvanceStage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStageMachineForceTransitionBypassesValidation(t *testing.T) {
	repo := &MockInvitations{}

	repo.On("GetByIdentityID", mock.Anything, "kc-1").
		Return(&onboarding.AdminInvitation{IdentityID: "kc-1", CurrentStage: onboarding.StageAwaitingProfileCompletion}, nil).Once()
	repo.On("SetStage", mock.Anything, "kc-1", onboarding.StageAwaitingVerification, mock.Anything, smNow).
		Return(true, nil).Once()

	sm := onboarding.NewStageMachine(repo, onboarding.WithStateMachineClock(smClock))

	changed, err := sm.Transition(context.Background(), onboarding.ActorRef{ID: "admin"}, "kc-1",
		onboarding.StageAwaitingVerification,
		onboarding.WithForceTransition(),
	)
	require.NoError(t, err)
	assert.True(t, changed)
	repo.AssertExpectations(t)
}

func TestStageMachineBeforeHookAbortsUpdate(t *testing.T) {
	repo := &MockInvitations{}
	sm := onboarding.NewStageMachine(repo)

	boom := errors.New("boom")
	_, err := sm.Transition(context.Background(), onboarding.ActorRef{}, "kc-1",
		onboarding.StageAwaitingPasswordReset,
		onboarding.WithExpectedStage(onboarding.StageAwaitingVerification),
		onboarding.WithBeforeTransitionHook(func(context.Context, onboarding.TransitionContext) error {
			return boom
		}),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	repo.AssertNotCalled(t, "AdvanceStage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStageMachineHookErrorHandler(t *testing.T) {
	repo := &MockInvitations{}
	repo.On("AdvanceStage", mock.Anything, "kc-1", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(true, nil).Once()

	var phases []onboarding.TransitionHookPhase
	sm := onboarding.NewStageMachine(repo,
		onboarding.WithStateMachineHookErrorHandler(func(_ context.Context, phase onboarding.TransitionHookPhase, _ error, tc onboarding.TransitionContext) error {
			phases = append(phases, phase)
			assert.Equal(t, "kc-1", tc.IdentityID)
			return nil
		}),
	)

	changed, err := sm.Transition(context.Background(), onboarding.ActorRef{}, "kc-1",
		onboarding.StageAwaitingPasswordReset,
		onboarding.WithExpectedStage(onboarding.StageAwaitingVerification),
		onboarding.WithAfterTransitionHook(func(context.Context, onboarding.TransitionContext) error {
			return errors.New("notify failed")
		}),
	)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []onboarding.TransitionHookPhase{onboarding.HookPhaseAfter}, phases)
}
