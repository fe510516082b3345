package onboarding

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrInvitationNotFound is returned by admin operations on identities that
// are not in the lobby.
var ErrInvitationNotFound = goerrors.New("invitation not found", goerrors.CategoryNotFound).
	WithTextCode("INVITATION_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// InvitationSync carries the authoritative directory view of an invited
// identity. Nil Groups leaves the cached groups untouched.
type InvitationSync struct {
	IdentityID      string
	Email           string
	Username        string
	FirstName       string
	LastName        string
	IsEnabled       bool
	IsEmailVerified bool
	Groups          []string
}

// InvitationService manages the admin invitation lobby.
type InvitationService struct {
	repo     RepositoryManager
	machine  StageMachine
	now      Clock
	logger   Logger
	activity ActivitySink
}

// InvitationServiceOption customizes an InvitationService.
type InvitationServiceOption func(*InvitationService)

// WithInvitationClock injects a custom clock (useful for tests).
func WithInvitationClock(now Clock) InvitationServiceOption {
	return func(s *InvitationService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithInvitationLogger sets the logger.
func WithInvitationLogger(logger Logger) InvitationServiceOption {
	return func(s *InvitationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithInvitationActivitySink sets the activity sink.
func WithInvitationActivitySink(sink ActivitySink) InvitationServiceOption {
	return func(s *InvitationService) {
		s.activity = normalizeActivitySink(sink)
	}
}

// WithStageMachine replaces the default stage machine.
func WithStageMachine(machine StageMachine) InvitationServiceOption {
	return func(s *InvitationService) {
		if machine != nil {
			s.machine = machine
		}
	}
}

// NewInvitationService returns a lobby service over repo.
func NewInvitationService(repo RepositoryManager, opts ...InvitationServiceOption) *InvitationService {
	s := &InvitationService{
		repo:     repo,
		now:      time.Now,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.machine == nil {
		s.machine = NewStageMachine(repo.Invitations(),
			WithStateMachineClock(s.now),
			WithStateMachineLogger(s.logger),
			WithStateMachineActivitySink(s.activity),
		)
	}

	return s
}

// CreateInvitation adds a lobby row at AWAITING_VERIFICATION.
func (s *InvitationService) CreateInvitation(ctx context.Context, in CreateInvitationInput) (*AdminInvitation, error) {
	if err := in.Validate(); err != nil {
		return nil, validationError(err, "invalid invitation")
	}

	_, err := s.repo.Invitations().GetByIdentityID(ctx, in.IdentityID)
	if err == nil {
		return nil, ErrIdentityConflict
	}

	if !repository.IsRecordNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up invitation")
	}

	now := s.now().UTC()
	record := &AdminInvitation{
		ID:              uuid.New(),
		IdentityID:      in.IdentityID,
		Email:           normalizeEmail(in.Email),
		Username:        strings.TrimSpace(in.Username),
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		Groups:          in.Groups,
		IsEnabled:       in.IsEnabled,
		IsEmailVerified: false,
		IsInitialLogin:  true,
		InvitedBy:       in.InvitedBy,
		DateCreated:     now,
		UpdatedAt:       now,
		CurrentStage:    StageAwaitingVerification,
	}

	record, err = s.repo.Invitations().Insert(ctx, record)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create invitation")
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:  ActivityEventInvitationCreated,
		Actor:      ActorRef{ID: in.InvitedBy, Type: "admin"},
		IdentityID: record.IdentityID,
		Email:      record.Email,
		ToStage:    StageAwaitingVerification,
		OccurredAt: now,
	})

	return record, nil
}

// ProcessVerificationSuccess moves AWAITING_VERIFICATION to
// AWAITING_PASSWORD_RESET and marks the email verified. Any other current
// stage leaves the row untouched and reports false.
func (s *InvitationService) ProcessVerificationSuccess(ctx context.Context, identityID string) (bool, error) {
	return s.machine.Transition(ctx, ActorRef{ID: identityID, Type: "user"}, identityID,
		StageAwaitingPasswordReset,
		WithExpectedStage(StageAwaitingVerification),
		WithStageFields(map[string]any{"is_email_verified": true}),
		WithTransitionReason("email verified"),
	)
}

// ProcessPasswordResetSuccess retires the one-time password and moves the
// row to AWAITING_PROFILE_COMPLETION regardless of its current stage.
func (s *InvitationService) ProcessPasswordResetSuccess(ctx context.Context, identityID string) (bool, error) {
	return s.machine.Transition(ctx, ActorRef{ID: identityID, Type: "user"}, identityID,
		StageAwaitingProfileCompletion,
		WithForceTransition(),
		WithStageFields(map[string]any{"is_initial_login": false}),
		WithTransitionReason("password reset"),
	)
}

// UpdateOnboardingStage is the administrative override.
func (s *InvitationService) UpdateOnboardingStage(ctx context.Context, actor ActorRef, identityID string, stage OnboardingStage) error {
	if !stage.IsValid() {
		return ErrInvalidStage
	}

	changed, err := s.machine.Transition(ctx, actor, identityID, stage,
		WithForceTransition(),
		WithTransitionReason("admin override"),
	)
	if err != nil {
		return err
	}

	if !changed {
		return ErrInvitationNotFound
	}

	return nil
}

// CompleteInvitation removes the lobby row and every token issued to its
// email in one transaction. Unknown identities are a no-op.
func (s *InvitationService) CompleteInvitation(ctx context.Context, identityID string) error {
	invitation, err := s.repo.Invitations().GetByIdentityID(ctx, identityID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up invitation")
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := s.repo.Tokens().DeleteByEmailTx(ctx, tx, invitation.Email); err != nil {
			return err
		}
		_, err := s.repo.Invitations().DeleteByIdentityIDTx(ctx, tx, identityID)
		return err
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to complete invitation")
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:  ActivityEventInvitationCompleted,
		Actor:      ActorRef{ID: identityID, Type: "user"},
		IdentityID: identityID,
		Email:      invitation.Email,
		FromStage:  invitation.CurrentStage,
		OccurredAt: s.now(),
	})

	return nil
}

// UpdateInvitation refreshes the cached display fields. Identities that are
// not in the lobby are ignored.
func (s *InvitationService) UpdateInvitation(ctx context.Context, in InvitationSync) error {
	_, err := s.repo.Invitations().UpdateDetails(ctx, &AdminInvitation{
		IdentityID:      in.IdentityID,
		Email:           normalizeEmail(in.Email),
		Username:        in.Username,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		IsEnabled:       in.IsEnabled,
		IsEmailVerified: in.IsEmailVerified,
		Groups:          in.Groups,
		UpdatedAt:       s.now().UTC(),
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update invitation")
	}
	return nil
}

// GetInvitation returns the lobby row for identityID.
func (s *InvitationService) GetInvitation(ctx context.Context, identityID string) (*AdminInvitation, error) {
	record, err := s.repo.Invitations().GetByIdentityID(ctx, identityID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvitationNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up invitation")
	}
	return record, nil
}

// GetPendingInvites lists the lobby. An empty group filter means no
// restriction.
func (s *InvitationService) GetPendingInvites(ctx context.Context, q InviteQuery) (*InvitePage, error) {
	if err := q.Validate(); err != nil {
		return nil, validationError(err, "invalid invitation query")
	}

	q = q.Normalize()

	items, total, err := s.repo.Invitations().Search(ctx, q)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list invitations")
	}

	return &InvitePage{
		Items: items,
		Total: total,
		Page:  q.Page,
		Size:  q.Size,
	}, nil
}
