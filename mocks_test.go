package onboarding_test

import (
	"context"
	"time"

	"github.com/goliatone/go-onboarding"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// MockInvitations implements onboarding.Invitations
type MockInvitations struct {
	mock.Mock
}

var _ onboarding.Invitations = (*MockInvitations)(nil)

func (m *MockInvitations) Insert(ctx context.Context, record *onboarding.AdminInvitation) (*onboarding.AdminInvitation, error) {
	args := m.Called(ctx, record)
	return invitationArg(args, 0), args.Error(1)
}

func (m *MockInvitations) InsertTx(ctx context.Context, tx bun.IDB, record *onboarding.AdminInvitation) (*onboarding.AdminInvitation, error) {
	args := m.Called(ctx, tx, record)
	return invitationArg(args, 0), args.Error(1)
}

func (m *MockInvitations) GetByIdentityID(ctx context.Context, identityID string) (*onboarding.AdminInvitation, error) {
	args := m.Called(ctx, identityID)
	return invitationArg(args, 0), args.Error(1)
}

func (m *MockInvitations) GetByEmail(ctx context.Context, email string) (*onboarding.AdminInvitation, error) {
	args := m.Called(ctx, email)
	return invitationArg(args, 0), args.Error(1)
}

func (m *MockInvitations) AdvanceStage(ctx context.Context, identityID string, from, to onboarding.OnboardingStage, set map[string]any, now time.Time) (bool, error) {
	args := m.Called(ctx, identityID, from, to, set, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvitations) SetStage(ctx context.Context, identityID string, to onboarding.OnboardingStage, set map[string]any, now time.Time) (bool, error) {
	args := m.Called(ctx, identityID, to, set, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvitations) UpdateDetails(ctx context.Context, record *onboarding.AdminInvitation) (bool, error) {
	args := m.Called(ctx, record)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvitations) DeleteByIdentityIDTx(ctx context.Context, tx bun.IDB, identityID string) (bool, error) {
	args := m.Called(ctx, tx, identityID)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvitations) Search(ctx context.Context, q onboarding.InviteQuery) ([]*onboarding.AdminInvitation, int, error) {
	args := m.Called(ctx, q)
	items, _ := args.Get(0).([]*onboarding.AdminInvitation)
	return items, args.Int(1), args.Error(2)
}

func invitationArg(args mock.Arguments, i int) *onboarding.AdminInvitation {
	record, _ := args.Get(i).(*onboarding.AdminInvitation)
	return record
}
