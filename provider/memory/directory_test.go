package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/provider/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func create(t *testing.T, d *memory.Directory, username, email, group string) string {
	t.Helper()
	id, err := d.CreateIdentity(context.Background(), onboarding.IdentityProfile{
		Username: username,
		Email:    email,
		Password: "secret-password",
		Enabled:  true,
	}, group)
	require.NoError(t, err)
	return id
}

func TestDirectory_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	d := memory.NewDirectory()

	id := create(t, d, "ada", "Ada@Example.com", "/members")

	found, err := d.FindByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, found.ID)
	assert.Equal(t, "ada@example.com", found.Email)
	assert.Equal(t, []string{"/members"}, found.Groups)
	assert.False(t, found.EmailVerified)

	byID, err := d.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ada", byID.Username)

	stored, ok := d.Get(id)
	require.True(t, ok)
	assert.Equal(t, "secret-password", stored.Password)
	assert.Equal(t, 1, d.Len())
}

func TestDirectory_Conflicts(t *testing.T) {
	ctx := context.Background()
	d := memory.NewDirectory()
	create(t, d, "ada", "ada@example.com", "")

	_, err := d.CreateIdentity(ctx, onboarding.IdentityProfile{Username: "other", Email: "ADA@example.com"}, "")
	assert.ErrorIs(t, err, onboarding.ErrIdentityConflict)

	_, err = d.CreateIdentity(ctx, onboarding.IdentityProfile{Username: "ADA", Email: "new@example.com"}, "")
	assert.ErrorIs(t, err, onboarding.ErrIdentityConflict)

	grace := create(t, d, "grace", "grace@example.com", "")
	taken := "ada@example.com"
	err = d.UpdateIdentity(ctx, grace, onboarding.IdentityUpdate{Email: &taken})
	assert.ErrorIs(t, err, onboarding.ErrIdentityConflict)
}

func TestDirectory_NotFound(t *testing.T) {
	ctx := context.Background()
	d := memory.NewDirectory()

	_, err := d.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, onboarding.ErrIdentityNotFound)

	_, err = d.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, onboarding.ErrIdentityNotFound)

	assert.ErrorIs(t, d.VerifyEmail(ctx, "nobody@example.com"), onboarding.ErrIdentityNotFound)
	assert.ErrorIs(t, d.AssignToGroup(ctx, "missing", "/staff"), onboarding.ErrIdentityNotFound)
	assert.ErrorIs(t, d.UpdateIdentity(ctx, "missing", onboarding.IdentityUpdate{}), onboarding.ErrIdentityNotFound)

	_, err = d.GetGroupsOf(ctx, "missing")
	assert.ErrorIs(t, err, onboarding.ErrIdentityNotFound)
}

func TestDirectory_UpdateAndGroups(t *testing.T) {
	ctx := context.Background()
	d := memory.NewDirectory()
	id := create(t, d, "ada", "ada@example.com", "/members")

	require.NoError(t, d.VerifyEmail(ctx, "ada@example.com"))

	newEmail := "Ada@New.example.com"
	first := "Ada"
	disabled := false
	require.NoError(t, d.UpdateIdentity(ctx, id, onboarding.IdentityUpdate{
		Email:     &newEmail,
		FirstName: &first,
		Enabled:   &disabled,
	}))

	require.NoError(t, d.AssignToGroup(ctx, id, "/staff"))
	require.NoError(t, d.AssignToGroup(ctx, id, "/staff"))

	groups, err := d.GetGroupsOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"/members", "/staff"}, groups)

	groups[0] = "/mutated"
	stored, ok := d.Get(id)
	require.True(t, ok)
	assert.Equal(t, []string{"/members", "/staff"}, stored.Groups)
	assert.Equal(t, "ada@new.example.com", stored.Email)
	assert.Equal(t, "Ada", stored.FirstName)
	assert.True(t, stored.EmailVerified)
	assert.False(t, stored.Enabled)
}

func TestDirectory_FailNextAndCalls(t *testing.T) {
	ctx := context.Background()
	d := memory.NewDirectory()

	outage := onboarding.NewDirectoryError(onboarding.DirectoryUnavailable, errors.New("connection refused"))
	d.FailNext(memory.OpCreateIdentity, outage)

	_, err := d.CreateIdentity(ctx, onboarding.IdentityProfile{Username: "ada", Email: "ada@example.com"}, "")
	assert.ErrorIs(t, err, onboarding.ErrDirectoryUnavailable)
	assert.Equal(t, 0, d.Len())

	create(t, d, "ada", "ada@example.com", "")
	assert.Equal(t, 2, d.Calls(memory.OpCreateIdentity))
	assert.Equal(t, 0, d.Calls(memory.OpFindByEmail))
}

func TestDirectory_CanceledContextIsUnavailable(t *testing.T) {
	d := memory.NewDirectory()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.FindByEmail(ctx, "ada@example.com")
	assert.ErrorIs(t, err, onboarding.ErrDirectoryUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}
