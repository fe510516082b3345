package auth0

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/auth0/go-auth0"
	"github.com/auth0/go-auth0/management"
	"github.com/goliatone/go-onboarding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiError struct {
	status int
}

func (e apiError) Error() string { return fmt.Sprintf("%d: api error", e.status) }
func (e apiError) Status() int   { return e.status }

type fakeUsers struct {
	users  map[string]*management.User
	seq    int
	reads  int
	err    error
	update *management.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[string]*management.User{}}
}

func (f *fakeUsers) Create(_ context.Context, u *management.User, _ ...management.RequestOption) error {
	if f.err != nil {
		return f.err
	}
	for _, existing := range f.users {
		if existing.GetEmail() == u.GetEmail() {
			return apiError{status: http.StatusConflict}
		}
	}
	f.seq++
	u.ID = auth0.String(fmt.Sprintf("auth0|%d", f.seq))
	f.users[u.GetID()] = u
	return nil
}

func (f *fakeUsers) Read(_ context.Context, id string, _ ...management.RequestOption) (*management.User, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apiError{status: http.StatusNotFound}
	}
	return u, nil
}

func (f *fakeUsers) Update(_ context.Context, id string, patch *management.User, _ ...management.RequestOption) error {
	if f.err != nil {
		return f.err
	}
	u, ok := f.users[id]
	if !ok {
		return apiError{status: http.StatusNotFound}
	}
	f.update = patch
	if patch.Email != nil {
		u.Email = patch.Email
	}
	if patch.EmailVerified != nil {
		u.EmailVerified = patch.EmailVerified
	}
	if patch.GivenName != nil {
		u.GivenName = patch.GivenName
	}
	if patch.Blocked != nil {
		u.Blocked = patch.Blocked
	}
	if patch.AppMetadata != nil {
		u.AppMetadata = patch.AppMetadata
	}
	return nil
}

func (f *fakeUsers) ListByEmail(_ context.Context, email string, _ ...management.RequestOption) ([]*management.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*management.User
	for _, u := range f.users {
		if strings.EqualFold(u.GetEmail(), email) {
			out = append(out, u)
		}
	}
	return out, nil
}

func TestDirectory_CreateAndFind(t *testing.T) {
	users := newFakeUsers()
	dir := NewDirectoryWithUsers(users)
	ctx := context.Background()

	id, err := dir.CreateIdentity(ctx, onboarding.IdentityProfile{
		Username:      "ada",
		Email:         " Ada@Example.com ",
		FirstName:     "Ada",
		Password:      "s3cret-pass",
		EmailVerified: true,
		Enabled:       true,
	}, "/members/new")
	require.NoError(t, err)
	assert.Equal(t, "auth0|1", id)

	created := users.users[id]
	assert.Equal(t, DefaultConnection, created.GetConnection())
	assert.False(t, created.GetBlocked())

	identity, err := dir.FindByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, identity.ID)
	assert.Equal(t, "ada", identity.Username)
	assert.Equal(t, "Ada", identity.FirstName)
	assert.True(t, identity.EmailVerified)
	assert.True(t, identity.Enabled)
	assert.Equal(t, []string{"/members/new"}, identity.Groups)
}

func TestDirectory_CreateConflict(t *testing.T) {
	dir := NewDirectoryWithUsers(newFakeUsers())
	ctx := context.Background()

	profile := onboarding.IdentityProfile{Username: "ada", Email: "ada@example.com", Password: "s3cret-pass"}
	_, err := dir.CreateIdentity(ctx, profile, "")
	require.NoError(t, err)

	_, err = dir.CreateIdentity(ctx, profile, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, onboarding.ErrIdentityConflict)
}

func TestDirectory_FindByEmailMissing(t *testing.T) {
	dir := NewDirectoryWithUsers(newFakeUsers())

	_, err := dir.FindByEmail(context.Background(), "nobody@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, onboarding.ErrIdentityNotFound)
}

func TestDirectory_VerifyEmailAndUpdate(t *testing.T) {
	users := newFakeUsers()
	dir := NewDirectoryWithUsers(users)
	ctx := context.Background()

	id, err := dir.CreateIdentity(ctx, onboarding.IdentityProfile{Username: "ada", Email: "ada@example.com", Enabled: true}, "")
	require.NoError(t, err)

	require.NoError(t, dir.VerifyEmail(ctx, "ada@example.com"))
	assert.True(t, users.users[id].GetEmailVerified())

	newEmail := "ada@new.example.com"
	verified := true
	disabled := false
	require.NoError(t, dir.UpdateIdentity(ctx, id, onboarding.IdentityUpdate{
		Email:         &newEmail,
		EmailVerified: &verified,
		Enabled:       &disabled,
	}))

	assert.Equal(t, newEmail, users.users[id].GetEmail())
	assert.True(t, users.users[id].GetBlocked())
	assert.Equal(t, DefaultConnection, users.update.GetConnection())
}

func TestDirectory_GroupsUseCache(t *testing.T) {
	users := newFakeUsers()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewTTLGroupCache(time.Minute, func() time.Time { return now })
	dir := NewDirectoryWithUsers(users, WithGroupCache(cache))
	ctx := context.Background()

	id, err := dir.CreateIdentity(ctx, onboarding.IdentityProfile{Username: "ada", Email: "ada@example.com"}, "/members/new")
	require.NoError(t, err)

	require.NoError(t, dir.AssignToGroup(ctx, id, "/staff"))
	require.NoError(t, dir.AssignToGroup(ctx, id, "/staff"))
	readsAfterAssign := users.reads

	groups, err := dir.GetGroupsOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"/members/new", "/staff"}, groups)
	assert.Equal(t, readsAfterAssign, users.reads)

	now = now.Add(2 * time.Minute)
	groups, err = dir.GetGroupsOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"/members/new", "/staff"}, groups)
	assert.Equal(t, readsAfterAssign+1, users.reads)
}

func TestGroupsFromUser_DecodedJSON(t *testing.T) {
	metadata := map[string]any{"groups": []any{"/a", 3, "/b"}}
	groups := groupsFromUser(&management.User{AppMetadata: &metadata})
	assert.Equal(t, []string{"/a", "/b"}, groups)

	assert.Empty(t, groupsFromUser(&management.User{}))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", apiError{status: http.StatusNotFound}, onboarding.ErrIdentityNotFound},
		{"conflict", apiError{status: http.StatusConflict}, onboarding.ErrIdentityConflict},
		{"bad request", apiError{status: http.StatusBadRequest}, onboarding.ErrIdentityPolicyViolation},
		{"rate limited", apiError{status: http.StatusTooManyRequests}, onboarding.ErrDirectoryUnavailable},
		{"server error", apiError{status: http.StatusBadGateway}, onboarding.ErrDirectoryUnavailable},
		{"transport", errors.New("dial tcp: connection refused"), onboarding.ErrDirectoryUnavailable},
		{"deadline", context.DeadlineExceeded, onboarding.ErrDirectoryUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(tt.err)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.NoError(t, mapError(nil))
}

func TestDirectory_UnavailableSurfacesAsDirectoryError(t *testing.T) {
	users := newFakeUsers()
	users.err = apiError{status: http.StatusServiceUnavailable}
	dir := NewDirectoryWithUsers(users)

	_, err := dir.FindByID(context.Background(), "auth0|1")
	var dirErr *onboarding.DirectoryError
	require.ErrorAs(t, err, &dirErr)
	assert.Equal(t, onboarding.DirectoryUnavailable, dirErr.Kind)
}
