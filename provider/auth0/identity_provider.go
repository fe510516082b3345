package auth0

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/auth0/go-auth0"
	"github.com/auth0/go-auth0/management"
	"github.com/goliatone/go-onboarding"
)

const (
	metadataGroups            = "groups"
	metadataTemporaryPassword = "temporary_password"
)

// UserManager is the subset of the Auth0 management user API the directory
// needs. *management.UserManager satisfies it.
type UserManager interface {
	Create(ctx context.Context, u *management.User, opts ...management.RequestOption) error
	Read(ctx context.Context, id string, opts ...management.RequestOption) (*management.User, error)
	Update(ctx context.Context, id string, u *management.User, opts ...management.RequestOption) error
	ListByEmail(ctx context.Context, email string, opts ...management.RequestOption) ([]*management.User, error)
}

// Directory implements onboarding.IdentityDirectory on top of the Auth0
// management API. Group paths are kept in the user app_metadata.
type Directory struct {
	users      UserManager
	connection string
	groups     GroupCache
}

var _ onboarding.IdentityDirectory = (*Directory)(nil)

// Option customizes a Directory.
type Option func(*Directory)

// WithGroupCache replaces the group cache.
func WithGroupCache(cache GroupCache) Option {
	return func(d *Directory) {
		if cache != nil {
			d.groups = cache
		}
	}
}

// WithConnection sets the database connection identities are created in.
func WithConnection(connection string) Option {
	return func(d *Directory) {
		if strings.TrimSpace(connection) != "" {
			d.connection = connection
		}
	}
}

// NewDirectory creates a management client from cfg and wraps it.
func NewDirectory(ctx context.Context, cfg Config, opts ...Option) (*Directory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	mgmt, err := management.New(
		cfg.domain(),
		management.WithClientCredentials(ctx, cfg.ClientID, cfg.ClientSecret),
	)
	if err != nil {
		return nil, fmt.Errorf("auth0: failed to create management client: %w", err)
	}

	base := []Option{WithConnection(cfg.connection())}
	if cfg.GroupCacheTTL >= 0 {
		ttl := cfg.GroupCacheTTL
		if ttl == 0 {
			ttl = DefaultConfig("", "", "").GroupCacheTTL
		}
		base = append(base, WithGroupCache(NewTTLGroupCache(ttl, nil)))
	}

	return NewDirectoryWithUsers(mgmt.User, append(base, opts...)...), nil
}

// NewDirectoryWithUsers wraps an existing user manager.
func NewDirectoryWithUsers(users UserManager, opts ...Option) *Directory {
	d := &Directory{
		users:      users,
		connection: DefaultConnection,
		groups:     noopGroupCache{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	return d
}

func (d *Directory) CreateIdentity(ctx context.Context, profile onboarding.IdentityProfile, groupPath string) (string, error) {
	metadata := map[string]any{}
	if groupPath != "" {
		metadata[metadataGroups] = []string{groupPath}
	}
	if profile.TemporaryPassword {
		metadata[metadataTemporaryPassword] = true
	}

	user := &management.User{
		Connection:    auth0.String(d.connection),
		Email:         auth0.String(strings.ToLower(strings.TrimSpace(profile.Email))),
		Username:      auth0.String(profile.Username),
		Password:      auth0.String(profile.Password),
		EmailVerified: auth0.Bool(profile.EmailVerified),
		VerifyEmail:   auth0.Bool(false),
		Blocked:       auth0.Bool(!profile.Enabled),
		AppMetadata:   &metadata,
	}

	if profile.FirstName != "" {
		user.GivenName = auth0.String(profile.FirstName)
	}
	if profile.LastName != "" {
		user.FamilyName = auth0.String(profile.LastName)
	}

	if err := d.users.Create(ctx, user); err != nil {
		return "", mapError(err)
	}

	return user.GetID(), nil
}

func (d *Directory) VerifyEmail(ctx context.Context, email string) error {
	user, err := d.findUserByEmail(ctx, email)
	if err != nil {
		return err
	}

	if err := d.users.Update(ctx, user.GetID(), &management.User{EmailVerified: auth0.Bool(true)}); err != nil {
		return mapError(err)
	}
	return nil
}

func (d *Directory) UpdateIdentity(ctx context.Context, id string, update onboarding.IdentityUpdate) error {
	patch := &management.User{}
	if update.Email != nil {
		patch.Email = auth0.String(strings.ToLower(strings.TrimSpace(*update.Email)))
		patch.Connection = auth0.String(d.connection)
		patch.VerifyEmail = auth0.Bool(false)
	}
	if update.Username != nil {
		patch.Username = update.Username
		patch.Connection = auth0.String(d.connection)
	}
	if update.FirstName != nil {
		patch.GivenName = update.FirstName
	}
	if update.LastName != nil {
		patch.FamilyName = update.LastName
	}
	if update.EmailVerified != nil {
		patch.EmailVerified = update.EmailVerified
	}
	if update.Enabled != nil {
		patch.Blocked = auth0.Bool(!*update.Enabled)
	}

	if err := d.users.Update(ctx, id, patch); err != nil {
		return mapError(err)
	}
	return nil
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*onboarding.DirectoryIdentity, error) {
	user, err := d.findUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return d.mapUser(user), nil
}

func (d *Directory) FindByID(ctx context.Context, id string) (*onboarding.DirectoryIdentity, error) {
	user, err := d.users.Read(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return d.mapUser(user), nil
}

func (d *Directory) AssignToGroup(ctx context.Context, id, groupPath string) error {
	user, err := d.users.Read(ctx, id)
	if err != nil {
		return mapError(err)
	}

	groups := groupsFromUser(user)
	if slices.Contains(groups, groupPath) {
		d.groups.Set(id, groups)
		return nil
	}
	groups = append(groups, groupPath)

	metadata := map[string]any{metadataGroups: groups}
	if err := d.users.Update(ctx, id, &management.User{AppMetadata: &metadata}); err != nil {
		d.groups.Invalidate(id)
		return mapError(err)
	}

	d.groups.Set(id, groups)
	return nil
}

func (d *Directory) GetGroupsOf(ctx context.Context, id string) ([]string, error) {
	if groups, ok := d.groups.Get(id); ok {
		return groups, nil
	}

	user, err := d.users.Read(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}

	groups := groupsFromUser(user)
	d.groups.Set(id, groups)
	return groups, nil
}

func (d *Directory) findUserByEmail(ctx context.Context, email string) (*management.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	users, err := d.users.ListByEmail(ctx, email)
	if err != nil {
		return nil, mapError(err)
	}

	for _, user := range users {
		if user != nil && (d.connection == "" || user.GetConnection() == "" || user.GetConnection() == d.connection) {
			return user, nil
		}
	}

	return nil, onboarding.NewDirectoryError(onboarding.DirectoryNotFound, fmt.Errorf("auth0: no user with email %q", email))
}

func (d *Directory) mapUser(u *management.User) *onboarding.DirectoryIdentity {
	groups := groupsFromUser(u)
	d.groups.Set(u.GetID(), groups)

	return &onboarding.DirectoryIdentity{
		ID:            u.GetID(),
		Username:      u.GetUsername(),
		Email:         u.GetEmail(),
		FirstName:     u.GetGivenName(),
		LastName:      u.GetFamilyName(),
		EmailVerified: u.GetEmailVerified(),
		Enabled:       !u.GetBlocked(),
		Groups:        groups,
	}
}

func groupsFromUser(u *management.User) []string {
	if u == nil || u.AppMetadata == nil {
		return []string{}
	}

	raw, ok := (*u.AppMetadata)[metadataGroups]
	if !ok {
		return []string{}
	}

	var groups []string
	switch v := raw.(type) {
	case []string:
		groups = append(groups, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				groups = append(groups, s)
			}
		}
	}

	if groups == nil {
		return []string{}
	}
	return groups
}

// mapError classifies management API failures by HTTP status. Errors
// without a status are transport failures.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return onboarding.NewDirectoryError(onboarding.DirectoryUnavailable, err)
	}

	var apiErr management.Error
	if !errors.As(err, &apiErr) {
		return onboarding.NewDirectoryError(onboarding.DirectoryUnavailable, err)
	}

	switch status := apiErr.Status(); {
	case status == http.StatusNotFound:
		return onboarding.NewDirectoryError(onboarding.DirectoryNotFound, err)
	case status == http.StatusConflict:
		return onboarding.NewDirectoryError(onboarding.DirectoryConflict, err)
	case status == http.StatusBadRequest:
		return onboarding.NewDirectoryError(onboarding.DirectoryPolicyViolation, err)
	case status == http.StatusTooManyRequests, status >= 500:
		return onboarding.NewDirectoryError(onboarding.DirectoryUnavailable, err)
	default:
		return fmt.Errorf("auth0: unexpected management api status %d: %w", status, err)
	}
}
