// Package memory provides an in-process identity directory. It backs tests
// and local development; state is lost on restart.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-onboarding"
	"github.com/google/uuid"
)

// Identity is a stored directory entry.
type Identity struct {
	onboarding.DirectoryIdentity
	Password          string
	TemporaryPassword bool
}

// Directory is a thread safe onboarding.IdentityDirectory.
type Directory struct {
	mu         sync.RWMutex
	identities map[string]*Identity
	failures   map[string][]error
	calls      map[string]int
}

var _ onboarding.IdentityDirectory = (*Directory)(nil)

// Operation names accepted by FailNext and Calls.
const (
	OpCreateIdentity = "CreateIdentity"
	OpVerifyEmail    = "VerifyEmail"
	OpUpdateIdentity = "UpdateIdentity"
	OpFindByEmail    = "FindByEmail"
	OpFindByID       = "FindByID"
	OpAssignToGroup  = "AssignToGroup"
	OpGetGroupsOf    = "GetGroupsOf"
)

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		identities: map[string]*Identity{},
		failures:   map[string][]error{},
		calls:      map[string]int{},
	}
}

// FailNext queues err to be returned by the next call to op.
func (d *Directory) FailNext(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = append(d.failures[op], err)
}

// Calls reports how many times op was invoked.
func (d *Directory) Calls(op string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calls[op]
}

// Get returns a copy of the stored identity.
func (d *Directory) Get(id string) (Identity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.identities[id]
	if !ok {
		return Identity{}, false
	}
	out := *identity
	out.Groups = slices.Clone(identity.Groups)
	return out, true
}

// Len returns the number of identities.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.identities)
}

// enter records the call and pops a queued failure. Callers hold mu.
func (d *Directory) enter(ctx context.Context, op string) error {
	d.calls[op]++

	if err := ctx.Err(); err != nil {
		return onboarding.NewDirectoryError(onboarding.DirectoryUnavailable, err)
	}

	queue := d.failures[op]
	if len(queue) == 0 {
		return nil
	}

	d.failures[op] = queue[1:]
	return queue[0]
}

func (d *Directory) byEmail(email string) *Identity {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, identity := range d.identities {
		if strings.EqualFold(identity.Email, email) {
			return identity
		}
	}
	return nil
}

func (d *Directory) byUsername(username string) *Identity {
	for _, identity := range d.identities {
		if strings.EqualFold(identity.Username, username) {
			return identity
		}
	}
	return nil
}

func (d *Directory) CreateIdentity(ctx context.Context, profile onboarding.IdentityProfile, groupPath string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(ctx, OpCreateIdentity); err != nil {
		return "", err
	}

	if d.byEmail(profile.Email) != nil {
		return "", onboarding.NewDirectoryError(onboarding.DirectoryConflict, fmt.Errorf("email %q taken", profile.Email))
	}

	if d.byUsername(profile.Username) != nil {
		return "", onboarding.NewDirectoryError(onboarding.DirectoryConflict, fmt.Errorf("username %q taken", profile.Username))
	}

	id := uuid.NewString()
	identity := &Identity{
		DirectoryIdentity: onboarding.DirectoryIdentity{
			ID:            id,
			Username:      profile.Username,
			Email:         strings.ToLower(strings.TrimSpace(profile.Email)),
			FirstName:     profile.FirstName,
			LastName:      profile.LastName,
			EmailVerified: profile.EmailVerified,
			Enabled:       profile.Enabled,
		},
		Password:          profile.Password,
		TemporaryPassword: profile.TemporaryPassword,
	}

	if groupPath != "" {
		identity.Groups = []string{groupPath}
	}

	d.identities[id] = identity
	return id, nil
}

func (d *Directory) VerifyEmail(ctx context.Context, email string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(ctx, OpVerifyEmail); err != nil {
		return err
	}

	identity := d.byEmail(email)
	if identity == nil {
		return onboarding.NewDirectoryError(onboarding.DirectoryNotFound, fmt.Errorf("email %q", email))
	}

	identity.EmailVerified = true
	return nil
}

func (d *Directory) UpdateIdentity(ctx context.Context, id string, update onboarding.IdentityUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(ctx, OpUpdateIdentity); err != nil {
		return err
	}

	identity, ok := d.identities[id]
	if !ok {
		return onboarding.NewDirectoryError(onboarding.DirectoryNotFound, fmt.Errorf("identity %q", id))
	}

	if update.Email != nil {
		if other := d.byEmail(*update.Email); other != nil && other.ID != id {
			return onboarding.NewDirectoryError(onboarding.DirectoryConflict, fmt.Errorf("email %q taken", *update.Email))
		}
		identity.Email = strings.ToLower(strings.TrimSpace(*update.Email))
	}

	if update.Username != nil {
		if other := d.byUsername(*update.Username); other != nil && other.ID != id {
			return onboarding.NewDirectoryError(onboarding.DirectoryConflict, fmt.Errorf("username %q taken", *update.Username))
		}
		identity.Username = *update.Username
	}

	if update.FirstName != nil {
		identity.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		identity.LastName = *update.LastName
	}
	if update.EmailVerified != nil {
		identity.EmailVerified = *update.EmailVerified
	}
	if update.Enabled != nil {
		identity.Enabled = *update.Enabled
	}

	return nil
}

func (d *Directory) FindByEmail(ctx context.Context, email string) (*onboarding.DirectoryIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(ctx, OpFindByEmail); err != nil {
		return nil, err
	}

	identity := d.byEmail(email)
	if identity == nil {
		return nil, onboarding.NewDirectoryError(onboarding.DirectoryNotFound, fmt.Errorf("email %q", email))
	}

	out := identity.DirectoryIdentity
	out.Groups = slices.Clone(identity.Groups)
	return &out, nil
}

func (d *Directory) FindByID(ctx context.Context, id string) (*onboarding.DirectoryIdentity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(ctx, OpFindByID); err != nil {
		return nil, err
	}

	identity, ok := d.identities[id]
	if !ok {
		return nil, onboarding.NewDirectoryError(onboarding.DirectoryNotFound, fmt.Errorf("identity %q", id))
	}

	out := identity.DirectoryIdentity
	out.Groups = slices.Clone(identity.Groups)
	return &out, nil
}

func (d *Directory) AssignToGroup(ctx context.Context, id, groupPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(ctx, OpAssignToGroup); err != nil {
		return err
	}

	identity, ok := d.identities[id]
	if !ok {
		return onboarding.NewDirectoryError(onboarding.DirectoryNotFound, fmt.Errorf("identity %q", id))
	}

	if groupPath != "" && !slices.Contains(identity.Groups, groupPath) {
		identity.Groups = append(identity.Groups, groupPath)
	}
	return nil
}

func (d *Directory) GetGroupsOf(ctx context.Context, id string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(ctx, OpGetGroupsOf); err != nil {
		return nil, err
	}

	identity, ok := d.identities[id]
	if !ok {
		return nil, onboarding.NewDirectoryError(onboarding.DirectoryNotFound, fmt.Errorf("identity %q", id))
	}
	return slices.Clone(identity.Groups), nil
}
