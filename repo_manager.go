package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Tokens() VerificationTokens
	Otps() OtpCredentials
	PendingUsers() PendingUsers
	Invitations() Invitations
	Profiles() Profiles
}

type mngr struct {
	db           *bun.DB
	tokens       VerificationTokens
	otps         OtpCredentials
	pendingUsers PendingUsers
	invitations  Invitations
	profiles     Profiles
}

// NewRepositoryManager builds every store on top of db.
func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:           db,
		tokens:       NewVerificationTokensRepository(db),
		otps:         NewOtpCredentialsRepository(db),
		pendingUsers: NewPendingUsersRepository(db),
		invitations:  NewInvitationsRepository(db),
		profiles:     NewProfilesRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}

	if m.tokens == nil {
		return errors.New("repository tokens should be initialized")
	}

	if m.otps == nil {
		return errors.New("repository otps should be initialized")
	}

	if m.pendingUsers == nil {
		return errors.New("repository pendingUsers should be initialized")
	}

	if m.invitations == nil {
		return errors.New("repository invitations should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Tokens() VerificationTokens {
	return m.tokens
}

func (m mngr) Otps() OtpCredentials {
	return m.otps
}

func (m mngr) PendingUsers() PendingUsers {
	return m.pendingUsers
}

func (m mngr) Invitations() Invitations {
	return m.invitations
}

func (m mngr) Profiles() Profiles {
	return m.profiles
}
