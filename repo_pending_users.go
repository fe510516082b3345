package onboarding

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OrphanedPendingUsersSQL removes staged registrations older than a cutoff
// with no live SELF_REG token behind them.
var OrphanedPendingUsersSQL = `DELETE FROM "pending_users"
WHERE "pending_users"."created_at" < ?
AND NOT EXISTS (
	SELECT 1 FROM "verification_tokens" AS "vt"
	WHERE "vt"."email" = "pending_users"."email"
	AND "vt"."token_type" = ?
	AND "vt"."expiry_date" > ?
);`

// PendingUsers is the self-registration staging store.
type PendingUsers interface {
	GetByEmail(ctx context.Context, email string) (*PendingUser, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*PendingUser, error)
	// Stage replaces any staged registration for the same email.
	Stage(ctx context.Context, record *PendingUser) (*PendingUser, error)
	StageTx(ctx context.Context, tx bun.IDB, record *PendingUser) (*PendingUser, error)
	DeleteByEmail(ctx context.Context, email string) error
	DeleteByEmailTx(ctx context.Context, tx bun.IDB, email string) error
	// DeleteOrphaned removes registrations staged before stagedBefore whose
	// SELF_REG token is missing or expired at now.
	DeleteOrphaned(ctx context.Context, now, stagedBefore time.Time) (int64, error)
}

type pendingUsers struct {
	repository.Repository[*PendingUser]
	db *bun.DB
}

var _ PendingUsers = (*pendingUsers)(nil)

// NewPendingUsersRepository returns the bun backed staging store.
func NewPendingUsersRepository(db *bun.DB) PendingUsers {
	handlers := repository.ModelHandlers[*PendingUser]{
		NewRecord: func() *PendingUser {
			return &PendingUser{}
		},
		GetID: func(record *PendingUser) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PendingUser, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
	return &pendingUsers{
		Repository: repository.NewRepository(db, handlers),
		db:         db,
	}
}

func (r *pendingUsers) GetByEmail(ctx context.Context, email string) (*PendingUser, error) {
	return r.GetByEmailTx(ctx, r.db, email)
}

func (r *pendingUsers) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*PendingUser, error) {
	record := &PendingUser{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", strings.TrimSpace(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"email": email})
	}
	return record, nil
}

func (r *pendingUsers) Stage(ctx context.Context, record *PendingUser) (*PendingUser, error) {
	return r.StageTx(ctx, r.db, record)
}

func (r *pendingUsers) StageTx(ctx context.Context, tx bun.IDB, record *PendingUser) (*PendingUser, error) {
	if err := r.DeleteByEmailTx(ctx, tx, record.Email); err != nil {
		return nil, err
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	return r.Repository.CreateTx(ctx, tx, record)
}

func (r *pendingUsers) DeleteByEmail(ctx context.Context, email string) error {
	return r.DeleteByEmailTx(ctx, r.db, email)
}

func (r *pendingUsers) DeleteByEmailTx(ctx context.Context, tx bun.IDB, email string) error {
	_, err := tx.NewDelete().
		Model((*PendingUser)(nil)).
		Where("email = ?", email).
		Exec(ctx)
	return err
}

func (r *pendingUsers) DeleteOrphaned(ctx context.Context, now, stagedBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, OrphanedPendingUsersSQL, stagedBefore.UTC(), TokenSelfReg, now.UTC())
	return rowsAffected(res, err)
}
