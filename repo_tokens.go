package onboarding

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// VerificationTokens is the token store.
type VerificationTokens interface {
	// Issue removes every token for (email, type) and inserts record in one
	// transaction.
	Issue(ctx context.Context, record *VerificationToken) (*VerificationToken, error)
	IssueTx(ctx context.Context, tx bun.IDB, record *VerificationToken) (*VerificationToken, error)

	FindByTokenAndEmail(ctx context.Context, token, email string) (*VerificationToken, error)
	FindLive(ctx context.Context, email string, tokenType TokenType, now time.Time) (*VerificationToken, error)
	LatestCreatedAt(ctx context.Context, email string) (*time.Time, error)

	DeleteByID(ctx context.Context, id uuid.UUID) error
	DeleteByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	// Consume deletes the token with id and reports whether this call
	// removed it.
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteByEmail(ctx context.Context, email string) (int64, error)
	DeleteByEmailTx(ctx context.Context, tx bun.IDB, email string) (int64, error)
	DeleteByEmailAndTypeTx(ctx context.Context, tx bun.IDB, email string, tokenType TokenType) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type verificationTokens struct {
	repository.Repository[*VerificationToken]
	db *bun.DB
}

var _ VerificationTokens = (*verificationTokens)(nil)

// NewVerificationTokensRepository returns the bun backed token store.
func NewVerificationTokensRepository(db *bun.DB) VerificationTokens {
	handlers := repository.ModelHandlers[*VerificationToken]{
		NewRecord: func() *VerificationToken {
			return &VerificationToken{}
		},
		GetID: func(record *VerificationToken) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *VerificationToken, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "token"
		},
	}
	return &verificationTokens{
		Repository: repository.NewRepository(db, handlers),
		db:         db,
	}
}

func (r *verificationTokens) Issue(ctx context.Context, record *VerificationToken) (*VerificationToken, error) {
	var issued *VerificationToken
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		issued, err = r.IssueTx(ctx, tx, record)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

func (r *verificationTokens) IssueTx(ctx context.Context, tx bun.IDB, record *VerificationToken) (*VerificationToken, error) {
	if _, err := r.DeleteByEmailAndTypeTx(ctx, tx, record.Email, record.Type); err != nil {
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

func (r *verificationTokens) FindByTokenAndEmail(ctx context.Context, token, email string) (*VerificationToken, error) {
	record := &VerificationToken{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.token = ?", token).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"email": email})
	}
	return record, nil
}

func (r *verificationTokens) FindLive(ctx context.Context, email string, tokenType TokenType, now time.Time) (*VerificationToken, error) {
	record := &VerificationToken{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Where("?TableAlias.token_type = ?", tokenType).
		Where("?TableAlias.expiry_date > ?", now.UTC()).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{
			"email": email,
			"type":  tokenType,
		})
	}
	return record, nil
}

func (r *verificationTokens) LatestCreatedAt(ctx context.Context, email string) (*time.Time, error) {
	record := &VerificationToken{}
	err := r.db.NewSelect().
		Model(record).
		Column("created_at").
		Where("?TableAlias.email = ?", email).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record.CreatedAt, nil
}

func (r *verificationTokens) DeleteByID(ctx context.Context, id uuid.UUID) error {
	return r.DeleteByIDTx(ctx, r.db, id)
}

func (r *verificationTokens) DeleteByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	_, err := tx.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *verificationTokens) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	n, err := rowsAffected(res, err)
	return n == 1, err
}

func (r *verificationTokens) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	return r.DeleteByEmailTx(ctx, r.db, email)
}

func (r *verificationTokens) DeleteByEmailTx(ctx context.Context, tx bun.IDB, email string) (int64, error) {
	res, err := tx.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("email = ?", email).
		Exec(ctx)
	return rowsAffected(res, err)
}

func (r *verificationTokens) DeleteByEmailAndTypeTx(ctx context.Context, tx bun.IDB, email string, tokenType TokenType) (int64, error) {
	res, err := tx.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("email = ?", email).
		Where("token_type = ?", tokenType).
		Exec(ctx)
	return rowsAffected(res, err)
}

func (r *verificationTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*VerificationToken)(nil)).
		Where("expiry_date <= ?", now.UTC()).
		Exec(ctx)
	return rowsAffected(res, err)
}

func rowsAffected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	if res == nil {
		return 0, nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func notFoundOr(err error, meta map[string]any) error {
	if errors.Is(err, sql.ErrNoRows) || repository.IsRecordNotFound(err) {
		return repository.NewRecordNotFound().WithMetadata(meta)
	}
	return err
}
