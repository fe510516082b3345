package onboarding

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OtpCredentials is the one-time code store.
type OtpCredentials interface {
	// Replace removes every code for (email, purpose) and inserts record.
	Replace(ctx context.Context, record *OtpCredential) (*OtpCredential, error)
	ReplaceTx(ctx context.Context, tx bun.IDB, record *OtpCredential) (*OtpCredential, error)

	FindLatest(ctx context.Context, email string, purpose OtpPurpose) (*OtpCredential, error)
	DeleteByID(ctx context.Context, id uuid.UUID) error
	// Consume deletes the code with id and reports whether this call removed
	// it. Only one of several concurrent callers gets true.
	Consume(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type otpCredentials struct {
	repository.Repository[*OtpCredential]
	db *bun.DB
}

var _ OtpCredentials = (*otpCredentials)(nil)

// NewOtpCredentialsRepository returns the bun backed OTP store.
func NewOtpCredentialsRepository(db *bun.DB) OtpCredentials {
	handlers := repository.ModelHandlers[*OtpCredential]{
		NewRecord: func() *OtpCredential {
			return &OtpCredential{}
		},
		GetID: func(record *OtpCredential) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *OtpCredential, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
	return &otpCredentials{
		Repository: repository.NewRepository(db, handlers),
		db:         db,
	}
}

func (r *otpCredentials) Replace(ctx context.Context, record *OtpCredential) (*OtpCredential, error) {
	return r.ReplaceTx(ctx, r.db, record)
}

func (r *otpCredentials) ReplaceTx(ctx context.Context, tx bun.IDB, record *OtpCredential) (*OtpCredential, error) {
	_, err := tx.NewDelete().
		Model((*OtpCredential)(nil)).
		Where("email = ?", record.Email).
		Where("purpose = ?", record.Purpose).
		Exec(ctx)
	if err != nil {
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

func (r *otpCredentials) FindLatest(ctx context.Context, email string, purpose OtpPurpose) (*OtpCredential, error) {
	record := &OtpCredential{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Where("?TableAlias.purpose = ?", purpose).
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{
			"email":   email,
			"purpose": purpose,
		})
	}
	return record, nil
}

func (r *otpCredentials) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.NewDelete().
		Model((*OtpCredential)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *otpCredentials) Consume(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*OtpCredential)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	n, err := rowsAffected(res, err)
	return n == 1, err
}

func (r *otpCredentials) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*OtpCredential)(nil)).
		Where("expiry_date <= ?", now.UTC()).
		Exec(ctx)
	return rowsAffected(res, err)
}
