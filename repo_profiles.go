package onboarding

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles is the local forum profile store.
type Profiles interface {
	GetByIdentityID(ctx context.Context, identityID string) (*Profile, error)
	// Promote inserts or refreshes the profile for the record identity.
	// Calling it twice for the same identity yields the same row.
	Promote(ctx context.Context, record *Profile) (*Profile, error)
	PromoteTx(ctx context.Context, tx bun.IDB, record *Profile) (*Profile, error)
	UpdateEmail(ctx context.Context, identityID, email string, verified bool, now time.Time) (bool, error)
	MarkEmailVerified(ctx context.Context, identityID string, now time.Time) (bool, error)
}

type profiles struct {
	repository.Repository[*Profile]
	db *bun.DB
}

var _ Profiles = (*profiles)(nil)

// NewProfilesRepository returns the bun backed profile store.
func NewProfilesRepository(db *bun.DB) Profiles {
	handlers := repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile {
			return &Profile{}
		},
		GetID: func(record *Profile) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Profile, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "identity_id"
		},
	}
	return &profiles{
		Repository: repository.NewRepository(db, handlers),
		db:         db,
	}
}

// ProfileID derives the profile primary key from the directory identity.
func ProfileID(identityID string) uuid.UUID {
	if id, err := hashid.NewUUID(identityID); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(identityID))
}

func (r *profiles) GetByIdentityID(ctx context.Context, identityID string) (*Profile, error) {
	return r.Repository.GetByIdentifier(ctx, identityID)
}

func (r *profiles) Promote(ctx context.Context, record *Profile) (*Profile, error) {
	return r.PromoteTx(ctx, r.db, record)
}

func (r *profiles) PromoteTx(ctx context.Context, tx bun.IDB, record *Profile) (*Profile, error) {
	record.ID = ProfileID(record.IdentityID)

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (identity_id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("email = EXCLUDED.email").
		Set("first_name = EXCLUDED.first_name").
		Set("last_name = EXCLUDED.last_name").
		Set("email_verified = EXCLUDED.email_verified").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *profiles) UpdateEmail(ctx context.Context, identityID, email string, verified bool, now time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Profile)(nil)).
		Set("email = ?", email).
		Set("email_verified = ?", verified).
		Set("updated_at = ?", now.UTC()).
		Where("identity_id = ?", identityID).
		Exec(ctx)
	n, err := rowsAffected(res, err)
	return n > 0, err
}

func (r *profiles) MarkEmailVerified(ctx context.Context, identityID string, now time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Profile)(nil)).
		Set("email_verified = ?", true).
		Set("updated_at = ?", now.UTC()).
		Where("identity_id = ?", identityID).
		Exec(ctx)
	n, err := rowsAffected(res, err)
	return n > 0, err
}
