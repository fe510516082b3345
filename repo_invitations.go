package onboarding

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Invitations is the admin invitation lobby store.
type Invitations interface {
	Insert(ctx context.Context, record *AdminInvitation) (*AdminInvitation, error)
	InsertTx(ctx context.Context, tx bun.IDB, record *AdminInvitation) (*AdminInvitation, error)

	GetByIdentityID(ctx context.Context, identityID string) (*AdminInvitation, error)
	GetByEmail(ctx context.Context, email string) (*AdminInvitation, error)

	// AdvanceStage moves the row to `to` only when it currently sits at
	// `from`. It reports whether a row changed.
	AdvanceStage(ctx context.Context, identityID string, from, to OnboardingStage, set map[string]any, now time.Time) (bool, error)
	// SetStage moves the row to `to` regardless of its current stage.
	SetStage(ctx context.Context, identityID string, to OnboardingStage, set map[string]any, now time.Time) (bool, error)
	UpdateDetails(ctx context.Context, record *AdminInvitation) (bool, error)

	DeleteByIdentityIDTx(ctx context.Context, tx bun.IDB, identityID string) (bool, error)
	Search(ctx context.Context, q InviteQuery) ([]*AdminInvitation, int, error)
}

// InviteQuery filters the lobby listing.
type InviteQuery struct {
	Page      int
	Size      int
	Groups    []string
	InvitedBy string
	Search    string
	Stage     OnboardingStage
	SortBy    string
	SortDesc  bool
}

// InvitePage is a page of pending invitations.
type InvitePage struct {
	Items []*AdminInvitation `json:"items"`
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Size  int                `json:"size"`
}

const (
	DefaultInvitePageSize = 20
	MaxInvitePageSize     = 100
	defaultInviteSort     = "date_created"
)

var inviteSortColumns = map[string]struct{}{
	"date_created":  {},
	"updated_at":    {},
	"email":         {},
	"username":      {},
	"first_name":    {},
	"last_name":     {},
	"current_stage": {},
}

// Normalize applies paging defaults and drops unknown sort columns.
func (q InviteQuery) Normalize() InviteQuery {
	if q.Page < 0 {
		q.Page = 0
	}

	if q.Size <= 0 {
		q.Size = DefaultInvitePageSize
	}

	if q.Size > MaxInvitePageSize {
		q.Size = MaxInvitePageSize
	}

	q.SortBy = strings.ToLower(strings.TrimSpace(q.SortBy))
	if _, ok := inviteSortColumns[q.SortBy]; !ok {
		q.SortBy = defaultInviteSort
	}

	q.Search = strings.TrimSpace(q.Search)
	q.InvitedBy = strings.TrimSpace(q.InvitedBy)

	groups := make([]string, 0, len(q.Groups))
	for _, g := range q.Groups {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	q.Groups = groups

	return q
}

type invitations struct {
	repository.Repository[*AdminInvitation]
	db *bun.DB
}

var _ Invitations = (*invitations)(nil)

// NewInvitationsRepository returns the bun backed lobby store.
func NewInvitationsRepository(db *bun.DB) Invitations {
	handlers := repository.ModelHandlers[*AdminInvitation]{
		NewRecord: func() *AdminInvitation {
			return &AdminInvitation{}
		},
		GetID: func(record *AdminInvitation) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *AdminInvitation, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "identity_id"
		},
	}
	return &invitations{
		Repository: repository.NewRepository(db, handlers),
		db:         db,
	}
}

func (r *invitations) Insert(ctx context.Context, record *AdminInvitation) (*AdminInvitation, error) {
	var out *AdminInvitation
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		out, err = r.InsertTx(ctx, tx, record)
		return err
	})
	return out, err
}

func (r *invitations) InsertTx(ctx context.Context, tx bun.IDB, record *AdminInvitation) (*AdminInvitation, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	out, err := r.Repository.CreateTx(ctx, tx, record)
	if err != nil {
		return nil, err
	}

	if len(record.Groups) > 0 {
		rows := make([]*InvitationGroup, 0, len(record.Groups))
		seen := map[string]struct{}{}
		for _, g := range record.Groups {
			if _, ok := seen[g]; ok || g == "" {
				continue
			}
			seen[g] = struct{}{}
			rows = append(rows, &InvitationGroup{InvitationID: record.ID, GroupPath: g, Position: len(rows)})
		}
		if len(rows) > 0 {
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return nil, err
			}
		}
	}

	out.Groups = record.Groups
	return out, nil
}

func orderGroupRows(q *bun.SelectQuery) *bun.SelectQuery {
	return q.Order("position")
}

func (r *invitations) GetByIdentityID(ctx context.Context, identityID string) (*AdminInvitation, error) {
	return r.getBy(ctx, "identity_id", identityID)
}

func (r *invitations) GetByEmail(ctx context.Context, email string) (*AdminInvitation, error) {
	return r.getBy(ctx, "email", email)
}

func (r *invitations) getBy(ctx context.Context, column, value string) (*AdminInvitation, error) {
	record := &AdminInvitation{}
	err := r.db.NewSelect().
		Model(record).
		Relation("GroupRows", orderGroupRows).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{column: value})
	}
	record.syncGroupsFromRows()
	return record, nil
}

func (r *invitations) AdvanceStage(ctx context.Context, identityID string, from, to OnboardingStage, set map[string]any, now time.Time) (bool, error) {
	q := r.stageUpdate(identityID, to, set, now).
		Where("current_stage = ?", from)
	res, err := q.Exec(ctx)
	n, err := rowsAffected(res, err)
	return n > 0, err
}

func (r *invitations) SetStage(ctx context.Context, identityID string, to OnboardingStage, set map[string]any, now time.Time) (bool, error) {
	res, err := r.stageUpdate(identityID, to, set, now).Exec(ctx)
	n, err := rowsAffected(res, err)
	return n > 0, err
}

func (r *invitations) stageUpdate(identityID string, to OnboardingStage, set map[string]any, now time.Time) *bun.UpdateQuery {
	q := r.db.NewUpdate().
		Model((*AdminInvitation)(nil)).
		Set("current_stage = ?", to).
		Set("updated_at = ?", now.UTC()).
		Where("identity_id = ?", identityID)

	for column, value := range set {
		q = q.Set("? = ?", bun.Ident(column), value)
	}
	return q
}

func (r *invitations) UpdateDetails(ctx context.Context, record *AdminInvitation) (bool, error) {
	var changed bool
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current := &AdminInvitation{}
		err := tx.NewSelect().
			Model(current).
			Where("?TableAlias.identity_id = ?", record.IdentityID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			return notFoundOr(err, map[string]any{"identity_id": record.IdentityID})
		}

		_, err = tx.NewUpdate().
			Model((*AdminInvitation)(nil)).
			Set("email = ?", record.Email).
			Set("username = ?", record.Username).
			Set("first_name = ?", record.FirstName).
			Set("last_name = ?", record.LastName).
			Set("is_enabled = ?", record.IsEnabled).
			Set("is_email_verified = ?", record.IsEmailVerified).
			Set("updated_at = ?", record.UpdatedAt.UTC()).
			Where("id = ?", current.ID).
			Exec(ctx)
		if err != nil {
			return err
		}

		if record.Groups != nil {
			_, err = tx.NewDelete().
				Model((*InvitationGroup)(nil)).
				Where("invitation_id = ?", current.ID).
				Exec(ctx)
			if err != nil {
				return err
			}
			rows := make([]*InvitationGroup, 0, len(record.Groups))
			for i, g := range record.Groups {
				rows = append(rows, &InvitationGroup{InvitationID: current.ID, GroupPath: g, Position: i})
			}
			if len(rows) > 0 {
				if _, err = tx.NewInsert().Model(&rows).Ignore().Exec(ctx); err != nil {
					return err
				}
			}
		}

		changed = true
		return nil
	})
	if repository.IsRecordNotFound(err) {
		return false, nil
	}
	return changed, err
}

func (r *invitations) DeleteByIdentityIDTx(ctx context.Context, tx bun.IDB, identityID string) (bool, error) {
	// groups go with the row through ON DELETE CASCADE, delete explicitly for
	// sqlite connections without foreign_keys enabled
	_, err := tx.NewDelete().
		Model((*InvitationGroup)(nil)).
		Where("invitation_id IN (?)", tx.NewSelect().
			Model((*AdminInvitation)(nil)).
			Column("id").
			Where("identity_id = ?", identityID)).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	res, err := tx.NewDelete().
		Model((*AdminInvitation)(nil)).
		Where("identity_id = ?", identityID).
		Exec(ctx)
	n, err := rowsAffected(res, err)
	return n > 0, err
}

func (r *invitations) Search(ctx context.Context, q InviteQuery) ([]*AdminInvitation, int, error) {
	q = q.Normalize()

	records := []*AdminInvitation{}
	sel := r.db.NewSelect().
		Model(&records).
		Relation("GroupRows", orderGroupRows)

	if len(q.Groups) > 0 {
		sel = sel.Where("EXISTS (?)", r.db.NewSelect().
			Model((*InvitationGroup)(nil)).
			ColumnExpr("1").
			Where("invg.invitation_id = inv.id").
			Where("invg.group_path IN (?)", bun.In(q.Groups)))
	}

	if q.InvitedBy != "" {
		sel = sel.Where("?TableAlias.invited_by = ?", q.InvitedBy)
	}

	if q.Stage != "" {
		sel = sel.Where("?TableAlias.current_stage = ?", q.Stage)
	}

	if q.Search != "" {
		pattern := "%" + strings.ToLower(q.Search) + "%"
		sel = sel.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("LOWER(?TableAlias.email) LIKE ?", pattern).
				WhereOr("LOWER(?TableAlias.username) LIKE ?", pattern).
				WhereOr("LOWER(?TableAlias.first_name) LIKE ?", pattern).
				WhereOr("LOWER(?TableAlias.last_name) LIKE ?", pattern)
		})
	}

	direction := "ASC"
	if q.SortDesc {
		direction = "DESC"
	}

	total, err := sel.
		OrderExpr("?TableAlias.? "+direction, bun.Ident(q.SortBy)).
		OrderExpr("?TableAlias.id ASC").
		Limit(q.Size).
		Offset(q.Page * q.Size).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}

	for _, rec := range records {
		rec.syncGroupsFromRows()
	}

	return records, total, nil
}
