package onboarding

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SubmitRegistration stages a self-registration and sends its SELF_REG
// link. A second submission for the same email replaces the staged row.
// The returned link is the one sent to the user.
func (o *Orchestrator) SubmitRegistration(ctx context.Context, in RegistrationInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", validationError(err, "invalid registration")
	}

	if o.sealer == nil {
		return "", goerrors.New("password sealer not configured", goerrors.CategoryInternal).
			WithCode(goerrors.CodeInternal)
	}

	email := normalizeEmail(in.Email)

	if err := o.tokens.CheckRateLimit(ctx, email); err != nil {
		return "", err
	}

	existing, err := o.findIdentityByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	if existing != nil {
		return "", ErrIdentityConflict
	}

	sealed, err := o.sealer.Seal(in.Password)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to seal password")
	}

	group := strings.TrimSpace(in.GroupPath)
	if group == "" {
		group = o.defaultGroup
	}

	pending := &PendingUser{
		ID:                uuid.New(),
		Username:          strings.TrimSpace(in.Username),
		Email:             email,
		EncryptedPassword: sealed,
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		CreatedAt:         o.now().UTC(),
	}

	// the staged row and its token commit together, so the orphan sweep
	// never sees one without the other
	var token *VerificationToken
	err = o.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := o.repo.PendingUsers().StageTx(ctx, tx, pending); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to stage registration")
		}

		var err error
		token, err = o.tokens.GenerateTokenTx(ctx, tx, email, TokenSelfReg, group, "")
		return err
	})
	if err != nil {
		return "", err
	}

	link := o.BuildLink(token)

	recordActivity(ctx, o.activity, o.logger, ActivityEvent{
		EventType:  ActivityEventRegistrationStaged,
		Actor:      ActorRef{Type: "anonymous"},
		Email:      email,
		OccurredAt: o.now(),
		Metadata:   map[string]any{"username": pending.Username, "group": group},
	})

	o.notify(ctx, WorkflowVerifySelfRegistration, pending.ID.String(), email, map[string]any{
		"link":       link,
		"username":   pending.Username,
		"first_name": pending.FirstName,
	})

	return link, nil
}

// InviteUser creates the directory identity for an admin invitation, adds
// it to the lobby and sends the INVITED link.
func (o *Orchestrator) InviteUser(ctx context.Context, in InviteInput) (*AdminInvitation, string, error) {
	if err := in.Validate(); err != nil {
		return nil, "", validationError(err, "invalid invitation")
	}

	email := normalizeEmail(in.Email)

	existing, err := o.findIdentityByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}

	if existing != nil {
		return nil, "", ErrIdentityConflict
	}

	groups := make([]string, 0, len(in.Groups))
	for _, g := range in.Groups {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}

	if len(groups) == 0 {
		groups = append(groups, o.defaultGroup)
	}

	var identityID string
	err = o.callDirectory(ctx, "create identity", func(ctx context.Context) error {
		id, err := o.directory.CreateIdentity(ctx, IdentityProfile{
			Username:          strings.TrimSpace(in.Username),
			Email:             email,
			FirstName:         in.FirstName,
			LastName:          in.LastName,
			Password:          in.TemporaryPassword,
			Enabled:           true,
			TemporaryPassword: true,
		}, groups[0])
		identityID = id
		return err
	})
	if err != nil {
		return nil, "", err
	}

	for _, g := range groups[1:] {
		err := o.callDirectory(ctx, "assign group", func(ctx context.Context) error {
			return o.directory.AssignToGroup(ctx, identityID, g)
		})
		if err != nil {
			return nil, "", o.syncFailure(ctx, err, identityID, email, "assign group "+g)
		}
	}

	invitation, err := o.invitations.CreateInvitation(ctx, CreateInvitationInput{
		IdentityID: identityID,
		Email:      email,
		Username:   in.Username,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		Groups:     groups,
		InvitedBy:  in.InvitedBy,
		IsEnabled:  true,
	})
	if err != nil {
		return nil, "", o.syncFailure(ctx, err, identityID, email, "create invitation")
	}

	link, err := o.issueLink(ctx, email, TokenInvited, groups[0], "")
	if err != nil {
		return invitation, "", err
	}

	o.notify(ctx, WorkflowVerifyInvitation, identityID, email, map[string]any{
		"link":       link,
		"username":   invitation.Username,
		"first_name": invitation.FirstName,
		"invited_by": in.InvitedBy,
	})

	return invitation, link, nil
}
