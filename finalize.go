package onboarding

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// finalizer completes the flow bound to a verification token type. The
// set of variants is closed: one per TokenType.
type finalizer interface {
	tokenType() TokenType
	finalize(ctx context.Context, o *Orchestrator) (*VerificationResult, error)
}

func decodeFinalizer(token *VerificationToken, defaultGroup string) (finalizer, error) {
	group := token.GetGroupPath()
	if group == "" {
		group = defaultGroup
	}

	switch token.Type {
	case TokenSelfReg:
		return selfRegFinalizer{email: token.Email, groupPath: group}, nil
	case TokenInvited:
		return invitedFinalizer{email: token.Email, groupPath: group}, nil
	case TokenAppUser:
		return appUserFinalizer{email: token.Email, newValue: token.GetNewValue()}, nil
	}

	return nil, goerrors.New("unknown token type", goerrors.CategoryInternal).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"type": token.Type})
}

// selfRegFinalizer promotes a staged registration into the directory and
// the local profile store.
type selfRegFinalizer struct {
	email     string
	groupPath string
}

func (selfRegFinalizer) tokenType() TokenType { return TokenSelfReg }

func (f selfRegFinalizer) finalize(ctx context.Context, o *Orchestrator) (*VerificationResult, error) {
	pending, err := o.repo.PendingUsers().GetByEmail(ctx, f.email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrPendingRegistrationNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load pending registration")
	}

	// a previous attempt may have created the identity before failing
	existing, err := o.findIdentityByEmail(ctx, f.email)
	if err != nil {
		return nil, err
	}

	var identityID string
	if existing != nil {
		identityID = existing.ID
		err = o.callDirectory(ctx, "assign group", func(ctx context.Context) error {
			return o.directory.AssignToGroup(ctx, identityID, f.groupPath)
		})
		if err != nil {
			return nil, err
		}
	} else {
		if o.sealer == nil {
			return nil, goerrors.New("password sealer not configured", goerrors.CategoryInternal).
				WithCode(goerrors.CodeInternal)
		}

		password, err := o.sealer.Open(pending.EncryptedPassword)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open staged password")
		}

		err = o.callDirectory(ctx, "create identity", func(ctx context.Context) error {
			id, err := o.directory.CreateIdentity(ctx, IdentityProfile{
				Username:      pending.Username,
				Email:         pending.Email,
				FirstName:     pending.FirstName,
				LastName:      pending.LastName,
				Password:      password,
				EmailVerified: true,
				Enabled:       true,
			}, f.groupPath)
			identityID = id
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	now := o.now().UTC()
	_, err = o.repo.Profiles().Promote(ctx, &Profile{
		IdentityID:    identityID,
		Username:      pending.Username,
		Email:         pending.Email,
		FirstName:     pending.FirstName,
		LastName:      pending.LastName,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, o.syncFailure(ctx, err, identityID, f.email, "promote profile")
	}

	if err := o.repo.PendingUsers().DeleteByEmail(ctx, f.email); err != nil {
		return nil, o.syncFailure(ctx, err, identityID, f.email, "delete pending registration")
	}

	recordActivity(ctx, o.activity, o.logger, ActivityEvent{
		EventType:  ActivityEventRegistrationPromoted,
		Actor:      ActorRef{ID: identityID, Type: "user"},
		IdentityID: identityID,
		Email:      f.email,
		OccurredAt: now,
		Metadata:   map[string]any{"group": f.groupPath, "reused_identity": existing != nil},
	})

	return &VerificationResult{
		Type:          TokenSelfReg,
		GroupPath:     f.groupPath,
		UserID:        identityID,
		Username:      pending.Username,
		ResolvedEmail: f.email,
	}, nil
}

// invitedFinalizer confirms the email of an admin created identity and
// advances its lobby row.
type invitedFinalizer struct {
	email     string
	groupPath string
}

func (invitedFinalizer) tokenType() TokenType { return TokenInvited }

func (f invitedFinalizer) finalize(ctx context.Context, o *Orchestrator) (*VerificationResult, error) {
	err := o.callDirectory(ctx, "verify email", func(ctx context.Context) error {
		return o.directory.VerifyEmail(ctx, f.email)
	})
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{
		Type:          TokenInvited,
		GroupPath:     f.groupPath,
		ResolvedEmail: f.email,
	}

	invitation, err := o.repo.Invitations().GetByEmail(ctx, f.email)
	if err != nil {
		if !repository.IsRecordNotFound(err) {
			return nil, o.syncFailure(ctx, err, "", f.email, "load invitation")
		}

		o.logger.Warn("verified invitation has no lobby row", "email", f.email)
		identity, err := o.findIdentityByEmail(ctx, f.email)
		if err != nil {
			return nil, err
		}
		if identity != nil {
			result.UserID = identity.ID
			result.Username = identity.Username
		}
		return result, nil
	}

	result.UserID = invitation.IdentityID
	result.Username = invitation.Username

	if _, err := o.invitations.ProcessVerificationSuccess(ctx, invitation.IdentityID); err != nil {
		return nil, o.syncFailure(ctx, err, invitation.IdentityID, f.email, "advance invitation stage")
	}

	return result, nil
}

// appUserFinalizer verifies the email of an existing identity or applies a
// pending email change.
type appUserFinalizer struct {
	email    string
	newValue string
}

func (appUserFinalizer) tokenType() TokenType { return TokenAppUser }

func (f appUserFinalizer) finalize(ctx context.Context, o *Orchestrator) (*VerificationResult, error) {
	identity, err := o.findIdentityByEmail(ctx, f.email)
	if err != nil {
		return nil, err
	}

	// the directory side of an email change may already have been applied
	if identity == nil && f.newValue != "" {
		if identity, err = o.findIdentityByEmail(ctx, f.newValue); err != nil {
			return nil, err
		}
	}

	if identity == nil {
		return nil, ErrIdentityNotFound
	}

	now := o.now().UTC()

	if f.newValue == "" {
		err := o.callDirectory(ctx, "verify email", func(ctx context.Context) error {
			return o.directory.VerifyEmail(ctx, f.email)
		})
		if err != nil {
			return nil, err
		}

		if _, err := o.repo.Profiles().MarkEmailVerified(ctx, identity.ID, now); err != nil {
			return nil, o.syncFailure(ctx, err, identity.ID, f.email, "mark profile email verified")
		}

		return &VerificationResult{
			Type:          TokenAppUser,
			UserID:        identity.ID,
			Username:      identity.Username,
			ResolvedEmail: f.email,
		}, nil
	}

	newEmail := normalizeEmail(f.newValue)
	verified := true
	err = o.callDirectory(ctx, "update identity email", func(ctx context.Context) error {
		return o.directory.UpdateIdentity(ctx, identity.ID, IdentityUpdate{
			Email:         &newEmail,
			EmailVerified: &verified,
		})
	})
	if err != nil {
		return nil, err
	}

	if _, err := o.repo.Profiles().UpdateEmail(ctx, identity.ID, newEmail, true, now); err != nil {
		return nil, o.syncFailure(ctx, err, identity.ID, newEmail, "update profile email")
	}

	if err := o.invitations.UpdateInvitation(ctx, InvitationSync{
		IdentityID:      identity.ID,
		Email:           newEmail,
		Username:        identity.Username,
		FirstName:       identity.FirstName,
		LastName:        identity.LastName,
		IsEnabled:       identity.Enabled,
		IsEmailVerified: true,
	}); err != nil {
		return nil, o.syncFailure(ctx, err, identity.ID, newEmail, "sync invitation email")
	}

	return &VerificationResult{
		Type:          TokenAppUser,
		UserID:        identity.ID,
		Username:      identity.Username,
		ResolvedEmail: newEmail,
	}, nil
}
