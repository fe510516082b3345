package onboarding

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TokenType selects the finalize path a verification token triggers.
type TokenType string

const (
	// TokenSelfReg completes a self-registration
	TokenSelfReg TokenType = "SELF_REG"
	// TokenInvited verifies the email of an admin-invited user
	TokenInvited TokenType = "INVITED"
	// TokenAppUser re-verifies or changes the email of an existing user
	TokenAppUser TokenType = "APP_USER"
)

// IsValid reports whether the token type is known.
func (t TokenType) IsValid() bool {
	switch t {
	case TokenSelfReg, TokenInvited, TokenAppUser:
		return true
	default:
		return false
	}
}

// VerificationToken is a single-use proof bound to an email and a purpose.
type VerificationToken struct {
	bun.BaseModel `bun:"table:verification_tokens,alias:vt"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Token         string    `bun:"token,notnull,unique" json:"-"`
	Email         string    `bun:"email,notnull" json:"email,omitempty"`
	NewValue      *string   `bun:"new_value" json:"new_value,omitempty"`
	ExpiryDate    time.Time `bun:"expiry_date,notnull" json:"expiry_date"`
	Type          TokenType `bun:"token_type,notnull" json:"type,omitempty"`
	GroupPath     *string   `bun:"group_path" json:"group_path,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}

// IsExpired reports whether the token is past its expiry at now. There is
// no grace period.
func (t *VerificationToken) IsExpired(now time.Time) bool {
	if t == nil {
		return true
	}
	return !now.Before(t.ExpiryDate)
}

// GetGroupPath returns the group path or an empty string.
func (t *VerificationToken) GetGroupPath() string {
	if t == nil || t.GroupPath == nil {
		return ""
	}
	return *t.GroupPath
}

// GetNewValue returns the proposed replacement value or an empty string.
func (t *VerificationToken) GetNewValue() string {
	if t == nil || t.NewValue == nil {
		return ""
	}
	return *t.NewValue
}

// OtpPurpose is the discriminator for one-time codes.
type OtpPurpose string

const (
	OtpPasswordReset     OtpPurpose = "PASSWORD_RESET"
	OtpEmailVerification OtpPurpose = "EMAIL_VERIFICATION"
	OtpLogin             OtpPurpose = "LOGIN"
)

// IsValid reports whether the purpose is known.
func (p OtpPurpose) IsValid() bool {
	switch p {
	case OtpPasswordReset, OtpEmailVerification, OtpLogin:
		return true
	default:
		return false
	}
}

// OtpCredential stores the hash of a numeric one-time code.
type OtpCredential struct {
	bun.BaseModel `bun:"table:otp_credentials,alias:otp"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	CodeHash      string     `bun:"code_hash,notnull" json:"-"`
	Purpose       OtpPurpose `bun:"purpose,notnull" json:"purpose,omitempty"`
	ExpiryDate    time.Time  `bun:"expiry_date,notnull" json:"expiry_date"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
}

// IsExpired reports whether the code is past its expiry at now.
func (o *OtpCredential) IsExpired(now time.Time) bool {
	if o == nil {
		return true
	}
	return !now.Before(o.ExpiryDate)
}

// PendingUser is a self-registration that has not been promoted to a
// directory identity yet. The password is sealed, not hashed, because it
// has to be replayed into the directory at promotion time.
type PendingUser struct {
	bun.BaseModel     `bun:"table:pending_users,alias:pu"`
	ID                uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Username          string    `bun:"username,notnull" json:"username,omitempty"`
	Email             string    `bun:"email,notnull,unique" json:"email,omitempty"`
	EncryptedPassword string    `bun:"encrypted_password,notnull" json:"-"`
	FirstName         string    `bun:"first_name" json:"first_name,omitempty"`
	LastName          string    `bun:"last_name" json:"last_name,omitempty"`
	CreatedAt         time.Time `bun:"created_at,notnull" json:"created_at"`
}

// OnboardingStage is the state of an admin invitation.
type OnboardingStage string

const (
	StageAwaitingVerification      OnboardingStage = "AWAITING_VERIFICATION"
	StageAwaitingPasswordReset     OnboardingStage = "AWAITING_PASSWORD_RESET"
	StageAwaitingProfileCompletion OnboardingStage = "AWAITING_PROFILE_COMPLETION"
)

// IsValid reports whether the stage is known.
func (s OnboardingStage) IsValid() bool {
	switch s {
	case StageAwaitingVerification, StageAwaitingPasswordReset, StageAwaitingProfileCompletion:
		return true
	default:
		return false
	}
}

// AdminInvitation tracks an admin-created identity through onboarding.
// The row is removed once onboarding completes.
type AdminInvitation struct {
	bun.BaseModel   `bun:"table:admin_invitations,alias:inv"`
	ID              uuid.UUID          `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityID      string             `bun:"identity_id,notnull,unique" json:"identity_id,omitempty"`
	Email           string             `bun:"email,notnull" json:"email,omitempty"`
	Username        string             `bun:"username,notnull" json:"username,omitempty"`
	FirstName       string             `bun:"first_name" json:"first_name,omitempty"`
	LastName        string             `bun:"last_name" json:"last_name,omitempty"`
	IsEnabled       bool               `bun:"is_enabled" json:"is_enabled"`
	IsEmailVerified bool               `bun:"is_email_verified" json:"is_email_verified"`
	DateCreated     time.Time          `bun:"date_created,notnull" json:"date_created"`
	InvitedBy       string             `bun:"invited_by" json:"invited_by,omitempty"`
	UpdatedAt       time.Time          `bun:"updated_at,notnull" json:"updated_at"`
	CurrentStage    OnboardingStage    `bun:"current_stage,notnull" json:"current_stage,omitempty"`
	IsInitialLogin  bool               `bun:"is_initial_login" json:"is_initial_login"`
	GroupRows       []*InvitationGroup `bun:"rel:has-many,join:id=invitation_id" json:"-"`
	Groups          []string           `bun:"-" json:"groups,omitempty"`
}

// PrimaryGroup returns the first cached group path, if any.
func (i *AdminInvitation) PrimaryGroup() string {
	if i == nil || len(i.Groups) == 0 {
		return ""
	}
	return i.Groups[0]
}

func (i *AdminInvitation) syncGroupsFromRows() {
	if i == nil {
		return
	}
	groups := make([]string, 0, len(i.GroupRows))
	for _, row := range i.GroupRows {
		if row != nil {
			groups = append(groups, row.GroupPath)
		}
	}
	i.Groups = groups
}

// InvitationGroup is the cached group membership of an invitation.
// Position keeps the order the groups were assigned in; the first one is
// the primary group.
type InvitationGroup struct {
	bun.BaseModel `bun:"table:admin_invitation_groups,alias:invg"`
	InvitationID  uuid.UUID `bun:"invitation_id,pk,type:uuid"`
	GroupPath     string    `bun:"group_path,pk"`
	Position      int       `bun:"position,notnull"`
}

// Profile is the local forum profile of a directory identity.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	IdentityID    string    `bun:"identity_id,notnull,unique" json:"identity_id,omitempty"`
	Username      string    `bun:"username,notnull" json:"username,omitempty"`
	Email         string    `bun:"email,notnull" json:"email,omitempty"`
	FirstName     string    `bun:"first_name" json:"first_name,omitempty"`
	LastName      string    `bun:"last_name" json:"last_name,omitempty"`
	EmailVerified bool      `bun:"email_verified" json:"email_verified"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}
