package onboarding

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-repository-bun"
)

const (
	DefaultVerificationPath = "/verify"
	DefaultGroupPath        = "/members/new"
	DefaultDirectoryTimeout = 10 * time.Second
)

// VerificationResult describes a completed verification.
type VerificationResult struct {
	Type          TokenType `json:"type"`
	GroupPath     string    `json:"group_path,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Username      string    `json:"username,omitempty"`
	ResolvedEmail string    `json:"resolved_email,omitempty"`
}

// Orchestrator drives verification links through their finalize paths
// across the local stores and the identity directory.
type Orchestrator struct {
	repo             RepositoryManager
	directory        IdentityDirectory
	tokens           *TokenService
	invitations      *InvitationService
	otps             *OtpService
	dispatcher       NotificationDispatcher
	sealer           PasswordSealer
	frontendURL      string
	verificationPath string
	defaultGroup     string
	directoryTimeout time.Duration
	now              Clock
	logger           Logger
	metrics          *Metrics
	activity         ActivitySink
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithConfig applies the values of cfg.
func WithConfig(cfg Config) OrchestratorOption {
	return func(o *Orchestrator) {
		if cfg == nil {
			return
		}
		if v := cfg.GetFrontendURL(); v != "" {
			o.frontendURL = v
		}
		if v := cfg.GetVerificationPath(); v != "" {
			o.verificationPath = v
		}
		if v := cfg.GetDefaultGroupPath(); v != "" {
			o.defaultGroup = v
		}
		if v := cfg.GetDirectoryTimeout(); v > 0 {
			o.directoryTimeout = v
		}
	}
}

// WithFrontendURL sets the base URL verification links point to.
func WithFrontendURL(base, path string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.frontendURL = base
		if path != "" {
			o.verificationPath = path
		}
	}
}

// WithDefaultGroup sets the group used when an invitation has none cached.
func WithDefaultGroup(group string) OrchestratorOption {
	return func(o *Orchestrator) {
		if group != "" {
			o.defaultGroup = group
		}
	}
}

// WithDirectoryTimeout bounds every identity directory call.
func WithDirectoryTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.directoryTimeout = d
		}
	}
}

// WithDispatcher sets the notification dispatcher.
func WithDispatcher(d NotificationDispatcher) OrchestratorOption {
	return func(o *Orchestrator) {
		if d != nil {
			o.dispatcher = d
		}
	}
}

// WithPasswordSealer sets the sealer used for staged passwords.
func WithPasswordSealer(s PasswordSealer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sealer = s
	}
}

// WithTokenService replaces the default token service.
func WithTokenService(s *TokenService) OrchestratorOption {
	return func(o *Orchestrator) {
		if s != nil {
			o.tokens = s
		}
	}
}

// WithInvitationService replaces the default lobby service.
func WithInvitationService(s *InvitationService) OrchestratorOption {
	return func(o *Orchestrator) {
		if s != nil {
			o.invitations = s
		}
	}
}

// WithOtpService replaces the default OTP service.
func WithOtpService(s *OtpService) OrchestratorOption {
	return func(o *Orchestrator) {
		if s != nil {
			o.otps = s
		}
	}
}

// WithOrchestratorClock injects a custom clock (useful for tests).
func WithOrchestratorClock(now Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOrchestratorMetrics sets the metrics collectors.
func WithOrchestratorMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithOrchestratorActivitySink sets the activity sink.
func WithOrchestratorActivitySink(sink ActivitySink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.activity = normalizeActivitySink(sink)
	}
}

// NewOrchestrator wires the orchestrator. Services not provided through
// options are built over repo sharing the orchestrator clock, logger,
// metrics and activity sink.
func NewOrchestrator(repo RepositoryManager, directory IdentityDirectory, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		repo:             repo,
		directory:        directory,
		verificationPath: DefaultVerificationPath,
		defaultGroup:     DefaultGroupPath,
		directoryTimeout: DefaultDirectoryTimeout,
		now:              time.Now,
		logger:           defLogger{},
		activity:         noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if o.dispatcher == nil {
		o.dispatcher = LogDispatcher{Logger: o.logger}
	}

	if o.tokens == nil {
		o.tokens = NewTokenService(repo,
			WithTokenClock(o.now),
			WithTokenLogger(o.logger),
			WithTokenMetrics(o.metrics),
			WithTokenActivitySink(o.activity),
		)
	}

	if o.invitations == nil {
		o.invitations = NewInvitationService(repo,
			WithInvitationClock(o.now),
			WithInvitationLogger(o.logger),
			WithInvitationActivitySink(o.activity),
		)
	}

	if o.otps == nil {
		o.otps = NewOtpService(repo,
			WithOtpClock(o.now),
			WithOtpLogger(o.logger),
			WithOtpMetrics(o.metrics),
		)
	}

	return o
}

// Tokens returns the token service.
func (o *Orchestrator) Tokens() *TokenService {
	return o.tokens
}

// Invitations returns the lobby service.
func (o *Orchestrator) Invitations() *InvitationService {
	return o.invitations
}

// Otps returns the OTP service.
func (o *Orchestrator) Otps() *OtpService {
	return o.otps
}

// CreateVerificationLink issues a token and returns the frontend link that
// carries it.
func (o *Orchestrator) CreateVerificationLink(ctx context.Context, email string, tokenType TokenType, groupPath, newValue string) (string, error) {
	if err := o.tokens.CheckRateLimit(ctx, email); err != nil {
		return "", err
	}
	return o.issueLink(ctx, email, tokenType, groupPath, newValue)
}

func (o *Orchestrator) issueLink(ctx context.Context, email string, tokenType TokenType, groupPath, newValue string) (string, error) {
	token, err := o.tokens.GenerateToken(ctx, email, tokenType, groupPath, newValue)
	if err != nil {
		return "", err
	}
	return o.BuildLink(token), nil
}

// BuildLink formats the frontend verification URL for token.
func (o *Orchestrator) BuildLink(token *VerificationToken) string {
	query := url.Values{}
	query.Set("token", token.Token)
	query.Set("email", token.Email)

	base := strings.TrimRight(o.frontendURL, "/")
	path := o.verificationPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return base + path + "?" + query.Encode()
}

// RequestNewVerificationLink re-sends the link of whichever flow email is
// in. Emails that match no flow succeed silently.
func (o *Orchestrator) RequestNewVerificationLink(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return nil
	}

	if err := o.tokens.CheckRateLimit(ctx, email); err != nil {
		return err
	}

	pending, err := o.repo.PendingUsers().GetByEmail(ctx, email)
	switch {
	case err == nil:
		return o.resendSelfRegistration(ctx, pending)
	case !repository.IsRecordNotFound(err):
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up pending registration")
	}

	invitation, err := o.repo.Invitations().GetByEmail(ctx, email)
	switch {
	case err == nil:
		return o.resendInvitation(ctx, invitation)
	case !repository.IsRecordNotFound(err):
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up invitation")
	}

	identity, err := o.findIdentityByEmail(ctx, email)
	if err != nil {
		return err
	}

	if identity == nil {
		return nil
	}

	if !identity.EmailVerified {
		link, err := o.issueLink(ctx, email, TokenAppUser, "", "")
		if err != nil {
			return err
		}
		o.notify(ctx, WorkflowVerifyEmail, identity.ID, email, map[string]any{
			"link":     link,
			"username": identity.Username,
		})
		return nil
	}

	change, live, err := o.tokens.HasLiveToken(ctx, email, TokenAppUser)
	if err != nil {
		return err
	}

	if live && change.GetNewValue() != "" {
		newValue := change.GetNewValue()
		link, err := o.issueLink(ctx, email, TokenAppUser, "", newValue)
		if err != nil {
			return err
		}
		o.notify(ctx, WorkflowVerifyEmailChange, identity.ID, newValue, map[string]any{
			"link":      link,
			"username":  identity.Username,
			"new_email": newValue,
		})
	}

	return nil
}

func (o *Orchestrator) resendSelfRegistration(ctx context.Context, pending *PendingUser) error {
	group := o.defaultGroup
	if current, live, err := o.tokens.HasLiveToken(ctx, pending.Email, TokenSelfReg); err == nil && live && current.GetGroupPath() != "" {
		group = current.GetGroupPath()
	}

	link, err := o.issueLink(ctx, pending.Email, TokenSelfReg, group, "")
	if err != nil {
		return err
	}

	o.notify(ctx, WorkflowVerifySelfRegistration, pending.ID.String(), pending.Email, map[string]any{
		"link":       link,
		"username":   pending.Username,
		"first_name": pending.FirstName,
	})
	return nil
}

func (o *Orchestrator) resendInvitation(ctx context.Context, invitation *AdminInvitation) error {
	group := invitation.PrimaryGroup()
	if group == "" {
		group = o.defaultGroup
	}

	link, err := o.issueLink(ctx, invitation.Email, TokenInvited, group, "")
	if err != nil {
		return err
	}

	o.notify(ctx, WorkflowVerifyInvitation, invitation.IdentityID, invitation.Email, map[string]any{
		"link":       link,
		"username":   invitation.Username,
		"first_name": invitation.FirstName,
	})
	return nil
}

// ProcessVerification validates the (token, email) pair and runs the
// finalize path bound to the token type. The token is retired only after
// every side effect succeeded, so a failed call can be retried with the
// same pair.
func (o *Orchestrator) ProcessVerification(ctx context.Context, token, email string) (*VerificationResult, error) {
	record, err := o.tokens.FindAndValidateToken(ctx, token, email)
	if err != nil {
		o.metrics.verification("unknown", outcomeOf(err))
		return nil, err
	}

	f, err := decodeFinalizer(record, o.defaultGroup)
	if err != nil {
		o.metrics.verification(record.Type, OutcomeError)
		return nil, err
	}

	result, err := f.finalize(ctx, o)
	if err != nil {
		o.metrics.verification(f.tokenType(), outcomeOf(err))
		recordActivity(ctx, o.activity, o.logger, ActivityEvent{
			EventType:  ActivityEventVerificationFailure,
			Email:      record.Email,
			OccurredAt: o.now(),
			Metadata: map[string]any{
				"type":      record.Type,
				"error":     err.Error(),
				"retryable": IsRetryable(err),
			},
		})
		return nil, err
	}

	if err := o.tokens.ConsumeToken(ctx, record.ID); err != nil {
		if IsInvalidToken(err) {
			o.metrics.verification(f.tokenType(), outcomeOf(err))
			return nil, err
		}
		o.logger.Error("failed to retire verification token",
			"token_id", record.ID.String(),
			"email", record.Email,
			"error", err,
		)
	}

	o.metrics.verification(f.tokenType(), OutcomeSuccess)
	recordActivity(ctx, o.activity, o.logger, ActivityEvent{
		EventType:  ActivityEventVerificationSuccess,
		IdentityID: result.UserID,
		Email:      result.ResolvedEmail,
		OccurredAt: o.now(),
		Metadata: map[string]any{
			"type":  result.Type,
			"group": result.GroupPath,
		},
	})

	return result, nil
}

// SendOtp issues a one-time code and dispatches it.
func (o *Orchestrator) SendOtp(ctx context.Context, email string, purpose OtpPurpose) error {
	email = normalizeEmail(email)
	code, err := o.otps.GenerateAndSaveOtp(ctx, email, purpose)
	if err != nil {
		return err
	}

	o.notify(ctx, WorkflowOtpCode, "", email, map[string]any{
		"code":    code,
		"purpose": purpose,
	})
	return nil
}

// VerifyOtp consumes a one-time code.
func (o *Orchestrator) VerifyOtp(ctx context.Context, email, code string, purpose OtpPurpose) error {
	return o.otps.VerifyOtp(ctx, email, code, purpose)
}

func (o *Orchestrator) notify(ctx context.Context, workflow, recipientID, recipientEmail string, payload map[string]any) {
	if ok := o.dispatcher.Trigger(ctx, workflow, recipientID, recipientEmail, payload); !ok {
		o.logger.Warn("notification not sent",
			"workflow", workflow,
			"recipient_id", recipientID,
			"recipient_email", recipientEmail,
		)
	}
}

func (o *Orchestrator) directoryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.directoryTimeout)
}

// findIdentityByEmail returns nil without error when the directory has no
// identity for email.
func (o *Orchestrator) findIdentityByEmail(ctx context.Context, email string) (*DirectoryIdentity, error) {
	dctx, cancel := o.directoryContext(ctx)
	defer cancel()

	identity, err := o.directory.FindByEmail(dctx, email)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, nil
		}
		return nil, translateDirectoryError(err, "find identity by email")
	}
	return identity, nil
}

func (o *Orchestrator) callDirectory(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	dctx, cancel := o.directoryContext(ctx)
	defer cancel()

	if err := fn(dctx); err != nil {
		translated := translateDirectoryError(err, op)
		if IsRetryable(translated) {
			o.logger.Warn("identity directory unavailable", "operation", op, "error", err)
		}
		return translated
	}
	return nil
}

// syncFailure logs and records a partially applied change so it can be
// reconciled by hand.
func (o *Orchestrator) syncFailure(ctx context.Context, cause error, identityID, email, op string) error {
	err := syncFailure(cause, identityID, op)

	meta := map[string]any{
		"identity_id": identityID,
		"email":       email,
		"operation":   op,
		"cause":       cause.Error(),
	}

	o.logger.Error("identity sync failure",
		"identity_id", identityID,
		"operation", op,
		"details", print.MaybePrettyJSON(meta),
	)

	recordActivity(ctx, o.activity, o.logger, ActivityEvent{
		EventType:  ActivityEventIdentitySyncFailure,
		IdentityID: identityID,
		Email:      email,
		Metadata:   meta,
		OccurredAt: o.now(),
	})

	return err
}
