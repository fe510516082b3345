package onboarding

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Default token lifetimes.
const (
	DefaultSelfRegTokenTTL = 24 * time.Hour
	DefaultInvitedTokenTTL = 24 * time.Hour
	DefaultAppUserTokenTTL = time.Hour
)

// TokenService issues, validates and retires verification tokens.
type TokenService struct {
	repo     RepositoryManager
	gate     CooldownGate
	ttls     map[TokenType]time.Duration
	now      Clock
	logger   Logger
	metrics  *Metrics
	activity ActivitySink
}

// TokenServiceOption customizes a TokenService.
type TokenServiceOption func(*TokenService)

// WithTokenTTL overrides the lifetime of one token type.
func WithTokenTTL(t TokenType, ttl time.Duration) TokenServiceOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.ttls[t] = ttl
		}
	}
}

// WithCooldownGate replaces the store backed cooldown gate.
func WithCooldownGate(gate CooldownGate) TokenServiceOption {
	return func(s *TokenService) {
		if gate != nil {
			s.gate = gate
		}
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(now Clock) TokenServiceOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(s *TokenService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTokenMetrics sets the metrics collectors.
func WithTokenMetrics(m *Metrics) TokenServiceOption {
	return func(s *TokenService) {
		s.metrics = m
	}
}

// WithTokenActivitySink sets the activity sink.
func WithTokenActivitySink(sink ActivitySink) TokenServiceOption {
	return func(s *TokenService) {
		s.activity = normalizeActivitySink(sink)
	}
}

// NewTokenService returns a token service over repo. Unless a gate is
// provided the cooldown is derived from the token store.
func NewTokenService(repo RepositoryManager, opts ...TokenServiceOption) *TokenService {
	s := &TokenService{
		repo: repo,
		ttls: map[TokenType]time.Duration{
			TokenSelfReg: DefaultSelfRegTokenTTL,
			TokenInvited: DefaultInvitedTokenTTL,
			TokenAppUser: DefaultAppUserTokenTTL,
		},
		now:      time.Now,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.gate == nil {
		s.gate = NewStoreCooldownGate(repo.Tokens(), DefaultCooldown, s.now)
	}

	return s
}

// TTL returns the configured lifetime for t.
func (s *TokenService) TTL(t TokenType) time.Duration {
	if ttl, ok := s.ttls[t]; ok {
		return ttl
	}
	return DefaultAppUserTokenTTL
}

// GenerateToken supersedes any token for (email, type) with a fresh one.
func (s *TokenService) GenerateToken(ctx context.Context, email string, tokenType TokenType, groupPath, newValue string) (*VerificationToken, error) {
	return s.GenerateTokenTx(ctx, nil, email, tokenType, groupPath, newValue)
}

// GenerateTokenTx is GenerateToken inside tx. A nil tx issues the token in
// its own transaction.
func (s *TokenService) GenerateTokenTx(ctx context.Context, tx bun.IDB, email string, tokenType TokenType, groupPath, newValue string) (*VerificationToken, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, goerrors.New("email is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	if !tokenType.IsValid() {
		return nil, goerrors.New("unknown token type", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"type": tokenType})
	}

	raw, err := NewRandomToken()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate token")
	}

	now := s.now().UTC()
	record := &VerificationToken{
		ID:         uuid.New(),
		Token:      raw,
		Email:      email,
		Type:       tokenType,
		ExpiryDate: now.Add(s.TTL(tokenType)),
		CreatedAt:  now,
		GroupPath:  optionalString(groupPath),
		NewValue:   optionalString(newValue),
	}

	if tx == nil {
		record, err = s.repo.Tokens().Issue(ctx, record)
	} else {
		record, err = s.repo.Tokens().IssueTx(ctx, tx, record)
	}
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist verification token")
	}

	if marker, ok := s.gate.(CooldownMarker); ok {
		if err := marker.Mark(ctx, email); err != nil {
			s.logger.Warn("failed to record issuance cooldown", "email", email, "error", err)
		}
	}

	s.metrics.tokenIssued(tokenType)
	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:  ActivityEventTokenIssued,
		Email:      email,
		OccurredAt: now,
		Metadata: map[string]any{
			"type":       tokenType,
			"expires_at": record.ExpiryDate,
		},
	})

	return record, nil
}

// CheckRateLimit fails with ErrTooManyRequests when email was issued a token
// inside the cooldown window.
func (s *TokenService) CheckRateLimit(ctx context.Context, email string) error {
	return s.gate.Check(ctx, normalizeEmail(email))
}

// FindAndValidateToken returns the token bound to (token, email) without
// consuming it. Expired rows are deleted on detection.
func (s *TokenService) FindAndValidateToken(ctx context.Context, token, email string) (*VerificationToken, error) {
	email = normalizeEmail(email)
	token = strings.TrimSpace(token)
	if token == "" || email == "" {
		return nil, ErrInvalidToken
	}

	record, err := s.repo.Tokens().FindByTokenAndEmail(ctx, token, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up verification token")
	}

	if record.IsExpired(s.now()) {
		if err := s.repo.Tokens().DeleteByID(ctx, record.ID); err != nil {
			s.logger.Error("failed to delete expired token", "email", email, "error", err)
		}
		return nil, ErrTokenExpired
	}

	return record, nil
}

// HasLiveToken reports whether email holds an unexpired token of tokenType.
func (s *TokenService) HasLiveToken(ctx context.Context, email string, tokenType TokenType) (*VerificationToken, bool, error) {
	record, err := s.repo.Tokens().FindLive(ctx, normalizeEmail(email), tokenType, s.now())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, false, nil
		}
		return nil, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up live token")
	}
	return record, true, nil
}

// RemoveToken deletes a token by id. Missing rows are not an error.
func (s *TokenService) RemoveToken(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Tokens().DeleteByID(ctx, id); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove verification token")
	}
	return nil
}

// ConsumeToken retires a token after its flow completed. It fails with
// ErrInvalidToken when the token is already gone, so of several concurrent
// finalizations of one token only one succeeds.
func (s *TokenService) ConsumeToken(ctx context.Context, id uuid.UUID) error {
	consumed, err := s.repo.Tokens().Consume(ctx, id)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume verification token")
	}
	if !consumed {
		return ErrInvalidToken
	}
	return nil
}

// RemoveTokensByEmail deletes every token for email.
func (s *TokenService) RemoveTokensByEmail(ctx context.Context, email string) error {
	if _, err := s.repo.Tokens().DeleteByEmail(ctx, normalizeEmail(email)); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to remove verification tokens")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
