package onboarding

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

const (
	DefaultOtpTTL      = 10 * time.Minute
	DefaultOtpCooldown = 60 * time.Second
)

// OtpService issues and verifies hashed one-time codes.
type OtpService struct {
	repo     RepositoryManager
	ttl      time.Duration
	cooldown time.Duration
	attempts *attemptLimiter
	now      Clock
	logger   Logger
	metrics  *Metrics
}

// OtpServiceOption customizes an OtpService.
type OtpServiceOption func(*OtpService)

// WithOtpTTL sets how long a code stays valid.
func WithOtpTTL(ttl time.Duration) OtpServiceOption {
	return func(s *OtpService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithOtpCooldown sets the minimum age of a live code before it can be
// replaced.
func WithOtpCooldown(cooldown time.Duration) OtpServiceOption {
	return func(s *OtpService) {
		if cooldown > 0 {
			s.cooldown = cooldown
		}
	}
}

// WithOtpAttemptLimiter throttles verification attempts per (email,
// purpose). Attempts above the limit fail with ErrTooManyRequests and do
// not touch the stored code.
func WithOtpAttemptLimiter(perMinute, burst int) OtpServiceOption {
	return func(s *OtpService) {
		s.attempts = newAttemptLimiter(perMinute, burst, func() time.Time { return s.now() })
	}
}

// WithOtpClock injects a custom clock (useful for tests).
func WithOtpClock(now Clock) OtpServiceOption {
	return func(s *OtpService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOtpLogger sets the logger.
func WithOtpLogger(logger Logger) OtpServiceOption {
	return func(s *OtpService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOtpMetrics sets the metrics collectors.
func WithOtpMetrics(m *Metrics) OtpServiceOption {
	return func(s *OtpService) {
		s.metrics = m
	}
}

// NewOtpService returns an OTP service over repo.
func NewOtpService(repo RepositoryManager, opts ...OtpServiceOption) *OtpService {
	s := &OtpService{
		repo:     repo,
		ttl:      DefaultOtpTTL,
		cooldown: DefaultOtpCooldown,
		now:      time.Now,
		logger:   defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Run drives background maintenance of the attempt limiter until ctx is
// done. It returns immediately when no limiter is configured.
func (s *OtpService) Run(ctx context.Context) {
	if s.attempts == nil {
		return
	}
	s.attempts.run(ctx, time.Minute)
}

// GenerateAndSaveOtp stores the hash of a new code and returns the raw code
// for out of band delivery.
func (s *OtpService) GenerateAndSaveOtp(ctx context.Context, email string, purpose OtpPurpose) (string, error) {
	code, err := s.generate(ctx, normalizeEmail(email), purpose)
	s.metrics.otpOp(purpose, "generate", outcomeOf(err))
	return code, err
}

func (s *OtpService) generate(ctx context.Context, email string, purpose OtpPurpose) (string, error) {
	if email == "" {
		return "", goerrors.New("email is required", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	if !purpose.IsValid() {
		return "", goerrors.New("unknown otp purpose", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"purpose": purpose})
	}

	now := s.now().UTC()

	current, err := s.repo.Otps().FindLatest(ctx, email, purpose)
	if err != nil && !repository.IsRecordNotFound(err) {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up one-time code")
	}

	if current != nil && !current.IsExpired(now) && IsWithinThresholdPeriod(now, current.CreatedAt, s.cooldown) {
		return "", ErrTooManyRequests
	}

	code, err := NewOtpCode()
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate one-time code")
	}

	hash, err := HashSecret(code)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash one-time code")
	}

	_, err = s.repo.Otps().Replace(ctx, &OtpCredential{
		ID:         uuid.New(),
		Email:      email,
		CodeHash:   hash,
		Purpose:    purpose,
		ExpiryDate: now.Add(s.ttl),
		CreatedAt:  now,
	})
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist one-time code")
	}

	return code, nil
}

// VerifyOtp consumes the code for (email, purpose). A mismatch keeps the
// stored code so the user can retry until it expires.
func (s *OtpService) VerifyOtp(ctx context.Context, email, code string, purpose OtpPurpose) error {
	err := s.verify(ctx, normalizeEmail(email), code, purpose)
	s.metrics.otpOp(purpose, "verify", outcomeOf(err))
	return err
}

func (s *OtpService) verify(ctx context.Context, email, code string, purpose OtpPurpose) error {
	if s.attempts != nil && !s.attempts.allow(email+"|"+string(purpose)) {
		return ErrTooManyRequests
	}

	current, err := s.repo.Otps().FindLatest(ctx, email, purpose)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrInvalidOtp
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up one-time code")
	}

	if current.IsExpired(s.now()) {
		if err := s.repo.Otps().DeleteByID(ctx, current.ID); err != nil {
			s.logger.Error("failed to delete expired one-time code", "email", email, "error", err)
		}
		return ErrOtpExpired
	}

	ok, err := CompareSecretAndHash(code, current.CodeHash)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compare one-time code")
	}

	if !ok {
		return ErrInvalidOtp
	}

	consumed, err := s.repo.Otps().Consume(ctx, current.ID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to consume one-time code")
	}

	// a concurrent verification already used this code
	if !consumed {
		return ErrInvalidOtp
	}

	return nil
}
