package onboarding

import (
	"context"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/time/rate"
)

// DefaultCooldown is the minimum time between two issuances for one email.
const DefaultCooldown = 60 * time.Second

// CooldownGate decides whether a new token may be issued to email.
// Implementations return ErrTooManyRequests inside the cooldown window.
type CooldownGate interface {
	Check(ctx context.Context, email string) error
}

// CooldownMarker is implemented by gates that keep their own record of
// issuances. Mark is called after every token is persisted.
type CooldownMarker interface {
	Mark(ctx context.Context, email string) error
}

// CooldownGateFunc adapts a function to CooldownGate.
type CooldownGateFunc func(ctx context.Context, email string) error

// Check implements CooldownGate.
func (f CooldownGateFunc) Check(ctx context.Context, email string) error {
	if f == nil {
		return nil
	}
	return f(ctx, email)
}

// StoreCooldownGate derives the cooldown from the newest token created for
// the email, across all token types. Two concurrent requests can both pass
// the check; use a shared gate (see provider/redis) to close that window.
type StoreCooldownGate struct {
	tokens   VerificationTokens
	cooldown time.Duration
	now      Clock
}

// NewStoreCooldownGate returns a gate backed by the token store.
func NewStoreCooldownGate(tokens VerificationTokens, cooldown time.Duration, now Clock) *StoreCooldownGate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &StoreCooldownGate{
		tokens:   tokens,
		cooldown: cooldown,
		now:      normalizeClock(now),
	}
}

// Check implements CooldownGate.
func (g *StoreCooldownGate) Check(ctx context.Context, email string) error {
	latest, err := g.tokens.LatestCreatedAt(ctx, email)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read latest token issuance")
	}

	if latest == nil {
		return nil
	}

	if IsWithinThresholdPeriod(g.now(), *latest, g.cooldown) {
		return ErrTooManyRequests
	}

	return nil
}

// attemptLimiter throttles OTP verification attempts per key using a token
// bucket. Idle entries are dropped by a cleanup loop.
type attemptLimiter struct {
	mu       sync.Mutex
	limiters map[string]*attemptEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      Clock
}

type attemptEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAttemptLimiter(perMinute, burst int, now Clock) *attemptLimiter {
	if perMinute <= 0 {
		perMinute = 5
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &attemptLimiter{
		limiters: make(map[string]*attemptEntry),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      normalizeClock(now),
	}
}

func (l *attemptLimiter) allow(key string) bool {
	key = strings.ToLower(key)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		entry = &attemptEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *attemptLimiter) cleanup() {
	cutoff := l.now().Add(-l.idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

// run drops idle limiters until ctx is done.
func (l *attemptLimiter) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}
