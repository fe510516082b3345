// Package redis provides a CooldownGate shared by every process that talks
// to the same redis server.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-onboarding"
	redis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "onboarding:cooldown:"

// Gate claims a per email slot with SET NX PX. The first caller inside the
// cooldown window wins; every other caller gets onboarding.ErrTooManyRequests
// until the key expires. A claimed slot is not released when the issuance
// that follows it fails.
//
// Every persisted token refreshes the slot through Mark, including tokens
// issued without a prior Check. With WithHistory the token store is
// consulted first, so issuances made before the key existed still count.
type Gate struct {
	client   redis.Cmdable
	cooldown time.Duration
	prefix   string
	history  onboarding.CooldownGate
	now      func() time.Time
}

var (
	_ onboarding.CooldownGate   = (*Gate)(nil)
	_ onboarding.CooldownMarker = (*Gate)(nil)
)

// Option customizes a Gate.
type Option func(*Gate)

// WithKeyPrefix namespaces the cooldown keys.
func WithKeyPrefix(prefix string) Option {
	return func(g *Gate) {
		if prefix != "" {
			g.prefix = prefix
		}
	}
}

// WithHistory checks history, usually an onboarding.StoreCooldownGate,
// before claiming the slot.
func WithHistory(history onboarding.CooldownGate) Option {
	return func(g *Gate) {
		g.history = history
	}
}

// NewGate returns a gate over client. A non positive cooldown uses
// onboarding.DefaultCooldown.
func NewGate(client redis.Cmdable, cooldown time.Duration, opts ...Option) (*Gate, error) {
	if client == nil {
		return nil, errors.New("redis gate: client not configured")
	}

	if cooldown <= 0 {
		cooldown = onboarding.DefaultCooldown
	}

	g := &Gate{
		client:   client,
		cooldown: cooldown,
		prefix:   defaultKeyPrefix,
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g, nil
}

// NewClient builds a client from an address, password and database.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(addr),
		Password: strings.TrimSpace(password),
		DB:       db,
	})
}

// Check implements onboarding.CooldownGate.
func (g *Gate) Check(ctx context.Context, email string) error {
	if g.history != nil {
		if err := g.history.Check(ctx, email); err != nil {
			return err
		}
	}

	ok, err := g.client.SetNX(ctx, g.key(email), g.stamp(), g.cooldown).Result()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to claim issuance cooldown")
	}

	if !ok {
		return onboarding.ErrTooManyRequests
	}

	return nil
}

// Mark implements onboarding.CooldownMarker. It restarts the cooldown
// window for email.
func (g *Gate) Mark(ctx context.Context, email string) error {
	if err := g.client.Set(ctx, g.key(email), g.stamp(), g.cooldown).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record issuance cooldown")
	}
	return nil
}

// Reset drops the cooldown for email.
func (g *Gate) Reset(ctx context.Context, email string) error {
	return g.client.Del(ctx, g.key(email)).Err()
}

func (g *Gate) stamp() string {
	return g.now().UTC().Format(time.RFC3339Nano)
}

func (g *Gate) key(email string) string {
	return g.prefix + strings.ToLower(strings.TrimSpace(email))
}
