package onboarding_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-onboarding"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_RunOnce(t *testing.T) {
	ctx := context.Background()
	repo := onboarding.NewRepositoryManager(newTestDB(t))

	_, err := repo.Tokens().Issue(ctx, newToken("expired@example.com", onboarding.TokenSelfReg, repoNow.Add(-2*time.Hour), time.Hour))
	require.NoError(t, err)
	_, err = repo.Tokens().Issue(ctx, newToken("live@example.com", onboarding.TokenSelfReg, repoNow, time.Hour))
	require.NoError(t, err)

	_, err = repo.Otps().Replace(ctx, &onboarding.OtpCredential{
		Email: "expired@example.com", CodeHash: "x", Purpose: onboarding.OtpLogin,
		CreatedAt: repoNow.Add(-time.Hour), ExpiryDate: repoNow.Add(-50 * time.Minute),
	})
	require.NoError(t, err)

	staged := map[string]time.Time{
		"expired@example.com": repoNow.Add(-2 * time.Hour),
		"live@example.com":    repoNow,
		"fresh@example.com":   repoNow.Add(-time.Minute),
	}
	for email, at := range staged {
		_, err = repo.PendingUsers().Stage(ctx, &onboarding.PendingUser{
			Username: "u", Email: email, EncryptedPassword: "sealed", CreatedAt: at,
		})
		require.NoError(t, err)
	}

	reg := prometheus.NewRegistry()
	metrics := onboarding.NewMetrics(reg)

	sweeper := onboarding.NewSweeper(repo,
		onboarding.WithSweeperClock(func() time.Time { return repoNow }),
		onboarding.WithSweeperMetrics(metrics),
		onboarding.WithSweepTimeout(5*time.Second),
	)

	report, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, onboarding.SweepReport{ExpiredTokens: 1, ExpiredOtps: 1, OrphanedPending: 1}, report)

	_, err = repo.PendingUsers().GetByEmail(ctx, "live@example.com")
	assert.NoError(t, err)
	// no token yet, but still inside the grace period
	_, err = repo.PendingUsers().GetByEmail(ctx, "fresh@example.com")
	assert.NoError(t, err)

	expected := `
# HELP onboarding_sweep_deleted_total Rows removed by the cleanup sweeper, by kind.
# TYPE onboarding_sweep_deleted_total counter
onboarding_sweep_deleted_total{kind="expired_otps"} 1
onboarding_sweep_deleted_total{kind="expired_tokens"} 1
onboarding_sweep_deleted_total{kind="orphaned_pending_users"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "onboarding_sweep_deleted_total"))

	report, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, onboarding.SweepReport{}, report)
}

func TestSweeper_RunForeverStopsOnCancel(t *testing.T) {
	repo := onboarding.NewRepositoryManager(newTestDB(t))
	sweeper := onboarding.NewSweeper(repo, onboarding.WithSweepInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.RunForever(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
}

func TestSweeper_SparesRegistrationInFlight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.SubmitRegistration(ctx, validRegistration())
	require.NoError(t, err)
	token := h.tokenFor(t, "ada@example.com", onboarding.TokenSelfReg)

	// a row staged right now, before any token exists for it
	_, err = h.repo.PendingUsers().Stage(ctx, &onboarding.PendingUser{
		Username: "linus", Email: "linus@example.com", EncryptedPassword: "sealed", CreatedAt: h.clock.Now(),
	})
	require.NoError(t, err)

	sweeper := onboarding.NewSweeper(h.repo, onboarding.WithSweeperClock(h.clock.Now))
	report, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.OrphanedPending)

	_, err = h.repo.PendingUsers().GetByEmail(ctx, "linus@example.com")
	require.NoError(t, err)

	result, err := h.orch.ProcessVerification(ctx, token.Token, "ada@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, result.UserID)

	h.clock.Advance(onboarding.DefaultPendingGrace + time.Minute)
	report, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.OrphanedPending)
}
