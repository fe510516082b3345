package onboarding_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/database"
	"github.com/goliatone/go-onboarding/provider/memory"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

const testFrontendURL = "https://forum.example.com"

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := database.InMemory(context.Background(), t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type notification struct {
	Workflow       string
	RecipientID    string
	RecipientEmail string
	Payload        map[string]any
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []notification
	fail bool
}

func (d *recordingDispatcher) Trigger(_ context.Context, workflow, recipientID, recipientEmail string, payload map[string]any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, notification{
		Workflow:       workflow,
		RecipientID:    recipientID,
		RecipientEmail: recipientEmail,
		Payload:        payload,
	})
	return !d.fail
}

func (d *recordingDispatcher) All() []notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notification(nil), d.sent...)
}

func (d *recordingDispatcher) Last(t *testing.T) notification {
	t.Helper()
	all := d.All()
	require.NotEmpty(t, all, "expected a notification")
	return all[len(all)-1]
}

type recordingSink struct {
	mu     sync.Mutex
	events []onboarding.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event onboarding.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []onboarding.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]onboarding.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *recordingSink) Find(eventType onboarding.ActivityEventType) (onboarding.ActivityEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].EventType == eventType {
			return s.events[i], true
		}
	}
	return onboarding.ActivityEvent{}, false
}

type harness struct {
	db         *bun.DB
	repo       onboarding.RepositoryManager
	directory  *memory.Directory
	clock      *fakeClock
	dispatcher *recordingDispatcher
	sink       *recordingSink
	sealer     onboarding.PasswordSealer
	orch       *onboarding.Orchestrator
}

func newHarness(t *testing.T, opts ...onboarding.OrchestratorOption) *harness {
	t.Helper()

	db := newTestDB(t)
	sealer, err := onboarding.NewPasswordSealer("unit-test-password-secret-0123456789")
	require.NoError(t, err)

	h := &harness{
		db:         db,
		repo:       onboarding.NewRepositoryManager(db),
		directory:  memory.NewDirectory(),
		clock:      newFakeClock(),
		dispatcher: &recordingDispatcher{},
		sink:       &recordingSink{},
		sealer:     sealer,
	}

	base := []onboarding.OrchestratorOption{
		onboarding.WithFrontendURL(testFrontendURL, "/verify"),
		onboarding.WithPasswordSealer(sealer),
		onboarding.WithDispatcher(h.dispatcher),
		onboarding.WithOrchestratorClock(h.clock.Now),
		onboarding.WithOrchestratorActivitySink(h.sink),
	}

	h.orch = onboarding.NewOrchestrator(h.repo, h.directory, append(base, opts...)...)
	return h
}

// afterCooldown moves the clock past the issuance cooldown.
func (h *harness) afterCooldown() {
	h.clock.Advance(onboarding.DefaultCooldown + time.Second)
}

// tokenFor returns the live token of tokenType issued to email.
func (h *harness) tokenFor(t *testing.T, email string, tokenType onboarding.TokenType) *onboarding.VerificationToken {
	t.Helper()
	record, live, err := h.orch.Tokens().HasLiveToken(context.Background(), email, tokenType)
	require.NoError(t, err)
	require.True(t, live, "expected a live %s token for %s", tokenType, email)
	return record
}

func validRegistration() onboarding.RegistrationInput {
	return onboarding.RegistrationInput{
		Username:        "ada",
		Email:           "Ada@Example.com",
		Password:        "correct-horse-battery",
		ConfirmPassword: "correct-horse-battery",
		FirstName:       "Ada",
		LastName:        "Lovelace",
	}
}

func validInvite() onboarding.InviteInput {
	return onboarding.InviteInput{
		Username:          "grace",
		Email:             "grace@example.com",
		FirstName:         "Grace",
		LastName:          "Hopper",
		Groups:            []string{"/staff", "/members/new"},
		InvitedBy:         "admin-1",
		TemporaryPassword: "temporary-pass-1",
	}
}
