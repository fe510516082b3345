package activitymap_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-onboarding"
	"github.com/goliatone/go-onboarding/activitymap"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := onboarding.ActivityEvent{
		EventType:  onboarding.ActivityEventStageChanged,
		Actor:      onboarding.ActorRef{ID: "admin-42", Type: "admin"},
		IdentityID: "kc-100",
		Email:      "ada@example.com",
		FromStage:  onboarding.StageAwaitingVerification,
		ToStage:    onboarding.StageAwaitingProfileCompletion,
		Metadata: map[string]any{
			"ticket": "ONB-204",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "admin-42" {
		t.Fatalf("expected actor_id admin-42, got %q", out.ActorID)
	}
	if out.Verb != string(onboarding.ActivityEventStageChanged) {
		t.Fatalf("expected verb %q, got %q", onboarding.ActivityEventStageChanged, out.Verb)
	}
	if out.ObjectType != "identity" {
		t.Fatalf("expected object_type identity, got %q", out.ObjectType)
	}
	if out.ObjectID != "kc-100" {
		t.Fatalf("expected object_id kc-100, got %q", out.ObjectID)
	}
	if out.Channel != "onboarding" {
		t.Fatalf("expected channel onboarding, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %v, got %v", ts, out.OccurredAt)
	}

	if out.Metadata["ticket"] != "ONB-204" {
		t.Fatalf("expected metadata ticket ONB-204, got %#v", out.Metadata["ticket"])
	}
	if out.Metadata[activitymap.MetadataKeyActorType] != "admin" {
		t.Fatalf("expected actor_type admin, got %#v", out.Metadata[activitymap.MetadataKeyActorType])
	}
	if out.Metadata[activitymap.MetadataKeyEmail] != "ada@example.com" {
		t.Fatalf("expected email metadata, got %#v", out.Metadata[activitymap.MetadataKeyEmail])
	}
	if out.Metadata[activitymap.MetadataKeyFromStage] != string(onboarding.StageAwaitingVerification) {
		t.Fatalf("unexpected from_stage %#v", out.Metadata[activitymap.MetadataKeyFromStage])
	}
	if out.Metadata[activitymap.MetadataKeyToStage] != string(onboarding.StageAwaitingProfileCompletion) {
		t.Fatalf("unexpected to_stage %#v", out.Metadata[activitymap.MetadataKeyToStage])
	}

	if len(event.Metadata) != 1 {
		t.Fatalf("expected source metadata to remain unchanged, got %+v", event.Metadata)
	}
}

func TestNormalizeOptionOverrides(t *testing.T) {
	t.Parallel()

	stamp := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	event := onboarding.ActivityEvent{
		EventType: onboarding.ActivityEventTokenIssued,
		Actor:     onboarding.ActorRef{Type: "user"},
		Email:     "ada@example.com",
		Metadata: map[string]any{
			"token_type":                     "SELF_REG",
			activitymap.MetadataKeyActorType: "existing",
		},
	}

	out := activitymap.Normalize(
		event,
		activitymap.WithDefaultChannel("security"),
		activitymap.WithDefaultObjectType("token"),
		activitymap.WithClock(func() time.Time { return stamp }),
		activitymap.WithObjectIDResolver(func(e onboarding.ActivityEvent) string {
			if v, ok := e.Metadata["token_type"].(string); ok {
				return v
			}
			return ""
		}),
	)

	if out.Channel != "security" {
		t.Fatalf("expected channel security, got %q", out.Channel)
	}
	if out.ObjectType != "token" {
		t.Fatalf("expected object_type token, got %q", out.ObjectType)
	}
	if out.ObjectID != "SELF_REG" {
		t.Fatalf("expected object_id SELF_REG, got %q", out.ObjectID)
	}
	if out.Metadata[activitymap.MetadataKeyActorType] != "existing" {
		t.Fatalf("expected existing actor_type preserved, got %#v", out.Metadata[activitymap.MetadataKeyActorType])
	}
	if !out.OccurredAt.Equal(stamp) {
		t.Fatalf("expected occurred_at from clock, got %v", out.OccurredAt)
	}
}

func TestNormalizeFallbackChains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		event        onboarding.ActivityEvent
		opts         []activitymap.Option
		expectActor  string
		expectObject string
	}{
		{
			name:         "uses actor id when present",
			event:        onboarding.ActivityEvent{Actor: onboarding.ActorRef{ID: "actor-1"}, IdentityID: "kc-1"},
			expectActor:  "actor-1",
			expectObject: "kc-1",
		},
		{
			name:         "uses identity when actor missing",
			event:        onboarding.ActivityEvent{IdentityID: "kc-2"},
			expectActor:  "kc-2",
			expectObject: "kc-2",
		},
		{
			name:         "uses email as object before an identity exists",
			event:        onboarding.ActivityEvent{Email: "ada@example.com"},
			expectActor:  "system",
			expectObject: "ada@example.com",
		},
		{
			name:         "uses configured fallback",
			event:        onboarding.ActivityEvent{},
			opts:         []activitymap.Option{activitymap.WithActorFallback("sweeper")},
			expectActor:  "sweeper",
			expectObject: "",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			out := activitymap.Normalize(tc.event, tc.opts...)
			if out.ActorID != tc.expectActor {
				t.Fatalf("expected actor_id %q, got %q", tc.expectActor, out.ActorID)
			}
			if out.ObjectID != tc.expectObject {
				t.Fatalf("expected object_id %q, got %q", tc.expectObject, out.ObjectID)
			}
		})
	}
}

func TestZapSinkWritesNormalizedEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := activitymap.NewZapSink(zap.New(core))

	err := sink.Record(context.Background(), onboarding.ActivityEvent{
		EventType:  onboarding.ActivityEventInvitationCompleted,
		IdentityID: "kc-7",
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["verb"] != string(onboarding.ActivityEventInvitationCompleted) {
		t.Fatalf("unexpected verb %#v", fields["verb"])
	}
	if fields["object_id"] != "kc-7" {
		t.Fatalf("unexpected object_id %#v", fields["object_id"])
	}

	if err := activitymap.NewZapSink(nil).Record(context.Background(), onboarding.ActivityEvent{}); err != nil {
		t.Fatalf("nil logger sink should not fail, got %v", err)
	}
}
