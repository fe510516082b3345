package activitymap

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-onboarding"
	"go.uber.org/zap"
)

const (
	// MetadataKeyActorType stores the actor type derived from onboarding.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyFromStage stores the source stage of an invitation transition.
	MetadataKeyFromStage = "from_stage"
	// MetadataKeyToStage stores the target stage of an invitation transition.
	MetadataKeyToStage = "to_stage"
	// MetadataKeyEmail stores the email the event was about, when known.
	MetadataKeyEmail = "email"
)

const (
	defaultChannel    = "onboarding"
	defaultObjectType = "identity"
	defaultActorID    = "system"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Option customizes normalization behavior.
type Option func(*normalizeOptions)

type normalizeOptions struct {
	channel          string
	objectType       string
	actorFallback    string
	objectIDResolver func(onboarding.ActivityEvent) string
	now              func() time.Time
}

// Normalize converts an onboarding.ActivityEvent into a generic record.
func Normalize(event onboarding.ActivityEvent, opts ...Option) Normalized {
	options := defaultNormalizeOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	actorID := firstNonEmpty(
		strings.TrimSpace(event.Actor.ID),
		strings.TrimSpace(event.IdentityID),
		options.actorFallback,
	)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   resolveObjectID(event, options.objectIDResolver),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithDefaultChannel sets the channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithDefaultObjectType sets the object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithObjectIDResolver overrides object id extraction. The identity id is
// used by default, falling back to the email for pre-identity events.
func WithObjectIDResolver(resolver func(onboarding.ActivityEvent) string) Option {
	return func(opts *normalizeOptions) {
		opts.objectIDResolver = resolver
	}
}

// WithActorFallback sets the actor id used when neither the actor nor the
// identity is known.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the clock used to stamp events without an OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

// NewZapSink returns an ActivitySink that writes every event as a normalized
// structured log entry.
func NewZapSink(logger *zap.Logger, opts ...Option) onboarding.ActivitySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return onboarding.ActivitySinkFunc(func(_ context.Context, event onboarding.ActivityEvent) error {
		record := Normalize(event, opts...)
		logger.Info("activity",
			zap.String("actor_id", record.ActorID),
			zap.String("verb", record.Verb),
			zap.String("object_type", record.ObjectType),
			zap.String("object_id", record.ObjectID),
			zap.String("channel", record.Channel),
			zap.Any("metadata", record.Metadata),
			zap.Time("occurred_at", record.OccurredAt),
		)
		return nil
	})
}

func defaultNormalizeOptions() normalizeOptions {
	return normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
}

func resolveObjectID(event onboarding.ActivityEvent, resolver func(onboarding.ActivityEvent) string) string {
	if resolver != nil {
		return strings.TrimSpace(resolver(event))
	}
	return firstNonEmpty(strings.TrimSpace(event.IdentityID), strings.TrimSpace(event.Email))
}

func normalizeMetadata(event onboarding.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)
	set := func(key string, value string, overwrite bool) {
		if value == "" {
			return
		}
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[key]; exists && !overwrite {
			return
		}
		metadata[key] = value
	}

	set(MetadataKeyActorType, strings.TrimSpace(event.Actor.Type), false)
	set(MetadataKeyEmail, strings.TrimSpace(event.Email), false)
	set(MetadataKeyFromStage, string(event.FromStage), true)
	set(MetadataKeyToStage, string(event.ToStage), true)

	return metadata
}

func cloneMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
