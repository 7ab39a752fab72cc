package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-service"
)

const (
	// MetadataKeyActorType stores the actor type derived from auth.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyDomain stores the verb prefix, "auth" or "user".
	MetadataKeyDomain = "domain"
)

const (
	defaultChannel    = "auth-service"
	defaultObjectType = "user"
	defaultActorID    = auth.ActorTypeSystem
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
	channel       string
	objectType    string
	actorFallback string
	now           func() time.Time
}

// Normalize converts an auth.ActivityEvent into a Normalized record.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := buildOptions(opts)

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now()
	}

	return Normalized{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.UserID),
			options.actorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

// Emitter receives normalized records
type Emitter func(ctx context.Context, record Normalized) error

// NewSink adapts an Emitter into an auth.ActivitySink
func NewSink(emit Emitter, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		if emit == nil {
			return nil
		}
		return emit(ctx, Normalize(event, opts...))
	})
}

// WithDefaultChannel sets the channel for normalized records.
func WithDefaultChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		if channel = strings.TrimSpace(channel); channel != "" {
			opts.channel = channel
		}
	}
}

// WithDefaultObjectType sets the object type for normalized records.
func WithDefaultObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		if objectType = strings.TrimSpace(objectType); objectType != "" {
			opts.objectType = objectType
		}
	}
}

// WithActorFallback sets the actor id used when actor and user ids are empty.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			opts.actorFallback = actorID
		}
	}
}

// WithClock sets the time source for events without OccurredAt
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if now != nil {
			opts.now = now
		}
	}
}

func buildOptions(opts []Option) normalizeOptions {
	options := normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: defaultActorID,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := make(map[string]any, len(event.Metadata)+2)
	for key, value := range event.Metadata {
		metadata[key] = value
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if _, exists := metadata[MetadataKeyActorType]; !exists {
			metadata[MetadataKeyActorType] = actorType
		}
	}

	if domain, _, ok := strings.Cut(string(event.EventType), "."); ok {
		metadata[MetadataKeyDomain] = domain
	}

	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

// LoggingSink writes normalized records through logger
func LoggingSink(logger auth.Logger, opts ...Option) auth.ActivitySink {
	return NewSink(func(_ context.Context, record Normalized) error {
		if logger == nil {
			return nil
		}
		logger.Info("activity verb=%s actor=%s object=%s/%s channel=%s metadata=%v",
			record.Verb, record.ActorID, record.ObjectType, record.ObjectID, record.Channel, record.Metadata)
		return nil
	}, opts...)
}
