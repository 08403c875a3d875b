package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-wallet-auth"
)

// MetadataKeyOutcome marks whether the event records a success or a failure
const MetadataKeyOutcome = "outcome"

const (
	defaultChannel    = "auth"
	defaultObjectType = "identity"
	anonymousActorID  = "anonymous"
)

var failureEvents = map[auth.ActivityEventType]bool{
	auth.ActivityEventLoginFailure:        true,
	auth.ActivityEventWalletProofRejected: true,
	auth.ActivityEventMailDispatchFailure: true,
}

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
}

// Normalize converts an auth.ActivityEvent into a Normalized record. Events
// without an identity, such as failed logins, are attributed to the
// fallback actor.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{
		channel:       defaultChannel,
		objectType:    defaultObjectType,
		actorFallback: anonymousActorID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	identityID := strings.TrimSpace(event.IdentityID)

	actorID := identityID
	if actorID == "" {
		actorID = options.actorFallback
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Normalized{
		ActorID:    actorID,
		Verb:       string(event.EventType),
		ObjectType: options.objectType,
		ObjectID:   identityID,
		Channel:    options.channel,
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt,
	}
}

// WithChannel sets the channel for normalized records.
func WithChannel(channel string) Option {
	return func(opts *normalizeOptions) {
		opts.channel = strings.TrimSpace(channel)
	}
}

// WithObjectType sets the object type for normalized records.
func WithObjectType(objectType string) Option {
	return func(opts *normalizeOptions) {
		opts.objectType = strings.TrimSpace(objectType)
	}
}

// WithActorFallback sets the actor id used when the event has no identity.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			opts.actorFallback = actorID
		}
	}
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := make(map[string]any, len(event.Metadata)+1)
	for key, value := range event.Metadata {
		metadata[key] = value
	}

	outcome := "success"
	if failureEvents[event.EventType] {
		outcome = "failure"
	}
	metadata[MetadataKeyOutcome] = outcome

	return metadata
}

// Sink adapts a function receiving Normalized records to auth.ActivitySink
func Sink(emit func(Normalized) error, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(_ context.Context, event auth.ActivityEvent) error {
		return emit(Normalize(event, opts...))
	})
}
