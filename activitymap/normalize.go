package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-budget-auth"
)

const (
	// MetadataKeyActorType stores the actor type derived from auth.ActorRef.Type.
	MetadataKeyActorType = "actor_type"
	// MetadataKeyPlanID names the plan an approval event is about.
	MetadataKeyPlanID = "plan_id"
	// MetadataKeyPath names the logical path of a route denial.
	MetadataKeyPath = "path"
)

const (
	ChannelAuth     = "auth"
	ChannelApproval = "approval"

	ObjectSession = "session"
	ObjectRoute   = "route"
	ObjectPlan    = "plan"

	defaultActorID = "anonymous"
	approvalPrefix = "approval."
)

// Normalized is a transport agnostic activity shape for audit consumers.
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
	actorFallback string
	now           func() time.Time
}

// WithActorFallback sets the actor id used when the event carries none.
func WithActorFallback(actorID string) Option {
	return func(opts *normalizeOptions) {
		if opts == nil {
			return
		}
		opts.actorFallback = strings.TrimSpace(actorID)
	}
}

// WithClock sets the time used for events without OccurredAt.
func WithClock(now func() time.Time) Option {
	return func(opts *normalizeOptions) {
		if opts == nil || now == nil {
			return
		}
		opts.now = now
	}
}

// Normalize converts an auth.ActivityEvent into the normalized shape.
// Approval events are about a plan, route denials about a path and the
// rest about the user's session.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	options := normalizeOptions{actorFallback: defaultActorID, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = options.now()
	}

	out := Normalized{
		ActorID: firstNonEmpty(
			strings.TrimSpace(event.Actor.ID),
			strings.TrimSpace(event.UserID),
			options.actorFallback,
		),
		Verb:       string(event.EventType),
		Metadata:   normalizeMetadata(event),
		OccurredAt: occurredAt.UTC(),
	}

	switch {
	case strings.HasPrefix(string(event.EventType), approvalPrefix):
		out.Channel = ChannelApproval
		out.ObjectType = ObjectPlan
		out.ObjectID = stringMeta(event.Metadata, MetadataKeyPlanID)
	case event.EventType == auth.ActivityEventRouteDenied:
		out.Channel = ChannelAuth
		out.ObjectType = ObjectRoute
		out.ObjectID = stringMeta(event.Metadata, MetadataKeyPath)
	default:
		out.Channel = ChannelAuth
		out.ObjectType = ObjectSession
		out.ObjectID = strings.TrimSpace(event.UserID)
	}

	return out
}

// Sink adapts a consumer of normalized records to auth.ActivitySink.
func Sink(consume func(context.Context, Normalized) error, opts ...Option) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		if consume == nil {
			return nil
		}
		return consume(ctx, Normalize(event, opts...))
	})
}

// LoggingSink writes one log line per normalized record.
func LoggingSink(logger auth.Logger, opts ...Option) auth.ActivitySink {
	logger = auth.ResolveLogger("activity", nil, logger)
	return Sink(func(_ context.Context, n Normalized) error {
		logger.Info("activity",
			"verb", n.Verb,
			"channel", n.Channel,
			"actor_id", n.ActorID,
			"object_type", n.ObjectType,
			"object_id", n.ObjectID,
			"occurred_at", n.OccurredAt,
			"metadata", n.Metadata,
		)
		return nil
	}, opts...)
}

func normalizeMetadata(event auth.ActivityEvent) map[string]any {
	metadata := cloneMap(event.Metadata)

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		if _, exists := metadata[MetadataKeyActorType]; !exists {
			metadata[MetadataKeyActorType] = actorType
		}
	}

	return metadata
}

func stringMeta(metadata map[string]any, key string) string {
	value, _ := metadata[key].(string)
	return strings.TrimSpace(value)
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
