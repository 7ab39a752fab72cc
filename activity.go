package auth

import (
	"context"
	"errors"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventUserRegistered       ActivityEventType = "user.registered"
	ActivityEventEmailVerified        ActivityEventType = "user.email.verified"
	ActivityEventVerificationResent   ActivityEventType = "user.verification.resent"
	ActivityEventRolesChanged         ActivityEventType = "user.roles.changed"
	ActivityEventUserStatusChanged    ActivityEventType = "user.status.changed"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventTokenRefreshed       ActivityEventType = "auth.token.refreshed"
	ActivityEventLogout               ActivityEventType = "auth.logout"
	ActivityEventPasswordResetRequest ActivityEventType = "auth.password.reset.requested"
	ActivityEventPasswordResetSuccess ActivityEventType = "auth.password.reset"
)

// ActivityEventTypes lists every event type emitted by the service
func ActivityEventTypes() []ActivityEventType {
	return []ActivityEventType{
		ActivityEventUserRegistered,
		ActivityEventEmailVerified,
		ActivityEventVerificationResent,
		ActivityEventRolesChanged,
		ActivityEventUserStatusChanged,
		ActivityEventLoginSuccess,
		ActivityEventLoginFailure,
		ActivityEventTokenRefreshed,
		ActivityEventLogout,
		ActivityEventPasswordResetRequest,
		ActivityEventPasswordResetSuccess,
	}
}

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

// SystemActor is used for actions with no authenticated caller
var SystemActor = ActorRef{ID: ActorTypeSystem, Type: ActorTypeSystem}

// UserActor returns an ActorRef for user
func UserActor(user *User) ActorRef {
	if user == nil {
		return SystemActor
	}
	return ActorRef{ID: user.ID.String(), Type: ActorTypeUser}
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// ActivitySinks fans an event out to every sink. All sinks are called
// even if one fails.
type ActivitySinks []ActivitySink

func (s ActivitySinks) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// emitActivity records event and only logs sink failures
func emitActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink error for %s: %v", event.EventType, err)
	}
}
