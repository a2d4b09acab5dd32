package internal

import (
	"context"
	"fmt"
	"time"
)

type ctxKey string

const ContextActorKey ctxKey = "actor"

const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
	RoleSystem  = "system"
)

// Actor identifies who triggered a state change. System actors carry a Name and no UserID.
type Actor struct {
	UserID int64
	Role   string
	Name   string
}

func (a Actor) String() string {
	if a.Name != "" {
		return fmt.Sprintf("%s:%s", a.Role, a.Name)
	}
	return fmt.Sprintf("%s:%d", a.Role, a.UserID)
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func SystemActor(name string) Actor {
	return Actor{Role: RoleSystem, Name: name}
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(ContextActorKey).(Actor)
	return actor, ok
}

func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ContextActorKey, actor)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
