package core

import "context"

type contextKey string

const ctxKeyActor contextKey = "mutation_actor"

// Actor identifies who triggered a mutation. It ends up in the store's
// mutation log lines.
type Actor struct {
	IPAddress string
	UserAgent string
	Source    string // "http" or "cli"
}

// ContextWithActor attaches the actor to ctx.
func ContextWithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, a)
}

// ActorFromContext extracts the actor, falling back to an empty Actor.
func ActorFromContext(ctx context.Context) Actor {
	if a, ok := ctx.Value(ctxKeyActor).(Actor); ok {
		return a
	}
	return Actor{}
}
