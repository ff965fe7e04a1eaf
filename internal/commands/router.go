package commands

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc processes one command and returns a result for the caller
type HandlerFunc func(ctx context.Context, cmd Command) (any, error)

// Router dispatches commands by Kind
type Router struct {
	mu       sync.RWMutex
	handlers map[Kind]HandlerFunc
}

// NewRouter creates an empty Router
func NewRouter() *Router {
	return &Router{handlers: make(map[Kind]HandlerFunc)}
}

// Handle registers fn for kind, replacing any earlier registration
func (r *Router) Handle(kind Kind, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Dispatch runs the handler registered for cmd.Kind()
func (r *Router) Dispatch(ctx context.Context, cmd Command) (any, error) {
	if cmd == nil {
		return nil, fmt.Errorf("nil command: %w", ErrUnknownCommand)
	}
	r.mu.RLock()
	fn, ok := r.handlers[cmd.Kind()]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no handler for %s: %w", cmd.Kind(), ErrUnknownCommand)
	}
	return fn(ctx, cmd)
}

// DispatchData parses data and dispatches the resulting command
func (r *Router) DispatchData(ctx context.Context, data string) (any, error) {
	cmd, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return r.Dispatch(ctx, cmd)
}

type actorKey struct{}

// WithActor attaches the caller identity handlers record in the audit log
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Actor returns the identity set by WithActor, or ""
func Actor(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

type endUserKey struct{}

// WithEndUser attaches the end user the actor is acting for
func WithEndUser(ctx context.Context, endUser string) context.Context {
	return context.WithValue(ctx, endUserKey{}, endUser)
}

// EndUser returns the end user set by WithEndUser, or ""
func EndUser(ctx context.Context) string {
	endUser, _ := ctx.Value(endUserKey{}).(string)
	return endUser
}
