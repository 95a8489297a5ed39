package peer

import (
	"context"

	"github.com/danmuck/peerlink/internal/protocol/session"
)

// Respond adapts fn into a handler that always answers on completion.
func Respond(completion string, fn func(ctx context.Context, ev session.Event) (any, error)) HandlerFunc {
	return func(ctx context.Context, req Request) (Reply, error) {
		v, err := fn(ctx, req.Event)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Completion: completion, Value: v}, nil
	}
}

// Echo answers on completion with the trigger's first argument, or nil.
func Echo(completion string) HandlerFunc {
	return Respond(completion, func(_ context.Context, ev session.Event) (any, error) {
		if len(ev.Args) == 0 {
			return nil, nil
		}
		return ev.Args[0], nil
	})
}

// Notify runs fn and never answers; used for fire-and-forget triggers.
func Notify(fn func(ctx context.Context, ev session.Event)) HandlerFunc {
	return func(ctx context.Context, req Request) (Reply, error) {
		fn(ctx, req.Event)
		return Reply{}, nil
	}
}
