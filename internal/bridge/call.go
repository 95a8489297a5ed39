package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/peerlink/internal/observability"
	"github.com/danmuck/peerlink/internal/protocol/session"
)

var (
	ErrCallContended = errors.New("bridge: call retries exhausted waiting on completion event")
	ErrDecode        = errors.New("bridge: decode completion payload")
)

// Call runs CallContext bounded by the bridge's CallTimeout.
func Call[T any](b *Bridge, trigger, completion string, args ...any) (T, error) {
	ctx := context.Background()
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}
	return CallContext[T](ctx, b, trigger, completion, args...)
}

// CallContext emits trigger with args and returns the first argument of the
// next completion event, decoded as T. Identical concurrent calls share one
// emit and one result. Calls to the same completion with different args run
// one after another.
func CallContext[T any](ctx context.Context, b *Bridge, trigger, completion string, args ...any) (T, error) {
	var zero T
	key, err := CallKey(completion, args...)
	if err != nil {
		return zero, err
	}
	tag := typeTag[T]()
	start := time.Now()

	for round := 0; ; round++ {
		if b.closed.Load() {
			return zero, ErrClosed
		}
		if limit := b.cfg.MaxCallRetries; limit > 0 && round > limit {
			observability.RecordCall(completion, "contended", "error", time.Since(start))
			return zero, fmt.Errorf("%w: completion=%s rounds=%d", ErrCallContended, completion, round)
		}

		out := b.registry.TryGetOrAdd(tag, key, completion)
		switch {
		case out.WaitFirst != nil:
			select {
			case <-out.WaitFirst.Done():
				if _, werr := out.WaitFirst.Result(); werr != nil && b.cfg.Debug {
					b.log.Debugf("bridge.Call completion=%s preceding call ended: %v", completion, werr)
				}
			case <-ctx.Done():
				observability.RecordCall(completion, "queued", "cancelled", time.Since(start))
				return zero, ctx.Err()
			}
			continue

		case out.Existing != nil:
			v, err := b.await(ctx, tag, key, completion, out.Existing)
			if errors.Is(err, ErrAbandoned) && ctx.Err() == nil {
				// the sharers we joined all left; start over as owner
				continue
			}
			observability.RecordCall(completion, "joined", outcomeOf(err), time.Since(start))
			return as[T](v, err)

		default:
			w := out.Waiter
			handler := func(ev session.Event) {
				var v T
				if len(ev.Args) > 0 {
					if err := ev.Decode(0, &v); err != nil {
						w.Fail(fmt.Errorf("%w %q: %w", ErrDecode, completion, err))
						b.registry.DoneWith(tag, key, completion, w)
						return
					}
				}
				w.Resolve(v)
				b.registry.DoneWith(tag, key, completion, w)
			}
			if err := b.armAndEmit(ctx, completion, handler, trigger, args); err != nil {
				cause := err
				if ctx.Err() != nil {
					// joiners with live contexts retry and one of them arms instead
					cause = fmt.Errorf("%w: %w", ErrAbandoned, err)
				}
				w.Fail(cause)
				b.registry.DoneWith(tag, key, completion, w)
				observability.RecordCall(completion, "owner", outcomeOf(err), time.Since(start))
				return zero, err
			}
			if b.cfg.Debug {
				b.log.Debugf("bridge.Call trigger=%s completion=%s key=%s armed", trigger, completion, key)
			}
			v, err := b.await(ctx, tag, key, completion, w)
			observability.RecordCall(completion, "owner", outcomeOf(err), time.Since(start))
			return as[T](v, err)
		}
	}
}

// await holds the caller's attachment to w until it settles or ctx ends.
// The last caller to leave abandons w and frees its key for queued callers.
func (b *Bridge) await(ctx context.Context, tag, key, completion string, w *Waiter) (any, error) {
	select {
	case <-w.Done():
		w.detach(nil)
		return w.Result()
	case <-ctx.Done():
		if w.detach(ctx.Err()) {
			b.registry.DoneWith(tag, key, completion, w)
		}
		return nil, ctx.Err()
	}
}

func as[T any](v any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("bridge: completion value %T is not %s", v, typeTag[T]())
	}
	return typed, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
