package effect

import (
	"github.com/alexanderbartels/marble/event"
)

// Effect is a single pipeline stage: a function from an input event channel
// and an EffectContext to an output event channel. Middleware and routed
// effects share this shape, so middleware chains and effect chains compose
// with the identical combinator.
//
// A stage owns its output channel and must close it when its input channel
// is closed. Stages perform no buffering of their own; backpressure policy
// belongs to the channel the listener allocates.
type Effect func(in <-chan event.Event, ctx *Context) <-chan event.Event

// Combine composes stages in left-to-right declaration order, piping the
// output of stage i as the input of stage i+1. The result is itself a stage
// with the same shape, so combined chains nest uniformly. Combining zero
// stages yields the identity stage.
func Combine(stages ...Effect) Effect {
	return func(in <-chan event.Event, ctx *Context) <-chan event.Event {
		out := in
		for _, stage := range stages {
			out = stage(out, ctx)
		}
		return out
	}
}

// Lift builds a stage from a per-event function. A returned error marks the
// event instead of terminating the channel, so downstream stages and the
// error-handling stage see an explicit error-tagged event. A panic inside fn
// is recovered the same way; a stage failure must never kill the listener.
func Lift(fn func(ev event.Event, ctx *Context) (event.Event, error)) Effect {
	return func(in <-chan event.Event, ctx *Context) <-chan event.Event {
		out := make(chan event.Event)
		go func() {
			defer close(out)
			for ev := range in {
				if ev.IsError() {
					// Error events pass through untouched; only the
					// error-handling stage consumes them.
					out <- ev
					continue
				}
				out <- applyLifted(fn, ev, ctx)
			}
		}()
		return out
	}
}

// applyLifted runs fn on one event, converting errors and panics into an
// error-marked event carrying the original payload.
func applyLifted(fn func(ev event.Event, ctx *Context) (event.Event, error), ev event.Event, ctx *Context) (result event.Event) {
	defer func() {
		if r := recover(); r != nil {
			result = event.Error(ev.Type, ev.Payload, panicError(r))
		}
	}()

	next, err := fn(ev, ctx)
	if err != nil {
		return event.Error(ev.Type, ev.Payload, err)
	}
	return next
}
