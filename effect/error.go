package effect

import (
	"fmt"
	"log/slog"

	"github.com/alexanderbartels/marble/errors"
	"github.com/alexanderbartels/marble/event"
)

// ErrorPayload is the failure shape emitted to clients when a stage fails.
type ErrorPayload struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// ProvideErrorEffect wraps a user-supplied error handler with the default
// fallback. The returned stage is the last line of defense of a pipeline:
// every error-marked event leaving it has been converted into a plain
// failure event, and the stage itself never panics. Secondary failures
// (a broken user handler, a transformer that cannot serialize the failure)
// are logged and replaced with a minimal fallback event.
//
// The transformer, when given, is the active wire transformer; the default
// handler uses it to verify the failure event is serializable before
// emitting it.
func ProvideErrorEffect(user Effect, transformer event.Transformer, logger *slog.Logger) Effect {
	if logger == nil {
		logger = slog.Default()
	}

	return func(in <-chan event.Event, ctx *Context) <-chan event.Event {
		inner := attachUserHandler(user, in, ctx, logger)

		out := make(chan event.Event)
		go func() {
			defer close(out)
			for ev := range inner {
				if ev.IsError() {
					// Either no user handler, or the user handler left the
					// failure unconverted.
					ev = buildFailureEvent(ev, transformer, logger)
				}
				out <- ev
			}
		}()
		return out
	}
}

// attachUserHandler attaches the user error stage to the input channel,
// falling back to pass-through if the attach call itself panics.
func attachUserHandler(user Effect, in <-chan event.Event, ctx *Context, logger *slog.Logger) (out <-chan event.Event) {
	if user == nil {
		return in
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("user error effect panicked on attach, using default handler",
				"panic", fmt.Sprintf("%v", r))
			out = in
		}
	}()
	return user(in, ctx)
}

// buildFailureEvent serializes one error-marked event into a generic failure
// event. It must not fail: a serialization problem degrades to the minimal
// fallback event instead.
func buildFailureEvent(ev event.Event, transformer event.Transformer, logger *slog.Logger) (failure event.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("error serialization panicked",
				"panic", fmt.Sprintf("%v", r))
			failure = minimalFallbackEvent()
		}
	}()

	payload := ErrorPayload{
		Error:  errors.Sanitize(ev.Err),
		Status: errors.HTTPStatus(ev.Err),
	}
	failure = event.New(event.TypeError, payload)

	if transformer != nil {
		if _, err := transformer.Encode(failure); err != nil {
			logger.Error("failure event not serializable, using minimal fallback",
				"error", err)
			return minimalFallbackEvent()
		}
	}
	return failure
}

// minimalFallbackEvent is emitted when even the failure payload cannot be
// produced.
func minimalFallbackEvent() event.Event {
	return event.New(event.TypeError, ErrorPayload{
		Error:  "internal server error",
		Status: 500,
	})
}

// panicError converts a recovered panic value into a classified pipeline
// error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return errors.WrapPipeline(err, "effect", "Lift", "stage panic")
	}
	return errors.WrapPipeline(fmt.Errorf("%v", r), "effect", "Lift", "stage panic")
}
