// Package effect provides the stage abstraction and composition operators
// for marble pipelines.
//
// # Overview
//
// A stage (Effect) is a function from an input event channel and an
// EffectContext to an output event channel. Middleware and routed effects
// share this shape, so both compose with the identical Combine operator:
//
//	chain := effect.Combine(logRequests, authorize, handler)
//
// Combine pipes stages in left-to-right declaration order and yields a
// stage of the same shape, enabling uniform recursive composition. It
// performs no buffering or backpressure of its own; those belong to the
// channel the listener allocates.
//
// # Error handling
//
// Stage failures flow as error-tagged events, never as channel teardown.
// Lift converts a per-event function into a stage with this behavior, and
// ProvideErrorEffect builds the dedicated error-handling stage that turns
// error-tagged events into client-facing failure events. The provider is the
// last line of defense: it swallows secondary failures by logging and
// emitting a minimal fallback event.
//
// # Context
//
// The EffectContext combines the shared read-only dependency lookup (Ask)
// with the per-connection client reference. The lookup table is immutable
// after construction; the client is present only for WebSocket pipelines
// and is exclusively owned by that connection.
package effect
