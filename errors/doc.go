// Package errors provides standardized error handling patterns for marble.
//
// # Overview
//
// The errors package implements a four-class error classification system
// designed for the dispatch layer: Pipeline (recoverable stage failure,
// resubscribe), Transform (wire encode/decode failure, handled like a
// pipeline failure), Connection (admission failure, abort one upgrade), and
// Invalid (bad input or configuration, report at build time).
//
// Nothing in this taxonomy is fatal to the process. A pipeline or transform
// error is always recovered locally: the owning subscription is marked
// exhausted and rearmed on the next inbound event. A connection error aborts
// only the single upgrade attempt that produced it. A routing miss is never
// surfaced as an error value at all; listeners convert it to a not-found
// output event.
//
// # Quick Start
//
// Return standard error variables for known conditions:
//
//	if tree == nil {
//	    return errors.ErrRouteNotFound
//	}
//
// Wrap errors with component context:
//
//	if err := transformer.Decode(frame); err != nil {
//	    return errors.WrapTransform(err, "wsListener", "readLoop", "decode frame")
//	}
//
// Reject a WebSocket upgrade with an explicit status:
//
//	return false, errors.NewConnectionError(http.StatusForbidden, "token expired")
//
// The classification system supports errors.Is(), errors.As(), and error
// wrapping chains throughout.
package errors
