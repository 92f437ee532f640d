// Package gateway provides the listener edge of marble: shared transport
// wiring plus the HTTP and WebSocket listener implementations in its
// subpackages.
//
// # Architecture
//
// Both listeners wire the same primitives into per-request or per-connection
// handlers:
//
//	┌──────────────┐
//	│  transport    │  HTTP request / WebSocket frame
//	└──────┬───────┘
//	       ↓
//	┌──────────────────────────────────────────────┐
//	│  listener                                     │
//	│  middleware chain → routed/combined effects   │
//	│  → error stage → output transformer           │
//	└──────┬───────────────────────────────────────┘
//	       ↓
//	  transport write-back (send / socket write)
//
// The HTTP listener resolves each request against the routing tree and runs
// a single-use pipeline that terminates in exactly one response write. The
// WebSocket listener manages long-lived, resumable pipelines per connection
// plus a heartbeat-based liveness sweep and a connection-admission gate.
//
// The gateway package itself holds what both share: the Server that owns
// socket binding, CORS configuration, and the JSON error shape written to
// external clients.
package gateway
