// Package marble is a reactive dispatch layer for HTTP and WebSocket
// servers: requests and frames become events flowing through composable
// effect pipelines.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        gateway.Server               │  Socket binding,
//	│   (mount, start, graceful stop)     │  graceful shutdown
//	└─────────────────────────────────────┘
//	           ↓ mounts
//	┌──────────────────┬──────────────────┐
//	│  HTTP Listener   │   WS Listener    │  One pipeline per request,
//	│ (gateway/http)   │(gateway/websocket)│ two per connection
//	└──────────────────┴──────────────────┘
//	           ↓ resolve / decode
//	┌─────────────────────────────────────┐
//	│   router.Tree   +   effect chains   │  Literal-over-parameter
//	│ (middleware → effect → error → out) │  routing, combinators
//	└─────────────────────────────────────┘
//
// Every stage shares one shape, effect.Effect: a function from an input
// event channel and a context to an output event channel. Middleware
// chains, routed effects, and the error stage therefore compose with the
// same combinator, effect.Combine.
//
// # Error Model
//
// Stage failures flow as error-tagged events, never as channel teardown.
// The error stage (effect.ProvideErrorEffect) converts them into client
// failure responses; on WebSocket connections the failed pipeline is
// resubscribed on the next inbound frame, so one bad event never kills a
// connection.
//
// # Quick Start
//
//	listener, err := mhttp.NewListener(mhttp.Config{
//		Effects: []router.Route{
//			{Method: "GET", Path: "/users/:id", Effect: getUser},
//		},
//	}, effect.NewContext(deps))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	srv := gateway.NewServer(":8080", logger)
//	srv.Handle("/", listener)
//	srv.Start(ctx)
//
// The bridge package relays NATS subjects into the WebSocket broadcast
// fan-out for server-initiated pushes.
package marble
