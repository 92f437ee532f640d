// Package websocket implements the WebSocket listener: an http.Handler that
// upgrades connections, runs decoded frames through the configured middleware
// and effect pipelines, and writes results back to the socket. Pipelines are
// per-connection and resubscribe automatically after a failure, so one bad
// event never tears down the connection. A heartbeat sweep terminates clients
// that stop answering pings.
package websocket
