// Package server exposes a running gateway over HTTP.
//
// All routes live under /api/v1 and answer JSON:
//
//	GET  /api/v1/status     gateway.Status
//	GET  /api/v1/devices    registered devices, ordered by address
//	GET  /api/v1/endpoints  endpoint sets, ordered by address
//	POST /api/v1/start      start discovery, replies with the new status
//	POST /api/v1/stop       stop discovery, replies with the new status
//	GET  /api/v1/feed       websocket stream of notify.Event values
//
// A failed start maps to 501 for an unsupported radio stack and 503 when the
// adapter is off. Error bodies are {"error": "..."}.
//
// # Feed
//
// Each feed client gets its own hub subscription. Events are written as JSON
// text messages; the server pings every pingPeriod and drops a client that
// misses the pong deadline. A client too slow to keep up with the hub buffer
// is disconnected with a going-away close frame and should reconnect.
//
// # TLS
//
// Setting both a certificate and key path serves the API over TLS 1.2 or
// later. Without them the listener is plain TCP.
//
// # Graceful Shutdown
//
// Start handles SIGINT and SIGTERM: it stops accepting requests, closes feed
// connections and waits for their handlers before returning.
package server
