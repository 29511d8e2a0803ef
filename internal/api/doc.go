// Package api implements the HTTP REST API and WebSocket server for the
// MIR Control Center.
//
// This package provides:
//   - REST endpoints for plugin lifecycle, releases, RPC and diagnostics
//   - WebSocket hub that relays plugin events in real time
//   - Audit trail listing
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server sits between local UIs (wallet front-ends, the admin
// console, scripts) and the plugin registry. Requests are turned into calls
// on plugin proxies; every event a proxy emits is broadcast on the
// WebSocket channel "plugin.<name>", and on "plugins" for clients that want
// all of them.
//
// # Binding
//
// The server binds to 127.0.0.1 by default. It carries no authentication
// and controls local processes, so exposing it beyond loopback is the
// operator's decision.
//
// # Graceful Degradation
//
// The server operates without a database or InfluxDB. Audit listing returns
// 503 without a repository and RPC timings are simply not recorded.
package api
