// Package server provides the HTTP API over a [registry.Service].
//
// It serves:
//
//   - REST API: JSON views at "/api/results" and "/api/results/{name}"
//   - Actions: "/api/results/{name}/refresh" and "/api/results/{name}/interrupt"
//   - Server-Sent Events: real-time views at "/api/sse"
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
