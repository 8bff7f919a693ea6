// Package poller checks HTTP endpoints and exposes the checks as
// [resultstore.Producer] values.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with timeout and size limits
//   - [Checker]: runs checks for a [Source] under a shared concurrency limit
//   - [Extractor]: reads a [Status] from a response
//   - [Sample]: outcome of one successful check
//   - [StatusError]: a check that got no healthy answer
package poller
