// Package registry keeps one [resultstore.Store] per checked source and
// publishes JSON views of them to subscribers.
//
// The registry re-runs a failed source after its retry delay, so a retrying
// store goes through the Waiting-over-Failure state that tells a failed first
// load apart from a failed refresh.
//
// Subscribers receive views via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the stores).
package registry
