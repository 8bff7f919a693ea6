// Package resultstore provides a reactive store for the outcome of
// asynchronous computations.
//
// A [Result] describes where a computation stands: it has not run yet
// ([Initial]), it is in flight ([Waiting]), it failed ([Failure]) or it
// produced a value ([Success]). A Waiting Result remembers the state it
// started from, so a UI can tell a first load from a refresh or a retry
// without any extra bookkeeping.
//
// # Quick Start
//
// Create a store, subscribe to it and run a producer:
//
//	s, _ := resultstore.New[User](resultstore.WithName("user"))
//	defer s.Close()
//
//	unsubscribe := s.Subscribe(func() {
//	    bag := s.Snapshot()
//	    switch {
//	    case bag.IsLoading():
//	        fmt.Println("loading")
//	    case bag.IsRefreshing():
//	        fmt.Println("refreshing")
//	    case bag.IsError():
//	        fmt.Println("failed:", bag.FailureCause())
//	    }
//	})
//	defer unsubscribe()
//
//	s.Run(resultstore.FromFunc(fetchUser))
//
// # Producers
//
// A [Producer] is a lazy sequence of values. Every value it yields is
// published as a Success; an error it returns is published as a Failure; a
// panic becomes a defect. Helpers build producers from functions
// ([FromFunc]), fixed values ([FromValues]), iterators ([FromSeq],
// [FromSeq2]) and channels ([FromChan]). [Repeat] turns any producer into a
// polling loop.
//
// # Cancellation
//
// A store runs at most one task at a time. Calling [Store.Run] again
// supersedes the running task; [Store.InterruptIfRunning] stops it; and when
// the last subscriber leaves, the store stops it on the executor's next turn.
// A stopped task never publishes again.
//
// # Metrics
//
// Alongside the Result, a store keeps [Metrics]: when data and errors were
// last seen, how many failures happened since the last success, how many
// tasks ran and how many were interrupted. [Store.Snapshot] returns both as
// one immutable [Bag]. The store also records OpenTelemetry counters on the
// configured meter provider (see [WithMeterProvider]).
//
// # Architecture
//
// Besides the library, the module ships an HTTP status service built on it
// (under internal/ and cmd/):
//
//   - internal/poller: HTTP checks exposed as Producers
//   - internal/registry: named stores with JSON views and retry supervision
//   - internal/server: REST API and Server-Sent Events
//   - internal/telemetry: OpenTelemetry metric and log export
//   - config: YAML and TOML configuration
//   - cmd/resultstore: the serve, watch and validate commands
//
// The internal packages are not part of the public API and may change
// without notice.
package resultstore
