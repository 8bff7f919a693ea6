package main

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// mockState tracks status and next change time for a single service.
type mockState struct {
	statusIdx    int
	nextChangeAt time.Time
}

// statuses the mock cycles through. "outage" answers 503, which the
// checker reports as a failure.
var statuses = []string{"ok", "degraded", "outage"}

// newMockHealthHandler returns a health endpoint that cycles each service
// (the svc query parameter) through statuses every 10-30 seconds.
func newMockHealthHandler() http.Handler {
	var (
		states = make(map[string]*mockState)
		mu     sync.Mutex
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		svc := r.URL.Query().Get("svc")

		// simulate small latency variance
		time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)

		mu.Lock()
		state, exists := states[svc]
		if !exists {
			state = &mockState{nextChangeAt: time.Now().Add(time.Duration(10+rand.Intn(21)) * time.Second)}
			states[svc] = state
		}
		if time.Now().After(state.nextChangeAt) {
			oldStatus := statuses[state.statusIdx]
			state.statusIdx = (state.statusIdx + 1) % len(statuses)
			state.nextChangeAt = time.Now().Add(time.Duration(10+rand.Intn(21)) * time.Second)
			slog.Info("mock status change", "svc", svc, "from", oldStatus, "to", statuses[state.statusIdx])
		}
		status := statuses[state.statusIdx]
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status == "outage" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(map[string]string{"svc": svc, "status": status}); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})
	return mux
}

// StartMockHealthServer serves the mock health endpoint on addr.
func StartMockHealthServer(addr string) {
	if err := http.ListenAndServe(addr, newMockHealthHandler()); err != nil {
		slog.Error("mock server error", "error", err)
	}
}
