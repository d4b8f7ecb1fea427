// Package health tracks per-host breaker state for the poll scheduler.
//
// Each host is either Closed (polled every cycle) or Open (assumed down,
// probed at a reduced cadence). The transition logic itself is a pure
// function so it can be tested without any scheduling or network I/O.
package health

import (
	"sync"
	"time"
)

// State is a host's breaker position.
type State int

const (
	// StateClosed means the host is eligible for polling every cycle.
	StateClosed State = iota

	// StateOpen means the host has failed repeatedly and only periodic
	// probe polls are issued until one succeeds.
	StateOpen
)

// String returns "closed" or "open".
func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// transition computes the next breaker position from one fetch outcome.
// Any success closes the breaker and resets the consecutive-failure
// counter; a failure increments it and opens the breaker once the
// threshold is reached.
func transition(state State, failures, threshold int, success bool) (State, int) {
	if success {
		return StateClosed, 0
	}
	failures++
	if failures >= threshold {
		return StateOpen, failures
	}
	return state, failures
}

// hostState is the mutable breaker record for one host. Each record has
// its own lock so hosts never contend with each other.
type hostState struct {
	mu             sync.Mutex
	state          State
	failures       int
	sinceOpen      int // eligibility checks observed while open
	lastTransition time.Time
}

// Tracker holds breaker state for a fixed set of hosts.
//
// The host set is established at construction and never changes, so the
// map itself is read-only and safe for concurrent access; all mutation
// happens under the per-host lock.
type Tracker struct {
	threshold  int
	probeEvery int
	hosts      map[string]*hostState
	now        func() time.Time
}

// NewTracker creates a [Tracker] for the given hosts.
//
// threshold is the number of consecutive failures that opens a host's
// breaker. probeEvery is the probe cadence while open: one poll is
// allowed every probeEvery-th cycle. Every host starts Closed, so the
// first cycle always attempts all hosts.
func NewTracker(hosts []string, threshold, probeEvery int) *Tracker {
	if threshold < 1 {
		threshold = 1
	}
	if probeEvery < 1 {
		probeEvery = 1
	}
	m := make(map[string]*hostState, len(hosts))
	for _, h := range hosts {
		m[h] = &hostState{}
	}
	return &Tracker{
		threshold:  threshold,
		probeEvery: probeEvery,
		hosts:      m,
		now:        time.Now,
	}
}

// Eligible reports whether the host should be polled this cycle.
//
// A Closed host is always eligible. An Open host counts the cycle and is
// eligible only when the probe cadence comes due. Eligible must be
// called exactly once per host per cycle for the cadence to hold.
func (t *Tracker) Eligible(host string) bool {
	hs := t.hosts[host]
	if hs == nil {
		return false
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.state == StateClosed {
		return true
	}
	hs.sinceOpen++
	return hs.sinceOpen%t.probeEvery == 0
}

// Observe feeds one fetch outcome into the host's breaker.
func (t *Tracker) Observe(host string, success bool) {
	hs := t.hosts[host]
	if hs == nil {
		return
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()

	prev := hs.state
	hs.state, hs.failures = transition(hs.state, hs.failures, t.threshold, success)
	if hs.state != prev {
		hs.lastTransition = t.now()
		hs.sinceOpen = 0
	}
}

// Status returns the host's current breaker position, its consecutive
// failure count, and the time of the last state change.
func (t *Tracker) Status(host string) (State, int, time.Time) {
	hs := t.hosts[host]
	if hs == nil {
		return StateClosed, 0, time.Time{}
	}
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.state, hs.failures, hs.lastTransition
}
