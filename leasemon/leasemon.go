// Package leasemon watches how long a PartData lease (a LockedRange held by
// a worker between getLock and release) has been outstanding, and reports
// via build.Severe when one is held past a configured bound. It is adapted
// from a generic deadlock-detecting RWMutex wrapper: the exclusivity
// guarantee itself is enforced by PartData's own LockedRange overlap
// invariant, so this package keeps only the watchdog half - bookkeeping
// open leases by a caller-supplied id and a monotonically increasing
// counter, and flagging ones that overstay maxHoldTime.
package leasemon

import (
	"fmt"
	"sync"
	"time"

	"gitlab.com/hydranode/hydracore/build"
)

// Monitor tracks outstanding leases and reports any held longer than
// maxHoldTime.
type Monitor struct {
	mu          sync.Mutex
	open        map[int]string
	counter     int
	maxHoldTime time.Duration
}

// New returns a Monitor that reports leases held longer than maxHoldTime.
func New(maxHoldTime time.Duration) *Monitor {
	return &Monitor{
		open:        make(map[int]string),
		maxHoldTime: maxHoldTime,
	}
}

// Acquire records a new lease identified by id (typically the range it
// covers, e.g. "[1048576,1228799]") and returns a token to pass to
// Release. If the lease is still open after maxHoldTime, Monitor reports
// it via build.Severe.
func (m *Monitor) Acquire(id string) int {
	m.mu.Lock()
	token := m.counter
	m.open[token] = id
	m.counter++
	m.mu.Unlock()

	go func() {
		time.Sleep(m.maxHoldTime)
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, exists := m.open[token]; exists {
			delete(m.open, token)
			build.Severe(fmt.Sprintf("lease %v held longer than %v", id, m.maxHoldTime))
		}
	}()

	return token
}

// Release closes the lease identified by token. Calling Release after the
// watchdog has already reported the lease (i.e. after maxHoldTime has
// elapsed) is a silent no-op - the report has already fired, and there's
// nothing left to clean up.
func (m *Monitor) Release(token int) {
	m.mu.Lock()
	delete(m.open, token)
	m.mu.Unlock()
}

// OpenCount returns the number of leases currently tracked as open, for
// tests and diagnostic summaries.
func (m *Monitor) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}
