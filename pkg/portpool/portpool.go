// Package portpool allocates ephemeral host ports for container runs out
// of a bounded range, excluding whatever the container engine already has
// bound.
package portpool

import (
	"fmt"

	"github.com/sasha-s/go-deadlock"
)

// ErrResourceExhausted is returned when fewer ports are available than
// requested.
type ErrResourceExhausted struct {
	Wanted    int
	Available int
}

func (e *ErrResourceExhausted) Error() string {
	return fmt.Sprintf("portpool: wanted %d ports, only %d available", e.Wanted, e.Available)
}

// Pool tracks in-flight reservations over [Start, End). It holds no
// opinion on which ports the engine currently has bound; callers supply
// that via Available's usedPorts argument each time, since the engine is
// the one source of truth for what's actually listening.
type Pool struct {
	start, end int

	mu       deadlock.Mutex
	reserved map[int]bool
}

// New builds a Pool over the half-open range [start, end).
func New(start, end int) *Pool {
	return &Pool{
		start:    start,
		end:      end,
		reserved: map[int]bool{},
	}
}

// Available returns the ports in range that are neither used by a running
// container nor currently reserved by an in-flight allocation.
func (p *Pool) Available(usedPorts map[int]bool) map[int]bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	available := make(map[int]bool, p.end-p.start)
	for port := p.start; port < p.end; port++ {
		if usedPorts[port] || p.reserved[port] {
			continue
		}
		available[port] = true
	}
	return available
}

// Allocate reserves count distinct ports out of Available(usedPorts), in
// arbitrary order. On success the ports are held in the reservation set
// until Release is called; on ErrResourceExhausted nothing is reserved.
func (p *Pool) Allocate(usedPorts map[int]bool, count int) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := make([]int, 0, count)
	for port := p.start; port < p.end && len(free) < count; port++ {
		if usedPorts[port] || p.reserved[port] {
			continue
		}
		free = append(free, port)
	}

	if len(free) < count {
		available := 0
		for port := p.start; port < p.end; port++ {
			if !usedPorts[port] && !p.reserved[port] {
				available++
			}
		}
		return nil, &ErrResourceExhausted{Wanted: count, Available: available}
	}

	for _, port := range free {
		p.reserved[port] = true
	}
	return free, nil
}

// Release frees previously-reserved ports. It is idempotent: releasing a
// port that isn't held, or releasing twice, is a no-op rather than an
// error. Release must strictly remove from the reservation set, never add
// to it, or the set grows monotonically and the pool starves.
func (p *Pool) Release(ports []int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, port := range ports {
		delete(p.reserved, port)
	}
}

// Reserved reports whether port is currently held, for tests and
// diagnostics.
func (p *Pool) Reserved(port int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserved[port]
}
