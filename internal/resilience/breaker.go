// Package resilience guards outbound model and embedding calls.
package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/evermind-ai/evermind/internal/domain"
)

// ErrOpen is returned while the breaker is rejecting calls. It wraps
// domain.ErrModelUnavailable so an open circuit surfaces to users the
// same way a missing model does.
var ErrOpen = fmt.Errorf("model circuit open: %w", domain.ErrModelUnavailable)

// Breaker trips after maxFailures consecutive failures and rejects calls
// for the cooldown period. Once the cooldown elapses a single probe call
// is let through; its outcome closes or re-opens the circuit.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	maxFailures int
	cooldown    time.Duration
	open        bool
	probing     bool
	openedAt    time.Time
	now         func() time.Time // for testing
}

// NewBreaker creates a closed breaker.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn unless the circuit is open, and feeds the outcome back
// into the trip state.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

// acquire decides whether a call may proceed.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		return ErrOpen
	}
	// Cooldown elapsed: admit one probe at a time.
	if b.probing {
		return ErrOpen
	}
	b.probing = true
	return nil
}

// record folds a call outcome into the trip state.
func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if ok {
		b.failures = 0
		b.open = false
		return
	}

	b.failures++
	if b.open || b.failures >= b.maxFailures {
		b.open = true
		b.openedAt = b.now()
	}
}
