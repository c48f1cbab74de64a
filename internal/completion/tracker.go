// Package completion counts operations completed by the link, per kind,
// between resets of a benchmark round.
package completion

import (
	"context"
	"sync"
	"time"

	"github.com/maximilianheer/eurosys-rdma-scatter-app/pkg/types"
)

// Tracker is fed by the transport on every completed operation and read by
// the control loop. Waiters are woken through a broadcast channel that is
// replaced on every Add, so nobody spins on the counters.
type Tracker struct {
	mu     sync.Mutex
	counts [types.NumOperKinds]uint64
	notify chan struct{}
}

func NewTracker() *Tracker {
	return &Tracker{notify: make(chan struct{})}
}

// Reset zeroes the counters of every kind.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts = [types.NumOperKinds]uint64{}
}

// Add records n completions of kind.
func (t *Tracker) Add(kind types.OperKind, n uint64) {
	if n == 0 || int(kind) >= types.NumOperKinds {
		return
	}
	t.mu.Lock()
	t.counts[kind] += n
	close(t.notify)
	t.notify = make(chan struct{})
	t.mu.Unlock()
}

func (t *Tracker) Count(kind types.OperKind) uint64 {
	if int(kind) >= types.NumOperKinds {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[kind]
}

func (t *Tracker) snapshot(kind types.OperKind) (uint64, <-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[kind], t.notify
}

// WaitFor blocks until at least quota completions of kind were counted
// since the last reset. A zero timeout waits until ctx is done.
func (t *Tracker) WaitFor(ctx context.Context, kind types.OperKind, quota uint64, timeout time.Duration) error {
	if int(kind) >= types.NumOperKinds {
		return &types.QuotaTimeoutError{Kind: kind, Want: quota, Timeout: timeout}
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		got, changed := t.snapshot(kind)
		if got >= quota {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return &types.QuotaTimeoutError{
				Kind:    kind,
				Want:    quota,
				Got:     t.Count(kind),
				Timeout: timeout,
			}
		}
	}
}
