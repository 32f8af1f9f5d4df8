package console

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Paced is a Console that releases queued bytes at a bounded rate,
// grounded on golang.org/x/time/rate.
// It is the console `boot` selects when paced_console is set, so that
// a `read` syscall sees fed bytes arrive spread over time rather than
// all at once.
type Paced struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	pending []byte
}

// NewPaced returns a Paced console that admits at most one queued byte
// per interval, with a burst of one. The burst starts full, so the first
// fed byte is available immediately.
func NewPaced(interval time.Duration) *Paced {
	return &Paced{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Feed enqueues bytes to be released over time as the limiter admits
// them, simulating the byte-arrival order guarantee of spec.md §5
// ("Observable read byte ordering matches the console device's byte
// arrival order").
func (p *Paced) Feed(b ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, b...)
}

// GetChar implements Console. It never blocks: if the limiter has not
// admitted a byte yet, or no bytes are queued, it returns 0.
func (p *Paced) GetChar() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return 0
	}
	if !p.limiter.Allow() {
		return 0
	}
	b := p.pending[0]
	p.pending = p.pending[1:]
	return int32(b)
}

// WaitAdmit blocks the calling goroutine (never the scheduler — this is
// a test/harness helper, not part of the dispatch loop) until the
// limiter would admit a byte, for tests that want to assert on timing
// without busy-spinning.
func (p *Paced) WaitAdmit(ctx context.Context) error {
	// Reserve and immediately cancel to learn the delay without
	// consuming the token the next GetChar needs.
	now := time.Now()
	r := p.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	if delay == 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
