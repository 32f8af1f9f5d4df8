// Package timerdev implements the SBI timer collaborator of spec.md §6:
// a deadline-based interrupt source that the dispatch loop polls once
// per simulated tick to decide whether to preempt the running process.
package timerdev

// Timer is the narrow interface the dispatch loop consumes. Real SBI
// timer semantics (sbi_set_timer, a single hardware comparator) are
// out of scope; this is a logical stand-in driven by the loop's own
// tick counter rather than wall-clock time, so that round-robin
// fairness (spec.md §8) is deterministic under test.
type Timer interface {
	// SetTimer arms the timer to fire after the given number of
	// ticks have elapsed.
	SetTimer(ticks uint64)
	// Tick advances the timer by one tick and reports whether it
	// fired (and clears the pending interrupt, mirroring the real
	// SBI timer which must be rearmed after every interrupt).
	Tick() bool
}

// Quantum is a Timer that fires every quantum ticks, rearming itself
// automatically; this is the default timer used by the dispatch loop to
// implement round-robin preemption (spec.md §4.5, "Supervisor timer
// interrupt: clear the timer; call make_current_suspend").
type Quantum struct {
	period   uint64
	deadline uint64
	elapsed  uint64
}

// NewQuantum returns a Timer that fires every period ticks.
func NewQuantum(period uint64) *Quantum {
	if period == 0 {
		period = 1
	}
	return &Quantum{period: period, deadline: period}
}

// SetTimer implements Timer.
func (q *Quantum) SetTimer(ticks uint64) {
	q.deadline = q.elapsed + ticks
}

// Tick implements Timer.
func (q *Quantum) Tick() bool {
	q.elapsed++
	if q.elapsed < q.deadline {
		return false
	}
	q.deadline = q.elapsed + q.period
	return true
}
