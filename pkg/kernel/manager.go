package kernel

import (
	"fmt"
	"sort"

	"github.com/rvkernel/proccore/pkg/procid"
)

func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic("kernel: invariant violated: " + fmt.Sprintf(format, args...))
	}
}

// ProcState is the externally observable state of a tracked PID,
// exposed only through Snapshot (spec.md §3's `tasks`/`ready_queue`/
// `current`/`zombies` partition).
type ProcState int

const (
	StateRunning ProcState = iota
	StateReady
	StateZombie
)

func (s ProcState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateReady:
		return "ready"
	case StateZombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// ProcSnapshot is one row of ProcManager.Snapshot's introspection output.
type ProcSnapshot struct {
	PID    int32
	Parent int32
	State  ProcState
	Code   int32 // meaningful only when State == StateZombie
}

// WaitStatus is the three-way verdict of ProcManager.Wait (spec.md
// §4.5).
type WaitStatus int

const (
	// WaitFound means a matching zombie child was reaped.
	WaitFound WaitStatus = iota
	// WaitAgain means a matching child exists but is still alive; the
	// dispatch loop treats this exactly like a yield (spec.md §9,
	// waitpid re-entry convention (a): the user PC is not advanced, so
	// the waiter re-issues the same waitpid on its next turn).
	WaitAgain
	// WaitNoChild means no child of the caller matches the target.
	WaitNoChild
)

type zombie struct {
	id   procid.ID
	code int32
}

// ProcManager is the C5 component of spec.md §2/§4.5: the single
// process-wide table of tasks, the ready FIFO, parent/child bookkeeping,
// and the zombie table. It is grounded on gVisor's kernel.TaskSet, which
// plays the identical role for Linux-shaped tasks — one table, one
// runqueue abstraction, one PID-namespace parent map — generalized here
// to a single-hart cooperative model.
//
// Per spec.md §5, mutation is serialized by the single dispatch-loop
// goroutine; ProcManager holds no internal lock and must not be shared
// across goroutines without one.
type ProcManager struct {
	alloc *procid.Allocator

	tasks   map[int32]*Process
	ready   []int32
	parent  map[int32]int32
	zombies map[int32]zombie

	current    procid.ID
	hasCurrent bool

	initPID int32
	hasInit bool
}

// NewProcManager returns an empty ProcManager backed by alloc.
func NewProcManager(alloc *procid.Allocator) *ProcManager {
	return &ProcManager{
		alloc:   alloc,
		tasks:   make(map[int32]*Process),
		parent:  make(map[int32]int32),
		zombies: make(map[int32]zombie),
	}
}

// Insert adds proc to tasks under parentPID (spec.md §4.5). Precondition:
// proc.ID must not already be in tasks. The first process ever inserted
// under the NoParent sentinel is remembered as init, the reparenting
// target for future orphans.
func (m *ProcManager) Insert(proc *Process, parentPID int32) {
	pid := proc.ID.Int32()
	invariant(m.tasks[pid] == nil, "Insert: pid %d already in tasks", pid)

	m.tasks[pid] = proc
	m.parent[pid] = parentPID
	if parentPID == procid.NoParent && !m.hasInit {
		m.initPID = pid
		m.hasInit = true
	}
}

func (m *ProcManager) inReady(pid int32) bool {
	for _, p := range m.ready {
		if p == pid {
			return true
		}
	}
	return false
}

// AddReady appends pid to the ready queue (spec.md §4.5). Preconditions:
// pid must be in tasks and must not already be in the ready queue.
func (m *ProcManager) AddReady(pid int32) {
	invariant(m.tasks[pid] != nil, "AddReady: pid %d not in tasks", pid)
	invariant(!m.inReady(pid), "AddReady: pid %d already ready", pid)
	m.ready = append(m.ready, pid)
}

// FetchNext pops the front of the ready queue, sets current, and
// returns the corresponding Process.
func (m *ProcManager) FetchNext() (*Process, bool) {
	if len(m.ready) == 0 {
		return nil, false
	}
	pid := m.ready[0]
	m.ready = m.ready[1:]
	proc := m.tasks[pid]
	invariant(proc != nil, "FetchNext: ready pid %d not in tasks", pid)
	m.current = proc.ID
	m.hasCurrent = true
	return proc, true
}

// Current returns the Process dispatched most recently via FetchNext.
func (m *ProcManager) Current() (*Process, bool) {
	if !m.hasCurrent {
		return nil, false
	}
	return m.tasks[m.current.Int32()], true
}

// MakeCurrentSuspend moves current to the tail of the ready queue and
// clears current (spec.md §4.5). Used for yield, timer preemption, and
// any syscall outcome that leaves the caller runnable.
func (m *ProcManager) MakeCurrentSuspend() {
	invariant(m.hasCurrent, "MakeCurrentSuspend: no current process")
	pid := m.current.Int32()
	m.hasCurrent = false
	m.ready = append(m.ready, pid)
}

func sortedKeys(children map[int32]int32, parent int32) []int32 {
	var out []int32
	for child, p := range children {
		if p == parent {
			out = append(out, child)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MakeCurrentExited retires current with the given exit code: its
// children are reparented to init in ascending PID order (spec.md §3,
// supplemented determinism), its address space is released, and
// (pid, code) is recorded in zombies so a future Wait can observe it.
// current is cleared and is not requeued.
func (m *ProcManager) MakeCurrentExited(code int32) {
	invariant(m.hasCurrent, "MakeCurrentExited: no current process")
	pid := m.current.Int32()
	proc := m.tasks[pid]
	invariant(proc != nil, "MakeCurrentExited: current pid %d not in tasks", pid)

	for _, child := range sortedKeys(m.parent, pid) {
		m.parent[child] = m.initPID
	}

	proc.Release()
	delete(m.tasks, pid)
	m.zombies[pid] = zombie{id: proc.ID, code: code}
	m.hasCurrent = false
}

// Wait implements spec.md §4.5's wait(target): target is either a
// specific child PID or a negative wildcard meaning "any child."
func (m *ProcManager) Wait(target int32) (procid.ID, int32, WaitStatus) {
	invariant(m.hasCurrent, "Wait: no current process")
	callerPID := m.current.Int32()

	if target >= 0 {
		if z, ok := m.zombies[target]; ok && m.parent[target] == callerPID {
			delete(m.zombies, target)
			delete(m.parent, target)
			m.alloc.Free(z.id)
			return z.id, z.code, WaitFound
		}
		if _, ok := m.tasks[target]; ok && m.parent[target] == callerPID {
			return procid.ID{}, 0, WaitAgain
		}
		return procid.ID{}, 0, WaitNoChild
	}

	for _, pid := range sortedKeys(m.parent, callerPID) {
		if z, ok := m.zombies[pid]; ok {
			delete(m.zombies, pid)
			delete(m.parent, pid)
			m.alloc.Free(z.id)
			return z.id, z.code, WaitFound
		}
	}
	for child, p := range m.parent {
		if p == callerPID {
			if _, alive := m.tasks[child]; alive {
				return procid.ID{}, 0, WaitAgain
			}
		}
	}
	return procid.ID{}, 0, WaitNoChild
}

// Snapshot returns a read-only, PID-ordered view of every tracked
// process, live or zombie. It never mutates scheduler state; it exists
// purely for the `ps` CLI subcommand (SPEC_FULL.md §3).
func (m *ProcManager) Snapshot() []ProcSnapshot {
	out := make([]ProcSnapshot, 0, len(m.tasks)+len(m.zombies))
	for pid, proc := range m.tasks {
		_ = proc
		state := StateReady
		if m.hasCurrent && m.current.Int32() == pid {
			state = StateRunning
		}
		out = append(out, ProcSnapshot{PID: pid, Parent: m.parent[pid], State: state})
	}
	for pid, z := range m.zombies {
		out = append(out, ProcSnapshot{PID: pid, Parent: m.parent[pid], State: StateZombie, Code: z.code})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// ReadyLen reports the number of PIDs currently queued. The dispatch
// loop does not call it; Run stops when FetchNext finds the queue empty.
func (m *ProcManager) ReadyLen() int { return len(m.ready) }

// ZombieCount reports the number of unreaped zombies, used by the
// dispatch loop to distinguish a clean shutdown from one where init
// exited leaving unreaped children (spec.md §4.5: "treated as a fatal
// shutdown").
func (m *ProcManager) ZombieCount() int { return len(m.zombies) }
