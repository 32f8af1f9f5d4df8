package kernel

import (
	"encoding/binary"

	"github.com/rvkernel/proccore/pkg/abi"
	"github.com/rvkernel/proccore/pkg/console"
	"github.com/rvkernel/proccore/pkg/mm"
	"github.com/rvkernel/proccore/pkg/registry"
)

// sysOutcome is the verdict of a syscall handler, consumed by the
// dispatch loop to decide whether to write a0, advance the saved PC,
// and requeue the caller (spec.md §4.5's "based on its verdict either
// resume current ... or have the handler call make_current_exited/
// make_current_suspend directly").
type sysOutcome struct {
	// exited is true when the handler already called
	// ProcManager.MakeCurrentExited itself; the dispatch loop must not
	// touch a0, the PC, or the ready queue for this process.
	exited bool
	// retry is true when the syscall is not yet satisfied (waitpid on a
	// still-live child, read with no byte available): the PC is left on
	// the ecall and the caller is still requeued, so it re-enters the
	// same syscall on its next turn (spec.md §9, waitpid convention (a)).
	retry bool
	// value is written to a0 when none of exited, retry and replaced
	// holds.
	value int32
	// forkedPID is set by sysFork; the dispatch loop enqueues it only
	// after the parent has been requeued, so the child lands behind the
	// parent in the ready queue (spec.md §5 "Ordering guarantees":
	// "parent continues, then child runs in its turn").
	forkedPID int32
	forked    bool
	// replaced is set by sysExec on success: proc.Ctx already holds a
	// freshly loaded entry context, so the dispatch loop must skip its
	// usual a0-write/MoveNext post-processing entirely.
	replaced bool
}

func sysYield() sysOutcome {
	return sysOutcome{value: 0}
}

func sysExit(mgr *ProcManager, code int32) sysOutcome {
	mgr.MakeCurrentExited(code)
	return sysOutcome{exited: true}
}

func sysGetpid(proc *Process) sysOutcome {
	return sysOutcome{value: proc.ID.Int32()}
}

func sysFork(mgr *ProcManager, proc *Process) sysOutcome {
	child, err := proc.Fork(mgr.alloc)
	if err != nil {
		procLog.Warnf("%s: fork failed: %v", proc.ID, err)
		return sysOutcome{value: abi.ErrGeneric}
	}
	*child.Ctx.Local.AMut(0) = 0
	// Process.Fork clones the parent's pre-advance context (still
	// sitting on the ecall); advance the child's copy too so it resumes
	// at ecall-return exactly like the parent will (spec.md §8 law
	// "Fork determinism").
	child.Ctx.Local.MoveNext()
	mgr.Insert(child, proc.ID.Int32())
	return sysOutcome{value: child.ID.Int32(), forkedPID: child.ID.Int32(), forked: true}
}

func sysExec(reg *registry.Registry, proc *Process, nameVaddr uint64, nameLen int32) sysOutcome {
	raw, err := proc.AS.Translate(nameVaddr, int(nameLen), mm.PermRead)
	if err != nil {
		return sysOutcome{value: abi.ErrGeneric}
	}
	name := string(raw)
	image, ok := reg.Get(name)
	if !ok {
		return sysOutcome{value: abi.ErrGeneric}
	}
	if err := proc.Exec(image); err != nil {
		procLog.Warnf("%s: exec %q failed: %v", proc.ID, name, err)
		return sysOutcome{value: abi.ErrGeneric}
	}
	// replaced tells the dispatch loop not to touch a0 or advance Sepc:
	// proc.Ctx is now a brand new entry context (spec.md §4.4), and
	// MoveNext's "step past the ecall that trapped in" no longer applies
	// since there is no ecall at the new entry to step past.
	return sysOutcome{value: 0, replaced: true}
}

func sysWaitpid(mgr *ProcManager, proc *Process, target int32, codeVaddr uint64) sysOutcome {
	id, code, status := mgr.Wait(target)
	switch status {
	case WaitFound:
		// Best-effort write, per spec.md §7: a bad code pointer does not
		// undo the reap, it only loses the caller's visibility of the code.
		if buf, err := proc.AS.Translate(codeVaddr, 4, mm.PermWrite); err == nil {
			binary.LittleEndian.PutUint32(buf, uint32(code))
		}
		return sysOutcome{value: id.Int32()}
	case WaitAgain:
		return sysOutcome{retry: true}
	default:
		return sysOutcome{value: abi.ErrGeneric}
	}
}

func sysRead(proc *Process, con console.Console, fd int32, bufVaddr uint64, n int32) sysOutcome {
	if fd != abi.StdinFD {
		return sysOutcome{value: abi.ErrGeneric}
	}
	buf, err := proc.AS.Translate(bufVaddr, int(n), mm.PermWrite)
	if err != nil {
		return sysOutcome{value: abi.ErrGeneric}
	}
	for proc.readProgress < int(n) {
		c := con.GetChar()
		if c == 0 {
			// Busy-yield: leave progress recorded on proc so the retry,
			// which re-enters with identical a0..a2 since the PC did not
			// move, picks up where this call left off instead of
			// rereading already-delivered bytes.
			return sysOutcome{retry: true}
		}
		buf[proc.readProgress] = byte(c)
		proc.readProgress++
	}
	proc.readProgress = 0
	return sysOutcome{value: n}
}
