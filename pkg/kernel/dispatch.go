package kernel

import (
	"github.com/rvkernel/proccore/pkg/abi"
	"github.com/rvkernel/proccore/pkg/console"
	"github.com/rvkernel/proccore/pkg/platform"
	"github.com/rvkernel/proccore/pkg/procid"
	"github.com/rvkernel/proccore/pkg/registry"
	"github.com/rvkernel/proccore/pkg/timerdev"
)

// InitProcName is the App Registry entry the dispatch loop boots first
// (spec.md §6, "Init process").
const InitProcName = "initproc"

// DispatchLoop is the C6 component of spec.md §2/§4.5: the single
// fetch -> execute -> handle-trap -> requeue loop. It is grounded on
// gVisor's kernel.Task.run, which plays the identical role around a
// platform.Context.Switch call, generalized here to platform.Execute's
// synthetic trap cause.
type DispatchLoop struct {
	Manager  *ProcManager
	Alloc    *procid.Allocator
	Registry *registry.Registry
	Console  console.Console
	Timer    timerdev.Timer
}

// NewDispatchLoop wires the collaborators a running kernel needs.
func NewDispatchLoop(mgr *ProcManager, alloc *procid.Allocator, reg *registry.Registry, con console.Console, timer timerdev.Timer) *DispatchLoop {
	return &DispatchLoop{Manager: mgr, Alloc: alloc, Registry: reg, Console: con, Timer: timer}
}

// Boot loads InitProcName from the registry, inserts it under the
// NoParent sentinel, and marks it ready (spec.md §2 "Data flow").
func (d *DispatchLoop) Boot() error {
	image, ok := d.Registry.Get(InitProcName)
	if !ok {
		return errInitMissing{}
	}
	proc, err := FromELF(d.Alloc, image)
	if err != nil {
		return err
	}
	d.Manager.Insert(proc, procid.NoParent)
	d.Manager.AddReady(proc.ID.Int32())
	dispatchLog.Infof("booted %s as init", proc.ID)
	return nil
}

type errInitMissing struct{}

func (errInitMissing) Error() string { return "kernel: " + InitProcName + " not found in app registry" }

var dispatchLog = procLog

// Step runs exactly one fetch/execute/dispatch cycle, returning the PID
// that ran and whether anything ran at all (false when the ready queue
// is empty, the signal to stop Run). The returned PID lets tests assert
// on scheduling order (spec.md §8 scenario 2, "yield ordering").
func (d *DispatchLoop) Step() (int32, bool) {
	proc, ok := d.Manager.FetchNext()
	if !ok {
		return 0, false
	}
	pid := proc.ID.Int32()

	cause, err := platform.Execute(&proc.Ctx, proc.AS, d.Timer)
	if err != nil {
		dispatchLog.Warnf("%s: exception: %v", proc.ID, err)
		d.Manager.MakeCurrentExited(abi.KillAbnormal)
		return pid, true
	}

	switch cause {
	case platform.CauseEcall:
		d.dispatchEcall(proc)
	case platform.CauseTimer:
		d.Manager.MakeCurrentSuspend()
	case platform.CauseException:
		d.Manager.MakeCurrentExited(abi.KillAbnormal)
	}
	return pid, true
}

// Run steps the loop until the ready queue drains (spec.md §4.5
// "Scheduling policy": with no interrupt source left to wait on, an
// empty ready queue ends the simulated session). It logs whether any
// zombies were left unreaped, which spec.md treats as the signature of
// init having exited early.
func (d *DispatchLoop) Run() {
	for {
		if _, ok := d.Step(); !ok {
			break
		}
	}
	if d.Manager.ZombieCount() > 0 {
		dispatchLog.Warnf("shutdown with %d unreaped zombie(s)", d.Manager.ZombieCount())
	}
}

func (d *DispatchLoop) dispatchEcall(proc *Process) {
	num := proc.Ctx.Local.A(7)
	var out sysOutcome

	switch num {
	case abi.SysYield:
		out = sysYield()
	case abi.SysExit:
		out = sysExit(d.Manager, int32(proc.Ctx.Local.A(0)))
	case abi.SysGetpid:
		out = sysGetpid(proc)
	case abi.SysFork:
		out = sysFork(d.Manager, proc)
	case abi.SysExec:
		out = sysExec(d.Registry, proc, proc.Ctx.Local.A(0), int32(proc.Ctx.Local.A(1)))
	case abi.SysWaitpid:
		out = sysWaitpid(d.Manager, proc, int32(proc.Ctx.Local.A(0)), proc.Ctx.Local.A(1))
	case abi.SysRead:
		out = sysRead(proc, d.Console, int32(proc.Ctx.Local.A(0)), proc.Ctx.Local.A(1), int32(proc.Ctx.Local.A(2)))
	default:
		dispatchLog.Warnf("%s: unsupported syscall %d", proc.ID, num)
		out = sysExit(d.Manager, abi.KillUnsupported)
	}

	if out.exited {
		return
	}
	if !out.retry && !out.replaced {
		*proc.Ctx.Local.AMut(0) = uint64(int64(out.value))
		proc.Ctx.Local.MoveNext()
	}
	d.Manager.MakeCurrentSuspend()
	if out.forked {
		d.Manager.AddReady(out.forkedPID)
	}
}
