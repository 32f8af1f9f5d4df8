package kernel

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rvkernel/proccore/pkg/abi"
	"github.com/rvkernel/proccore/pkg/console"
	"github.com/rvkernel/proccore/pkg/mm"
	"github.com/rvkernel/proccore/pkg/procid"
	"github.com/rvkernel/proccore/pkg/registry"
	"github.com/rvkernel/proccore/pkg/timerdev"
	"github.com/rvkernel/proccore/pkg/uprog"
)

func yieldLoopImage() []byte {
	instrs := append(uprog.Syscall(int16(abi.SysYield)), uprog.Jump(-2))
	return uprog.BuildELF(uprog.Assemble(instrs...))
}

func TestDispatchLoopRoundRobinYieldOrder(t *testing.T) {
	alloc := procid.NewAllocator()
	mgr := NewProcManager(alloc)

	var pids []int32
	for i := 0; i < 3; i++ {
		p, err := FromELF(alloc, yieldLoopImage())
		if err != nil {
			t.Fatalf("FromELF: %v", err)
		}
		mgr.Insert(p, procid.NoParent)
		mgr.AddReady(p.ID.Int32())
		pids = append(pids, p.ID.Int32())
	}

	loop := NewDispatchLoop(mgr, alloc, registry.NewStatic(nil), console.NewQueue(), timerdev.NewQuantum(1_000_000))

	var got []int32
	for i := 0; i < 6; i++ {
		pid, ok := loop.Step()
		if !ok {
			t.Fatalf("Step %d: ready queue unexpectedly empty", i)
		}
		got = append(got, pid)
	}

	want := []int32{pids[0], pids[1], pids[2], pids[0], pids[1], pids[2]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("scheduling order mismatch (-want +got):\n%s", diff)
	}
}

// buildReadProgram assembles `read(0, buf, n); exit()` (exit reusing
// read's return value, already sitting in a0 when it completes).
// buf's address is resolved in a throwaway first pass: the instruction
// count, and so the scratch region's address, does not depend on what
// value buf itself holds.
func buildReadProgram(n int16) (image []byte, bufVaddr uint64) {
	build := func(buf uint64) []uprog.Instr {
		return append(uprog.Syscall(int16(abi.SysRead), 0, int16(buf), n), uprog.Syscall(int16(abi.SysExit))...)
	}
	_, vaddrs := uprog.AssembleWithLayout(build(0), make([]byte, n))
	bufVaddr = vaddrs[0]

	text, vaddrs2 := uprog.AssembleWithLayout(build(bufVaddr), make([]byte, n))
	if vaddrs2[0] != bufVaddr {
		panic("buildReadProgram: scratch address moved between passes")
	}
	return uprog.BuildELF(text), bufVaddr
}

func TestDispatchLoopReadSurvivesAcrossYields(t *testing.T) {
	alloc := procid.NewAllocator()
	mgr := NewProcManager(alloc)
	image, bufVaddr := buildReadProgram(3)

	proc, err := FromELF(alloc, image)
	if err != nil {
		t.Fatalf("FromELF: %v", err)
	}
	mgr.Insert(proc, procid.NoParent)
	mgr.AddReady(proc.ID.Int32())

	con := console.NewQueue()
	loop := NewDispatchLoop(mgr, alloc, registry.NewStatic(nil), con, timerdev.NewQuantum(1_000_000))

	if _, ok := loop.Step(); !ok {
		t.Fatalf("Step: ready queue unexpectedly empty")
	}
	if proc.readProgress != 0 {
		t.Fatalf("readProgress = %d, want 0 with no bytes queued yet", proc.readProgress)
	}

	con.Push('A')
	if _, ok := loop.Step(); !ok {
		t.Fatalf("Step: ready queue unexpectedly empty")
	}
	if proc.readProgress != 1 {
		t.Fatalf("readProgress = %d, want 1 after one byte arrived", proc.readProgress)
	}

	con.Push('B', 'C')
	if _, ok := loop.Step(); !ok {
		t.Fatalf("Step: ready queue unexpectedly empty")
	}

	buf, err := proc.AS.Translate(bufVaddr, 3, mm.PermRead)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if string(buf) != "ABC" {
		t.Fatalf("read buffer = %q, want %q", buf, "ABC")
	}

	if _, ok := loop.Step(); !ok {
		t.Fatalf("Step: ready queue unexpectedly empty")
	}
	snap := mgr.Snapshot()
	if len(snap) != 1 || snap[0].State != StateZombie || snap[0].Code != 3 {
		t.Fatalf("Snapshot = %+v, want one zombie with code 3 (read's returned count)", snap)
	}
}

// buildInitProgram assembles:
//
//	fork()
//	if a0 == 0 { exec("worker") }         // child
//	else       { exit(waitpid(-1, &st)) } // parent
//
// The wildcard wait target means the program never needs to know the
// child's PID, which is only assigned at runtime. Like buildReadProgram,
// the data addresses are resolved in a throwaway first pass.
func buildInitProgram() (image []byte, codeVaddr, nameVaddr uint64) {
	name := []byte("worker")
	build := func(codeV, nameV uint64) []uprog.Instr {
		return []uprog.Instr{
			uprog.SetA(7, int16(abi.SysFork)),
			uprog.Ecall(),
			uprog.BranchIfZero(0, 7), // a0==0 (child) -> exec block at index 9
			// parent: waitpid(-1, &status); exit(<reaped pid, from a0>)
			uprog.SetA(0, -1),
			uprog.SetA(1, int16(codeV)),
			uprog.SetA(7, int16(abi.SysWaitpid)),
			uprog.Ecall(),
			uprog.SetA(7, int16(abi.SysExit)),
			uprog.Ecall(),
			// child: exec("worker")
			uprog.SetA(0, int16(nameV)),
			uprog.SetA(1, int16(len(name))),
			uprog.SetA(7, int16(abi.SysExec)),
			uprog.Ecall(),
		}
	}

	_, vaddrs := uprog.AssembleWithLayout(build(0, 0), make([]byte, 4), name)
	codeVaddr, nameVaddr = vaddrs[0], vaddrs[1]

	text, vaddrs2 := uprog.AssembleWithLayout(build(codeVaddr, nameVaddr), make([]byte, 4), name)
	if vaddrs2[0] != codeVaddr || vaddrs2[1] != nameVaddr {
		panic("buildInitProgram: data address moved between passes")
	}
	return uprog.BuildELF(text), codeVaddr, nameVaddr
}

func TestDispatchLoopForkExecWaitRendezvous(t *testing.T) {
	alloc := procid.NewAllocator()
	mgr := NewProcManager(alloc)

	initImage, codeVaddr, _ := buildInitProgram()
	workerImage := uprog.BuildELF(uprog.Assemble(uprog.Syscall(int16(abi.SysExit), 77)...))
	reg := registry.NewStatic(map[string][]byte{"worker": workerImage})

	initProc, err := FromELF(alloc, initImage)
	if err != nil {
		t.Fatalf("FromELF: %v", err)
	}
	mgr.Insert(initProc, procid.NoParent)
	mgr.AddReady(initProc.ID.Int32())

	loop := NewDispatchLoop(mgr, alloc, reg, console.NewQueue(), timerdev.NewQuantum(1_000_000))

	// Steps, in order: (1) init forks, (2) parent's first waitpid finds
	// the child still alive and retries, (3) the child execs "worker",
	// (4) the parent retries waitpid again, still too early, (5) worker
	// runs and exits with 77, (6) the parent's waitpid finally succeeds
	// and writes 77 through codeVaddr. initProc.AS is only inspected
	// here, before step 7 releases it by exiting.
	for i := 0; i < 6; i++ {
		if _, ok := loop.Step(); !ok {
			t.Fatalf("Step %d: ready queue unexpectedly empty", i)
		}
	}

	buf, err := initProc.AS.Translate(codeVaddr, 4, mm.PermRead)
	if err != nil {
		t.Fatalf("Translate codeVaddr: %v", err)
	}
	if code := int32(binary.LittleEndian.Uint32(buf)); code != 77 {
		t.Fatalf("waitpid status word = %d, want 77 (worker's exit code)", code)
	}

	const maxRemaining = 4
	for i := 0; i < maxRemaining; i++ {
		if _, ok := loop.Step(); !ok {
			break
		}
		if i == maxRemaining-1 {
			t.Fatalf("dispatch loop did not drain within %d extra steps", maxRemaining)
		}
	}

	snap := mgr.Snapshot()
	if len(snap) != 1 || snap[0].PID != initProc.ID.Int32() || snap[0].State != StateZombie {
		t.Fatalf("Snapshot = %+v, want init alone as a zombie", snap)
	}
	if snap[0].Code != 1 {
		t.Fatalf("init's own exit code = %d, want 1 (the reaped child's pid, carried through a0)", snap[0].Code)
	}

	if reused, err := alloc.New(); err != nil || reused.Int32() != 1 {
		t.Fatalf("alloc.New() after reap = %v, %v; want pid 1 freed back by waitpid", reused, err)
	}
}
