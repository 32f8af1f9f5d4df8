// Package platform implements the single suspension point of the
// process core: ForeignContext.Execute (spec.md §4.3). It is grounded on
// gVisor's pkg/sentry/platform/ptrace, which plays the identical role
// for amd64/arm64 — a host-side stand-in that drives a thread through a
// user-mode round trip and reports why control returned to the kernel
// (there: PTRACE_ATTACH/wait4/PTRACE_GETREGS against a real stub
// process; here: decoding a tiny synthetic instruction stream directly
// out of the process's own simulated address space, since this kernel
// has no hardware privilege level to switch and no real CPU to trace).
//
// Precondition, mirrored from the ptrace platform's createStub: nothing
// else may run while Execute is in progress. Execute is the only
// construct that may suspend kernel control flow (spec.md §4.3); there
// is no separate per-process kernel stack, so the dispatch loop must
// never call Execute reentrantly from within trap handling.
package platform

import (
	"fmt"

	"github.com/rvkernel/proccore/pkg/arch"
	"github.com/rvkernel/proccore/pkg/mm"
	"github.com/rvkernel/proccore/pkg/timerdev"
)

// Opcode is the synthetic CPU's instruction set. Each instruction is
// InstrWidth (4) bytes, matching the real ecall's width so that
// LocalContext.MoveNext steps over exactly one instruction.
type Opcode byte

const (
	// OpSetA loads a 16-bit immediate into argument register a<reg>.
	OpSetA Opcode = 1
	// OpEcall traps into the kernel with the syscall number and
	// arguments already staged in a0..a7 by preceding OpSetA
	// instructions, exactly as a real `li a7, N; ecall` sequence
	// would.
	OpEcall Opcode = 2
	// OpBranchIfZero jumps by a signed instruction-count offset when
	// a<reg> == 0, otherwise falls through. This (and OpJump) exist
	// purely so test programs can express the fork-then-diverge shape
	// of spec.md §8 scenario 1 ("child execs, parent waits") without a
	// real compiled toolchain; neither opcode traps to the kernel.
	OpBranchIfZero Opcode = 3
	// OpJump jumps by a signed instruction-count offset unconditionally.
	OpJump Opcode = 4
)

// TrapCause is why Execute returned control to the kernel.
type TrapCause int

const (
	// CauseEcall is a synchronous user syscall trap.
	CauseEcall TrapCause = iota
	// CauseTimer is an asynchronous timer interrupt.
	CauseTimer
	// CauseException is any other fault: an unmapped or
	// non-executable PC, or an unrecognized opcode.
	CauseException
)

func (c TrapCause) String() string {
	switch c {
	case CauseEcall:
		return "ecall"
	case CauseTimer:
		return "timer"
	case CauseException:
		return "exception"
	default:
		return "unknown"
	}
}

// maxInstrsPerExecute bounds a single Execute call so a runaway program
// (one that never ecalls, never faults, and never hits a timer tick)
// cannot hang the single kernel stack forever; it is treated the same
// as a timer interrupt, since on real hardware the timer would
// eventually fire regardless.
const maxInstrsPerExecute = 1 << 20

// Execute runs ctx.Local's program, fetched via as's translation, until
// a trap occurs: an ecall, a timer interrupt, or an exception. It is the
// only construct that may suspend kernel control flow (spec.md §4.3);
// on return, ctx.Local has been updated to reflect user state at the
// instant of the trap, including the faulting/trapping PC.
func Execute(ctx *arch.ForeignContext, as *mm.AddressSpace, timer timerdev.Timer) (TrapCause, error) {
	for i := 0; i < maxInstrsPerExecute; i++ {
		if timer.Tick() {
			return CauseTimer, nil
		}

		raw, err := as.Translate(ctx.Local.Sepc, arch.InstrWidth, mm.PermExec)
		if err != nil {
			return CauseException, fmt.Errorf("platform: fetch at pc=%#x: %w", ctx.Local.Sepc, err)
		}

		op := Opcode(raw[0])
		switch op {
		case OpSetA:
			reg := int(raw[1])
			imm := int16(uint16(raw[2]) | uint16(raw[3])<<8)
			if reg < 0 || reg >= arch.NumArgRegs {
				return CauseException, fmt.Errorf("platform: SETA register %d out of range at pc=%#x", reg, ctx.Local.Sepc)
			}
			// Sign-extended, so a small synthetic program can load -1
			// (the waitpid wildcard target) into a register.
			*ctx.Local.AMut(reg) = uint64(int64(imm))
			ctx.Local.Sepc += arch.InstrWidth

		case OpBranchIfZero:
			reg := int(raw[3])
			if reg < 0 || reg >= arch.NumArgRegs {
				return CauseException, fmt.Errorf("platform: BRANCHZ register %d out of range at pc=%#x", reg, ctx.Local.Sepc)
			}
			offset := int16(uint16(raw[1]) | uint16(raw[2])<<8)
			if ctx.Local.A(reg) == 0 {
				ctx.Local.Sepc = uint64(int64(ctx.Local.Sepc) + int64(offset)*arch.InstrWidth)
			} else {
				ctx.Local.Sepc += arch.InstrWidth
			}

		case OpJump:
			offset := int16(uint16(raw[1]) | uint16(raw[2])<<8)
			ctx.Local.Sepc = uint64(int64(ctx.Local.Sepc) + int64(offset)*arch.InstrWidth)

		case OpEcall:
			// Do not advance Sepc here: spec.md §4.5/§5 requires
			// the saved PC to remain on the ecall instruction
			// until the syscall is known to be satisfied, so a
			// retried syscall (waitpid still-alive, read on an
			// empty console) re-enters cleanly on next dispatch.
			return CauseEcall, nil

		default:
			return CauseException, fmt.Errorf("platform: illegal opcode %d at pc=%#x", op, ctx.Local.Sepc)
		}
	}
	// A program that never traps for ~1M instructions is treated like
	// a timer preemption rather than hung forever.
	return CauseTimer, nil
}
