// Package arch provides the architecture-dependent pieces of a suspended
// user thread: the saved register file and the address-translation root
// needed to resume it (spec.md §3, §4.3). It is modeled on gVisor's
// pkg/sentry/arch.Context64, which plays the same role for amd64/arm64
// tracees: a fixed-shape register save area plus small accessors for the
// fields syscall handlers and the scheduler actually touch.
package arch

import "fmt"

// Register indices into LocalContext.X, following the RISC-V calling
// convention: a0..a7 are x10..x17, sp is x2, ra is x1.
const (
	regSP = 2
	regA0 = 10
)

// NumArgRegs is the number of general-purpose argument/return slots a
// syscall handler may read or write: a0..a6 carry arguments and the
// return value, a7 (index 7) carries the syscall number.
const NumArgRegs = 8

// InstrWidth is the fixed width of the ecall trap instruction on RV64,
// used by MoveNext to step the saved PC past a completed syscall.
const InstrWidth = 4

// LocalContext is the register file of a suspended user thread: the
// general-purpose registers (x0..x31, of which a0..a7/x10..x17 are the
// syscall argument/return and number slots), the saved program counter,
// and PC-advance bookkeeping (spec.md §3 "ForeignContext").
type LocalContext struct {
	X    [32]uint64
	Sepc uint64
}

// NewLocalContext returns a LocalContext for a freshly loaded image:
// user-mode PC at entry, stack pointer at the top of the mapped user
// stack, all other registers zeroed.
func NewLocalContext(entry, sp uint64) LocalContext {
	var lc LocalContext
	lc.Sepc = entry
	lc.X[regSP] = sp
	return lc
}

// AMut returns a mutable reference to argument/return slot a<i>
// (0 <= i < NumArgRegs), matching spec.md §4.3's `a_mut(i)`.
func (lc *LocalContext) AMut(i int) *uint64 {
	if i < 0 || i >= NumArgRegs {
		panic(fmt.Sprintf("arch: argument register index %d out of range", i))
	}
	return &lc.X[regA0+i]
}

// A returns argument/return slot a<i> by value.
func (lc *LocalContext) A(i int) uint64 { return *lc.AMut(i) }

// SPMut returns a mutable reference to the stack pointer.
func (lc *LocalContext) SPMut() *uint64 { return &lc.X[regSP] }

// MoveNext advances the saved PC past the 4-byte ecall instruction that
// trapped into the kernel. Called only for syscalls that have been fully
// satisfied and should resume the user program at the next instruction;
// a syscall that must be retried (waitpid on a still-live child, read on
// an empty console) leaves Sepc untouched so the next dispatch re-enters
// the same ecall.
func (lc *LocalContext) MoveNext() {
	lc.Sepc += InstrWidth
}

// Fork returns a byte-for-byte copy of lc, as required for a child to
// resume at the parent's PC with identical registers (spec.md §4.4,
// "clone the parent's LocalContext verbatim").
func (lc LocalContext) Fork() LocalContext {
	return lc
}

// ForeignContext pairs a suspended user thread's register file with the
// address-translation root (Satp) of the address space it must run
// against (spec.md §3). A ForeignContext is only meaningful alongside
// that address space; the kernel must never retain one after the
// address space it refers to has been released.
type ForeignContext struct {
	Local LocalContext
	Satp  uint64
}

// ComposeSatp builds the Sv39 satp value (mode bits || root frame
// number) from a root page-table frame number. Bits 63..60 hold the mode
// (8 selects Sv39); the low bits hold the PPN of the root table.
func ComposeSatp(rootFrame uint64) uint64 {
	const sv39Mode = uint64(8) << 60
	return sv39Mode | rootFrame
}
