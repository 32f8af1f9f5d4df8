// Package kernel implements the process control block, process manager,
// and dispatch loop — spec.md §4.4, §4.5, and §2 components C4, C5, C6.
// It is grounded on gVisor's pkg/sentry/kernel (Task/TaskSet/ThreadGroup
// own a PID, a register context, and an address space the same way),
// generalized down to the single-hart, cooperative, no-COW-fork model
// spec.md describes.
package kernel

import (
	"debug/elf"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/rvkernel/proccore/pkg/arch"
	"github.com/rvkernel/proccore/pkg/elfimage"
	"github.com/rvkernel/proccore/pkg/klog"
	"github.com/rvkernel/proccore/pkg/mm"
	"github.com/rvkernel/proccore/pkg/procid"
)

var procLog = klog.For("kernel")

// UserStackSize is the fixed size of the user stack mapped for every
// loaded image (spec.md §4.4: "allocate and map a fixed-size user
// stack at a high virtual address").
const UserStackSize = 4096

// UserStackTop is the high virtual address immediately below the
// shared trampoline page; the stack grows down from here.
var UserStackTop = mm.PortalVaddr

// Process is the PCB described in spec.md §3: a PID, a saved user
// context, an owned address space, and the user heap window.
type Process struct {
	ID         procid.ID
	Ctx        arch.ForeignContext
	AS         *mm.AddressSpace
	HeapBottom uint64
	ProgramBrk uint64

	// readProgress is how many of the requested bytes a still-in-flight
	// read syscall has already delivered into the user buffer. It
	// survives a retry because a retry never advances the saved PC, so
	// the syscall re-enters with the identical fd/buf/n arguments
	// (spec.md §9, "the byte is awaited across scheduling quanta").
	readProgress int
}

// builtImage is the set of fields that change together on a fresh load
// (from_elf) or a replacement load (exec), factored out so exec can
// reuse from_elf's mapping logic without minting a new PID.
type builtImage struct {
	as         *mm.AddressSpace
	ctx        arch.ForeignContext
	heapBottom uint64
	programBrk uint64
}

func permFromELF(f elf.ProgFlag) mm.Perm {
	var p mm.Perm
	if f&elf.PF_R != 0 {
		p |= mm.PermRead
	}
	if f&elf.PF_W != 0 {
		p |= mm.PermWrite
	}
	if f&elf.PF_X != 0 {
		p |= mm.PermExec
	}
	return p
}

// buildImage parses image and maps every loadable segment plus the user
// stack and trampoline into a fresh address space. On any failure it
// releases whatever it managed to build (no leak, per spec.md §4.4) and
// returns every mapping error it encountered, aggregated with
// github.com/hashicorp/go-multierror so a caller auditing a failed boot
// sees the complete picture instead of only the first failure.
func buildImage(image []byte) (*builtImage, error) {
	parsed, err := elfimage.Parse(image)
	if err != nil {
		return nil, fmt.Errorf("kernel: %w", err)
	}

	as := mm.New()
	var mapErr *multierror.Error
	var maxEnd uint64
	for _, seg := range parsed.Segments {
		if err := as.MapSegment(seg.Vaddr, seg.Data, permFromELF(seg.Flags)); err != nil {
			mapErr = multierror.Append(mapErr, err)
			continue
		}
		if end := seg.Vaddr + uint64(len(seg.Data)); end > maxEnd {
			maxEnd = end
		}
	}
	if err := as.MapUserStack(UserStackTop, UserStackSize); err != nil {
		mapErr = multierror.Append(mapErr, err)
	}
	if err := as.MapPortal(); err != nil {
		mapErr = multierror.Append(mapErr, err)
	}
	if mapErr.ErrorOrNil() != nil {
		as.Release()
		return nil, fmt.Errorf("kernel: mapping image: %w", mapErr.ErrorOrNil())
	}

	heapBottom := roundUpPage(maxEnd)
	return &builtImage{
		as:         as,
		ctx:        arch.ForeignContext{Local: arch.NewLocalContext(parsed.Entry, UserStackTop), Satp: arch.ComposeSatp(as.RootFrame())},
		heapBottom: heapBottom,
		programBrk: heapBottom,
	}, nil
}

func roundUpPage(v uint64) uint64 {
	if rem := v % mm.PageSize; rem != 0 {
		return v + (mm.PageSize - rem)
	}
	return v
}

// FromELF parses image, builds a fresh address space for it, allocates
// a PID, and returns the new Process — spec.md §4.4. It returns an
// error rather than a partially valid Process on any failure.
func FromELF(alloc *procid.Allocator, image []byte) (*Process, error) {
	b, err := buildImage(image)
	if err != nil {
		return nil, err
	}
	pid, err := alloc.New()
	if err != nil {
		b.as.Release()
		return nil, fmt.Errorf("kernel: allocating pid: %w", err)
	}
	procLog.Infof("loaded image as %s, entry=%#x", pid, b.ctx.Local.Sepc)
	return &Process{ID: pid, Ctx: b.ctx, AS: b.as, HeapBottom: b.heapBottom, ProgramBrk: b.programBrk}, nil
}

// Exec replaces p's address space, context, and heap markers in place
// with a fresh load of image, preserving p.ID (spec.md §4.4, §8 law
// "Exec replacement"). On failure p is left completely untouched,
// matching spec.md §8 scenario 5 ("process continues ... with its
// original address space intact").
func (p *Process) Exec(image []byte) error {
	b, err := buildImage(image)
	if err != nil {
		return err
	}
	old := p.AS
	p.AS = b.as
	p.Ctx = b.ctx
	p.HeapBottom = b.heapBottom
	p.ProgramBrk = b.programBrk
	old.Release()
	procLog.Infof("%s exec'd, entry=%#x", p.ID, b.ctx.Local.Sepc)
	return nil
}

// Fork allocates a new PID, deep-copies p's address space (no COW, per
// spec.md §4.4), and clones p's register context verbatim so the child
// resumes at the same PC with identical registers. The caller (the
// fork syscall handler) is responsible for zeroing the child's a0 and
// setting the parent's a0 to the child's PID.
func (p *Process) Fork(alloc *procid.Allocator) (*Process, error) {
	childAS := mm.New()
	if err := p.AS.CloneInto(childAS); err != nil {
		return nil, fmt.Errorf("kernel: cloning address space: %w", err)
	}
	pid, err := alloc.New()
	if err != nil {
		childAS.Release()
		return nil, fmt.Errorf("kernel: allocating pid: %w", err)
	}
	child := &Process{
		ID:         pid,
		Ctx:        arch.ForeignContext{Local: p.Ctx.Local.Fork(), Satp: arch.ComposeSatp(childAS.RootFrame())},
		AS:         childAS,
		HeapBottom: p.HeapBottom,
		ProgramBrk: p.ProgramBrk,
	}
	procLog.Infof("%s forked -> %s", p.ID, pid)
	return child, nil
}

// Release frees p's address space without reclaiming its PID; used
// internally by ProcManager when a process exits (spec.md §9: the
// PID handle outlives its Process in the zombie table until reaped).
func (p *Process) Release() {
	p.AS.Release()
}
