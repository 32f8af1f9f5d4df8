// Package mm implements the address-space collaborator named in spec.md
// §6: a simulated Sv39-shaped page table over a flat backing arena. Real
// Sv39 page-table walking and TLB management are out of scope (spec.md
// §1's "external collaborators"); this package gives the process core a
// narrow, fully-owned stand-in that honors the same contract (map,
// translate with permission checks, clone-on-fork, release-on-drop) so
// the rest of the core can be built and tested without real hardware.
package mm

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

// Perm is a page permission bitmask.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

func (p Perm) has(req Perm) bool { return p&req == req }

// PageSize is the simulated page granularity. Sv39 uses 4 KiB pages;
// this core uses a far smaller arena since it hosts synthetic programs
// rather than compiled ELF text, but the page-granular mapping and
// permission-check discipline mirrors Sv39.
const PageSize = 64

// ArenaSize is the total size of the simulated per-process virtual
// address space.
const ArenaSize = 1 << 16 // 64 KiB, 1024 pages

// AddressSpace is a process's private virtual memory: a backing byte
// arena plus a per-page permission/mapped table. The zero value is not
// usable; construct with New.
type AddressSpace struct {
	mem   []byte
	perms []Perm // len == ArenaSize/PageSize; 0 means unmapped
	root  uint64 // synthetic root frame number, unique per AddressSpace
}

var nextRootFrame uint64 = 1

// New returns a fresh, empty address space.
func New() *AddressSpace {
	as := &AddressSpace{
		mem:   make([]byte, ArenaSize),
		perms: make([]Perm, ArenaSize/PageSize),
		root:  nextRootFrame,
	}
	nextRootFrame++
	return as
}

// RootFrame returns the physical frame number of the root page table,
// as composed into satp by arch.ComposeSatp.
func (as *AddressSpace) RootFrame() uint64 { return as.root }

func pageOf(vaddr uint64) int { return int(vaddr / PageSize) }

// MapSegment maps data at vaddr with the given permissions, as if it
// were a loadable ELF segment. The region must lie within the arena and
// must not already be (partially) mapped.
func (as *AddressSpace) MapSegment(vaddr uint64, data []byte, flags Perm) error {
	if vaddr+uint64(len(data)) > ArenaSize {
		return fmt.Errorf("mm: segment at %#x size %d exceeds arena", vaddr, len(data))
	}
	first, last := pageOf(vaddr), pageOf(vaddr+uint64(len(data))-1)
	if len(data) == 0 {
		last = first
	}
	for p := first; p <= last; p++ {
		if as.perms[p] != 0 {
			return fmt.Errorf("mm: page %d already mapped", p)
		}
	}
	copy(as.mem[vaddr:], data)
	for p := first; p <= last; p++ {
		as.perms[p] = flags
	}
	return nil
}

// MapUserStack maps a zeroed, read/write region of size bytes whose
// highest address is topVaddr (exclusive), mirroring a stack that grows
// down from the top of the user region.
func (as *AddressSpace) MapUserStack(topVaddr uint64, size int) error {
	base := topVaddr - uint64(size)
	return as.MapSegment(base, make([]byte, size), PermRead|PermWrite)
}

// PortalVaddr is the virtual address, common to every address space,
// where the trap trampoline is mapped (spec.md §4.4, glossary
// "Portal/Trampoline").
const PortalVaddr uint64 = ArenaSize - PageSize

// trampoline is a stand-in payload for the shared trampoline page. Its
// content is never executed by the synthetic CPU; it exists so that
// invariants about the portal staying mapped across exec are testable.
var trampoline = []byte("PORTAL")

// MapPortal maps the shared trampoline page at PortalVaddr.
func (as *AddressSpace) MapPortal() error {
	return as.MapSegment(PortalVaddr, trampoline, PermRead|PermExec)
}

// Translate validates that [vaddr, vaddr+length) is fully mapped with at
// least the required permission and returns a slice view onto the
// backing arena for the caller to read or write directly (standing in
// for a kernel virtual-to-physical translation of a user pointer).
func (as *AddressSpace) Translate(vaddr uint64, length int, required Perm) ([]byte, error) {
	if length < 0 || vaddr+uint64(length) > ArenaSize {
		return nil, fmt.Errorf("mm: address %#x length %d out of range", vaddr, length)
	}
	if length == 0 {
		return as.mem[vaddr:vaddr], nil
	}
	first, last := pageOf(vaddr), pageOf(vaddr+uint64(length)-1)
	for p := first; p <= last; p++ {
		if !as.perms[p].has(required) {
			return nil, fmt.Errorf("mm: page %d not mapped with permission %v", p, required)
		}
	}
	return as.mem[vaddr : vaddr+uint64(length)], nil
}

// TranslateCString reads a NUL-terminated string starting at vaddr,
// translating one byte at a time so that a string is rejected the moment it
// crosses into unmapped memory rather than reading past the arena.
func (as *AddressSpace) TranslateCString(vaddr uint64, maxLen int) (string, error) {
	buf := make([]byte, 0, 32)
	for i := 0; i < maxLen; i++ {
		b, err := as.Translate(vaddr+uint64(i), 1, PermRead)
		if err != nil {
			return "", fmt.Errorf("mm: reading string at %#x: %w", vaddr, err)
		}
		if b[0] == 0 {
			return string(buf), nil
		}
		buf = append(buf, b[0])
	}
	return "", fmt.Errorf("mm: string at %#x exceeds %d bytes unterminated", vaddr, maxLen)
}

// CloneInto performs a full deep copy of as's mapped memory and
// permissions into dst, which must be freshly constructed via New (so
// that dst keeps its own root frame number). No frames are shared
// between as and dst afterward, satisfying spec.md §4.4's "no COW"
// requirement for fork.
func (as *AddressSpace) CloneInto(dst *AddressSpace) error {
	if dst == nil {
		return fmt.Errorf("mm: CloneInto requires a non-nil destination")
	}
	memCopy, ok := deepcopy.Copy(as.mem).([]byte)
	if !ok || len(memCopy) != len(as.mem) {
		return fmt.Errorf("mm: deep copy of backing arena failed")
	}
	permCopy, ok := deepcopy.Copy(as.perms).([]Perm)
	if !ok || len(permCopy) != len(as.perms) {
		return fmt.Errorf("mm: deep copy of permission table failed")
	}
	dst.mem = memCopy
	dst.perms = permCopy
	return nil
}

// Release marks the address space's backing memory for collection. It
// is idempotent; calling it is equivalent to letting the AddressSpace be
// garbage collected, but makes the release point explicit at the call
// sites that must free resources eagerly (e.g. Process exit).
func (as *AddressSpace) Release() {
	as.mem = nil
	as.perms = nil
}
