// Package uprog assembles the tiny synthetic instruction stream that
// stands in for compiled RISC-V user code in this core (see the package
// doc of pkg/platform for why), and packages it into a real ELF64
// image so that the full boot path — elfimage.Parse, mm.AddressSpace
// mapping, arch.LocalContext, platform.Execute — is exercised exactly as
// it would be for a genuine compiled application.
package uprog

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/rvkernel/proccore/pkg/arch"
	"github.com/rvkernel/proccore/pkg/platform"
)

// Instr is one 4-byte synthetic instruction.
type Instr [arch.InstrWidth]byte

// SetA encodes an instruction that loads a sign-extended 16-bit
// immediate into argument register a<reg> (so -1, the waitpid wildcard
// target, is representable).
func SetA(reg byte, imm int16) Instr {
	var in Instr
	in[0] = byte(platform.OpSetA)
	in[1] = reg
	in[2] = byte(uint16(imm))
	in[3] = byte(uint16(imm) >> 8)
	return in
}

// Ecall encodes a trap instruction.
func Ecall() Instr {
	var in Instr
	in[0] = byte(platform.OpEcall)
	return in
}

// BranchIfZero encodes a jump of offset instructions (may be negative),
// taken only when a<reg> == 0.
func BranchIfZero(reg byte, offset int16) Instr {
	var in Instr
	in[0] = byte(platform.OpBranchIfZero)
	in[1] = byte(uint16(offset))
	in[2] = byte(uint16(offset) >> 8)
	in[3] = reg
	return in
}

// Jump encodes an unconditional jump of offset instructions (may be
// negative).
func Jump(offset int16) Instr {
	var in Instr
	in[0] = byte(platform.OpJump)
	in[1] = byte(uint16(offset))
	in[2] = byte(uint16(offset) >> 8)
	return in
}

// Syscall encodes the standard `li a0, args[0]; ...; li a7, num; ecall`
// sequence for invoking syscall num with up to 7 arguments.
func Syscall(num int16, args ...int16) []Instr {
	var prog []Instr
	for i, a := range args {
		prog = append(prog, SetA(byte(i), a))
	}
	prog = append(prog, SetA(7, num))
	prog = append(prog, Ecall())
	return prog
}

// Assemble concatenates instructions into a flat byte stream.
func Assemble(instrs ...Instr) []byte {
	buf := make([]byte, 0, len(instrs)*arch.InstrWidth)
	for _, in := range instrs {
		buf = append(buf, in[:]...)
	}
	return buf
}

// AssembleWithLayout assembles instrs, then appends each byte region in
// regions back to back, returning the finished text and the virtual
// address each region starts at (same order as given). A region that is
// all zeros (make([]byte, n)) serves as scratch read/write storage
// (BuildELF's single segment carries PF_W); a region with real content
// embeds fixed data, such as an exec target's name. This is how a test
// program gets a buffer/string pointer it can bake into a SetA
// immediate without hand-computing addresses against textBase.
func AssembleWithLayout(instrs []Instr, regions ...[]byte) (text []byte, vaddrs []uint64) {
	text = Assemble(instrs...)
	vaddrs = make([]uint64, len(regions))
	next := textBase + uint64(len(text))
	for i, r := range regions {
		vaddrs[i] = next
		text = append(text, r...)
		next += uint64(len(r))
	}
	return text, vaddrs
}

const (
	textBase = uint64(0x1000)
	ehdrSize = 64
	phdrSize = 56
)

// BuildELF packages a synthetic text stream into a minimal, valid
// ELF64 RISC-V executable with a single PT_LOAD segment (PF_R|PF_W|PF_X)
// containing text at textBase, and entry set to the start of text. The
// segment carries PF_W as well as PF_X so that a synthetic program can
// use trailing bytes past its last reachable instruction as scratch
// read/write storage (e.g. a waitpid status word, a read buffer)
// without a second PT_LOAD segment. It is a test/boot-image helper, not
// a general linker: real applications are expected to arrive as
// compiler/linker output, which elfimage.Parse reads through debug/elf
// exactly as it would any other ELF64 binary.
func BuildELF(text []byte) []byte {
	var buf bytes.Buffer

	// e_ident
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2 /* ELFCLASS64 */, 1 /* ELFDATA2LSB */, 1 /* EV_CURRENT */, 0})
	buf.Write(make([]byte, 8)) // pad to 16

	ehdr := struct {
		Type, Machine   uint16
		Version         uint32
		Entry           uint64
		Phoff, Shoff    uint64
		Flags           uint32
		Ehsize, Phentsz uint16
		Phnum           uint16
		Shentsz, Shnum  uint16
		Shstrndx        uint16
	}{
		Type:    uint16(elf.ET_EXEC),
		Machine: uint16(elf.EM_RISCV),
		Version: 1,
		Entry:   textBase,
		Phoff:   ehdrSize,
		Ehsize:  ehdrSize,
		Phentsz: phdrSize,
		Phnum:   1,
	}
	binary.Write(&buf, binary.LittleEndian, ehdr)

	phdr := struct {
		Type, Flags          uint32
		Offset, Vaddr, Paddr uint64
		Filesz, Memsz, Align uint64
	}{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_W | elf.PF_X),
		Offset: ehdrSize + phdrSize,
		Vaddr:  textBase,
		Paddr:  textBase,
		Filesz: uint64(len(text)),
		Memsz:  uint64(len(text)),
		Align:  8,
	}
	binary.Write(&buf, binary.LittleEndian, phdr)

	buf.Write(text)
	return buf.Bytes()
}
