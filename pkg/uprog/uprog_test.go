package uprog

import (
	"testing"

	"github.com/rvkernel/proccore/pkg/elfimage"
)

func TestBuildELFRoundTrips(t *testing.T) {
	text := Assemble(Syscall(4)) // getpid
	raw := BuildELF(text)

	img, err := elfimage.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if img.Entry != textBase {
		t.Fatalf("entry = %#x, want %#x", img.Entry, textBase)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(img.Segments))
	}
	seg := img.Segments[0]
	if seg.Vaddr != textBase {
		t.Fatalf("segment vaddr = %#x, want %#x", seg.Vaddr, textBase)
	}
	if string(seg.Data) != string(text) {
		t.Fatalf("segment data does not match assembled text")
	}
}

func TestSetASignExtends(t *testing.T) {
	in := SetA(0, -1)
	imm := int16(uint16(in[2]) | uint16(in[3])<<8)
	if imm != -1 {
		t.Fatalf("imm = %d, want -1", imm)
	}
}

func TestSyscallEncodesNumberInA7(t *testing.T) {
	prog := Syscall(7, 1, 2)
	if len(prog) != 4 {
		t.Fatalf("len(prog) = %d, want 4 (two arg SetAs + a7 SetA + ecall)", len(prog))
	}
	setA7 := prog[len(prog)-2]
	if setA7[0] != byte(1) || setA7[1] != 7 { // platform.OpSetA == 1, register a7
		t.Fatalf("second-to-last instruction = %v, want SetA into a7", setA7)
	}
	if num := int16(uint16(setA7[2]) | uint16(setA7[3])<<8); num != 7 {
		t.Fatalf("a7 immediate = %d, want syscall number 7", num)
	}
	last := prog[len(prog)-1]
	if op := last[0]; op != byte(2) { // platform.OpEcall == 2
		t.Fatalf("last instruction opcode = %d, want OpEcall(2)", op)
	}
}
