// Package elfimage is the ELF-parsing collaborator named in spec.md §6.
// Real ELF parsing is explicitly out of scope for the process-management
// core ("consumed through narrow interfaces"); this package is the
// narrow interface, implemented on top of the standard library's
// debug/elf rather than a hand-rolled parser, since ELF parsing has
// nothing to do with process/scheduler semantics and the standard
// library already does it correctly.
package elfimage

import (
	"bytes"
	"debug/elf"
	"fmt"
)

// Segment is one loadable segment of a parsed image: a virtual address,
// its initial contents, and the permissions it should be mapped with.
type Segment struct {
	Vaddr uint64
	Data  []byte
	Flags elf.ProgFlag
}

// Image is the result of parsing an ELF byte image: an entry point and
// the loadable segments that must be mapped to run it.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Parse decodes an ELF64 image and returns its entry point and loadable
// (PT_LOAD) segments. It returns an error — never panics — on a
// malformed image, per spec.md §4.4 ("from_elf ... Return None if ELF
// parsing ... fails").
func Parse(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("elfimage: malformed image: %w", err)
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, fmt.Errorf("elfimage: unsupported ELF type %v", f.Type)
	}

	img := &Image{Entry: f.Entry}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(buf, 0); err != nil {
			return nil, fmt.Errorf("elfimage: reading segment at %#x: %w", prog.Vaddr, err)
		}
		if prog.Memsz > prog.Filesz {
			buf = append(buf, make([]byte, prog.Memsz-prog.Filesz)...)
		}
		img.Segments = append(img.Segments, Segment{
			Vaddr: prog.Vaddr,
			Data:  buf,
			Flags: prog.Flags,
		})
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("elfimage: no loadable segments")
	}
	return img, nil
}
