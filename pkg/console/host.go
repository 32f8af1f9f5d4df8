//go:build linux

package console

import (
	"golang.org/x/sys/unix"
)

// Host is a Console backed by a real file descriptor (typically stdin)
// put into non-blocking mode, grounded on golang.org/x/sys/unix, the
// same dependency runsc's ptrace platform uses for every raw syscall.
// A single byte is read per GetChar call; EAGAIN/EWOULDBLOCK is
// translated to "no byte available" per the SBI getchar() contract.
type Host struct {
	fd int
}

// NewHost wraps fd (already open) as a non-blocking Console. The caller
// retains ownership of fd and must close it.
func NewHost(fd int) (*Host, error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return nil, err
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &Host{fd: fd}, nil
}

// GetChar implements Console.
func (h *Host) GetChar() int32 {
	var b [1]byte
	n, err := unix.Read(h.fd, b[:])
	if err != nil || n == 0 {
		return 0
	}
	return int32(b[0])
}
