//go:build linux

package console

import (
	"os"

	ctrconsole "github.com/containerd/console"
	"github.com/kr/pty"
)

// PTY is a Console backed by a pseudo-terminal: the master side is put
// into raw mode via github.com/containerd/console (so the attached
// program's input isn't line-buffered or echoed), and bytes written to
// the slave side (e.g. by a test driving `cmd/rvkernel run`, or an
// attached human) are forwarded byte-by-byte. It is the realistic
// stand-in for scenario 6 of spec.md §8: a human or test harness can
// type/feed bytes at any pace and observe the kernel's `read` syscall
// pick them up only as each scheduling quantum polls the console.
type PTY struct {
	master ctrconsole.Console
	slave  *os.File
}

// NewPTY allocates a fresh pty pair via github.com/kr/pty and puts the
// master side in raw mode.
func NewPTY() (*PTY, error) {
	masterFile, slaveFile, err := pty.Open()
	if err != nil {
		return nil, err
	}
	master, err := ctrconsole.ConsoleFromFile(masterFile)
	if err != nil {
		masterFile.Close()
		slaveFile.Close()
		return nil, err
	}
	if err := master.SetRaw(); err != nil {
		masterFile.Close()
		slaveFile.Close()
		return nil, err
	}
	return &PTY{master: master, slave: slaveFile}, nil
}

// Slave returns the pty's slave-side file, for a harness to write test
// input into (simulating keystrokes) or attach to a real terminal.
func (p *PTY) Slave() *os.File { return p.slave }

// GetChar implements Console. The master side is expected to already be
// in non-blocking mode (SetRaw does not imply non-blocking on its own,
// so callers that need strict non-blocking semantics should pair PTY
// with a select/poll loop; GetChar here performs a single best-effort
// read and treats any error, including EAGAIN, as "no byte").
func (p *PTY) GetChar() int32 {
	var b [1]byte
	n, err := p.master.Read(b[:])
	if err != nil || n == 0 {
		return 0
	}
	return int32(b[0])
}

// Close releases the pty pair.
func (p *PTY) Close() error {
	err1 := p.master.Close()
	err2 := p.slave.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
