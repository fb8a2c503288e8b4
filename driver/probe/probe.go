// package probe drives a register bridge: a small firmware stub
// on the target that executes single 32-bit register accesses on
// behalf of the host, one command frame at a time. The bring-up
// tools use it to reach the QSPI memory interface of a target
// that cannot yet run code from flash.
package probe

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
)

// Frames start with a command byte the bridge echoes back,
// followed by little-endian words.
const (
	readCmd  = 0x01
	writeCmd = 0x02
)

// Probe executes register accesses through a bridge. It can back
// a qmi.Device directly; transport failures are sticky and
// reported by Err.
type Probe struct {
	dev    io.ReadWriter
	logger *slog.Logger
	err    error
}

type Options struct {
	// Logger receives a debug record per register access.
	Logger *slog.Logger
}

func New(dev io.ReadWriter, opts Options) *Probe {
	return &Probe{dev: dev, logger: opts.Logger}
}

// Read32 executes a register read on the target. After a failure
// it returns zero, which reads as an idle status to busy polling
// loops; the loops terminate instead of spinning on a dead
// transport, and the failure surfaces through Err.
func (p *Probe) Read32(off uint32) uint32 {
	var frame [5]byte
	frame[0] = readCmd
	binary.LittleEndian.PutUint32(frame[1:], off)
	p.write(frame[:])
	p.expect(readCmd)
	var word [4]byte
	p.read(word[:])
	if p.err != nil {
		return 0
	}
	val := binary.LittleEndian.Uint32(word[:])
	p.debug("read32", slog.Uint64("off", uint64(off)), slog.Uint64("val", uint64(val)))
	return val
}

// Write32 executes a register write on the target.
func (p *Probe) Write32(off, val uint32) {
	var frame [9]byte
	frame[0] = writeCmd
	binary.LittleEndian.PutUint32(frame[1:], off)
	binary.LittleEndian.PutUint32(frame[5:], val)
	p.write(frame[:])
	p.expect(writeCmd)
	if p.err != nil {
		return
	}
	p.debug("write32", slog.Uint64("off", uint64(off)), slog.Uint64("val", uint64(val)))
}

// Err returns the first transport failure, if any. Accesses
// after a failure are not executed.
func (p *Probe) Err() error {
	return p.err
}

func (p *Probe) write(frame []byte) {
	if p.err != nil {
		return
	}
	_, p.err = p.dev.Write(frame)
}

func (p *Probe) read(data []byte) {
	if p.err != nil {
		return
	}
	_, p.err = io.ReadFull(p.dev, data)
}

func (p *Probe) expect(echo byte) {
	var got [1]byte
	p.read(got[:])
	if p.err == nil && got[0] != echo {
		p.err = fmt.Errorf("probe: unexpected reply %#x, want %#x", got[0], echo)
	}
}

func (p *Probe) debug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}
