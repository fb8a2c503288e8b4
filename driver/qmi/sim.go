package qmi

import (
	"errors"
)

// Sim simulates the interface register file with a serial flash
// device behind it, for exercising programming sequences on the
// host. The zero value is an unprogrammed interface in front of
// an awake, erased device.
type Sim struct {
	// BusyReads is the number of DIRECT_CSR reads that observe
	// the BUSY flag after each direct mode operation.
	BusyReads int
	// PoweredDown starts the flash device in deep power-down.
	// In that state the device ignores everything but the
	// release command and its data lines idle high.
	PoweredDown bool
	// Flash is the device content. Reads beyond it return the
	// erased value 0xff.
	Flash []byte

	// Ops records every register access in order.
	Ops []Op
	// Err records the first protocol violation.
	Err error

	regs     [nregs]uint32
	busyLeft int
	pending  []uint32
	rx       []uint32
}

// Op is one recorded register access.
type Op struct {
	Write bool
	Off   uint32
	Val   uint32
}

const nregs = M1_RCMD/4 + 1

func NewSim() *Sim {
	return &Sim{}
}

func (s *Sim) Read32(off uint32) uint32 {
	v := s.read(off)
	s.Ops = append(s.Ops, Op{Off: off, Val: v})
	return v
}

func (s *Sim) Write32(off, val uint32) {
	s.Ops = append(s.Ops, Op{Write: true, Off: off, Val: val})
	switch off {
	case DIRECT_CSR:
		was := s.regs[DIRECT_CSR/4]
		s.regs[DIRECT_CSR/4] = val &^ DIRECT_CSR_BUSY
		if was&DIRECT_CSR_EN == 0 && val&DIRECT_CSR_EN != 0 {
			// Enabling direct mode interrupts any in-flight XIP
			// transfer. It reads as busy until drained.
			s.busyLeft = s.BusyReads
		}
	case DIRECT_TX:
		if s.regs[DIRECT_CSR/4]&DIRECT_CSR_EN == 0 {
			s.violation("DIRECT_TX write with direct mode disabled")
			return
		}
		s.pending = append(s.pending, s.command(byte(val)))
		s.busyLeft = s.BusyReads
		if s.busyLeft == 0 {
			s.complete()
		}
	case DIRECT_RX:
		s.violation("write to read-only DIRECT_RX")
	default:
		s.regs[regIdx(off)] = val
	}
}

func (s *Sim) read(off uint32) uint32 {
	switch off {
	case DIRECT_CSR:
		csr := s.regs[DIRECT_CSR/4]
		if s.busyLeft > 0 {
			s.busyLeft--
			if s.busyLeft == 0 {
				s.complete()
			}
			csr |= DIRECT_CSR_BUSY
		}
		csr |= DIRECT_CSR_TXEMPTY
		if len(s.rx) == 0 {
			csr |= DIRECT_CSR_RXEMPTY
		}
		return csr
	case DIRECT_RX:
		if len(s.rx) == 0 {
			s.violation("DIRECT_RX read with empty FIFO")
			return 0
		}
		v := s.rx[0]
		s.rx = s.rx[1:]
		return v
	default:
		return s.regs[regIdx(off)]
	}
}

// complete finishes the in-flight transfer, making its responses
// readable.
func (s *Sim) complete() {
	s.rx = append(s.rx, s.pending...)
	s.pending = nil
}

// command clocks one command byte into the flash device and
// returns the byte shifted out while it transferred.
func (s *Sim) command(b byte) uint32 {
	if s.PoweredDown {
		if b == CmdReleasePowerDown {
			s.PoweredDown = false
		}
		return 0xff
	}
	switch b {
	case CmdPowerDown:
		s.PoweredDown = true
	case CmdReadStatus:
		return 0x00
	}
	return 0xff
}

// ReadXIP services a load from the XIP address range the way the
// interface would frame it through window 0.
func (s *Sim) ReadXIP(addr uint32) (byte, error) {
	if s.regs[DIRECT_CSR/4]&DIRECT_CSR_EN != 0 {
		return 0, errors.New("XIP read in direct mode")
	}
	if s.regs[M0_TIMING/4]&M0_TIMING_CLKDIV_Msk == 0 {
		return 0, errors.New("zero SCK divisor")
	}
	if s.regs[M0_RFMT/4] != 0b1<<M0_RFMT_PREFIX_LEN_Pos {
		return 0, errors.New("read format not simulated")
	}
	if s.regs[M0_RCMD/4]&M0_RCMD_PREFIX_Msk != CmdRead {
		return 0, errors.New("read command not simulated")
	}
	if s.PoweredDown {
		// The device ignores the command and leaves the data
		// lines idle.
		return 0xff, nil
	}
	if int(addr) < len(s.Flash) {
		return s.Flash[addr], nil
	}
	return 0xff, nil
}

// Peek returns a register without recording an access.
func (s *Sim) Peek(off uint32) uint32 {
	return s.regs[regIdx(off)]
}

func (s *Sim) violation(msg string) {
	if s.Err == nil {
		s.Err = errors.New(msg)
	}
}

func regIdx(off uint32) int {
	if off%4 != 0 || M1_RCMD < off {
		panic("invalid register offset")
	}
	return int(off / 4)
}
