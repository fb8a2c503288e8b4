// Package qmi implements a driver for the QSPI memory interface
// on the rp2350 microcontroller. The interface translates loads
// from the XIP address range into framed serial flash
// transactions, and exposes a direct mode for issuing device
// commands by hand. The register layout is described in section
// 12.14 of the rp2350 [datasheet].
//
// [datasheet]: https://datasheets.raspberrypi.com/rp2350/rp2350-datasheet.pdf
package qmi

// XIPBase is the bus address window 0 translates.
const XIPBase = 0x10000000

// Register byte offsets from the interface base.
const (
	DIRECT_CSR = 0x00
	DIRECT_TX  = 0x04
	DIRECT_RX  = 0x08
	M0_TIMING  = 0x0c
	M0_RFMT    = 0x10
	M0_RCMD    = 0x14
	M1_TIMING  = 0x18
	M1_RFMT    = 0x1c
	M1_RCMD    = 0x20
)

// DIRECT_CSR fields.
const (
	DIRECT_CSR_EN          = 0b1 << 0
	DIRECT_CSR_BUSY        = 0b1 << 1
	DIRECT_CSR_ASSERT_CS0N = 0b1 << 2
	DIRECT_CSR_ASSERT_CS1N = 0b1 << 3
	DIRECT_CSR_AUTO_CS0N   = 0b1 << 6
	DIRECT_CSR_AUTO_CS1N   = 0b1 << 7
	DIRECT_CSR_TXFULL      = 0b1 << 10
	DIRECT_CSR_TXEMPTY     = 0b1 << 11
	DIRECT_CSR_RXEMPTY     = 0b1 << 16
	DIRECT_CSR_RXFULL      = 0b1 << 17
	DIRECT_CSR_CLKDIV_Pos  = 22
	DIRECT_CSR_CLKDIV_Msk  = 0xff << DIRECT_CSR_CLKDIV_Pos
	DIRECT_CSR_RXDELAY_Pos = 30
	DIRECT_CSR_RXDELAY_Msk = 0b11 << DIRECT_CSR_RXDELAY_Pos
)

// M0_TIMING fields. The M1 window has the same layout.
const (
	M0_TIMING_CLKDIV_Pos       = 0
	M0_TIMING_CLKDIV_Msk       = 0xff << M0_TIMING_CLKDIV_Pos
	M0_TIMING_RXDELAY_Pos      = 8
	M0_TIMING_RXDELAY_Msk      = 0b111 << M0_TIMING_RXDELAY_Pos
	M0_TIMING_MIN_DESELECT_Pos = 12
	M0_TIMING_MIN_DESELECT_Msk = 0b11111 << M0_TIMING_MIN_DESELECT_Pos
	M0_TIMING_MAX_SELECT_Pos   = 17
	M0_TIMING_MAX_SELECT_Msk   = 0b111111 << M0_TIMING_MAX_SELECT_Pos
	M0_TIMING_SELECT_HOLD_Pos  = 23
	M0_TIMING_SELECT_HOLD_Msk  = 0b11 << M0_TIMING_SELECT_HOLD_Pos
	M0_TIMING_SELECT_SETUP_Pos = 25
	M0_TIMING_SELECT_SETUP     = 0b1 << M0_TIMING_SELECT_SETUP_Pos
	M0_TIMING_PAGEBREAK_Pos    = 28
	M0_TIMING_PAGEBREAK_Msk    = 0b11 << M0_TIMING_PAGEBREAK_Pos
	M0_TIMING_COOLDOWN_Pos     = 30
	M0_TIMING_COOLDOWN_Msk     = 0b11 << M0_TIMING_COOLDOWN_Pos
)

// M0_RFMT fields.
const (
	M0_RFMT_PREFIX_WIDTH_Pos = 0
	M0_RFMT_PREFIX_WIDTH_Msk = 0b11 << M0_RFMT_PREFIX_WIDTH_Pos
	M0_RFMT_ADDR_WIDTH_Pos   = 2
	M0_RFMT_ADDR_WIDTH_Msk   = 0b11 << M0_RFMT_ADDR_WIDTH_Pos
	M0_RFMT_SUFFIX_WIDTH_Pos = 4
	M0_RFMT_SUFFIX_WIDTH_Msk = 0b11 << M0_RFMT_SUFFIX_WIDTH_Pos
	M0_RFMT_DUMMY_WIDTH_Pos  = 6
	M0_RFMT_DUMMY_WIDTH_Msk  = 0b11 << M0_RFMT_DUMMY_WIDTH_Pos
	M0_RFMT_DATA_WIDTH_Pos   = 8
	M0_RFMT_DATA_WIDTH_Msk   = 0b11 << M0_RFMT_DATA_WIDTH_Pos
	M0_RFMT_PREFIX_LEN_Pos   = 12
	M0_RFMT_PREFIX_LEN_Msk   = 0b1 << M0_RFMT_PREFIX_LEN_Pos
	M0_RFMT_SUFFIX_LEN_Pos   = 14
	M0_RFMT_SUFFIX_LEN_Msk   = 0b11 << M0_RFMT_SUFFIX_LEN_Pos
	M0_RFMT_DUMMY_LEN_Pos    = 16
	M0_RFMT_DUMMY_LEN_Msk    = 0b111 << M0_RFMT_DUMMY_LEN_Pos
)

// M0_RCMD fields.
const (
	M0_RCMD_PREFIX_Pos = 0
	M0_RCMD_PREFIX_Msk = 0xff << M0_RCMD_PREFIX_Pos
	M0_RCMD_SUFFIX_Pos = 8
	M0_RCMD_SUFFIX_Msk = 0xff << M0_RCMD_SUFFIX_Pos
)

// Serial flash commands understood by virtually every device.
const (
	CmdRead             = 0x03
	CmdReadStatus       = 0x05
	CmdReadID           = 0x9f
	CmdReleasePowerDown = 0xab
	CmdPowerDown        = 0xb9
)

const (
	numWindows   = 2
	windowStride = M1_TIMING - M0_TIMING
)

// DirectClkDiv is the SCK divisor for direct mode transfers. It
// is deliberately slow; direct commands are issued before the
// configured RX delay has been proven against the device.
const DirectClkDiv = 30

// Bus is 32-bit access to the interface register block, at byte
// offsets from its base. Implementations are the memory-mapped
// peripheral itself, a debug probe, or a simulator.
type Bus interface {
	Read32(off uint32) uint32
	Write32(off, val uint32)
}

// Device drives one QSPI memory interface.
type Device struct {
	bus Bus
}

func New(bus Bus) *Device {
	return &Device{bus: bus}
}

// ProgramWindow commits regs to address window w. The timings are
// committed first so that the command and format never take
// effect at a stale divisor or RX delay. The window must not be
// read from until ProgramWindow returns.
func (d *Device) ProgramWindow(w int, regs WindowRegs) {
	off := windowOff(w)
	d.bus.Write32(M0_TIMING+off, regs.Timing)
	d.bus.Write32(M0_RCMD+off, regs.Rcmd)
	d.bus.Write32(M0_RFMT+off, regs.Rfmt)
}

// Window returns the current register contents of window w.
func (d *Device) Window(w int) WindowRegs {
	off := windowOff(w)
	return WindowRegs{
		Timing: d.bus.Read32(M0_TIMING + off),
		Rcmd:   d.bus.Read32(M0_RCMD + off),
		Rfmt:   d.bus.Read32(M0_RFMT + off),
	}
}

func windowOff(w int) uint32 {
	if w < 0 || numWindows <= w {
		panic("window out of range")
	}
	return uint32(w) * windowStride
}

// WaitUnbusy spins until the interface reports that no direct
// mode transfer is in flight. It never gives up; this runs before
// any scheduler or timer exists. Host-side buses terminate the
// spin by reporting a zero DIRECT_CSR after a transport failure.
func (d *Device) WaitUnbusy() {
	for d.bus.Read32(DIRECT_CSR)&DIRECT_CSR_BUSY != 0 {
	}
}

// ExitPowerDown wakes the flash device on chip select 0 from
// deep power-down. Devices without a power-down state ignore the
// command, so the sequence is safe to run unconditionally.
//
// The XIP window settings are untouched; once the enable bit is
// cleared the interface resumes translating with whatever the
// windows hold.
func (d *Device) ExitPowerDown() {
	csr := uint32(DirectClkDiv)<<DIRECT_CSR_CLKDIV_Pos |
		DIRECT_CSR_AUTO_CS0N |
		DIRECT_CSR_EN
	d.bus.Write32(DIRECT_CSR, csr)
	// Entering direct mode interrupts an in-flight XIP access.
	// Let it and its cooldown drain before driving the bus, to
	// avoid overlapping chip select assertions.
	d.WaitUnbusy()
	d.bus.Write32(DIRECT_TX, CmdReleasePowerDown)
	d.WaitUnbusy()
	// The response carries no payload. Pop it anyway to leave
	// the RX FIFO empty.
	_ = d.bus.Read32(DIRECT_RX)
	d.bus.Write32(DIRECT_CSR, csr&^DIRECT_CSR_EN)
}
