package qmi

// Width is the number of data lines driven during one phase of a
// transfer.
type Width uint32

const (
	WidthSingle Width = 0b00
	WidthDual   Width = 0b01
	WidthQuad   Width = 0b10
)

// PageBreak forces chip select deassertion when a transfer
// crosses the given address boundary.
type PageBreak uint32

const (
	PageBreakNone PageBreak = 0b00
	PageBreak256  PageBreak = 0b01
	PageBreak1024 PageBreak = 0b10
	PageBreak4096 PageBreak = 0b11
)

// Timing is the configuration for a window TIMING register.
type Timing struct {
	// ClkDiv divides the system clock to generate SCK. 1 to 255.
	ClkDiv uint32
	// RxDelay moves the RX sampling point later, in units of half
	// an SCK cycle, to compensate round-trip delay. 0 to 7.
	RxDelay uint32
	// MinDeselect is the minimum chip select deassertion time, in
	// system clock cycles.
	MinDeselect uint32
	// MaxSelect bounds how long chip select may stay asserted, in
	// units of 64 system clock cycles. Zero disables the limit.
	MaxSelect uint32
	// SelectHold extends chip select past the final SCK edge.
	SelectHold uint32
	// SelectSetup adds a cycle between chip select assertion and
	// the first SCK edge.
	SelectSetup bool
	PageBreak   PageBreak
	// Cooldown keeps chip select asserted after a transfer in the
	// hope of a sequential hit, in units of 64 system clock
	// cycles. 0 to 3.
	Cooldown uint32
}

// Build packs the timing configuration into its register word.
// It panics when a field is out of range; validate tunables
// before building (see the boot2 package).
func (t Timing) Build() uint32 {
	if t.ClkDiv < 1 || M0_TIMING_CLKDIV_Msk>>M0_TIMING_CLKDIV_Pos < t.ClkDiv {
		panic("invalid clock divisor")
	}
	if M0_TIMING_RXDELAY_Msk>>M0_TIMING_RXDELAY_Pos < t.RxDelay {
		panic("invalid rx delay")
	}
	if M0_TIMING_MIN_DESELECT_Msk>>M0_TIMING_MIN_DESELECT_Pos < t.MinDeselect {
		panic("invalid min deselect")
	}
	if M0_TIMING_MAX_SELECT_Msk>>M0_TIMING_MAX_SELECT_Pos < t.MaxSelect {
		panic("invalid max select")
	}
	if M0_TIMING_SELECT_HOLD_Msk>>M0_TIMING_SELECT_HOLD_Pos < t.SelectHold {
		panic("invalid select hold")
	}
	if PageBreak4096 < t.PageBreak {
		panic("invalid page break")
	}
	if M0_TIMING_COOLDOWN_Msk>>M0_TIMING_COOLDOWN_Pos < t.Cooldown {
		panic("invalid cooldown")
	}
	return t.ClkDiv<<M0_TIMING_CLKDIV_Pos |
		t.RxDelay<<M0_TIMING_RXDELAY_Pos |
		t.MinDeselect<<M0_TIMING_MIN_DESELECT_Pos |
		t.MaxSelect<<M0_TIMING_MAX_SELECT_Pos |
		t.SelectHold<<M0_TIMING_SELECT_HOLD_Pos |
		boolToUint32(t.SelectSetup)<<M0_TIMING_SELECT_SETUP_Pos |
		uint32(t.PageBreak)<<M0_TIMING_PAGEBREAK_Pos |
		t.Cooldown<<M0_TIMING_COOLDOWN_Pos
}

// ReadFormat is the configuration for a window RFMT register,
// describing the shape of the framed read transaction.
type ReadFormat struct {
	PrefixWidth Width
	AddrWidth   Width
	SuffixWidth Width
	DummyWidth  Width
	DataWidth   Width
	// Prefix8 transmits the 8-bit command prefix from RCMD.
	// Without it the transaction starts at the address phase.
	Prefix8 bool
	// Suffix8 transmits the 8-bit mode suffix from RCMD after
	// the address.
	Suffix8 bool
	// DummyBits inserts dummy clocks between address and data.
	// Multiple of 4, up to 28.
	DummyBits uint32
}

// Build packs the format configuration into its register word.
func (f ReadFormat) Build() uint32 {
	for _, w := range [...]Width{f.PrefixWidth, f.AddrWidth, f.SuffixWidth, f.DummyWidth, f.DataWidth} {
		if WidthQuad < w {
			// 0b11 is a reserved encoding.
			panic("invalid width")
		}
	}
	if f.DummyBits%4 != 0 || 28 < f.DummyBits {
		panic("invalid dummy length")
	}
	// The suffix and dummy lengths are encoded in 4-bit units.
	suffixLen := uint32(0)
	if f.Suffix8 {
		suffixLen = 2
	}
	return uint32(f.PrefixWidth)<<M0_RFMT_PREFIX_WIDTH_Pos |
		uint32(f.AddrWidth)<<M0_RFMT_ADDR_WIDTH_Pos |
		uint32(f.SuffixWidth)<<M0_RFMT_SUFFIX_WIDTH_Pos |
		uint32(f.DummyWidth)<<M0_RFMT_DUMMY_WIDTH_Pos |
		uint32(f.DataWidth)<<M0_RFMT_DATA_WIDTH_Pos |
		boolToUint32(f.Prefix8)<<M0_RFMT_PREFIX_LEN_Pos |
		suffixLen<<M0_RFMT_SUFFIX_LEN_Pos |
		f.DummyBits/4<<M0_RFMT_DUMMY_LEN_Pos
}

// ReadCommand is the configuration for a window RCMD register.
type ReadCommand struct {
	// Prefix is the command byte, transmitted when the format
	// enables it.
	Prefix byte
	// Suffix is the mode byte transmitted after the address,
	// used by devices with continuous-read modes.
	Suffix byte
}

// Build packs the command configuration into its register word.
func (c ReadCommand) Build() uint32 {
	return uint32(c.Prefix)<<M0_RCMD_PREFIX_Pos | uint32(c.Suffix)<<M0_RCMD_SUFFIX_Pos
}

// WindowConfig describes the read behavior of an address window.
type WindowConfig struct {
	Timing  Timing
	Format  ReadFormat
	Command ReadCommand
}

// WindowRegs is a [WindowConfig] packed in a form suitable for
// programming a window, in the order the registers are written.
type WindowRegs struct {
	Timing uint32
	Rcmd   uint32
	Rfmt   uint32
}

func (c *WindowConfig) Build() WindowRegs {
	return WindowRegs{
		Timing: c.Timing.Build(),
		Rcmd:   c.Command.Build(),
		Rfmt:   c.Format.Build(),
	}
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
