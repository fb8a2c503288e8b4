// package boot2 implements the second boot stage that
// configures the QSPI memory interface for execute-in-place
// through the lowest common denominator of serial flash
// protocols: the 8-bit 03h read command with serial address and
// data phases. It trades speed for compatibility with
// effectively every device, which makes it the fallback stage
// for bring-up on minimal or unknown flash hardware.
package boot2

import (
	"fmt"

	"github.com/matsobdev/pico-sdk/driver/qmi"
)

// Defaults for the boot tunables.
const (
	// DefaultClkDiv runs SCK at a quarter of the system clock,
	// safe for the 03h command on common devices at boot
	// frequencies.
	DefaultClkDiv = 4
	// DefaultRxDelay compensates half an SCK cycle of round-trip
	// sampling delay.
	DefaultRxDelay = 1
)

const (
	minClkDiv  = 1
	maxClkDiv  = qmi.M0_TIMING_CLKDIV_Msk >> qmi.M0_TIMING_CLKDIV_Pos
	maxRxDelay = qmi.M0_TIMING_RXDELAY_Msk >> qmi.M0_TIMING_RXDELAY_Pos
)

// A default that does not fit its register field must fail the
// build, not the device. Each expression here goes negative, and
// stops compiling, when its default is out of range.
const (
	_ uint32 = maxClkDiv - DefaultClkDiv
	_ uint32 = DefaultClkDiv - minClkDiv
	_ uint32 = maxRxDelay - DefaultRxDelay
)

// Config are the boot tunables, fixed at build time on hardware
// and supplied as flags by the bring-up tools.
type Config struct {
	// ClkDiv is the SCK divisor for XIP reads.
	ClkDiv uint32
	// RxDelay is the RX sampling delay in half SCK cycles.
	RxDelay uint32
	// ExitPowerDown wakes the flash device from deep power-down
	// after the window is programmed. Devices without a
	// power-down state ignore the wake command.
	ExitPowerDown bool
}

// DefaultConfig returns the default tunables with the wake
// sequence disabled.
func DefaultConfig() Config {
	return Config{
		ClkDiv:  DefaultClkDiv,
		RxDelay: DefaultRxDelay,
	}
}

// Validate checks the tunables against their register fields.
func (c Config) Validate() error {
	if c.ClkDiv < minClkDiv || maxClkDiv < c.ClkDiv {
		return fmt.Errorf("boot2: clock divisor %d outside %d-%d", c.ClkDiv, minClkDiv, maxClkDiv)
	}
	if maxRxDelay < c.RxDelay {
		return fmt.Errorf("boot2: rx delay %d exceeds %d", c.RxDelay, maxRxDelay)
	}
	return nil
}

// Regs returns the window register values for the configuration.
func (c Config) Regs() (qmi.WindowRegs, error) {
	if err := c.Validate(); err != nil {
		return qmi.WindowRegs{}, err
	}
	cfg := qmi.WindowConfig{
		Timing: qmi.Timing{
			ClkDiv:  c.ClkDiv,
			RxDelay: c.RxDelay,
			// The hardware reset value; holds chip select briefly
			// between sequential accesses.
			Cooldown: 1,
		},
		Format: qmi.ReadFormat{
			PrefixWidth: qmi.WidthSingle,
			AddrWidth:   qmi.WidthSingle,
			SuffixWidth: qmi.WidthSingle,
			DummyWidth:  qmi.WidthSingle,
			DataWidth:   qmi.WidthSingle,
			Prefix8:     true,
		},
		Command: qmi.ReadCommand{Prefix: qmi.CmdRead},
	}
	return cfg.Build(), nil
}

// Configure programs XIP window 0 and, when enabled, wakes the
// flash device. An invalid configuration is reported before any
// register is touched. Once Configure returns, loads from the
// XIP address range are serviced as 03h read transactions.
func Configure(d *qmi.Device, c Config) error {
	regs, err := c.Regs()
	if err != nil {
		return err
	}
	d.ProgramWindow(0, regs)
	if c.ExitPowerDown {
		d.ExitPowerDown()
	}
	return nil
}
