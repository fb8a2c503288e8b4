//go:build tinygo && rp2350

package boot2

import "github.com/matsobdev/pico-sdk/driver/qmi"

// exitPowerDown compiles the wake sequence into Boot. Most
// boards boot with the flash awake and need none of it.
const exitPowerDown = false

// Boot programs XIP window 0 of the chip's interface with the
// default tunables. It must run before any load from the XIP
// address range.
func Boot() {
	cfg := Config{
		ClkDiv:        DefaultClkDiv,
		RxDelay:       DefaultRxDelay,
		ExitPowerDown: exitPowerDown,
	}
	if err := Configure(qmi.XIP, cfg); err != nil {
		// The defaults are validated at compile time.
		panic(err)
	}
}
