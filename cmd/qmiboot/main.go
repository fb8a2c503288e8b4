// Command qmiboot programs the XIP window of an rp2350 target
// through a register bridge, standing in for the second boot
// stage during flash bring-up.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/matsobdev/pico-sdk/boot2"
	"github.com/matsobdev/pico-sdk/driver/probe"
	"github.com/matsobdev/pico-sdk/driver/qmi"
)

var (
	serialDev = flag.String("device", "", "serial device of the bridge")
	clkDiv    = flag.Uint("clkdiv", boot2.DefaultClkDiv, "SCK clock divisor")
	rxDelay   = flag.Uint("rxdelay", boot2.DefaultRxDelay, "RX sampling delay")
	wake      = flag.Bool("wake", false, "wake the flash device from deep power-down")
	verbose   = flag.Bool("v", false, "log every register access")
)

func main() {
	flag.Parse()

	if err := configure(); err != nil {
		fmt.Fprintf(os.Stderr, "qmiboot: %v\n", err)
		os.Exit(1)
	}
}

func configure() error {
	s, err := probe.Open(*serialDev)
	if err != nil {
		return err
	}
	defer s.Close()
	var opts probe.Options
	if *verbose {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	p := probe.New(s, opts)
	cfg := boot2.Config{
		ClkDiv:        uint32(*clkDiv),
		RxDelay:       uint32(*rxDelay),
		ExitPowerDown: *wake,
	}
	d := qmi.New(p)
	if err := boot2.Configure(d, cfg); err != nil {
		return err
	}
	// Read the window back to catch a wedged or absent target.
	want, err := cfg.Regs()
	if err != nil {
		return err
	}
	got := d.Window(0)
	if err := p.Err(); err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("window readback %+v, want %+v", got, want)
	}
	fmt.Printf("TIMING %#010x\nRCMD   %#010x\nRFMT   %#010x\n", got.Timing, got.Rcmd, got.Rfmt)
	return nil
}
