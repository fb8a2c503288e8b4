// Command flashwake recovers a serial flash device wired to the
// host SPI bus: it releases the device from deep power-down,
// waits for it to settle, and reads its JEDEC identifier. The
// device can also be put back to sleep, or dumped through the
// generic 03h read command.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matsobdev/pico-sdk/driver/qmi"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

var (
	spiDev = flag.String("device", "", "SPI device")
	sleep  = flag.Bool("sleep", false, "put the device into deep power-down instead")
	dump   = flag.Int("n", 0, "dump n bytes of flash after waking")
	addr   = flag.Uint("addr", 0, "dump start address")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flashwake: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if _, err := host.Init(); err != nil {
		return err
	}
	p, err := spireg.Open(*spiDev)
	if err != nil {
		return err
	}
	defer p.Close()
	// Conservative speed; works on every device the 03h command
	// works on.
	c, err := p.Connect(physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		return err
	}

	var cmdErr error
	tx := func(w []byte, resp int) []byte {
		if cmdErr != nil {
			return nil
		}
		buf := make([]byte, len(w)+resp)
		copy(buf, w)
		r := make([]byte, len(buf))
		if err := c.Tx(buf, r); err != nil {
			cmdErr = err
			return nil
		}
		return r[len(w):]
	}

	if *sleep {
		tx([]byte{qmi.CmdPowerDown}, 0)
		return cmdErr
	}

	tx([]byte{qmi.CmdReleasePowerDown}, 0)
	// tRES1: the device needs a moment to leave power-down.
	time.Sleep(time.Millisecond)

	// A device in the middle of a program or erase reports busy.
	deadline := time.Now().Add(time.Second)
	for {
		status := tx([]byte{qmi.CmdReadStatus}, 1)
		if cmdErr != nil {
			return cmdErr
		}
		if status[0]&0x01 == 0 {
			break
		}
		if time.Now().After(deadline) {
			return errors.New("device stuck busy")
		}
	}

	id := tx([]byte{qmi.CmdReadID}, 3)
	if cmdErr != nil {
		return cmdErr
	}
	if id[0] == 0xff || id[0] == 0x00 {
		return fmt.Errorf("no device (JEDEC id %02x %02x %02x)", id[0], id[1], id[2])
	}
	fmt.Printf("JEDEC id %02x %02x %02x\n", id[0], id[1], id[2])

	if *dump > 0 {
		a := *addr
		data := tx([]byte{qmi.CmdRead, byte(a >> 16), byte(a >> 8), byte(a)}, *dump)
		if cmdErr != nil {
			return cmdErr
		}
		fmt.Printf("%x\n", data)
	}
	return cmdErr
}
