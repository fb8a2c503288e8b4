// Command boot2img builds and inspects flashable images of
// second stage boot code for the rp2350 microcontroller from
// Raspberry Pi.
//
// Subcommand regs prints the XIP window register values for a
// set of boot tunables, pack wraps a boot stage binary in the
// padded, checksummed footer legacy boot ROMs verify, wrap
// appends the metadata block the rp2350 boot ROM requires of an
// application image, and info inspects an image.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/matsobdev/pico-sdk/boot2"
	"github.com/matsobdev/pico-sdk/driver/qmi"
	"github.com/matsobdev/pico-sdk/picobin"
	"github.com/matsobdev/pico-sdk/uf2"
)

var (
	regsCmd     = flag.NewFlagSet("regs", flag.ExitOnError)
	regsClkDiv  = regsCmd.Uint("clkdiv", boot2.DefaultClkDiv, "SCK clock divisor")
	regsRxDelay = regsCmd.Uint("rxdelay", boot2.DefaultRxDelay, "RX sampling delay")

	packCmd = flag.NewFlagSet("pack", flag.ExitOnError)
	packOut = packCmd.String("o", "boot2.uf2", "output file")

	wrapCmd  = flag.NewFlagSet("wrap", flag.ExitOnError)
	wrapOut  = wrapCmd.String("o", "image.uf2", "output file")
	wrapAddr = wrapCmd.Uint64("addr", qmi.XIPBase, "flash address of the image")
	wrapHash = wrapCmd.Bool("hash", false, "append a hashed metadata block")
	wrapSign = wrapCmd.String("sign", "", "sign with the hex-encoded 32-byte secret key")

	infoCmd = flag.NewFlagSet("info", flag.ExitOnError)
)

func main() {
	if len(os.Args) <= 1 {
		fmt.Fprintf(os.Stderr, "boot2img: specify 'regs', 'pack', 'wrap' or 'info' command\n")
		os.Exit(2)
	}
	args := os.Args[2:]
	var err error
	switch cmd := os.Args[1]; cmd {
	case "regs":
		if err := regsCmd.Parse(args); err != nil {
			regsCmd.Usage()
		}
		err = regs()
	case "pack":
		if err := packCmd.Parse(args); err != nil {
			packCmd.Usage()
		}
		err = pack()
	case "wrap":
		if err := wrapCmd.Parse(args); err != nil {
			wrapCmd.Usage()
		}
		err = wrap()
	case "info":
		if err := infoCmd.Parse(args); err != nil {
			infoCmd.Usage()
		}
		err = info()
	default:
		fmt.Fprintf(os.Stderr, "boot2img: unknown command: %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot2img: %v\n", err)
		os.Exit(2)
	}
}

// regs prints the XIP window register values for the tunables.
func regs() error {
	cfg := boot2.Config{ClkDiv: uint32(*regsClkDiv), RxDelay: uint32(*regsRxDelay)}
	r, err := cfg.Regs()
	if err != nil {
		return err
	}
	fmt.Printf("TIMING %#010x\nRCMD   %#010x\nRFMT   %#010x\n", r.Timing, r.Rcmd, r.Rfmt)
	return nil
}

// pack wraps a boot stage binary in the padded, checksummed
// footer and writes it as an UF2 image for the start of flash.
func pack() (cerr error) {
	path := packCmd.Arg(0)
	if path == "" {
		return errors.New("pack: specify a boot stage binary")
	}
	stage, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	padded, err := boot2.PadChecksum(stage)
	if err != nil {
		return fmt.Errorf("pack: %s: %v", path, err)
	}
	out, err := os.Create(*packOut)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); cerr == nil {
			cerr = err
		}
	}()
	return uf2.Encode(out, uf2.FamilyRP2350ARMSigned, qmi.XIPBase, padded)
}

// wrap appends the metadata block that makes a binary bootable
// and writes it as an UF2 image.
func wrap() (cerr error) {
	path := wrapCmd.Arg(0)
	if path == "" {
		return errors.New("wrap: specify an image binary")
	}
	img, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	addr := uint32(*wrapAddr)
	switch {
	case *wrapSign != "":
		keyEnc, err := hex.DecodeString(*wrapSign)
		if err != nil || len(keyEnc) != 32 {
			return fmt.Errorf("wrap: invalid secret key %q", *wrapSign)
		}
		key := secp256k1.PrivKeyFromBytes(keyEnc)
		hashed, err := picobin.AppendHashedImageDef(img, addr)
		if err != nil {
			return err
		}
		img, err = picobin.SignImage(hashed, key, addr)
		if err != nil {
			return err
		}
	case *wrapHash:
		img, err = picobin.AppendHashedImageDef(img, addr)
		if err != nil {
			return err
		}
	default:
		img, err = picobin.AppendImageDef(img)
		if err != nil {
			return err
		}
	}
	out, err := os.Create(*wrapOut)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); cerr == nil {
			cerr = err
		}
	}()
	return uf2.Encode(out, uf2.FamilyRP2350ARMSigned, addr, img)
}

// info reports what the boot ROM would find in an image.
func info() error {
	path := infoCmd.Arg(0)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := uf2.NewReader(f, uf2.FamilyRP2350ARMSigned)
	firmware, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("info: %s: %v", path, err)
	}
	fmt.Printf("start  %#010x\nlength %d bytes\n", r.StartAddr, len(firmware))
	if len(firmware) >= boot2.StageSize && boot2.VerifyChecksum(firmware[:boot2.StageSize]) {
		fmt.Println("boot stage checksum ok")
	}
	finfo, err := picobin.Read(firmware)
	if err != nil {
		fmt.Println("no metadata block")
		return nil
	}
	if h, err := finfo.Hash(firmware); err == nil {
		fmt.Printf("hash %x\n", h)
	}
	if finfo.SignatureOffset != 0 {
		_, sig, err := finfo.Signature(firmware)
		if err != nil {
			return fmt.Errorf("info: %s: %v", path, err)
		}
		fmt.Printf("signature %x\n", sig)
		if err := picobin.VerifyImage(firmware, r.StartAddr); err != nil {
			return fmt.Errorf("info: %s: %v", path, err)
		}
		fmt.Println("signature ok")
	}
	return nil
}
