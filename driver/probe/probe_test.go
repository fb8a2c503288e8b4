package probe

import (
	"io"
	"log/slog"
	"testing"

	"github.com/matsobdev/pico-sdk/boot2"
	"github.com/matsobdev/pico-sdk/driver/qmi"
)

func TestReadWrite(t *testing.T) {
	regs := qmi.NewSim()
	p := New(&Sim{Bus: regs}, Options{})
	p.Write32(qmi.M0_RCMD, 0xa0eb)
	if got := p.Read32(qmi.M0_RCMD); got != 0xa0eb {
		t.Errorf("read back %#x, want 0xa0eb", got)
	}
	if err := p.Err(); err != nil {
		t.Fatal(err)
	}
	if regs.Err != nil {
		t.Fatal(regs.Err)
	}
}

type brokenDev struct{}

func (brokenDev) Read(data []byte) (int, error)  { return 0, io.ErrClosedPipe }
func (brokenDev) Write(data []byte) (int, error) { return 0, io.ErrClosedPipe }

func TestTransportFailure(t *testing.T) {
	p := New(brokenDev{}, Options{})
	if got := p.Read32(qmi.DIRECT_CSR); got != 0 {
		t.Errorf("failed read returned %#x, want 0", got)
	}
	err := p.Err()
	if err == nil {
		t.Fatal("transport failure not reported")
	}
	// Later accesses keep the first failure.
	p.Write32(qmi.M0_TIMING, 1)
	p.Read32(qmi.M0_TIMING)
	if got := p.Err(); got != err {
		t.Errorf("Err = %v, want first failure %v", got, err)
	}
}

func TestBadReply(t *testing.T) {
	sim := &Sim{Bus: qmi.NewSim()}
	sim.out.WriteByte(0x7f)
	p := New(sim, Options{})
	p.Read32(qmi.M0_TIMING)
	if p.Err() == nil {
		t.Error("stray reply byte not detected")
	}
}

func TestEndToEnd(t *testing.T) {
	regs := qmi.NewSim()
	regs.PoweredDown = true
	regs.Flash = []byte{0xca, 0xfe}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(&Sim{Bus: regs}, Options{Logger: logger})

	cfg := boot2.DefaultConfig()
	cfg.ExitPowerDown = true
	if err := boot2.Configure(qmi.New(p), cfg); err != nil {
		t.Fatal(err)
	}
	if err := p.Err(); err != nil {
		t.Fatal(err)
	}
	if regs.Err != nil {
		t.Fatal(regs.Err)
	}
	if got := regs.Peek(qmi.M0_TIMING); got != 1<<30|1<<8|4 {
		t.Errorf("TIMING = %#x, want %#x", got, 1<<30|1<<8|4)
	}
	b, err := regs.ReadXIP(0)
	if err != nil {
		t.Fatal(err)
	}
	if b != 0xca {
		t.Errorf("XIP byte %#x, want 0xca", b)
	}
}
