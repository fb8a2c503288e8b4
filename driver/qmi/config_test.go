package qmi

import (
	"testing"
)

func TestTimingBuild(t *testing.T) {
	for clkdiv := uint32(1); clkdiv <= 0xff; clkdiv++ {
		for rxdelay := uint32(0); rxdelay <= 0b111; rxdelay++ {
			got := Timing{ClkDiv: clkdiv, RxDelay: rxdelay, Cooldown: 1}.Build()
			want := 1<<30 | rxdelay<<8 | clkdiv
			if got != want {
				t.Fatalf("Timing{ClkDiv: %d, RxDelay: %d}.Build() = %#x, want %#x", clkdiv, rxdelay, got, want)
			}
		}
	}
}

func TestTimingBuildFields(t *testing.T) {
	got := Timing{
		ClkDiv:      12,
		RxDelay:     2,
		MinDeselect: 7,
		MaxSelect:   9,
		SelectHold:  3,
		SelectSetup: true,
		PageBreak:   PageBreak1024,
		Cooldown:    2,
	}.Build()
	want := uint32(12) |
		2<<8 |
		7<<12 |
		9<<17 |
		3<<23 |
		1<<25 |
		2<<28 |
		2<<30
	if got != want {
		t.Errorf("Build() = %#x, want %#x", got, want)
	}
}

func TestReadFormatBuild(t *testing.T) {
	if got := (ReadFormat{Prefix8: true}).Build(); got != 0x1000 {
		t.Errorf("serial format = %#x, want 0x1000", got)
	}
	got := ReadFormat{
		PrefixWidth: WidthSingle,
		AddrWidth:   WidthQuad,
		SuffixWidth: WidthQuad,
		DummyWidth:  WidthQuad,
		DataWidth:   WidthQuad,
		Prefix8:     true,
		Suffix8:     true,
		DummyBits:   20,
	}.Build()
	want := uint32(0b10)<<2 |
		0b10<<4 |
		0b10<<6 |
		0b10<<8 |
		1<<12 |
		2<<14 |
		5<<16
	if got != want {
		t.Errorf("quad format = %#x, want %#x", got, want)
	}
}

func TestReadCommandBuild(t *testing.T) {
	if got := (ReadCommand{Prefix: CmdRead}).Build(); got != 0x03 {
		t.Errorf("ReadCommand{Prefix: 03h}.Build() = %#x, want 0x3", got)
	}
	if got := (ReadCommand{Prefix: 0xeb, Suffix: 0xa0}).Build(); got != 0xa0eb {
		t.Errorf("ReadCommand{Prefix: ebh, Suffix: a0h}.Build() = %#x, want 0xa0eb", got)
	}
}

func TestBuildInvalid(t *testing.T) {
	mustPanic := func(name string, f func()) {
		defer func() {
			if recover() == nil {
				t.Errorf("%s: out of range value accepted", name)
			}
		}()
		f()
	}
	mustPanic("clkdiv", func() { Timing{ClkDiv: 0}.Build() })
	mustPanic("rxdelay", func() { Timing{ClkDiv: 1, RxDelay: 8}.Build() })
	mustPanic("cooldown", func() { Timing{ClkDiv: 1, Cooldown: 4}.Build() })
	// A page break cast three bits wide must not bleed into the
	// cooldown field.
	mustPanic("page break", func() { Timing{ClkDiv: 1, PageBreak: PageBreak(7)}.Build() })
	mustPanic("prefix width", func() { ReadFormat{PrefixWidth: Width(5)}.Build() })
	mustPanic("addr width", func() { ReadFormat{AddrWidth: Width(0b11)}.Build() })
	mustPanic("dummy bits", func() { ReadFormat{DummyBits: 3}.Build() })
}

func TestWindowConfigBuild(t *testing.T) {
	cfg := WindowConfig{
		Timing:  Timing{ClkDiv: 4, RxDelay: 1, Cooldown: 1},
		Format:  ReadFormat{Prefix8: true},
		Command: ReadCommand{Prefix: CmdRead},
	}
	got := cfg.Build()
	want := WindowRegs{
		Timing: 0x40000104,
		Rcmd:   0x03,
		Rfmt:   0x1000,
	}
	if got != want {
		t.Errorf("Build() = %#v, want %#v", got, want)
	}
}
