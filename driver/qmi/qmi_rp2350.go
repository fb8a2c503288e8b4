//go:build tinygo && rp2350

package qmi

import (
	"device/rp"
	"runtime/volatile"
	"unsafe"
)

// XIP is the chip's QSPI memory interface.
var XIP = New(mmio{})

var regs = unsafe.Slice((*volatile.Register32)(unsafe.Pointer(&rp.QMI.DIRECT_CSR)), nregs)

type mmio struct{}

func (mmio) Read32(off uint32) uint32 {
	return regs[regIdx(off)].Get()
}

func (mmio) Write32(off, val uint32) {
	regs[regIdx(off)].Set(val)
}
