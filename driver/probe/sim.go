package probe

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/matsobdev/pico-sdk/driver/qmi"
)

// Sim simulates a bridge and executes its accesses on a register
// file. It implements io.ReadWriter: frames written to it are
// decoded and run against Bus, replies are queued for reading.
type Sim struct {
	// Bus is the register file behind the bridge.
	Bus qmi.Bus

	in  []byte
	out bytes.Buffer
}

func (s *Sim) Write(data []byte) (int, error) {
	s.in = append(s.in, data...)
	for len(s.in) > 0 {
		switch {
		case s.in[0] == readCmd && len(s.in) >= 5:
			off := binary.LittleEndian.Uint32(s.in[1:])
			s.in = s.in[5:]
			s.out.WriteByte(readCmd)
			var word [4]byte
			binary.LittleEndian.PutUint32(word[:], s.Bus.Read32(off))
			s.out.Write(word[:])
		case s.in[0] == writeCmd && len(s.in) >= 9:
			off := binary.LittleEndian.Uint32(s.in[1:])
			val := binary.LittleEndian.Uint32(s.in[5:])
			s.in = s.in[9:]
			s.Bus.Write32(off, val)
			s.out.WriteByte(writeCmd)
		case s.in[0] != readCmd && s.in[0] != writeCmd:
			return len(data), errors.New("invalid command")
		default:
			// Partial frame; wait for the rest.
			return len(data), nil
		}
	}
	return len(data), nil
}

func (s *Sim) Read(data []byte) (int, error) {
	if s.out.Len() == 0 {
		return 0, errors.New("read with no pending reply")
	}
	return s.out.Read(data)
}
