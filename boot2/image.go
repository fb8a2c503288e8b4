package boot2

import (
	"encoding/binary"
	"fmt"
)

// StageSize is the flash sector reserved for the second boot
// stage, checksum word included.
const StageSize = 256

// PadChecksum pads a boot stage to its reserved flash sector and
// stamps the checksum word that legacy boot ROMs verify before
// jumping to the stage.
func PadChecksum(stage []byte) ([]byte, error) {
	if len(stage) > StageSize-4 {
		return nil, fmt.Errorf("boot2: stage is %d bytes, limit %d", len(stage), StageSize-4)
	}
	padded := make([]byte, StageSize)
	copy(padded, stage)
	binary.LittleEndian.PutUint32(padded[StageSize-4:], checksum(padded[:StageSize-4]))
	return padded, nil
}

// VerifyChecksum reports whether a padded stage carries a valid
// checksum word.
func VerifyChecksum(stage []byte) bool {
	if len(stage) != StageSize {
		return false
	}
	return checksum(stage[:StageSize-4]) == binary.LittleEndian.Uint32(stage[StageSize-4:])
}

// checksum is CRC-32/MPEG-2: the CRC-32 polynomial applied
// without bit reflection, initialized to all ones and not
// inverted on output.
func checksum(data []byte) uint32 {
	crc := ^uint32(0)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for range 8 {
			if crc&(1<<31) != 0 {
				crc = crc<<1 ^ 0x04c11db7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
