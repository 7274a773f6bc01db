package protocol

import (
	"fmt"
	"strings"

	"github.com/sigurn/crc16"
)

// Checksum computes the 16-bit frame checksum over the ASCII characters
// between SOI and CHKSUM.
type Checksum interface {
	Name() string
	Sum(data []byte) uint16
}

// SumChecksum is the additive checksum used by Pylontech-compatible racks:
// the two's complement of the byte sum, modulo 65536.
type SumChecksum struct{}

func (SumChecksum) Name() string { return "sum" }

func (SumChecksum) Sum(data []byte) uint16 {
	var s uint32
	for _, b := range data {
		s += uint32(b)
	}
	return uint16(^s + 1)
}

// CRC16 is CRC-16/ARC, used by controllers running the newer console firmware.
type CRC16 struct {
	table *crc16.Table
}

func NewCRC16() CRC16 {
	return CRC16{table: crc16.MakeTable(crc16.CRC16_ARC)}
}

func (CRC16) Name() string { return "crc16" }

func (c CRC16) Sum(data []byte) uint16 {
	return crc16.Checksum(data, c.table)
}

// ChecksumByName maps a configuration value to a Checksum.
func ChecksumByName(name string) (Checksum, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sum":
		return SumChecksum{}, nil
	case "crc16", "crc16-arc":
		return NewCRC16(), nil
	}
	return nil, fmt.Errorf("protocol: unknown checksum %q (want sum or crc16)", name)
}

// lengthChecksum returns the LCHKSUM nibble for a 12-bit LENID.
func lengthChecksum(lenid int) uint16 {
	s := (lenid & 0xF) + (lenid >> 4 & 0xF) + (lenid >> 8 & 0xF)
	return uint16((^s + 1) & 0xF)
}
