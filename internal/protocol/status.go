package protocol

import (
	"fmt"
	"strings"
)

type statusBit struct {
	mask uint16
	name string
}

var basicStatusBits = []statusBit{
	{0x0001, "Charge"},
	{0x0002, "Dischg"},
	{0x0004, "Balance"},
	{0x0008, "Protect"},
	{0x0010, "Fault"},
}

var voltStatusBits = []statusBit{
	{0x0001, "CellOV"},
	{0x0002, "CellUV"},
	{0x0004, "PackOV"},
	{0x0008, "PackUV"},
	{0x0010, "CellImbalance"},
}

// BasicStatusName decodes the basic status word, e.g. "Charge,Balance".
func BasicStatusName(v uint16) string {
	return statusName(v, "Idle", basicStatusBits)
}

// VoltStatusName decodes the voltage status word.
func VoltStatusName(v uint16) string {
	return statusName(v, "Normal", voltStatusBits)
}

// statusName joins the names of the set bits. Bits without a name are kept
// as Unknown(0x....) so odd firmware states stay visible.
func statusName(v uint16, zero string, bits []statusBit) string {
	if v == 0 {
		return zero
	}
	var parts []string
	rest := v
	for _, b := range bits {
		if v&b.mask != 0 {
			parts = append(parts, b.name)
			rest &^= b.mask
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("Unknown(0x%04X)", rest))
	}
	return strings.Join(parts, ",")
}
