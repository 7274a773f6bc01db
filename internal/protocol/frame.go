// Package protocol implements the rack controller's serial protocol:
// frame assembly, command encoding and payload decoding.
//
// Frames use the Pylontech-style ASCII-hex envelope:
//
//	~ VER ADR CID1 CID2 LENGTH INFO CHKSUM \r
//
// Every field between SOI and EOI is hex encoded, two characters per byte.
// LENGTH carries a 4-bit length checksum and a 12-bit count of INFO
// characters. Responses echo ADR and carry the return code in CID2.
package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	SOI byte = '~'
	EOI byte = '\r'

	Version    byte = 0x20
	CIDBattery byte = 0x46

	CmdSummary byte = 0x61 // rack-level analog values
	CmdBattery byte = 0x42 // one pack's analog values and identity

	RTNOK byte = 0x00

	// SummaryAddress is the ADR used for rack-level exchanges; packs use
	// their battery id.
	SummaryAddress byte = 0x00

	headerChars   = 12 // VER ADR CID1 CID2 LENGTH
	checksumChars = 4
	maxInfoChars  = 0xFFF
)

var (
	// ErrFrameCorrupt covers checksum, marker, length and encoding failures.
	ErrFrameCorrupt = errors.New("frame corrupt")
	// ErrRejected is returned when the controller answers with a non-zero RTN.
	ErrRejected = errors.New("command rejected by controller")
)

// Kind identifies what a frame is about: the rack summary or one battery.
type Kind int

const KindSummary Kind = 0

func BatteryKind(id int) Kind { return Kind(id) }

func (k Kind) IsSummary() bool { return k == KindSummary }

// BatteryID returns the battery id, or 0 for the summary.
func (k Kind) BatteryID() int { return int(k) }

func (k Kind) String() string {
	if k.IsSummary() {
		return "summary"
	}
	return fmt.Sprintf("battery %d", int(k))
}

func kindForAddress(adr byte) Kind {
	if adr == SummaryAddress {
		return KindSummary
	}
	return BatteryKind(int(adr))
}

// Frame is one candidate frame produced by the Assembler.
type Frame struct {
	Kind    Kind
	Version byte
	Address byte
	CID1    byte
	CID2    byte // command on requests, RTN on responses
	Payload []byte
	Raw     []byte
	Valid   bool
	Err     error
}

// Codec encodes frames with a fixed version and checksum algorithm.
type Codec struct {
	Version  byte
	Checksum Checksum
}

func NewCodec(sum Checksum) Codec {
	if sum == nil {
		sum = SumChecksum{}
	}
	return Codec{Version: Version, Checksum: sum}
}

// Encode builds a complete frame, SOI to EOI.
func (c Codec) Encode(adr, cid1, cid2 byte, info []byte) []byte {
	infoHex := strings.ToUpper(hex.EncodeToString(info))
	lenid := len(infoHex)
	length := lengthChecksum(lenid)<<12 | uint16(lenid)

	body := fmt.Sprintf("%02X%02X%02X%02X%04X%s", c.Version, adr, cid1, cid2, length, infoHex)
	sum := c.Checksum.Sum([]byte(body))

	out := make([]byte, 0, 1+len(body)+checksumChars+1)
	out = append(out, SOI)
	out = append(out, body...)
	out = append(out, fmt.Sprintf("%04X", sum)...)
	out = append(out, EOI)
	return out
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'F') || (b >= 'a' && b <= 'f')
}

func hexByte(s []byte) byte {
	var out [1]byte
	hex.Decode(out[:], s[:2])
	return out[0]
}

func hexWord(s []byte) uint16 {
	return uint16(hexByte(s[0:2]))<<8 | uint16(hexByte(s[2:4]))
}
