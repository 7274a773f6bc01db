package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// maxBuffered bounds the bytes held while waiting for a frame to complete.
// The largest legal frame is 1+12+4095+4+1 bytes.
const maxBuffered = 8192

// Assembler turns a byte stream into candidate frames. Feed may be called
// with arbitrary fragments; it never blocks. Not safe for concurrent use.
type Assembler struct {
	codec   Codec
	buf     []byte
	corrupt int
}

func NewAssembler(c Codec) *Assembler {
	return &Assembler{codec: c}
}

// Feed appends b to the stream and returns every frame completed by it,
// valid or not. Invalid frames are counted as corrupt.
func (a *Assembler) Feed(b []byte) []Frame {
	a.buf = append(a.buf, b...)

	var out []Frame
	for {
		f, ok := a.next()
		if !ok {
			break
		}
		out = append(out, f)
	}

	if len(a.buf) > maxBuffered {
		a.corrupt++
		a.buf = a.buf[:0]
	}
	return out
}

// Reset drops any partially assembled input.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// Corrupt returns the corrupt frame count since the last TakeCorrupt.
func (a *Assembler) Corrupt() int { return a.corrupt }

// TakeCorrupt returns the corrupt frame count and resets it.
func (a *Assembler) TakeCorrupt() int {
	n := a.corrupt
	a.corrupt = 0
	return n
}

// Pending is the number of buffered bytes not yet part of a frame.
func (a *Assembler) Pending() int { return len(a.buf) }

func (a *Assembler) next() (Frame, bool) {
	start := bytes.IndexByte(a.buf, SOI)
	if start < 0 {
		a.buf = a.buf[:0]
		return Frame{}, false
	}
	if start > 0 {
		a.buf = a.buf[start:]
	}

	// Header characters must be hex; anything else means the frame was cut
	// short or mangled.
	hdrEnd := 1 + headerChars
	if i := firstNonHex(a.buf, 1, min(len(a.buf), hdrEnd)); i >= 0 {
		return a.reject(i, fmt.Errorf("%w: unexpected byte 0x%02X in header", ErrFrameCorrupt, a.buf[i])), true
	}
	if len(a.buf) < hdrEnd {
		return Frame{}, false
	}

	hdr := a.buf[1:hdrEnd]
	length := hexWord(hdr[8:12])
	lenid := int(length & 0x0FFF)
	if lengthChecksum(lenid) != length>>12 {
		return a.reject(hdrEnd, fmt.Errorf("%w: length checksum mismatch (LENGTH=0x%04X)", ErrFrameCorrupt, length)), true
	}
	if lenid%2 != 0 {
		return a.reject(hdrEnd, fmt.Errorf("%w: odd INFO length %d", ErrFrameCorrupt, lenid)), true
	}

	total := hdrEnd + lenid + checksumChars + 1
	if i := firstNonHex(a.buf, hdrEnd, min(len(a.buf), total-1)); i >= 0 {
		return a.reject(i, fmt.Errorf("%w: unexpected byte 0x%02X at offset %d", ErrFrameCorrupt, a.buf[i], i)), true
	}
	if len(a.buf) < total {
		return Frame{}, false
	}
	if a.buf[total-1] != EOI {
		return a.reject(total-1, fmt.Errorf("%w: missing end marker", ErrFrameCorrupt)), true
	}

	raw := append([]byte(nil), a.buf[:total]...)
	a.buf = a.buf[total:]

	f := Frame{
		Version: hexByte(hdr[0:2]),
		Address: hexByte(hdr[2:4]),
		CID1:    hexByte(hdr[4:6]),
		CID2:    hexByte(hdr[6:8]),
		Raw:     raw,
	}
	f.Kind = kindForAddress(f.Address)

	got := hexWord(raw[total-1-checksumChars : total-1])
	want := a.codec.Checksum.Sum(raw[1 : total-1-checksumChars])
	if got != want {
		a.corrupt++
		f.Err = fmt.Errorf("%w: %s mismatch (got 0x%04X, want 0x%04X)", ErrFrameCorrupt, a.codec.Checksum.Name(), got, want)
		return f, true
	}

	payload := make([]byte, lenid/2)
	if _, err := hex.Decode(payload, raw[hdrEnd:hdrEnd+lenid]); err != nil {
		a.corrupt++
		f.Err = fmt.Errorf("%w: %v", ErrFrameCorrupt, err)
		return f, true
	}
	f.Payload = payload
	f.Valid = true
	return f, true
}

// reject emits an invalid frame for the bytes before pos and resumes at the
// next start marker after the rejected frame's own marker.
func (a *Assembler) reject(pos int, err error) Frame {
	a.corrupt++
	f := Frame{Raw: append([]byte(nil), a.buf[:pos]...), Err: err}

	if j := bytes.IndexByte(a.buf[1:], SOI); j >= 0 {
		a.buf = a.buf[1+j:]
	} else {
		a.buf = a.buf[:0]
	}
	return f
}

// firstNonHex returns the index of the first non-hex byte in b[from:to],
// or -1.
func firstNonHex(b []byte, from, to int) int {
	for i := from; i < to; i++ {
		if !isHex(b[i]) {
			return i
		}
	}
	return -1
}
