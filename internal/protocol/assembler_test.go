package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func testCodec() Codec { return NewCodec(SumChecksum{}) }

func sampleBattery(id uint8) BatteryData {
	return BatteryData{
		ID:           id,
		CellsMV:      []uint16{3301, 3302, 3299, 3300},
		TempsDeciC:   []int16{215, 210},
		CurrentCA:    -350,
		VoltageMV:    52100,
		SocVoltageMV: 52000,
		Coulomb:      87,
		BasicStatus:  0x0002,
		VoltStatus:   0,
		Barcode:      "PPTAH02212345678",
		DevType:      "US5000",
		Firmware:     "1.8",
	}
}

func TestEncodeLayout(t *testing.T) {
	raw := testCodec().Encode(0x01, CIDBattery, CmdBattery, []byte{0x01})

	if raw[0] != SOI || raw[len(raw)-1] != EOI {
		t.Fatalf("missing markers: %q", raw)
	}
	// VER ADR CID1 CID2, then LENGTH for 2 INFO chars: LCHKSUM(2) = 0xE.
	if got := string(raw[1:13]); got != "20014642E002" {
		t.Fatalf("header = %s, want 20014642E002", got)
	}
	if got := string(raw[13:15]); got != "01" {
		t.Fatalf("info = %s", got)
	}
	if len(raw) != 1+12+2+4+1 {
		t.Fatalf("frame length %d", len(raw))
	}
}

func TestAssemblerSingleFrame(t *testing.T) {
	c := testCodec()
	a := NewAssembler(c)

	frames := a.Feed(c.BatteryResponse(sampleBattery(3), RTNOK))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	f := frames[0]
	if !f.Valid {
		t.Fatalf("frame invalid: %v", f.Err)
	}
	if f.Kind != BatteryKind(3) {
		t.Fatalf("kind = %v", f.Kind)
	}
	if !bytes.Equal(f.Payload, sampleBattery(3).Bytes()) {
		t.Fatalf("payload mismatch")
	}
	if a.Corrupt() != 0 || a.Pending() != 0 {
		t.Fatalf("corrupt=%d pending=%d", a.Corrupt(), a.Pending())
	}
}

func TestAssemblerByteAtATime(t *testing.T) {
	c := testCodec()
	a := NewAssembler(c)
	raw := c.SummaryResponse(SummaryData{VoltageMV: 52100}, RTNOK)

	var got []Frame
	for i := range raw {
		got = append(got, a.Feed(raw[i:i+1])...)
		if i < len(raw)-1 && len(got) != 0 {
			t.Fatalf("frame emitted early at byte %d", i)
		}
	}
	if len(got) != 1 || !got[0].Valid || got[0].Kind != KindSummary {
		t.Fatalf("unexpected frames: %+v", got)
	}
}

func TestAssemblerSkipsNoise(t *testing.T) {
	c := testCodec()
	a := NewAssembler(c)

	stream := append([]byte("pylon>\r\n\x00\x13"), c.SummaryResponse(SummaryData{}, RTNOK)...)
	frames := a.Feed(stream)
	if len(frames) != 1 || !frames[0].Valid {
		t.Fatalf("expected one valid frame, got %+v", frames)
	}
	if a.Corrupt() != 0 {
		t.Fatalf("noise before a frame is not corruption, got %d", a.Corrupt())
	}
}

func TestAssemblerResyncAfterBadChecksum(t *testing.T) {
	c := testCodec()
	a := NewAssembler(c)

	bad := c.BatteryResponse(sampleBattery(1), RTNOK)
	// still hex, wrong checksum
	if bad[20] == '0' {
		bad[20] = '1'
	} else {
		bad[20] = '0'
	}
	good := c.BatteryResponse(sampleBattery(2), RTNOK)

	frames := a.Feed(append(bad, good...))
	var valid []Frame
	for _, f := range frames {
		if f.Valid {
			valid = append(valid, f)
		} else if !errors.Is(f.Err, ErrFrameCorrupt) {
			t.Fatalf("invalid frame without ErrFrameCorrupt: %v", f.Err)
		}
	}
	if len(valid) != 1 || valid[0].Kind != BatteryKind(2) {
		t.Fatalf("expected exactly the second frame, got %+v", valid)
	}
	if n := a.TakeCorrupt(); n != 1 {
		t.Fatalf("corrupt = %d, want 1", n)
	}
	if a.Corrupt() != 0 {
		t.Fatalf("TakeCorrupt did not reset")
	}
}

func TestAssemblerResyncAfterTruncation(t *testing.T) {
	c := testCodec()
	a := NewAssembler(c)

	full := c.BatteryResponse(sampleBattery(1), RTNOK)
	truncated := full[:len(full)/2]
	good := c.BatteryResponse(sampleBattery(2), RTNOK)

	frames := a.Feed(append(append([]byte(nil), truncated...), good...))
	valid := 0
	for _, f := range frames {
		if f.Valid {
			valid++
			if f.Kind != BatteryKind(2) {
				t.Fatalf("unexpected valid frame %v", f.Kind)
			}
		}
	}
	if valid != 1 {
		t.Fatalf("expected 1 valid frame, got %d", valid)
	}
	if a.Corrupt() != 1 {
		t.Fatalf("corrupt = %d, want 1", a.Corrupt())
	}
}

func TestAssemblerBadLengthChecksum(t *testing.T) {
	c := testCodec()
	a := NewAssembler(c)

	bad := c.SummaryResponse(SummaryData{}, RTNOK)
	bad[9] = '0' // LCHKSUM nibble
	frames := a.Feed(append(bad, c.SummaryResponse(SummaryData{}, RTNOK)...))

	valid := 0
	for _, f := range frames {
		if f.Valid {
			valid++
		}
	}
	if valid != 1 || a.Corrupt() != 1 {
		t.Fatalf("valid=%d corrupt=%d", valid, a.Corrupt())
	}
}

func TestAssemblerCRC16(t *testing.T) {
	c := NewCodec(NewCRC16())
	a := NewAssembler(c)

	frames := a.Feed(c.BatteryResponse(sampleBattery(5), RTNOK))
	if len(frames) != 1 || !frames[0].Valid {
		t.Fatalf("crc16 frame rejected: %+v", frames)
	}

	// A sum-checksum assembler must reject the same bytes.
	b := NewAssembler(testCodec())
	frames = b.Feed(c.BatteryResponse(sampleBattery(5), RTNOK))
	if len(frames) != 1 || frames[0].Valid {
		t.Fatalf("expected checksum mismatch across algorithms")
	}
}

func TestAssemblerReset(t *testing.T) {
	c := testCodec()
	a := NewAssembler(c)
	raw := c.SummaryResponse(SummaryData{}, RTNOK)

	a.Feed(raw[:10])
	a.Reset()
	if frames := a.Feed(raw[10:]); len(frames) != 0 {
		t.Fatalf("tail of a reset frame produced %d frames", len(frames))
	}
}

func TestChecksumByName(t *testing.T) {
	for _, name := range []string{"", "sum", "SUM", "crc16"} {
		if _, err := ChecksumByName(name); err != nil {
			t.Errorf("%q: %v", name, err)
		}
	}
	if _, err := ChecksumByName("xor"); err == nil {
		t.Errorf("expected error for unknown checksum")
	}
}
