package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/shaunagostinho/pytes-bridge/internal/record"
)

// ErrOutOfRange tags decoded values outside plausible physical bounds.
// Such values are still reported.
var ErrOutOfRange = errors.New("value out of range")

// Sentinels the controller sends for values it does not measure.
const (
	absentU8  = 0xFF
	absentU16 = 0xFFFF
	absentS16 = -0x8000
	absentS32 = 0x7FFFFFFF
)

const (
	maxCells = 32
	maxTemps = 16

	barcodeLen  = 16
	devTypeLen  = 8
	firmwareLen = 8
)

// RangeWarning reports a value outside its plausible bounds.
type RangeWarning struct {
	Kind  Kind
	Field record.Field
	Value float64
	Min   float64
	Max   float64
}

func (w RangeWarning) Error() string {
	return fmt.Sprintf("%s %s=%g outside [%g, %g]", w.Kind, w.Field, w.Value, w.Min, w.Max)
}

func (w RangeWarning) Unwrap() error { return ErrOutOfRange }

type bounds struct{ min, max float64 }

var plausible = map[record.Field]bounds{
	record.FieldVoltage:     {0, 65},
	record.FieldSocVoltage:  {0, 65},
	record.FieldCurrent:     {-500, 500},
	record.FieldTemperature: {-40, 100},
	record.FieldCoulomb:     {0, 100},
}

var cellBounds = bounds{1.5, 4.5}

// Decoded is the result of decoding one valid frame.
type Decoded struct {
	Kind     Kind
	Partial  record.Partial
	Warnings []RangeWarning
	// PackCount is the number of packs the controller reports online;
	// -1 for battery frames.
	PackCount int
}

// Decode interprets a valid frame's payload. Fields the controller marks as
// not measured are left out of the partial record.
func Decode(f Frame) (Decoded, error) {
	out := Decoded{Kind: f.Kind, PackCount: -1}
	if !f.Valid {
		if f.Err != nil {
			return out, f.Err
		}
		return out, ErrFrameCorrupt
	}
	if f.CID2 != RTNOK {
		return out, fmt.Errorf("%w: %s RTN 0x%02X", ErrRejected, f.Kind, f.CID2)
	}

	var err error
	if f.Kind.IsSummary() {
		err = decodeSummary(f.Payload, &out)
	} else {
		err = decodeBattery(f.Payload, f.Kind.BatteryID(), &out)
	}
	return out, err
}

func decodeSummary(d []byte, out *Decoded) error {
	r := &reader{d: d}
	voltage := r.u16()
	current := r.s32()
	temp := r.s16()
	coulomb := r.u8()
	basic := r.u16()
	packs := r.u8()
	if r.err != nil {
		return fmt.Errorf("summary: %w", r.err)
	}

	if voltage != absentU16 {
		out.number(record.FieldVoltage, float64(voltage)/1000)
	}
	if current != absentS32 {
		out.number(record.FieldCurrent, float64(current)/1000)
	}
	if temp != absentS16 {
		out.number(record.FieldTemperature, float64(temp)/10)
	}
	if coulomb != absentU8 {
		out.number(record.FieldCoulomb, float64(coulomb))
	}
	if basic != absentU16 {
		out.Partial.SetText(record.FieldBasicStatus, BasicStatusName(basic))
	}
	if packs != absentU8 {
		out.PackCount = int(packs)
	}
	return nil
}

func decodeBattery(d []byte, id int, out *Decoded) error {
	r := &reader{d: d}

	if pid := int(r.u8()); r.err == nil && pid != id {
		return fmt.Errorf("%w: battery %d frame carries pack id %d", ErrFrameCorrupt, id, pid)
	}

	m := int(r.u8())
	if m > maxCells {
		return fmt.Errorf("%w: battery %d reports %d cells", ErrFrameCorrupt, id, m)
	}
	cells := make([]float64, 0, m)
	cellsOK := true
	for i := 0; i < m; i++ {
		mv := r.u16()
		if mv == absentU16 {
			cellsOK = false
			continue
		}
		v := float64(mv) / 1000
		if v < cellBounds.min || v > cellBounds.max {
			out.Warnings = append(out.Warnings, RangeWarning{
				Kind: out.Kind, Field: record.Field(fmt.Sprintf("cell%d", i+1)),
				Value: v, Min: cellBounds.min, Max: cellBounds.max,
			})
		}
		cells = append(cells, v)
	}

	k := int(r.u8())
	if k > maxTemps {
		return fmt.Errorf("%w: battery %d reports %d temperature sensors", ErrFrameCorrupt, id, k)
	}
	temps := make([]int16, k)
	for i := range temps {
		temps[i] = r.s16()
	}

	current := r.s16()
	voltage := r.u16()
	socVoltage := r.u16()
	coulomb := r.u8()
	basic := r.u16()
	volt := r.u16()
	barcode := r.text(barcodeLen)
	devType := r.text(devTypeLen)
	firmware := r.text(firmwareLen)
	if r.err != nil {
		return fmt.Errorf("battery %d: %w", id, r.err)
	}

	if cellsOK && len(cells) > 0 {
		out.Partial.Cells = cells
	}
	if k > 0 && temps[0] != absentS16 {
		out.number(record.FieldTemperature, float64(temps[0])/10)
	}
	if current != absentS16 {
		out.number(record.FieldCurrent, float64(current)/100)
	}
	if voltage != absentU16 {
		out.number(record.FieldVoltage, float64(voltage)/1000)
	}
	if socVoltage != absentU16 {
		out.number(record.FieldSocVoltage, float64(socVoltage)/1000)
	}
	if coulomb != absentU8 {
		out.number(record.FieldCoulomb, float64(coulomb))
	}
	if basic != absentU16 {
		out.Partial.SetText(record.FieldBasicStatus, BasicStatusName(basic))
	}
	if volt != absentU16 {
		out.Partial.SetText(record.FieldVoltStatus, VoltStatusName(volt))
	}
	out.text(record.FieldBarcode, barcode)
	out.text(record.FieldDevType, devType)
	out.text(record.FieldFirmware, firmware)
	return nil
}

func (d *Decoded) number(f record.Field, v float64) {
	d.Partial.SetNumber(f, v)
	if b, ok := plausible[f]; ok && (v < b.min || v > b.max) {
		d.Warnings = append(d.Warnings, RangeWarning{Kind: d.Kind, Field: f, Value: v, Min: b.min, Max: b.max})
	}
}

func (d *Decoded) text(f record.Field, raw []byte) {
	if s, ok := TrimText(raw); ok {
		d.Partial.SetText(f, s)
	}
}

// TrimText right-trims padding (NUL, space, 0xFF) from a fixed-width text
// field. An all-padding field reports false.
func TrimText(raw []byte) (string, bool) {
	end := len(raw)
	for end > 0 && isPadding(raw[end-1]) {
		end--
	}
	if end == 0 {
		return "", false
	}
	var sb strings.Builder
	for _, c := range raw[:end] {
		if c < 0x20 || c > 0x7E {
			c = '?'
		}
		sb.WriteByte(c)
	}
	return sb.String(), true
}

func isPadding(c byte) bool {
	return c == 0x00 || c == ' ' || c == 0xFF
}

// reader walks a payload; the first short read latches err and later reads
// return zero.
type reader struct {
	d   []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.d) {
		r.err = fmt.Errorf("%w: payload truncated at offset %d (need %d, have %d)", ErrFrameCorrupt, r.off, n, len(r.d)-r.off)
		return nil
	}
	b := r.d[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) s16() int16 { return int16(r.u16()) }

func (r *reader) s32() int32 {
	if b := r.take(4); b != nil {
		return int32(binary.BigEndian.Uint32(b))
	}
	return 0
}

func (r *reader) text(n int) []byte { return r.take(n) }
