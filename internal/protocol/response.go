package protocol

import "encoding/binary"

// SummaryData is the raw content of a rack summary response.
type SummaryData struct {
	VoltageMV   uint16
	CurrentMA   int32
	TempDeciC   int16
	Coulomb     uint8
	BasicStatus uint16
	Packs       uint8
}

// BatteryData is the raw content of a battery response.
type BatteryData struct {
	ID           uint8
	CellsMV      []uint16
	TempsDeciC   []int16
	CurrentCA    int16 // 10 mA units
	VoltageMV    uint16
	SocVoltageMV uint16
	Coulomb      uint8
	BasicStatus  uint16
	VoltStatus   uint16
	Barcode      string
	DevType      string
	Firmware     string
}

func (d SummaryData) Bytes() []byte {
	b := make([]byte, 0, 12)
	b = binary.BigEndian.AppendUint16(b, d.VoltageMV)
	b = binary.BigEndian.AppendUint32(b, uint32(d.CurrentMA))
	b = binary.BigEndian.AppendUint16(b, uint16(d.TempDeciC))
	b = append(b, d.Coulomb)
	b = binary.BigEndian.AppendUint16(b, d.BasicStatus)
	b = append(b, d.Packs)
	return b
}

func (d BatteryData) Bytes() []byte {
	b := []byte{d.ID, byte(len(d.CellsMV))}
	for _, mv := range d.CellsMV {
		b = binary.BigEndian.AppendUint16(b, mv)
	}
	b = append(b, byte(len(d.TempsDeciC)))
	for _, t := range d.TempsDeciC {
		b = binary.BigEndian.AppendUint16(b, uint16(t))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(d.CurrentCA))
	b = binary.BigEndian.AppendUint16(b, d.VoltageMV)
	b = binary.BigEndian.AppendUint16(b, d.SocVoltageMV)
	b = append(b, d.Coulomb)
	b = binary.BigEndian.AppendUint16(b, d.BasicStatus)
	b = binary.BigEndian.AppendUint16(b, d.VoltStatus)
	b = append(b, padText(d.Barcode, barcodeLen)...)
	b = append(b, padText(d.DevType, devTypeLen)...)
	b = append(b, padText(d.Firmware, firmwareLen)...)
	return b
}

// SummaryResponse encodes a rack summary reply as the controller sends it.
func (c Codec) SummaryResponse(d SummaryData, rtn byte) []byte {
	return c.Encode(SummaryAddress, CIDBattery, rtn, d.Bytes())
}

// BatteryResponse encodes a battery reply as the controller sends it.
func (c Codec) BatteryResponse(d BatteryData, rtn byte) []byte {
	return c.Encode(d.ID, CIDBattery, rtn, d.Bytes())
}

func padText(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}
