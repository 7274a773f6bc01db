package record

// Partial is the sparse result of decoding one frame: only fields the
// controller actually reported are set.
type Partial struct {
	Numbers map[Field]float64
	Texts   map[Field]string
	Cells   []float64
}

// SetNumber records a numeric field.
func (p *Partial) SetNumber(f Field, v float64) {
	if p.Numbers == nil {
		p.Numbers = make(map[Field]float64)
	}
	p.Numbers[f] = v
}

// SetText records a text field.
func (p *Partial) SetText(f Field, v string) {
	if p.Texts == nil {
		p.Texts = make(map[Field]string)
	}
	p.Texts[f] = v
}

// Len is the number of fields set.
func (p Partial) Len() int {
	return len(p.Numbers) + len(p.Texts)
}

func (p Partial) number(f Field, dst *Opt[float64]) {
	if v, ok := p.Numbers[f]; ok {
		*dst = Some(v)
	}
}

func (p Partial) text(f Field, dst *Opt[string]) {
	if v, ok := p.Texts[f]; ok {
		*dst = Some(v)
	}
}

// NewSummary builds a fully-defaulted summary record from a sparse field map.
func NewSummary(p Partial) SummaryRecord {
	var s SummaryRecord
	s.apply(p)
	return s
}

// NewBattery builds a fully-defaulted battery record from a sparse field map.
// Fields not in p are Absent.
func NewBattery(id int, p Partial) BatteryRecord {
	b := BatteryRecord{ID: id}
	b.apply(p)
	return b
}

func (s *SummaryRecord) apply(p Partial) {
	p.number(FieldVoltage, &s.Voltage)
	p.number(FieldCurrent, &s.Current)
	p.number(FieldTemperature, &s.Temperature)
	p.number(FieldCoulomb, &s.Coulomb)
	p.text(FieldBasicStatus, &s.BasicStatus)
}

func (b *BatteryRecord) apply(p Partial) {
	p.number(FieldVoltage, &b.Voltage)
	p.number(FieldSocVoltage, &b.SocVoltage)
	p.number(FieldCurrent, &b.Current)
	p.number(FieldTemperature, &b.Temperature)
	p.number(FieldCoulomb, &b.Coulomb)
	p.text(FieldBarcode, &b.Barcode)
	p.text(FieldDevType, &b.DevType)
	p.text(FieldFirmware, &b.FirmwareVersion)
	p.text(FieldBasicStatus, &b.BasicStatus)
	p.text(FieldVoltStatus, &b.VoltStatus)
	if len(p.Cells) > 0 {
		b.CellVoltages = append([]float64(nil), p.Cells...)
	}
}
