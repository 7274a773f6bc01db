package record

// Wanted is the set of fields at least one consumer asked for. Fields
// outside it are reported Absent even when the controller sent them.
type Wanted struct {
	Summary   map[Field]bool
	Batteries []map[Field]bool // index 0 is battery 1
}

// NewWanted returns an empty set sized for n batteries.
func NewWanted(n int) *Wanted {
	w := &Wanted{Summary: map[Field]bool{}, Batteries: make([]map[Field]bool, n)}
	for i := range w.Batteries {
		w.Batteries[i] = map[Field]bool{}
	}
	return w
}

// WantSummary adds a rack-level field.
func (w *Wanted) WantSummary(f Field) {
	if w.Summary == nil {
		w.Summary = map[Field]bool{}
	}
	w.Summary[f] = true
}

// WantBattery adds a field of battery id. Ids outside the set are ignored.
func (w *Wanted) WantBattery(id int, f Field) {
	if id < 1 || id > len(w.Batteries) {
		return
	}
	if w.Batteries[id-1] == nil {
		w.Batteries[id-1] = map[Field]bool{}
	}
	w.Batteries[id-1][f] = true
}

func (w *Wanted) summary(f Field) bool {
	return w.Summary[f]
}

func (w *Wanted) battery(id int, f Field) bool {
	if id < 1 || id > len(w.Batteries) {
		return false
	}
	return w.Batteries[id-1][f]
}

// mask clears every summary and battery field not in w. Cell voltages are
// not a slot and are left alone.
func (w *Wanted) mask(r *CycleResult) {
	for _, f := range SummaryFields {
		if !w.summary(f) {
			r.Summary.clear(f)
		}
	}
	for i := range r.Batteries {
		b := &r.Batteries[i]
		for _, f := range BatteryFields {
			if !w.battery(b.ID, f) {
				b.clear(f)
			}
		}
	}
}

func (s *SummaryRecord) clear(f Field) {
	switch f {
	case FieldVoltage:
		s.Voltage = Opt[float64]{}
	case FieldCurrent:
		s.Current = Opt[float64]{}
	case FieldTemperature:
		s.Temperature = Opt[float64]{}
	case FieldCoulomb:
		s.Coulomb = Opt[float64]{}
	case FieldBasicStatus:
		s.BasicStatus = Opt[string]{}
	}
}

func (b *BatteryRecord) clear(f Field) {
	switch f {
	case FieldVoltage:
		b.Voltage = Opt[float64]{}
	case FieldSocVoltage:
		b.SocVoltage = Opt[float64]{}
	case FieldCurrent:
		b.Current = Opt[float64]{}
	case FieldTemperature:
		b.Temperature = Opt[float64]{}
	case FieldCoulomb:
		b.Coulomb = Opt[float64]{}
	case FieldBarcode:
		b.Barcode = Opt[string]{}
	case FieldDevType:
		b.DevType = Opt[string]{}
	case FieldFirmware:
		b.FirmwareVersion = Opt[string]{}
	case FieldBasicStatus:
		b.BasicStatus = Opt[string]{}
	case FieldVoltStatus:
		b.VoltStatus = Opt[string]{}
	}
}
