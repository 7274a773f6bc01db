package record

import (
	"sort"
	"time"
)

// Field names a measurement slot. The same names are used as output slot
// keys in the configuration.
type Field string

const (
	FieldVoltage     Field = "voltage"
	FieldSocVoltage  Field = "soc_voltage"
	FieldCurrent     Field = "current"
	FieldTemperature Field = "temperature"
	FieldCoulomb     Field = "coulomb"
	FieldBarcode     Field = "barcode"
	FieldDevType     Field = "devtype"
	FieldFirmware    Field = "firm_version"
	FieldBasicStatus Field = "basic_status"
	FieldVoltStatus  Field = "volt_status"
)

// SummaryFields lists the rack-level slots in publish order.
var SummaryFields = []Field{
	FieldVoltage,
	FieldCurrent,
	FieldTemperature,
	FieldCoulomb,
	FieldBasicStatus,
}

// BatteryFields lists the per-pack slots in publish order.
var BatteryFields = []Field{
	FieldVoltage,
	FieldSocVoltage,
	FieldCurrent,
	FieldTemperature,
	FieldCoulomb,
	FieldBarcode,
	FieldDevType,
	FieldFirmware,
	FieldBasicStatus,
	FieldVoltStatus,
}

// IsText reports whether the slot carries a string rather than a number.
func (f Field) IsText() bool {
	switch f {
	case FieldBarcode, FieldDevType, FieldFirmware, FieldBasicStatus, FieldVoltStatus:
		return true
	}
	return false
}

// ValidSummaryField reports whether f is a rack-level slot.
func ValidSummaryField(f Field) bool { return contains(SummaryFields, f) }

// ValidBatteryField reports whether f is a per-pack slot.
func ValidBatteryField(f Field) bool { return contains(BatteryFields, f) }

func contains(list []Field, f Field) bool {
	for _, x := range list {
		if x == f {
			return true
		}
	}
	return false
}

// SummaryRecord is the rack-level aggregate for one cycle.
type SummaryRecord struct {
	Voltage     Opt[float64] `json:"voltage"`     // V
	Current     Opt[float64] `json:"current"`     // A, positive while charging
	Temperature Opt[float64] `json:"temperature"` // °C
	Coulomb     Opt[float64] `json:"coulomb"`     // %
	BasicStatus Opt[string]  `json:"basicStatus"`
}

// BatteryRecord is one pack's telemetry for one cycle.
type BatteryRecord struct {
	ID              int          `json:"id"`
	Voltage         Opt[float64] `json:"voltage"`     // V
	SocVoltage      Opt[float64] `json:"socVoltage"`  // V
	Current         Opt[float64] `json:"current"`     // A
	Temperature     Opt[float64] `json:"temperature"` // °C
	Coulomb         Opt[float64] `json:"coulomb"`     // %
	Barcode         Opt[string]  `json:"barcode"`
	DevType         Opt[string]  `json:"devType"`
	FirmwareVersion Opt[string]  `json:"firmwareVersion"`
	BasicStatus     Opt[string]  `json:"basicStatus"`
	VoltStatus      Opt[string]  `json:"voltStatus"`

	CellVoltages []float64 `json:"cellVoltages,omitempty"` // V, in cell order
}

// CycleResult is the frozen outcome of one poll cycle.
type CycleResult struct {
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Summary   SummaryRecord   `json:"summary"`
	Batteries []BatteryRecord `json:"batteries"`

	SummaryOK      bool     `json:"summaryOk"`
	SucceededCount int      `json:"succeededCount"`
	FailedIDs      []int    `json:"failedIds"`
	CorruptFrames  int      `json:"corruptFrames"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Failed reports whether battery id failed this cycle.
func (r CycleResult) Failed(id int) bool {
	i := sort.SearchInts(r.FailedIDs, id)
	return i < len(r.FailedIDs) && r.FailedIDs[i] == id
}

// Battery returns the record for id, or false if id is out of range.
func (r CycleResult) Battery(id int) (BatteryRecord, bool) {
	if id < 1 || id > len(r.Batteries) {
		return BatteryRecord{}, false
	}
	return r.Batteries[id-1], true
}

// Number returns a numeric summary slot. Text slots and unknown names are Absent.
func (s SummaryRecord) Number(f Field) Opt[float64] {
	switch f {
	case FieldVoltage:
		return s.Voltage
	case FieldCurrent:
		return s.Current
	case FieldTemperature:
		return s.Temperature
	case FieldCoulomb:
		return s.Coulomb
	}
	return Opt[float64]{}
}

// Text returns a text summary slot.
func (s SummaryRecord) Text(f Field) Opt[string] {
	if f == FieldBasicStatus {
		return s.BasicStatus
	}
	return Opt[string]{}
}

// Number returns a numeric battery slot.
func (b BatteryRecord) Number(f Field) Opt[float64] {
	switch f {
	case FieldVoltage:
		return b.Voltage
	case FieldSocVoltage:
		return b.SocVoltage
	case FieldCurrent:
		return b.Current
	case FieldTemperature:
		return b.Temperature
	case FieldCoulomb:
		return b.Coulomb
	}
	return Opt[float64]{}
}

// Text returns a text battery slot.
func (b BatteryRecord) Text(f Field) Opt[string] {
	switch f {
	case FieldBarcode:
		return b.Barcode
	case FieldDevType:
		return b.DevType
	case FieldFirmware:
		return b.FirmwareVersion
	case FieldBasicStatus:
		return b.BasicStatus
	case FieldVoltStatus:
		return b.VoltStatus
	}
	return Opt[string]{}
}
