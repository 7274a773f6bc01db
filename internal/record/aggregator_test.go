package record

import (
	"encoding/json"
	"errors"
	"testing"
)

func voltagePartial(v float64) Partial {
	var p Partial
	p.SetNumber(FieldVoltage, v)
	return p
}

func TestBeginSizesBatteries(t *testing.T) {
	for n := 1; n <= 16; n++ {
		res := Begin(n).Finish()
		if len(res.Batteries) != n {
			t.Fatalf("n=%d: got %d batteries", n, len(res.Batteries))
		}
		for i, b := range res.Batteries {
			if b.ID != i+1 {
				t.Fatalf("n=%d: battery %d has id %d", n, i, b.ID)
			}
		}
	}
}

func TestAllFailedIsAllAbsent(t *testing.T) {
	res := Begin(4).Finish()

	if len(res.FailedIDs) != 4 {
		t.Fatalf("expected 4 failed ids, got %v", res.FailedIDs)
	}
	for i, id := range res.FailedIDs {
		if id != i+1 {
			t.Fatalf("failed ids not 1..4: %v", res.FailedIDs)
		}
	}
	if res.SucceededCount != 0 {
		t.Fatalf("expected 0 succeeded, got %d", res.SucceededCount)
	}
	for _, b := range res.Batteries {
		for _, f := range BatteryFields {
			if f.IsText() {
				if b.Text(f).Present() {
					t.Fatalf("battery %d field %s present", b.ID, f)
				}
			} else if b.Number(f).Present() {
				t.Fatalf("battery %d field %s present", b.ID, f)
			}
		}
	}
}

func TestApplyOverwritesOnlyPresentFields(t *testing.T) {
	a := Begin(2)

	var p Partial
	p.SetNumber(FieldVoltage, 52.1)
	p.SetText(FieldBarcode, "PPTAH0123")
	if err := a.ApplyBattery(1, p); err != nil {
		t.Fatalf("apply: %v", err)
	}
	var q Partial
	q.SetNumber(FieldCurrent, -3.5)
	if err := a.ApplyBattery(1, q); err != nil {
		t.Fatalf("apply: %v", err)
	}

	res := a.Finish()
	b := res.Batteries[0]
	if v, ok := b.Voltage.Get(); !ok || v != 52.1 {
		t.Fatalf("voltage = %v", b.Voltage)
	}
	if v, ok := b.Current.Get(); !ok || v != -3.5 {
		t.Fatalf("current = %v", b.Current)
	}
	if b.Temperature.Present() {
		t.Fatalf("temperature should be absent")
	}
	if res.SucceededCount != 1 || len(res.FailedIDs) != 1 || res.FailedIDs[0] != 2 {
		t.Fatalf("succeeded=%d failed=%v", res.SucceededCount, res.FailedIDs)
	}
	if !res.Failed(2) || res.Failed(1) {
		t.Fatalf("Failed() disagrees with FailedIDs %v", res.FailedIDs)
	}
}

func TestApplyBatteryRejectsBadID(t *testing.T) {
	a := Begin(3)
	for _, id := range []int{0, 4, -1} {
		if err := a.ApplyBattery(id, voltagePartial(1)); !errors.Is(err, ErrBatteryID) {
			t.Fatalf("id %d: expected ErrBatteryID, got %v", id, err)
		}
	}
}

func TestFinishFreezes(t *testing.T) {
	a := Begin(1)
	res := a.Finish()

	if err := a.ApplyBattery(1, voltagePartial(50)); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
	if err := a.ApplySummary(voltagePartial(50)); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
	if res.Batteries[0].Voltage.Present() {
		t.Fatalf("frozen result was mutated")
	}
}

func TestFinishReturnsIndependentCopy(t *testing.T) {
	a := Begin(1)
	p := voltagePartial(51)
	p.Cells = []float64{3.2, 3.3}
	a.ApplyBattery(1, p)

	first := a.Finish()
	first.Batteries[0].CellVoltages[0] = 0
	first.Batteries[0].Voltage = Absent[float64]()

	second := a.Finish()
	if second.Batteries[0].CellVoltages[0] != 3.2 {
		t.Fatalf("cell slice shared between copies")
	}
	if !second.Batteries[0].Voltage.Present() {
		t.Fatalf("battery slice shared between copies")
	}
}

func TestNoCarryOverBetweenCycles(t *testing.T) {
	a := Begin(1)
	a.ApplyBattery(1, voltagePartial(52))
	a.Finish()

	next := Begin(1).Finish()
	if next.Batteries[0].Voltage.Present() {
		t.Fatalf("voltage carried over into a new cycle")
	}
}

func TestDeriveSummaryFillsAbsentOnly(t *testing.T) {
	a := Begin(3)

	var s Partial
	s.SetNumber(FieldVoltage, 53.0)
	a.ApplySummary(s)

	for id, cur := range map[int]float64{1: 1.0, 2: 0.5} {
		var p Partial
		p.SetNumber(FieldVoltage, 52.0)
		p.SetNumber(FieldCurrent, cur)
		p.SetNumber(FieldTemperature, 20+float64(id))
		p.SetNumber(FieldCoulomb, 80+float64(id))
		a.ApplyBattery(id, p)
	}
	a.DeriveSummary()
	res := a.Finish()

	if v := res.Summary.Voltage.Or(0); v != 53.0 {
		t.Fatalf("reported voltage overwritten: %v", v)
	}
	if v := res.Summary.Current.Or(0); v != 1.5 {
		t.Fatalf("current = %v, want 1.5", v)
	}
	if v := res.Summary.Temperature.Or(0); v != 21.5 {
		t.Fatalf("temperature = %v, want 21.5", v)
	}
	if v := res.Summary.Coulomb.Or(0); v != 82 {
		t.Fatalf("coulomb = %v, want 82", v)
	}
	if v := res.Summary.BasicStatus.Or(""); v != "Charge" {
		t.Fatalf("status = %q, want Charge", v)
	}
}

func TestDeriveSummaryStatus(t *testing.T) {
	tests := []struct {
		current float64
		want    string
	}{
		{0.1, "Idle"},
		{-0.1, "Idle"},
		{0.3, "Charge"},
		{-12, "Discharge"},
	}
	for _, tt := range tests {
		a := Begin(1)
		var p Partial
		p.SetNumber(FieldCurrent, tt.current)
		a.ApplyBattery(1, p)
		a.DeriveSummary()
		if got := a.Finish().Summary.BasicStatus.Or(""); got != tt.want {
			t.Errorf("current %.1f: status %q, want %q", tt.current, got, tt.want)
		}
	}
}

func TestOptJSON(t *testing.T) {
	b := NewBattery(2, voltagePartial(51.2))
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["voltage"] != 51.2 {
		t.Fatalf("voltage = %v", m["voltage"])
	}
	if v, ok := m["barcode"]; !ok || v != nil {
		t.Fatalf("absent barcode should be null, got %v", v)
	}
}

func TestRestrictClearsUnrequestedFields(t *testing.T) {
	w := NewWanted(2)
	w.WantSummary(FieldCurrent)
	w.WantBattery(1, FieldVoltage)

	a := Begin(2)
	a.Restrict(w)
	var s Partial
	s.SetNumber(FieldVoltage, 53.0)
	a.ApplySummary(s)
	for id := 1; id <= 2; id++ {
		var p Partial
		p.SetNumber(FieldVoltage, 52.0)
		p.SetNumber(FieldCurrent, 1.0)
		p.SetText(FieldBarcode, "PPTAH0230800001")
		p.Cells = []float64{3.3, 3.31}
		a.ApplyBattery(id, p)
	}
	a.DeriveSummary()
	res := a.Finish()

	if res.Summary.Voltage.Present() {
		t.Fatalf("unrequested summary voltage kept: %v", res.Summary.Voltage)
	}
	if v := res.Summary.Current.Or(0); v != 2 {
		t.Fatalf("derived current = %v, want 2", res.Summary.Current)
	}
	if res.Summary.BasicStatus.Present() {
		t.Fatalf("unrequested status kept")
	}
	b1, b2 := res.Batteries[0], res.Batteries[1]
	if v := b1.Voltage.Or(0); v != 52 {
		t.Fatalf("battery 1 voltage = %v", b1.Voltage)
	}
	if b1.Current.Present() || b1.Barcode.Present() || b2.Voltage.Present() {
		t.Fatalf("unrequested battery fields kept: %+v %+v", b1, b2)
	}
	if res.SucceededCount != 2 || len(b2.CellVoltages) != 2 {
		t.Fatalf("restriction changed outcome: succeeded=%d cells=%v", res.SucceededCount, b2.CellVoltages)
	}
}
