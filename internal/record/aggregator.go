package record

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrFrozen is returned when a finished cycle is mutated.
	ErrFrozen = errors.New("record: cycle already finished")
	// ErrBatteryID is returned for an id outside 1..N.
	ErrBatteryID = errors.New("record: battery id out of range")
)

// statusThreshold is the rack current (A) beyond which the derived status
// reports Charge or Discharge instead of Idle.
const statusThreshold = 0.2

// Aggregator collects decoded fields for one cycle. It is not safe for
// concurrent use; the scheduler owns it for the duration of a cycle.
type Aggregator struct {
	res     CycleResult
	ok      []bool
	corrupt int
	frozen  bool
	want    *Wanted
}

// Begin starts a cycle for n batteries with every slot Absent.
func Begin(n int) *Aggregator {
	if n < 0 {
		n = 0
	}
	a := &Aggregator{ok: make([]bool, n)}
	a.res.Started = time.Now()
	a.res.Batteries = make([]BatteryRecord, n)
	for i := range a.res.Batteries {
		a.res.Batteries[i].ID = i + 1
	}
	return a
}

// Restrict limits the finished cycle to the fields in w. A nil w keeps
// every field.
func (a *Aggregator) Restrict(w *Wanted) {
	if a.frozen {
		return
	}
	a.want = w
}

// ApplySummary overwrites the summary fields present in p.
func (a *Aggregator) ApplySummary(p Partial) error {
	if a.frozen {
		return ErrFrozen
	}
	a.res.Summary.apply(p)
	a.res.SummaryOK = true
	return nil
}

// ApplyBattery overwrites the fields of battery id present in p and marks
// the battery as succeeded.
func (a *Aggregator) ApplyBattery(id int, p Partial) error {
	if a.frozen {
		return ErrFrozen
	}
	if id < 1 || id > len(a.res.Batteries) {
		return fmt.Errorf("%w: %d (have %d)", ErrBatteryID, id, len(a.res.Batteries))
	}
	a.res.Batteries[id-1].apply(p)
	a.ok[id-1] = true
	return nil
}

// Warn attaches an informational note to the cycle.
func (a *Aggregator) Warn(msg string) {
	if a.frozen {
		return
	}
	a.res.Warnings = append(a.res.Warnings, msg)
}

// AddCorrupt adds to the cycle's corrupt frame count.
func (a *Aggregator) AddCorrupt(n int) {
	if a.frozen || n <= 0 {
		return
	}
	a.corrupt += n
}

// DeriveSummary fills Absent summary fields from this cycle's batteries:
// mean voltage and temperature, rounded mean charge, summed current, and a
// status derived from the summed current.
func (a *Aggregator) DeriveSummary() {
	if a.frozen {
		return
	}
	var vSum, tSum, cSum, iSum float64
	var nV, nT, nC, nI int
	for _, b := range a.res.Batteries {
		if v, ok := b.Voltage.Get(); ok {
			vSum += v
			nV++
		}
		if v, ok := b.Temperature.Get(); ok {
			tSum += v
			nT++
		}
		if v, ok := b.Coulomb.Get(); ok {
			cSum += v
			nC++
		}
		if v, ok := b.Current.Get(); ok {
			iSum += v
			nI++
		}
	}

	s := &a.res.Summary
	if !s.Voltage.Present() && nV > 0 {
		s.Voltage = Some(vSum / float64(nV))
	}
	if !s.Temperature.Present() && nT > 0 {
		s.Temperature = Some(tSum / float64(nT))
	}
	if !s.Coulomb.Present() && nC > 0 {
		s.Coulomb = Some(math.Round(cSum / float64(nC)))
	}
	if !s.Current.Present() && nI > 0 {
		s.Current = Some(iSum)
	}
	if !s.BasicStatus.Present() && nI > 0 {
		st := "Idle"
		if iSum > statusThreshold {
			st = "Charge"
		} else if iSum < -statusThreshold {
			st = "Discharge"
		}
		s.BasicStatus = Some(st)
	}
}

// Finish freezes the cycle and returns a copy that shares no memory with
// the aggregator. Fields outside the Restrict set are Absent.
func (a *Aggregator) Finish() CycleResult {
	if !a.frozen {
		a.frozen = true
		if a.want != nil {
			a.want.mask(&a.res)
		}
		a.res.Finished = time.Now()
		a.res.CorruptFrames = a.corrupt
		a.res.SucceededCount = 0
		a.res.FailedIDs = []int{}
		for i, ok := range a.ok {
			if ok {
				a.res.SucceededCount++
			} else {
				a.res.FailedIDs = append(a.res.FailedIDs, i+1)
			}
		}
	}
	return a.res.clone()
}

func (r CycleResult) clone() CycleResult {
	out := r
	out.Batteries = make([]BatteryRecord, len(r.Batteries))
	for i, b := range r.Batteries {
		if b.CellVoltages != nil {
			b.CellVoltages = append([]float64(nil), b.CellVoltages...)
		}
		out.Batteries[i] = b
	}
	out.FailedIDs = append([]int{}, r.FailedIDs...)
	if r.Warnings != nil {
		out.Warnings = append([]string(nil), r.Warnings...)
	}
	return out
}
