// Package publish pushes finished cycles to the configured sinks. Only
// slots wired in the configuration are published.
package publish

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/shaunagostinho/pytes-bridge/internal/config"
	"github.com/shaunagostinho/pytes-bridge/internal/record"
)

// Unavailable is the payload sinks use for an Absent value.
const Unavailable = "unavailable"

// Target is the record a batch of values belongs to: the rack summary
// (Battery == 0) or one battery.
type Target struct {
	Battery int
}

func (t Target) IsSummary() bool { return t.Battery == 0 }

func (t Target) String() string {
	if t.IsSummary() {
		return "summary"
	}
	return fmt.Sprintf("battery %d", t.Battery)
}

// Key is a compact identifier usable in topics and keys.
func (t Target) Key() string {
	if t.IsSummary() {
		return "summary"
	}
	return "battery:" + strconv.Itoa(t.Battery)
}

// Value is one wired slot's reading.
type Value struct {
	Entity string              `json:"entity"`
	Field  record.Field        `json:"field"`
	Unit   string              `json:"unit,omitempty"`
	Number record.Opt[float64] `json:"-"`
	Text   record.Opt[string]  `json:"-"`
}

// Present reports whether the slot has a reading this cycle.
func (v Value) Present() bool {
	if v.Field.IsText() {
		return v.Text.Present()
	}
	return v.Number.Present()
}

// Payload renders the reading as text, or Unavailable.
func (v Value) Payload() string {
	if v.Field.IsText() {
		return v.Text.Or(Unavailable)
	}
	n, ok := v.Number.Get()
	if !ok {
		return Unavailable
	}
	return strconv.FormatFloat(math.Round(n*1000)/1000, 'f', -1, 64)
}

// Sink receives the wired values of one target. Implementations must not
// block for long and handle their own errors; values must not be modified.
type Sink interface {
	Name() string
	Publish(target Target, values []Value)
}

// AvailabilitySink is implemented by sinks that can advertise link state.
type AvailabilitySink interface {
	SetAvailable(up bool)
}

// CycleSink receives every finished cycle whole, including targets with no
// wired slots.
type CycleSink interface {
	Name() string
	PublishCycle(res record.CycleResult)
}

// Slot wires a field to an entity name.
type Slot struct {
	Field  record.Field
	Entity string
}

// Plan lists the wired slots per target in publish order.
type Plan struct {
	Summary   []Slot
	Batteries [][]Slot // index 0 is battery 1
}

// BuildPlan turns a normalized outputs config into a Plan for n batteries.
func BuildPlan(out config.OutputsConfig, n int) (Plan, error) {
	var p Plan
	var err error
	if p.Summary, err = slotsFor(out.Summary, record.SummaryFields); err != nil {
		return Plan{}, fmt.Errorf("summary: %w", err)
	}
	p.Batteries = make([][]Slot, n)
	for i := 0; i < n && i < len(out.Batteries); i++ {
		if p.Batteries[i], err = slotsFor(out.Batteries[i], record.BatteryFields); err != nil {
			return Plan{}, fmt.Errorf("battery %d: %w", i+1, err)
		}
	}
	return p, nil
}

func slotsFor(m config.SlotMap, order []record.Field) ([]Slot, error) {
	var slots []Slot
	known := make(map[record.Field]bool, len(order))
	for _, f := range order {
		known[f] = true
		if entity, ok := m[string(f)]; ok {
			slots = append(slots, Slot{Field: f, Entity: entity})
		}
	}
	var unknown []string
	for k := range m {
		if !known[record.Field(k)] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown slots %v", unknown)
	}
	return slots, nil
}

// Wired is the total number of wired slots.
func (p Plan) Wired() int {
	n := len(p.Summary)
	for _, b := range p.Batteries {
		n += len(b)
	}
	return n
}

// Wanted returns the fields this plan publishes, for restricting a cycle
// to what some consumer asked for.
func (p Plan) Wanted() *record.Wanted {
	w := record.NewWanted(len(p.Batteries))
	for _, s := range p.Summary {
		w.WantSummary(s.Field)
	}
	for i, slots := range p.Batteries {
		for _, s := range slots {
			w.WantBattery(i+1, s.Field)
		}
	}
	return w
}

// Options adjust how values are presented.
type Options struct {
	TemperatureUnit string // "C" (default) or "F"
}

// Publisher fans a CycleResult out to sinks according to a Plan.
type Publisher struct {
	plan   Plan
	opts   Options
	sinks  []Sink
	cycles []CycleSink
}

func New(plan Plan, opts Options, sinks ...Sink) *Publisher {
	if opts.TemperatureUnit == "" {
		opts.TemperatureUnit = "C"
	}
	return &Publisher{plan: plan, opts: opts, sinks: sinks}
}

// AddCycleSink registers c to receive whole cycles.
func (p *Publisher) AddCycleSink(c CycleSink) {
	p.cycles = append(p.cycles, c)
}

// Publish hands res to every CycleSink, then sends every wired slot to the
// sinks. Targets without wired slots produce no sink calls.
func (p *Publisher) Publish(res record.CycleResult) {
	for _, c := range p.cycles {
		c.PublishCycle(res)
	}
	if len(p.sinks) == 0 {
		return
	}
	p.emit(Target{}, p.plan.Summary, res.Summary.Number, res.Summary.Text)
	for i, b := range res.Batteries {
		if i >= len(p.plan.Batteries) {
			break
		}
		p.emit(Target{Battery: b.ID}, p.plan.Batteries[i], b.Number, b.Text)
	}
}

// SetAvailable forwards link state to sinks that advertise it.
func (p *Publisher) SetAvailable(up bool) {
	for _, s := range p.sinks {
		if a, ok := s.(AvailabilitySink); ok {
			a.SetAvailable(up)
		}
	}
}

func (p *Publisher) emit(t Target, slots []Slot, num func(record.Field) record.Opt[float64], text func(record.Field) record.Opt[string]) {
	if len(slots) == 0 {
		return
	}
	values := make([]Value, 0, len(slots))
	for _, s := range slots {
		v := Value{Entity: s.Entity, Field: s.Field}
		if s.Field.IsText() {
			v.Text = text(s.Field)
		} else {
			v.Number, v.Unit = p.convert(s.Field, num(s.Field))
		}
		values = append(values, v)
	}
	for _, s := range p.sinks {
		s.Publish(t, values)
	}
}

func (p *Publisher) convert(f record.Field, v record.Opt[float64]) (record.Opt[float64], string) {
	switch f {
	case record.FieldVoltage, record.FieldSocVoltage:
		return v, "V"
	case record.FieldCurrent:
		return v, "A"
	case record.FieldCoulomb:
		return v, "%"
	case record.FieldTemperature:
		if p.opts.TemperatureUnit == "F" {
			if c, ok := v.Get(); ok {
				return record.Some(c*9/5 + 32), "°F"
			}
			return v, "°F"
		}
		return v, "°C"
	}
	return v, ""
}
