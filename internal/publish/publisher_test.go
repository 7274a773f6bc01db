package publish

import (
	"strings"
	"testing"
	"time"

	"github.com/shaunagostinho/pytes-bridge/internal/config"
	"github.com/shaunagostinho/pytes-bridge/internal/record"
)

type call struct {
	target Target
	values []Value
}

type recordingSink struct {
	calls []call
	avail []bool
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Publish(t Target, values []Value) {
	r.calls = append(r.calls, call{t, values})
}

func (r *recordingSink) SetAvailable(up bool) { r.avail = append(r.avail, up) }

func cycle(n int) record.CycleResult {
	agg := record.Begin(n)
	var s record.Partial
	s.SetNumber(record.FieldVoltage, 51.2)
	s.SetNumber(record.FieldTemperature, 25)
	s.SetText(record.FieldBasicStatus, "Charge")
	agg.ApplySummary(s)
	for id := 1; id <= n; id++ {
		if id == 2 {
			continue
		}
		var b record.Partial
		b.SetNumber(record.FieldVoltage, 51.0+float64(id)/10)
		b.SetNumber(record.FieldTemperature, 20)
		b.SetText(record.FieldBarcode, "PPTAH0230800001")
		agg.ApplyBattery(id, b)
	}
	return agg.Finish()
}

func TestPublishOnlyWiredSlots(t *testing.T) {
	out := config.OutputsConfig{
		Summary: config.SlotMap{"voltage": "rack_v", "basic_status": "rack_state"},
		Batteries: []config.SlotMap{
			{"voltage": "b1_v", "barcode": "b1_sn"},
			{"voltage": "b2_v"},
			{},
		},
	}
	plan, err := BuildPlan(out, 3)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.Wired() != 5 {
		t.Fatalf("wired = %d, want 5", plan.Wired())
	}

	sink := &recordingSink{}
	New(plan, Options{}, sink).Publish(cycle(3))

	// summary, battery 1, battery 2; battery 3 has nothing wired
	if len(sink.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(sink.calls))
	}
	if !sink.calls[0].target.IsSummary() {
		t.Fatalf("first call should be summary, got %s", sink.calls[0].target)
	}
	sum := sink.calls[0].values
	if len(sum) != 2 || sum[0].Entity != "rack_v" || sum[0].Payload() != "51.2" || sum[1].Payload() != "Charge" {
		t.Fatalf("summary values = %+v", sum)
	}
	if sum[0].Unit != "V" {
		t.Fatalf("unit = %q", sum[0].Unit)
	}

	b1 := sink.calls[1]
	if b1.target.Battery != 1 || len(b1.values) != 2 {
		t.Fatalf("battery 1 call = %+v", b1)
	}
	if b1.values[1].Payload() != "PPTAH0230800001" {
		t.Fatalf("barcode = %q", b1.values[1].Payload())
	}

	b2 := sink.calls[2]
	if b2.target.Battery != 2 || b2.values[0].Present() || b2.values[0].Payload() != Unavailable {
		t.Fatalf("failed battery should publish unavailable, got %+v", b2)
	}
}

func TestPlanWanted(t *testing.T) {
	plan, err := BuildPlan(config.OutputsConfig{
		Summary:   config.SlotMap{"current": "rack_i"},
		Batteries: []config.SlotMap{{"voltage": "b1_v"}, nil},
	}, 2)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	w := plan.Wanted()
	if !w.Summary[record.FieldCurrent] || w.Summary[record.FieldVoltage] {
		t.Fatalf("summary wanted = %v", w.Summary)
	}
	if len(w.Batteries) != 2 || !w.Batteries[0][record.FieldVoltage] || w.Batteries[0][record.FieldBarcode] {
		t.Fatalf("battery wanted = %v", w.Batteries)
	}
	if len(w.Batteries[1]) != 0 {
		t.Fatalf("battery 2 has nothing wired, got %v", w.Batteries[1])
	}
}

func TestPublishFahrenheit(t *testing.T) {
	plan, err := BuildPlan(config.OutputsConfig{
		Summary:   config.SlotMap{"temperature": "rack_t"},
		Batteries: []config.SlotMap{nil, {"temperature": "b2_t"}},
	}, 2)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	sink := &recordingSink{}
	New(plan, Options{TemperatureUnit: "F"}, sink).Publish(cycle(2))

	if len(sink.calls) != 2 {
		t.Fatalf("calls = %d", len(sink.calls))
	}
	if v := sink.calls[0].values[0]; v.Payload() != "77" || v.Unit != "°F" {
		t.Fatalf("summary temperature = %s %s", v.Payload(), v.Unit)
	}
	if v := sink.calls[1].values[0]; v.Present() {
		t.Fatalf("absent temperature converted: %+v", v)
	}
}

type cycleRecorder struct{ got []record.CycleResult }

func (c *cycleRecorder) Name() string { return "cycles" }
func (c *cycleRecorder) PublishCycle(res record.CycleResult) { c.got = append(c.got, res) }

func TestCycleSinkGetsUnwiredCycles(t *testing.T) {
	cr := &cycleRecorder{}
	p := New(Plan{Batteries: make([][]Slot, 2)}, Options{})
	p.AddCycleSink(cr)
	p.Publish(cycle(2))
	if len(cr.got) != 1 || len(cr.got[0].Batteries) != 2 {
		t.Fatalf("cycle sink got %+v", cr.got)
	}
}

func TestSetAvailableFansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	p := New(Plan{}, Options{}, a, LogSink{}, b)
	p.SetAvailable(false)
	p.SetAvailable(true)
	if len(a.avail) != 2 || a.avail[0] || !a.avail[1] || len(b.avail) != 2 {
		t.Fatalf("availability a=%v b=%v", a.avail, b.avail)
	}
}

func TestBuildPlanOrderAndErrors(t *testing.T) {
	plan, err := BuildPlan(config.OutputsConfig{
		Summary: config.SlotMap{"basic_status": "s", "current": "c", "voltage": "v"},
	}, 1)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	var got []string
	for _, s := range plan.Summary {
		got = append(got, string(s.Field))
	}
	if strings.Join(got, ",") != "voltage,current,basic_status" {
		t.Fatalf("order = %v", got)
	}
	if len(plan.Batteries) != 1 || plan.Batteries[0] != nil {
		t.Fatalf("batteries = %v", plan.Batteries)
	}

	if _, err := BuildPlan(config.OutputsConfig{Summary: config.SlotMap{"barcode": "x"}}, 1); err == nil {
		t.Fatalf("barcode is not a summary slot")
	}
	if _, err := BuildPlan(config.OutputsConfig{Batteries: []config.SlotMap{{"soc": "x"}}}, 1); err == nil {
		t.Fatalf("un-normalized soc alias should be rejected")
	}
}

func TestValuePayloadRounding(t *testing.T) {
	v := Value{Field: record.FieldVoltage, Number: record.Some(3.3339999)}
	if v.Payload() != "3.334" {
		t.Fatalf("payload = %q", v.Payload())
	}
}

func TestMQTTTopics(t *testing.T) {
	s := &MQTTSink{cfg: config.MQTTConfig{TopicPrefix: "pytes/"}}
	if got := s.stateTopic("rack voltage/#1"); got != "pytes/rack_voltage__1/state" {
		t.Fatalf("state topic = %q", got)
	}
	if got := s.statusTopic(); got != "pytes/status" {
		t.Fatalf("status topic = %q", got)
	}
	if id := clientID("bridge"); !strings.HasPrefix(id, "bridge-") || len(id) != len("bridge-")+8 {
		t.Fatalf("client id = %q", id)
	}
}

func TestRedisKeysAndFields(t *testing.T) {
	s := &RedisSink{cfg: config.RedisConfig{KeyPrefix: "pytes"}}
	if got := s.hashKey(Target{Battery: 4}); got != "pytes:battery:4" {
		t.Fatalf("key = %q", got)
	}
	if got := s.hashKey(Target{}); got != "pytes:summary" {
		t.Fatalf("key = %q", got)
	}
	set, del := hashFields([]Value{
		{Entity: "v", Field: record.FieldVoltage, Number: record.Some(50.5)},
		{Entity: "sn", Field: record.FieldBarcode},
	})
	if set["v"] != "50.5" || len(set) != 1 {
		t.Fatalf("set = %v", set)
	}
	if len(del) != 1 || del[0] != "sn" {
		t.Fatalf("del = %v", del)
	}
}

func TestRedisSetAvailableQueues(t *testing.T) {
	// Unreachable server and no worker: SetAvailable must still return at once.
	s := NewRedisSink(config.RedisConfig{Addr: "127.0.0.1:1", KeyPrefix: "pytes"})
	defer s.Close()

	done := make(chan struct{})
	go func() {
		s.SetAvailable(false)
		s.SetAvailable(true)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("SetAvailable blocked on the redis client")
	}

	if len(s.queue) != 2 {
		t.Fatalf("queued %d batches, want 2", len(s.queue))
	}
	first, second := <-s.queue, <-s.queue
	if first.avail == nil || *first.avail || second.avail == nil || !*second.avail {
		t.Fatalf("queued availability = %v, %v", first.avail, second.avail)
	}
}
