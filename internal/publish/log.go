package publish

import (
	"log"
	"strings"

	"github.com/shaunagostinho/pytes-bridge/internal/record"
)

// LogSink writes each batch to the standard logger.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Publish(t Target, values []Value) {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(v.Entity)
		sb.WriteString("=")
		sb.WriteString(v.Payload())
		if v.Present() && v.Unit != "" {
			sb.WriteString(v.Unit)
		}
	}
	log.Printf("[publish] %s: %s", t, sb.String())
}

func (LogSink) SetAvailable(up bool) {
	if up {
		log.Printf("[publish] rack link available")
	} else {
		log.Printf("[publish] rack link unavailable")
	}
}

// PublishCycle logs a one-line digest of res.
func (LogSink) PublishCycle(res record.CycleResult) {
	s := res.Summary
	log.Printf("[publish] cycle: %sV %sA %s°C %s%% %s, %d/%d packs ok, failed=%v",
		s.Voltage, s.Current, s.Temperature, s.Coulomb, s.BasicStatus.Or("-"),
		res.SucceededCount, len(res.Batteries), res.FailedIDs)
}
