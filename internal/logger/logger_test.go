package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaunagostinho/pytes-bridge/internal/record"
)

func cycle(t *testing.T, n int, at time.Time) record.CycleResult {
	t.Helper()
	agg := record.Begin(n)
	var s record.Partial
	s.SetNumber(record.FieldVoltage, 52.25)
	s.SetText(record.FieldBasicStatus, "Idle")
	if err := agg.ApplySummary(s); err != nil {
		t.Fatal(err)
	}
	var b record.Partial
	b.SetNumber(record.FieldCurrent, -3.5)
	b.SetText(record.FieldBarcode, "SN1")
	b.Cells = []float64{3.301, 3.288, 3.312}
	if err := agg.ApplyBattery(1, b); err != nil {
		t.Fatal(err)
	}
	res := agg.Finish()
	res.Finished = at
	return res
}

func readRows(t *testing.T, dir string) [][][]string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "rack_*.csv"))
	if err != nil {
		t.Fatal(err)
	}
	var out [][][]string
	for _, f := range files {
		fh, err := os.Open(f)
		if err != nil {
			t.Fatal(err)
		}
		rows, err := csv.NewReader(fh).ReadAll()
		fh.Close()
		if err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		out = append(out, rows)
	}
	return out
}

func TestPublishCycleWritesRows(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Path: dir})
	l.PublishCycle(cycle(t, 2, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files := readRows(t, dir)
	if len(files) != 1 {
		t.Fatalf("files = %d", len(files))
	}
	rows := files[0]
	if len(rows) != 4 { // header, summary, two batteries
		t.Fatalf("rows = %d: %v", len(rows), rows)
	}
	sum := rows[1]
	if sum[1] != "summary" || sum[2] != "1" || sum[3] != "52.250" || sum[8] != "Idle" {
		t.Fatalf("summary row = %v", sum)
	}
	b1 := rows[2]
	if b1[1] != "1" || b1[2] != "1" || b1[5] != "-3.50" || b1[10] != "SN1" {
		t.Fatalf("battery row = %v", b1)
	}
	if b1[13] != "3.288" || b1[14] != "3.312" {
		t.Fatalf("cell range = %s..%s", b1[13], b1[14])
	}
	b2 := rows[3]
	if b2[2] != "0" || b2[3] != "" {
		t.Fatalf("failed battery row = %v", b2)
	}
}

func TestRotation(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Path: dir, MaxRows: 3})
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.PublishCycle(cycle(t, 2, base))
	l.PublishCycle(cycle(t, 2, base.Add(time.Second)))
	l.Close()

	if files := readRows(t, dir); len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}
}
