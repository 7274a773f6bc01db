package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/pytes-bridge/internal/record"
)

// Logger appends every finished cycle to CSV files with automatic rotation:
// one summary row and one row per battery.
type Logger struct {
	mu      sync.Mutex
	dir     string
	maxRows int

	file   *os.File
	writer *csv.Writer
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Path    string
	MaxRows int
}

const defaultMaxRows = 100_000

var csvHeader = []string{
	"timestamp", "target", "ok",
	"voltage_v", "soc_voltage_v", "current_a", "temperature_c", "coulomb_pct",
	"basic_status", "volt_status", "barcode", "devtype", "firm_version",
	"cell_min_v", "cell_max_v",
}

// New creates a new Logger. Files are opened lazily on the first cycle.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/pytes-bridge"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return &Logger{dir: cfg.Path, maxRows: cfg.MaxRows}
}

func (l *Logger) Name() string { return "csv" }

// PublishCycle writes res. Absent values are left empty.
func (l *Logger) PublishCycle(res record.CycleResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := res.Finished
	if ts.IsZero() {
		ts = time.Now()
	}

	if l.writer == nil || l.rows >= l.maxRows {
		if err := l.rotateFile(ts); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	rows := make([][]string, 0, len(res.Batteries)+1)
	rows = append(rows, summaryRow(ts, res))
	for _, b := range res.Batteries {
		rows = append(rows, batteryRow(ts, b, !res.Failed(b.ID)))
	}
	if err := l.writer.WriteAll(rows); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.rows += len(rows)
}

// Close flushes and closes the current log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("rack_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() error {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func summaryRow(ts time.Time, res record.CycleResult) []string {
	s := res.Summary
	row := make([]string, len(csvHeader))
	row[0] = ts.Format(time.RFC3339Nano)
	row[1] = "summary"
	row[2] = boolStr(res.SummaryOK)
	row[3] = num(s.Voltage, 3)
	row[5] = num(s.Current, 2)
	row[6] = num(s.Temperature, 1)
	row[7] = num(s.Coulomb, 0)
	row[8] = s.BasicStatus.Or("")
	return row
}

func batteryRow(ts time.Time, b record.BatteryRecord, ok bool) []string {
	row := make([]string, len(csvHeader))
	row[0] = ts.Format(time.RFC3339Nano)
	row[1] = strconv.Itoa(b.ID)
	row[2] = boolStr(ok)
	row[3] = num(b.Voltage, 3)
	row[4] = num(b.SocVoltage, 3)
	row[5] = num(b.Current, 2)
	row[6] = num(b.Temperature, 1)
	row[7] = num(b.Coulomb, 0)
	row[8] = b.BasicStatus.Or("")
	row[9] = b.VoltStatus.Or("")
	row[10] = b.Barcode.Or("")
	row[11] = b.DevType.Or("")
	row[12] = b.FirmwareVersion.Or("")
	if len(b.CellVoltages) > 0 {
		lo, hi := b.CellVoltages[0], b.CellVoltages[0]
		for _, v := range b.CellVoltages[1:] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		row[13] = strconv.FormatFloat(lo, 'f', 3, 64)
		row[14] = strconv.FormatFloat(hi, 'f', 3, 64)
	}
	return row
}

func num(o record.Opt[float64], prec int) string {
	v, ok := o.Get()
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
