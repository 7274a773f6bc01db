package transport

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/pytes-bridge/internal/protocol"
)

// rtnCommandInvalid is the controller's reply to a CID2 it does not know.
const rtnCommandInvalid = 0x04

// Demo simulates a rack controller for development without hardware. It
// answers summary and battery queries with slowly varying values.
type Demo struct {
	mu        sync.Mutex
	codec     protocol.Codec
	asm       *protocol.Assembler
	packs     int
	connected bool
	pending   []byte
	silent    map[int]bool
	t         float64 // virtual time accumulator
}

func NewDemo(codec protocol.Codec, packs int) *Demo {
	return &Demo{
		codec:  codec,
		asm:    protocol.NewAssembler(codec),
		packs:  packs,
		silent: make(map[int]bool),
	}
}

func (d *Demo) Name() string { return fmt.Sprintf("Demo rack (%d packs)", d.packs) }

func (d *Demo) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *Demo) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.pending = nil
	return nil
}

func (d *Demo) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// SetSilent makes pack id stop answering, as if its link cable were pulled.
func (d *Demo) SetSilent(id int, silent bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent[id] = silent
}

func (d *Demo) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("%w: demo closed", ErrUnavailable)
	}
	d.pending = nil
	return nil
}

func (d *Demo) Write(p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return fmt.Errorf("%w: demo closed", ErrUnavailable)
	}
	for _, f := range d.asm.Feed(p) {
		if !f.Valid {
			continue
		}
		d.pending = append(d.pending, d.respond(f)...)
	}
	return nil
}

func (d *Demo) Read(p []byte, timeout time.Duration) (int, error) {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return 0, fmt.Errorf("%w: demo closed", ErrUnavailable)
	}
	if len(d.pending) == 0 {
		d.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	d.mu.Unlock()
	return n, nil
}

func (d *Demo) respond(req protocol.Frame) []byte {
	switch req.CID2 {
	case protocol.CmdSummary:
		return d.codec.SummaryResponse(d.summary(), protocol.RTNOK)
	case protocol.CmdBattery:
		id := int(req.Address)
		if id < 1 || id > d.packs || d.silent[id] {
			return nil
		}
		return d.codec.BatteryResponse(d.battery(id), protocol.RTNOK)
	}
	return d.codec.Encode(req.Address, protocol.CIDBattery, rtnCommandInvalid, nil)
}

// packCurrent is the simulated per-pack current in amps, positive while
// charging.
func (d *Demo) packCurrent(id int) float64 {
	return 12*math.Sin(d.t*0.05) + float64(id)*0.1
}

func (d *Demo) packSOC(id int) float64 {
	return 60 + 30*math.Sin(d.t*0.01+float64(id)*0.05)
}

func (d *Demo) summary() protocol.SummaryData {
	d.t += 1

	var current float64
	var soc float64
	for id := 1; id <= d.packs; id++ {
		current += d.packCurrent(id)
		soc += d.packSOC(id)
	}
	if d.packs > 0 {
		soc /= float64(d.packs)
	}

	return protocol.SummaryData{
		VoltageMV:   uint16(51000 + soc*20 + rand.Float64()*20),
		CurrentMA:   int32(current * 1000),
		TempDeciC:   int16(220 + rand.Float64()*20),
		Coulomb:     uint8(math.Round(soc)),
		BasicStatus: statusFor(current),
		Packs:       uint8(d.packs),
	}
}

func (d *Demo) battery(id int) protocol.BatteryData {
	current := d.packCurrent(id)
	soc := d.packSOC(id)

	cells := make([]uint16, 15)
	var sum int
	for i := range cells {
		cells[i] = uint16(3200 + soc*1.5 + rand.Float64()*8)
		sum += int(cells[i])
	}

	return protocol.BatteryData{
		ID:           uint8(id),
		CellsMV:      cells,
		TempsDeciC:   []int16{int16(210 + id*5 + rand.Intn(10)), int16(205 + rand.Intn(10))},
		CurrentCA:    int16(current * 100),
		VoltageMV:    uint16(sum),
		SocVoltageMV: uint16(sum - 40),
		Coulomb:      uint8(math.Round(soc)),
		BasicStatus:  statusFor(current),
		VoltStatus:   0,
		Barcode:      fmt.Sprintf("PPTAH0221%07d", 1000+id),
		DevType:      "US5000",
		Firmware:     "V1.8",
	}
}

func statusFor(current float64) uint16 {
	switch {
	case current > 0.2:
		return 0x0001
	case current < -0.2:
		return 0x0002
	}
	return 0
}
