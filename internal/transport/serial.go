package transport

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConfig holds the port settings for the controller's console port.
type SerialConfig struct {
	PortPath string
	BaudRate int
	DataBits int
	Parity   string // "none", "even", "odd"
	StopBits int    // 1 or 2
}

// Serial is a Transport over a local serial port.
type Serial struct {
	cfg  SerialConfig
	mode *serial.Mode

	mu        sync.Mutex
	port      serial.Port
	connected bool
}

const (
	// settleDelay lets the controller's UART settle after the port opens.
	settleDelay = 200 * time.Millisecond

	drainSilence = 50 * time.Millisecond
	drainTimeout = 500 * time.Millisecond
)

// NewSerial validates cfg and returns an unopened Serial transport.
func NewSerial(cfg SerialConfig) (*Serial, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}

	mode := &serial.Mode{BaudRate: cfg.BaudRate, DataBits: cfg.DataBits}
	switch strings.ToLower(cfg.Parity) {
	case "", "none", "n":
		mode.Parity = serial.NoParity
	case "even", "e":
		mode.Parity = serial.EvenParity
	case "odd", "o":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("serial: unsupported parity %q", cfg.Parity)
	}
	switch cfg.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("serial: unsupported stop bits %d", cfg.StopBits)
	}

	return &Serial{cfg: cfg, mode: mode}, nil
}

func (s *Serial) Name() string {
	return fmt.Sprintf("serial %s @ %d", s.cfg.PortPath, s.cfg.BaudRate)
}

// Connect opens the port and drains whatever the controller printed while
// nobody was listening.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}

	port, err := serial.Open(s.cfg.PortPath, s.mode)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrUnavailable, s.cfg.PortPath, err)
	}
	s.port = port
	log.Printf("[serial] opened %s at %d baud", s.cfg.PortPath, s.cfg.BaudRate)

	time.Sleep(settleDelay)
	s.drain("open")
	s.connected = true
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Serial) closeLocked() error {
	s.connected = false
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}

func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Serial) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("%w: not connected", ErrUnavailable)
	}
	if err := s.port.ResetInputBuffer(); err != nil {
		s.closeLocked()
		return fmt.Errorf("%w: reset input: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Serial) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return fmt.Errorf("%w: not connected", ErrUnavailable)
	}
	for len(p) > 0 {
		n, err := s.port.Write(p)
		if err != nil {
			s.closeLocked()
			return fmt.Errorf("%w: write: %v", ErrUnavailable, err)
		}
		p = p[n:]
	}
	return nil
}

// Read returns as soon as any bytes arrive, or 0, nil after timeout.
func (s *Serial) Read(p []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, fmt.Errorf("%w: not connected", ErrUnavailable)
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		s.closeLocked()
		return 0, fmt.Errorf("%w: set timeout: %v", ErrUnavailable, err)
	}
	n, err := s.port.Read(p)
	if err != nil {
		s.closeLocked()
		return n, fmt.Errorf("%w: read: %v", ErrUnavailable, err)
	}
	return n, nil
}

// drain reads and discards input until the line is quiet for drainSilence
// or drainTimeout has elapsed.
func (s *Serial) drain(label string) {
	s.port.ResetInputBuffer()
	s.port.SetReadTimeout(drainSilence)

	total := 0
	deadline := time.Now().Add(drainTimeout)
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, _ := s.port.Read(buf)
		if n == 0 {
			break
		}
		if total == 0 {
			log.Printf("[serial] drain(%s) first bytes: % X", label, buf[:n])
		}
		total += n
	}
	if total > 0 {
		log.Printf("[serial] drain(%s) cleared %d bytes", label, total)
	}
}
