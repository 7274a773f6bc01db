package transport

import (
	"errors"
	"time"
)

// ErrUnavailable is returned when the link cannot send or receive at all.
var ErrUnavailable = errors.New("transport unavailable")

// Transport is the byte-level link to the rack controller. A single poller
// owns it; implementations need not support concurrent Write/Read.
type Transport interface {
	// Name returns a human-readable description of the link.
	Name() string
	// Connect opens the link. Calling it on an open link is a no-op.
	Connect() error
	// Close releases the link.
	Close() error
	// IsConnected reports whether the link is open.
	IsConnected() bool

	// Flush discards any input that arrived before the next command.
	Flush() error
	// Write sends p in full.
	Write(p []byte) error
	// Read waits up to timeout for input. It returns 0, nil on timeout.
	Read(p []byte, timeout time.Duration) (int, error)
}
