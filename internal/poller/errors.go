package poller

import (
	"errors"

	"github.com/shaunagostinho/pytes-bridge/internal/protocol"
	"github.com/shaunagostinho/pytes-bridge/internal/transport"
)

var (
	// ErrRequestTimeout means no correlated frame arrived within the
	// per-request budget. The target is marked failed and the cycle moves on.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrTransportUnavailable aborts the current cycle without publishing.
	ErrTransportUnavailable = transport.ErrUnavailable

	// ErrFrameCorrupt and ErrDecodeOutOfRange are re-exported so callers can
	// classify errors from this package alone.
	ErrFrameCorrupt     = protocol.ErrFrameCorrupt
	ErrDecodeOutOfRange = protocol.ErrOutOfRange
)

// fatal reports whether err ends the cycle rather than one target.
func fatal(err error) bool {
	return errors.Is(err, ErrTransportUnavailable)
}

// classify names err for log lines.
func classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTransportUnavailable):
		return "transport-unavailable"
	case errors.Is(err, ErrRequestTimeout):
		return "timeout"
	case errors.Is(err, protocol.ErrRejected):
		return "rejected"
	case errors.Is(err, ErrFrameCorrupt):
		return "corrupt"
	}
	return "error"
}
