package llm

import (
	"context"
	"errors"
	"net"

	"github.com/sony/gobreaker"
)

// Backend error taxonomy. Every adapter failure the orchestrator can see is
// one of these three sentinels; adapters wrap them with call context.
var (
	// ErrBackendUnavailable indicates a transport, connectivity, or health
	// failure. Handled by rerouting, never retried on the same backend.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendTimeout indicates the backend did not answer within its
	// deadline. Treated identically to ErrBackendUnavailable.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrMalformedOutput indicates a payload was received but could not be
	// recovered into a usable response even with best-effort extraction.
	ErrMalformedOutput = errors.New("malformed backend output")
)

// classifyTransportError maps a raw HTTP/transport error onto the taxonomy.
// Context deadline and net timeouts become ErrBackendTimeout; everything
// else (connection refused, circuit open, bad status) becomes
// ErrBackendUnavailable.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrBackendTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrBackendTimeout
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, ErrCircuitOpen) {
		return ErrBackendUnavailable
	}
	return ErrBackendUnavailable
}
