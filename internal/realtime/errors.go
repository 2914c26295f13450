package realtime

import "errors"

// Connection error taxonomy. Auth and breaker errors are terminal for the
// current attempt and must not count as network failures; connection
// failures are transient and feed the failure counter.
var (
	// ErrAuthRequired means no valid credential is available. Never
	// retried automatically; the UI layer has to re-authenticate.
	ErrAuthRequired = errors.New("authentication required")

	// ErrCircuitOpen means too many recent failures; connect again after
	// the cool-down window elapses.
	ErrCircuitOpen = errors.New("connection circuit open")

	// ErrConnectionFailed wraps transient dial/timeout errors.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNotConnected is returned for frame writes without a live socket.
	ErrNotConnected = errors.New("not connected")
)
