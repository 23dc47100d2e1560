package live

import (
	"fmt"
	"time"
)

// The session error taxonomy. Every failure an adapter or the pipeline
// surfaces through [Handlers.OnError] is one of these types, so callers can
// branch with errors.As without knowing backend specifics. None of them
// triggers an automatic retry; reconnection is always a caller decision.

// DeviceError reports that an audio input or output device could not be
// opened or failed mid-stream. Always fatal to the session.
type DeviceError struct {
	// Device names the failing endpoint, e.g. "microphone" or "speaker".
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("live: %s device: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// AuthError reports that the backend rejected the session's credentials,
// either at handshake or via an auth-specific close code mid-session.
type AuthError struct {
	// Provider is the backend name, e.g. "gemini-live" or "glm-realtime".
	Provider string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("live: %s: authentication rejected: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// QuotaError reports that the backend refused service because the account's
// quota or concurrency limit is exhausted.
type QuotaError struct {
	Provider string
	Err      error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("live: %s: quota exhausted: %v", e.Provider, e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// HandshakeTimeoutError reports that the backend's readiness signal did not
// arrive within the configured window after the transport connected.
type HandshakeTimeoutError struct {
	Provider string
	Timeout  time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("live: %s: no readiness signal within %v", e.Provider, e.Timeout)
}

// ProtocolError reports a message that violates the backend's protocol:
// unparseable JSON, an event arriving in a state where it is not allowed, or
// a server-reported error event.
type ProtocolError struct {
	Provider string
	// Event is the wire event type involved, when known.
	Event string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Event != "" {
		return fmt.Sprintf("live: %s: protocol violation in %q: %v", e.Provider, e.Event, e.Err)
	}
	return fmt.Sprintf("live: %s: protocol violation: %v", e.Provider, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TransportError reports a failure of the underlying connection: dial
// failure, read/write error, or an unexpected close. Always fatal to the
// session.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("live: %s: transport: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
