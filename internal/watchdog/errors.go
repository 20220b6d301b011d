package watchdog

import "errors"

var (
	// ErrUnknownPeer is returned when the target of Send or Listen is not in the
	// current discovery snapshot.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrTransportUnavailable is returned by Send when no transport is attached,
	// or wraps the failure reported by the transport.
	ErrTransportUnavailable = errors.New("transport unavailable")
)
