package dc

import (
	"errors"
	"fmt"
)

// ErrShutdown is returned by SendData/SendDataStream once Shutdown has
// begun (spec.md §7, "Shutdown: send_data invoked after shutdown began —
// fails immediately"). No peer or cause context is needed, so it's a bare
// sentinel, checkable with errors.Is.
var ErrShutdown = errors.New("dc: control is shutting down")

// ErrProtocolError is wrapped into the errors returned when a peer sends
// a malformed packet header (spec.md §7).
var ErrProtocolError = errors.New("dc: malformed packet header")

// ConfigurationError reports a bad machine list, duplicate id, or
// malformed option, fatal at Init (spec.md §7).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "dc: configuration error: " + e.Reason
}

// InitFailed reports that Init could not bind the listening socket or
// connect to a peer within the bounded retry budget (spec.md §7).
type InitFailed struct {
	Peer  ProcID
	Cause error
}

func (e *InitFailed) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("dc: init failed for peer %d", e.Peer)
	}
	return fmt.Sprintf("dc: init failed for peer %d: %v", e.Peer, e.Cause)
}

func (e *InitFailed) Unwrap() error { return e.Cause }

// ConnectionLostError reports that a socket read or write failed
// mid-session for a specific peer (spec.md §7). The affected sender and
// receiver terminate; subsequent SendData calls to that peer fail
// synchronously with this error. There is no automatic reconnect.
type ConnectionLostError struct {
	Peer  ProcID
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("dc: connection lost to peer %d", e.Peer)
	}
	return fmt.Sprintf("dc: connection lost to peer %d: %v", e.Peer, e.Cause)
}

func (e *ConnectionLostError) Unwrap() error { return e.Cause }
