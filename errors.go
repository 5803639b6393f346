package signalr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOpened is returned by Invoke, Stream, Send and On if the connection is not in state Opened.
	ErrNotOpened = errors.New("connection not opened")
	// ErrConnectionClosed is the error pending calls receive when the connection has been closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrIdleTimeout is the cause of a connection closed by its idle watchdog.
	ErrIdleTimeout = errors.New("idle timeout elapsed")
	// ErrUnsupportedTransport is returned when the server does not offer the text WebSocket transport.
	ErrUnsupportedTransport = errors.New("client supports only text WebSocket transport")
)

// InvocationError is the error a server reported in the completion of an invocation.
type InvocationError struct {
	InvocationID string
	Method       string
	Message      string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invocation %v of %v failed: %v", e.InvocationID, e.Method, e.Message)
}

// NegotiationError is returned by Client.Connect when the negotiation with the server fails.
type NegotiationError struct {
	URL string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiate %v: %v", e.URL, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// closedError wraps the cause of the connection end into ErrConnectionClosed
func closedError(cause error) error {
	if cause == nil || errors.Is(cause, ErrConnectionClosed) {
		return ErrConnectionClosed
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
}
