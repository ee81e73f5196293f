package pushwire

import (
	"context"
	"net/http"
)

// TransportEventType identifies the kind of a transport event.
type TransportEventType int

const (
	// TransportConnected is delivered once after the handshake completes.
	TransportConnected TransportEventType = iota

	// TransportDisconnected is delivered when the peer closes the
	// connection or the read side fails with a close frame.
	TransportDisconnected

	// TransportTextFrame carries an inbound text frame.
	TransportTextFrame

	// TransportBinaryFrame carries an inbound binary frame.
	TransportBinaryFrame

	// TransportError is delivered when the connection fails without a
	// close frame (network error, reset, timeout).
	TransportError

	// TransportCancelled is delivered when the local side closed the
	// connection deliberately.
	TransportCancelled

	// TransportPeerClosed is delivered when the peer performed a normal
	// closing handshake.
	TransportPeerClosed
)

// String returns the string representation of the event type.
func (t TransportEventType) String() string {
	switch t {
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportTextFrame:
		return "text_frame"
	case TransportBinaryFrame:
		return "binary_frame"
	case TransportError:
		return "error"
	case TransportCancelled:
		return "cancelled"
	case TransportPeerClosed:
		return "peer_closed"
	default:
		return "unknown"
	}
}

// TransportEvent is a single event delivered by a Transport. Which fields
// are populated depends on Type: frames carry Data, disconnects carry Code
// and Reason, errors carry Err, connects carry Headers.
type TransportEvent struct {
	Type    TransportEventType
	Data    []byte
	Headers http.Header
	Code    int
	Reason  string
	Err     error
}

// Transport is an open socket connection delivering inbound events on a
// single channel. The events channel is closed after the terminal event
// for the connection (disconnected, error, cancelled, or peer closed).
type Transport interface {
	// Events returns the inbound event stream for this connection.
	Events() <-chan TransportEvent

	// Send writes a frame to the connection.
	Send(data []byte) error

	// Close tears down the connection. It is safe to call more than once.
	Close() error
}

// TransportDialer opens Transport connections. The default implementation
// is WSDialer; tests and embedders may substitute their own.
type TransportDialer interface {
	// Dial connects to the URL with the given headers. The returned
	// Transport has already completed its handshake and will deliver a
	// connected event first on its event stream.
	Dial(ctx context.Context, url string, header http.Header) (Transport, error)
}
