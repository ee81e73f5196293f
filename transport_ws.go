package pushwire

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// WSDialer opens channel connections over WebSocket.
type WSDialer struct {
	// Dialer is the underlying WebSocket dialer.
	Dialer *websocket.Dialer
}

// NewWSDialer creates a new WebSocket dialer with defaults suited to the
// channel protocol.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// SetProxy routes the underlying TCP connection through a SOCKS5 proxy.
// The URL must use the socks5 scheme; credentials may be embedded in it.
func (d *WSDialer) SetProxy(proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy URL: %w", err)
	}

	dialer, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return fmt.Errorf("proxy configuration error: %w", err)
	}

	d.Dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}

	return nil
}

// Dial connects to the WebSocket URL. An HTTP 401 during the handshake is
// reported as ErrAuthFailed so the caller can renew its channel.
func (d *WSDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("websocket handshake: %w", ErrAuthFailed)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	t := &wsTransport{
		conn:   conn,
		events: make(chan TransportEvent, 32),
	}

	var headers http.Header
	if resp != nil {
		headers = resp.Header
	}
	t.events <- TransportEvent{Type: TransportConnected, Headers: headers}

	go t.readLoop()

	return t, nil
}

// wsTransport adapts a gorilla WebSocket connection to the Transport
// interface: one goroutine reads frames and feeds the event channel.
type wsTransport struct {
	conn    *websocket.Conn
	events  chan TransportEvent
	writeMu sync.Mutex
	closed  atomic.Bool
}

// Events returns the inbound event stream.
func (t *wsTransport) Events() <-chan TransportEvent {
	return t.events
}

// Send writes a text frame to the connection.
func (t *wsTransport) Send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed.Load() {
		return ErrClientClosed
	}

	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears down the connection. A close frame is sent best-effort.
func (t *wsTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	t.writeMu.Lock()
	t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	t.writeMu.Unlock()

	return t.conn.Close()
}

// readLoop reads frames until the connection dies, then delivers exactly
// one terminal event and closes the event channel.
func (t *wsTransport) readLoop() {
	defer close(t.events)

	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			t.events <- t.terminalEvent(err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			t.events <- TransportEvent{Type: TransportTextFrame, Data: data}
		case websocket.BinaryMessage:
			t.events <- TransportEvent{Type: TransportBinaryFrame, Data: data}
		}
	}
}

// terminalEvent classifies a read error into the transport event that ends
// the connection's event stream.
func (t *wsTransport) terminalEvent(err error) TransportEvent {
	if t.closed.Load() {
		return TransportEvent{Type: TransportCancelled}
	}

	if closeErr, ok := err.(*websocket.CloseError); ok {
		if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
			return TransportEvent{
				Type:   TransportPeerClosed,
				Code:   closeErr.Code,
				Reason: closeErr.Text,
			}
		}
		return TransportEvent{
			Type:   TransportDisconnected,
			Code:   closeErr.Code,
			Reason: closeErr.Text,
		}
	}

	return TransportEvent{Type: TransportError, Err: err}
}
