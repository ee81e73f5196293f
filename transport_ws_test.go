package pushwire

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsEcho is a minimal WebSocket endpoint for transport tests. Each
// message it receives is sent back; messages pushed to send go out
// unprompted.
func wsEcho(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collectEvent(t *testing.T, transport Transport) TransportEvent {
	t.Helper()

	select {
	case ev, ok := <-transport.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return TransportEvent{}
	}
}

func TestWSDialer(t *testing.T) {
	t.Run("connected event arrives first", func(t *testing.T) {
		srv := wsEcho(t, func(conn *websocket.Conn) {
			conn.ReadMessage()
		})

		transport, err := NewWSDialer().Dial(context.Background(), wsURL(srv), nil)
		require.NoError(t, err)
		defer transport.Close()

		ev := collectEvent(t, transport)
		assert.Equal(t, TransportConnected, ev.Type)
		assert.NotNil(t, ev.Headers)
	})

	t.Run("text frames are delivered", func(t *testing.T) {
		srv := wsEcho(t, func(conn *websocket.Conn) {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"topicName":"a"}`))
			conn.ReadMessage()
		})

		transport, err := NewWSDialer().Dial(context.Background(), wsURL(srv), nil)
		require.NoError(t, err)
		defer transport.Close()

		require.Equal(t, TransportConnected, collectEvent(t, transport).Type)

		ev := collectEvent(t, transport)
		assert.Equal(t, TransportTextFrame, ev.Type)
		assert.JSONEq(t, `{"topicName":"a"}`, string(ev.Data))
	})

	t.Run("send writes a text frame", func(t *testing.T) {
		received := make(chan []byte, 1)
		srv := wsEcho(t, func(conn *websocket.Conn) {
			_, data, err := conn.ReadMessage()
			if err == nil {
				received <- data
			}
		})

		transport, err := NewWSDialer().Dial(context.Background(), wsURL(srv), nil)
		require.NoError(t, err)
		defer transport.Close()

		require.NoError(t, transport.Send([]byte(`{"message":"ping"}`)))

		select {
		case data := <-received:
			assert.JSONEq(t, `{"message":"ping"}`, string(data))
		case <-time.After(2 * time.Second):
			t.Fatal("server never received the frame")
		}
	})

	t.Run("peer close ends the stream with a terminal event", func(t *testing.T) {
		srv := wsEcho(t, func(conn *websocket.Conn) {
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second),
			)
		})

		transport, err := NewWSDialer().Dial(context.Background(), wsURL(srv), nil)
		require.NoError(t, err)
		defer transport.Close()

		require.Equal(t, TransportConnected, collectEvent(t, transport).Type)

		ev := collectEvent(t, transport)
		assert.Equal(t, TransportPeerClosed, ev.Type)
		assert.Equal(t, websocket.CloseGoingAway, ev.Code)
		assert.Equal(t, "shutting down", ev.Reason)

		_, open := <-transport.Events()
		assert.False(t, open)
	})

	t.Run("local close yields a cancelled event", func(t *testing.T) {
		srv := wsEcho(t, func(conn *websocket.Conn) {
			conn.ReadMessage()
		})

		transport, err := NewWSDialer().Dial(context.Background(), wsURL(srv), nil)
		require.NoError(t, err)

		require.Equal(t, TransportConnected, collectEvent(t, transport).Type)

		require.NoError(t, transport.Close())
		require.NoError(t, transport.Close()) // idempotent

		ev := collectEvent(t, transport)
		assert.Equal(t, TransportCancelled, ev.Type)

		assert.Error(t, transport.Send([]byte("late")))
	})

	t.Run("handshake 401 maps to ErrAuthFailed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		transport, err := NewWSDialer().Dial(context.Background(), wsURL(srv), nil)
		assert.Nil(t, transport)
		assert.True(t, errors.Is(err, ErrAuthFailed))
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		transport, err := NewWSDialer().Dial(context.Background(), wsURL(srv), nil)
		assert.Nil(t, transport)
		assert.Error(t, err)
		assert.False(t, errors.Is(err, ErrAuthFailed))
	})

	t.Run("headers reach the server", func(t *testing.T) {
		got := make(chan string, 1)
		upgrader := websocket.Upgrader{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got <- r.Header.Get("Authorization")
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn.Close()
		}))
		defer srv.Close()

		header := http.Header{}
		header.Set("Authorization", "Bearer test-token")

		transport, err := NewWSDialer().Dial(context.Background(), wsURL(srv), header)
		require.NoError(t, err)
		defer transport.Close()

		assert.Equal(t, "Bearer test-token", <-got)
	})
}

func TestWSDialerSetProxy(t *testing.T) {
	t.Run("rejects unsupported schemes", func(t *testing.T) {
		d := NewWSDialer()
		assert.Error(t, d.SetProxy("http://proxy.example.com:8080"))
	})

	t.Run("rejects malformed urls", func(t *testing.T) {
		d := NewWSDialer()
		assert.Error(t, d.SetProxy("socks5://%zz"))
	})

	t.Run("accepts socks5", func(t *testing.T) {
		d := NewWSDialer()
		require.NoError(t, d.SetProxy("socks5://proxy.example.com:1080"))
		assert.NotNil(t, d.Dialer.NetDialContext)
	})
}
