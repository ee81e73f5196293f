package pushwire

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("nil channel is expired", func(t *testing.T) {
		var ch *Channel
		assert.True(t, ch.Expired(now))
	})

	t.Run("future expiry is live", func(t *testing.T) {
		ch := &Channel{ExpiresAt: now.Add(time.Hour)}
		assert.False(t, ch.Expired(now))
	})

	t.Run("past expiry is expired", func(t *testing.T) {
		ch := &Channel{ExpiresAt: now.Add(-time.Second)}
		assert.True(t, ch.Expired(now))
	})

	t.Run("exact expiry instant is expired", func(t *testing.T) {
		ch := &Channel{ExpiresAt: now}
		assert.True(t, ch.Expired(now))
	})
}

func TestProvisionChannel(t *testing.T) {
	newClient := func(t *testing.T, srv *httptest.Server) *Client {
		t.Helper()
		client, err := New(
			WithAPIBase(srv.URL),
			WithToken("test-token"),
			WithHTTPClient(srv.Client()),
		)
		require.NoError(t, err)
		t.Cleanup(func() { client.Close() })
		return client
	}

	t.Run("success", func(t *testing.T) {
		expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/channels", r.URL.Path)
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

			fmt.Fprintf(w, `{"connectUri":"wss://sock.example.com/channels/ch-1","id":"ch-1","expires":%q}`, expires)
		}))
		defer srv.Close()

		client := newClient(t, srv)

		ch, err := client.provisionChannel(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ch-1", ch.ID)
		assert.Equal(t, "wss://sock.example.com/channels/ch-1", ch.ConnectURI)
		assert.False(t, ch.Expired(time.Now()))
	})

	t.Run("401 maps to ErrAuthFailed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		client := newClient(t, srv)

		ch, err := client.provisionChannel(context.Background())
		assert.Nil(t, ch)
		assert.True(t, errors.Is(err, ErrAuthFailed))
	})

	t.Run("http error carries status and message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"message":"maintenance window"}`)
		}))
		defer srv.Close()

		client := newClient(t, srv)

		_, err := client.provisionChannel(context.Background())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrProvisionFailed))

		var pe *ProvisionError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
		assert.Equal(t, "maintenance window", pe.Message)
	})

	t.Run("malformed body fails decoding", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"connectUri":`)
		}))
		defer srv.Close()

		client := newClient(t, srv)

		_, err := client.provisionChannel(context.Background())
		assert.True(t, errors.Is(err, ErrProvisionFailed))
	})

	t.Run("missing fields fail decoding", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"id":"ch-1"}`)
		}))
		defer srv.Close()

		client := newClient(t, srv)

		_, err := client.provisionChannel(context.Background())
		assert.True(t, errors.Is(err, ErrProvisionFailed))
	})

	t.Run("unparsable expiry fails decoding", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"connectUri":"wss://x","id":"ch-1","expires":"next tuesday"}`)
		}))
		defer srv.Close()

		client := newClient(t, srv)

		_, err := client.provisionChannel(context.Background())
		require.Error(t, err)

		var pe *ProvisionError
		require.True(t, errors.As(err, &pe))
		assert.Contains(t, pe.Message, "expiry")
	})

	t.Run("unreachable server", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		client := newClient(t, srv)

		_, err := client.provisionChannel(context.Background())
		assert.True(t, errors.Is(err, ErrProvisionFailed))
	})

	t.Run("token source failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("request must not be sent without a token")
		}))
		defer srv.Close()

		client, err := New(
			WithAPIBase(srv.URL),
			WithTokenSource(func(context.Context) (string, error) {
				return "", errors.New("vault sealed")
			}),
		)
		require.NoError(t, err)
		defer client.Close()

		_, err = client.provisionChannel(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "vault sealed")
	})
}

func TestBodyMessage(t *testing.T) {
	t.Run("json message field", func(t *testing.T) {
		assert.Equal(t, "boom", bodyMessage([]byte(`{"message":"boom"}`)))
	})

	t.Run("plain text fallback", func(t *testing.T) {
		assert.Equal(t, "internal error", bodyMessage([]byte("  internal error\n")))
	})

	t.Run("long bodies are truncated", func(t *testing.T) {
		long := make([]byte, 500)
		for i := range long {
			long[i] = 'x'
		}
		assert.Len(t, bodyMessage(long), 200)
	})
}
