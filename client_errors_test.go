package pushwire

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionError(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		err := NewProvisionError(503, "service unavailable")

		assert.True(t, errors.Is(err, ErrProvisionFailed))
		assert.Equal(t, "channel provisioning failed: status 503: service unavailable", err.Error())

		var pe *ProvisionError
		require.True(t, errors.As(error(err), &pe))
		assert.Equal(t, 503, pe.StatusCode)
		assert.Equal(t, "service unavailable", pe.Message)
	})

	t.Run("zero status marks a non-http failure", func(t *testing.T) {
		err := NewProvisionError(0, "decode channel: unexpected EOF")

		assert.True(t, errors.Is(err, ErrProvisionFailed))
		assert.Equal(t, "channel provisioning failed: decode channel: unexpected EOF", err.Error())
	})
}

func TestSubscribeError(t *testing.T) {
	err := NewSubscribeError(400, "bad topic")

	assert.True(t, errors.Is(err, ErrSubscribeFailed))
	assert.Equal(t, "subscribe failed: status 400: bad topic", err.Error())

	var se *SubscribeError
	require.True(t, errors.As(error(err), &se))
	assert.Equal(t, 400, se.StatusCode)
}

func TestClientError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewClientError("reopen transport", cause)

	assert.True(t, errors.Is(err, ErrRenewFailed))
	assert.Equal(t, "channel renewal failed: reopen transport: dial tcp: connection refused", err.Error())

	var ce *ClientError
	require.True(t, errors.As(error(err), &ce))
	assert.Equal(t, "reopen transport", ce.Op)
	assert.Equal(t, cause, ce.Cause)
}

func TestFrameError(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		data := []byte(`{"broken`)
		err := NewFrameError(data, errors.New("unexpected end of JSON input"))

		assert.True(t, errors.Is(err, ErrProtocolError))
		assert.Contains(t, err.Error(), "malformed frame")

		var fe *FrameError
		require.True(t, errors.As(error(err), &fe))
		assert.Equal(t, data, fe.Data)
	})

	t.Run("without cause", func(t *testing.T) {
		err := NewFrameError(nil, nil)
		assert.Equal(t, "protocol error: malformed frame", err.Error())
	})
}

func TestConnectionLostError(t *testing.T) {
	t.Run("with cause", func(t *testing.T) {
		err := NewConnectionLostError(ErrHeartbeatTimeout)

		assert.True(t, errors.Is(err, ErrConnectionLost))
		assert.True(t, errors.Is(err, ErrHeartbeatTimeout))
		assert.Equal(t, "connection lost: heartbeat timeout", err.Error())
	})

	t.Run("without cause", func(t *testing.T) {
		err := NewConnectionLostError(nil)
		assert.Equal(t, "connection lost", err.Error())
	})
}

func TestReconnectEvent(t *testing.T) {
	t.Run("carries attempt details", func(t *testing.T) {
		err := NewReconnectEvent(3, 10, 4*time.Second, nil)

		assert.True(t, errors.Is(err, ErrReconnecting))

		var re *ReconnectEvent
		require.True(t, errors.As(error(err), &re))
		assert.Equal(t, 3, re.Attempt)
		assert.Equal(t, 10, re.MaxAttempts)
		assert.Equal(t, 4*time.Second, re.Delay)
	})

	t.Run("cancel invokes the hook", func(t *testing.T) {
		canceled := false
		err := NewReconnectEvent(1, 10, time.Second, func() { canceled = true })

		err.Cancel()
		assert.True(t, canceled)

		// Nil hook must not panic.
		NewReconnectEvent(1, 10, time.Second, nil).Cancel()
	})
}
