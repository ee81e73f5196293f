package pushwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateIdle, "idle"},
		{StateProvisioning, "provisioning"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateRenewing, "renewing"},
		{StateDisconnected, "disconnected"},
		{ConnectionState(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestTransportEventTypeString(t *testing.T) {
	tests := []struct {
		eventType TransportEventType
		want      string
	}{
		{TransportConnected, "connected"},
		{TransportDisconnected, "disconnected"},
		{TransportTextFrame, "text_frame"},
		{TransportBinaryFrame, "binary_frame"},
		{TransportError, "error"},
		{TransportCancelled, "cancelled"},
		{TransportPeerClosed, "peer_closed"},
		{TransportEventType(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.eventType.String())
		})
	}
}
