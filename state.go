package pushwire

// ConnectionState represents the lifecycle state of the client's channel
// and socket connection. There is a single authoritative copy owned by
// the Client; all transitions are serialized under its lock.
type ConnectionState int

const (
	// StateIdle is the initial state before any channel has been provisioned.
	StateIdle ConnectionState = iota

	// StateProvisioning means a channel is being created via the provisioning API.
	StateProvisioning

	// StateConnecting means the transport is being opened against the
	// channel's connect URI.
	StateConnecting

	// StateConnected means the transport is open and the heartbeat monitor
	// is armed.
	StateConnected

	// StateReconnecting means the transport was lost unexpectedly and the
	// client is redialing the current, unexpired channel.
	StateReconnecting

	// StateRenewing means the channel expired (or the credential was
	// rejected) and the client is re-provisioning, replaying subscriptions,
	// and reopening the transport.
	StateRenewing

	// StateDisconnected means the client is not connected and will not
	// recover on its own. The caller must subscribe or connect again.
	StateDisconnected
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProvisioning:
		return "provisioning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateRenewing:
		return "renewing"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
