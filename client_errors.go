package pushwire

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel events for client lifecycle - check with errors.Is().
var (
	// ErrConnected is emitted when the transport successfully connects.
	ErrConnected = errors.New("connected")

	// ErrDisconnected is emitted when the client disconnects gracefully.
	ErrDisconnected = errors.New("disconnected")

	// ErrConnectionLost is emitted when the connection is lost unexpectedly.
	ErrConnectionLost = errors.New("connection lost")

	// ErrReconnecting is emitted when the client is attempting to reconnect.
	ErrReconnecting = errors.New("reconnecting")

	// ErrRenewing is emitted when the client is re-provisioning an expired
	// or invalidated channel.
	ErrRenewing = errors.New("renewing channel")

	// ErrReconnectFailed is emitted when all reconnection attempts have failed.
	ErrReconnectFailed = errors.New("reconnect failed")

	// ErrRenewFailed is the base error for failures during automatic
	// channel renewal. Extract details with errors.As on *ClientError.
	ErrRenewFailed = errors.New("channel renewal failed")

	// ErrHeartbeatTimeout is emitted when no inbound traffic arrived within
	// the heartbeat window and the connection is presumed dead.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)

// Sentinel errors for caller operations - check with errors.Is().
var (
	// ErrAuthFailed is returned when the provisioning API or the transport
	// handshake rejects the credential.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrMissingChannel is returned when an operation requires a channel
	// but none has been provisioned yet.
	ErrMissingChannel = errors.New("no notification channel provisioned")

	// ErrExpiredChannel is returned when an explicit connect is attempted
	// against a channel whose expiry has passed.
	ErrExpiredChannel = errors.New("notification channel expired")

	// ErrTopicLimitExceeded is returned when a subscribe call exceeds the
	// per-channel topic limit.
	ErrTopicLimitExceeded = errors.New("topic limit exceeded")

	// ErrNoTopics is returned when a subscribe call names no topics.
	ErrNoTopics = errors.New("no topics given")

	// ErrProtocolError is the base error for malformed inbound frames.
	ErrProtocolError = errors.New("protocol error")

	// ErrProvisionFailed is the base error for channel provisioning failures.
	ErrProvisionFailed = errors.New("channel provisioning failed")

	// ErrSubscribeFailed is the base error for subscription call failures.
	ErrSubscribeFailed = errors.New("subscribe failed")

	// ErrClientClosed is returned when an operation is attempted on a
	// closed client.
	ErrClientClosed = errors.New("client closed")
)

// ProvisionError contains details about a failed channel provisioning call.
// Extract with errors.As().
type ProvisionError struct {
	err        error
	StatusCode int
	Message    string
}

func (e *ProvisionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("channel provisioning failed: status %d: %s", e.StatusCode, e.Message)
	}
	return "channel provisioning failed: " + e.Message
}

func (e *ProvisionError) Unwrap() error { return e.err }

// NewProvisionError creates a new ProvisionError. A zero status code marks
// a decode or transport failure rather than an HTTP error response.
func NewProvisionError(statusCode int, message string) *ProvisionError {
	return &ProvisionError{
		err:        ErrProvisionFailed,
		StatusCode: statusCode,
		Message:    message,
	}
}

// SubscribeError contains details about a failed subscription call.
// Extract with errors.As().
type SubscribeError struct {
	err        error
	StatusCode int
	Message    string
}

func (e *SubscribeError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("subscribe failed: status %d: %s", e.StatusCode, e.Message)
	}
	return "subscribe failed: " + e.Message
}

func (e *SubscribeError) Unwrap() error { return e.err }

// NewSubscribeError creates a new SubscribeError. A zero status code marks
// a decode or transport failure rather than an HTTP error response.
func NewSubscribeError(statusCode int, message string) *SubscribeError {
	return &SubscribeError{
		err:        ErrSubscribeFailed,
		StatusCode: statusCode,
		Message:    message,
	}
}

// ClientError wraps a failure that occurred during automatic channel
// renewal. It is reported on the status stream, never returned to the
// caller that triggered the original operation.
// Extract with errors.As().
type ClientError struct {
	err   error
	Op    string
	Cause error
}

func (e *ClientError) Error() string {
	return "channel renewal failed: " + e.Op + ": " + e.Cause.Error()
}

func (e *ClientError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.err, e.Cause}
	}
	return []error{e.err}
}

// NewClientError creates a new ClientError for the given renewal step.
func NewClientError(op string, cause error) *ClientError {
	return &ClientError{
		err:   ErrRenewFailed,
		Op:    op,
		Cause: cause,
	}
}

// FrameError contains details about a malformed inbound frame.
// Extract with errors.As().
type FrameError struct {
	err   error
	Data  []byte
	Cause error
}

func (e *FrameError) Error() string {
	if e.Cause != nil {
		return "protocol error: malformed frame: " + e.Cause.Error()
	}
	return "protocol error: malformed frame"
}

func (e *FrameError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.err, e.Cause}
	}
	return []error{e.err}
}

// NewFrameError creates a new FrameError carrying the offending frame.
func NewFrameError(data []byte, cause error) *FrameError {
	return &FrameError{
		err:   ErrProtocolError,
		Data:  data,
		Cause: cause,
	}
}

// ConnectionLostError contains details about an unexpected disconnection.
// Extract with errors.As().
type ConnectionLostError struct {
	err   error
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.err, e.Cause}
	}
	return []error{e.err}
}

// NewConnectionLostError creates a new ConnectionLostError.
func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{
		err:   ErrConnectionLost,
		Cause: cause,
	}
}

// ReconnectEvent contains details about a reconnection attempt.
// Extract with errors.As().
type ReconnectEvent struct {
	err         error
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	cancelFn    func()
}

func (e *ReconnectEvent) Error() string { return e.err.Error() }
func (e *ReconnectEvent) Unwrap() error { return e.err }

// Cancel stops further reconnection attempts.
func (e *ReconnectEvent) Cancel() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
}

// NewReconnectEvent creates a new ReconnectEvent.
func NewReconnectEvent(attempt, maxAttempts int, delay time.Duration, cancelFn func()) *ReconnectEvent {
	return &ReconnectEvent{
		err:         ErrReconnecting,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Delay:       delay,
		cancelFn:    cancelFn,
	}
}
