package pushwire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Reserved system topics. Frames on these topics are consumed by the
// client itself and never reach topic-event subscribers.
const (
	// heartbeatTopic carries the server's periodic heartbeat frames.
	heartbeatTopic = "channel.metadata"

	// socketClosingTopic announces a server-initiated graceful shutdown
	// of the socket; the client reconnects when it sees one.
	socketClosingTopic = "v2.system.socket_closing"
)

// Client is a push-notification channel client. It provisions a channel
// over the HTTP API, opens a socket against the channel's connect URI,
// watches liveness via an inbound-traffic heartbeat, and recovers from
// disconnects, channel expiry, and credential rejection while keeping
// the caller's subscription set intact.
//
// All connection state - the current Channel, the ConnectionState, and
// the heartbeat - is owned by the Client and mutated only under its
// lock; HTTP round-trips never happen with the lock held.
type Client struct {
	options    *clientOptions
	httpClient *http.Client
	logger     Logger

	// Serializes caller-facing operations that perform HTTP calls
	// (subscribe, renewal, reconnect dials), never held by event handlers.
	opMu sync.Mutex

	mu             sync.Mutex
	state          ConnectionState
	channel        *Channel
	topics         map[string]struct{}
	transport      Transport
	epoch          uint64 // bumped on every transport handoff; stale events are dropped
	userDisconnect bool

	heartbeat  *heartbeatMonitor
	dispatcher *dispatcher

	closed       atomic.Bool
	reconnecting atomic.Bool
	renewing     atomic.Bool

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	reconnectStop chan struct{}
	reconnectMu   sync.Mutex
}

// New creates a client. The API base and a token source are required;
// everything else has defaults.
func New(opts ...Option) (*Client, error) {
	options := applyOptions(opts...)

	if options.apiBase == "" {
		return nil, errors.New("no API base configured: use WithAPIBase()")
	}
	if options.tokenSource == nil {
		return nil, errors.New("no token source configured: use WithToken() or WithTokenSource()")
	}

	if options.dialer == nil {
		ws := NewWSDialer()
		if options.proxyURL != "" {
			if err := ws.SetProxy(options.proxyURL); err != nil {
				return nil, err
			}
		}
		options.dialer = ws
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	c := &Client{
		options:    options,
		httpClient: httpClient,
		logger:     options.logger,
		state:      StateIdle,
		topics:     make(map[string]struct{}),
		dispatcher: newDispatcher(),
	}
	c.heartbeat = newHeartbeatMonitor(options.clock, options.heartbeatWindow, c.onHeartbeatExpired)
	c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())

	return c, nil
}

// Connect opens the transport against the current channel. It fails with
// ErrMissingChannel if no channel has been provisioned (subscribe first)
// and with ErrExpiredChannel if the channel's expiry has passed; renewal
// is strictly an automatic-recovery action, never part of explicit
// connect.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	ch := c.channel
	if ch == nil {
		c.mu.Unlock()
		return ErrMissingChannel
	}
	if ch.Expired(c.options.clock.Now()) {
		c.mu.Unlock()
		return ErrExpiredChannel
	}
	if c.transport != nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.emitStatus(StatusNotice{State: StateConnecting})

	if err := c.openTransport(ctx, ch, false); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emitStatus(StatusNotice{State: StateDisconnected})

		if errors.Is(err, ErrAuthFailed) {
			c.startRenew()
		}
		return err
	}

	return nil
}

// Disconnect closes the transport and stops all automatic recovery. It
// is idempotent. The client can be reconnected with Connect or Subscribe.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.userDisconnect = true
	c.heartbeat.cancel()
	t := c.transport
	c.transport = nil
	if t != nil {
		c.epoch++
	}
	already := t == nil && c.state == StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	c.cancelReconnect()

	if t != nil {
		t.Close()
	}
	if !already {
		c.emitStatus(StatusNotice{State: StateDisconnected})
	}

	return nil
}

// Close disconnects and releases all resources. The client cannot be
// reused afterwards.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.Disconnect()
	c.lifeCancel()
	c.dispatcher.close()

	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// IsConnected returns true if the transport is open and live.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected && !c.closed.Load()
}

// CurrentChannel returns a snapshot of the provisioned channel, if any.
func (c *Client) CurrentChannel() (Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel == nil {
		return Channel{}, false
	}
	return *c.channel, true
}

// Events registers a topic-event subscriber with the given channel
// buffer. Emission never blocks: a full subscriber misses events, and
// events emitted before registration are not replayed. The returned
// func cancels the subscription.
func (c *Client) Events(buffer int) (<-chan EventPayload, func()) {
	return c.dispatcher.subscribeEvents(buffer)
}

// Status registers a subscriber for connection-state changes and
// asynchronous errors. Same delivery guarantees as Events.
func (c *Client) Status(buffer int) (<-chan StatusNotice, func()) {
	return c.dispatcher.subscribeStatus(buffer)
}

// ensureChannel returns the current channel, provisioning a fresh one if
// none exists or the current one has expired. A replacement channel
// starts empty server-side, so the committed subscription set is
// replayed onto it before the caller's own call, and any transport still
// bound to the dead channel is dropped so the new connect URI gets
// dialed. Called with opMu held.
func (c *Client) ensureChannel(ctx context.Context) (*Channel, error) {
	now := c.options.clock.Now()

	c.mu.Lock()
	if ch := c.channel; ch != nil && !ch.Expired(now) {
		c.mu.Unlock()
		return ch, nil
	}
	prev := c.state
	c.state = StateProvisioning
	stale := c.transport
	c.transport = nil
	if stale != nil {
		c.epoch++
		c.heartbeat.cancel()
	}
	c.mu.Unlock()

	if stale != nil {
		stale.Close()
	}

	c.emitStatus(StatusNotice{State: StateProvisioning})

	ch, err := c.provisionChannel(ctx)
	if err != nil {
		return nil, c.failProvision(prev, err)
	}
	if ch.Expired(c.options.clock.Now()) {
		return nil, c.failProvision(prev, fmt.Errorf("channel %s: %w", ch.ID, ErrExpiredChannel))
	}

	c.mu.Lock()
	c.channel = ch
	topics := sortedTopicsLocked(c.topics)
	c.mu.Unlock()

	if len(topics) > 0 {
		echoed, err := c.sendSubscriptionList(ctx, ch, topics, http.MethodPut)
		if err != nil {
			return nil, c.failProvision(prev, err)
		}

		c.mu.Lock()
		c.topics = make(map[string]struct{}, len(echoed))
		for _, topic := range echoed {
			c.topics[topic] = struct{}{}
		}
		c.mu.Unlock()
	}

	return ch, nil
}

// failProvision rolls back a failed channel acquisition: the channel is
// invalidated, the state machine returns to where it came from, and the
// error is classified for the caller.
func (c *Client) failProvision(prev ConnectionState, err error) error {
	c.mu.Lock()
	c.channel = nil
	restored := StateDisconnected
	if prev == StateIdle {
		restored = StateIdle
	}
	c.state = restored
	c.mu.Unlock()

	c.emitStatus(StatusNotice{State: restored})

	if errors.Is(err, ErrAuthFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrMissingChannel, err)
}

// connectAfterSubscribe opens the transport for a subscribe call when it
// is not already open. Failures here are recovery-path failures: they go
// to the status stream, not to the subscribe caller.
func (c *Client) connectAfterSubscribe(ctx context.Context, ch *Channel) {
	c.mu.Lock()
	if c.transport != nil || c.closed.Load() {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.emitStatus(StatusNotice{State: StateConnecting})

	if err := c.openTransport(ctx, ch, false); err != nil {
		c.logger.Error("connect after subscribe failed", LogFields{LogFieldError: err})

		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		c.emitStatus(StatusNotice{Err: NewConnectionLostError(err)})
		c.emitStatus(StatusNotice{State: StateDisconnected})

		if errors.Is(err, ErrAuthFailed) {
			c.startRenew()
		}
	}
}

// openTransport dials the channel's connect URI and, on success, commits
// the new transport as the current epoch and starts its event loop. It
// does not touch ConnectionState; callers own the surrounding
// transitions. Recovery dials check the user-initiated-disconnect flag
// at commit, so a Disconnect that raced the dial wins.
func (c *Client) openTransport(ctx context.Context, ch *Channel, viaRecovery bool) error {
	header := http.Header{}
	if token, err := c.options.tokenSource(ctx); err == nil && token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	t, err := c.options.dialer.Dial(ctx, ch.ConnectURI, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		t.Close()
		return ErrClientClosed
	}
	if viaRecovery && c.userDisconnect {
		c.mu.Unlock()
		t.Close()
		return ErrDisconnected
	}
	c.epoch++
	epoch := c.epoch
	c.transport = t
	c.userDisconnect = false
	c.mu.Unlock()

	go c.eventLoop(t, epoch)

	return nil
}

// eventLoop consumes the transport's event stream. One loop per
// connection epoch; all handlers drop events whose epoch is stale.
func (c *Client) eventLoop(t Transport, epoch uint64) {
	for ev := range t.Events() {
		switch ev.Type {
		case TransportConnected:
			c.handleConnected(epoch, ev)
		case TransportTextFrame, TransportBinaryFrame:
			c.handleFrame(epoch, ev.Data)
		case TransportDisconnected, TransportError, TransportPeerClosed, TransportCancelled:
			c.handleDisconnected(epoch, ev)
		}
	}
}

// handleConnected commits the Connected state and arms the heartbeat.
func (c *Client) handleConnected(epoch uint64, ev TransportEvent) {
	c.mu.Lock()
	if epoch != c.epoch || c.closed.Load() {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.userDisconnect = false
	c.heartbeat.arm()
	ch := c.channel
	c.mu.Unlock()

	fields := LogFields{}
	if ch != nil {
		fields[LogFieldChannelID] = ch.ID
	}
	c.logger.Info("transport connected", fields)

	c.emitStatus(StatusNotice{State: StateConnected, Connected: true, Headers: ev.Headers})
}

// handleFrame decodes an inbound frame and routes it: system topics are
// consumed here, everything else goes to the dispatcher. Every frame,
// system or not, rearms the heartbeat.
func (c *Client) handleFrame(epoch uint64, data []byte) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.heartbeat.rearm()
	c.mu.Unlock()

	var frame struct {
		TopicName string          `json:"topicName"`
		EventBody json.RawMessage `json:"eventBody"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		c.emitStatus(StatusNotice{Err: NewFrameError(data, err)})
		return
	}
	if frame.TopicName == "" {
		c.emitStatus(StatusNotice{Err: NewFrameError(data, errors.New("missing topicName"))})
		return
	}

	switch frame.TopicName {
	case heartbeatTopic:
		// Server heartbeat; the rearm above is all it is for.
	case socketClosingTopic:
		c.logger.Info("server closing socket", nil)
		c.forceReconnect()
	default:
		c.dispatcher.dispatch(EventPayload{Topic: frame.TopicName, Message: frame.EventBody})
	}
}

// handleDisconnected reacts to the transport's terminal event. A
// user-initiated disconnect ends in Disconnected; anything else starts
// recovery - plain reconnect while the channel is live, full renewal
// once it has expired.
func (c *Client) handleDisconnected(epoch uint64, ev TransportEvent) {
	c.mu.Lock()
	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}
	c.heartbeat.cancel()
	c.transport = nil
	c.epoch++

	if c.userDisconnect || c.closed.Load() || ev.Type == TransportCancelled {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emitStatus(StatusNotice{State: StateDisconnected})
		return
	}

	expired := c.channel.Expired(c.options.clock.Now())
	next := StateReconnecting
	if expired {
		next = StateRenewing
	}
	if !c.options.autoReconnect {
		next = StateDisconnected
	}
	c.state = next
	c.mu.Unlock()

	cause := ev.Err
	if cause == nil && ev.Code != 0 {
		cause = fmt.Errorf("close %d: %s", ev.Code, ev.Reason)
	}
	c.logger.Warn("transport disconnected", LogFields{
		LogFieldError: cause,
		LogFieldState: next.String(),
	})

	c.emitStatus(StatusNotice{Err: NewConnectionLostError(cause)})
	c.emitStatus(StatusNotice{State: next})

	switch next {
	case StateRenewing:
		go c.renew()
	case StateReconnecting:
		go c.reconnectLoop()
	}
}

// onHeartbeatExpired fires when the heartbeat window elapses with no
// inbound traffic. The transport reported no error, but the connection
// is presumed dead.
func (c *Client) onHeartbeatExpired() {
	c.logger.Warn("no traffic within heartbeat window", nil)
	c.emitStatus(StatusNotice{Err: NewConnectionLostError(ErrHeartbeatTimeout)})
	c.forceReconnect()
}

// forceReconnect tears down the current transport and starts recovery,
// used for heartbeat timeouts and server-announced socket shutdown.
func (c *Client) forceReconnect() {
	c.mu.Lock()
	if c.closed.Load() || c.userDisconnect {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.transport = nil
	if t != nil {
		c.epoch++
	}
	c.heartbeat.cancel()

	expired := c.channel.Expired(c.options.clock.Now())
	next := StateReconnecting
	if expired {
		next = StateRenewing
	}
	if !c.options.autoReconnect {
		next = StateDisconnected
	}
	c.state = next
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}

	c.emitStatus(StatusNotice{State: next})

	switch next {
	case StateRenewing:
		go c.renew()
	case StateReconnecting:
		go c.reconnectLoop()
	}
}

// startRenew tears down any current transport and begins channel
// renewal. Used when the credential is rejected: the channel is presumed
// stale and must be re-provisioned before retrying.
func (c *Client) startRenew() {
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.transport = nil
	if t != nil {
		c.epoch++
	}
	c.heartbeat.cancel()
	c.state = StateRenewing
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}

	c.emitStatus(StatusNotice{State: StateRenewing})

	go c.renew()
}

// renew re-provisions the channel, replays the subscription set against
// it with a full replace, and reopens the transport. Failure anywhere in
// the chain surfaces as a ClientError notice and leaves the state
// machine in Disconnected.
func (c *Client) renew() {
	if !c.renewing.CompareAndSwap(false, true) {
		return
	}
	defer c.renewing.Store(false)

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.closed.Load() {
		return
	}

	ctx := c.lifeCtx

	ch, err := c.provisionChannel(ctx)
	if err != nil {
		c.failRenew("provision channel", err, true)
		return
	}
	if ch.Expired(c.options.clock.Now()) {
		// A socket must never open against a lapsed channel, even one
		// the server just issued.
		c.failRenew("provision channel", fmt.Errorf("channel %s: %w", ch.ID, ErrExpiredChannel), true)
		return
	}

	c.mu.Lock()
	c.channel = ch
	topics := sortedTopicsLocked(c.topics)
	c.mu.Unlock()

	if len(topics) > 0 {
		echoed, err := c.sendSubscriptionList(ctx, ch, topics, http.MethodPut)
		if err != nil {
			c.failRenew("replay subscriptions", err, false)
			return
		}

		c.mu.Lock()
		c.topics = make(map[string]struct{}, len(echoed))
		for _, topic := range echoed {
			c.topics[topic] = struct{}{}
		}
		c.mu.Unlock()
	}

	if err := c.openTransport(ctx, ch, true); err != nil {
		if errors.Is(err, ErrClientClosed) || errors.Is(err, ErrDisconnected) {
			return
		}
		c.failRenew("reopen transport", err, false)
		return
	}

	c.logger.Info("channel renewed", LogFields{
		LogFieldChannelID:  ch.ID,
		LogFieldTopicCount: len(topics),
	})
}

// failRenew records a renewal failure and parks the state machine in
// Disconnected. The caller must connect or subscribe again.
func (c *Client) failRenew(op string, err error, invalidateChannel bool) {
	c.logger.Error("channel renewal failed", LogFields{
		"op":          op,
		LogFieldError: err,
	})

	c.mu.Lock()
	if invalidateChannel {
		c.channel = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	c.emitStatus(StatusNotice{Err: NewClientError(op, err)})
	c.emitStatus(StatusNotice{State: StateDisconnected})
}

// handleCallError inspects an error from an explicit provisioning or
// subscription call. Credential rejection anywhere means the channel is
// stale; renewal runs on the recovery path while the original error
// still returns to the caller.
func (c *Client) handleCallError(err error) {
	if errors.Is(err, ErrAuthFailed) {
		c.startRenew()
	}
}

// reconnectLoop redials the current channel's connect URI with bounded
// exponential backoff until it succeeds, the attempt budget runs out, or
// the reconnect is canceled.
func (c *Client) reconnectLoop() {
	if c.closed.Load() {
		return
	}

	if !c.reconnecting.CompareAndSwap(false, true) {
		return // Already reconnecting
	}
	defer c.reconnecting.Store(false)

	c.reconnectMu.Lock()
	c.reconnectStop = make(chan struct{})
	stopCh := c.reconnectStop
	c.reconnectMu.Unlock()

	attempt := 0
	backoff := c.options.reconnectBackoff

	for {
		if c.closed.Load() {
			return
		}

		c.mu.Lock()
		if c.userDisconnect {
			c.mu.Unlock()
			return
		}
		ch := c.channel
		c.mu.Unlock()

		if ch == nil {
			c.setDisconnected()
			return
		}
		if ch.Expired(c.options.clock.Now()) {
			// The channel lapsed while we were retrying; switch to renewal.
			c.mu.Lock()
			c.state = StateRenewing
			c.mu.Unlock()
			c.emitStatus(StatusNotice{State: StateRenewing})
			go c.renew()
			return
		}

		attempt++
		if c.options.maxReconnects > 0 && attempt > c.options.maxReconnects {
			c.emitStatus(StatusNotice{Err: ErrReconnectFailed})
			c.setDisconnected()
			return
		}

		c.emitStatus(StatusNotice{
			Err: NewReconnectEvent(attempt, c.options.maxReconnects, backoff, c.cancelReconnect),
		})

		timer := time.NewTimer(backoff)
		select {
		case <-c.lifeCtx.Done():
			timer.Stop()
			return
		case <-stopCh:
			timer.Stop()
			c.setDisconnected()
			return
		case <-timer.C:
		}

		if lim := c.options.reconnectLimiter; lim != nil {
			if err := lim.Wait(c.lifeCtx); err != nil {
				return
			}
		}

		c.opMu.Lock()
		err := c.openTransport(c.lifeCtx, ch, true)
		c.opMu.Unlock()

		if err == nil {
			return // Successfully reconnected; Connected commits on the connected event.
		}
		if errors.Is(err, ErrAuthFailed) {
			c.startRenew()
			return
		}

		c.logger.Warn("reconnect attempt failed", LogFields{
			LogFieldAttempt: attempt,
			LogFieldError:   err,
		})

		if c.options.backoffStrategy != nil {
			backoff = c.options.backoffStrategy(attempt, backoff, err)
		} else {
			backoff *= 2
		}
		if backoff > c.options.maxBackoff {
			backoff = c.options.maxBackoff
		}
	}
}

// cancelReconnect stops an in-flight reconnect loop, if any.
func (c *Client) cancelReconnect() {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.reconnectStop != nil {
		select {
		case <-c.reconnectStop:
			// Already closed
		default:
			close(c.reconnectStop)
		}
	}
}

// setDisconnected parks the state machine in Disconnected.
func (c *Client) setDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	c.emitStatus(StatusNotice{State: StateDisconnected})
}

// emitStatus fans a status notice out to channel subscribers and the
// OnEvent handler.
func (c *Client) emitStatus(notice StatusNotice) {
	c.dispatcher.notify(notice)
	if c.options.onEvent != nil {
		c.options.onEvent(c, notice)
	}
}
