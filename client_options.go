package pushwire

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// TokenSource supplies the bearer token for provisioning API calls and
// the transport handshake. It is called per request so callers can plug
// in refreshing credentials.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields the given token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// BackoffStrategy is a function that computes the next backoff duration.
// It receives the current attempt number (1-based), the previous backoff
// duration, and the error from the last connection attempt.
// Return the duration to wait before the next attempt.
// This allows implementing jitter, server hints, or custom strategies.
type BackoffStrategy func(attempt int, currentBackoff time.Duration, err error) time.Duration

// EventHandler receives status notices as they are emitted, in addition
// to any channel subscribers registered through Status.
type EventHandler func(client *Client, notice StatusNotice)

// clientOptions holds configuration for a Client.
type clientOptions struct {
	// Provisioning API
	apiBase        string
	tokenSource    TokenSource
	httpClient     *http.Client
	requestTimeout time.Duration

	// Transport
	dialer   TransportDialer
	proxyURL string

	// Heartbeat
	heartbeatWindow time.Duration

	// Limits
	topicLimit int

	// Auto reconnect settings
	autoReconnect    bool
	maxReconnects    int
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
	backoffStrategy  BackoffStrategy
	reconnectLimiter *rate.Limiter

	// Event handler
	onEvent EventHandler

	// Ambient
	logger Logger
	clock  Clock
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *clientOptions {
	return &clientOptions{
		requestTimeout:   10 * time.Second,
		heartbeatWindow:  DefaultHeartbeatWindow,
		topicLimit:       DefaultTopicLimit,
		autoReconnect:    true,
		maxReconnects:    10,
		reconnectBackoff: 1 * time.Second,
		maxBackoff:       60 * time.Second,
		logger:           NewNoOpLogger(),
		clock:            realClock{},
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithAPIBase sets the base URL of the channel provisioning API, for
// example "https://api.example.com/v2/notifications". A trailing slash
// is trimmed.
func WithAPIBase(base string) Option {
	return func(o *clientOptions) {
		o.apiBase = strings.TrimRight(base, "/")
	}
}

// WithTokenSource sets the bearer token source for API calls.
func WithTokenSource(source TokenSource) Option {
	return func(o *clientOptions) {
		o.tokenSource = source
	}
}

// WithToken sets a static bearer token for API calls.
func WithToken(token string) Option {
	return WithTokenSource(StaticToken(token))
}

// WithHTTPClient sets the HTTP client used for provisioning API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithRequestTimeout bounds each provisioning or subscription HTTP call.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.requestTimeout = d
	}
}

// WithDialer sets the transport dialer. Defaults to a WebSocket dialer.
func WithDialer(dialer TransportDialer) Option {
	return func(o *clientOptions) {
		if dialer != nil {
			o.dialer = dialer
		}
	}
}

// WithProxy routes the default WebSocket transport through a SOCKS5
// proxy. Ignored when a custom dialer is supplied.
func WithProxy(proxyURL string) Option {
	return func(o *clientOptions) {
		o.proxyURL = proxyURL
	}
}

// WithHeartbeatWindow sets how long the connection may stay silent before
// a forced reconnect. Default: DefaultHeartbeatWindow.
func WithHeartbeatWindow(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.heartbeatWindow = d
		}
	}
}

// WithTopicLimit overrides the per-channel topic limit. Intended for
// servers deployed with a non-default limit.
func WithTopicLimit(limit int) Option {
	return func(o *clientOptions) {
		if limit > 0 {
			o.topicLimit = limit
		}
	}
}

// WithAutoReconnect enables or disables automatic recovery after an
// unexpected disconnect. Enabled by default.
func WithAutoReconnect(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoReconnect = enabled
	}
}

// WithMaxReconnects sets the maximum number of reconnection attempts per
// outage. Use -1 for unlimited attempts.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) {
		o.maxReconnects = n
	}
}

// WithReconnectBackoff sets the initial backoff duration between
// reconnection attempts.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *clientOptions) {
		o.reconnectBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration between reconnection
// attempts.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *clientOptions) {
		o.maxBackoff = d
	}
}

// WithBackoffStrategy sets a custom backoff strategy for reconnection
// attempts. If not set, uses exponential backoff (doubling) up to
// maxBackoff.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *clientOptions) {
		o.backoffStrategy = strategy
	}
}

// WithReconnectLimiter rate-limits reconnection attempts across outages,
// so a flapping endpoint cannot induce a connect stampede. Backoff spaces
// attempts within one outage; the limiter caps them globally.
func WithReconnectLimiter(limiter *rate.Limiter) Option {
	return func(o *clientOptions) {
		o.reconnectLimiter = limiter
	}
}

// OnEvent sets a handler invoked for every status notice.
func OnEvent(handler EventHandler) Option {
	return func(o *clientOptions) {
		o.onEvent = handler
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used for channel expiry checks and the
// heartbeat watchdog. Intended for tests.
func WithClock(clock Clock) Option {
	return func(o *clientOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// applyOptions applies all options to the default options.
func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
