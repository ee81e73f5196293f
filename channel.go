package pushwire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const channelsPath = "/channels"

// maxResponseSize bounds provisioning API response bodies.
const maxResponseSize = 1 << 20

// Channel is a server-issued, time-limited binding between a connect
// endpoint and a set of topic subscriptions. Channels are replaced on
// renewal, never mutated in place.
type Channel struct {
	// ConnectURI is the socket endpoint for this channel.
	ConnectURI string

	// ID identifies the channel in subscription calls.
	ID string

	// ExpiresAt is the server-assigned expiry. An expired channel must
	// never be used to open a new socket.
	ExpiresAt time.Time
}

// Expired reports whether the channel has passed its expiry at the given
// time. A nil channel is expired.
func (ch *Channel) Expired(now time.Time) bool {
	if ch == nil {
		return true
	}
	return !ch.ExpiresAt.After(now)
}

// channelResponse is the provisioning API's channel entity.
type channelResponse struct {
	ConnectURI string `json:"connectUri"`
	ID         string `json:"id"`
	Expires    string `json:"expires"`
}

// provisionChannel creates a fresh channel via the provisioning API. It
// performs the HTTP call only; the caller decides what to do with the
// returned Channel.
func (c *Client) provisionChannel(ctx context.Context) (*Channel, error) {
	data, status, err := c.apiRequest(ctx, http.MethodPost, c.options.apiBase+channelsPath, nil)
	if err != nil {
		return nil, NewProvisionError(0, err.Error())
	}

	if status == http.StatusUnauthorized {
		return nil, fmt.Errorf("provision channel: %w", ErrAuthFailed)
	}
	if status < 200 || status > 299 {
		return nil, NewProvisionError(status, bodyMessage(data))
	}

	var resp channelResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, NewProvisionError(0, "decode channel: "+err.Error())
	}
	if resp.ConnectURI == "" || resp.ID == "" {
		return nil, NewProvisionError(0, "decode channel: missing connectUri or id")
	}

	// Expiry arrives as ISO-8601 with fractional seconds and UTC offset.
	expiresAt, err := time.Parse(time.RFC3339Nano, resp.Expires)
	if err != nil {
		return nil, NewProvisionError(0, "decode channel expiry: "+err.Error())
	}

	ch := &Channel{
		ConnectURI: resp.ConnectURI,
		ID:         resp.ID,
		ExpiresAt:  expiresAt,
	}

	c.logger.Info("channel provisioned", LogFields{
		LogFieldChannelID: ch.ID,
		LogFieldExpiresAt: ch.ExpiresAt,
	})

	return ch, nil
}

// apiRequest performs a bounded, bearer-authenticated JSON call against
// the provisioning API. It returns the response body and status code; a
// non-nil error means the call never produced an HTTP response.
func (c *Client) apiRequest(ctx context.Context, method, url string, payload any) ([]byte, int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.options.requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return nil, 0, err
	}

	token, err := c.options.tokenSource(reqCtx)
	if err != nil {
		return nil, 0, fmt.Errorf("token source: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, err
	}

	return data, resp.StatusCode, nil
}

// bodyMessage extracts a short error message from a response body.
func bodyMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}

	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
