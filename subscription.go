package pushwire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// SubscribeMode selects how a subscribe call combines with the topics
// already on the channel.
type SubscribeMode int

const (
	// SubscribeReplace replaces the channel's topic set with the given topics.
	SubscribeReplace SubscribeMode = iota

	// SubscribeAppend adds the given topics to the channel's topic set.
	SubscribeAppend
)

// String returns the string representation of the subscribe mode.
func (m SubscribeMode) String() string {
	switch m {
	case SubscribeReplace:
		return "replace"
	case SubscribeAppend:
		return "append"
	default:
		return "unknown"
	}
}

// DefaultTopicLimit is the provisioning API's per-channel topic limit.
const DefaultTopicLimit = 1000

// topicEntry is the wire representation of a single topic.
type topicEntry struct {
	ID string `json:"id"`
}

// entityList is the subscription endpoint's response body.
type entityList struct {
	Entities []topicEntry `json:"entities"`
}

// Subscribe synchronizes the given topics with the server and returns the
// resulting topic set. With SubscribeReplace the set becomes exactly what
// the server echoes back; with SubscribeAppend the echo is unioned into
// the prior set. If no live channel exists one is provisioned and the
// transport is opened, so a first Subscribe is all a caller needs.
func (c *Client) Subscribe(ctx context.Context, topics []string, mode SubscribeMode) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	unique := dedupeTopics(topics)
	if len(unique) == 0 {
		return nil, ErrNoTopics
	}
	if len(unique) > c.options.topicLimit {
		return nil, fmt.Errorf("%d topics exceeds limit of %d: %w",
			len(unique), c.options.topicLimit, ErrTopicLimitExceeded)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	ch, err := c.ensureChannel(ctx)
	if err != nil {
		return nil, err
	}

	method := http.MethodPut
	if mode == SubscribeAppend {
		method = http.MethodPost
	}

	echoed, err := c.sendSubscriptionList(ctx, ch, unique, method)
	if err != nil {
		c.handleCallError(err)
		return nil, err
	}

	c.mu.Lock()
	if mode == SubscribeReplace {
		c.topics = make(map[string]struct{}, len(echoed))
	}
	for _, topic := range echoed {
		c.topics[topic] = struct{}{}
	}
	result := sortedTopicsLocked(c.topics)
	c.mu.Unlock()

	c.logger.Info("subscriptions updated", LogFields{
		LogFieldChannelID:  ch.ID,
		LogFieldTopicCount: len(result),
	})

	// Subscribing implies wanting events: open the transport if it is not
	// already open. Connect failures here are recovery-path failures and
	// surface on the status stream, not to the subscribe caller.
	c.connectAfterSubscribe(ctx, ch)

	return result, nil
}

// Unsubscribe removes the given topics from the subscription set. The
// remainder is written to the server as a full replace.
func (c *Client) Unsubscribe(ctx context.Context, topics ...string) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	remaining := make(map[string]struct{}, len(c.topics))
	for topic := range c.topics {
		remaining[topic] = struct{}{}
	}
	for _, topic := range topics {
		delete(remaining, topic)
	}
	ch := c.channel
	c.mu.Unlock()

	if ch == nil {
		// Nothing on the server yet; trim the local set only.
		c.mu.Lock()
		c.topics = remaining
		c.mu.Unlock()
		return nil
	}

	echoed, err := c.sendSubscriptionList(ctx, ch, sortedTopicsLocked(remaining), http.MethodPut)
	if err != nil {
		c.handleCallError(err)
		return err
	}

	c.mu.Lock()
	c.topics = make(map[string]struct{}, len(echoed))
	for _, topic := range echoed {
		c.topics[topic] = struct{}{}
	}
	c.mu.Unlock()

	return nil
}

// RemoveAllSubscriptions deletes every subscription on the channel and
// clears the local set.
func (c *Client) RemoveAllSubscriptions(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch != nil {
		url := c.options.apiBase + channelsPath + "/" + ch.ID + "/subscriptions"
		data, status, err := c.apiRequest(ctx, http.MethodDelete, url, nil)
		if err != nil {
			return NewSubscribeError(0, err.Error())
		}
		if status == http.StatusUnauthorized {
			err := fmt.Errorf("remove subscriptions: %w", ErrAuthFailed)
			c.handleCallError(err)
			return err
		}
		if status < 200 || status > 299 {
			return NewSubscribeError(status, bodyMessage(data))
		}
	}

	c.mu.Lock()
	c.topics = make(map[string]struct{})
	c.mu.Unlock()

	return nil
}

// Subscriptions returns a sorted snapshot of the current topic set.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return sortedTopicsLocked(c.topics)
}

// sendSubscriptionList writes the full topic list to the channel's
// subscription endpoint and returns the topics the server echoed back.
// Only echoed topics count as subscribed.
func (c *Client) sendSubscriptionList(ctx context.Context, ch *Channel, topics []string, method string) ([]string, error) {
	entries := make([]topicEntry, 0, len(topics))
	for _, topic := range topics {
		entries = append(entries, topicEntry{ID: topic})
	}

	url := c.options.apiBase + channelsPath + "/" + ch.ID + "/subscriptions"
	data, status, err := c.apiRequest(ctx, method, url, entries)
	if err != nil {
		return nil, NewSubscribeError(0, err.Error())
	}

	if status == http.StatusUnauthorized {
		return nil, fmt.Errorf("subscribe: %w", ErrAuthFailed)
	}
	if status < 200 || status > 299 {
		return nil, NewSubscribeError(status, bodyMessage(data))
	}

	var list entityList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, NewSubscribeError(0, "decode entities: "+err.Error())
	}

	echoed := make([]string, 0, len(list.Entities))
	for _, entity := range list.Entities {
		if entity.ID != "" {
			echoed = append(echoed, entity.ID)
		}
	}

	return echoed, nil
}

// dedupeTopics builds the set of non-empty topics, preserving first-seen order.
func dedupeTopics(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	unique := make([]string, 0, len(topics))
	for _, topic := range topics {
		if topic == "" {
			continue
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		unique = append(unique, topic)
	}
	return unique
}

// sortedTopicsLocked returns the set as a sorted slice. Callers hold the
// client lock or own the map exclusively.
func sortedTopicsLocked(set map[string]struct{}) []string {
	topics := make([]string, 0, len(set))
	for topic := range set {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}
