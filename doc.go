// Package pushwire implements a push-notification channel client: it
// provisions notification channels over an HTTP API, opens a WebSocket
// against the channel's connect URI, and fans decoded topic events out
// to subscribers.
//
// The client owns the full connection lifecycle. A heartbeat watchdog
// presumes the connection dead when no inbound traffic arrives within
// the configured window, unexpected disconnects are retried with
// exponential backoff, and an expired or credential-rejected channel is
// transparently renewed with the caller's subscription set replayed
// onto the fresh channel.
//
// Basic usage:
//
//	client, err := pushwire.New(
//		pushwire.WithAPIBase("https://api.example.com/v2/notifications"),
//		pushwire.WithToken(token),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	events, cancel := client.Events(64)
//	defer cancel()
//
//	if _, err := client.Subscribe(ctx, topics, pushwire.SubscribeReplace); err != nil {
//		log.Fatal(err)
//	}
//
//	for ev := range events {
//		// decode ev.Message based on ev.Topic
//	}
//
// A first Subscribe provisions the channel and opens the transport;
// connection-state changes and asynchronous errors are observable
// through Status or the OnEvent option.
package pushwire
