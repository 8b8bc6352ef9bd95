package hass

import (
	"time"

	"github.com/jkaflik/zoneworker/pkg/retry"
)

const (
	defaultResultTimeout      = 5 * time.Second
	defaultReceiverBufferSize = 64
	defaultUserAgent          = "zoneworker"
)

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithReconnectConfig sets the backoff used to re-establish a lost connection.
// Reconnection is attempted until the client is closed.
func WithReconnectConfig(initialInterval, maxInterval time.Duration, multiplier float64) ClientOption {
	return func(c *Client) {
		c.reconnectConf = retry.Config{
			MaxRetries:          retry.Forever,
			InitialInterval:     initialInterval,
			MaxInterval:         maxInterval,
			Multiplier:          multiplier,
			RandomizationFactor: 0.2,
		}
	}
}

// WithResultTimeout sets how long a command waits for its result message.
func WithResultTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.resultTimeout = timeout
	}
}

// WithReceiverBufferSize sets the per-subscription event buffer.
func WithReceiverBufferSize(size int) ClientOption {
	return func(c *Client) {
		c.receiverBufferSize = size
	}
}

// WithUserAgent sets the User-Agent header sent on the websocket handshake.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

func defaultReconnectConfig() retry.Config {
	return retry.Config{
		MaxRetries:          retry.Forever,
		InitialInterval:     time.Second,
		MaxInterval:         time.Minute,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

type subscribeEventsOptions struct {
	eventType EventType
}

// SubscribeEventsOption configures an event subscription.
type SubscribeEventsOption func(*subscribeEventsOptions)

// SubscribeEventsWithEventType limits the subscription to a single event type.
func SubscribeEventsWithEventType(eventType EventType) SubscribeEventsOption {
	return func(o *subscribeEventsOptions) {
		o.eventType = eventType
	}
}
