// Package mqtt publishes zone switches to Home Assistant through MQTT
// discovery and forwards switch commands back to the worker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/zoneworker/internal/metrics"
	"github.com/jkaflik/zoneworker/internal/worker"
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrTimeout          = errors.New("mqtt: operation timed out")
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultCommandTimeout    = 10 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	qos                      = 1
)

type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	DiscoveryPrefix string
}

// Commander executes switch commands.
type Commander interface {
	TurnOn(ctx context.Context, id string) error
	TurnOff(ctx context.Context, id string) error
}

// client is the subset of pahomqtt.Client in use.
type client interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
}

type Publisher struct {
	client client
	topics Topics

	mtx       sync.RWMutex
	commander Commander
	onConnect func()
}

var _ worker.Publisher = (*Publisher)(nil)

// NewPublisher configures a paho client with a retained offline will on the
// availability topic.
func NewPublisher(cfg Config) *Publisher {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = component
	}

	p := &Publisher{topics: Topics{DiscoveryPrefix: cfg.DiscoveryPrefix}}

	opts := pahomqtt.NewClientOptions()
	for _, broker := range strings.Split(cfg.Broker, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			opts.AddBroker(broker)
		}
	}
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	// command handlers call Home Assistant and must not block the router
	opts.SetOrderMatters(false)
	opts.SetWill(p.topics.Availability(), PayloadOffline, qos, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { p.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		metrics.MQTTConnectionStatus.Set(0)
		log.Warn().Err(err).Msg("Lost connection to MQTT broker")
	})

	p.client = pahomqtt.NewClient(opts)

	return p
}

func newPublisher(c client, prefix string) *Publisher {
	return &Publisher{client: c, topics: Topics{DiscoveryPrefix: prefix}}
}

// SetCommander sets who receives switch commands.
func (p *Publisher) SetCommander(c Commander) {
	p.mtx.Lock()
	p.commander = c
	p.mtx.Unlock()
}

// SetOnConnect sets a callback run after every (re)connection, once the
// command subscription and availability are restored.
func (p *Publisher) SetOnConnect(fn func()) {
	p.mtx.Lock()
	p.onConnect = fn
	p.mtx.Unlock()
}

// Connect waits for the first connection to the broker.
func (p *Publisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-time.After(defaultConnectTimeout):
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

func (p *Publisher) handleConnect() {
	metrics.MQTTConnectionStatus.Set(1)
	log.Info().Msg("Connected to MQTT broker")

	token := p.client.Subscribe(p.topics.CommandWildcard(), qos, p.handleCommand)
	if err := wait(token); err != nil {
		log.Error().Err(err).Str("topic", p.topics.CommandWildcard()).Msg("Failed to subscribe to switch commands")
	}

	if err := p.publish("availability", p.topics.Availability(), PayloadOnline); err != nil {
		log.Error().Err(err).Msg("Failed to publish availability")
	}

	p.mtx.RLock()
	fn := p.onConnect
	p.mtx.RUnlock()
	if fn != nil {
		fn()
	}
}

func (p *Publisher) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	objectID, ok := p.topics.ObjectIDFromCommand(msg.Topic())
	if !ok {
		return
	}

	p.mtx.RLock()
	commander := p.commander
	p.mtx.RUnlock()
	if commander == nil {
		log.Warn().Str("topic", msg.Topic()).Msg("Dropping switch command, no commander set")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultCommandTimeout)
	defer cancel()

	id := "switch." + objectID
	payload := strings.ToUpper(strings.TrimSpace(string(msg.Payload())))

	var err error
	switch payload {
	case PayloadOn:
		err = commander.TurnOn(ctx, id)
	case PayloadOff:
		err = commander.TurnOff(ctx, id)
	default:
		log.Warn().Str("switch", id).Str("payload", payload).Msg("Unknown switch command")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("switch", id).Str("command", payload).Msg("Failed to execute switch command")
	}
}

// Close publishes offline availability and disconnects.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		if err := p.publish("availability", p.topics.Availability(), PayloadOffline); err != nil {
			log.Warn().Err(err).Msg("Failed to publish offline availability")
		}
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
	metrics.MQTTConnectionStatus.Set(0)
}

// Healthy reports whether the broker connection is up.
func (p *Publisher) Healthy() error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// PublishSwitch publishes the retained discovery config and attributes.
func (p *Publisher) PublishSwitch(_ context.Context, sw worker.Switch) error {
	if err := p.publishJSON("config", p.topics.Config(sw.ObjectID), p.topics.switchConfig(sw)); err != nil {
		return err
	}

	attrs, err := stateJSON(sw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return p.publish("attributes", p.topics.Attributes(sw.ObjectID), attrs)
}

// PublishState publishes the retained ON/OFF state and attributes.
func (p *Publisher) PublishState(_ context.Context, sw worker.Switch) error {
	if err := p.publish("state", p.topics.State(sw.ObjectID), statePayload(sw.On)); err != nil {
		return err
	}

	attrs, err := stateJSON(sw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return p.publish("attributes", p.topics.Attributes(sw.ObjectID), attrs)
}

// RemoveSwitch clears the retained discovery config, which removes the
// entity from Home Assistant, and the retained state.
func (p *Publisher) RemoveSwitch(_ context.Context, sw worker.Switch) error {
	for _, topic := range []string{
		p.topics.Config(sw.ObjectID),
		p.topics.State(sw.ObjectID),
		p.topics.Attributes(sw.ObjectID),
	} {
		if err := p.publish("remove", topic, []byte{}); err != nil {
			return err
		}
	}
	return nil
}
