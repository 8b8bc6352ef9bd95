package hass

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fastjson"

	"github.com/jkaflik/zoneworker/internal/metrics"
	"github.com/jkaflik/zoneworker/pkg/retry"
)

var (
	ErrNotConnected   = errors.New("hass: not connected")
	ErrConnectionLost = errors.New("hass: connection lost")
	ErrAuthInvalid    = errors.New("hass: authentication rejected")
)

// Client is a websocket API client for Home Assistant
type Client struct {
	host  string
	token string

	reconnectConf      retry.Config
	resultTimeout      time.Duration
	receiverBufferSize int
	userAgent          string

	writeMtx sync.Mutex

	// mtx guards everything below.
	mtx           sync.Mutex
	conn          *websocket.Conn
	cancel        context.CancelFunc
	generation    int
	authDone      chan struct{}
	authErr       error
	version       string
	lastID        int
	pending       map[int]chan []byte
	subscriptions map[int]*subscription
	onReconnect   func()
}

type subscription struct {
	id         int
	generation int
	eventType  EventType
	in         chan *EventMessage
	ctx        context.Context
}

// NewClient creates a client for the Home Assistant instance at host.
// The host may use the http(s) or ws(s) scheme.
func NewClient(host, token string, options ...ClientOption) *Client {
	c := &Client{
		host:               websocketHost(host),
		token:              token,
		reconnectConf:      defaultReconnectConfig(),
		resultTimeout:      defaultResultTimeout,
		receiverBufferSize: defaultReceiverBufferSize,
		userAgent:          defaultUserAgent,
		pending:            make(map[int]chan []byte),
		subscriptions:      make(map[int]*subscription),
	}

	for _, option := range options {
		option(c)
	}

	return c
}

func websocketHost(host string) string {
	host = strings.TrimSuffix(host, "/")
	switch {
	case strings.HasPrefix(host, "https://"):
		return "wss://" + strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		return "ws://" + strings.TrimPrefix(host, "http://")
	case strings.HasPrefix(host, "ws://"), strings.HasPrefix(host, "wss://"):
		return host
	default:
		return "ws://" + host
	}
}

// Connect opens the websocket connection. Authentication happens in the
// background, use WaitAuthenticated to wait for it.
func (c *Client) Connect(ctx context.Context) error {
	c.mtx.Lock()
	if c.conn != nil {
		c.mtx.Unlock()
		return nil
	}
	c.mtx.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	c.mtx.Lock()
	c.cancel = cancel
	c.attach(conn)
	c.mtx.Unlock()

	go c.receive(runCtx, conn)

	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s/api/websocket", c.host)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{
		"User-Agent": []string{c.userAgent},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Home Assistant at %s: %w", url, err)
	}

	return conn, nil
}

// attach must be called with mtx held.
func (c *Client) attach(conn *websocket.Conn) {
	c.conn = conn
	c.generation++
	c.authDone = make(chan struct{})
	c.authErr = nil
}

// finishAuth must be called with mtx held.
func (c *Client) finishAuth(err error) {
	select {
	case <-c.authDone:
		return
	default:
	}
	c.authErr = err
	close(c.authDone)
}

// failPending must be called with mtx held.
func (c *Client) failPending() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// WaitAuthenticated blocks until the current connection is authenticated.
func (c *Client) WaitAuthenticated(ctx context.Context) error {
	for {
		c.mtx.Lock()
		done := c.authDone
		c.mtx.Unlock()

		if done == nil {
			return ErrNotConnected
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}

		c.mtx.Lock()
		err := c.authErr
		replaced := c.authDone != done
		c.mtx.Unlock()

		if replaced {
			continue
		}
		if !errors.Is(err, ErrConnectionLost) {
			return err
		}

		// Connection dropped during the handshake, wait for the reconnect.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// IsConnected reports whether the client holds an authenticated connection.
func (c *Client) IsConnected() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.conn == nil || c.authDone == nil {
		return false
	}
	select {
	case <-c.authDone:
		return c.authErr == nil
	default:
		return false
	}
}

// Healthy returns an error when the client is not connected.
func (c *Client) Healthy() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Version returns the Home Assistant version reported during authentication.
func (c *Client) Version() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.version
}

// SubscribeEvents subscribes to Home Assistant events. The returned channel is
// closed when ctx is done. The subscription survives reconnects.
func (c *Client) SubscribeEvents(ctx context.Context, opts ...SubscribeEventsOption) (<-chan *EventMessage, error) {
	var o subscribeEventsOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub := &subscription{
		eventType: o.eventType,
		in:        make(chan *EventMessage, c.receiverBufferSize),
		ctx:       ctx,
	}

	if err := c.subscribe(ctx, sub); err != nil {
		return nil, err
	}

	out := make(chan *EventMessage)
	go c.forward(sub, out)

	return out, nil
}

func (c *Client) subscribe(ctx context.Context, sub *subscription) error {
	cmd := &SubscribeEventsMessage{
		BaseMessage: BaseMessage{Type: MessageTypeSubscribeEvents},
		EventType:   sub.eventType,
	}

	_, err := c.execute(ctx, cmd, func(id int) {
		sub.id = id
		sub.generation = c.generation
		c.subscriptions[id] = sub
	})
	if err != nil {
		c.mtx.Lock()
		if c.subscriptions[sub.id] == sub {
			delete(c.subscriptions, sub.id)
		}
		c.mtx.Unlock()

		return fmt.Errorf("subscription failed: %w", err)
	}

	log.Info().
		Int("id", cmd.ID).
		Str("event_type", string(sub.eventType)).
		Msg("Subscribed to events")

	return nil
}

func (c *Client) forward(sub *subscription, out chan<- *EventMessage) {
	defer close(out)
	defer c.unsubscribe(sub)

	for {
		select {
		case <-sub.ctx.Done():
			return
		case ev := <-sub.in:
			select {
			case out <- ev:
			case <-sub.ctx.Done():
				return
			}
		}
	}
}

func (c *Client) unsubscribe(sub *subscription) {
	c.mtx.Lock()
	id := sub.id
	if c.subscriptions[id] == sub {
		delete(c.subscriptions, id)
	}
	connected := c.conn != nil
	c.mtx.Unlock()

	if !connected {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.resultTimeout)
	defer cancel()

	cmd := &UnsubscribeEventsMessage{
		BaseMessage:  BaseMessage{Type: MessageTypeUnsubscribeEvents},
		Subscription: id,
	}
	if _, err := c.execute(ctx, cmd, nil); err != nil {
		log.Debug().Err(err).Int("id", id).Msg("Failed to unsubscribe from events")
	}
}

func (c *Client) resubscribe(generation int, subs []*subscription) {
	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}

		c.mtx.Lock()
		if c.generation != generation {
			c.mtx.Unlock()
			return
		}
		if c.subscriptions[sub.id] == sub {
			delete(c.subscriptions, sub.id)
		}
		c.mtx.Unlock()

		ctx, cancel := context.WithTimeout(sub.ctx, c.resultTimeout)
		if err := c.subscribe(ctx, sub); err != nil {
			log.Err(err).Str("event_type", string(sub.eventType)).Msg("Failed to restore event subscription")
		}
		cancel()
	}
}

type command interface {
	setID(id int)
	messageType() string
}

func (m *BaseMessage) setID(id int)        { m.ID = id }
func (m *BaseMessage) messageType() string { return m.Type }

// execute sends a command and waits for its result. register is invoked with
// the allocated message ID while the client lock is held.
func (c *Client) execute(ctx context.Context, cmd command, register func(id int)) (json.RawMessage, error) {
	payload, err := c.roundTrip(ctx, cmd, register)
	if err != nil {
		return nil, err
	}

	var res ResultMessage
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", cmd.messageType(), err)
	}

	if res.Type != MessageTypeResult {
		log.Error().Str("type", res.Type).Msg("Unexpected message type received waiting for a result")

		return nil, fmt.Errorf("unexpected message type received waiting for a result: %s", res.Type)
	}

	if !res.Success {
		resErr := res.Error
		if resErr == nil {
			resErr = &ResultMessageError{Code: "unknown_error"}
		}

		log.Error().
			Str("type", cmd.messageType()).
			Str("code", resErr.Code).
			Str("message", resErr.Message).
			Msg("Home Assistant command failed")

		return nil, fmt.Errorf("%s failed: %w", cmd.messageType(), resErr)
	}

	return res.Result, nil
}

func (c *Client) roundTrip(ctx context.Context, cmd command, register func(id int)) ([]byte, error) {
	if err := c.WaitAuthenticated(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.HassCommandDuration.WithLabelValues(cmd.messageType()).Observe(time.Since(start).Seconds())
	}()

	c.mtx.Lock()
	conn := c.conn
	if conn == nil {
		c.mtx.Unlock()
		return nil, ErrNotConnected
	}
	c.lastID++
	id := c.lastID
	cmd.setID(id)
	resultc := make(chan []byte, 1)
	c.pending[id] = resultc
	if register != nil {
		register(id)
	}
	c.mtx.Unlock()

	if err := c.write(conn, cmd); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("failed to send message to Home Assistant: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.resultTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, fmt.Errorf("timeout waiting for Home Assistant to answer %s: %w", cmd.messageType(), ctx.Err())
	case payload, ok := <-resultc:
		if !ok {
			return nil, ErrConnectionLost
		}
		return payload, nil
	}
}

func (c *Client) forget(id int) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.pending, id)
}

func (c *Client) write(conn *websocket.Conn, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) receive(ctx context.Context, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				log.Debug().Msg("Closing Home Assistant websocket receive message loop")
				return
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Msg("Home Assistant websocket connection closed")
			} else {
				log.Err(err).Msg("Failed to read message from Home Assistant websocket")
			}

			if c.detach(conn) {
				c.reconnect(ctx)
			}
			return
		}

		c.dispatch(conn, payload)
	}
}

// detach drops conn if it is still the active connection.
func (c *Client) detach(conn *websocket.Conn) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.conn != conn {
		return false
	}

	c.conn = nil
	c.finishAuth(ErrConnectionLost)
	c.failPending()
	metrics.HassConnectionStatus.Set(0)
	_ = conn.Close()

	return true
}

func (c *Client) reconnect(ctx context.Context) {
	callbacks := retry.Callbacks{
		OnRetryAttempt: func(attempt int, err error, nextBackoff time.Duration) {
			log.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("next_backoff", nextBackoff).
				Msg("Retrying Home Assistant connection")
		},
		OnRetrySuccess: func(attempt int) {
			log.Info().Int("attempt", attempt).Msg("Reconnected to Home Assistant")
		},
	}

	err := retry.DoWithCallbacks(ctx, func() error {
		metrics.HassReconnectTotal.Inc()

		conn, err := c.dial(ctx)
		if err != nil {
			return err
		}

		c.mtx.Lock()
		if ctx.Err() != nil {
			c.mtx.Unlock()
			_ = conn.Close()
			return nil
		}
		c.attach(conn)
		c.mtx.Unlock()

		go c.receive(ctx, conn)

		return nil
	}, retry.Always, c.reconnectConf, callbacks)
	if err != nil && ctx.Err() == nil {
		log.Err(err).Msg("Giving up reconnecting to Home Assistant")
	}
}

func (c *Client) dispatch(conn *websocket.Conn, payload []byte) {
	v, err := fastjson.ParseBytes(payload)
	if err != nil {
		log.Err(err).Msg("Received malformed message from Home Assistant")
		return
	}

	typ := string(v.GetStringBytes("type"))

	switch typ {
	case "":
		log.Error().Msg("Received message from Home Assistant without a type")
	case MessageTypeAuthRequired:
		c.authenticate(conn)
	case MessageTypeAuthOK:
		c.authenticated(string(v.GetStringBytes("ha_version")))
	case MessageTypeAuthInvalid:
		message := string(v.GetStringBytes("message"))
		log.Error().Str("message", message).Msg("Failed to authenticate with Home Assistant")

		// A rejected token will not get better by reconnecting.
		c.mtx.Lock()
		c.finishAuth(fmt.Errorf("%w: %s", ErrAuthInvalid, message))
		if c.conn == conn {
			c.conn = nil
		}
		cancel := c.cancel
		c.cancel = nil
		c.failPending()
		c.mtx.Unlock()

		if cancel != nil {
			cancel()
		}
		_ = conn.Close()
	case MessageTypeEvent:
		c.handleEvent(v.GetInt("id"), payload)
	default:
		c.handleResult(v.GetInt("id"), payload)
	}
}

func (c *Client) authenticate(conn *websocket.Conn) {
	if c.IsConnected() {
		log.Warn().Msg("Received auth_required message from Home Assistant while already authenticated")
	}

	log.Info().Msg("Authenticating with Home Assistant")

	msg := AuthMessage{
		BaseMessage: BaseMessage{Type: MessageTypeAuth},
		AccessToken: c.token,
	}
	if err := c.write(conn, msg); err != nil {
		log.Err(err).Msg("Failed to send auth message to Home Assistant")
	}
}

// SetOnReconnect sets a callback run after a new connection is authenticated
// and its event subscriptions are restored. Events fired while disconnected
// are not replayed, so fn should reload whatever it derives from them.
func (c *Client) SetOnReconnect(fn func()) {
	c.mtx.Lock()
	c.onReconnect = fn
	c.mtx.Unlock()
}

func (c *Client) authenticated(version string) {
	c.mtx.Lock()
	c.version = version
	c.finishAuth(nil)
	generation := c.generation
	var onReconnect func()
	if generation > 1 {
		onReconnect = c.onReconnect
	}

	var stale []*subscription
	for _, sub := range c.subscriptions {
		if sub.generation < generation {
			stale = append(stale, sub)
		}
	}
	c.mtx.Unlock()

	metrics.HassConnectionStatus.Set(1)
	log.Info().Str("version", version).Msg("Authenticated with Home Assistant")

	if len(stale) == 0 && onReconnect == nil {
		return
	}
	go func() {
		if len(stale) > 0 {
			c.resubscribe(generation, stale)
		}
		if onReconnect != nil {
			onReconnect()
		}
	}()
}

func (c *Client) handleResult(id int, payload []byte) {
	if id == 0 {
		log.Warn().Msg("Received message from Home Assistant without an ID")
		return
	}

	c.mtx.Lock()
	resultc, ok := c.pending[id]
	delete(c.pending, id)
	c.mtx.Unlock()

	if !ok {
		log.Warn().Int("id", id).Msg("Received message from Home Assistant with an unknown ID")
		return
	}

	resultc <- payload
}

func (c *Client) handleEvent(id int, payload []byte) {
	c.mtx.Lock()
	sub := c.subscriptions[id]
	c.mtx.Unlock()

	if sub == nil {
		log.Debug().Int("id", id).Msg("Received event for an unknown subscription")
		return
	}

	var ev EventMessage
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Err(err).Int("id", id).Msg("Failed to decode event message")
		return
	}

	select {
	case sub.in <- &ev:
	case <-sub.ctx.Done():
	}
}

// Close closes the connection. Event subscriptions stay registered and are
// restored by a later Connect.
func (c *Client) Close() error {
	log.Info().Msg("Closing Home Assistant websocket connection")

	c.mtx.Lock()
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.authDone = nil
	c.authErr = nil
	c.failPending()
	c.mtx.Unlock()

	metrics.HassConnectionStatus.Set(0)

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	c.writeMtx.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMtx.Unlock()

	return conn.Close()
}
