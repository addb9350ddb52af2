package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/deebot-t8/deebot-t8-go/pkg/api"
	"github.com/deebot-t8/deebot-t8-go/pkg/auth"
)

// Subscription errors.
var (
	// ErrConnectFailed indicates the broker connection could not be
	// established. The caller may retry.
	ErrConnectFailed = errors.New("broker connection failed")

	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("subscription client closed")

	// ErrNotSubscribed indicates the subscription is not registered.
	ErrNotSubscribed = errors.New("not subscribed")
)

// State represents the broker connection state.
type State uint8

const (
	// StateDisconnected indicates no connection and no pending attempt.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the client has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// MessageHandler receives decoded device events. body is the raw JSON
// message body ({"data": ...}); command is the event name from the
// topic. Handlers run on the broker receive path and must not block.
type MessageHandler func(command string, body []byte)

// CredentialSource supplies portal credentials at connect time. It is
// satisfied by *auth.Authenticator.
type CredentialSource interface {
	Authenticate(ctx context.Context, force bool) (auth.Credentials, error)
}

// Subscription pairs one device with one message handler. It is created
// by Subscribe and passed back to Unsubscribe.
type Subscription struct {
	id      uint64
	device  api.Device
	handler MessageHandler
}

// Device returns the device this subscription is scoped to.
func (s *Subscription) Device() api.Device { return s.device }

// Config configures a subscription Client.
type Config struct {
	// Continent selects the broker host (mq-{continent}.ecouser.net).
	Continent string

	// DeviceID is the client device id; its short form is embedded in
	// the MQTT client id.
	DeviceID string

	// Credentials supplies portal credentials at connect time. They are
	// not cached beyond the connection attempt.
	Credentials CredentialSource

	// Backoff customizes reconnection timing.
	Backoff BackoffConfig

	// BrokerURL overrides the derived broker URL. Intended for tests.
	BrokerURL string

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Client owns the shared broker connection and the per-device
// subscription registry. It is safe for concurrent use.
type Client struct {
	continent   string
	deviceID    string
	credentials CredentialSource
	brokerURL   string
	logger      *slog.Logger

	// dial establishes broker sessions; overridable for tests.
	dial dialFunc

	// connMu serializes connection attempts so that concurrent
	// Subscribe calls cannot dial twice and leak a session.
	connMu sync.Mutex

	mu           sync.Mutex
	state        State
	session      brokerSession
	subs         []*Subscription
	nextID       uint64
	reconnecting bool

	backoff *backoff
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewClient creates a subscription client. No connection is made until
// the first Subscribe call.
func NewClient(config Config) *Client {
	brokerURL := config.BrokerURL
	if brokerURL == "" {
		// "na" serves the US; "ww" is the world-wide fallback.
		brokerURL = fmt.Sprintf("ssl://mq-%s.ecouser.net:8883", config.Continent)
	}

	return &Client{
		continent:   config.Continent,
		deviceID:    config.DeviceID,
		credentials: config.Credentials,
		brokerURL:   brokerURL,
		logger:      config.Logger,
		dial:        dialMQTT,
		state:       StateDisconnected,
		backoff:     newBackoff(config.Backoff),
		closeCh:     make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers a handler for a device's events, establishing the
// broker connection first if none exists. On connection failure the
// registration is rolled back and an error wrapping ErrConnectFailed is
// returned; the caller may retry.
func (c *Client) Subscribe(ctx context.Context, device api.Device, handler MessageHandler) (*Subscription, error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	c.nextID++
	sub := &Subscription{id: c.nextID, device: device, handler: handler}
	c.subs = append(c.subs, sub)

	needConnect := c.state == StateDisconnected || c.state == StateConnecting
	firstForDevice := c.countForDeviceLocked(device.ID) == 1
	session := c.session
	connected := c.state == StateConnected
	c.mu.Unlock()

	if needConnect {
		if err := c.connect(ctx); err != nil {
			c.removeSub(sub)
			return nil, err
		}
		// connect re-issues every registered filter, including this one.
		return sub, nil
	}

	if connected && firstForDevice {
		if err := session.Subscribe(deviceFilter(device)); err != nil {
			c.removeSub(sub)
			return nil, fmt.Errorf("%w: subscribe %s: %w", ErrConnectFailed, device.ShortID, err)
		}
	}
	return sub, nil
}

// Unsubscribe removes a subscription. When the last subscription for a
// device is removed its topic filter is released; when no subscriptions
// remain at all the broker connection is torn down.
func (c *Client) Unsubscribe(sub *Subscription) error {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s.id == sub.id {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return ErrNotSubscribed
	}

	lastForDevice := c.countForDeviceLocked(sub.device.ID) == 0
	empty := len(c.subs) == 0
	session := c.session
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected && lastForDevice && !empty {
		if err := session.Unsubscribe(deviceFilter(sub.device)); err != nil {
			c.warnLog("unsubscribe failed", "device", sub.device.ShortID, "error", err)
		}
	}
	if empty {
		c.teardown()
	}
	return nil
}

// Close shuts the client down, releasing the broker connection and
// stopping any reconnection in progress. The client cannot be reused.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	session := c.session
	c.session = nil
	c.subs = nil
	c.mu.Unlock()

	close(c.closeCh)
	if session != nil {
		session.Disconnect()
	}
	c.wg.Wait()
}

// countForDeviceLocked counts registered subscriptions for a device id.
// Caller must hold c.mu.
func (c *Client) countForDeviceLocked(deviceID string) int {
	n := 0
	for _, s := range c.subs {
		if s.device.ID == deviceID {
			n++
		}
	}
	return n
}

func (c *Client) removeSub(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.subs {
		if s.id == sub.id {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// connect establishes the broker session and re-issues the topic filter
// for every device with at least one registered subscription. It is
// safe to call with zero registered devices. Attempts are serialized on
// connMu; a caller that lost the race to a concurrent attempt returns
// nil once that attempt has connected, since the winner's filter
// snapshot already covers every registered subscription.
func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	c.state = StateConnecting
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	// Credentials are fetched fresh for every attempt, never cached
	// here: reconnects after a token renewal must pick up the new token.
	creds, err := c.credentials.Authenticate(ctx, false)
	if err != nil {
		return fail(err)
	}

	c.debugLog("connecting", "broker", c.brokerURL, "previousState", prev.String())

	session, err := c.dial(sessionConfig{
		URL:       c.brokerURL,
		ClientID:  fmt.Sprintf("%s@%s/%s", creds.UserID, realmPrefix(), shortID(c.deviceID)),
		Username:  creds.UserID + "@" + auth.Realm,
		Password:  creds.AccessToken,
		OnMessage: c.handleMessage,
		OnLost:    c.handleConnectionLost,
	})
	if err != nil {
		return fail(err)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		session.Disconnect()
		return ErrClosed
	}
	c.session = session
	c.state = StateConnected
	c.backoff.reset()

	seen := make(map[string]bool)
	filters := make([]string, 0, len(c.subs))
	for _, s := range c.subs {
		f := deviceFilter(s.device)
		if !seen[f] {
			seen[f] = true
			filters = append(filters, f)
		}
	}
	c.mu.Unlock()

	// Subscribing after every connect means filters are renewed when a
	// lost connection is re-established.
	for _, f := range filters {
		if err := session.Subscribe(f); err != nil {
			c.warnLog("topic subscription failed", "filter", f, "error", err)
		}
	}

	c.debugLog("connected", "filters", len(filters))
	return nil
}

// handleConnectionLost reacts to an established session dropping.
func (c *Client) handleConnectionLost(err error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.session = nil
	if len(c.subs) == 0 {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	alreadyRunning := c.reconnecting
	c.reconnecting = true
	c.mu.Unlock()

	c.warnLog("connection lost", "error", err)

	if !alreadyRunning {
		c.wg.Add(1)
		go c.reconnectLoop()
	}
}

// reconnectLoop retries the connection with backoff until it succeeds,
// the client closes, or no subscriptions remain.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		delay := c.backoff.next()
		c.debugLog("reconnecting", "attempt", c.backoff.attemptCount(), "delay", delay)

		select {
		case <-c.closeCh:
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		if c.state != StateReconnecting || len(c.subs) == 0 {
			if c.state == StateReconnecting {
				c.state = StateDisconnected
			}
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err := c.connect(context.Background()); err != nil {
			c.warnLog("reconnect attempt failed", "error", err)
			c.mu.Lock()
			if c.state == StateDisconnected {
				c.state = StateReconnecting
			}
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
		return
	}
}

// teardown drops the broker connection once no subscriptions remain.
func (c *Client) teardown() {
	c.mu.Lock()
	if c.state != StateConnected && c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	session := c.session
	c.session = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if session != nil {
		session.Disconnect()
	}
	c.debugLog("disconnected, no subscriptions remain")
}

// handleMessage decodes one inbound broker message and dispatches it to
// the handlers registered for the topic's device. Malformed topics and
// bodies are dropped with a logged warning; messages for devices with no
// registered handler are discarded.
func (c *Client) handleMessage(topic string, payload []byte) {
	info, ok := parseTopic(topic)
	if !ok {
		c.warnLog("dropping message with unparsable topic", "topic", topic)
		return
	}

	var envelope struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Body == nil {
		c.warnLog("dropping message with malformed payload", "topic", topic)
		return
	}

	c.mu.Lock()
	handlers := make([]MessageHandler, 0, 1)
	for _, s := range c.subs {
		if s.device.ID == info.DeviceID {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()

	if len(handlers) == 0 {
		c.debugLog("discarding message for unsubscribed device", "deviceId", info.DeviceID)
		return
	}

	for _, handler := range handlers {
		handler(info.Command, envelope.Body)
	}
}

func realmPrefix() string {
	return strings.SplitN(auth.Realm, ".", 2)[0]
}

func shortID(deviceID string) string {
	if len(deviceID) > 8 {
		return deviceID[:8]
	}
	return deviceID
}

func (c *Client) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) warnLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
