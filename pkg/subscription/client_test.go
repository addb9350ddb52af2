package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deebot-t8/deebot-t8-go/pkg/api"
	"github.com/deebot-t8/deebot-t8-go/pkg/auth"
)

type fakeCredentials struct {
	mu    sync.Mutex
	creds auth.Credentials
	err   error
	calls int
}

func (f *fakeCredentials) Authenticate(ctx context.Context, force bool) (auth.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.creds, f.err
}

// fakeSession records filter operations and lets tests inject messages
// and connection loss.
type fakeSession struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	disconnected bool
	subscribeErr error

	cfg sessionConfig
}

func (f *fakeSession) Subscribe(filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = append(f.subscribed, filter)
	return nil
}

func (f *fakeSession) Unsubscribe(filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, filter)
	return nil
}

func (f *fakeSession) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeSession) filters() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func (f *fakeSession) isDisconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

// deliver pushes a broker message through the session's receive path.
func (f *fakeSession) deliver(topic string, payload []byte) {
	f.cfg.OnMessage(topic, payload)
}

type testHarness struct {
	client   *Client
	sessions []*fakeSession
	dials    int
	dialErr  error
	mu       sync.Mutex
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{}
	h.client = NewClient(Config{
		Continent:   "eu",
		DeviceID:    "0123456789abcdef",
		Credentials: &fakeCredentials{creds: auth.Credentials{AccessToken: "tok", UserID: "uid"}},
		Backoff:     BackoffConfig{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2.0, Jitter: 0},
	})
	h.client.dial = func(cfg sessionConfig) (brokerSession, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.dials++
		if h.dialErr != nil {
			return nil, h.dialErr
		}
		s := &fakeSession{cfg: cfg}
		h.sessions = append(h.sessions, s)
		return s, nil
	}
	return h
}

func (h *testHarness) currentSession(t *testing.T) *fakeSession {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) == 0 {
		t.Fatal("no session established")
	}
	return h.sessions[len(h.sessions)-1]
}

func (h *testHarness) dialCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

var (
	deviceA = api.Device{ID: "did-a", ShortID: "E000A", Class: "55aiho", Resource: "atom"}
	deviceB = api.Device{ID: "did-b", ShortID: "E000B", Class: "55aiho", Resource: "atom"}
)

func TestSubscribeConnectsLazily(t *testing.T) {
	h := newHarness(t)
	defer h.client.Close()

	if h.client.State() != StateDisconnected {
		t.Errorf("initial state = %v, want DISCONNECTED", h.client.State())
	}
	if h.dialCount() != 0 {
		t.Error("should not connect before the first Subscribe")
	}

	_, err := h.client.Subscribe(context.Background(), deviceA, func(string, []byte) {})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if h.client.State() != StateConnected {
		t.Errorf("state = %v, want CONNECTED", h.client.State())
	}
	if h.dialCount() != 1 {
		t.Errorf("dials = %d, want 1", h.dialCount())
	}

	filters := h.currentSession(t).filters()
	if len(filters) != 1 || filters[0] != deviceFilter(deviceA) {
		t.Errorf("unexpected filters: %v", filters)
	}
}

func TestSubscribeSharesConnection(t *testing.T) {
	h := newHarness(t)
	defer h.client.Close()

	ctx := context.Background()
	if _, err := h.client.Subscribe(ctx, deviceA, func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := h.client.Subscribe(ctx, deviceA, func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := h.client.Subscribe(ctx, deviceB, func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if h.dialCount() != 1 {
		t.Errorf("dials = %d, want 1 shared connection", h.dialCount())
	}

	// One filter per device, not per subscription.
	filters := h.currentSession(t).filters()
	if len(filters) != 2 {
		t.Errorf("filters = %v, want one per device", filters)
	}
}

func TestConcurrentFirstSubscribeDialsOnce(t *testing.T) {
	h := newHarness(t)
	defer h.client.Close()

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	inner := h.client.dial
	h.client.dial = func(cfg sessionConfig) (brokerSession, error) {
		entered <- struct{}{}
		<-release
		return inner(cfg)
	}

	ctx := context.Background()
	errs := make(chan error, 2)
	go func() {
		_, err := h.client.Subscribe(ctx, deviceA, func(string, []byte) {})
		errs <- err
	}()

	// Start the second subscription while the first is mid-dial.
	<-entered
	go func() {
		_, err := h.client.Subscribe(ctx, deviceB, func(string, []byte) {})
		errs <- err
	}()
	time.Sleep(5 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	if h.dialCount() != 1 {
		t.Fatalf("dials = %d, want exactly one session", h.dialCount())
	}
	if h.client.State() != StateConnected {
		t.Errorf("state = %v, want CONNECTED", h.client.State())
	}

	filters := h.currentSession(t).filters()
	seen := make(map[string]bool)
	for _, f := range filters {
		seen[f] = true
	}
	if !seen[deviceFilter(deviceA)] || !seen[deviceFilter(deviceB)] {
		t.Errorf("filters = %v, want both device filters", filters)
	}
}

func TestSubscribeConnectFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.dialErr = errors.New("broker unreachable")

	_, err := h.client.Subscribe(context.Background(), deviceA, func(string, []byte) {})
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
	if h.client.State() != StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", h.client.State())
	}

	// The failed registration must not linger: a later successful
	// Subscribe starts from a clean registry.
	h.dialErr = nil
	if _, err := h.client.Subscribe(context.Background(), deviceA, func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe after recovery failed: %v", err)
	}
	filters := h.currentSession(t).filters()
	if len(filters) != 1 {
		t.Errorf("filters = %v, want exactly one", filters)
	}
	h.client.Close()
}

func TestCredentialFailureFailsSubscribe(t *testing.T) {
	h := newHarness(t)
	h.client.credentials = &fakeCredentials{err: errors.New("auth down")}

	_, err := h.client.Subscribe(context.Background(), deviceA, func(string, []byte) {})
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("expected ErrConnectFailed, got %v", err)
	}
	if h.dialCount() != 0 {
		t.Error("should not dial without credentials")
	}
}

func TestSessionIdentity(t *testing.T) {
	h := newHarness(t)
	defer h.client.Close()

	if _, err := h.client.Subscribe(context.Background(), deviceA, func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	cfg := h.currentSession(t).cfg
	if cfg.ClientID != "uid@ecouser/01234567" {
		t.Errorf("ClientID = %s", cfg.ClientID)
	}
	if cfg.Username != "uid@ecouser.net" {
		t.Errorf("Username = %s", cfg.Username)
	}
	if cfg.Password != "tok" {
		t.Errorf("Password = %s", cfg.Password)
	}
	if cfg.URL != "ssl://mq-eu.ecouser.net:8883" {
		t.Errorf("URL = %s", cfg.URL)
	}
}

func TestUnsubscribeReleasesFilterAndConnection(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	subA1, _ := h.client.Subscribe(ctx, deviceA, func(string, []byte) {})
	subA2, _ := h.client.Subscribe(ctx, deviceA, func(string, []byte) {})
	subB, _ := h.client.Subscribe(ctx, deviceB, func(string, []byte) {})
	session := h.currentSession(t)

	// Removing one of two handlers for a device keeps its filter.
	if err := h.client.Unsubscribe(subA1); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if len(session.unsubscribed) != 0 {
		t.Errorf("filter released too early: %v", session.unsubscribed)
	}

	// Removing the last handler for a device releases its filter.
	if err := h.client.Unsubscribe(subA2); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if len(session.unsubscribed) != 1 || session.unsubscribed[0] != deviceFilter(deviceA) {
		t.Errorf("unexpected released filters: %v", session.unsubscribed)
	}

	// Removing the final subscription drops the connection.
	if err := h.client.Unsubscribe(subB); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if !session.isDisconnected() {
		t.Error("expected disconnect after last unsubscribe")
	}
	if h.client.State() != StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", h.client.State())
	}

	// A second Unsubscribe for the same subscription fails.
	if err := h.client.Unsubscribe(subB); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("expected ErrNotSubscribed, got %v", err)
	}
}

func TestMessageDispatch(t *testing.T) {
	h := newHarness(t)
	defer h.client.Close()

	type received struct {
		command string
		body    string
	}
	var mu sync.Mutex
	var got []received

	_, err := h.client.Subscribe(context.Background(), deviceA, func(command string, body []byte) {
		mu.Lock()
		got = append(got, received{command, string(body)})
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	session := h.currentSession(t)

	session.deliver(
		fmt.Sprintf("iot/atr/onBattery/%s/%s/%s/j", deviceA.ID, deviceA.Class, deviceA.Resource),
		[]byte(`{"header":{"pri":1},"body":{"data":{"value":95}}}`),
	)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].command != "onBattery" {
		t.Errorf("command = %s, want onBattery", got[0].command)
	}
	if got[0].body != `{"data":{"value":95}}` {
		t.Errorf("body = %s", got[0].body)
	}
}

func TestMessageDispatchDropsMalformed(t *testing.T) {
	h := newHarness(t)
	defer h.client.Close()

	var mu sync.Mutex
	delivered := 0
	_, err := h.client.Subscribe(context.Background(), deviceA, func(string, []byte) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	session := h.currentSession(t)

	// Unparsable topic.
	session.deliver("garbage/topic", []byte(`{"body":{"data":{}}}`))
	// Invalid JSON payload.
	session.deliver("iot/atr/onBattery/did-a/55aiho/atom/j", []byte(`{{{`))
	// Missing body.
	session.deliver("iot/atr/onBattery/did-a/55aiho/atom/j", []byte(`{"header":{}}`))
	// Message for a device nobody subscribed to.
	session.deliver("iot/atr/onBattery/did-other/55aiho/atom/j", []byte(`{"body":{"data":{}}}`))

	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Errorf("expected no deliveries, got %d", delivered)
	}
}

func TestReconnectResubscribes(t *testing.T) {
	h := newHarness(t)
	defer h.client.Close()

	if _, err := h.client.Subscribe(context.Background(), deviceA, func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	first := h.currentSession(t)

	first.cfg.OnLost(errors.New("broken pipe"))

	// The reconnect loop runs with millisecond backoff; wait for the new
	// session to appear.
	deadline := time.After(time.Second)
	for h.client.State() != StateConnected {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for reconnect")
		case <-time.After(time.Millisecond):
		}
	}

	if h.dialCount() != 2 {
		t.Errorf("dials = %d, want 2", h.dialCount())
	}
	second := h.currentSession(t)
	if second == first {
		t.Fatal("expected a fresh session")
	}

	filters := second.filters()
	if len(filters) != 1 || filters[0] != deviceFilter(deviceA) {
		t.Errorf("reconnect should re-issue filters, got %v", filters)
	}
}

func TestReconnectRetriesWithBackoff(t *testing.T) {
	h := newHarness(t)
	defer h.client.Close()

	if _, err := h.client.Subscribe(context.Background(), deviceA, func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	first := h.currentSession(t)

	// Fail the next dial attempts, then let one succeed.
	h.mu.Lock()
	h.dialErr = errors.New("still down")
	h.mu.Unlock()

	first.cfg.OnLost(errors.New("broken pipe"))

	time.Sleep(20 * time.Millisecond)
	h.mu.Lock()
	failedDials := h.dials
	h.dialErr = nil
	h.mu.Unlock()

	if failedDials < 2 {
		t.Errorf("expected repeated dial attempts, got %d", failedDials)
	}

	deadline := time.After(time.Second)
	for h.client.State() != StateConnected {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for reconnect")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestCloseStopsClient(t *testing.T) {
	h := newHarness(t)

	if _, err := h.client.Subscribe(context.Background(), deviceA, func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	session := h.currentSession(t)

	h.client.Close()

	if !session.isDisconnected() {
		t.Error("expected session disconnect on Close")
	}
	if h.client.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", h.client.State())
	}

	if _, err := h.client.Subscribe(context.Background(), deviceA, func(string, []byte) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Close is idempotent.
	h.client.Close()
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateReconnecting, "RECONNECTING"},
		{StateClosed, "CLOSED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
