// Package transport owns the single real-time push connection to the local
// aggregation endpoint. It negotiates capabilities on connect, routes tagged
// update messages to subscribed sessions, and reconnects with bounded
// exponential backoff; after exhausting attempts it stays closed until a
// manual retry.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/metrics"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/models"
)

// Message types on the push channel.
const (
	MsgTypeCapabilities = "capabilities"
	MsgTypeUpdate       = "update"
	MsgTypeDirectory    = "directory"
	MsgTypePing         = "ping"
	MsgTypePong         = "pong"
)

// Envelope is the wire format of every push-channel message.
type Envelope struct {
	Type      string          `json:"type"`
	Key       string          `json:"key,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Handler receives the payload of update messages for one subscription.
type Handler func(payload json.RawMessage)

// Config controls connection and reconnect behaviour.
type Config struct {
	// URL of the aggregation endpoint (http or ws scheme, without the
	// push-channel path).
	URL                  string
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	MaxReconnectAttempts int
	PollInterval         time.Duration
}

// Transport multiplexes one websocket connection to all sessions.
type Transport struct {
	mu  sync.Mutex
	cfg Config

	dialer *websocket.Dialer
	conn   *websocket.Conn
	// generation invalidates read loops of torn-down connections.
	generation int

	phase        models.TransportPhase
	attempts     int
	lastUpdate   time.Time
	pollInterval time.Duration

	caps          models.CapabilitySet
	capsPublished bool

	subs    map[string]map[string]Handler // key -> subscription id -> handler
	subKeys map[string]string             // subscription id -> key

	onPhase     func(models.TransportPhase)
	onDirectory func()

	ctx context.Context
}

// New creates a transport. Connect must be called to open the channel.
func New(cfg Config) *Transport {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Transport{
		cfg:          cfg,
		dialer:       websocket.DefaultDialer,
		phase:        models.TransportClosed,
		pollInterval: cfg.PollInterval,
		subs:         make(map[string]map[string]Handler),
		subKeys:      make(map[string]string),
	}
}

// OnPhaseChange registers the phase listener. The session manager uses it
// to switch every open session between push delivery and self-polling.
// Must be set before Connect.
func (t *Transport) OnPhaseChange(fn func(models.TransportPhase)) {
	t.mu.Lock()
	t.onPhase = fn
	t.mu.Unlock()
}

// OnDirectoryChanged registers the listener for broadcast directory
// messages. Must be set before Connect.
func (t *Transport) OnDirectoryChanged(fn func()) {
	t.mu.Lock()
	t.onDirectory = fn
	t.mu.Unlock()
}

// Connect opens the push channel. Dial failures enter the reconnect
// schedule rather than being returned; the ctx bounds the whole connection
// lifetime including reconnects.
func (t *Transport) Connect(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()

	t.dial()
}

// dial attempts one connection and hands it to the read loop.
func (t *Transport) dial() {
	t.setPhase(models.TransportConnecting)

	url := pushURL(t.cfg.URL)
	conn, _, err := t.dialer.Dial(url, nil)
	if err != nil {
		fmt.Printf("[Transport] Dial %s failed: %v\n", url, err)
		t.scheduleReconnect()
		return
	}

	// The first message must advertise the server's capability set.
	var hello Envelope
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != MsgTypeCapabilities {
		conn.Close()
		fmt.Printf("[Transport] Capability negotiation failed (type=%q err=%v)\n", hello.Type, err)
		t.scheduleReconnect()
		return
	}

	caps := models.CapabilitySet{}
	if len(hello.Payload) > 0 {
		if err := json.Unmarshal(hello.Payload, &caps); err != nil {
			fmt.Printf("[Transport] Ignoring malformed capability set: %v\n", err)
			caps = models.CapabilitySet{}
		}
	}

	t.mu.Lock()
	t.conn = conn
	t.generation++
	gen := t.generation
	t.attempts = 0
	t.lastUpdate = time.Now()
	if !t.capsPublished {
		t.caps = caps
		t.capsPublished = true
	}
	t.mu.Unlock()

	fmt.Printf("[Transport] Connected to %s (capabilities: %s)\n", url, capsString(caps))
	t.setPhase(models.TransportOpen)

	go t.readLoop(conn, gen)
}

// readLoop delivers messages until the connection breaks.
func (t *Transport) readLoop(conn *websocket.Conn, gen int) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.mu.Lock()
			stale := gen != t.generation
			t.mu.Unlock()
			if !stale {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("[Transport] Connection error: %v\n", err)
				}
				conn.Close()
				t.scheduleReconnect()
			}
			return
		}

		t.mu.Lock()
		t.lastUpdate = time.Now()
		t.mu.Unlock()

		switch env.Type {
		case MsgTypeUpdate:
			t.routeUpdate(env)
		case MsgTypeDirectory:
			t.mu.Lock()
			fn := t.onDirectory
			t.mu.Unlock()
			if fn != nil {
				fn()
			}
		case MsgTypePing:
			conn.WriteJSON(Envelope{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		default:
			// Unknown message types are skipped, not errors.
		}
	}
}

// routeUpdate delivers a tagged update only to subscriptions matching its
// key. A message for object A must never reach a session for object B.
func (t *Transport) routeUpdate(env Envelope) {
	t.mu.Lock()
	handlers := make([]Handler, 0, len(t.subs[env.Key]))
	for _, h := range t.subs[env.Key] {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	for _, h := range handlers {
		h(env.Payload)
	}
}

// scheduleReconnect applies exponential backoff, transitioning to closed
// once attempts are exhausted.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	if t.ctx != nil && t.ctx.Err() != nil {
		t.mu.Unlock()
		t.setPhase(models.TransportClosed)
		return
	}
	if t.attempts >= t.cfg.MaxReconnectAttempts {
		t.mu.Unlock()
		fmt.Printf("[Transport] Reconnect attempts exhausted (%d), staying closed until manual retry\n",
			t.cfg.MaxReconnectAttempts)
		t.setPhase(models.TransportClosed)
		return
	}
	delay := backoffDelay(t.cfg.BaseDelay, t.cfg.MaxDelay, t.attempts)
	t.attempts++
	attempt := t.attempts
	ctx := t.ctx
	t.mu.Unlock()

	metrics.ReconnectAttempts.Inc()
	t.setPhase(models.TransportDegraded)
	fmt.Printf("[Transport] Reconnecting in %v (attempt %d/%d)\n", delay, attempt, t.cfg.MaxReconnectAttempts)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			t.dial()
		case <-ctxDone(ctx):
			t.setPhase(models.TransportClosed)
		}
	}()
}

// Retry restarts the reconnect cycle after the transport has gone closed.
// It is the explicit manual action; automatic retries never resume on
// their own once attempts are exhausted.
func (t *Transport) Retry() {
	t.mu.Lock()
	if t.phase != models.TransportClosed {
		t.mu.Unlock()
		return
	}
	t.attempts = 0
	t.mu.Unlock()

	fmt.Printf("[Transport] Manual retry requested\n")
	t.dial()
}

// Subscribe routes update messages tagged with key to the handler. The
// returned handle releases the route when passed to Unsubscribe.
func (t *Transport) Subscribe(key string, h Handler) string {
	id := uuid.New().String()

	t.mu.Lock()
	if t.subs[key] == nil {
		t.subs[key] = make(map[string]Handler)
	}
	t.subs[key][id] = h
	t.subKeys[id] = key
	t.mu.Unlock()

	return id
}

// Unsubscribe drops routing for a handle. Unknown handles are a no-op.
func (t *Transport) Unsubscribe(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key, ok := t.subKeys[id]
	if !ok {
		return
	}
	delete(t.subKeys, id)
	delete(t.subs[key], id)
	if len(t.subs[key]) == 0 {
		delete(t.subs, key)
	}
}

// Phase returns the current transport phase.
func (t *Transport) Phase() models.TransportPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Capabilities returns the capability set published on the first connect.
func (t *Transport) Capabilities() models.CapabilitySet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.caps
}

// PollInterval returns the interval sessions use when they lack a live
// push channel.
func (t *Transport) PollInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pollInterval
}

// SetPollInterval updates the process-wide poll interval.
func (t *Transport) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	t.pollInterval = d
	t.mu.Unlock()
}

// Status returns the state backing the status indicator.
func (t *Transport) Status() models.TransportStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	var last int64
	if !t.lastUpdate.IsZero() {
		last = t.lastUpdate.UnixMilli()
	}
	return models.TransportStatus{
		Phase:             t.phase,
		LastUpdate:        last,
		ReconnectAttempts: t.attempts,
		PollIntervalMs:    int(t.pollInterval / time.Millisecond),
	}
}

// Close tears down the connection without scheduling a reconnect.
func (t *Transport) Close() {
	t.mu.Lock()
	t.generation++
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.setPhase(models.TransportClosed)
}

// setPhase records a transition and notifies the listener outside the lock.
func (t *Transport) setPhase(p models.TransportPhase) {
	t.mu.Lock()
	if t.phase == p {
		t.mu.Unlock()
		return
	}
	t.phase = p
	t.lastUpdate = time.Now()
	listener := t.onPhase
	t.mu.Unlock()

	if listener != nil {
		listener(p)
	}
}

// backoffDelay computes min(base * 2^attempt, max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// pushURL converts the aggregation endpoint base URL into the websocket
// push-channel URL.
func pushURL(base string) string {
	u := base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimSuffix(u, "/") + "/api/ws/updates"
}

func capsString(caps models.CapabilitySet) string {
	if len(caps) == 0 {
		return "none"
	}
	names := make([]string, 0, len(caps))
	for name, on := range caps {
		if on {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

func ctxDone(ctx context.Context) <-chan struct{} {
	if ctx == nil {
		return nil
	}
	return ctx.Done()
}
