package whatsnep

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Format
// ============================================================================

// Envelope is the wire format for all server-pushed events.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server frame.
type Command struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"requestId,omitempty"`
}

// ConnectedPayload is the first event on a fresh connection.
type ConnectedPayload struct {
	UserID string `json:"user_id"`
}

// PongPayload is the response to a ping command.
type PongPayload struct {
	RequestID string `json:"requestId"`
}

// channelFor maps a conversation to its broadcast channel id.
func channelFor(conversationID string) string {
	return "conversation:" + conversationID
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime client.
type RealtimeConfig struct {
	Token                string
	UserID               string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

type eventDispatcher struct {
	mu             sync.RWMutex
	onMessage      []func(Message)
	onUser         []func(User)
	onTyping       []func(TypingSignal)
	onConnected    []func()
	onDisconnected []func(int, string)
	onReconnecting []func(int, time.Duration)
}

// dispatch runs typed handlers synchronously on the read loop so events are
// applied in delivery order.
func (d *eventDispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case "message.inserted":
		var m Message
		if json.Unmarshal(env.Payload, &m) == nil {
			for _, h := range d.onMessage {
				h(m)
			}
		}
	case "user.updated":
		var u User
		if json.Unmarshal(env.Payload, &u) == nil {
			for _, h := range d.onUser {
				h(u)
			}
		}
	case "typing":
		var sig TypingSignal
		if json.Unmarshal(env.Payload, &sig) == nil {
			for _, h := range d.onTyping {
				h(sig)
			}
		}
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (d *eventDispatcher) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := append([]func(int, string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(code, reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient implements Transport over a WebSocket with auto-reconnect
// and heartbeat. Joined conversation channels are re-joined after a
// reconnect.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc
	joined           map[string]bool

	dispatcher *eventDispatcher
	recon      *reconnector

	pingCounter  int
	pendingPings map[string]chan PongPayload
	pendingMu    sync.Mutex
}

var _ Transport = (*RealtimeClient)(nil)

// NewRealtimeClient creates a realtime client for the given base URL. Call
// Connect to establish the connection.
func NewRealtimeClient(baseURL string, config *RealtimeConfig) *RealtimeClient {
	cfg := *config
	cfg.defaults()
	return &RealtimeClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		config:       &cfg,
		state:        StateDisconnected,
		joined:       make(map[string]bool),
		dispatcher:   &eventDispatcher{},
		recon:        newReconnector(&cfg),
		pendingPings: make(map[string]chan PongPayload),
	}
}

// OnMessageInserted registers a handler for persisted-message events.
func (ws *RealtimeClient) OnMessageInserted(h func(Message)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onMessage = append(ws.dispatcher.onMessage, h)
	ws.dispatcher.mu.Unlock()
}

// OnUserUpdated registers a handler for user-record events.
func (ws *RealtimeClient) OnUserUpdated(h func(User)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onUser = append(ws.dispatcher.onUser, h)
	ws.dispatcher.mu.Unlock()
}

// OnBroadcast registers a handler for typing signals on joined channels.
func (ws *RealtimeClient) OnBroadcast(h func(TypingSignal)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onTyping = append(ws.dispatcher.onTyping, h)
	ws.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (ws *RealtimeClient) OnConnected(h func()) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onConnected = append(ws.dispatcher.onConnected, h)
	ws.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (ws *RealtimeClient) OnDisconnected(h func(code int, reason string)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onDisconnected = append(ws.dispatcher.onDisconnected, h)
	ws.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (ws *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onReconnecting = append(ws.dispatcher.onReconnecting, h)
	ws.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (ws *RealtimeClient) State() RealtimeState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Connect establishes the WebSocket connection and waits for the server's
// connected handshake.
func (ws *RealtimeClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.state == StateConnected || ws.state == StateConnecting {
		ws.mu.Unlock()
		return nil
	}
	ws.state = StateConnecting
	ws.intentionalClose = false
	ws.mu.Unlock()

	wsURL := strings.Replace(ws.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + ws.config.Token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		ws.setState(StateDisconnected)
		return &RemoteUnavailableError{Op: "subscribe", Err: err}
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		ws.setState(StateDisconnected)
		return &RemoteUnavailableError{Op: "subscribe", Err: err}
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "connected" {
		conn.Close(websocket.StatusNormalClosure, "")
		ws.setState(StateDisconnected)
		return &RemoteUnavailableError{Op: "subscribe", Err: fmt.Errorf("expected 'connected', got %q", env.Type)}
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.state = StateConnected
	rejoin := make([]string, 0, len(ws.joined))
	for id := range ws.joined {
		rejoin = append(rejoin, id)
	}
	ws.mu.Unlock()
	ws.recon.markConnected()

	ws.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(context.Background())
	ws.mu.Lock()
	ws.cancelFn = cancel
	ws.mu.Unlock()

	for _, id := range rejoin {
		_ = ws.send(ctx, &Command{Type: "join", Payload: map[string]string{"channel": channelFor(id)}})
	}

	go ws.readLoop(connCtx)
	go ws.heartbeatLoop(connCtx)

	return nil
}

// Close gracefully closes the connection.
func (ws *RealtimeClient) Close() error {
	ws.mu.Lock()
	ws.intentionalClose = true
	if ws.cancelFn != nil {
		ws.cancelFn()
		ws.cancelFn = nil
	}
	conn := ws.conn
	ws.conn = nil
	ws.state = StateDisconnected
	ws.mu.Unlock()

	ws.clearPendingPings()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// JoinConversation subscribes to the conversation's broadcast channel.
func (ws *RealtimeClient) JoinConversation(ctx context.Context, conversationID string) error {
	ws.mu.Lock()
	ws.joined[conversationID] = true
	ws.mu.Unlock()
	return ws.send(ctx, &Command{
		Type:    "join",
		Payload: map[string]string{"channel": channelFor(conversationID)},
	})
}

// LeaveConversation unsubscribes from the conversation's broadcast channel.
func (ws *RealtimeClient) LeaveConversation(ctx context.Context, conversationID string) error {
	ws.mu.Lock()
	delete(ws.joined, conversationID)
	ws.mu.Unlock()
	return ws.send(ctx, &Command{
		Type:    "leave",
		Payload: map[string]string{"channel": channelFor(conversationID)},
	})
}

// Broadcast publishes a typing signal on the signal's conversation channel.
func (ws *RealtimeClient) Broadcast(ctx context.Context, sig TypingSignal) error {
	return ws.send(ctx, &Command{
		Type: "broadcast",
		Payload: map[string]interface{}{
			"channel": channelFor(sig.ConversationID),
			"signal":  sig,
		},
	})
}

// Ping sends a ping and waits for the matching pong.
func (ws *RealtimeClient) Ping(ctx context.Context) (*PongPayload, error) {
	ws.pendingMu.Lock()
	ws.pingCounter++
	requestID := fmt.Sprintf("ping-%d", ws.pingCounter)
	ch := make(chan PongPayload, 1)
	ws.pendingPings[requestID] = ch
	ws.pendingMu.Unlock()

	err := ws.send(ctx, &Command{
		Type:    "ping",
		Payload: map[string]string{"requestId": requestID},
	})
	if err != nil {
		ws.dropPendingPing(requestID)
		return nil, err
	}

	select {
	case pong, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection closed")
		}
		return &pong, nil
	case <-time.After(10 * time.Second):
		ws.dropPendingPing(requestID)
		return nil, fmt.Errorf("ping timeout")
	case <-ctx.Done():
		ws.dropPendingPing(requestID)
		return nil, ctx.Err()
	}
}

func (ws *RealtimeClient) send(ctx context.Context, cmd *Command) error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()

	if conn == nil {
		return &RemoteUnavailableError{Op: "broadcast", Err: fmt.Errorf("not connected")}
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (ws *RealtimeClient) readLoop(ctx context.Context) {
	for {
		ws.mu.Lock()
		conn := ws.conn
		ws.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			intentional := ws.intentionalClose
			ws.mu.Unlock()
			if intentional {
				return
			}

			ws.mu.Lock()
			ws.state = StateDisconnected
			ws.conn = nil
			ws.mu.Unlock()
			ws.clearPendingPings()

			ws.dispatcher.emitDisconnected(0, err.Error())

			if ws.config.AutoReconnect && ws.recon.shouldReconnect() {
				ws.scheduleReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		if env.Type == "pong" {
			var p PongPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.RequestID != "" {
				ws.pendingMu.Lock()
				ch, ok := ws.pendingPings[p.RequestID]
				if ok {
					delete(ws.pendingPings, p.RequestID)
				}
				ws.pendingMu.Unlock()
				if ok {
					ch <- p
				}
			}
			continue
		}

		ws.dispatcher.dispatch(env)
	}
}

func (ws *RealtimeClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ws.State() != StateConnected {
				return
			}
			if _, err := ws.Ping(ctx); err != nil {
				// Heartbeat failed; force the read loop to notice.
				ws.mu.Lock()
				conn := ws.conn
				ws.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (ws *RealtimeClient) scheduleReconnect() {
	delay := ws.recon.nextDelay()
	ws.setState(StateReconnecting)

	ws.dispatcher.emitReconnecting(ws.recon.attempt, delay)

	time.Sleep(delay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := ws.Connect(ctx)
	cancel()
	if err != nil {
		if ws.config.AutoReconnect && ws.recon.shouldReconnect() {
			ws.scheduleReconnect()
		} else {
			ws.setState(StateDisconnected)
		}
	}
}

func (ws *RealtimeClient) setState(s RealtimeState) {
	ws.mu.Lock()
	ws.state = s
	ws.mu.Unlock()
}

func (ws *RealtimeClient) clearPendingPings() {
	ws.pendingMu.Lock()
	for k, ch := range ws.pendingPings {
		close(ch)
		delete(ws.pendingPings, k)
	}
	ws.pendingMu.Unlock()
}

func (ws *RealtimeClient) dropPendingPing(requestID string) {
	ws.pendingMu.Lock()
	delete(ws.pendingPings, requestID)
	ws.pendingMu.Unlock()
}
