package whatsnep

import (
	"context"
	"sync"
	"time"
)

// Default typing windows. The receiver expiry is deliberately longer than the
// sender debounce to absorb delivery jitter on the lossy broadcast channel.
const (
	DefaultTypingDebounce = 2 * time.Second
	DefaultTypingExpiry   = 2500 * time.Millisecond
)

// ============================================================================
// TypingBroker
// ============================================================================

// TypingBroker sends and receives ephemeral typing signals for the active
// conversation. Signals are lossy hints: the sender debounces keystrokes into
// start/stop broadcasts, and the receiver times out any "typing" state rather
// than trusting a clearing signal to arrive. One typist slot is modeled per
// conversation.
//
// Timer callbacks fire on their own goroutines, so the broker carries its own
// lock. Both timers hold cancellation handles and are stopped whenever the
// owning conversation or session goes away.
type TypingBroker struct {
	mu        sync.Mutex
	transport Transport
	self      User
	debounce  time.Duration
	expiry    time.Duration

	conversationID string
	selfTyping     bool
	stopTimer      *time.Timer

	typist      string
	expireTimer *time.Timer

	closed bool
}

// NewTypingBroker returns a broker broadcasting as the given user.
func NewTypingBroker(transport Transport, self User, debounce, expiry time.Duration) *TypingBroker {
	if debounce <= 0 {
		debounce = DefaultTypingDebounce
	}
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingBroker{
		transport: transport,
		self:      self,
		debounce:  debounce,
		expiry:    expiry,
	}
}

// SetConversation retargets the broker at a new active conversation. Any
// in-flight timers and indicator state for the previous conversation are
// discarded without broadcasting.
func (b *TypingBroker) SetConversation(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelTimersLocked()
	b.conversationID = conversationID
	b.selfTyping = false
	b.typist = ""
}

// KeyPressed records one keystroke: the first keystroke broadcasts a start
// signal, every keystroke pushes the inactivity stop further out.
func (b *TypingBroker) KeyPressed(ctx context.Context) {
	b.mu.Lock()
	if b.closed || b.conversationID == "" {
		b.mu.Unlock()
		return
	}
	first := !b.selfTyping
	b.selfTyping = true
	if b.stopTimer != nil {
		b.stopTimer.Stop()
	}
	b.stopTimer = time.AfterFunc(b.debounce, b.stopSelf)
	conv := b.conversationID
	b.mu.Unlock()

	if first {
		_ = b.transport.Broadcast(ctx, b.signal(conv, true))
	}
}

// StopTyping force-clears the local typing state, broadcasting a stop signal
// if one was outstanding. Called on message send.
func (b *TypingBroker) StopTyping(ctx context.Context) {
	b.mu.Lock()
	if b.stopTimer != nil {
		b.stopTimer.Stop()
		b.stopTimer = nil
	}
	wasTyping := b.selfTyping
	b.selfTyping = false
	conv := b.conversationID
	b.mu.Unlock()

	if wasTyping && conv != "" {
		_ = b.transport.Broadcast(ctx, b.signal(conv, false))
	}
}

// HandleSignal applies a received broadcast. Signals from the local user or
// for another conversation are ignored. A start signal arms (or re-arms) the
// expiry timer; absence of a stop signal is equivalent to expiry.
func (b *TypingBroker) HandleSignal(sig TypingSignal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || sig.UserID == b.self.ID || sig.ConversationID != b.conversationID {
		return
	}
	if !sig.Typing {
		b.typist = ""
		if b.expireTimer != nil {
			b.expireTimer.Stop()
			b.expireTimer = nil
		}
		return
	}
	b.typist = sig.Username
	if b.expireTimer != nil {
		b.expireTimer.Stop()
	}
	b.expireTimer = time.AfterFunc(b.expiry, b.expireTypist)
}

// Typist returns the username currently typing in the active conversation,
// or "" when nobody is.
func (b *TypingBroker) Typist() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.typist
}

// Close cancels all timers. No further broadcasts are sent: the remote side
// expires stale signals on its own.
func (b *TypingBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cancelTimersLocked()
	b.selfTyping = false
	b.typist = ""
}

func (b *TypingBroker) stopSelf() {
	b.mu.Lock()
	if b.closed || !b.selfTyping {
		b.mu.Unlock()
		return
	}
	b.selfTyping = false
	conv := b.conversationID
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = b.transport.Broadcast(ctx, b.signal(conv, false))
}

func (b *TypingBroker) expireTypist() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typist = ""
	b.expireTimer = nil
}

func (b *TypingBroker) cancelTimersLocked() {
	if b.stopTimer != nil {
		b.stopTimer.Stop()
		b.stopTimer = nil
	}
	if b.expireTimer != nil {
		b.expireTimer.Stop()
		b.expireTimer = nil
	}
}

func (b *TypingBroker) signal(conversationID string, typing bool) TypingSignal {
	return TypingSignal{
		ConversationID: conversationID,
		UserID:         b.self.ID,
		Username:       b.self.Username,
		Typing:         typing,
	}
}
