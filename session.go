package whatsnep

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// SyncSession
// ============================================================================

// SyncSession coordinates the conversation list, the active conversation's
// messages, presence, and typing signals for one signed-in user. It owns the
// stores and serializes every mutation behind a single lock, so callers and
// transport handlers may invoke it from any goroutine.
//
// At most one conversation is active at a time. Switching conversations
// bumps a fetch epoch; a history fetch that finishes after a later switch is
// discarded rather than applied to the wrong conversation.
type SyncSession struct {
	mu sync.Mutex

	user      User
	store     RemoteStore
	transport Transport

	convs    *ConversationStore
	msgs     *MessageStore
	presence *PresenceTracker
	typing   *TypingBroker

	active     string
	fetchEpoch uint64
	inflight   map[string]bool
	stale      bool
	started    bool

	onNotify func(Message)
	onStale  func()
}

// SessionOption configures a SyncSession.
type SessionOption func(*SyncSession)

// WithNotifyFunc registers a callback invoked for every persisted message
// from another user. Fired outside the session lock.
func WithNotifyFunc(f func(Message)) SessionOption {
	return func(s *SyncSession) { s.onNotify = f }
}

// WithStaleFunc registers a callback invoked when the transport drops and
// local state may have missed pushes. Fired outside the session lock.
func WithStaleFunc(f func()) SessionOption {
	return func(s *SyncSession) { s.onStale = f }
}

// WithTypingDebounce overrides the sender-side typing debounce.
func WithTypingDebounce(d time.Duration) SessionOption {
	return func(s *SyncSession) { s.typing.debounce = d }
}

// WithTypingExpiry overrides the receiver-side typing expiry.
func WithTypingExpiry(d time.Duration) SessionOption {
	return func(s *SyncSession) { s.typing.expiry = d }
}

// NewSession creates a session for the given user. Call Start to subscribe
// and load the conversation list.
func NewSession(user User, store RemoteStore, transport Transport, opts ...SessionOption) *SyncSession {
	s := &SyncSession{
		user:      user,
		store:     store,
		transport: transport,
		convs:     NewConversationStore(user.ID),
		msgs:      NewMessageStore(),
		presence:  NewPresenceTracker(store, user.ID),
		typing:    NewTypingBroker(transport, user, 0, 0),
		inflight:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start wires the transport handlers, marks the user online, and loads the
// conversation list. Presence and refresh failures leave the session started
// in a degraded state; the refresh error is returned so the caller can retry
// with RefreshConversations.
func (s *SyncSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.transport.OnMessageInserted(s.handleMessageInserted)
	s.transport.OnUserUpdated(s.handleUserUpdated)
	s.transport.OnBroadcast(s.typing.HandleSignal)
	s.transport.OnDisconnected(s.handleDisconnected)

	_ = s.presence.Start(ctx)

	return s.RefreshConversations(ctx)
}

// Stop tears the session down: typing timers cancelled, presence written
// offline best effort, transport closed, local caches cleared.
func (s *SyncSession) Stop() error {
	s.typing.Close()
	s.presence.Stop()
	err := s.transport.Close()

	s.mu.Lock()
	s.active = ""
	s.fetchEpoch++
	s.convs.Clear()
	s.msgs.Clear()
	s.mu.Unlock()

	return err
}

// User returns the signed-in user.
func (s *SyncSession) User() User { return s.user }

// Conversations returns the rendered conversation list, most recently active
// first.
func (s *SyncSession) Conversations() []ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convs.List()
}

// Messages returns the active conversation's ordered messages, optimistic
// shadows included.
func (s *SyncSession) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs.Messages()
}

// ActiveConversation returns the id of the open conversation, or "".
func (s *SyncSession) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Typist returns the username typing in the active conversation, or "".
func (s *SyncSession) Typist() string { return s.typing.Typist() }

// Presence returns the tracked presence of a user.
func (s *SyncSession) Presence(userID string) (Presence, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.Get(userID)
}

// Stale reports whether a transport drop may have lost pushes since the last
// successful refresh.
func (s *SyncSession) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// SetForeground reflects window visibility in the user's presence.
func (s *SyncSession) SetForeground(ctx context.Context, visible bool) error {
	return s.presence.SetForeground(ctx, visible)
}

// KeyPressed forwards a keystroke in the active conversation's composer to
// the typing broker.
func (s *SyncSession) KeyPressed(ctx context.Context) {
	s.typing.KeyPressed(ctx)
}

// ============================================================================
// Conversation list
// ============================================================================

// RefreshConversations refetches the conversation list wholesale. Unread
// counters survive; on failure the previous list is kept.
func (s *SyncSession) RefreshConversations(ctx context.Context) error {
	convs, err := s.store.QueryConversations(ctx, s.user.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.convs.Replace(convs)
	s.stale = false
	s.mu.Unlock()
	return nil
}

// OpenConversation makes the conversation active: joins its broadcast
// channel, loads its history, zeroes its unread counter, and marks its
// messages read remotely.
//
// A mark-read failure is returned after the fetched history has been
// applied; the local state is usable, only the remote read receipts lag.
func (s *SyncSession) OpenConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if !s.convs.Has(conversationID) {
		s.mu.Unlock()
		return &NotFoundError{Kind: "conversation", ID: conversationID}
	}
	previous := s.active
	if previous == conversationID {
		s.mu.Unlock()
		return nil
	}
	s.active = conversationID
	s.fetchEpoch++
	epoch := s.fetchEpoch
	s.mu.Unlock()

	s.typing.SetConversation(conversationID)

	if previous != "" {
		_ = s.transport.LeaveConversation(ctx, previous)
	}
	if err := s.transport.JoinConversation(ctx, conversationID); err != nil {
		s.rollbackOpen(ctx, conversationID, previous, epoch)
		return err
	}

	msgs, err := s.store.QueryMessages(ctx, conversationID)
	if err != nil {
		s.rollbackOpen(ctx, conversationID, previous, epoch)
		return err
	}

	s.mu.Lock()
	if s.fetchEpoch != epoch || s.active != conversationID {
		// A later switch superseded this fetch.
		s.mu.Unlock()
		return nil
	}
	s.msgs.Reset(conversationID, msgs)
	s.convs.ResetUnread(conversationID)
	s.mu.Unlock()

	return s.store.MarkConversationRead(ctx, conversationID, s.user.ID)
}

// rollbackOpen restores the previously active conversation after a failed
// open, unless a later switch already superseded this attempt. MessageStore
// still holds the previous conversation's records, so pushes for it keep
// applying.
func (s *SyncSession) rollbackOpen(ctx context.Context, conversationID, previous string, epoch uint64) {
	s.mu.Lock()
	superseded := s.fetchEpoch != epoch || s.active != conversationID
	if !superseded {
		s.active = previous
		s.fetchEpoch++
	}
	s.mu.Unlock()

	if superseded {
		return
	}
	s.typing.SetConversation(previous)
	if previous != "" {
		_ = s.transport.JoinConversation(ctx, previous)
	}
}

// CloseConversation deactivates the open conversation and leaves its
// broadcast channel.
func (s *SyncSession) CloseConversation(ctx context.Context) {
	s.mu.Lock()
	previous := s.active
	s.active = ""
	s.fetchEpoch++
	s.msgs.Clear()
	s.mu.Unlock()

	s.typing.SetConversation("")
	if previous != "" {
		_ = s.transport.LeaveConversation(ctx, previous)
	}
}

// ============================================================================
// Sending
// ============================================================================

// Send persists a message in the active conversation. The message appears
// immediately as an optimistic shadow; on success the shadow is promoted to
// the confirmed record, on failure it is removed and the returned SendError
// carries the original text so the caller can restore the composer.
//
// One send per conversation may be in flight at a time.
func (s *SyncSession) Send(ctx context.Context, content string) (*Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, &ValidationError{Field: "content", Reason: "must not be empty"}
	}

	s.mu.Lock()
	conversationID := s.active
	if conversationID == "" {
		s.mu.Unlock()
		return nil, &ValidationError{Field: "conversation", Reason: "no active conversation"}
	}
	if s.inflight[conversationID] {
		s.mu.Unlock()
		return nil, &ConcurrentSendError{ConversationID: conversationID}
	}
	s.inflight[conversationID] = true

	shadow := Message{
		ID:             "local-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       s.user.ID,
		Content:        trimmed,
		CreatedAt:      time.Now().UTC(),
		Pending:        true,
	}
	s.msgs.Append(shadow)
	s.mu.Unlock()

	s.typing.StopTyping(ctx)

	confirmed, err := s.store.InsertMessage(ctx, conversationID, s.user.ID, trimmed)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, conversationID)

	if err != nil {
		s.msgs.Remove(shadow.ID)
		return nil, &SendError{Text: content, Err: err}
	}

	// Reconcile from the insert response directly; the transport push for
	// this record dedupes by id when it arrives.
	if !s.msgs.Promote(shadow.ID, *confirmed) {
		s.msgs.Reconcile(*confirmed)
	}
	s.convs.ApplyMessage(*confirmed)
	return confirmed, nil
}

// ============================================================================
// Starting conversations
// ============================================================================

// StartConversation finds or creates the conversation with the target user
// and returns it. Creating is a two-step write; a failed participant attach
// deletes the dangling conversation record.
func (s *SyncSession) StartConversation(ctx context.Context, targetID string) (*Conversation, error) {
	if targetID == s.user.ID {
		return nil, &ValidationError{Field: "target", Reason: "cannot start a conversation with yourself"}
	}
	if targetID == "" {
		return nil, &ValidationError{Field: "target", Reason: "must not be empty"}
	}

	conv, err := s.store.FindConversation(ctx, s.user.ID, targetID)
	if err == nil {
		return conv, nil
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		return nil, err
	}

	created, err := s.store.CreateConversation(ctx, s.user.ID, targetID)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddParticipants(ctx, created.ID, s.user.ID, targetID); err != nil {
		_ = s.store.DeleteConversation(ctx, created.ID)
		return nil, err
	}

	if err := s.RefreshConversations(ctx); err != nil {
		return created, err
	}
	return created, nil
}

// SearchUsers finds users by username substring, case-insensitive, excluding
// the signed-in user, at most DefaultSearchLimit results.
func (s *SyncSession) SearchUsers(ctx context.Context, query string) ([]User, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	return s.store.SearchUsers(ctx, strings.ToLower(trimmed), s.user.ID, DefaultSearchLimit)
}

// ============================================================================
// Transport handlers
// ============================================================================

// handleMessageInserted applies a pushed persisted message. For the active
// conversation it reconciles into the message list; for any other known
// conversation it bumps the unread counter. Messages from other users fire
// the notify callback regardless of which conversation is active.
func (s *SyncSession) handleMessageInserted(m Message) {
	s.mu.Lock()
	known := s.convs.Has(m.ConversationID)
	s.mu.Unlock()

	if !known {
		// A conversation created by the other party; pick it up wholesale,
		// then replay this message against the fresh list so its unread
		// bump and notification are not lost.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.RefreshConversations(ctx); err != nil {
				return
			}
			s.applyInserted(m)
		}()
		return
	}

	s.applyInserted(m)
}

// applyInserted folds a pushed message record into the local stores. Records
// for conversations still absent from the list are dropped.
func (s *SyncSession) applyInserted(m Message) {
	s.mu.Lock()

	if !s.convs.Has(m.ConversationID) {
		s.mu.Unlock()
		return
	}

	applied := true
	if m.ConversationID == s.active {
		applied = s.msgs.Reconcile(m)
	} else if m.SenderID != s.user.ID {
		s.convs.IncrementUnread(m.ConversationID)
	}
	if applied {
		s.convs.ApplyMessage(m)
	}

	notify := s.onNotify
	fromOther := m.SenderID != s.user.ID
	s.mu.Unlock()

	if applied && fromOther && notify != nil {
		notify(m)
	}
}

// handleUserUpdated applies a pushed user record to presence and to the
// conversation list projection.
func (s *SyncSession) handleUserUpdated(u User) {
	s.mu.Lock()
	s.presence.ApplyRemote(u)
	s.convs.ApplyUser(u)
	s.mu.Unlock()
}

// handleDisconnected marks local state stale. Pushes may have been missed;
// the caller decides when to refresh.
func (s *SyncSession) handleDisconnected(code int, reason string) {
	s.mu.Lock()
	s.stale = true
	onStale := s.onStale
	s.mu.Unlock()

	if onStale != nil {
		onStale()
	}
}
