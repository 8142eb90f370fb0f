package whatsnep

import "sort"

// ============================================================================
// MessageStore
// ============================================================================

// MessageStore holds the ordered message list for the single active
// conversation. It is owned and mutated exclusively by the SyncSession, which
// serializes access; the store itself is not goroutine-safe.
//
// Ordering is non-decreasing CreatedAt with arrival order as the stable
// secondary key. The store never contains two entries with the same remote
// id, and never retains a reconciled shadow after its replacement.
type MessageStore struct {
	conversationID string
	entries        []Message
}

// NewMessageStore returns an empty store with no active conversation.
func NewMessageStore() *MessageStore {
	return &MessageStore{}
}

// ConversationID returns the conversation the store currently holds.
func (s *MessageStore) ConversationID() string { return s.conversationID }

// Len returns the number of messages, shadows included.
func (s *MessageStore) Len() int { return len(s.entries) }

// Messages returns a copy of the ordered message list.
func (s *MessageStore) Messages() []Message {
	out := make([]Message, len(s.entries))
	copy(out, s.entries)
	return out
}

// Reset replaces the store contents wholesale for a new active conversation.
func (s *MessageStore) Reset(conversationID string, msgs []Message) {
	s.conversationID = conversationID
	s.entries = make([]Message, len(msgs))
	copy(s.entries, msgs)
	s.sort()
}

// Clear empties the store and detaches it from any conversation.
func (s *MessageStore) Clear() {
	s.conversationID = ""
	s.entries = nil
}

// Append adds a message and restores ordering.
func (s *MessageStore) Append(m Message) {
	s.entries = append(s.entries, m)
	s.sort()
}

// Contains reports whether a message with the given id is present.
func (s *MessageStore) Contains(id string) bool {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return true
		}
	}
	return false
}

// Remove drops the message with the given id, if present.
func (s *MessageStore) Remove(id string) {
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// Promote replaces the shadow with the given temporary id by the confirmed
// record. The remote record's id and timestamp win completely.
func (s *MessageStore) Promote(tempID string, confirmed Message) bool {
	for i := range s.entries {
		if s.entries[i].ID == tempID && s.entries[i].Pending {
			confirmed.Pending = false
			s.entries[i] = confirmed
			s.sort()
			return true
		}
	}
	return false
}

// Reconcile applies an incoming remote insert. A shadow is matched by
// conversation, sender, and content, taking the most recent unconfirmed entry
// for that sender; timestamps are never compared since client and server
// clocks may differ. Returns false when the message was dropped as a
// duplicate of an already-confirmed id.
func (s *MessageStore) Reconcile(m Message) bool {
	if m.ConversationID != s.conversationID {
		return false
	}
	if s.Contains(m.ID) {
		return false
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.Pending && e.SenderID == m.SenderID && e.Content == m.Content {
			m.Pending = false
			s.entries[i] = m
			s.sort()
			return true
		}
	}
	s.Append(m)
	return true
}

// PendingFor returns the most recent shadow for the given sender, if any.
func (s *MessageStore) PendingFor(senderID string) (Message, bool) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Pending && s.entries[i].SenderID == senderID {
			return s.entries[i], true
		}
	}
	return Message{}, false
}

func (s *MessageStore) sort() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].CreatedAt.Before(s.entries[j].CreatedAt)
	})
}
