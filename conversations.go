package whatsnep

import "sort"

// ============================================================================
// ConversationStore
// ============================================================================

// ConversationStore holds the conversation list for the signed-in user along
// with the per-conversation unread counters. Like MessageStore it is owned by
// the SyncSession and is not internally locked.
//
// The rendered list is a pure recompute over three underlying sets — raw
// conversations, latest messages, and user records — so ordering can never
// drift from its inputs.
type ConversationStore struct {
	selfID string

	convs    map[string]Conversation
	lastMsgs map[string]Message
	users    map[string]User
	unread   map[string]int
}

// NewConversationStore returns an empty store projecting for the given user.
func NewConversationStore(selfID string) *ConversationStore {
	return &ConversationStore{
		selfID:   selfID,
		convs:    make(map[string]Conversation),
		lastMsgs: make(map[string]Message),
		users:    make(map[string]User),
		unread:   make(map[string]int),
	}
}

// Replace swaps in a freshly fetched conversation set. Embedded participants
// and last messages seed the underlying sets; unread counters survive the
// refresh since the remote store does not track them per client.
func (s *ConversationStore) Replace(convs []Conversation) {
	s.convs = make(map[string]Conversation, len(convs))
	for _, c := range convs {
		if c.Participant1 != nil {
			s.users[c.Participant1.ID] = *c.Participant1
		}
		if c.Participant2 != nil {
			s.users[c.Participant2.ID] = *c.Participant2
		}
		if c.LastMessage != nil {
			if prev, ok := s.lastMsgs[c.ID]; !ok || !c.LastMessage.CreatedAt.Before(prev.CreatedAt) {
				s.lastMsgs[c.ID] = *c.LastMessage
			}
		}
		s.convs[c.ID] = c
	}
	for id := range s.unread {
		if _, ok := s.convs[id]; !ok {
			delete(s.unread, id)
		}
	}
}

// Has reports whether the conversation is known.
func (s *ConversationStore) Has(id string) bool {
	_, ok := s.convs[id]
	return ok
}

// Get returns the raw conversation record.
func (s *ConversationStore) Get(id string) (Conversation, bool) {
	c, ok := s.convs[id]
	return c, ok
}

// ApplyMessage records a persisted message: it becomes the conversation's
// last message and advances UpdatedAt, moving the conversation to the front
// of the next recompute.
func (s *ConversationStore) ApplyMessage(m Message) {
	s.lastMsgs[m.ConversationID] = m
	if c, ok := s.convs[m.ConversationID]; ok && m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
		s.convs[m.ConversationID] = c
	}
}

// ApplyUser records the latest pushed user record so the rendered other
// participant updates without a refetch.
func (s *ConversationStore) ApplyUser(u User) {
	s.users[u.ID] = u
}

// Unread returns the unread counter for a conversation.
func (s *ConversationStore) Unread(id string) int { return s.unread[id] }

// IncrementUnread bumps the unread counter by one.
func (s *ConversationStore) IncrementUnread(id string) { s.unread[id]++ }

// ResetUnread zeroes the unread counter.
func (s *ConversationStore) ResetUnread(id string) { delete(s.unread, id) }

// Clear drops everything; used on session teardown.
func (s *ConversationStore) Clear() {
	s.convs = make(map[string]Conversation)
	s.lastMsgs = make(map[string]Message)
	s.users = make(map[string]User)
	s.unread = make(map[string]int)
}

// List recomputes the rendered projection: most-recently-active first, each
// conversation carrying the other participant's latest record, the last
// message, and the unread counter.
func (s *ConversationStore) List() []ConversationView {
	out := make([]ConversationView, 0, len(s.convs))
	for id, c := range s.convs {
		view := ConversationView{Conversation: c, Unread: s.unread[id]}

		otherID := c.Participant1ID
		if otherID == s.selfID {
			otherID = c.Participant2ID
		}
		if u, ok := s.users[otherID]; ok {
			other := u
			view.OtherUser = &other
		}
		if m, ok := s.lastMsgs[id]; ok {
			last := m
			view.LastMessage = &last
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
