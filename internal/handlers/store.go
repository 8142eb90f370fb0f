// Package handlers implements the development server's REST and WebSocket
// endpoints over an in-memory store. It exists for local testing of the
// client; nothing persists across restarts.
package handlers

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	whatsnep "github.com/whatsnep/whatsnep-go"
)

type account struct {
	user     whatsnep.User
	password string
}

// Store is the in-memory backing state shared by all handlers.
type Store struct {
	mu sync.Mutex

	accounts map[string]*account             // user id -> account
	byName   map[string]string               // username -> user id
	tokens   map[string]string               // token -> user id
	convs    map[string]whatsnep.Conversation // conversation id -> record
	messages map[string][]whatsnep.Message   // conversation id -> ordered messages
}

func NewStore() *Store {
	return &Store{
		accounts: map[string]*account{},
		byName:   map[string]string{},
		tokens:   map[string]string{},
		convs:    map[string]whatsnep.Conversation{},
		messages: map[string][]whatsnep.Message{},
	}
}

func (s *Store) register(username, password string) (whatsnep.User, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username = strings.ToLower(strings.TrimSpace(username))
	if _, taken := s.byName[username]; taken || username == "" {
		return whatsnep.User{}, "", false
	}
	u := whatsnep.User{
		ID:        "user-" + uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[u.ID] = &account{user: u, password: password}
	s.byName[username] = u.ID
	token := "tok-" + uuid.NewString()
	s.tokens[token] = u.ID
	return u, token, true
}

func (s *Store) login(username, password string) (whatsnep.User, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return whatsnep.User{}, "", false
	}
	acct := s.accounts[id]
	if acct.password != password {
		return whatsnep.User{}, "", false
	}
	token := "tok-" + uuid.NewString()
	s.tokens[token] = id
	return acct.user, token, true
}

func (s *Store) userForToken(token string) (whatsnep.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tokens[token]
	if !ok {
		return whatsnep.User{}, false
	}
	return s.accounts[id].user, true
}

func (s *Store) conversationsFor(userID string) []whatsnep.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []whatsnep.Conversation
	for _, c := range s.convs {
		if c.Participant1ID != userID && c.Participant2ID != userID {
			continue
		}
		out = append(out, s.embedLocked(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// embedLocked attaches participant records and the last message.
func (s *Store) embedLocked(c whatsnep.Conversation) whatsnep.Conversation {
	if a, ok := s.accounts[c.Participant1ID]; ok {
		u := a.user
		c.Participant1 = &u
	}
	if a, ok := s.accounts[c.Participant2ID]; ok {
		u := a.user
		c.Participant2 = &u
	}
	if msgs := s.messages[c.ID]; len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		c.LastMessage = &last
	}
	return c
}

func (s *Store) findConversation(a, b string) (whatsnep.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if (c.Participant1ID == a && c.Participant2ID == b) ||
			(c.Participant1ID == b && c.Participant2ID == a) {
			return s.embedLocked(c), true
		}
	}
	return whatsnep.Conversation{}, false
}

// createConversation returns the pair's conversation, creating it only when
// no record for the unordered pair exists yet. The check and the insert sit
// under one lock so concurrent creates for the same pair resolve to a single
// record.
func (s *Store) createConversation(a, b string) whatsnep.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if (c.Participant1ID == a && c.Participant2ID == b) ||
			(c.Participant1ID == b && c.Participant2ID == a) {
			return s.embedLocked(c)
		}
	}
	now := time.Now().UTC()
	c := whatsnep.Conversation{
		ID:             "conv-" + uuid.NewString(),
		Participant1ID: a,
		Participant2ID: b,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.convs[c.ID] = c
	return c
}

func (s *Store) setParticipants(conversationID, a, b string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return false
	}
	c.Participant1ID = a
	c.Participant2ID = b
	s.convs[conversationID] = c
	return true
}

func (s *Store) deleteConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conversationID)
	delete(s.messages, conversationID)
}

func (s *Store) messagesFor(conversationID string) ([]whatsnep.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conversationID]; !ok {
		return nil, false
	}
	msgs := s.messages[conversationID]
	out := make([]whatsnep.Message, len(msgs))
	copy(out, msgs)
	return out, true
}

func (s *Store) insertMessage(conversationID, senderID, content string) (whatsnep.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return whatsnep.Message{}, false
	}
	m := whatsnep.Message{
		ID:             "msg-" + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	c.UpdatedAt = m.CreatedAt
	s.convs[conversationID] = c
	return m, true
}

func (s *Store) markRead(conversationID, readerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.messages[conversationID]
	if !ok {
		if _, exists := s.convs[conversationID]; !exists {
			return false
		}
		return true
	}
	for i := range msgs {
		if msgs[i].SenderID != readerID {
			msgs[i].IsRead = true
		}
	}
	return true
}

func (s *Store) searchUsers(query, excludeID string, limit int) []whatsnep.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	query = strings.ToLower(query)
	var out []whatsnep.User
	for _, a := range s.accounts {
		if a.user.ID == excludeID {
			continue
		}
		if !strings.Contains(a.user.Username, query) {
			continue
		}
		out = append(out, a.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) setPresence(userID string, online bool, lastSeen time.Time) (whatsnep.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return whatsnep.User{}, false
	}
	a.user.IsOnline = online
	a.user.LastSeen = lastSeen
	return a.user, true
}
