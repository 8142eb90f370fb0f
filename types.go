package whatsnep

import (
	"context"
	"time"
)

// ============================================================================
// Domain Records
// ============================================================================

// User is a registered participant. Usernames are unique case-insensitively;
// the session normalizes them to lower case at its boundary.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Conversation is a two-party thread. Exactly one conversation exists per
// unordered pair of participants. UpdatedAt advances whenever a message is
// persisted into it and is the sort key for the conversation list.
type Conversation struct {
	ID             string    `json:"id"`
	Participant1ID string    `json:"participant1_id"`
	Participant2ID string    `json:"participant2_id"`
	Participant1   *User     `json:"participant1,omitempty"`
	Participant2   *User     `json:"participant2,omitempty"`
	LastMessage    *Message  `json:"last_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is immutable once persisted. A message with Pending set is a local
// optimistic shadow: its ID is a client-generated temporary id and every
// field is replaced wholesale when the confirmed remote record arrives.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
	Pending        bool      `json:"-"`
}

// TypingSignal is an ephemeral broadcast. It is never persisted and carries
// no delivery or ordering guarantee; receivers must expire it locally.
type TypingSignal struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Username       string `json:"username"`
	Typing         bool   `json:"typing"`
}

// Presence is the tracked online state of one user.
type Presence struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// ConversationView is the rendered projection of one conversation: the
// participant that is not the current user, the last message, and the unread
// counter.
type ConversationView struct {
	Conversation
	OtherUser *User `json:"other_user,omitempty"`
	Unread    int   `json:"unread"`
}

// ============================================================================
// Collaborator Contracts
// ============================================================================

// RemoteStore is the persistence collaborator. Implementations assign ids and
// timestamps server-side; the engine never fabricates authoritative fields.
//
// FindConversation returns a *NotFoundError when no conversation exists for
// the pair.
type RemoteStore interface {
	QueryConversations(ctx context.Context, userID string) ([]Conversation, error)
	QueryMessages(ctx context.Context, conversationID string) ([]Message, error)
	InsertMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error)
	MarkConversationRead(ctx context.Context, conversationID, excludeSender string) error
	FindConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	CreateConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	AddParticipants(ctx context.Context, conversationID, userA, userB string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]User, error)
	UpdatePresence(ctx context.Context, userID string, online bool) error
}

// Transport is the push collaborator: a change feed for persisted records
// plus per-conversation broadcast channels for typing signals. Reconnection
// policy lives inside the transport; the engine only observes disconnects.
type Transport interface {
	OnMessageInserted(h func(Message))
	OnUserUpdated(h func(User))
	OnBroadcast(h func(TypingSignal))
	OnDisconnected(h func(code int, reason string))

	JoinConversation(ctx context.Context, conversationID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	Broadcast(ctx context.Context, sig TypingSignal) error

	Close() error
}
