// Package whatsnep provides a client-side synchronization engine for
// one-to-one chat: conversation and message caches, optimistic sends with
// shadow reconciliation, presence, and typing signals over a realtime
// transport.
//
// Example:
//
//	store := whatsnep.NewClient("https://api.whatsnep.example", whatsnep.WithToken(token))
//	rt := whatsnep.NewRealtimeClient("https://api.whatsnep.example", &whatsnep.RealtimeConfig{
//		Token:         token,
//		UserID:        self.ID,
//		AutoReconnect: true,
//	})
//
//	session := whatsnep.NewSession(self, store, rt)
//	if err := session.Start(ctx); err != nil { ... }
//	defer session.Stop(ctx)
//
//	session.OpenConversation(ctx, convID)
//	session.Send(ctx, "hello")
package whatsnep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.whatsnep.example"
	DefaultTimeout = 30 * time.Second
)

// DefaultSearchLimit caps user search results.
const DefaultSearchLimit = 10

// ============================================================================
// Result envelope
// ============================================================================

// Result is the API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// APIError is a structured error returned by the API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Decode unmarshals the Data field into v.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return fmt.Errorf("no data in response")
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Client
// ============================================================================

// Client is an HTTP implementation of RemoteStore.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

var _ RemoteStore = (*Client)(nil)

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the auth token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// do wraps doRequest, translating transport failures into
// RemoteUnavailableError and envelope errors into the error taxonomy.
func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, &RemoteUnavailableError{Op: op, Err: err}
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &RemoteUnavailableError{Op: op, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	if !result.OK {
		return nil, apiErrorFor(op, result.Error)
	}
	return &result, nil
}

func apiErrorFor(op string, apiErr *APIError) error {
	if apiErr == nil {
		return &RemoteUnavailableError{Op: op, Err: fmt.Errorf("request rejected")}
	}
	switch apiErr.Code {
	case "NOT_FOUND":
		return &NotFoundError{Kind: op, ID: apiErr.Message}
	case "VALIDATION":
		return &ValidationError{Field: op, Reason: apiErr.Message}
	default:
		return &RemoteUnavailableError{Op: op, Err: fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)}
	}
}

// ============================================================================
// Conversations
// ============================================================================

// QueryConversations returns every conversation the user participates in,
// with participant records and last messages embedded.
func (c *Client) QueryConversations(ctx context.Context, userID string) ([]Conversation, error) {
	result, err := c.do(ctx, "conversations.query", "GET", "/api/conversations", nil, map[string]string{"user": userID})
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	if err := result.Decode(&convs); err != nil {
		return nil, &RemoteUnavailableError{Op: "conversations.query", Err: err}
	}
	return convs, nil
}

// FindConversation looks up the conversation between two users, in either
// participant order. Returns *NotFoundError when none exists.
func (c *Client) FindConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	result, err := c.do(ctx, "conversations.find", "GET", "/api/conversations/find", nil, map[string]string{
		"a": userA,
		"b": userB,
	})
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := result.Decode(&conv); err != nil {
		return nil, &RemoteUnavailableError{Op: "conversations.find", Err: err}
	}
	return &conv, nil
}

// CreateConversation creates an empty conversation record for the pair.
func (c *Client) CreateConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	result, err := c.do(ctx, "conversations.create", "POST", "/api/conversations",
		map[string]string{"participant1_id": userA, "participant2_id": userB}, nil)
	if err != nil {
		return nil, err
	}
	var conv Conversation
	if err := result.Decode(&conv); err != nil {
		return nil, &RemoteUnavailableError{Op: "conversations.create", Err: err}
	}
	return &conv, nil
}

// AddParticipants attaches both participants to a conversation.
func (c *Client) AddParticipants(ctx context.Context, conversationID, userA, userB string) error {
	_, err := c.do(ctx, "conversations.participants", "POST", "/api/conversations/"+conversationID+"/participants",
		map[string]string{"participant1_id": userA, "participant2_id": userB}, nil)
	return err
}

// DeleteConversation removes a conversation. Used to compensate a failed
// participant attach.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, "conversations.delete", "DELETE", "/api/conversations/"+conversationID, nil, nil)
	return err
}

// MarkConversationRead marks every message addressed to userID in the
// conversation as read.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	_, err := c.do(ctx, "conversations.read", "POST", "/api/conversations/"+conversationID+"/read",
		map[string]string{"user_id": userID}, nil)
	return err
}

// ============================================================================
// Messages
// ============================================================================

// QueryMessages returns the full message history of a conversation in
// chronological order.
func (c *Client) QueryMessages(ctx context.Context, conversationID string) ([]Message, error) {
	result, err := c.do(ctx, "messages.query", "GET", "/api/conversations/"+conversationID+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := result.Decode(&msgs); err != nil {
		return nil, &RemoteUnavailableError{Op: "messages.query", Err: err}
	}
	return msgs, nil
}

// InsertMessage persists a message and returns the stored record with its
// server-assigned id and timestamp.
func (c *Client) InsertMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	result, err := c.do(ctx, "messages.insert", "POST", "/api/conversations/"+conversationID+"/messages",
		map[string]string{"sender_id": senderID, "content": content}, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := result.Decode(&msg); err != nil {
		return nil, &RemoteUnavailableError{Op: "messages.insert", Err: err}
	}
	return &msg, nil
}

// ============================================================================
// Users
// ============================================================================

// SearchUsers returns users whose username contains the query,
// case-insensitive, excluding excludeID, at most limit results.
func (c *Client) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	result, err := c.do(ctx, "users.search", "GET", "/api/users/search", nil, map[string]string{
		"q":       query,
		"exclude": excludeID,
		"limit":   fmt.Sprintf("%d", limit),
	})
	if err != nil {
		return nil, err
	}
	var users []User
	if err := result.Decode(&users); err != nil {
		return nil, &RemoteUnavailableError{Op: "users.search", Err: err}
	}
	return users, nil
}

// UpdatePresence writes the user's online flag and last-seen timestamp.
func (c *Client) UpdatePresence(ctx context.Context, userID string, online bool) error {
	_, err := c.do(ctx, "users.presence", "POST", "/api/users/"+userID+"/presence",
		map[string]interface{}{"is_online": online, "last_seen": time.Now().UTC().Format(time.RFC3339Nano)}, nil)
	return err
}

// ============================================================================
// Auth
// ============================================================================

// Credentials identify a signed-in user.
type Credentials struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Register creates an account. Usernames are stored lower-cased.
func (c *Client) Register(ctx context.Context, username, password string) (*Credentials, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, &ValidationError{Field: "username", Reason: "must not be empty"}
	}
	result, err := c.do(ctx, "auth.register", "POST", "/api/auth/register",
		map[string]string{"username": username, "password": password}, nil)
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := result.Decode(&creds); err != nil {
		return nil, &RemoteUnavailableError{Op: "auth.register", Err: err}
	}
	c.token = creds.Token
	return &creds, nil
}

// Login signs in to an existing account.
func (c *Client) Login(ctx context.Context, username, password string) (*Credentials, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, &ValidationError{Field: "username", Reason: "must not be empty"}
	}
	result, err := c.do(ctx, "auth.login", "POST", "/api/auth/login",
		map[string]string{"username": username, "password": password}, nil)
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := result.Decode(&creds); err != nil {
		return nil, &RemoteUnavailableError{Op: "auth.login", Err: err}
	}
	c.token = creds.Token
	return &creds, nil
}
