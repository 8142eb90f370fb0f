package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	whatsnep "github.com/whatsnep/whatsnep-go"
	"github.com/whatsnep/whatsnep-go/internal/hub"
)

// API bundles the store and hub behind the REST handlers.
type API struct {
	Store *Store
	Hub   *hub.Hub
}

func ok(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{"ok": true, "data": data})
}

func fail(c *fiber.Ctx, code, message string) error {
	return c.JSON(fiber.Map{
		"ok":    false,
		"error": fiber.Map{"code": code, "message": message},
	})
}

// Auth resolves the bearer token; unauthenticated requests are rejected.
func (a *API) Auth(c *fiber.Ctx) error {
	header := c.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return fail(c, "UNAUTHORIZED", "missing bearer token")
	}
	user, found := a.Store.userForToken(token)
	if !found {
		return fail(c, "UNAUTHORIZED", "unknown token")
	}
	c.Locals("user", user)
	return c.Next()
}

// ============================================================================
// Auth endpoints
// ============================================================================

type credentialsBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) Register(c *fiber.Ctx) error {
	var body credentialsBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "VALIDATION", "malformed body")
	}
	if strings.TrimSpace(body.Username) == "" || body.Password == "" {
		return fail(c, "VALIDATION", "username and password required")
	}
	user, token, created := a.Store.register(body.Username, body.Password)
	if !created {
		return fail(c, "VALIDATION", "username taken")
	}
	return ok(c, fiber.Map{"token": token, "user": user})
}

func (a *API) Login(c *fiber.Ctx) error {
	var body credentialsBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "VALIDATION", "malformed body")
	}
	user, token, found := a.Store.login(body.Username, body.Password)
	if !found {
		return fail(c, "UNAUTHORIZED", "bad credentials")
	}
	return ok(c, fiber.Map{"token": token, "user": user})
}

// ============================================================================
// Conversation endpoints
// ============================================================================

func (a *API) ListConversations(c *fiber.Ctx) error {
	userID := c.Query("user")
	if userID == "" {
		userID = c.Locals("user").(whatsnep.User).ID
	}
	return ok(c, a.Store.conversationsFor(userID))
}

func (a *API) FindConversation(c *fiber.Ctx) error {
	userA, userB := c.Query("a"), c.Query("b")
	if userA == "" || userB == "" {
		return fail(c, "VALIDATION", "a and b required")
	}
	conv, found := a.Store.findConversation(userA, userB)
	if !found {
		return fail(c, "NOT_FOUND", userA+"/"+userB)
	}
	return ok(c, conv)
}

type participantsBody struct {
	Participant1ID string `json:"participant1_id"`
	Participant2ID string `json:"participant2_id"`
}

func (a *API) CreateConversation(c *fiber.Ctx) error {
	var body participantsBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "VALIDATION", "malformed body")
	}
	if body.Participant1ID == "" || body.Participant2ID == "" {
		return fail(c, "VALIDATION", "both participants required")
	}
	return ok(c, a.Store.createConversation(body.Participant1ID, body.Participant2ID))
}

func (a *API) AddParticipants(c *fiber.Ctx) error {
	var body participantsBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "VALIDATION", "malformed body")
	}
	if !a.Store.setParticipants(c.Params("id"), body.Participant1ID, body.Participant2ID) {
		return fail(c, "NOT_FOUND", c.Params("id"))
	}
	return ok(c, nil)
}

func (a *API) DeleteConversation(c *fiber.Ctx) error {
	a.Store.deleteConversation(c.Params("id"))
	return ok(c, nil)
}

type readBody struct {
	UserID string `json:"user_id"`
}

func (a *API) MarkRead(c *fiber.Ctx) error {
	var body readBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "VALIDATION", "malformed body")
	}
	if !a.Store.markRead(c.Params("id"), body.UserID) {
		return fail(c, "NOT_FOUND", c.Params("id"))
	}
	return ok(c, nil)
}

// ============================================================================
// Message endpoints
// ============================================================================

func (a *API) ListMessages(c *fiber.Ctx) error {
	msgs, found := a.Store.messagesFor(c.Params("id"))
	if !found {
		return fail(c, "NOT_FOUND", c.Params("id"))
	}
	return ok(c, msgs)
}

type insertBody struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

func (a *API) InsertMessage(c *fiber.Ctx) error {
	var body insertBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "VALIDATION", "malformed body")
	}
	if strings.TrimSpace(body.Content) == "" {
		return fail(c, "VALIDATION", "content required")
	}
	m, inserted := a.Store.insertMessage(c.Params("id"), body.SenderID, body.Content)
	if !inserted {
		return fail(c, "NOT_FOUND", c.Params("id"))
	}
	a.Hub.Publish("message.inserted", m)
	return ok(c, m)
}

// ============================================================================
// User endpoints
// ============================================================================

func (a *API) SearchUsers(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return fail(c, "VALIDATION", "q required")
	}
	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	return ok(c, a.Store.searchUsers(query, c.Query("exclude"), limit))
}

type presenceBody struct {
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

func (a *API) UpdatePresence(c *fiber.Ctx) error {
	var body presenceBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, "VALIDATION", "malformed body")
	}
	lastSeen := body.LastSeen
	if lastSeen.IsZero() {
		lastSeen = time.Now().UTC()
	}
	user, found := a.Store.setPresence(c.Params("id"), body.IsOnline, lastSeen)
	if !found {
		return fail(c, "NOT_FOUND", c.Params("id"))
	}
	a.Hub.Publish("user.updated", user)
	return ok(c, nil)
}
