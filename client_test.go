package whatsnep

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okEnvelope(data interface{}) []byte {
	b, _ := json.Marshal(map[string]interface{}{"ok": true, "data": data})
	return b
}

func errEnvelope(code, message string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"ok":    false,
		"error": map[string]string{"code": code, "message": message},
	})
	return b
}

func TestClientConversations(t *testing.T) {
	t.Run("query sends user and decodes list", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/conversations" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.URL.Query().Get("user"); got != alice.ID {
				t.Errorf("expected user=%s, got %s", alice.ID, got)
			}
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("expected bearer token, got %q", got)
			}
			w.Write(okEnvelope([]Conversation{
				{ID: "conv-1", Participant1ID: alice.ID, Participant2ID: bob.ID},
			}))
		}))
		defer server.Close()

		c := NewClient(server.URL, WithToken("tok-1"))
		convs, err := c.QueryConversations(context.Background(), alice.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(convs) != 1 || convs[0].ID != "conv-1" {
			t.Fatalf("unexpected result: %+v", convs)
		}
	})

	t.Run("find maps NOT_FOUND", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(errEnvelope("NOT_FOUND", "no conversation"))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.FindConversation(context.Background(), alice.ID, bob.ID)
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("mark read posts the reader", func(t *testing.T) {
		var body map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/conversations/conv-1/read" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			json.NewDecoder(r.Body).Decode(&body)
			w.Write(okEnvelope(nil))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		if err := c.MarkConversationRead(context.Background(), "conv-1", alice.ID); err != nil {
			t.Fatal(err)
		}
		if body["user_id"] != alice.ID {
			t.Fatalf("expected reader id in body, got %v", body)
		}
	})
}

func TestClientMessages(t *testing.T) {
	t.Run("insert returns the stored record", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/conversations/conv-1/messages" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			w.Write(okEnvelope(Message{
				ID:             "msg-1",
				ConversationID: "conv-1",
				SenderID:       body["sender_id"],
				Content:        body["content"],
				CreatedAt:      time.Now().UTC(),
			}))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		m, err := c.InsertMessage(context.Background(), "conv-1", alice.ID, "hello")
		if err != nil {
			t.Fatal(err)
		}
		if m.ID != "msg-1" || m.SenderID != alice.ID || m.Content != "hello" {
			t.Fatalf("unexpected record: %+v", m)
		}
	})

	t.Run("validation error mapped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(errEnvelope("VALIDATION", "content required"))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.InsertMessage(context.Background(), "conv-1", alice.ID, "")
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("unreachable server", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:1", WithTimeout(200*time.Millisecond))
		_, err := c.QueryMessages(context.Background(), "conv-1")
		var ru *RemoteUnavailableError
		if !errors.As(err, &ru) {
			t.Fatalf("expected RemoteUnavailableError, got %v", err)
		}
	})

	t.Run("malformed envelope", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		_, err := c.QueryMessages(context.Background(), "conv-1")
		var ru *RemoteUnavailableError
		if !errors.As(err, &ru) {
			t.Fatalf("expected RemoteUnavailableError, got %v", err)
		}
	})
}

func TestClientSearchUsers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "bo" || q.Get("exclude") != alice.ID || q.Get("limit") != "10" {
			t.Errorf("unexpected query %v", q)
		}
		w.Write(okEnvelope([]User{bob}))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	users, err := c.SearchUsers(context.Background(), "bo", alice.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].ID != bob.ID {
		t.Fatalf("unexpected result: %+v", users)
	}
}

func TestClientAuth(t *testing.T) {
	t.Run("login lower-cases the username and keeps the token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["username"] != "alice" {
				t.Errorf("expected lower-cased username, got %q", body["username"])
			}
			w.Write(okEnvelope(Credentials{Token: "tok-9", User: alice}))
		}))
		defer server.Close()

		c := NewClient(server.URL)
		creds, err := c.Login(context.Background(), "  Alice ", "secret")
		if err != nil {
			t.Fatal(err)
		}
		if creds.Token != "tok-9" || creds.User.ID != alice.ID {
			t.Fatalf("unexpected credentials: %+v", creds)
		}
		if c.token != "tok-9" {
			t.Fatal("expected client to adopt the session token")
		}
	})

	t.Run("blank username rejected locally", func(t *testing.T) {
		c := NewClient("http://unused.invalid")
		_, err := c.Register(context.Background(), "   ", "secret")
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestClientPresence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/"+alice.ID+"/presence" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["is_online"] != false {
			t.Errorf("expected is_online false, got %v", body["is_online"])
		}
		if _, ok := body["last_seen"]; !ok {
			t.Error("expected last_seen timestamp")
		}
		w.Write(okEnvelope(nil))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	if err := c.UpdatePresence(context.Background(), alice.ID, false); err != nil {
		t.Fatal(err)
	}
}
