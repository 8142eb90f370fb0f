package whatsnep

import (
	"testing"
	"time"
)

func convBetween(id string, a, b User, at time.Time) Conversation {
	ua, ub := a, b
	return Conversation{
		ID:             id,
		Participant1ID: a.ID,
		Participant2ID: b.ID,
		Participant1:   &ua,
		Participant2:   &ub,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func TestConversationStoreList(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("most recently active first", func(t *testing.T) {
		s := NewConversationStore(alice.ID)
		s.Replace([]Conversation{
			convBetween("conv-old", alice, bob, base.Add(-time.Hour)),
			convBetween("conv-new", alice, carol, base),
		})
		views := s.List()
		if views[0].ID != "conv-new" || views[1].ID != "conv-old" {
			t.Fatalf("unexpected order: %s, %s", views[0].ID, views[1].ID)
		}
	})

	t.Run("other participant resolved against self", func(t *testing.T) {
		s := NewConversationStore(alice.ID)
		s.Replace([]Conversation{convBetween("conv-1", bob, alice, base)})
		views := s.List()
		if views[0].OtherUser == nil || views[0].OtherUser.ID != bob.ID {
			t.Fatalf("expected bob as other participant, got %+v", views[0].OtherUser)
		}
	})

	t.Run("new message moves conversation to the front", func(t *testing.T) {
		s := NewConversationStore(alice.ID)
		s.Replace([]Conversation{
			convBetween("conv-a", alice, bob, base),
			convBetween("conv-b", alice, carol, base.Add(time.Minute)),
		})
		s.ApplyMessage(Message{
			ID: "m1", ConversationID: "conv-a", SenderID: bob.ID,
			Content: "bump", CreatedAt: base.Add(2 * time.Minute),
		})
		views := s.List()
		if views[0].ID != "conv-a" {
			t.Fatalf("expected conv-a first, got %s", views[0].ID)
		}
		if views[0].LastMessage == nil || views[0].LastMessage.ID != "m1" {
			t.Fatal("expected applied message as last message")
		}
	})

	t.Run("equal activity ties break on id", func(t *testing.T) {
		s := NewConversationStore(alice.ID)
		s.Replace([]Conversation{
			convBetween("conv-b", alice, bob, base),
			convBetween("conv-a", alice, carol, base),
		})
		views := s.List()
		if views[0].ID != "conv-a" || views[1].ID != "conv-b" {
			t.Fatalf("expected deterministic tie break, got %s, %s", views[0].ID, views[1].ID)
		}
	})
}

func TestConversationStoreUnread(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("counters survive a refresh", func(t *testing.T) {
		s := NewConversationStore(alice.ID)
		s.Replace([]Conversation{convBetween("conv-1", alice, bob, base)})
		s.IncrementUnread("conv-1")
		s.IncrementUnread("conv-1")

		s.Replace([]Conversation{convBetween("conv-1", alice, bob, base)})
		if s.Unread("conv-1") != 2 {
			t.Fatalf("expected unread 2 after refresh, got %d", s.Unread("conv-1"))
		}
	})

	t.Run("counters for removed conversations pruned", func(t *testing.T) {
		s := NewConversationStore(alice.ID)
		s.Replace([]Conversation{convBetween("conv-1", alice, bob, base)})
		s.IncrementUnread("conv-1")

		s.Replace([]Conversation{convBetween("conv-2", alice, carol, base)})
		if s.Unread("conv-1") != 0 {
			t.Fatal("expected counter pruned with its conversation")
		}
	})

	t.Run("reset zeroes a single counter", func(t *testing.T) {
		s := NewConversationStore(alice.ID)
		s.Replace([]Conversation{
			convBetween("conv-1", alice, bob, base),
			convBetween("conv-2", alice, carol, base),
		})
		s.IncrementUnread("conv-1")
		s.IncrementUnread("conv-2")
		s.ResetUnread("conv-1")
		if s.Unread("conv-1") != 0 || s.Unread("conv-2") != 1 {
			t.Fatalf("unexpected counters: %d, %d", s.Unread("conv-1"), s.Unread("conv-2"))
		}
	})
}

func TestConversationStoreApplyUser(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s := NewConversationStore(alice.ID)
	s.Replace([]Conversation{convBetween("conv-1", alice, bob, base)})

	updated := bob
	updated.IsOnline = false
	updated.LastSeen = base.Add(time.Minute)
	s.ApplyUser(updated)

	view := s.List()[0]
	if view.OtherUser == nil || view.OtherUser.IsOnline {
		t.Fatal("expected projected user to reflect the update")
	}
}
