package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	whatsnep "github.com/whatsnep/whatsnep-go"
)

var messagesLimit int

func init() {
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 0, "Show only the last N messages")
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(startCmd)
}

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		convs, err := client.QueryConversations(ctx, cfg.Auth.UserID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations yet. Run 'whatsnep start <user-id>' to begin one.")
			return nil
		}

		for _, c := range convs {
			other := c.Participant1
			if other != nil && other.ID == cfg.Auth.UserID {
				other = c.Participant2
			}
			name := "(unknown)"
			online := ""
			if other != nil {
				name = other.Username
				if other.IsOnline {
					online = " [online]"
				}
			}
			last := ""
			if c.LastMessage != nil {
				last = truncate(c.LastMessage.Content, 50)
			}
			fmt.Printf("%s  %s%s  %s\n", c.ID, name, online, last)
		}
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show a conversation's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msgs, err := client.QueryMessages(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if messagesLimit > 0 && len(msgs) > messagesLimit {
			msgs = msgs[len(msgs)-messagesLimit:]
		}
		if len(msgs) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}

		for _, m := range msgs {
			who := m.SenderID
			if m.SenderID == cfg.Auth.UserID {
				who = "me"
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
		}

		return client.MarkConversationRead(ctx, conversationID, cfg.Auth.UserID)
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, message := args[0], args[1]
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		m, err := client.InsertMessage(ctx, conversationID, cfg.Auth.UserID, message)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("Sent %s\n", m.ID)
		return nil
	},
}

// ============================================================================
// search
// ============================================================================

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find users by username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		users, err := client.SearchUsers(ctx, args[0], cfg.Auth.UserID, whatsnep.DefaultSearchLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		for _, u := range users {
			state := "offline"
			if u.IsOnline {
				state = "online"
			}
			fmt.Printf("%s  %s  (%s)\n", u.ID, u.Username, state)
		}
		return nil
	},
}

// ============================================================================
// start
// ============================================================================

var startCmd = &cobra.Command{
	Use:   "start <user-id>",
	Short: "Start (or resume) a conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targetID := args[0]
		client, cfg := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conv, err := client.FindConversation(ctx, cfg.Auth.UserID, targetID)
		if err == nil {
			fmt.Printf("Conversation %s\n", conv.ID)
			return nil
		}
		var nf *whatsnep.NotFoundError
		if !errors.As(err, &nf) {
			return fmt.Errorf("lookup failed: %w", err)
		}

		conv, err = client.CreateConversation(ctx, cfg.Auth.UserID, targetID)
		if err != nil {
			return fmt.Errorf("create failed: %w", err)
		}
		if err := client.AddParticipants(ctx, conv.ID, cfg.Auth.UserID, targetID); err != nil {
			_ = client.DeleteConversation(ctx, conv.ID)
			return fmt.Errorf("create failed: %w", err)
		}
		fmt.Printf("Conversation %s\n", conv.ID)
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
