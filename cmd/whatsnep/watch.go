package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	whatsnep "github.com/whatsnep/whatsnep-go"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Open a conversation live",
	Long:  "Open a conversation and stream it: incoming messages, typing indicators, and presence print as they arrive. Lines you type are sent. Ctrl-C exits.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID := args[0]
		client, cfg := getClient()

		baseURL := cfg.Default.BaseURL
		if baseURL == "" {
			baseURL = whatsnep.DefaultBaseURL
		}
		rt := whatsnep.NewRealtimeClient(baseURL, &whatsnep.RealtimeConfig{
			Token:         cfg.Auth.Token,
			UserID:        cfg.Auth.UserID,
			AutoReconnect: true,
		})
		rt.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("-- reconnecting (attempt %d, in %s)\n", attempt, delay)
		})

		self := whatsnep.User{ID: cfg.Auth.UserID, Username: cfg.Auth.Username}
		session := whatsnep.NewSession(self, client, rt,
			whatsnep.WithNotifyFunc(func(m whatsnep.Message) {
				fmt.Printf("[%s] %s\n", m.CreatedAt.Local().Format("15:04"), truncate(m.Content, 50))
			}),
			whatsnep.WithStaleFunc(func() {
				fmt.Println("-- connection lost, local view may be stale")
			}),
		)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dialCtx, dialCancel := context.WithTimeout(ctx, 15*time.Second)
		err := rt.Connect(dialCtx)
		dialCancel()
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}

		if err := session.Start(ctx); err != nil {
			session.Stop()
			return fmt.Errorf("session start failed: %w", err)
		}
		defer session.Stop()

		if err := session.OpenConversation(ctx, conversationID); err != nil {
			return fmt.Errorf("open failed: %w", err)
		}

		for _, m := range session.Messages() {
			who := m.SenderID
			if m.SenderID == cfg.Auth.UserID {
				who = "me"
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
		}
		fmt.Println("-- watching, type to send, Ctrl-C to quit")

		go pollTypist(ctx, session)

		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
			close(lines)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		for {
			select {
			case <-sigCh:
				fmt.Println()
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				if _, err := session.Send(ctx, line); err != nil {
					fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				}
			}
		}
	},
}

// pollTypist prints transitions of the remote typing indicator.
func pollTypist(ctx context.Context, session *whatsnep.SyncSession) {
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			typist := session.Typist()
			if typist != last {
				if typist != "" {
					fmt.Printf("-- %s is typing...\n", typist)
				}
				last = typist
			}
		}
	}
}
