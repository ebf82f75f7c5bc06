package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	citymatch "github.com/citymatch/citymatch-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// chats list
	chatsSort     string
	chatsWatch    bool
	chatsRealtime bool
)

// ============================================================================
// chats list
// ============================================================================

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your conversations",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your chats",
	Long:  "List your chats. With --watch the list is polled and reprinted whenever it changes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatsSort != "activity" && chatsSort != "id" {
			return fmt.Errorf("--sort must be activity or id")
		}
		sess := mustSession()
		defer sess.Close()

		if !chatsWatch {
			ctx, cancel := sess.withTimeout()
			defer cancel()
			chats, err := sess.Chats.ChatList(ctx)
			if err != nil {
				return fmt.Errorf("failed to list chats: %s", describeError(err))
			}
			return printChats(chats, sess.Chats.Self())
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if chatsRealtime {
			rt, err := connectRealtime(ctx, sess)
			if err != nil {
				return err
			}
			defer rt.Disconnect()
		}

		w := sess.Chats.WatchChatList(func(ev citymatch.Event) {
			switch ev.Snapshot.State {
			case citymatch.Ready:
				chats, _ := ev.Snapshot.Value.([]citymatch.Chat)
				if !jsonOutput {
					fmt.Printf("--- %s ---\n", time.Now().Format("15:04:05"))
				}
				printChats(chats, sess.Chats.Self())
			case citymatch.Failed:
				fmt.Fprintf(os.Stderr, "Refresh failed: %v\n", ev.Snapshot.Err)
			}
		})
		defer w.Unsubscribe()

		<-ctx.Done()
		return nil
	},
}

func printChats(chats []citymatch.Chat, self citymatch.UserID) error {
	sorted := append([]citymatch.Chat(nil), chats...)
	if chatsSort == "activity" {
		citymatch.SortByActivity(sorted)
	}
	if jsonOutput {
		return printJSON(sorted)
	}
	if len(sorted) == 0 {
		fmt.Println("No chats yet. Run 'citymatch discover' to find someone.")
		return nil
	}
	now := time.Now()
	for i := range sorted {
		c := &sorted[i]
		line := fmt.Sprintf("#%-6s %-24s", c.ID, c.Counterpart(self))
		if last := c.LastMessage(); last != nil {
			line += fmt.Sprintf(" %-10s %s", citymatch.FormatTimestamp(last.Timestamp, now), preview(last.Content, 40))
		}
		fmt.Println(line)
	}
	return nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// ============================================================================
// chat start / chat open
// ============================================================================

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start or open a conversation",
}

var chatStartCmd = &cobra.Command{
	Use:   "start <user-id>",
	Short: "Start a chat with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := mustSession()
		defer sess.Close()
		ctx, cancel := sess.withTimeout()
		defer cancel()

		id, err := sess.Chats.StartChat(ctx, citymatch.UserID(args[0]))
		if err != nil {
			if citymatch.IsChatLimit(err) {
				printUpgradePrompt()
			}
			return fmt.Errorf("failed to start chat: %s", describeError(err))
		}

		if jsonOutput {
			return printJSON(map[string]any{"chatId": id})
		}
		fmt.Printf("Chat #%s started. Run 'citymatch chat open %s' to talk.\n", id, id)
		return nil
	},
}

var chatOpenCmd = &cobra.Command{
	Use:   "open <chat-id>",
	Short: "Open a chat and send messages interactively",
	Long: "Open a chat, print new messages as they arrive and send each line you type.\n" +
		"Commands: /quit, /upgrade <plan>, /retry, /cancel.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := citymatch.ParseChatID(args[0])
		if err != nil {
			return fmt.Errorf("invalid chat id %q", args[0])
		}

		sess := mustSession()
		defer sess.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		return runThread(ctx, sess, id, bufio.NewScanner(os.Stdin))
	},
}

// runThread renders the active chat and feeds typed lines to a composer
// until input ends, /quit is typed or ctx is cancelled.
func runThread(ctx context.Context, sess *session, id citymatch.ChatID, in *bufio.Scanner) error {
	self := sess.Chats.Self()
	shown := 0
	active := sess.Chats.OpenChat(id, func(ev citymatch.Event) {
		switch ev.Snapshot.State {
		case citymatch.Ready:
			msgs, _ := ev.Snapshot.Value.([]citymatch.ChatMessage)
			if len(msgs) < shown {
				shown = 0
			}
			now := time.Now()
			for _, m := range msgs[shown:] {
				who := string(m.Sender)
				if m.Sender == self {
					who = "you"
				}
				fmt.Printf("[%s] %s: %s\n", citymatch.FormatTimestamp(m.Timestamp, now), who, m.Content)
			}
			shown = len(msgs)
		case citymatch.Failed:
			fmt.Fprintf(os.Stderr, "Could not load messages: %v\n", ev.Snapshot.Err)
		}
	})
	defer active.Close()

	flow := sess.Plans.Upgrade()
	composer := sess.Chats.Composer(id,
		citymatch.WithUpgradePrompt(func(err error) {
			flow.OpenFor(err)
			printUpgradePrompt()
			fmt.Println("Type /upgrade <plan> to activate a plan, then /retry. /cancel to dismiss.")
		}),
		citymatch.WithErrorNotifier(func(err error) {
			fmt.Fprintf(os.Stderr, "Send failed: %s\n", describeError(err))
		}),
	)

	submit := func() {
		sendCtx, cancel := sess.withTimeout()
		defer cancel()
		err := composer.Submit(sendCtx)
		if err != nil && errors.Is(err, citymatch.ErrLocalValidation) {
			fmt.Fprintln(os.Stderr, describeError(err))
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return in.Err()
			}
			cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
			switch cmd {
			case "/quit":
				return nil
			case "/retry":
				submit()
			case "/cancel":
				flow.Cancel()
			case "/upgrade":
				if err := confirmUpgrade(sess, flow, citymatch.Plan(strings.TrimSpace(arg))); err != nil {
					fmt.Fprintln(os.Stderr, describeError(err))
				}
			default:
				composer.SetText(line)
				submit()
			}
		}
	}
}

func confirmUpgrade(sess *session, flow *citymatch.UpgradeFlow, plan citymatch.Plan) error {
	ctx, cancel := sess.withTimeout()
	defer cancel()

	var err error
	if flow.IsOpen() {
		if err = flow.Select(plan); err == nil {
			err = flow.Confirm(ctx)
		}
	} else {
		err = sess.Plans.ActivatePlan(ctx, plan)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Plan %s activated.\n", plan)
	return nil
}

func init() {
	chatsListCmd.Flags().StringVar(&chatsSort, "sort", "activity", "Sort order: activity or id")
	chatsListCmd.Flags().BoolVar(&chatsWatch, "watch", false, "Keep polling and reprint on changes")
	chatsListCmd.Flags().BoolVar(&chatsRealtime, "realtime", false, "With --watch, also listen for pushed updates")

	chatsCmd.AddCommand(chatsListCmd)
	chatCmd.AddCommand(chatStartCmd)
	chatCmd.AddCommand(chatOpenCmd)

	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(chatCmd)
}
