package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pennaio/penna/internal/app"
	"github.com/pennaio/penna/internal/config"
	"github.com/pennaio/penna/internal/conversation"
	"github.com/pennaio/penna/internal/stream"
	"github.com/pennaio/penna/internal/tools"
	"github.com/pennaio/penna/internal/turn"
)

var flagNewConversation bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&flagNewConversation, "new", false, "start a fresh conversation instead of resuming")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger()

	// One interactive session per machine at a time; turns must not
	// interleave across processes.
	release, err := conversation.AcquireTurnLock()
	if err != nil {
		return err
	}
	defer release()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger, app.Options{WithDatabase: cfg.OwnerID != ""})
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	conv, err := resumeOrCreate(a.Registry)
	if err != nil {
		return err
	}

	fmt.Printf("penna - support article assistant (%s)\n", cfg.FullModelName())
	fmt.Println("Type a message, or /new for a fresh conversation, /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nyou> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "/quit", input == "/exit":
			return nil
		case input == "/new":
			conv = a.Registry.Create()
			if err := conversation.SaveCurrentID(conv.ID()); err != nil {
				logger.Warn("saving conversation state failed", "error", err)
			}
			fmt.Println("started a new conversation")
			continue
		}

		if err := runTurn(ctx, a.Controller, conv, input); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// resumeOrCreate loads the current conversation from the state file,
// or creates one. Resumed ids refer to in-memory history, so a new
// process starts the conversation body fresh under the same id.
func resumeOrCreate(registry *conversation.Registry) (*conversation.Conversation, error) {
	if !flagNewConversation {
		if id, err := conversation.LoadCurrentID(); err == nil && id != nil {
			return registry.GetOrCreate(*id), nil
		}
	}
	conv := registry.Create()
	if err := conversation.SaveCurrentID(conv.ID()); err != nil {
		return nil, fmt.Errorf("saving conversation state: %w", err)
	}
	return conv, nil
}

// runTurn submits one message and renders the reply: streamed text
// printed as it arrives, or a formatted tool view.
func runTurn(ctx context.Context, ctrl *turn.Controller, conv *conversation.Conversation, input string) error {
	printed := make(chan struct{})
	announced := false

	_, err := ctrl.Submit(ctx, conv, input, func(res turn.Result) {
		announced = true
		if res.Text != nil {
			go func() {
				defer close(printed)
				fmt.Print("penna> ")
				printDeltas(res.Text)
				fmt.Println()
			}()
			return
		}
		defer close(printed)
		if res.Tool != nil {
			printToolView(res.Tool)
		}
	})
	if announced {
		<-printed
	}
	return err
}

func printDeltas(t *stream.Text) {
	sent := 0
	for {
		changed := t.Changed()
		text, final := t.Value()
		if len(text) > sent {
			fmt.Print(text[sent:])
			sent = len(text)
		}
		if final {
			return
		}
		<-changed
	}
}

func printToolView(inv *tools.Invocation) {
	switch inv.ToolName {
	case "search":
		var articles []tools.Article
		if err := json.Unmarshal(inv.Result, &articles); err != nil {
			fmt.Printf("penna> [search returned an unreadable result]\n")
			return
		}
		if len(articles) == 0 {
			fmt.Println("penna> No similar articles found.")
			return
		}
		fmt.Printf("penna> Found %d similar article(s):\n", len(articles))
		for _, a := range articles {
			fmt.Printf("  - %s (%s)\n", a.Title, a.ID)
		}
	case "rewrite":
		var out tools.RewriteOutput
		if err := json.Unmarshal(inv.Result, &out); err != nil {
			fmt.Printf("penna> [rewrite returned an unreadable result]\n")
			return
		}
		fmt.Printf("penna> Revised draft:\n\n%s\n", out.Text)
	default:
		fmt.Printf("penna> [%s] %s\n", inv.ToolName, string(inv.Result))
	}
}
