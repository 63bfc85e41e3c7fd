package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/caravel-sh/caravel/internal/appdir"
	"github.com/caravel-sh/caravel/internal/config"
	"github.com/caravel-sh/caravel/internal/logging"
	"github.com/caravel-sh/caravel/internal/timeline"
)

var (
	// Tail-specific flags
	noInput bool
)

// tailCmd represents the tail command
var tailCmd = &cobra.Command{
	Use:   "tail SESSION_ID",
	Short: "Follow a session's live event stream",
	Long: `Follow a session's live event stream.

The session's recent timeline is printed first, then live events are
appended as they arrive. The connection reconnects automatically when
it drops.

By default the command is interactive: type a message and press Enter
to send it into the session. Use --no-input to only follow the stream.

Commands (interactive mode only):
  /older                    - Load an older page of the timeline
  /status                   - Show connection and session status
  /reconnect                - Force a reconnect attempt
  /respond PROMPT_ID TEXT   - Answer an agent prompt
  /quit, /exit              - Exit
  /help                     - Show available commands`,
	Args: cobra.ExactArgs(1),
	RunE: runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)

	tailCmd.Flags().BoolVar(&noInput, "no-input", false, "Follow the stream without an input prompt")
}

func runTail(cmd *cobra.Command, args []string) error {
	workspace, err := requireWorkspace()
	if err != nil {
		return err
	}
	sessionID := args[0]

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Println("\n\n👋 Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	sc, err := connectSession(ctx, workspace, sessionID)
	if err != nil {
		return err
	}
	defer sc.Close()

	// Watch the settings file so edits made while tailing are noticed.
	// Most settings only apply to the next run; the notice says so.
	if configPath == "" {
		if settingsPath, err := appdir.SettingsPath(); err == nil {
			watcher, err := config.NewSettingsWatcher(settingsPath, func(updated *config.Settings) {
				fmt.Println("ℹ️  Settings file changed; most changes apply on the next run.")
				settings = updated
			}, logging.CLI())
			if err == nil {
				watcher.Start()
				defer watcher.Close()
			}
		}
	}

	sc.gate.SetLogoutHandler(func() {
		fmt.Println("\n🔒 Session ended: authentication expired. Run 'caravel login' again.")
		cancel()
	})

	title := sc.session.Title
	if title == "" {
		title = sc.session.ID
	}
	fmt.Printf("📡 Following session %q as %s\n\n", title, sc.user.Username)

	// Print the initial page, then stream new entries as they arrive.
	printer := newEntryPrinter(sc.reconciler)
	printer.flush()
	sc.reconciler.SetNewMessageCallback(printer.flush)
	defer sc.reconciler.RemoveNewMessageCallback()

	if noInput {
		<-ctx.Done()
		return nil
	}
	return runTailLoop(ctx, sc, printer)
}

// entryPrinter prints timeline entries exactly once, in order. Backward
// loads insert entries above what was already printed, so it tracks how
// many tail entries have been shown rather than an absolute index.
type entryPrinter struct {
	mu         sync.Mutex
	reconciler *timeline.Reconciler
	printed    int
}

func newEntryPrinter(r *timeline.Reconciler) *entryPrinter {
	return &entryPrinter{reconciler: r}
}

// flush prints every not-yet-printed entry from the tail of the timeline.
func (p *entryPrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.reconciler.Entries()
	if len(entries) <= p.printed {
		return
	}
	for _, entry := range entries[p.printed:] {
		printEntry(entry)
	}
	p.printed = len(entries)
}

// printOlder prints a freshly prepended history page above the stream.
func (p *entryPrinter) printOlder(before int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.reconciler.Entries()
	loaded := len(entries) - before
	if loaded <= 0 {
		fmt.Println("ℹ️  No older entries.")
		return
	}
	fmt.Printf("--- %d older entries ---\n", loaded)
	for _, entry := range entries[:loaded] {
		printEntry(entry)
	}
	fmt.Println("---")
	p.printed += loaded
}

// printEntry renders one timeline entry for the terminal.
func printEntry(entry timeline.Entry) {
	ts := ""
	if t := entry.CreatedTime(); !t.IsZero() {
		ts = t.Local().Format("15:04:05") + " "
	}

	switch c := entry.Content.(type) {
	case timeline.MessageContent:
		icon := "🤖"
		if c.Sender == timeline.SenderUser {
			icon = "👤"
		}
		fmt.Printf("%s%s %s\n", ts, icon, c.Message)
	case timeline.AcknowledgmentContent:
		fmt.Printf("%s✓ %s\n", ts, c.AckType)
	case timeline.AgentStatusContent:
		fmt.Printf("%s⏳ agent is %s\n", ts, c.Status)
	case timeline.PromptContent:
		fmt.Printf("%s❓ [%s] %s\n", ts, c.PromptID, c.Prompt)
		for _, opt := range c.Options {
			fmt.Printf("     - %s\n", opt)
		}
	case timeline.PromptResponseContent:
		fmt.Printf("%s💬 [%s] %s\n", ts, c.PromptID, c.Response)
	case timeline.ActionContent:
		fmt.Printf("%s⚙️  %s: %s\n", ts, c.ActionType, c.Message)
	case timeline.SpecContent:
		fmt.Printf("%s📄 spec updated (%d bytes)\n", ts, len(c.Content))
	case timeline.ShellContent:
		for _, line := range c.Lines {
			fmt.Printf("%s$ %s\n", ts, line)
		}
	default:
		fmt.Printf("%s❔ %s entry\n", ts, entry.ContentType)
	}
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/help", "Show available commands"},
	{"/h", "Show available commands (alias)"},
	{"/?", "Show available commands (alias)"},
	{"/quit", "Exit"},
	{"/exit", "Exit (alias)"},
	{"/q", "Exit (alias)"},
	{"/older", "Load an older page of the timeline"},
	{"/status", "Show connection and session status"},
	{"/reconnect", "Force a reconnect attempt"},
	{"/respond", "Answer an agent prompt: /respond PROMPT_ID TEXT"},
}

func runTailLoop(ctx context.Context, sc *sessionContext, printer *entryPrinter) error {
	// Create readline shell
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "caravel> " })

	// Set up history
	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	// Set up tab completion for slash commands
	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	fmt.Println("📝 Type a message and press Enter to send it. Use /help for commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println("\n👋 Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Check for commands
		if strings.HasPrefix(line, "/") {
			if done := handleCommand(ctx, sc, printer, line); done {
				return nil
			}
			continue
		}

		sc.channel.Send(timeline.NewMessageInteraction(line))
	}
}

// handleCommand dispatches one slash command. Returns true when the loop
// should exit.
func handleCommand(ctx context.Context, sc *sessionContext, printer *entryPrinter, line string) bool {
	parts := strings.Fields(strings.TrimPrefix(line, "/"))
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Println("👋 Goodbye!")
		return true
	case "older":
		before := sc.reconciler.Len()
		sc.reconciler.LoadOlder(ctx)
		printer.printOlder(before)
	case "status":
		printStatus(sc)
	case "reconnect":
		sc.channel.ManualReconnect()
		fmt.Println("🔄 Reconnect requested")
	case "respond":
		if len(parts) < 3 {
			fmt.Println("Usage: /respond PROMPT_ID TEXT")
			break
		}
		response := strings.Join(parts[2:], " ")
		sc.channel.Send(timeline.NewPromptResponse(parts[1], response))
	case "help", "h", "?":
		printHelp()
	default:
		fmt.Printf("❓ Unknown command: %s (use /help for available commands)\n", parts[0])
	}
	return false
}

func printStatus(sc *sessionContext) {
	fmt.Printf("Connection:  %s\n", sc.channel.Status())
	fmt.Printf("Session:     %s (%s)\n", sc.session.Title, sc.session.ID)
	fmt.Printf("Entries:     %d of %d known\n", sc.reconciler.Len(), sc.reconciler.KnownTotal())
	fmt.Printf("More older:  %v\n", sc.reconciler.HasMoreOlder())
	if status, since := sc.reconciler.AgentStatus(); status != "" {
		fmt.Printf("Agent:       %s (since %s)\n", status, since.Local().Format("15:04:05"))
	}
	if ack, at := sc.reconciler.LastAcknowledgement(); ack != "" {
		fmt.Printf("Last ack:    %s (%s)\n", ack, at.Local().Format("15:04:05"))
	}
}

func printHelp() {
	fmt.Println(`
Available commands:
  /older                   - Load an older page of the timeline
  /status                  - Show connection and session status
  /reconnect               - Force a reconnect attempt
  /respond PROMPT_ID TEXT  - Answer an agent prompt
  /quit, /exit, /q         - Exit
  /help, /h, /?            - Show this help message

Tips:
  - Type a message and press Enter to send it into the session
  - Use Ctrl+C to exit gracefully
  - Use up/down arrows for input history
  - Use Tab to autocomplete slash commands`)
}

// completeInput provides tab completion for the tail input.
// It completes slash commands when the input starts with "/".
func completeInput(line string, cursor int) readline.Completions {
	// Get the text up to the cursor position
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	// Only complete if the line starts with "/"
	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	// Find matching commands
	var matches []string
	var descriptions []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, text) {
			matches = append(matches, cmd.name)
			descriptions = append(descriptions, cmd.description)
		}
	}

	if len(matches) == 0 {
		return readline.Completions{}
	}

	// Build value-description pairs for CompleteValuesDescribed
	pairs := make([]string, 0, len(matches)*2)
	for i, match := range matches {
		pairs = append(pairs, match, descriptions[i])
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}
