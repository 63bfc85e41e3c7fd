package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/caravel-sh/caravel/internal/stream"
	"github.com/caravel-sh/caravel/internal/timeline"
)

var (
	// Send-specific flags
	respondPromptID string
	sendWait        time.Duration
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send SESSION_ID MESSAGE",
	Short: "Send a single message into a session",
	Long: `Send a single message into a session and exit.

With --respond, the message is sent as the answer to an agent prompt
instead of a chat message.

Delivery is fire-and-forget: the command waits briefly for the server's
acknowledgment and reports it, but a missing acknowledgment is not an
error.

Examples:
  caravel send sess-1 "deploy it"
  caravel send sess-1 --respond prompt-7 "yes"`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&respondPromptID, "respond", "", "Send the message as a response to the given prompt ID")
	sendCmd.Flags().DurationVar(&sendWait, "wait", 5*time.Second, "How long to wait for the server's acknowledgment")
}

func runSend(cmd *cobra.Command, args []string) error {
	workspace, err := requireWorkspace()
	if err != nil {
		return err
	}
	sessionID, message := args[0], args[1]

	ctx := cmd.Context()
	sc, err := connectSession(ctx, workspace, sessionID)
	if err != nil {
		return err
	}
	defer sc.Close()

	// Wait for the stream to open before sending; an unopened channel
	// drops outbound messages.
	if err := waitForOpen(sc.channel, sendWait); err != nil {
		return err
	}

	var interaction timeline.Interaction
	if respondPromptID != "" {
		interaction = timeline.NewPromptResponse(respondPromptID, message)
	} else {
		interaction = timeline.NewMessageInteraction(message)
	}
	sc.channel.Send(interaction)

	// Report the acknowledgment if one arrives in time.
	deadline := time.After(sendWait)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			fmt.Println("📤 Sent (no acknowledgment received)")
			return nil
		case <-tick.C:
			if ack, _ := sc.reconciler.LastAcknowledgement(); ack != "" {
				fmt.Printf("📤 Sent (%s)\n", ack)
				return nil
			}
		}
	}
}

// waitForOpen polls the channel until it reports open or the timeout hits.
func waitForOpen(ch *stream.Channel, timeout time.Duration) error {
	deadline := time.After(timeout)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			return fmt.Errorf("stream did not open within %s (status: %s)", timeout, ch.Status())
		case <-tick.C:
			switch ch.Status() {
			case stream.StatusOpen:
				return nil
			case stream.StatusError:
				return fmt.Errorf("stream failed to open")
			}
		}
	}
}
