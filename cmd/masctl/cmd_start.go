package main

import (
	"bufio"
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shepherdsec/console/internal/backend"
	"github.com/shepherdsec/console/internal/run"
	"github.com/shepherdsec/console/internal/runid"
	"github.com/shepherdsec/console/internal/session"
	"github.com/shepherdsec/console/internal/store"
	"github.com/shepherdsec/console/internal/wspool"
)

func newStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <repo-url>",
		Short: "Start a run and stream its transcript",
		Args:  cobra.ExactArgs(1),
		RunE:  runStart,
	}
	cmd.Flags().String("hypothesis", "", "Vulnerability hypothesis to test")
	cmd.Flags().String("env", "local", "Execution environment: local | testnet")
	cmd.Flags().String("save-as", "", "Save the transcript under this name when the run ends")
	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	backendURL, _ := cmd.Flags().GetString("backend")
	dbPath, _ := cmd.Flags().GetString("db")
	hypothesis, _ := cmd.Flags().GetString("hypothesis")
	env, _ := cmd.Flags().GetString("env")
	saveAs, _ := cmd.Flags().GetString("save-as")

	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	client := backend.NewClient(backendURL)
	controller := run.NewController(runid.New(db), client, wspool.NewRegistry(), newTerminalNotifier(cmd))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := controller.Start(ctx, backend.StartRunForm{
		RepoURL:     args[0],
		Hypothesis:  hypothesis,
		Environment: env,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run %s\n", runID)

	if controller.State().Status() == session.StatusAtCapacity {
		return promptWaitlist(cmd, client)
	}

	streamRun(ctx, cmd, controller)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	controller.Shutdown(shutdownCtx)

	if saveAs != "" {
		messages, err := controller.MessagesJSON()
		if err != nil {
			return err
		}
		saved := &store.SavedSession{RunID: runID, Name: saveAs, Messages: messages}
		if err := db.SaveSession(shutdownCtx, saved); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved session %q\n", saveAs)
	}

	printGraphSummary(cmd, controller)
	return nil
}

// streamRun prints transcript entries as they arrive and forwards stdin lines
// whenever the run is waiting on input. It returns when the run ends or the
// context is cancelled.
func streamRun(ctx context.Context, cmd *cobra.Command, controller *run.Controller) {
	state := controller.State()
	stdin := bufio.NewScanner(cmd.InOrStdin())
	printed := 0
	prompted := false

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		entries := state.Transcript()
		for ; printed < len(entries); printed++ {
			e := entries[printed]
			prefix := "  "
			if e.From == "user" {
				prefix = "> "
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", prefix, e.Text)
		}

		switch state.Status() {
		case session.StatusEnded, session.StatusError:
			return
		}

		if state.Waiting() && !prompted {
			prompted = true
			go func() {
				if !stdin.Scan() {
					return
				}
				value := strings.TrimSpace(stdin.Text())
				if err := controller.SendInput(ctx, value); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "send input: %v\n", err)
				}
			}()
		}
		if !state.Waiting() {
			prompted = false
		}
	}
}

func promptWaitlist(cmd *cobra.Command, client *backend.Client) error {
	fmt.Fprintln(cmd.OutOrStdout(), "The backend is at capacity. Enter an email to join the waitlist (blank to skip):")
	stdin := bufio.NewScanner(cmd.InOrStdin())
	if !stdin.Scan() {
		return nil
	}
	email := strings.TrimSpace(stdin.Text())
	if email == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.SaveWaitlistEmail(ctx, email); err != nil {
		return fmt.Errorf("save waitlist email: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "You're on the waitlist.")
	return nil
}

func printGraphSummary(cmd *cobra.Command, controller *run.Controller) {
	g := controller.Graph()
	contracts := g.Contracts()
	if len(contracts) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s\n", g.AgentLabel)
	fmt.Fprintf(out, "%-44s %9s %9s\n", "CONTRACT", "SUCCESS", "FAILURE")
	for _, c := range contracts {
		fmt.Fprintf(out, "%-44s %9d %9d\n", c.Name, c.Successes, c.Failures)
	}
	fmt.Fprintf(out, "%d edge(s)\n", len(g.Edges))
}

// terminalNotifier surfaces run events on stderr so they interleave cleanly
// with the transcript on stdout.
type terminalNotifier struct {
	cmd *cobra.Command
}

func newTerminalNotifier(cmd *cobra.Command) *terminalNotifier {
	return &terminalNotifier{cmd: cmd}
}

func (n *terminalNotifier) ConnectionLost(code int, err error) {
	fmt.Fprintf(n.cmd.ErrOrStderr(), "connection lost (close code %d): %v\n", code, err)
}

func (n *terminalNotifier) AtCapacity(pos int, msg string) {
	if msg == "" {
		msg = "all runners are busy"
	}
	fmt.Fprintf(n.cmd.ErrOrStderr(), "at capacity (queue position %d): %s\n", pos, msg)
}

func (n *terminalNotifier) InputRequested() {}

func (n *terminalNotifier) Alert(msg string) {
	fmt.Fprintf(n.cmd.ErrOrStderr(), "%s\n", msg)
}
