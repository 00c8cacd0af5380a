package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shepherdsec/console/internal/backend"
	"github.com/shepherdsec/console/internal/run"
	"github.com/shepherdsec/console/internal/runid"
	"github.com/shepherdsec/console/internal/wspool"
)

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Attach to a live run's stream without starting it",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	backendURL, _ := cmd.Flags().GetString("backend")

	client := backend.NewClient(backendURL)
	controller := run.NewController(runid.New(nil), client, wspool.NewRegistry(), newTerminalNotifier(cmd))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := controller.Watch(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching run %s\n", args[0])

	streamRun(ctx, cmd, controller)

	// Watching never owned the run; release the socket without cancelling.
	controller.Detach()

	printGraphSummary(cmd, controller)
	return nil
}
