package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shepherdsec/console/internal/backend"
)

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	backendURL, _ := cmd.Flags().GetString("backend")

	client := backend.NewClient(backendURL)
	if err := client.CancelRun(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancelled run %s\n", args[0])
	return nil
}
