package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "masctl",
		Short: "masctl - drive smart-contract vulnerability-testing runs",
		Long: `masctl starts, watches and cancels MAS vulnerability-testing runs.

It submits a hypothesis against a repository, streams the run's transcript to
the terminal, answers prompts interactively, and prints the tool-event graph
summary when the run ends.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("backend", defaultBackendURL(), "MAS backend base URL")
	cmd.PersistentFlags().String("db", "masctl.db", "Path to the local state database")

	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newWatchCommand())
	cmd.AddCommand(newCancelCommand())
	cmd.AddCommand(newSessionsCommand())
	return cmd
}

func defaultBackendURL() string {
	if url := os.Getenv("BACKEND_URL"); url != "" {
		return url
	}
	return "http://localhost:8000"
}

func execute() error {
	return newRootCommand().Execute()
}
