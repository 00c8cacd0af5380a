package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shepherdsec/console/internal/run"
	"github.com/shepherdsec/console/internal/store"
)

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and replay locally saved sessions",
		RunE:  runSessionsList,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Replay a saved session's transcript",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsShow,
	})
	return cmd
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	sessions, err := db.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved sessions.")
		return nil
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-38s %-24s %s\n", "RUN ID", "CREATED", "NAME")
	for _, s := range sessions {
		fmt.Fprintf(out, "%-38s %-24s %s\n", s.RunID, s.CreatedAt.Format("2006-01-02 15:04:05"), s.Name)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	saved, err := db.GetSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if saved == nil {
		return fmt.Errorf("session %s not found", args[0])
	}

	state, err := run.Replay(saved.Messages)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range state.Transcript() {
		prefix := "  "
		if e.From == "user" {
			prefix = "> "
		}
		fmt.Fprintf(out, "%s%s\n", prefix, e.Text)
	}
	return nil
}
