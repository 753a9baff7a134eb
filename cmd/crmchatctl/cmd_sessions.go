package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(clientsCmd, sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
}

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List client ids with persisted state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, st, err := openPool()
		if err != nil {
			return err
		}
		defer st.Close()

		namespaces, err := pool.Registries().Namespaces(context.Background())
		if err != nil {
			return fmt.Errorf("list clients: %w", err)
		}
		for _, ns := range namespaces {
			fmt.Println(ns)
		}
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage a client's sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireClient(); err != nil {
			return err
		}
		pool, st, err := openPool()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		c := pool.For(clientID)
		list, err := c.SessionsList(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		currentID, err := c.Registry().CurrentSessionID(ctx)
		if err != nil {
			return fmt.Errorf("read current session: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUSER\tUPDATED\t")
		for _, s := range list {
			marker := ""
			if s.ID == currentID {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				s.ID,
				s.Title,
				len(s.Messages),
				s.BoundUserID(),
				s.UpdatedAt.Local().Format(time.DateTime),
				marker,
			)
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireClient(); err != nil {
			return err
		}
		pool, st, err := openPool()
		if err != nil {
			return err
		}
		defer st.Close()

		s, err := pool.For(clientID).Session(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("read session: %w", err)
		}
		if s == nil {
			return fmt.Errorf("session not found: %s", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireClient(); err != nil {
			return err
		}
		pool, st, err := openPool()
		if err != nil {
			return err
		}
		defer st.Close()

		ok, err := pool.For(clientID).DeleteSession(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		if !ok {
			return fmt.Errorf("session not found: %s", args[0])
		}
		fmt.Fprintf(os.Stdout, "Session %s deleted.\n", args[0])
		return nil
	},
}
