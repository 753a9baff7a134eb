package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateAll bool

func init() {
	migrateLegacyCmd.Flags().BoolVar(&migrateAll, "all", false, "migrate every client with persisted state")
	rootCmd.AddCommand(migrateLegacyCmd)
}

var migrateLegacyCmd = &cobra.Command{
	Use:   "migrate-legacy",
	Short: "Move single-session state into the session layout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !migrateAll {
			if err := requireClient(); err != nil {
				return err
			}
		}
		pool, st, err := openPool()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := context.Background()
		targets := []string{clientID}
		if migrateAll {
			targets, err = pool.Registries().Namespaces(ctx)
			if err != nil {
				return fmt.Errorf("list clients: %w", err)
			}
		}

		migrated := 0
		for _, ns := range targets {
			ok, err := pool.For(ns).MigrateLegacy(ctx)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", ns, err)
			}
			if ok {
				migrated++
				fmt.Printf("Migrated %s\n", ns)
			}
		}
		fmt.Printf("%d of %d clients migrated.\n", migrated, len(targets))
		return nil
	},
}
