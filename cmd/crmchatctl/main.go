// crmchatctl inspects and maintains persisted chat history.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/crmchat/internal/config"
	"github.com/ashureev/crmchat/internal/history"
	"github.com/ashureev/crmchat/internal/session"
	"github.com/ashureev/crmchat/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var clientID string

var rootCmd = &cobra.Command{
	Use:           "crmchatctl",
	Short:         "Inspect and maintain crmchat session history",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&clientID, "client", "", "client id (namespace) to operate on")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openPool opens the configured store and returns a coordinator pool over it.
// Coordinators get no remote collaborators.
func openPool() (*session.Pool, store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return session.NewPool(history.NewRegistries(st, history.WithWelcome(cfg.WelcomeMessage))), st, nil
}

func requireClient() error {
	if clientID == "" {
		return fmt.Errorf("--client is required")
	}
	return nil
}
