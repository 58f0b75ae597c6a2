package cli

import (
	"fmt"

	"github.com/kalnberzina/agrosync/internal/config"
	"github.com/kalnberzina/agrosync/internal/store"
	"github.com/spf13/cobra"
)

var (
	initServerURL string
	initToken     string
	initUserID    string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an agrosync workspace in the current directory",
	Run:   runInit,
}

func init() {
	initCmd.Flags().StringVar(&initServerURL, "server", "", "authoritative server URL (required)")
	initCmd.Flags().StringVar(&initToken, "token", "", "bearer token for the server")
	initCmd.Flags().StringVar(&initUserID, "user", "", "user identifier owning this workspace (required)")
	initCmd.MarkFlagRequired("server")
	initCmd.MarkFlagRequired("user")
}

func runInit(cmd *cobra.Command, args []string) {
	cfg, err := config.Initialize(initServerURL, initToken, initUserID)
	if err != nil {
		exitError("%v", err)
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		exitError("failed to create store: %v", err)
	}
	st.Close()

	fmt.Printf("Initialized agrosync workspace in %s\n", cfg.Path())
}
