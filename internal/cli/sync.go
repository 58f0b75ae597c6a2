package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/kalnberzina/agrosync/internal/syncer"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Drain the outbox against the authoritative server",
	Run:   runSync,
}

var retryCmd = &cobra.Command{
	Use:   "retry <operation-id>",
	Short: "Retry a failed operation and trigger a sync",
	Args:  cobra.ExactArgs(1),
	Run:   runRetry,
}

var discardCmd = &cobra.Command{
	Use:   "discard <operation-id>",
	Short: "Drop a queued or failed operation permanently",
	Args:  cobra.ExactArgs(1),
	Run:   runDiscard,
}

func runSync(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	result, err := c.Orchestrator.TriggerSync(context.Background())
	reportDrain(result, err)
}

func runRetry(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	opID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitError("invalid operation id %q", args[0])
	}

	result, err := c.Orchestrator.RetryFailed(context.Background(), opID)
	reportDrain(result, err)
}

func runDiscard(cmd *cobra.Command, args []string) {
	c := initFullContext()
	defer c.Close()

	opID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitError("invalid operation id %q", args[0])
	}

	if err := c.Orchestrator.Discard(opID); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Discarded operation %d\n", opID)
}

func reportDrain(result *syncer.DrainResult, err error) {
	if err != nil {
		if errors.Is(err, syncer.ErrAuthRequired) {
			exitError("sign in to sync: the server rejected the configured token")
		}
		exitError("sync failed: %v", err)
	}
	if result == nil {
		fmt.Println("A sync is already running; one more pass has been scheduled")
		return
	}

	green := color.New(color.FgGreen)
	if result.Synced > 0 {
		green.Printf("Synced %d operation(s)\n", result.Synced)
	}
	if result.Deferred > 0 {
		fmt.Printf("%d operation(s) still waiting on unsynced records\n", result.Deferred)
	}
	if result.Transient > 0 {
		fmt.Printf("%d operation(s) hit a temporary error and will be retried\n", result.Transient)
	}
	if result.Failed > 0 {
		color.New(color.FgRed).Printf("%d operation(s) failed; see 'agrosync outbox'\n", result.Failed)
	}
	if result.Synced == 0 && result.Deferred == 0 && result.Transient == 0 && result.Failed == 0 {
		fmt.Println("Nothing to sync")
	}
}
