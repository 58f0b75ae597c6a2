package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Show queued and failed operations awaiting sync",
	Run:   runOutbox,
}

func runOutbox(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	ops, err := c.Store.ListForUser(c.Config.UserID)
	if err != nil {
		exitError("list operations: %v", err)
	}

	if len(ops) == 0 {
		fmt.Println("Outbox is empty, everything is synced")
		return
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	fmt.Printf("%d operation(s) in the outbox:\n\n", len(ops))
	for _, op := range ops {
		var status string
		switch op.Status {
		case models.StatusFailed:
			status = red.Sprint("failed ")
		case models.StatusSyncing:
			status = cyan.Sprint("syncing")
		default:
			status = yellow.Sprint("queued ")
		}

		fmt.Printf("  #%-4d %s %-8s %-11s %s  %s\n",
			op.ID, status, op.Op, op.EntityType, shortID(op.EntityID),
			op.Timestamp.Local().Format(time.DateTime))

		if op.Retries > 0 {
			fmt.Printf("        retries: %d\n", op.Retries)
		}
		if op.Status == models.StatusFailed && op.LastError != "" {
			red.Printf("        %s\n", op.LastError)
			fmt.Printf("        retry with 'agrosync retry %d' or drop with 'agrosync discard %d'\n", op.ID, op.ID)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
