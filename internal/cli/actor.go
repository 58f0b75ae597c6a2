package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/spf13/cobra"
)

var actorCmd = &cobra.Command{
	Use:   "actor",
	Short: "Manage commodity actors (farmers, buyers, cooperatives)",
}

var (
	actorName   string
	actorRole   string
	actorRegion string
	actorPhone  string
	actorAttach []string
)

var actorAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue creation of a new actor",
	Run:   runActorAdd,
}

var actorEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit an actor; amends the queued draft or queues an update",
	Args:  cobra.ExactArgs(1),
	Run:   runActorEdit,
}

func init() {
	for _, c := range []*cobra.Command{actorAddCmd, actorEditCmd} {
		c.Flags().StringVar(&actorName, "name", "", "actor name")
		c.Flags().StringVar(&actorRole, "role", "", "role: farmer, buyer, cooperative, broker")
		c.Flags().StringVar(&actorRegion, "region", "", "region")
		c.Flags().StringVar(&actorPhone, "phone", "", "phone number")
		c.Flags().StringArrayVar(&actorAttach, "attach", nil, "file to attach (repeatable)")
	}
	actorCmd.AddCommand(actorAddCmd)
	actorCmd.AddCommand(actorEditCmd)
}

func runActorAdd(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	payload := models.ActorPayload{
		Name:        actorName,
		Role:        actorRole,
		Region:      actorRegion,
		Phone:       actorPhone,
		Attachments: loadAttachments(actorAttach),
	}
	data, err := json.Marshal(&payload)
	if err != nil {
		exitError("encode payload: %v", err)
	}

	localID := uuid.New().String()
	opID, err := c.Store.Enqueue(&models.NewPendingOperation{
		EntityType: models.EntityActor,
		EntityID:   localID,
		Op:         models.OperationCreate,
		Payload:    data,
		UserID:     c.Config.UserID,
	})
	if err != nil {
		exitError("enqueue actor: %v", err)
	}

	fmt.Printf("Queued actor %s (operation %d); run 'agrosync sync' when online\n", localID, opID)
}

func runActorEdit(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	entityID := args[0]
	fields := sparseFields(cmd, map[string]any{
		"name":   actorName,
		"role":   actorRole,
		"region": actorRegion,
		"phone":  actorPhone,
	})
	if atts := loadAttachments(actorAttach); len(atts) > 0 {
		fields["attachments"] = atts
	}
	if len(fields) == 0 {
		exitError("nothing to change: pass at least one field flag")
	}

	amended, err := amendDraft(c, models.EntityActor, entityID, fields)
	if err != nil {
		exitError("%v", err)
	}
	if amended {
		fmt.Printf("Updated queued draft for actor %s\n", entityID)
		return
	}

	data, err := json.Marshal(fields)
	if err != nil {
		exitError("encode payload: %v", err)
	}
	opID, err := c.Store.Enqueue(&models.NewPendingOperation{
		EntityType: models.EntityActor,
		EntityID:   entityID,
		Op:         models.OperationUpdate,
		Payload:    data,
		UserID:     c.Config.UserID,
	})
	if err != nil {
		exitError("enqueue update: %v", err)
	}
	fmt.Printf("Queued update for actor %s (operation %d)\n", entityID, opID)
}

// amendDraft merges the given fields into a still-queued create for the
// entity. Reports false when no such draft exists and the caller should
// enqueue an update instead.
func amendDraft(c *cmdContext, entityType, entityID string, fields map[string]any) (bool, error) {
	draft, err := c.Store.GetPendingCreate(entityType, entityID, c.Config.UserID)
	if err != nil {
		return false, err
	}
	if draft == nil {
		return false, nil
	}

	var merged map[string]any
	if err := json.Unmarshal(draft.Payload, &merged); err != nil {
		return false, fmt.Errorf("decode queued draft: %w", err)
	}
	for k, v := range fields {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("encode amended draft: %w", err)
	}
	return c.Store.Amend(entityType, entityID, c.Config.UserID, data)
}

// sparseFields keeps only the flags the user actually set, preserving
// sparse patch semantics for updates.
func sparseFields(cmd *cobra.Command, all map[string]any) map[string]any {
	fields := make(map[string]any)
	for name, value := range all {
		if cmd.Flags().Changed(name) {
			fields[name] = value
		}
	}
	return fields
}

func loadAttachments(paths []string) []models.Attachment {
	var atts []models.Attachment
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			exitError("read attachment %s: %v", p, err)
		}
		atts = append(atts, models.Attachment{
			Filename:  filepath.Base(p),
			MediaType: mediaTypeFor(p),
			Data:      base64.StdEncoding.EncodeToString(data),
		})
	}
	return atts
}

func mediaTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".pdf":
		return "application/pdf"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
