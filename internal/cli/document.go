package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/spf13/cobra"
)

var documentCmd = &cobra.Command{
	Use:     "document",
	Aliases: []string{"doc"},
	Short:   "Manage documents (contract scans, quality certificates, receipts)",
}

var (
	docOwner     string
	docOwnerType string
	docTitle     string
	docKind      string
	docFile      string
)

var documentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue creation of a new document",
	Run:   runDocumentAdd,
}

func init() {
	documentAddCmd.Flags().StringVar(&docOwner, "owner", "", "owning entity id (local or server)")
	documentAddCmd.Flags().StringVar(&docOwnerType, "owner-type", models.EntityActor, "owner entity type: actor or transaction")
	documentAddCmd.Flags().StringVar(&docTitle, "title", "", "document title")
	documentAddCmd.Flags().StringVar(&docKind, "kind", "", "kind: contract, certificate, receipt")
	documentAddCmd.Flags().StringVar(&docFile, "file", "", "file to attach")
	documentAddCmd.MarkFlagRequired("owner")
	documentAddCmd.MarkFlagRequired("title")
	documentCmd.AddCommand(documentAddCmd)
}

func runDocumentAdd(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if docOwnerType != models.EntityActor && docOwnerType != models.EntityTransaction {
		exitError("unknown owner type %q: expected actor or transaction", docOwnerType)
	}

	payload := models.DocumentPayload{
		Owner:     entityRef(c, docOwnerType, docOwner),
		OwnerType: docOwnerType,
		Title:     docTitle,
		Kind:      docKind,
	}
	if docFile != "" {
		atts := loadAttachments([]string{docFile})
		payload.Attachment = atts[0]
	}
	data, err := json.Marshal(&payload)
	if err != nil {
		exitError("encode payload: %v", err)
	}

	localID := uuid.New().String()
	opID, err := c.Store.Enqueue(&models.NewPendingOperation{
		EntityType: models.EntityDocument,
		EntityID:   localID,
		Op:         models.OperationCreate,
		Payload:    data,
		UserID:     c.Config.UserID,
	})
	if err != nil {
		exitError("enqueue document: %v", err)
	}

	fmt.Printf("Queued document %s (operation %d); run 'agrosync sync' when online\n", localID, opID)
}
