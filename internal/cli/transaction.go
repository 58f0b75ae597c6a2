package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/spf13/cobra"
)

var transactionCmd = &cobra.Command{
	Use:     "transaction",
	Aliases: []string{"tx"},
	Short:   "Manage trade transactions",
}

var (
	txBuyer     string
	txSeller    string
	txCommodity string
	txQuantity  float64
	txPrice     float64
	txCurrency  string
	txDate      string
	txAttach    []string
)

var transactionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue creation of a new trade transaction",
	Run:   runTransactionAdd,
}

func init() {
	transactionAddCmd.Flags().StringVar(&txBuyer, "buyer", "", "buyer actor id (local or server)")
	transactionAddCmd.Flags().StringVar(&txSeller, "seller", "", "seller actor id (local or server)")
	transactionAddCmd.Flags().StringVar(&txCommodity, "commodity", "", "commodity, e.g. maize, coffee, cocoa")
	transactionAddCmd.Flags().Float64Var(&txQuantity, "quantity", 0, "quantity in kilograms")
	transactionAddCmd.Flags().Float64Var(&txPrice, "price", 0, "unit price")
	transactionAddCmd.Flags().StringVar(&txCurrency, "currency", "", "currency code")
	transactionAddCmd.Flags().StringVar(&txDate, "date", "", "trade date (YYYY-MM-DD)")
	transactionAddCmd.Flags().StringArrayVar(&txAttach, "attach", nil, "file to attach (repeatable)")
	transactionAddCmd.MarkFlagRequired("buyer")
	transactionAddCmd.MarkFlagRequired("seller")
	transactionCmd.AddCommand(transactionAddCmd)
}

func runTransactionAdd(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	payload := models.TransactionPayload{
		Buyer:       entityRef(c, models.EntityActor, txBuyer),
		Seller:      entityRef(c, models.EntityActor, txSeller),
		Commodity:   txCommodity,
		QuantityKg:  txQuantity,
		UnitPrice:   txPrice,
		Currency:    txCurrency,
		TradeDate:   txDate,
		Attachments: loadAttachments(txAttach),
	}
	data, err := json.Marshal(&payload)
	if err != nil {
		exitError("encode payload: %v", err)
	}

	localID := uuid.New().String()
	opID, err := c.Store.Enqueue(&models.NewPendingOperation{
		EntityType: models.EntityTransaction,
		EntityID:   localID,
		Op:         models.OperationCreate,
		Payload:    data,
		UserID:     c.Config.UserID,
	})
	if err != nil {
		exitError("enqueue transaction: %v", err)
	}

	fmt.Printf("Queued transaction %s (operation %d); run 'agrosync sync' when online\n", localID, opID)
}

// entityRef tags an identifier as local or server. An id the local queue or
// mapping table knows about is local; anything else is assumed to come from
// the server already.
func entityRef(c *cmdContext, entityType, id string) models.Ref {
	if _, ok := c.Resolver.Lookup(entityType, id); ok {
		return models.LocalRef(id)
	}
	pending, err := c.Store.HasPendingCreate(entityType, id)
	if err != nil {
		exitError("check pending create: %v", err)
	}
	if pending {
		return models.LocalRef(id)
	}
	return models.ServerRef(id)
}
