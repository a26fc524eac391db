package main

import (
	"context"
	"log"

	"creditledger/internal/config"
	"creditledger/internal/db"
	"creditledger/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
)

const batchSize = 500

// Creates a Deposit row for every initial-funding transaction that predates
// the deposits table. Each pass shrinks the set of matching transactions, so
// the job is safe to interrupt and re-run.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}
	cfg := config.Load()
	database, err := db.Connect(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	transactions := store.NewTransactionStore(database)
	deposits := store.NewDepositStore(database)
	txRunner := db.NewTxRunner(database)
	ctx := context.Background()

	total := 0
	for {
		rows, err := transactions.FindLegacyInitialDeposits(ctx, batchSize)
		if err != nil {
			log.Fatalf("failed to find legacy initial deposits: %v", err)
		}
		if len(rows) == 0 {
			break
		}
		err = txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
			for _, row := range rows {
				input := store.DepositInput{
					UUID:                   uuid.NewString(),
					LedgerUUID:             *row.LedgerUUID,
					TransactionUUID:        row.UUID,
					DesiredDepositQuantity: row.Quantity,
				}
				if err := deposits.Create(ctx, tx, input); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			log.Fatalf("failed to backfill batch: %v", err)
		}
		total += len(rows)
		log.Printf("backfilled %d deposits so far", total)
	}
	log.Printf("backfill complete, %d deposits created", total)
}
