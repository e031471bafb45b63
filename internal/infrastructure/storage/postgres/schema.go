package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"ledgercore/pkg/logger"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the ledger tables and indexes. It is idempotent.
func Migrate(ctx context.Context, txManager *TxManager) error {
	err := txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		// Serialize concurrent migrations (server and worker starting together).
		if _, err := txManager.GetQuerier(ctx).Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('ledgercore_schema'))"); err != nil {
			return err
		}
		_, err := txManager.GetQuerier(ctx).Exec(ctx, schemaSQL)
		return err
	})
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	logger.Info(ctx, "schema migrated")
	return nil
}
