package postgres

import (
	"context"
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// BatchInserter provides bulk inserts over the COPY protocol.
// Sales touching several batches write all their events in one round-trip.
type BatchInserter struct {
	txManager *TxManager
}

// NewBatchInserter creates a new batch inserter.
func NewBatchInserter(txManager *TxManager) *BatchInserter {
	return &BatchInserter{txManager: txManager}
}

// CopyFromSlice performs bulk insert from a slice of rows.
// rows must match columns positionally.
func (b *BatchInserter) CopyFromSlice(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	tx := b.txManager.GetTx(ctx)
	if tx == nil {
		return 0, fmt.Errorf("CopyFromSlice requires transaction context")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// StructRows converts items into COPY rows for the given columns.
func StructRows[T any](items []T, columns []string) [][]any {
	rows := make([][]any, 0, len(items))
	for i := range items {
		m := StructToMap(&items[i])
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = copyValue(m[col])
		}
		rows = append(rows, row)
	}
	return rows
}

// copyValue converts v into a type pgx encodes in binary COPY format.
func copyValue(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return pgtype.Numeric{Int: x.Coefficient(), Exp: x.Exponent(), Valid: true}
	case uuid.UUID:
		return pgtype.UUID{Bytes: x, Valid: true}
	case *uuid.UUID:
		if x == nil {
			return nil
		}
		return pgtype.UUID{Bytes: *x, Valid: true}
	}
	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Kind() == reflect.String && rv.Type() != reflect.TypeOf("") {
		return rv.String()
	}
	return v
}
