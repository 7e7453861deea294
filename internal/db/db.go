// Package db provides PostgreSQL-backed repositories for the reducer: the
// tracked reservoir geometries, the reduced feed tables, and the job lock and
// history tables used to serialize runs. All repositories accept a DBTX
// interface that is satisfied by both *pgxpool.Pool (for normal queries) and
// pgx.Tx (for transactional execution).
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"reducer/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB is a DBTX that can also open transactions. *pgxpool.Pool satisfies it.
type TxDB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// tableIdentifier turns a manifest table name ("schema.table" or "table")
// into a quoted identifier.
func tableIdentifier(table string) (pgx.Identifier, error) {
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return nil, types.NewAppError(types.ErrCodeConfigInvalidManifest,
			fmt.Sprintf("table name %q has too many parts", table), nil)
	}
	for _, p := range parts {
		if p == "" {
			return nil, types.NewAppError(types.ErrCodeConfigInvalidManifest,
				fmt.Sprintf("table name %q is malformed", table), nil)
		}
	}
	return pgx.Identifier(parts), nil
}
