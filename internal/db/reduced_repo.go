package db

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"reducer/internal/types"
)

// fixedColumns lead every reduced table; feed columns follow in manifest order.
var fixedColumns = []string{"reservoir", "date", "timestamp"}

// ReducedRepository reads and appends the per-feed reduced tables.
type ReducedRepository struct {
	db TxDB
}

// NewReducedRepository creates a new ReducedRepository. PushRows needs
// transactions, so db must be able to Begin (a *pgxpool.Pool).
func NewReducedRepository(db TxDB) *ReducedRepository {
	return &ReducedRepository{db: db}
}

// LatestDates returns the most recent reduced date of every reservoir present
// in the feed's table. Reservoirs without rows are absent from the map.
//
// SQL:
//
//	SELECT reservoir, date FROM (
//	  SELECT reservoir, date,
//	         ROW_NUMBER() OVER (PARTITION BY reservoir ORDER BY date DESC) AS seqnum
//	  FROM <table>) t
//	WHERE seqnum = 1
func (r *ReducedRepository) LatestDates(ctx context.Context, spec types.FeedSpec) (map[string]time.Time, error) {
	ident, err := tableIdentifier(spec.Table)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, fmt.Sprintf(
		`SELECT reservoir, date
		 FROM (SELECT reservoir, date,
		              ROW_NUMBER() OVER (PARTITION BY reservoir ORDER BY date DESC) AS seqnum
		       FROM %s) t
		 WHERE seqnum = 1`, ident.Sanitize()),
	)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeInternalDB, "failed to query latest reduced dates", err,
			map[string]any{"table": spec.Table})
	}
	defer rows.Close()

	result := make(map[string]time.Time)
	for rows.Next() {
		var (
			reservoir string
			date      time.Time
		)
		if err := rows.Scan(&reservoir, &date); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan latest reduced date", err)
		}
		result[reservoir] = types.TruncateDay(date)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating latest reduced dates", err)
	}

	return result, nil
}

// PushRows appends every row of set to the feed's table in a single
// transaction using COPY. Either all rows are committed or none are; any
// failure, including a short copy, returns store_write_failed.
func (r *ReducedRepository) PushRows(ctx context.Context, spec types.FeedSpec, set *types.RowSet) (int, error) {
	if set.Len() == 0 {
		return 0, nil
	}
	ident, err := tableIdentifier(spec.Table)
	if err != nil {
		return 0, err
	}

	columns := append(append([]string(nil), fixedColumns...), set.Columns...)
	src, err := copyRows(set)
	if err != nil {
		return 0, storeError(spec.Table, "failed to encode rows", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, storeError(spec.Table, "failed to begin transaction", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := tx.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(src))
	if err != nil {
		return 0, storeError(spec.Table, "failed to copy rows", err)
	}
	if int(n) != len(src) {
		return 0, storeError(spec.Table, fmt.Sprintf("copied %d of %d rows", n, len(src)), nil)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, storeError(spec.Table, "failed to commit rows", err)
	}
	return int(n), nil
}

func copyRows(set *types.RowSet) ([][]any, error) {
	out := make([][]any, 0, len(set.Rows))
	for _, row := range set.Rows {
		date, err := types.ParseDate(row.Date)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", row.Reservoir, err)
		}
		stamp, err := time.ParseInLocation(types.TimestampLayout, row.Timestamp, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", row.Reservoir, err)
		}

		vals := make([]any, 0, len(fixedColumns)+len(set.Columns))
		vals = append(vals, row.Reservoir, date, stamp)
		for _, c := range set.Columns {
			if set.HasLead {
				vals = append(vals, leadArray(row.Leads[c]))
				continue
			}
			v, ok := row.Values[c]
			if !ok || math.IsNaN(v) {
				vals = append(vals, nil)
				continue
			}
			vals = append(vals, v)
		}
		out = append(out, vals)
	}
	return out, nil
}

// leadArray maps NaN entries to NULL array elements.
func leadArray(seq []float64) []*float64 {
	out := make([]*float64, len(seq))
	for i := range seq {
		if !math.IsNaN(seq[i]) {
			out[i] = &seq[i]
		}
	}
	return out
}

func storeError(table, msg string, err error) error {
	return types.NewAppErrorWithDetails(types.ErrCodeStoreWriteFailed, msg, err, map[string]any{"table": table})
}
