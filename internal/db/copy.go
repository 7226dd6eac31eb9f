package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using the PostgreSQL COPY
// protocol, the fastest path for large batches.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// CopyFromChunked splits rows into fixed-size chunks and COPYs each one,
// returning the total number of rows persisted. Oversized single batches
// otherwise exhaust server-side memory on narrow instances.
func CopyFromChunked(ctx context.Context, pool Pool, table string, columns []string, rows [][]any, chunkSize int) (int64, error) {
	if chunkSize <= 0 {
		chunkSize = 1000
	}

	var total int64
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := CopyFrom(ctx, pool, table, columns, rows[start:end])
		if err != nil {
			return total, eris.Wrapf(err, "db: chunk starting at %d", start)
		}
		total += n
	}
	return total, nil
}
