package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// UpsertConfig defines the parameters for a bulk upsert operation.
type UpsertConfig struct {
	Table        string   // target table (e.g., "mgnrega.district_records")
	Columns      []string // all columns being inserted
	ConflictKeys []string // columns forming the unique constraint
	UpdateCols   []string // columns to update on conflict; nil = all non-conflict columns
}

// RowError records a single row that could not be written.
type RowError struct {
	Index int
	Err   error
}

// UpsertResult summarizes an unordered upsert.
type UpsertResult struct {
	Upserted int64
	Failed   int64
	Errors   []RowError
}

func (c UpsertConfig) validate() error {
	if len(c.Columns) == 0 {
		return eris.New("db: upsert: no columns specified")
	}
	if len(c.ConflictKeys) == 0 {
		return eris.New("db: upsert: no conflict keys specified")
	}
	return nil
}

func (c UpsertConfig) updateColumns() []string {
	if c.UpdateCols != nil {
		return c.UpdateCols
	}
	conflictSet := make(map[string]bool, len(c.ConflictKeys))
	for _, k := range c.ConflictKeys {
		conflictSet[k] = true
	}
	var cols []string
	for _, col := range c.Columns {
		if !conflictSet[col] {
			cols = append(cols, col)
		}
	}
	return cols
}

// onConflictClause renders "ON CONFLICT (keys) DO UPDATE SET c = EXCLUDED.c, ...".
func (c UpsertConfig) onConflictClause() string {
	var setClauses []string
	for _, col := range c.updateColumns() {
		id := pgx.Identifier{col}.Sanitize()
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", id, id))
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s",
		quoteAndJoin(c.ConflictKeys), strings.Join(setClauses, ", "))
}

// BulkUpsert performs a bulk upsert via a temp table and INSERT ... ON CONFLICT.
// 1. Creates a temp table with the same columns
// 2. COPY rows into the temp table
// 3. INSERT INTO target SELECT ... FROM temp ON CONFLICT (keys) DO UPDATE SET ...
// 4. Drops the temp table on commit
//
// The whole call is one transaction: either every row is written or none is.
// Rows must not repeat a conflict key, Postgres rejects a statement that
// touches the same row twice.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := cfg.validate(); err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: upsert: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tempTable := tempTableName(cfg.Table)

	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tempTable}.Sanitize(),
		sanitizeTable(cfg.Table),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: create temp table for %s", cfg.Table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tempTable}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert: COPY into temp table for %s", cfg.Table)
	}

	colList := quoteAndJoin(cfg.Columns)
	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s %s",
		sanitizeTable(cfg.Table),
		colList,
		colList,
		pgx.Identifier{tempTable}.Sanitize(),
		cfg.onConflictClause(),
	)

	tag, err := tx.Exec(ctx, upsertSQL)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert: INSERT ON CONFLICT for %s", cfg.Table)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: upsert: commit tx")
	}

	return tag.RowsAffected(), nil
}

// IsRowError reports whether err is the server rejecting a statement, as
// opposed to the connection or the server itself failing. Connection
// exceptions (SQLSTATE class 08), insufficient resources (53) and operator
// intervention (57) are not row errors, and neither is any error that did not
// come back from the server.
func IsRowError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch class := pgErr.Code[:min(2, len(pgErr.Code))]; class {
	case "08", "53", "57":
		return false
	default:
		return class != ""
	}
}

// UpsertEach writes rows one statement at a time outside any transaction, so a
// rejected row never prevents its siblings from being written. The first
// failure that is not a row error (see IsRowError) stops the loop and is
// returned with the counts so far.
func UpsertEach(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (UpsertResult, error) {
	var res UpsertResult
	if len(rows) == 0 {
		return res, nil
	}
	if err := cfg.validate(); err != nil {
		return res, err
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		cfg.onConflictClause(),
	)

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "db: upsert each: context cancelled")
		}
		if _, err := pool.Exec(ctx, insertSQL, row...); err != nil {
			if !IsRowError(err) {
				return res, eris.Wrapf(err, "db: upsert each: row %d of %s", i, cfg.Table)
			}
			res.Failed++
			res.Errors = append(res.Errors, RowError{Index: i, Err: err})
			continue
		}
		res.Upserted++
	}
	return res, nil
}

// UnorderedUpsert commits rows with unordered semantics: it first tries the
// single-transaction BulkUpsert and, if that fails, retries every row on its
// own via UpsertEach so per-row failures only cost the failing rows.
//
// Rows the server rejects are reported in the result, even when that is every
// row. An error is returned only when the store itself failed.
func UnorderedUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (UpsertResult, error) {
	if len(rows) == 0 {
		return UpsertResult{}, nil
	}

	n, err := BulkUpsert(ctx, pool, cfg, rows)
	if err == nil {
		return UpsertResult{Upserted: n}, nil
	}
	if ctx.Err() != nil {
		return UpsertResult{}, err
	}

	zap.L().Warn("db: bulk upsert failed, retrying rows individually",
		zap.String("table", cfg.Table),
		zap.Int("rows", len(rows)),
		zap.Error(err),
	)

	return UpsertEach(ctx, pool, cfg, rows)
}

func tempTableName(table string) string {
	return fmt.Sprintf("_tmp_upsert_%s", strings.ReplaceAll(table, ".", "_"))
}

// sanitizeTable handles schema-qualified table names like "mgnrega.district_records".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
