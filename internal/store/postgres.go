package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/db"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/mgnrega"
)

const (
	recordsTable = "mgnrega.district_records"
	ledgerTable  = "mgnrega.sync_status"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(5)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertRecords writes recs keyed on (state_name, district_code, fin_year,
// month). The batch is copied in one transaction; if that fails each row is
// retried on its own so only the offending rows are lost.
func (s *PostgresStore) UpsertRecords(ctx context.Context, recs []mgnrega.DistrictRecord) (mgnrega.WriteResult, error) {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = recordValues(r)
	}

	res, err := db.UnorderedUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        recordsTable,
		Columns:      recordColumns,
		ConflictKeys: recordConflictKeys,
	}, rows)
	out := mgnrega.WriteResult{Upserted: int(res.Upserted), Failed: int(res.Failed)}
	if err != nil {
		return out, eris.Wrap(err, "postgres: upsert records")
	}
	if res.Failed > 0 {
		return out, &mgnrega.PartialWriteError{Failed: out.Failed, Err: res.Errors[0].Err}
	}
	return out, nil
}

func (s *PostgresStore) Latest(ctx context.Context, state string) ([]mgnrega.DistrictRecord, error) {
	cols := strings.Join(recordColumns, ", ")
	rows, err := s.pool.Query(ctx,
		`SELECT `+cols+` FROM (
			SELECT DISTINCT ON (district_code) id, `+cols+`
			FROM `+recordsTable+`
			WHERE state_name = $1
			ORDER BY district_code, fetched_at DESC, id DESC
		) latest
		ORDER BY district_name, district_code`,
		state,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query latest")
	}
	return collectRecords(rows)
}

func (s *PostgresStore) History(ctx context.Context, q mgnrega.HistoryQuery) ([]mgnrega.DistrictRecord, error) {
	cols := strings.Join(recordColumns, ", ")
	var (
		rows pgx.Rows
		err  error
	)
	if q.DistrictCode != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+cols+` FROM `+recordsTable+`
			 WHERE ($1 = '' OR state_name = $1) AND district_code = $2`,
			q.State, q.DistrictCode,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+cols+` FROM `+recordsTable+`
			 WHERE ($1 = '' OR state_name = $1) AND district_name ILIKE $2 ESCAPE '\'`,
			q.State, mgnrega.LikePattern(q.NameFragment),
		)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query history")
	}
	return collectRecords(rows)
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, a mgnrega.SyncAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+ledgerTable+`
		 (run_id, trigger_source, started_at, finished_at, success, error, fetched, upserted, failed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.RunID, a.Trigger, a.StartedAt, a.FinishedAt, a.Success, a.Error, a.Fetched, a.Upserted, a.Failed,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record sync attempt %s", a.RunID)
	}
	return nil
}

// LastSuccessfulSync returns the finished_at of the most recent successful run.
// Returns nil if no run has succeeded yet.
func (s *PostgresStore) LastSuccessfulSync(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT finished_at FROM `+ledgerTable+`
		 WHERE success ORDER BY finished_at DESC LIMIT 1`,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: last successful sync")
	}
	t = t.UTC()
	return &t, nil
}

func (s *PostgresStore) ListAttempts(ctx context.Context, limit int) ([]mgnrega.SyncAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, trigger_source, started_at, finished_at, success, error, fetched, upserted, failed
		 FROM `+ledgerTable+` ORDER BY started_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync attempts")
	}
	defer rows.Close()

	var out []mgnrega.SyncAttempt
	for rows.Next() {
		var a mgnrega.SyncAttempt
		if err := rows.Scan(&a.ID, &a.RunID, &a.Trigger, &a.StartedAt, &a.FinishedAt,
			&a.Success, &a.Error, &a.Fetched, &a.Upserted, &a.Failed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync attempt")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sync attempts")
}

func recordValues(r mgnrega.DistrictRecord) []any {
	var updatedAt any
	if !r.UpdatedAt.IsZero() {
		updatedAt = r.UpdatedAt.UTC()
	}
	return []any{
		r.StateName, r.StateCode, r.DistrictCode, r.DistrictName,
		r.FinYear, r.Month, string(r.Raw), r.FetchedAt.UTC(), updatedAt,
	}
}

func collectRecords(rows pgx.Rows) ([]mgnrega.DistrictRecord, error) {
	defer rows.Close()
	var out []mgnrega.DistrictRecord
	for rows.Next() {
		var (
			r         mgnrega.DistrictRecord
			raw       []byte
			updatedAt *time.Time
		)
		if err := rows.Scan(&r.StateName, &r.StateCode, &r.DistrictCode, &r.DistrictName,
			&r.FinYear, &r.Month, &raw, &r.FetchedAt, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		r.Raw = raw
		if updatedAt != nil {
			r.UpdatedAt = *updatedAt
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}
