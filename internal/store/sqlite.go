package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/mgnrega"
)

// sqliteTime is fixed width so stored timestamps sort as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the pragmas below in force for every statement.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS district_records (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	state_name    TEXT NOT NULL,
	state_code    TEXT NOT NULL DEFAULT '',
	district_code TEXT NOT NULL,
	district_name TEXT NOT NULL DEFAULT '',
	fin_year      TEXT NOT NULL,
	month         TEXT NOT NULL,
	raw           TEXT NOT NULL CHECK (json_valid(raw)),
	fetched_at    TEXT NOT NULL,
	updated_at    TEXT,
	UNIQUE (state_name, district_code, fin_year, month)
);

CREATE INDEX IF NOT EXISTS idx_district_records_latest
	ON district_records (state_name, district_code, fetched_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS sync_status (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	trigger_source TEXT NOT NULL DEFAULT '',
	started_at     TEXT NOT NULL,
	finished_at    TEXT NOT NULL,
	success        INTEGER NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	fetched        INTEGER NOT NULL DEFAULT 0,
	upserted       INTEGER NOT NULL DEFAULT 0,
	failed         INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_status_success_started
	ON sync_status (success, started_at DESC);

CREATE INDEX IF NOT EXISTS idx_sync_status_success_finished
	ON sync_status (success, finished_at DESC);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var sqliteUpsert = func() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", ")
	var set []string
	for _, c := range recordColumns {
		if !isConflictKey(c) {
			set = append(set, c+" = excluded."+c)
		}
	}
	return "INSERT INTO district_records (" + strings.Join(recordColumns, ", ") + ") VALUES (" + placeholders + ")" +
		" ON CONFLICT (" + strings.Join(recordConflictKeys, ", ") + ") DO UPDATE SET " + strings.Join(set, ", ")
}()

func isConflictKey(col string) bool {
	for _, k := range recordConflictKeys {
		if k == col {
			return true
		}
	}
	return false
}

// UpsertRecords writes recs in one transaction. A row that fails only rolls
// back its own statement; the rest of the batch is committed.
func (s *SQLiteStore) UpsertRecords(ctx context.Context, recs []mgnrega.DistrictRecord) (mgnrega.WriteResult, error) {
	var res mgnrega.WriteResult
	if len(recs) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsert)
	if err != nil {
		return res, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var firstErr error
	for _, r := range recs {
		var updatedAt any
		if !r.UpdatedAt.IsZero() {
			updatedAt = r.UpdatedAt.UTC().Format(sqliteTime)
		}
		if _, err := stmt.ExecContext(ctx,
			r.StateName, r.StateCode, r.DistrictCode, r.DistrictName,
			r.FinYear, r.Month, string(r.Raw), r.FetchedAt.UTC().Format(sqliteTime), updatedAt,
		); err != nil {
			if ctx.Err() != nil {
				return mgnrega.WriteResult{}, eris.Wrap(err, "sqlite: upsert records")
			}
			res.Failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.Upserted++
	}

	if err := tx.Commit(); err != nil {
		return mgnrega.WriteResult{}, eris.Wrap(err, "sqlite: commit upsert")
	}
	if res.Failed > 0 {
		return res, &mgnrega.PartialWriteError{Failed: res.Failed, Err: firstErr}
	}
	return res, nil
}

func (s *SQLiteStore) Latest(ctx context.Context, state string) ([]mgnrega.DistrictRecord, error) {
	cols := strings.Join(recordColumns, ", ")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cols+` FROM (
			SELECT `+cols+`, ROW_NUMBER() OVER (
				PARTITION BY district_code ORDER BY fetched_at DESC, id DESC
			) AS rn
			FROM district_records
			WHERE state_name = ?
		) WHERE rn = 1
		ORDER BY district_name, district_code`,
		state,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query latest")
	}
	return scanSQLiteRecords(rows)
}

func (s *SQLiteStore) History(ctx context.Context, q mgnrega.HistoryQuery) ([]mgnrega.DistrictRecord, error) {
	cols := strings.Join(recordColumns, ", ")
	var (
		rows *sql.Rows
		err  error
	)
	if q.DistrictCode != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM district_records
			 WHERE (? = '' OR state_name = ?) AND district_code = ?`,
			q.State, q.State, q.DistrictCode,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+cols+` FROM district_records
			 WHERE (? = '' OR state_name = ?) AND district_name LIKE ? ESCAPE '\'`,
			q.State, q.State, mgnrega.LikePattern(q.NameFragment),
		)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query history")
	}
	return scanSQLiteRecords(rows)
}

func (s *SQLiteStore) RecordAttempt(ctx context.Context, a mgnrega.SyncAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_status
		 (run_id, trigger_source, started_at, finished_at, success, error, fetched, upserted, failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Trigger, a.StartedAt.UTC().Format(sqliteTime), a.FinishedAt.UTC().Format(sqliteTime),
		a.Success, a.Error, a.Fetched, a.Upserted, a.Failed,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record sync attempt %s", a.RunID)
	}
	return nil
}

func (s *SQLiteStore) LastSuccessfulSync(ctx context.Context) (*time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT finished_at FROM sync_status WHERE success = 1 ORDER BY finished_at DESC LIMIT 1`,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last successful sync")
	}
	t, err := time.Parse(sqliteTime, raw)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse finished_at")
	}
	return &t, nil
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, limit int) ([]mgnrega.SyncAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, trigger_source, started_at, finished_at, success, error, fetched, upserted, failed
		 FROM sync_status ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync attempts")
	}
	defer rows.Close() //nolint:errcheck

	var out []mgnrega.SyncAttempt
	for rows.Next() {
		var (
			a                 mgnrega.SyncAttempt
			started, finished string
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.Trigger, &started, &finished,
			&a.Success, &a.Error, &a.Fetched, &a.Upserted, &a.Failed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync attempt")
		}
		if a.StartedAt, err = time.Parse(sqliteTime, started); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse started_at")
		}
		if a.FinishedAt, err = time.Parse(sqliteTime, finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse finished_at")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sync attempts")
}

func scanSQLiteRecords(rows *sql.Rows) ([]mgnrega.DistrictRecord, error) {
	defer rows.Close() //nolint:errcheck
	var out []mgnrega.DistrictRecord
	for rows.Next() {
		var (
			r         mgnrega.DistrictRecord
			raw       string
			fetchedAt string
			updatedAt sql.NullString
		)
		if err := rows.Scan(&r.StateName, &r.StateCode, &r.DistrictCode, &r.DistrictName,
			&r.FinYear, &r.Month, &raw, &fetchedAt, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		r.Raw = []byte(raw)
		t, err := time.Parse(sqliteTime, fetchedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse fetched_at")
		}
		r.FetchedAt = t
		if updatedAt.Valid {
			if r.UpdatedAt, err = time.Parse(sqliteTime, updatedAt.String); err != nil {
				return nil, eris.Wrap(err, "sqlite: parse updated_at")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}
