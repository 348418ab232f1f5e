package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// rejected is what the server answers for a row it cannot store.
func rejected(code, msg string) error {
	return &pgconn.PgError{Severity: "ERROR", Code: code, Message: msg}
}

var testCfg = UpsertConfig{
	Table:        "mgnrega.test",
	Columns:      []string{"id", "name"},
	ConflictKeys: []string{"id"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, testCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "mgnrega.test",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "mgnrega.test",
		Columns: []string{"id", "name"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_mgnrega_test"}, []string{"id", "name"}).WillReturnResult(2)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, testCfg, [][]any{{1, "a"}, {2, "b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEach_IsolatesFailures(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO").WithArgs(1, "a").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO").WithArgs(2, "b").WillReturnError(rejected("22001", "value too long"))
	mock.ExpectExec("INSERT INTO").WithArgs(3, "c").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res, err := UpsertEach(context.Background(), mock, testCfg, [][]any{{1, "a"}, {2, "b"}, {3, "c"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Upserted)
	assert.Equal(t, int64(1), res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnorderedUpsert_FallsBackToEachRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_mgnrega_test"}, []string{"id", "name"}).
		WillReturnError(rejected("22021", "invalid byte sequence"))
	mock.ExpectRollback()
	mock.ExpectExec("INSERT INTO").WithArgs(1, "a").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO").WithArgs(2, "b").WillReturnError(rejected("22021", "invalid byte sequence"))

	res, err := UnorderedUpsert(context.Background(), mock, testCfg, [][]any{{1, "a"}, {2, "b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Upserted)
	assert.Equal(t, int64(1), res.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnorderedUpsert_StoreUnreachable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	mock.ExpectExec("INSERT INTO").WillReturnError(errors.New("connection refused"))

	res, err := UnorderedUpsert(context.Background(), mock, testCfg, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int64(0), res.Upserted)
	assert.Equal(t, int64(0), res.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnorderedUpsert_OnlyRowRejected(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_mgnrega_test"}, []string{"id", "name"}).
		WillReturnError(rejected("22P05", "unsupported Unicode escape sequence"))
	mock.ExpectRollback()
	mock.ExpectExec("INSERT INTO").WithArgs(1, "a\u0000").
		WillReturnError(rejected("22P05", "unsupported Unicode escape sequence"))

	res, err := UnorderedUpsert(context.Background(), mock, testCfg, [][]any{{1, "a\u0000"}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Upserted)
	assert.Equal(t, int64(1), res.Failed)
	require.Len(t, res.Errors, 1)
	assert.True(t, IsRowError(res.Errors[0].Err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEach_StopsWhenConnectionLost(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO").WithArgs(1, "a").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO").WithArgs(2, "b").WillReturnError(errors.New("conn closed"))

	res, err := UpsertEach(context.Background(), mock, testCfg, [][]any{{1, "a"}, {2, "b"}, {3, "c"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")
	assert.Equal(t, int64(1), res.Upserted)
	assert.Equal(t, int64(0), res.Failed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRowError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("connection refused"), false},
		{"string too long", rejected("22001", "value too long"), true},
		{"unique violation", rejected("23505", "duplicate key"), true},
		{"connection failure", rejected("08006", "connection failure"), false},
		{"out of memory", rejected("53200", "out of memory"), false},
		{"admin shutdown", rejected("57P01", "terminating connection"), false},
		{"wrapped", fmt.Errorf("exec: %w", rejected("22P02", "invalid input syntax")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRowError(tt.err))
		})
	}
}

func TestOnConflictClause(t *testing.T) {
	got := testCfg.onConflictClause()
	assert.Equal(t, `ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name"`, got)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"mgnrega.district_records", `"mgnrega"."district_records"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
