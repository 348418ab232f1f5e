package mgnrega

import (
	"context"
	"fmt"
)

// WriteResult counts the outcome of one batch write.
type WriteResult struct {
	Upserted int
	Failed   int
}

// PartialWriteError reports rows of a batch that could not be written while
// the rest of the batch was. It never aborts a run.
type PartialWriteError struct {
	Failed int
	Err    error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("mgnrega: %d rows failed to write: %v", e.Failed, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// RecordWriter commits a batch of records with unordered semantics: each
// record is matched on its natural key, every field is replaced, and a record
// is inserted when absent. A failure of some rows is reported as a
// *PartialWriteError alongside the counts; any other error means the batch
// as a whole could not be committed.
type RecordWriter interface {
	UpsertRecords(ctx context.Context, recs []DistrictRecord) (WriteResult, error)
}

// RecordReader serves the two read views.
type RecordReader interface {
	// Latest returns, per district of state, the record with the greatest
	// FetchedAt, ordered by district name.
	Latest(ctx context.Context, state string) ([]DistrictRecord, error)

	// History returns every record matching q, in no particular order.
	History(ctx context.Context, q HistoryQuery) ([]DistrictRecord, error)
}

// RecordStore is a durable store of district records.
type RecordStore interface {
	RecordWriter
	RecordReader
}
