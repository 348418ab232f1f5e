package mgnrega

import (
	"context"
	"time"
)

// Trigger sources recorded on each attempt.
const (
	TriggerCron = "cron"
	TriggerAPI  = "api"
	TriggerCLI  = "cli"
)

// SyncAttempt is one ledger entry. Entries are append-only.
type SyncAttempt struct {
	ID      int64
	RunID   string
	Trigger string

	StartedAt time.Time

	// FinishedAt is when the attempt concluded. For successful runs it is
	// the cutoff the next incremental run filters against.
	FinishedAt time.Time

	Success  bool
	Error    string
	Fetched  int
	Upserted int
	Failed   int
}

// Ledger records sync attempts and answers the incremental cutoff.
type Ledger interface {
	// RecordAttempt appends one entry.
	RecordAttempt(ctx context.Context, a SyncAttempt) error

	// LastSuccessfulSync returns the FinishedAt of the most recent successful
	// attempt, or nil when no attempt has succeeded.
	LastSuccessfulSync(ctx context.Context) (*time.Time, error)

	// ListAttempts returns up to limit entries, newest first.
	ListAttempts(ctx context.Context, limit int) ([]SyncAttempt, error)
}
