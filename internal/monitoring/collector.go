package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/mgnrega"
)

// Snapshot holds a point-in-time view of sync health.
type Snapshot struct {
	// LastSuccess is the start of the latest successful run; nil if none.
	LastSuccess *time.Time `json:"last_success,omitempty"`
	// LastAttempt is the start of the most recent run of any outcome.
	LastAttempt *time.Time `json:"last_attempt,omitempty"`
	LastError   string     `json:"last_error,omitempty"`

	// ConsecutiveFailures counts failed runs since the last success, capped
	// at the number of attempts inspected.
	ConsecutiveFailures int `json:"consecutive_failures"`
	AttemptsInspected   int `json:"attempts_inspected"`

	CollectedAt time.Time `json:"collected_at"`
}

// SinceLastSuccess returns how long ago the last success started, or -1 when
// there has never been one.
func (s *Snapshot) SinceLastSuccess() time.Duration {
	if s.LastSuccess == nil {
		return -1
	}
	return s.CollectedAt.Sub(*s.LastSuccess)
}

// LedgerReader is the part of the sync ledger the collector reads.
type LedgerReader interface {
	LastSuccessfulSync(ctx context.Context) (*time.Time, error)
	ListAttempts(ctx context.Context, limit int) ([]mgnrega.SyncAttempt, error)
}

// Collector gathers sync health from the ledger.
type Collector struct {
	ledger LedgerReader
	now    func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(ledger LedgerReader) *Collector {
	return &Collector{ledger: ledger, now: time.Now}
}

// Collect inspects the most recent window attempts.
func (c *Collector) Collect(ctx context.Context, window int) (*Snapshot, error) {
	if window <= 0 {
		window = 10
	}
	snap := &Snapshot{CollectedAt: c.now().UTC()}

	last, err := c.ledger.LastSuccessfulSync(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last successful sync")
	}
	snap.LastSuccess = last

	attempts, err := c.ledger.ListAttempts(ctx, window)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sync attempts")
	}
	snap.AttemptsInspected = len(attempts)
	if len(attempts) > 0 {
		started := attempts[0].StartedAt
		snap.LastAttempt = &started
	}

	// Attempts are newest first.
	for _, a := range attempts {
		if a.Success {
			break
		}
		if snap.ConsecutiveFailures == 0 {
			snap.LastError = a.Error
		}
		snap.ConsecutiveFailures++
	}

	return snap, nil
}
