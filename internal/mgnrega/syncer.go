package mgnrega

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/metrics"
)

// ErrConfiguration marks a sync that cannot start because of missing setup.
var ErrConfiguration = errors.New("mgnrega: configuration error")

// PageWalker yields upstream pages in offset order. See datagov.Pager.
type PageWalker interface {
	Next(ctx context.Context) bool
	Records() []json.RawMessage
	Err() error
}

// PageOpener starts a fresh walk for one run.
type PageOpener func() (PageWalker, error)

// SyncerConfig wires a Syncer.
type SyncerConfig struct {
	Pages     PageOpener
	Store     RecordWriter
	Ledger    Ledger
	BatchSize int

	// Now defaults to time.Now.
	Now func() time.Time
}

// RunOptions controls a single run.
type RunOptions struct {
	Trigger string
	// Full ignores the ledger cutoff and reconsiders every upstream row.
	Full bool
}

// Result reports what one run did.
type Result struct {
	RunID      string     `json:"run_id"`
	Trigger    string     `json:"trigger"`
	Cutoff     *time.Time `json:"cutoff,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Pages      int        `json:"pages"`
	Fetched    int        `json:"fetched"`
	Skipped    int        `json:"skipped"`
	Upserted   int        `json:"upserted"`
	Failed     int        `json:"failed"`
}

// Syncer runs the incremental sync: read the cutoff once, walk upstream
// pages, filter, batch-upsert, and append exactly one ledger entry.
type Syncer struct {
	pages     PageOpener
	store     RecordWriter
	ledger    Ledger
	batchSize int
	now       func() time.Time
	inFlight  atomic.Int32
	log       *zap.Logger
}

// NewSyncer validates cfg and returns a Syncer.
func NewSyncer(cfg SyncerConfig) (*Syncer, error) {
	switch {
	case cfg.Pages == nil:
		return nil, eris.Wrap(ErrConfiguration, "page opener is nil")
	case cfg.Store == nil:
		return nil, eris.Wrap(ErrConfiguration, "record store is nil")
	case cfg.Ledger == nil:
		return nil, eris.Wrap(ErrConfiguration, "ledger is nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Syncer{
		pages:     cfg.Pages,
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		batchSize: cfg.BatchSize,
		now:       cfg.Now,
		log:       zap.L().With(zap.String("component", "syncer")),
	}, nil
}

// Run performs one sync. Whatever happens, one attempt is appended to the
// ledger; a failed run returns the error after recording it. Rows committed
// before a failure stay committed.
func (s *Syncer) Run(ctx context.Context, opts RunOptions) (Result, error) {
	res := Result{
		RunID:     uuid.NewString(),
		Trigger:   opts.Trigger,
		StartedAt: s.now().UTC(),
	}
	log := s.log.With(zap.String("run_id", res.RunID), zap.String("trigger", opts.Trigger))

	metrics.SyncInFlight.Inc()
	defer metrics.SyncInFlight.Dec()
	if s.inFlight.Add(1) > 1 {
		metrics.SyncOverlaps.Inc()
		log.Warn("sync started while another run is in flight")
	}
	defer s.inFlight.Add(-1)

	runErr := s.run(ctx, opts, &res, log)
	res.FinishedAt = s.now().UTC()

	attempt := SyncAttempt{
		RunID:      res.RunID,
		Trigger:    opts.Trigger,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Success:    runErr == nil,
		Fetched:    res.Fetched,
		Upserted:   res.Upserted,
		Failed:     res.Failed,
	}
	if runErr != nil {
		attempt.Error = runErr.Error()
	}

	// Record even if the caller's context is already done.
	if err := s.ledger.RecordAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		log.Error("failed to record sync attempt", zap.Error(err))
		if runErr == nil {
			runErr = eris.Wrap(err, "mgnrega: record sync attempt")
		}
	}

	metrics.RecordSyncRun(opts.Trigger, res.FinishedAt.Sub(res.StartedAt),
		res.Fetched, res.Upserted, res.Failed, res.Skipped, runErr)

	if runErr != nil {
		log.Error("sync failed",
			zap.Int("pages", res.Pages),
			zap.Int("fetched", res.Fetched),
			zap.Int("upserted", res.Upserted),
			zap.Error(runErr),
		)
		return res, runErr
	}
	log.Info("sync complete",
		zap.Int("pages", res.Pages),
		zap.Int("fetched", res.Fetched),
		zap.Int("skipped", res.Skipped),
		zap.Int("upserted", res.Upserted),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}

func (s *Syncer) run(ctx context.Context, opts RunOptions, res *Result, log *zap.Logger) error {
	if !opts.Full {
		cutoff, err := s.ledger.LastSuccessfulSync(ctx)
		if err != nil {
			return eris.Wrap(err, "mgnrega: read last successful sync")
		}
		res.Cutoff = cutoff
	}
	if res.Cutoff != nil {
		log.Info("sync started", zap.Time("cutoff", *res.Cutoff))
	} else {
		log.Info("sync started", zap.Bool("full", true))
	}

	walker, err := s.pages()
	if err != nil {
		return eris.Wrap(err, "mgnrega: open upstream")
	}

	filter := NewFilter(res.Cutoff)
	batcher := NewBatcher(s.store, s.batchSize)
	defer func() {
		stats := batcher.Stats()
		res.Upserted = stats.Upserted
		res.Failed += stats.Failed
	}()

	for walker.Next(ctx) {
		res.Pages++
		metrics.SyncPages.Inc()
		ingested := s.now().UTC()
		for _, raw := range walker.Records() {
			res.Fetched++
			rec, err := FromRow(raw, ingested)
			if err != nil {
				res.Failed++
				log.Warn("skipping malformed row", zap.Error(err))
				continue
			}
			if !filter.Keep(rec) {
				res.Skipped++
				continue
			}
			if err := batcher.Add(ctx, rec); err != nil {
				return err
			}
		}
		log.Debug("page processed",
			zap.Int("page", res.Pages),
			zap.Int("fetched", res.Fetched),
			zap.Int("pending", batcher.Pending()),
		)
	}

	if walkErr := walker.Err(); walkErr != nil {
		// Commit fully fetched rows before giving up on the run.
		if err := batcher.Flush(context.WithoutCancel(ctx)); err != nil {
			log.Warn("flush after walk failure", zap.Error(err))
		}
		return eris.Wrap(walkErr, "mgnrega: walk upstream pages")
	}
	return batcher.Flush(ctx)
}
