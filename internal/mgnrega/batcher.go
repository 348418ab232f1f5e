package mgnrega

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of records committed per write.
const DefaultBatchSize = 1000

// BatchStats summarizes the work of a Batcher.
type BatchStats struct {
	Considered int
	Upserted   int
	Failed     int
	Batches    int
}

// Batcher buffers records and commits them in fixed-size batches. Within one
// pending batch a repeated natural key replaces the earlier record, so a batch
// never writes the same key twice. Batcher does not retry failed writes.
type Batcher struct {
	w     RecordWriter
	size  int
	log   *zap.Logger
	stats BatchStats

	pending []DistrictRecord
	index   map[NaturalKey]int
}

// NewBatcher returns a batcher committing to w every size records.
func NewBatcher(w RecordWriter, size int) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{
		w:     w,
		size:  size,
		log:   zap.L().With(zap.String("component", "batcher")),
		index: make(map[NaturalKey]int, size),
	}
}

// Add buffers r, committing the pending batch once it is full.
func (b *Batcher) Add(ctx context.Context, r DistrictRecord) error {
	b.stats.Considered++
	if i, ok := b.index[r.Key()]; ok {
		b.pending[i] = r
		return nil
	}
	b.index[r.Key()] = len(b.pending)
	b.pending = append(b.pending, r)
	if len(b.pending) >= b.size {
		return b.Flush(ctx)
	}
	return nil
}

// Flush commits whatever is pending. Per-row failures are counted and logged;
// an error is returned only when the batch could not be committed at all.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]DistrictRecord, 0, b.size)
	clear(b.index)
	b.stats.Batches++

	res, err := b.w.UpsertRecords(ctx, batch)
	b.stats.Upserted += res.Upserted
	b.stats.Failed += res.Failed
	if err == nil {
		return nil
	}

	var partial *PartialWriteError
	if errors.As(err, &partial) {
		b.log.Warn("batch committed with row failures",
			zap.Int("batch", b.stats.Batches),
			zap.Int("size", len(batch)),
			zap.Int("failed", partial.Failed),
			zap.Error(partial.Err),
		)
		return nil
	}
	return eris.Wrapf(err, "mgnrega: commit batch %d (%d records)", b.stats.Batches, len(batch))
}

// Pending returns the number of buffered, uncommitted records.
func (b *Batcher) Pending() int { return len(b.pending) }

// Stats returns the counts so far.
func (b *Batcher) Stats() BatchStats { return b.stats }
