package mgnrega

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func row(code, finYear, month, updatedAt string) json.RawMessage {
	m := map[string]any{
		"state_name":    "Punjab",
		"state_code":    "03",
		"district_code": code,
		"district_name": "District " + code,
		"fin_year":      finYear,
		"month":         month,
	}
	if updatedAt != "" {
		m["updated_at"] = updatedAt
	}
	b, _ := json.Marshal(m)
	return b
}

// pagedSource serves rows in pages of limit and counts walks and requests.
type pagedSource struct {
	mu       sync.Mutex
	rows     []json.RawMessage
	limit    int
	failAt   int // page index that fails; -1 never
	walks    int
	requests int
}

func (s *pagedSource) open() (PageWalker, error) {
	s.mu.Lock()
	s.walks++
	s.mu.Unlock()
	return &pagedWalker{src: s}, nil
}

type pagedWalker struct {
	src  *pagedSource
	page int
	cur  []json.RawMessage
	done bool
	err  error
}

func (w *pagedWalker) Next(ctx context.Context) bool {
	w.cur = nil
	if w.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		w.err, w.done = err, true
		return false
	}
	w.src.mu.Lock()
	w.src.requests++
	w.src.mu.Unlock()
	if w.page == w.src.failAt {
		w.err, w.done = errors.New("fetch exhausted"), true
		return false
	}
	start := w.page * w.src.limit
	if start >= len(w.src.rows) {
		w.done = true
		return false
	}
	end := min(start+w.src.limit, len(w.src.rows))
	w.cur = w.src.rows[start:end]
	w.page++
	if end-start < w.src.limit || end == len(w.src.rows) {
		w.done = true
	}
	return true
}

func (w *pagedWalker) Records() []json.RawMessage { return w.cur }
func (w *pagedWalker) Err() error                 { return w.err }

// memStore is an in-memory RecordWriter that keeps every write for spying.
type memStore struct {
	mu       sync.Mutex
	records  map[NaturalKey]DistrictRecord
	writes   []DistrictRecord
	batches  []int
	failKeys map[string]bool // district codes whose writes fail
	down     bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[NaturalKey]DistrictRecord), failKeys: make(map[string]bool)}
}

func (m *memStore) UpsertRecords(_ context.Context, recs []DistrictRecord) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return WriteResult{}, errors.New("connection refused")
	}
	m.batches = append(m.batches, len(recs))

	seen := make(map[NaturalKey]bool, len(recs))
	var res WriteResult
	var lastErr error
	for _, r := range recs {
		if seen[r.Key()] {
			return WriteResult{}, fmt.Errorf("key %v written twice in one batch", r.Key())
		}
		seen[r.Key()] = true
		if m.failKeys[r.DistrictCode] {
			res.Failed++
			lastErr = fmt.Errorf("value rejected for district %s", r.DistrictCode)
			continue
		}
		m.records[r.Key()] = r
		m.writes = append(m.writes, r)
		res.Upserted++
	}
	if res.Failed > 0 {
		return res, &PartialWriteError{Failed: res.Failed, Err: lastErr}
	}
	return res, nil
}

func (m *memStore) snapshot() map[NaturalKey]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[NaturalKey]string, len(m.records))
	for k, r := range m.records {
		out[k] = string(r.Raw)
	}
	return out
}

// memLedger is an in-memory Ledger.
type memLedger struct {
	mu          sync.Mutex
	attempts    []SyncAttempt
	cutoffReads int
	failLookup  bool
}

func (l *memLedger) RecordAttempt(_ context.Context, a SyncAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	a.ID = int64(len(l.attempts) + 1)
	l.attempts = append(l.attempts, a)
	return nil
}

func (l *memLedger) LastSuccessfulSync(_ context.Context) (*time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cutoffReads++
	if l.failLookup {
		return nil, errors.New("ledger unavailable")
	}
	var last *time.Time
	for i := range l.attempts {
		a := l.attempts[i]
		if a.Success && (last == nil || a.FinishedAt.After(*last)) {
			t := a.FinishedAt
			last = &t
		}
	}
	return last, nil
}

func (l *memLedger) ListAttempts(_ context.Context, limit int) ([]SyncAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []SyncAttempt
	for i := len(l.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.attempts[i])
	}
	return out, nil
}

// stepClock advances by one second on every call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}
