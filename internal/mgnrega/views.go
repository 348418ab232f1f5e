package mgnrega

import (
	"context"

	"github.com/rotisserie/eris"
)

// Views answers the read-side queries for one state.
type Views struct {
	store RecordReader
	state string
}

// NewViews returns read views over store scoped to state.
func NewViews(store RecordReader, state string) *Views {
	return &Views{store: store, state: NormalizeState(state)}
}

// State is the normalized state the views are scoped to.
func (v *Views) State() string { return v.state }

// Latest returns the most recently fetched record of every district. An empty
// store yields an empty slice.
func (v *Views) Latest(ctx context.Context) ([]DistrictRecord, error) {
	recs, err := v.store.Latest(ctx, v.state)
	if err != nil {
		return nil, eris.Wrap(err, "mgnrega: latest view")
	}
	if recs == nil {
		recs = []DistrictRecord{}
	}
	return recs, nil
}

// History returns every record of the district identified by id, newest
// financial period first. It returns ErrNotFound when nothing matches.
func (v *Views) History(ctx context.Context, id string) ([]DistrictRecord, error) {
	q := ParseDistrictID(v.state, id)
	if q.DistrictCode == "" && q.NameFragment == "" {
		return nil, ErrNotFound
	}
	recs, err := v.store.History(ctx, q)
	if err != nil {
		return nil, eris.Wrapf(err, "mgnrega: history of district %q", id)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	SortHistory(recs)
	return recs, nil
}
