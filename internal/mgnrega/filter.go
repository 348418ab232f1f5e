package mgnrega

import "time"

// Filter is the incremental predicate of a run. A nil cutoff keeps every row.
type Filter struct {
	cutoff *time.Time
}

// NewFilter returns a filter for the given cutoff.
func NewFilter(cutoff *time.Time) Filter {
	return Filter{cutoff: cutoff}
}

// Keep reports whether r changed strictly after the cutoff.
func (f Filter) Keep(r DistrictRecord) bool {
	if f.cutoff == nil {
		return true
	}
	return r.ChangedAt().After(*f.cutoff)
}
