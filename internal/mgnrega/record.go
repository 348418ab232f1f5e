// Package mgnrega holds the district/month record model and the incremental
// sync engine that keeps a local store in step with the upstream resource.
package mgnrega

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DistrictRecord is one district's statistics for one month of one financial
// year. Raw is the upstream row, kept as an opaque JSON document.
type DistrictRecord struct {
	StateName    string
	StateCode    string
	DistrictCode string
	DistrictName string
	FinYear      string
	Month        string
	Raw          json.RawMessage
	FetchedAt    time.Time

	// UpdatedAt is the upstream update timestamp, zero when the row has none.
	UpdatedAt time.Time
}

// NaturalKey identifies a record across ingestions.
type NaturalKey struct {
	StateName    string
	DistrictCode string
	FinYear      string
	Month        string
}

// Key returns the natural key of r.
func (r DistrictRecord) Key() NaturalKey {
	return NaturalKey{
		StateName:    r.StateName,
		DistrictCode: r.DistrictCode,
		FinYear:      r.FinYear,
		Month:        r.Month,
	}
}

// ChangedAt is the timestamp the incremental filter compares with the cutoff:
// the upstream update time, or the ingestion time when the row carries none.
func (r DistrictRecord) ChangedAt() time.Time {
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt
	}
	return r.FetchedAt
}

// NormalizeState upper-cases a state name the way keys are stored.
func NormalizeState(s string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(s))
}

// timestampLayouts are the formats seen in updated_at across resources.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006 15:04:05",
	"02-01-2006",
}

// FromRow decodes one upstream row. A row without a district code, financial
// year or month cannot be keyed and is rejected.
func FromRow(raw json.RawMessage, fetchedAt time.Time) (DistrictRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return DistrictRecord{}, eris.Wrap(err, "mgnrega: decode row")
	}
	if row == nil {
		return DistrictRecord{}, eris.New("mgnrega: row is not an object")
	}

	rec := DistrictRecord{
		StateName:    NormalizeState(field(row, "state_name")),
		StateCode:    field(row, "state_code"),
		DistrictCode: field(row, "district_code"),
		DistrictName: field(row, "district_name"),
		FinYear:      field(row, "fin_year"),
		Month:        field(row, "month"),
		Raw:          raw,
		FetchedAt:    fetchedAt,
	}
	switch {
	case rec.DistrictCode == "":
		return rec, eris.New("mgnrega: row has no district_code")
	case rec.FinYear == "":
		return rec, eris.Errorf("mgnrega: row for district %s has no fin_year", rec.DistrictCode)
	case rec.Month == "":
		return rec, eris.Errorf("mgnrega: row for district %s has no month", rec.DistrictCode)
	}

	for _, k := range []string{"updated_at", "fetchedAt"} {
		if ts, ok := parseTimestamp(field(row, k)); ok {
			rec.UpdatedAt = ts
			break
		}
	}
	return rec, nil
}

// field renders a scalar row value as a trimmed string.
func field(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
