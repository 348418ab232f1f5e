package mgnrega

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNotFound is returned when a history lookup matches no records.
var ErrNotFound = errors.New("mgnrega: no records found")

// HistoryQuery selects the records of one district. Exactly one of
// DistrictCode and NameFragment is set.
type HistoryQuery struct {
	State        string
	DistrictCode string
	NameFragment string
}

// ParseDistrictID turns a path identifier into a query: all-digit ids match
// district_code exactly, anything else is a case-insensitive name fragment.
func ParseDistrictID(state, id string) HistoryQuery {
	id = strings.TrimSpace(id)
	q := HistoryQuery{State: state}
	if IsDistrictCode(id) {
		q.DistrictCode = id
	} else {
		q.NameFragment = id
	}
	return q
}

// IsDistrictCode reports whether id is a non-empty run of ASCII digits.
func IsDistrictCode(id string) bool {
	if id == "" {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// LikePattern builds a LIKE pattern matching fragment anywhere, with the
// wildcard characters in fragment escaped by backslash.
func LikePattern(fragment string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(fragment) + "%"
}

// MatchesName reports whether name contains fragment, ignoring case.
func MatchesName(name, fragment string) bool {
	fold := cases.Fold()
	return strings.Contains(fold.String(name), fold.String(fragment))
}

// monthIndex maps a month label to its position in the Indian financial year,
// April = 1 through March = 12.
var monthIndex = map[string]int{
	"apr": 1, "april": 1,
	"may": 2,
	"jun": 3, "june": 3,
	"jul": 4, "july": 4,
	"aug": 5, "august": 5,
	"sep": 6, "sept": 6, "september": 6,
	"oct": 7, "october": 7,
	"nov": 8, "november": 8,
	"dec": 9, "december": 9,
	"jan": 10, "january": 10,
	"feb": 11, "february": 11,
	"mar": 12, "march": 12,
}

// FiscalMonth returns the financial-year position of a month label, or 0 for
// labels it does not recognise. Calendar numbers 1-12 are accepted too.
func FiscalMonth(label string) int {
	s := cases.Lower(language.Und).String(strings.TrimSpace(label))
	if i, ok := monthIndex[s]; ok {
		return i
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= 12 {
		return (n+8)%12 + 1
	}
	return 0
}

// SortHistory orders records by financial year descending, then month
// descending in financial-year order. Unknown months sort last within a year.
func SortHistory(recs []DistrictRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].FinYear != recs[j].FinYear {
			return recs[i].FinYear > recs[j].FinYear
		}
		return FiscalMonth(recs[i].Month) > FiscalMonth(recs[j].Month)
	})
}
