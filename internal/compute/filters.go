package compute

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// Recognized filter keys. Anything else in a filter set is ignored.
const (
	FilterDepartment = "department"
	FilterBranch     = "branch"
	FilterDateFrom   = "dateFrom"
	FilterDateTo     = "dateTo"
)

// Filters is a raw filter set from a caller. Keys outside the allow-list and
// keys with empty values carry no meaning.
type Filters map[string]string

// FilterPair is one accepted filter in canonical form.
type FilterPair struct {
	Key   string
	Value string
}

// Accepted returns the filters that apply to def, in canonical (sorted) order.
// A recognized key is dropped when its value is empty or when the definition
// has no binding column for it, so both behave identically to an absent key.
func (f Filters) Accepted(def *metric.Definition) []FilterPair {
	var pairs []FilterPair
	add := func(key, value, column string) {
		if strings.TrimSpace(value) == "" || column == "" {
			return
		}
		pairs = append(pairs, FilterPair{Key: key, Value: value})
	}

	add(FilterDepartment, f[FilterDepartment], def.Query.DepartmentColumn)
	add(FilterBranch, f[FilterBranch], def.Query.BranchColumn)
	add(FilterDateFrom, f[FilterDateFrom], def.Query.DateColumn)
	add(FilterDateTo, f[FilterDateTo], def.Query.DateColumn)

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs
}

// HashFilters produces the 16-hex-char cache discriminator for a canonical
// filter set. The empty set hashes to the same stable value everywhere.
func HashFilters(pairs []FilterPair) string {
	h := sha256.New()
	for _, p := range pairs {
		fmt.Fprintf(h, "%s=%s;", p.Key, p.Value)
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:16]
}
