package pipeline

import (
	"sort"

	"github.com/a3tai/mcp-pdf-formfill/internal/pdf/forms"
)

// PartialMap is the immutable contribution of one page to the run
type PartialMap struct {
	Page   int
	Values forms.ValueMap
}

// MergeResult is the folded value map of a run
type MergeResult struct {
	Values forms.ValueMap
	// Duplicates lists, per id, every page that supplied a value for it
	// when more than one did. The last page wins.
	Duplicates map[string][]int
}

// Fold merges page contributions in ascending page order regardless of the
// order they are passed in. Ids are page-disjoint by construction; when
// they are not, the later page wins and the id is reported.
func Fold(parts []PartialMap) MergeResult {
	ordered := make([]PartialMap, len(parts))
	copy(ordered, parts)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Page < ordered[j].Page })

	result := MergeResult{
		Values:     make(forms.ValueMap),
		Duplicates: make(map[string][]int),
	}
	seen := make(map[string][]int)
	for _, part := range ordered {
		for id, v := range part.Values {
			result.Values[id] = v
			seen[id] = append(seen[id], part.Page)
		}
	}
	for id, pageList := range seen {
		if len(pageList) > 1 {
			result.Duplicates[id] = pageList
		}
	}
	return result
}
