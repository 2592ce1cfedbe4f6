package engine

import "atelierdesk/internal/domain"

// CascadeRename repoints order taxonomy references after an in-place rename
// of stage or source entries. Matching is positional: an order referencing
// the old list's entry at index i is rewritten to the new list's name at
// the same index when that name differs. References absent from the old
// list are left untouched, so a shortened list leaves them dangling.
// Reordering the list instead of renaming will reassign by position; that
// is the defined compatibility semantics, not identity tracking.
// Cascade does not bump the revision counter.
func CascadeRename(records []domain.Order, oldTax, newTax domain.Taxonomy) []domain.Order {
	next := make([]domain.Order, len(records))
	copy(next, records)
	for i := range next {
		if idx := oldTax.StageIndex(next[i].Stage); idx >= 0 && idx < len(newTax.Stages) {
			if name := newTax.Stages[idx].Name; name != next[i].Stage {
				next[i].Stage = name
			}
		}
		if idx := oldTax.SourceIndex(next[i].Source); idx >= 0 && idx < len(newTax.Sources) {
			if name := newTax.Sources[idx].Name; name != next[i].Source {
				next[i].Source = name
			}
		}
	}
	return next
}

// cascadeChanged counts orders whose references differ between the two
// collections; used for the taxonomy.updated event payload.
func cascadeChanged(before, after []domain.Order) int {
	n := 0
	for i := range before {
		if before[i].Stage != after[i].Stage || before[i].Source != after[i].Source {
			n++
		}
	}
	return n
}
