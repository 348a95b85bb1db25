package sorted

import "sort"

// sortSliceStable sorts refs in place by cmp, which must already
// incorporate whatever tie-break the caller wants; sort.SliceStable is
// used so two records whose cmp compares equal never swap, giving a
// second layer of determinism on top of the comparator's own tie-break.
func sortSliceStable(refs []ref, cmp func(a, b ref) int) {
	sort.SliceStable(refs, func(i, j int) bool {
		return cmp(refs[i], refs[j]) < 0
	})
}
