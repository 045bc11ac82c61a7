package epoch

import "github.com/future-proof-iot/pepper/internal/pepper/encounter"

// topKList keeps the K EDs with the greatest exposure, replacing the
// current minimum in place as larger candidates arrive (the
// "_add_to_top_list" running-minimum algorithm from the original
// firmware's epoch finaliser).
type topKList struct {
	k        int
	entries  []*encounter.ED
	exposure []uint32
}

func newTopKList(k int) *topKList {
	return &topKList{k: k}
}

func exposureOf(e *encounter.ED) uint32 {
	if e.BLEExposureS > e.UWBExposureS {
		return e.BLEExposureS
	}
	return e.UWBExposureS
}

// Add inserts a candidate ED, evicting the current minimum if the list is
// already full and the candidate exceeds it. Ties are broken first-come:
// a candidate equal to the current minimum does not evict it.
func (t *topKList) Add(e *encounter.ED) {
	exp := exposureOf(e)

	if len(t.entries) < t.k {
		t.entries = append(t.entries, e)
		t.exposure = append(t.exposure, exp)
		return
	}

	minIdx := 0
	for i, v := range t.exposure {
		if v < t.exposure[minIdx] {
			minIdx = i
		}
	}
	if exp > t.exposure[minIdx] {
		t.entries[minIdx] = e
		t.exposure[minIdx] = exp
	}
}

// Entries returns the surviving top-K EDs, in no particular order.
func (t *topKList) Entries() []*encounter.ED {
	return t.entries
}
