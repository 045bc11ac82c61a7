package epoch

import (
	"testing"

	"github.com/future-proof-iot/pepper/internal/pepper/encounter"
)

const minExposureS = uint32(300)

func edWithExposure(exp uint32) *encounter.ED {
	e := &encounter.ED{}
	e.BLEExposureS = exp
	e.ValidBLE = true
	return e
}

func TestTopKEviction(t *testing.T) {
	top := newTopKList(8)
	for i := uint32(0); i < 14; i++ {
		top.Add(edWithExposure(minExposureS + i))
	}

	entries := top.Entries()
	if len(entries) != 8 {
		t.Fatalf("expected 8 survivors, got %d", len(entries))
	}

	exposures := make(map[uint32]bool)
	for _, e := range entries {
		exposures[exposureOf(e)] = true
	}
	for i := uint32(6); i <= 13; i++ {
		if !exposures[minExposureS+i] {
			t.Fatalf("expected exposure %d to survive top-k eviction", minExposureS+i)
		}
	}
}

func TestTopKUnderCapacityKeepsAll(t *testing.T) {
	top := newTopKList(8)
	for i := uint32(0); i < 5; i++ {
		top.Add(edWithExposure(minExposureS + i))
	}
	if len(top.Entries()) != 5 {
		t.Fatalf("expected all 5 entries kept, got %d", len(top.Entries()))
	}
}
