package encounter

import (
	"crypto/rand"
	"testing"

	"github.com/op/go-logging"

	"github.com/future-proof-iot/pepper/internal/pepper/config"
	"github.com/future-proof-iot/pepper/internal/pepper/ebid"
	"github.com/future-proof-iot/pepper/internal/pepper/plog"
)

func newTestArena(t *testing.T, params config.EncounterParams) *Arena {
	t.Helper()
	log := plog.Setup("arena_test", logging.CRITICAL)
	return NewArena(params, log)
}

func randomEBID(t *testing.T) *ebid.EBID {
	t.Helper()
	var pk [32]byte
	if _, err := rand.Read(pk[:]); err != nil {
		t.Fatal(err)
	}
	return ebid.GenerateFrom(pk)
}

func TestProcessSliceJustCompletedFiresOnce(t *testing.T) {
	params := config.DefaultEncounterParams()
	a := newTestArena(t, params)
	peer := randomEBID(t)

	cid := uint32(1)
	s1, _ := peer.GetSlice(ebid.Slice1)
	s2, _ := peer.GetSlice(ebid.Slice2)
	xor, _ := peer.GetSlice(ebid.XOR)

	if ok, justCompleted := a.ProcessSlice(cid, 1, ebid.Slice1, s1[:], 0); !ok || justCompleted {
		t.Fatalf("expected ok and not yet complete after 1st slice, got ok=%v justCompleted=%v", ok, justCompleted)
	}
	if ok, justCompleted := a.ProcessSlice(cid, 2, ebid.Slice2, s2[:], 1); !ok || justCompleted {
		t.Fatalf("expected ok and not yet complete after 2nd slice, got ok=%v justCompleted=%v", ok, justCompleted)
	}
	ok, justCompleted := a.ProcessSlice(cid, 3, ebid.XOR, xor[:], 3)
	if !ok || !justCompleted {
		t.Fatalf("expected completion on the 3rd slice, got ok=%v justCompleted=%v", ok, justCompleted)
	}

	// a subsequent duplicate slice must not re-report justCompleted.
	if ok, justCompleted := a.ProcessSlice(cid, 4, ebid.Slice1, s1[:], 0); !ok || justCompleted {
		t.Fatalf("expected justCompleted=false once already complete, got ok=%v justCompleted=%v", ok, justCompleted)
	}
}

func TestArenaFullDropsSlice(t *testing.T) {
	params := config.DefaultEncounterParams()
	params.ArenaSize = 1
	a := newTestArena(t, params)

	peer1 := randomEBID(t)
	s1a, _ := peer1.GetSlice(ebid.Slice1)
	ok, _ := a.ProcessSlice(1, 1, ebid.Slice1, s1a[:], 0)
	if !ok {
		t.Fatal("expected first peer to fit in the single-slot arena")
	}

	peer2 := randomEBID(t)
	s1b, _ := peer2.GetSlice(ebid.Slice1)
	ok, _ = a.ProcessSlice(2, 1, ebid.Slice1, s1b[:], 0)
	if ok {
		t.Fatal("expected second peer to be dropped once the arena is full")
	}
}

func TestFinaliseEvictsInvalidAndClearsArena(t *testing.T) {
	params := config.DefaultEncounterParams()
	a := newTestArena(t, params)
	peer := randomEBID(t)

	cid := uint32(9)
	for _, part := range []ebid.Part{ebid.Slice1, ebid.Slice2, ebid.XOR} {
		data, _ := peer.GetSlice(part)
		a.ProcessSlice(cid, 1, part, data[:], 0)
	}
	// no BLE/UWB samples recorded: neither valid_ble nor valid_uwb.
	survivors := a.Finalise(0)
	if len(survivors) != 0 {
		t.Fatalf("expected 0 survivors with no exposure recorded, got %d", len(survivors))
	}
	if a.Len() != 0 {
		t.Fatalf("expected arena empty after finalise evicted the only ED, got %d", a.Len())
	}
	if a.FreeCount() != a.Capacity() {
		t.Fatalf("expected full free list after eviction, got %d/%d", a.FreeCount(), a.Capacity())
	}
}

func TestClearReturnsAllSlots(t *testing.T) {
	params := config.DefaultEncounterParams()
	a := newTestArena(t, params)
	peer := randomEBID(t)
	s1, _ := peer.GetSlice(ebid.Slice1)
	a.ProcessSlice(1, 1, ebid.Slice1, s1[:], 0)

	a.Clear()
	if a.Len() != 0 {
		t.Fatalf("expected 0 active after clear, got %d", a.Len())
	}
	if a.FreeCount() != a.Capacity() {
		t.Fatalf("expected full capacity free after clear, got %d/%d", a.FreeCount(), a.Capacity())
	}
}

func TestRSSIClippingAndObfuscation(t *testing.T) {
	params := config.DefaultEncounterParams()
	a := newTestArena(t, params)

	var localPK [32]byte
	localPK[0] = 0x01
	local := ebid.GenerateFrom(localPK)
	a.SetLocalEBID(local)

	var peerPK [32]byte
	peerPK[0] = 0x02
	peer := ebid.GenerateFrom(peerPK)

	cid := uint32(3)
	for _, part := range []ebid.Part{ebid.Slice1, ebid.Slice2, ebid.XOR} {
		data, _ := peer.GetSlice(part)
		a.ProcessSlice(cid, 1, part, data[:], 0)
	}

	// a positive RSSI reading must be clipped to 0 before accumulation;
	// this only checks that Finalise doesn't panic and reports a sane
	// non-positive average.
	a.ProcessScanSample(cid, 1, 5)
	a.ProcessScanSample(cid, 2, -45)

	survivors := a.Finalise(0)
	if len(survivors) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(survivors))
	}
	if survivors[0].AvgRSSIdBm > 0 {
		t.Fatalf("expected clipped average RSSI <= 0, got %f", survivors[0].AvgRSSIdBm)
	}
}
