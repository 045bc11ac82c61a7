package epoch

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/op/go-logging"

	"github.com/future-proof-iot/pepper/internal/pepper/config"
	"github.com/future-proof-iot/pepper/internal/pepper/crypto"
	"github.com/future-proof-iot/pepper/internal/pepper/ebid"
	"github.com/future-proof-iot/pepper/internal/pepper/encounter"
	"github.com/future-proof-iot/pepper/internal/pepper/plog"
)

func TestFinaliseMirrorsPET(t *testing.T) {
	log := plog.Setup("epoch_test", logging.CRITICAL)

	localKeys, err := crypto.GenerateKeys(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	localEBID := ebid.GenerateFrom(localKeys.Public)

	peerKeys, err := crypto.GenerateKeys(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	peerEBID := ebid.GenerateFrom(peerKeys.Public)

	params := config.DefaultEncounterParams()
	arena := encounter.NewArena(params, log)
	arena.SetLocalEBID(localEBID)

	cid := uint32(7)
	for _, part := range []ebid.Part{ebid.Slice1, ebid.Slice2, ebid.XOR} {
		data, _ := peerEBID.GetSlice(part)
		if ok, _ := arena.ProcessSlice(cid, 100, part, data[:], 0); !ok {
			t.Fatal("expected ProcessSlice to succeed")
		}
	}
	for ts := uint32(100); ts <= 100+uint32(params.MIATimeout/time.Second); ts++ {
		arena.ProcessScanSample(cid, ts, -40)
	}

	epochParams := config.DefaultEpochParams()
	epochParams.MinExposure = 0
	summary := Finalise(arena, epochParams, localKeys, 12345)

	if len(summary.Contacts) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(summary.Contacts))
	}
	contact := summary.Contacts[0]
	if !contact.HasBLE {
		t.Fatal("expected contact to have a valid BLE exposure")
	}

	wantET, wantRT, err := crypto.GenPETPair(localKeys, peerKeys.Public)
	if err != nil {
		t.Fatal(err)
	}
	if contact.ET != wantET || contact.RT != wantRT {
		t.Fatalf("PET mismatch:\ngot  et=%x rt=%x\nwant et=%x rt=%x", contact.ET, contact.RT, wantET, wantRT)
	}
}
