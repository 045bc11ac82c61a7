// Package epoch implements the epoch engine (C7): epoch lifecycle,
// top-K contact selection, and PET-tagged summary construction.
package epoch

import (
	"time"

	"github.com/future-proof-iot/pepper/internal/pepper/config"
	"github.com/future-proof-iot/pepper/internal/pepper/crypto"
	"github.com/future-proof-iot/pepper/internal/pepper/encounter"
)

// State is the epoch engine's lifecycle state.
type State int

const (
	Idle State = iota
	SetUp
	Active
	Finalising
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case SetUp:
		return "SetUp"
	case Active:
		return "Active"
	case Finalising:
		return "Finalising"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// BLESummary is a contact's BLE exposure summary.
type BLESummary struct {
	ExposureS  uint32
	ScanCount  uint32
	AvgRSSIdBm float64
}

// UWBSummary is a contact's UWB exposure summary.
type UWBSummary struct {
	ExposureS uint32
	ReqCount  uint32
	AvgDistCM float64
	AvgLOSPct float64
}

// Contact is one per-epoch output record.
type Contact struct {
	ET, RT [32]byte

	HasBLE bool
	BLE    BLESummary

	HasUWB bool
	UWB    UWBSummary
}

// Summary is the per-epoch output handed to the serialisation sink.
type Summary struct {
	Timestamp uint32
	Contacts  []Contact
	Keys      crypto.Keys
}

// Finalise drains the arena, selects the top-K EDs by exposure, derives
// mirrored PET pairs for each surviving ED, and returns the epoch
// summary. It never returns an error: per-ED failures are localised and
// simply drop that ED from the output.
func Finalise(arena *encounter.Arena, params config.EpochParams, keys crypto.Keys, timestamp uint32) Summary {
	minExposureS := uint32(params.MinExposure / time.Second)
	eds := arena.Finalise(minExposureS)

	top := newTopKList(params.TopK)
	for _, e := range eds {
		top.Add(e)
	}

	summary := Summary{Timestamp: timestamp, Keys: keys}
	for _, e := range top.Entries() {
		full, err := e.EBID.GetFull()
		if err != nil {
			continue
		}
		et, rt, err := crypto.GenPETPair(keys, full)
		if err != nil {
			continue
		}

		c := Contact{ET: et, RT: rt}
		if e.ValidBLE {
			c.HasBLE = true
			c.BLE = BLESummary{
				ExposureS:  e.BLEExposureS,
				ScanCount:  e.ScanCount,
				AvgRSSIdBm: e.AvgRSSIdBm,
			}
		}
		if e.ValidUWB {
			c.HasUWB = true
			c.UWB = UWBSummary{
				ExposureS: e.UWBExposureS,
				ReqCount:  e.ReqCount,
				AvgDistCM: e.AvgDistCM,
				AvgLOSPct: e.AvgLOSPct,
			}
		}
		summary.Contacts = append(summary.Contacts, c)
	}

	return summary
}
