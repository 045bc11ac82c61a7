// Package encounter implements the Encounter Data (ED) list (C5): a
// fixed-size arena of per-peer accumulators, BLE RSSI averaging with
// obfuscation-salt subtraction, and UWB distance/LOS aggregation.
package encounter

import (
	"fmt"
	"math"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/op/go-logging"

	"github.com/future-proof-iot/pepper/internal/pepper/config"
	"github.com/future-proof-iot/pepper/internal/pepper/ebid"
)

// bleAccum tracks BLE RSSI observations for one peer.
type bleAccum struct {
	sampleCount     uint32
	cumulativeLin   float64
	firstSeenS      uint32
	lastSeenS       uint32
	obfuscationSalt int
	haveSeen        bool
}

// uwbAccum tracks UWB ranging observations for one peer.
type uwbAccum struct {
	reqCount         uint32
	cumulativeDistCM float64
	cumulativeLOSPct float64
	firstSeenS       uint32
	lastSeenS        uint32
	haveSeen         bool
}

// ED is one Encounter Datum: the accumulating state for a single peer
// across one epoch.
type ED struct {
	CID  uint32
	EBID *ebid.EBID

	// LastSeenS is bumped on every ProcessSlice call for this peer,
	// independent of the BLE/UWB sub-accumulators' own last-seen times.
	LastSeenS uint32

	ble bleAccum
	uwb uwbAccum

	ValidBLE bool
	ValidUWB bool

	// BLE summary, populated at Finalise.
	BLEExposureS uint32
	ScanCount    uint32
	AvgRSSIdBm   float64

	// UWB summary, populated at Finalise.
	UWBExposureS uint32
	ReqCount     uint32
	AvgDistCM    float64
	AvgLOSPct    float64

	inUse bool
}

// Arena owns a fixed-capacity pool of ED slots and a free-index list,
// replacing the reference implementation's intrusive linked list per the
// arena+index design.
type Arena struct {
	mu     sync.Mutex
	params config.EncounterParams
	log    *logging.Logger

	slots  []ED
	free   []int
	active []int // indices into slots, in insertion order

	localEBID *ebid.EBID

	warnCache *lru.Cache // dedups "arena full" / "dropped peer" log lines per CID
}

// NewArena allocates the arena's fixed slot storage up front.
func NewArena(params config.EncounterParams, log *logging.Logger) *Arena {
	a := &Arena{
		params:    params,
		log:       log,
		slots:     make([]ED, params.ArenaSize),
		free:      make([]int, params.ArenaSize),
		warnCache: lru.New(params.ArenaSize * 4),
	}
	for i := range a.free {
		a.free[i] = params.ArenaSize - 1 - i
	}
	return a
}

// SetLocalEBID records this epoch's local EBID, used to derive the BLE
// obfuscation salt once a peer's EBID completes.
func (a *Arena) SetLocalEBID(e *ebid.EBID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.localEBID = e
}

// IsComplete reports whether the peer identified by cid currently has a
// fully reconstructed EBID.
func (a *Arena) IsComplete(cid uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.findLocked(cid)
	if idx < 0 {
		return false
	}
	return a.slots[idx].EBID.IsComplete()
}

// findLocked returns the slot index for cid, or -1.
func (a *Arena) findLocked(cid uint32) int {
	for _, idx := range a.active {
		if a.slots[idx].CID == cid {
			return idx
		}
	}
	return -1
}

// findByShortAddrLocked returns the slot index whose CID&0xFFFF matches
// addr, or -1.
func (a *Arena) findByShortAddrLocked(addr uint16) int {
	for _, idx := range a.active {
		if uint16(a.slots[idx].CID&0xFFFF) == addr {
			return idx
		}
	}
	return -1
}

func (a *Arena) warnOnce(cid uint32, key string, msg string) {
	cacheKey := fmt.Sprintf("%s:%d", key, cid)
	if _, ok := a.warnCache.Get(cacheKey); ok {
		return
	}
	a.warnCache.Add(cacheKey, struct{}{})
	a.log.Warningf("%s (cid=%d)", msg, cid)
}

// ProcessSlice locates or creates the ED for cid and applies the slice.
// ok is false if the arena is full and no slot could be allocated.
// justCompleted is true iff this call is the one that completed the
// peer's EBID reconstruction.
func (a *Arena) ProcessSlice(cid uint32, tS uint32, part ebid.Part, data []byte, sid uint8) (ok bool, justCompleted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.findLocked(cid)
	if idx < 0 {
		if len(a.free) == 0 {
			a.warnOnce(cid, "full", "arena exhausted, dropping slice")
			return false, false
		}
		idx = a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		a.slots[idx] = ED{CID: cid, EBID: ebid.Init(), inUse: true}
		a.active = append(a.active, idx)
	}

	e := &a.slots[idx]
	wasComplete := e.EBID.IsComplete()

	switch part {
	case ebid.Slice3:
		if len(data) != ebid.ShortSliceSize {
			a.log.Debugf("malformed slice3 length %d from cid=%d", len(data), cid)
			return true, false
		}
		var short [ebid.ShortSliceSize]byte
		copy(short[:], data)
		e.EBID.SetSlice3Wire(short)
	default:
		if len(data) != ebid.SliceSize {
			a.log.Debugf("malformed slice length %d (part=%d) from cid=%d", len(data), part, cid)
			return true, false
		}
		var full [ebid.SliceSize]byte
		copy(full[:], data)
		e.EBID.SetSlice(part, full)
	}

	e.EBID.Reconstruct()
	justCompleted = !wasComplete && e.EBID.IsComplete()

	if justCompleted {
		e.ble.firstSeenS = tS
		e.ble.lastSeenS = tS
		e.uwb.firstSeenS = tS
		e.uwb.lastSeenS = tS
		if a.localEBID != nil && a.localEBID.IsComplete() {
			if cmp, err := ebid.Compare(a.localEBID, e.EBID); err == nil {
				larger := a.localEBID
				if cmp < 0 {
					larger = e.EBID
				}
				e.ble.obfuscationSalt = obfuscationSalt(larger, a.params.ObfuscationMax)
			}
		}
	}
	e.ble.lastSeenS = tS
	e.uwb.lastSeenS = tS
	e.LastSeenS = tS
	return true, justCompleted
}

// ActivePeer pairs a peer's CID with its complete reconstructed EBID, as
// handed to the TWR bridge's adv-complete hook.
type ActivePeer struct {
	CID  uint32
	EBID *ebid.EBID
}

// ActivePeers returns the complete-EBID peers last seen within maxAgeS of
// nowS, for the TWR bridge's adv-complete scheduling pass.
func (a *Arena) ActivePeers(maxAgeS uint32, nowS uint32) []ActivePeer {
	a.mu.Lock()
	defer a.mu.Unlock()

	var peers []ActivePeer
	for _, idx := range a.active {
		e := &a.slots[idx]
		if !e.EBID.IsComplete() {
			continue
		}
		if nowS-e.LastSeenS > maxAgeS {
			continue
		}
		peers = append(peers, ActivePeer{CID: e.CID, EBID: e.EBID})
	}
	return peers
}

// obfuscationSalt computes (larger[0]<<8 | larger[1]) mod max.
func obfuscationSalt(larger *ebid.EBID, mod int) int {
	full, err := larger.GetFull()
	if err != nil {
		return 0
	}
	v := (int(full[0]) << 8) | int(full[1])
	if mod <= 0 {
		return 0
	}
	return v % mod
}

// ProcessScanSample records a BLE RSSI observation for cid. It is ignored
// if the peer's EBID has not yet completed.
func (a *Arena) ProcessScanSample(cid uint32, tS uint32, rssiDBm float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.findLocked(cid)
	if idx < 0 {
		return
	}
	e := &a.slots[idx]
	if !e.EBID.IsComplete() {
		return
	}

	corrected := rssiDBm
	if corrected >= 0 {
		corrected = 0
	}
	corrected -= float64(e.ble.obfuscationSalt) + a.params.RxGainCompensationDB

	e.ble.cumulativeLin += math.Pow(10, corrected/10)
	e.ble.sampleCount++
	if !e.ble.haveSeen {
		e.ble.firstSeenS = tS
		e.ble.haveSeen = true
	}
	e.ble.lastSeenS = tS
}

// ProcessRNGResult records a UWB ranging observation, looked up by short
// address (cid & 0xffff).
func (a *Arena) ProcessRNGResult(shortAddr uint16, tS uint32, distanceCM float64, losPct float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.findByShortAddrLocked(shortAddr)
	if idx < 0 {
		a.log.Debugf("rng result for unknown short_addr=%d dropped", shortAddr)
		return
	}
	e := &a.slots[idx]
	e.uwb.cumulativeDistCM += distanceCM
	e.uwb.cumulativeLOSPct += losPct
	e.uwb.reqCount++
	if !e.uwb.haveSeen {
		e.uwb.firstSeenS = tS
		e.uwb.haveSeen = true
	}
	e.uwb.lastSeenS = tS
}

// Finalise computes per-ED averages and validity, evicting EDs with
// neither valid_ble nor valid_uwb. It returns the surviving EDs.
func (a *Arena) Finalise(minExposureS uint32) []*ED {
	a.mu.Lock()
	defer a.mu.Unlock()

	var survivors []*ED
	var stillActive []int

	for _, idx := range a.active {
		e := &a.slots[idx]

		if e.ble.sampleCount > 0 {
			e.AvgRSSIdBm = 10 * math.Log10(e.ble.cumulativeLin/float64(e.ble.sampleCount))
			e.BLEExposureS = e.ble.lastSeenS - e.ble.firstSeenS
			e.ScanCount = e.ble.sampleCount
			e.ValidBLE = e.BLEExposureS >= minExposureS
		}

		if e.uwb.reqCount > 0 {
			e.AvgDistCM = e.uwb.cumulativeDistCM / float64(e.uwb.reqCount)
			e.AvgLOSPct = e.uwb.cumulativeLOSPct / float64(e.uwb.reqCount)
			e.UWBExposureS = e.uwb.lastSeenS - e.uwb.firstSeenS
			e.ReqCount = e.uwb.reqCount
			e.ValidUWB = e.UWBExposureS >= minExposureS &&
				e.ReqCount >= a.params.MinRequestCount &&
				e.AvgDistCM <= a.params.MaxDistanceCM
		}

		if e.ValidBLE || e.ValidUWB {
			survivors = append(survivors, e)
			stillActive = append(stillActive, idx)
		} else {
			a.freeLocked(idx)
		}
	}
	a.active = stillActive
	return survivors
}

// freeLocked returns a slot to the free list. Caller must hold a.mu.
func (a *Arena) freeLocked(idx int) {
	a.slots[idx] = ED{}
	a.free = append(a.free, idx)
}

// Clear drops all entries and releases every arena slot.
func (a *Arena) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, idx := range a.active {
		a.freeLocked(idx)
	}
	a.active = nil
}

// Len reports the number of currently active EDs.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}

// Capacity reports the arena's fixed slot count.
func (a *Arena) Capacity() int {
	return len(a.slots)
}

// FreeCount reports how many slots are currently unused.
func (a *Arena) FreeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free)
}
