// Package twr implements the TWR bridge (C6): EBID-offset-derived
// scheduling of UWB ranging requests and listens, backed by a fixed pool
// of scheduling slots.
package twr

import (
	"fmt"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/future-proof-iot/pepper/internal/pepper/config"
	"github.com/future-proof-iot/pepper/internal/pepper/ebid"
	"github.com/future-proof-iot/pepper/internal/pepper/encounter"
	"github.com/future-proof-iot/pepper/internal/pepper/radio"
)

// Offset computes the EBID-derived offset in milliseconds:
// (peerEBID[0] + peerEBID[1]<<8) mod advIntervalMS + minOffsetMS.
func Offset(peerEBID [2]byte, advIntervalMS int, minOffsetMS int) int {
	raw := int(peerEBID[0]) + int(peerEBID[1])<<8
	if advIntervalMS <= 0 {
		return minOffsetMS
	}
	return raw%advIntervalMS + minOffsetMS
}

// Stats counts scheduling outcomes for observability, supplementing the
// original firmware's ed_uwb_stats_t counters.
type Stats struct {
	Requested int
	Listened  int
	Abandoned int // device semaphore was busy on fire
	Dropped   int // pool exhausted at schedule time
}

type opKind int

const (
	opRequest opKind = iota
	opListen
)

type scheduledOp struct {
	kind    opKind
	dst     uint16
	windowUS int
	timer   *time.Timer
	active  bool
}

// RangeSink receives completed ranging results, forwarding into the
// encounter arena.
type RangeSink interface {
	ProcessRNGResult(shortAddr uint16, tS uint32, distanceCM float64, losPct float64)
}

// Bridge owns the fixed scheduling-slot pool and wires advertiser/scanner
// timing into UWB requests and listens.
type Bridge struct {
	mu       sync.Mutex
	params   config.TWRParams
	device   radio.UWBDevice
	sink     RangeSink
	clock    radio.Clock
	log      *logging.Logger

	slots []scheduledOp
	free  []int

	rxOffset time.Duration
	txOffset time.Duration

	rangeHook func(peerAddr uint16, distanceCM float64, tsMS int64)

	stats Stats
}

// NewBridge allocates the bridge's fixed pool and registers the ranging
// completion handler with the device.
func NewBridge(params config.TWRParams, device radio.UWBDevice, sink RangeSink, clock radio.Clock, log *logging.Logger) *Bridge {
	b := &Bridge{
		params: params,
		device: device,
		sink:   sink,
		clock:  clock,
		log:    log,
		slots:  make([]scheduledOp, params.PoolSize),
		free:   make([]int, params.PoolSize),
	}
	for i := range b.free {
		b.free[i] = params.PoolSize - 1 - i
	}
	device.OnRangeComplete(b.onRangeComplete)
	return b
}

// SetRxOffset sets the listen-side offset, asserting the sign constraint:
// its sum with MinOffset must remain positive.
func (b *Bridge) SetRxOffset(d time.Duration) error {
	if d+b.params.MinOffset <= 0 {
		return errInvalidOffset("rx", d, b.params.MinOffset)
	}
	b.mu.Lock()
	b.rxOffset = d
	b.mu.Unlock()
	return nil
}

// SetTxOffset sets the request-side offset, with the same sign
// constraint as SetRxOffset.
func (b *Bridge) SetTxOffset(d time.Duration) error {
	if d+b.params.MinOffset <= 0 {
		return errInvalidOffset("tx", d, b.params.MinOffset)
	}
	b.mu.Lock()
	b.txOffset = d
	b.mu.Unlock()
	return nil
}

// OnRangeComplete registers a user hook invoked after every ranging
// completion, in addition to forwarding the result into the arena.
func (b *Bridge) OnRangeComplete(cb func(peerAddr uint16, distanceCM float64, tsMS int64)) {
	b.mu.Lock()
	b.rangeHook = cb
	b.mu.Unlock()
}

func (b *Bridge) onRangeComplete(r radio.RangeResult) {
	ts := b.clock.NowMS()
	b.sink.ProcessRNGResult(r.SrcAddr, uint32(b.clock.EpochSeconds()), r.DistanceCM, r.LOSPercent)
	b.mu.Lock()
	hook := b.rangeHook
	b.mu.Unlock()
	if hook != nil {
		hook(r.SrcAddr, r.DistanceCM, ts)
	}
}

// ScheduleRequest arms a TWR request to dstShortAddr after delay.
func (b *Bridge) ScheduleRequest(dstShortAddr uint16, delay time.Duration) {
	b.schedule(scheduledOp{kind: opRequest, dst: dstShortAddr}, delay)
}

// ScheduleListen arms a TWR listen window after delay.
func (b *Bridge) ScheduleListen(windowUS int, delay time.Duration) {
	b.schedule(scheduledOp{kind: opListen, windowUS: windowUS}, delay)
}

func (b *Bridge) schedule(op scheduledOp, delay time.Duration) {
	b.mu.Lock()
	if len(b.free) == 0 {
		b.stats.Dropped++
		b.mu.Unlock()
		b.log.Warningf("twr: scheduling pool exhausted, dropping attempt")
		return
	}
	idx := b.free[len(b.free)-1]
	b.free = b.free[:len(b.free)-1]
	op.active = true
	b.slots[idx] = op
	b.mu.Unlock()

	b.slots[idx].timer = time.AfterFunc(delay, func() {
		b.fire(idx)
	})
}

func (b *Bridge) fire(idx int) {
	b.mu.Lock()
	op := b.slots[idx]
	if !op.active {
		b.mu.Unlock()
		return
	}
	b.slots[idx] = scheduledOp{}
	b.free = append(b.free, idx)
	b.mu.Unlock()

	if !b.device.TrySemaphore() {
		b.mu.Lock()
		b.stats.Abandoned++
		b.mu.Unlock()
		b.log.Errorf("twr: device busy, abandoning %v attempt", op.kind)
		return
	}

	switch op.kind {
	case opRequest:
		if err := b.device.RngRequest(op.dst, radio.SingleSidedTWR); err != nil {
			b.log.Errorf("twr: rng_request failed: %v", err)
			return
		}
		b.mu.Lock()
		b.stats.Requested++
		b.mu.Unlock()
	case opListen:
		if err := b.device.RngListen(op.windowUS); err != nil {
			b.log.Errorf("twr: rng_listen failed: %v", err)
			return
		}
		b.mu.Lock()
		b.stats.Listened++
		b.mu.Unlock()
	}
}

// Cancel cancels every pending scheduled slot, used by Stop.
func (b *Bridge) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.slots {
		if b.slots[i].active && b.slots[i].timer != nil {
			b.slots[i].timer.Stop()
		}
		b.slots[i] = scheduledOp{}
	}
	b.free = b.free[:0]
	for i := range b.slots {
		b.free = append(b.free, len(b.slots)-1-i)
	}
}

// Stats returns a snapshot of scheduling-outcome counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// OnAdvComplete is the controller's local-adv-complete hook: for every
// peer with a complete EBID seen within miaTimeout, schedule a TWR
// request timed from that peer's EBID.
func (b *Bridge) OnAdvComplete(peers []encounter.ActivePeer, advIntervalMS int) {
	b.mu.Lock()
	txOffset := b.txOffset
	b.mu.Unlock()

	for _, p := range peers {
		full, err := p.EBID.GetFull()
		if err != nil {
			continue
		}
		offsetMS := Offset([2]byte{full[0], full[1]}, advIntervalMS, int(b.params.MinOffset.Milliseconds()))
		delay := time.Duration(offsetMS)*time.Millisecond + txOffset
		b.ScheduleRequest(uint16(p.CID&0xFFFF), delay)
	}
}

// OnPeerSliceComplete is the scanner's hook fired once a peer's EBID
// completes: schedule a TWR listen timed from the local EBID.
func (b *Bridge) OnPeerSliceComplete(localEBID *ebid.EBID, advIntervalMS int) {
	full, err := localEBID.GetFull()
	if err != nil {
		return
	}
	b.mu.Lock()
	rxOffset := b.rxOffset
	b.mu.Unlock()

	offsetMS := Offset([2]byte{full[0], full[1]}, advIntervalMS, int(b.params.MinOffset.Milliseconds()))
	delay := time.Duration(offsetMS)*time.Millisecond + rxOffset
	b.ScheduleListen(int(b.params.ListenWindow.Microseconds()), delay)
}

func errInvalidOffset(which string, offset, minOffset time.Duration) error {
	return fmt.Errorf("twr: %s offset %s violates sign constraint against min offset %s", which, offset, minOffset)
}
