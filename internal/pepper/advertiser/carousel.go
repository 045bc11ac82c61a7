// Package advertiser implements the carousel advertiser (C3): a
// self-rearming periodic BLE advertisement that rotates through an
// EBID's four slices.
package advertiser

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/future-proof-iot/pepper/internal/pepper/config"
	"github.com/future-proof-iot/pepper/internal/pepper/ebid"
	"github.com/future-proof-iot/pepper/internal/pepper/radio"
	"github.com/future-proof-iot/pepper/internal/pepper/wire"
)

// partOrder is the rotation order through an EBID's four addressable
// parts, indexed by SID.
var partOrder = [4]ebid.Part{ebid.Slice1, ebid.Slice2, ebid.Slice3, ebid.XOR}

// Carousel drives one BLE advertiser through the slice rotation described
// in the advertisement manager: a periodic timeout re-arms itself from
// within the advertisement-complete handler.
type Carousel struct {
	mu     sync.Mutex
	params config.AdvertiserParams
	device radio.BLEAdvertiser

	ebid *ebid.EBID
	cid  uint32

	advsMax      uint32
	advsPerSlice uint32
	sid          uint8
	sliceTick    uint32
	count        uint32
	seed         uint16 // seed carried by the in-flight advertisement

	running bool
	timer   *time.Timer

	onAdv func(seed uint16, count uint32)
}

// NewCarousel wires a Carousel to its BLE advertiser collaborator.
func NewCarousel(params config.AdvertiserParams, device radio.BLEAdvertiser) *Carousel {
	c := &Carousel{params: params, device: device}
	device.OnComplete(c.onAdvertiseComplete)
	return c
}

// OnAdvertisement registers the callback invoked after each advertisement
// event, carrying the seed and cumulative event count.
func (c *Carousel) OnAdvertisement(cb func(seed uint16, count uint32)) {
	c.mu.Lock()
	c.onAdv = cb
	c.mu.Unlock()
}

// CID returns the current 30-bit connection id.
func (c *Carousel) CID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cid
}

// SetCID overrides the connection id, masked to its 30 significant bits.
func (c *Carousel) SetCID(cid uint32) {
	c.mu.Lock()
	c.cid = cid & 0x3FFFFFFF
	c.mu.Unlock()
}

// Start resets the event counter, generates a fresh 30-bit CID, stops any
// in-flight advertising, and begins the periodic advertisement loop.
// advsMax == math.MaxUint32 runs unbounded, advsPerSlice controls how many
// events elapse before the slice rotation advances.
func (c *Carousel) Start(e *ebid.EBID, advsMax uint32, advsPerSlice uint32) error {
	c.Stop()

	var cidBuf [4]byte
	if _, err := rand.Read(cidBuf[:]); err != nil {
		return err
	}
	cid := binary.BigEndian.Uint32(cidBuf[:]) & 0x3FFFFFFF

	c.mu.Lock()
	c.ebid = e
	c.cid = cid
	c.advsMax = advsMax
	if advsPerSlice == 0 {
		advsPerSlice = 1
	}
	c.advsPerSlice = advsPerSlice
	c.sid = 0
	c.sliceTick = 0
	c.count = 0
	c.running = true
	c.mu.Unlock()

	return c.fireOnce()
}

// Stop cancels the pending timeout and any in-flight advertisement. It is
// idempotent.
func (c *Carousel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.device.Stop()
}

func (c *Carousel) fireOnce() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	part := partOrder[c.sid]
	slice, _ := c.ebid.GetSlice(part)

	var wireSlice [12]byte
	copy(wireSlice[:], slice[:])

	var seedBuf [2]byte
	if _, err := rand.Read(seedBuf[:]); err != nil {
		c.mu.Unlock()
		return err
	}
	seed := binary.LittleEndian.Uint16(seedBuf[:])
	c.seed = seed

	payload := wire.BuildPayload(c.sid, c.cid, wireSlice, 0, seed)
	c.mu.Unlock()

	if err := c.device.SetPayload(payload); err != nil {
		return err
	}
	return c.device.Advertise()
}

func (c *Carousel) onAdvertiseComplete() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.count++
	count := c.count
	cb := c.onAdv

	seed := c.seed

	c.sliceTick++
	if c.sliceTick >= c.advsPerSlice {
		c.sliceTick = 0
		c.sid = (c.sid + 1) % 4
	}

	done := c.advsMax != math.MaxUint32 && count >= c.advsMax
	if done {
		c.running = false
	}
	interval := c.params.Interval
	c.mu.Unlock()

	if cb != nil {
		cb(seed, count)
	}
	if done {
		return
	}

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.timer = time.AfterFunc(interval, func() {
		_ = c.fireOnce()
	})
	c.mu.Unlock()
}
