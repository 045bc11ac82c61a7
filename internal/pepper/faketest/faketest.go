// Package faketest provides deterministic in-memory fakes for the BLE,
// UWB, and clock radio ports, used by package tests and by cmd/pepperctl's
// demo mode.
package faketest

import (
	"sync"
	"time"

	"github.com/future-proof-iot/pepper/internal/pepper/radio"
)

// Clock is a controllable wall clock: NowMS advances with real time plus
// a manually injected offset, letting tests simulate a clock jump.
type Clock struct {
	mu     sync.Mutex
	base   time.Time
	offset time.Duration
}

// NewClock returns a Clock anchored at the current time.
func NewClock() *Clock {
	return &Clock{base: time.Now()}
}

// NowMS returns milliseconds since the clock was created, plus any
// injected offset.
func (c *Clock) NowMS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.base).Milliseconds() + c.offset.Milliseconds()
}

// EpochSeconds returns whole seconds since the clock was created, plus
// any injected offset.
func (c *Clock) EpochSeconds() uint32 {
	return uint32(c.NowMS() / 1000)
}

// Jump injects an offset, simulating a wall-clock adjustment of d.
func (c *Clock) Jump(d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

// Broker fans out advertisements between registered fake scanners,
// simulating a shared radio medium for two or more in-process devices.
type Broker struct {
	mu       sync.Mutex
	scanners map[*Scanner]struct{}
}

// NewBroker returns an empty broker.
func NewBroker() *Broker {
	return &Broker{scanners: make(map[*Scanner]struct{})}
}

func (b *Broker) register(s *Scanner) {
	b.mu.Lock()
	b.scanners[s] = struct{}{}
	b.mu.Unlock()
}

func (b *Broker) unregister(s *Scanner) {
	b.mu.Lock()
	delete(b.scanners, s)
	b.mu.Unlock()
}

func (b *Broker) deliver(from *Advertiser, m radio.ScanMatch) {
	b.mu.Lock()
	scanners := make([]*Scanner, 0, len(b.scanners))
	for s := range b.scanners {
		if s.addr != from.addr {
			scanners = append(scanners, s)
		}
	}
	b.mu.Unlock()

	for _, s := range scanners {
		s.mu.Lock()
		cb := s.onMatch
		s.mu.Unlock()
		if cb != nil {
			cb(m)
		}
	}
}

// Advertiser is a fake radio.BLEAdvertiser that delivers its payload to
// every other Scanner registered on the same Broker.
type Advertiser struct {
	mu         sync.Mutex
	broker     *Broker
	addr       string
	rssi       int8
	payload    [22]byte
	onComplete func()
}

// NewAdvertiser returns an Advertiser identified by addr (used to avoid
// self-delivery) on the given broker, reporting simulated rssi to peers.
func NewAdvertiser(broker *Broker, addr string, rssi int8) *Advertiser {
	return &Advertiser{broker: broker, addr: addr, rssi: rssi}
}

// SetPayload stores the next advertisement's payload.
func (a *Advertiser) SetPayload(payload [22]byte) error {
	a.mu.Lock()
	a.payload = payload
	a.mu.Unlock()
	return nil
}

// Advertise delivers the current payload to the broker and asynchronously
// invokes the completion callback, as a real extended-advertising event
// would.
func (a *Advertiser) Advertise() error {
	a.mu.Lock()
	payload := a.payload
	cb := a.onComplete
	rssi := a.rssi
	a.mu.Unlock()

	go func() {
		a.broker.deliver(a, radio.ScanMatch{
			RxTimeMS: time.Now().UnixMilli(),
			PeerAddr: a.addr,
			RSSIdBm:  rssi,
			Payload:  payload,
		})
		if cb != nil {
			cb()
		}
	}()
	return nil
}

// OnComplete registers the advertisement-complete callback.
func (a *Advertiser) OnComplete(cb func()) {
	a.mu.Lock()
	a.onComplete = cb
	a.mu.Unlock()
}

// Stop is a no-op: the fake never leaves an advertisement in flight long
// enough to need cancellation.
func (a *Advertiser) Stop() {}

// Scanner is a fake radio.BLEScanner fed by a Broker.
type Scanner struct {
	mu      sync.Mutex
	broker  *Broker
	addr    string
	onMatch func(radio.ScanMatch)
}

// NewScanner returns a Scanner identified by addr on the given broker.
func NewScanner(broker *Broker, addr string) *Scanner {
	return &Scanner{broker: broker, addr: addr}
}

// Start registers the scanner with its broker.
func (s *Scanner) Start(onMatch func(radio.ScanMatch)) error {
	s.mu.Lock()
	s.onMatch = onMatch
	s.mu.Unlock()
	s.broker.register(s)
	return nil
}

// Stop unregisters the scanner from its broker.
func (s *Scanner) Stop() error {
	s.broker.unregister(s)
	return nil
}

// UWB is a fake radio.UWBDevice. Ranging always "succeeds" after a short
// simulated delay unless forced busy with SetBusy, reporting a fixed
// distance useful for deterministic tests.
type UWB struct {
	mu         sync.Mutex
	busy       bool
	shortAddr  uint16
	panID      uint16
	onComplete func(radio.RangeResult)

	// FixedDistanceCM is reported on every completed ranging exchange.
	FixedDistanceCM float64
	// FixedLOSPercent is reported on every completed ranging exchange.
	FixedLOSPercent float64
}

// NewUWB returns a UWB fake reporting a 100cm, 90%-LOS range by default.
func NewUWB() *UWB {
	return &UWB{FixedDistanceCM: 100, FixedLOSPercent: 90}
}

// TrySemaphore returns false if SetBusy(true) was called and not yet
// cleared, simulating a device that is mid-operation.
func (u *UWB) TrySemaphore() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return !u.busy
}

// SetBusy forces TrySemaphore to fail, for exercising the radio-busy
// abandon path.
func (u *UWB) SetBusy(busy bool) {
	u.mu.Lock()
	u.busy = busy
	u.mu.Unlock()
}

// RngRequest simulates a successful ranging request, delivering a result
// to the registered completion callback shortly afterward.
func (u *UWB) RngRequest(dst uint16, algo radio.RangingAlgo) error {
	u.mu.Lock()
	src := u.shortAddr
	dist := u.FixedDistanceCM
	los := u.FixedLOSPercent
	cb := u.onComplete
	u.mu.Unlock()

	go func() {
		time.Sleep(time.Millisecond)
		if cb != nil {
			cb(radio.RangeResult{SrcAddr: src, DstAddr: dst, DistanceCM: dist, LOSPercent: los, HasLOS: true})
		}
	}()
	return nil
}

// RngListen simulates an armed listen window; since this fake delivers
// ranging results directly from RngRequest, listening is a no-op success.
func (u *UWB) RngListen(windowUS int) error {
	return nil
}

// OnRangeComplete registers the ranging-completion callback.
func (u *UWB) OnRangeComplete(cb func(radio.RangeResult)) {
	u.mu.Lock()
	u.onComplete = cb
	u.mu.Unlock()
}

// SetShortAddr records the device's current short address.
func (u *UWB) SetShortAddr(addr uint16) {
	u.mu.Lock()
	u.shortAddr = addr
	u.mu.Unlock()
}

// SetPANID records the device's current PAN id.
func (u *UWB) SetPANID(id uint16) {
	u.mu.Lock()
	u.panID = id
	u.mu.Unlock()
}
