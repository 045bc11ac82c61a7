// Package controller implements the top-level controller (C8): it owns
// every other component instance and the mutex guarding state
// transitions, brokering radio callbacks and end-of-epoch events between
// them.
package controller

import (
	"crypto/rand"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/future-proof-iot/pepper/internal/pepper/advertiser"
	"github.com/future-proof-iot/pepper/internal/pepper/config"
	"github.com/future-proof-iot/pepper/internal/pepper/crypto"
	"github.com/future-proof-iot/pepper/internal/pepper/ebid"
	"github.com/future-proof-iot/pepper/internal/pepper/encounter"
	"github.com/future-proof-iot/pepper/internal/pepper/epoch"
	"github.com/future-proof-iot/pepper/internal/pepper/radio"
	"github.com/future-proof-iot/pepper/internal/pepper/scanner"
	"github.com/future-proof-iot/pepper/internal/pepper/sink"
	"github.com/future-proof-iot/pepper/internal/pepper/twr"
	"github.com/future-proof-iot/pepper/internal/pepper/version"
)

// State is the controller's externally-visible lifecycle state.
type State int

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	default:
		return "UNKNOWN"
	}
}

// Params bundles every component's tunables for one Start call.
type Params struct {
	Epoch      config.EpochParams
	Advertiser config.AdvertiserParams
	Encounter  config.EncounterParams
	TWR        config.TWRParams
	Align      bool
}

// Status is a snapshot of the controller's externally-visible state.
type Status struct {
	State     State
	CID       uint32
	Iteration uint32
	Version   string // protocol version, version.Protocol
}

// Controller owns C2 through C7's instances for the running epoch and
// brokers the BLE/UWB radio callbacks between them. All public operations
// acquire the controller mutex; callbacks registered with the radio ports
// must stay off that lock, per the concurrency model, and instead rely on
// the encounter arena's and TWR bridge's own internal locking.
type Controller struct {
	mu    sync.Mutex
	state State
	log   *logging.Logger

	ble   radio.BLEAdvertiser
	scan  radio.BLEScanner
	uwb   radio.UWBDevice
	clock radio.Clock
	sink  sink.Sink

	params Params

	keys      crypto.Keys
	localEBID *ebid.EBID

	carousel *advertiser.Carousel
	decoder  *scanner.Decoder
	arena    *encounter.Arena
	bridge   *twr.Bridge

	scanListenerID int
	epochTimer     *time.Timer
	iteration      uint32
}

// New constructs a Controller over the given radio collaborators and
// sink. Call Init before Start.
func New(ble radio.BLEAdvertiser, scan radio.BLEScanner, uwb radio.UWBDevice, clock radio.Clock, out sink.Sink, log *logging.Logger) *Controller {
	return &Controller{ble: ble, scan: scan, uwb: uwb, clock: clock, sink: out, log: log, state: Stopped}
}

// Init resets the controller to a clean Stopped state.
func (c *Controller) Init() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Stopped
	c.iteration = 0
}

// Start begins epoch setup and, once bootstrapped, the advertiser,
// scanner, and TWR bridge. If params.Align is set, the first epoch's end
// may be delayed to align with a global wall-clock boundary before
// returning.
func (c *Controller) Start(params Params) error {
	c.mu.Lock()
	if c.state == Running {
		c.mu.Unlock()
		if err := c.Stop(); err != nil {
			return err
		}
		c.mu.Lock()
	}
	c.params = params
	c.mu.Unlock()

	if params.Align {
		c.sleepUntilAligned(params.Epoch.Duration)
	}

	return c.setupAndStart()
}

func (c *Controller) sleepUntilAligned(duration time.Duration) {
	if duration <= 0 {
		return
	}
	nowS := time.Duration(c.clock.EpochSeconds()) * time.Second
	delay := duration - (nowS % duration)
	time.Sleep(delay)
}

// setupAndStart performs one "setup" + "start core" transition.
func (c *Controller) setupAndStart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := crypto.GenerateKeys(rand.Reader)
	if err != nil {
		return fmt.Errorf("controller: generate keys: %w", err)
	}
	c.keys = keys
	c.localEBID = ebid.GenerateFrom(keys.Public)

	c.log.Infof("controller: starting epoch, protocol version %s", version.Protocol)

	c.arena = encounter.NewArena(c.params.Encounter, c.log)
	c.arena.SetLocalEBID(c.localEBID)

	c.bridge = twr.NewBridge(c.params.TWR, c.uwb, c.arena, c.clock, c.log)
	c.carousel = advertiser.NewCarousel(c.params.Advertiser, c.ble)
	c.decoder = scanner.NewDecoder(c.scan)

	advIntervalMS := int(c.params.Advertiser.Interval.Milliseconds())
	miaTimeoutS := uint32(c.params.Encounter.MIATimeout / time.Second)

	c.carousel.OnAdvertisement(func(seed uint16, count uint32) {
		nowS := c.clock.EpochSeconds()
		peers := c.arena.ActivePeers(miaTimeoutS, nowS)
		c.bridge.OnAdvComplete(peers, advIntervalMS)
	})

	listenerID, err := c.decoder.Subscribe(func(d scanner.Detection) {
		c.onDetection(d, advIntervalMS)
	})
	if err != nil {
		return fmt.Errorf("controller: subscribe scanner: %w", err)
	}
	c.scanListenerID = listenerID

	c.uwb.SetShortAddr(uint16(c.carousel.CID() & 0xFFFF))
	c.uwb.SetPANID(0xAA)

	advsMax := uint32(0)
	if c.params.Advertiser.Interval > 0 {
		advsMax = uint32(c.params.Epoch.Duration.Milliseconds() / c.params.Advertiser.Interval.Milliseconds())
	}
	if err := c.carousel.Start(c.localEBID, advsMax, c.params.Advertiser.AdvsPerSlice); err != nil {
		return fmt.Errorf("controller: start carousel: %w", err)
	}

	c.uwb.SetShortAddr(uint16(c.carousel.CID() & 0xFFFF))

	c.state = Running
	c.armEpochTimer()
	return nil
}

func (c *Controller) armEpochTimer() {
	if c.epochTimer != nil {
		c.epochTimer.Stop()
	}
	c.epochTimer = time.AfterFunc(c.params.Epoch.Duration, c.onEndOfEpoch)
}

// mapSIDToPart maps an on-wire SID (0..3) onto the EBID part it encodes.
func mapSIDToPart(sid uint8) (ebid.Part, bool) {
	switch sid {
	case 0:
		return ebid.Slice1, true
	case 1:
		return ebid.Slice2, true
	case 2:
		return ebid.Slice3, true
	case 3:
		return ebid.XOR, true
	default:
		return 0, false
	}
}

func (c *Controller) onDetection(d scanner.Detection, advIntervalMS int) {
	part, ok := mapSIDToPart(d.SID)
	if !ok {
		c.log.Debugf("scanner: invalid sid %d dropped", d.SID)
		return
	}

	tS := uint32(d.RxTimeMS / 1000)
	data := d.Slice[:]
	if part == ebid.Slice3 {
		data = d.Slice[:ebid.ShortSliceSize]
	}

	_, justCompleted := c.arena.ProcessSlice(d.CID, tS, part, data, d.SID)
	c.arena.ProcessScanSample(d.CID, tS, float64(d.RSSIdBm))

	if justCompleted {
		c.bridge.OnPeerSliceComplete(c.localEBID, advIntervalMS)
	}
}

func (c *Controller) onEndOfEpoch() {
	c.mu.Lock()
	if c.state != Running {
		c.mu.Unlock()
		return
	}
	c.carousel.Stop()
	_ = c.decoder.Unsubscribe(c.scanListenerID)
	c.bridge.Cancel()

	summary := epoch.Finalise(c.arena, c.params.Epoch, c.keys, c.clock.EpochSeconds())
	c.arena.Clear()

	iterations := c.params.Epoch.Iterations
	c.iteration++
	more := iterations == 0 || c.iteration < iterations
	c.mu.Unlock()

	if c.sink != nil {
		if err := c.sink.Emit(summary); err != nil {
			c.log.Warningf("controller: sink emit failed: %v", err)
		}
	}

	if more {
		if err := c.setupAndStart(); err != nil {
			c.log.Errorf("controller: re-setup failed: %v", err)
		}
		return
	}

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()
}

// Stop halts the advertiser, scanner, and TWR bridge and discards the
// current epoch's encounter data, leaving the controller Stopped.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epochTimer != nil {
		c.epochTimer.Stop()
		c.epochTimer = nil
	}
	if c.carousel != nil {
		c.carousel.Stop()
	}
	if c.decoder != nil {
		_ = c.decoder.Unsubscribe(c.scanListenerID)
	}
	if c.bridge != nil {
		c.bridge.Cancel()
	}
	if c.arena != nil {
		c.arena.Clear()
	}
	c.state = Stopped
	return nil
}

// Pause disables the core (advertiser, scanner, TWR) without discarding
// the current epoch's encounter data, transitioning to Paused.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Running {
		return nil
	}
	if c.epochTimer != nil {
		c.epochTimer.Stop()
	}
	c.carousel.Stop()
	_ = c.decoder.Unsubscribe(c.scanListenerID)
	c.bridge.Cancel()
	c.state = Paused
	return nil
}

// Resume re-enables the core after a Pause, optionally realigning the
// end-of-epoch boundary to the wall clock first.
func (c *Controller) Resume(align bool) error {
	c.mu.Lock()
	if c.state != Paused {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if align {
		c.sleepUntilAligned(c.params.Epoch.Duration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	listenerID, err := c.decoder.Subscribe(func(d scanner.Detection) {
		c.onDetection(d, int(c.params.Advertiser.Interval.Milliseconds()))
	})
	if err != nil {
		return fmt.Errorf("controller: resume subscribe: %w", err)
	}
	c.scanListenerID = listenerID

	if err := c.carousel.Start(c.localEBID, math.MaxUint32, c.params.Advertiser.AdvsPerSlice); err != nil {
		return fmt.Errorf("controller: resume carousel: %w", err)
	}

	c.state = Running
	c.armEpochTimer()
	return nil
}

// Status returns a snapshot of the controller's current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, CID: c.cidLocked(), Iteration: c.iteration, Version: version.Protocol.String()}
}

func (c *Controller) cidLocked() uint32 {
	if c.carousel == nil {
		return 0
	}
	return c.carousel.CID()
}

// TWRSetRxOffset sets the TWR listen-side offset.
func (c *Controller) TWRSetRxOffset(d time.Duration) error {
	c.mu.Lock()
	bridge := c.bridge
	c.mu.Unlock()
	if bridge == nil {
		return fmt.Errorf("controller: not started")
	}
	return bridge.SetRxOffset(d)
}

// TWRSetTxOffset sets the TWR request-side offset.
func (c *Controller) TWRSetTxOffset(d time.Duration) error {
	c.mu.Lock()
	bridge := c.bridge
	c.mu.Unlock()
	if bridge == nil {
		return fmt.Errorf("controller: not started")
	}
	return bridge.SetTxOffset(d)
}
