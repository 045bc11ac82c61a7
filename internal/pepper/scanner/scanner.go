// Package scanner implements the scanner/decoder (C4): a ref-counted
// fan-out over the BLE host's advertisement stream, decoding and
// validating each matching payload before notifying listeners.
package scanner

import (
	"sync"

	"github.com/future-proof-iot/pepper/internal/pepper/radio"
	"github.com/future-proof-iot/pepper/internal/pepper/wire"
)

// Detection is delivered to every listener for each accepted
// advertisement.
type Detection struct {
	RxTimeMS int64
	PeerAddr string
	RSSIdBm  int8
	SID      uint8
	CID      uint32
	Slice    [12]byte
	Seed     uint16
}

// Decoder subscribes to a radio.BLEScanner and fans decoded, validated
// detections out to any number of listeners.
type Decoder struct {
	mu        sync.Mutex
	device    radio.BLEScanner
	listeners map[int]func(Detection)
	nextID    int
	started   bool
}

// NewDecoder wires a Decoder to its BLE scanner collaborator.
func NewDecoder(device radio.BLEScanner) *Decoder {
	return &Decoder{device: device, listeners: make(map[int]func(Detection))}
}

// Subscribe registers a listener, starting the underlying scan if this is
// the first subscriber. It returns an id to pass to Unsubscribe.
func (d *Decoder) Subscribe(cb func(Detection)) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.listeners[id] = cb

	if !d.started {
		if err := d.device.Start(d.onMatch); err != nil {
			delete(d.listeners, id)
			d.nextID--
			return 0, err
		}
		d.started = true
	}
	return id, nil
}

// Unsubscribe removes a listener, stopping the underlying scan if it was
// the last one.
func (d *Decoder) Unsubscribe(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.listeners, id)
	if len(d.listeners) == 0 && d.started {
		d.started = false
		return d.device.Stop()
	}
	return nil
}

func (d *Decoder) onMatch(m radio.ScanMatch) {
	sid, cid, slice, _, seed, err := wire.ParsePayload(m.Payload)
	if err != nil {
		// Malformed or non-PEPPER advertisement; dropped silently
		// (only logged at DEBUG by callers who care).
		return
	}

	det := Detection{
		RxTimeMS: m.RxTimeMS,
		PeerAddr: m.PeerAddr,
		RSSIdBm:  m.RSSIdBm,
		SID:      sid,
		CID:      cid,
		Slice:    slice,
		Seed:     seed,
	}

	d.mu.Lock()
	cbs := make([]func(Detection), 0, len(d.listeners))
	for _, cb := range d.listeners {
		cbs = append(cbs, cb)
	}
	d.mu.Unlock()

	for _, cb := range cbs {
		cb(det)
	}
}
