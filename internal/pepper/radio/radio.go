// Package radio declares the BLE and UWB host-stack ports PEPPER's core
// consumes as external collaborators, plus a wall-clock port. Concrete
// drivers (a real BLE/UWB stack) live outside this module; internal/pepper
// only depends on these interfaces and the in-memory fakes in
// internal/pepper/faketest.
package radio

import uuid "github.com/satori/go.uuid"

// CharacteristicUUID identifies the GATT characteristic the BLE host stack
// addresses writes and notifications through, mirrored here purely so
// callers constructing a concrete driver share one well-known id.
var CharacteristicUUID = uuid.Must(uuid.FromString("2B9D6E18-3E2A-4E63-8E36-9C2F6E9A6B6E"))

// RangingAlgo selects the UWB TWR variant.
type RangingAlgo int

const (
	// SingleSidedTWR is the default algorithm.
	SingleSidedTWR RangingAlgo = iota
	// DoubleSidedTWR additionally exchanges a MAC-layer acknowledgement.
	DoubleSidedTWR
)

// RangeResult is delivered by the UWB stack on ranging completion.
type RangeResult struct {
	SrcAddr      uint16
	DstAddr      uint16
	TimeOfFlight float64 // seconds
	DistanceCM   float64
	LOSPercent   float64
	HasLOS       bool
}

// ScanMatch is delivered by the BLE stack for each accepted advertisement.
type ScanMatch struct {
	RxTimeMS int64
	PeerAddr string
	RSSIdBm  int8
	Payload  [22]byte
}

// BLEAdvertiser is the emit-side BLE host-stack port (C3's collaborator).
type BLEAdvertiser interface {
	SetPayload(payload [22]byte) error
	// Advertise fires one extended-advertising event asynchronously; its
	// completion is reported through the callback registered with
	// OnComplete.
	Advertise() error
	OnComplete(cb func())
	Stop()
}

// BLEScanner is the receive-side BLE host-stack port (C4's collaborator).
type BLEScanner interface {
	Start(onMatch func(ScanMatch)) error
	Stop() error
}

// UWBDevice is the UWB MAC/PHY port (C6's collaborator).
type UWBDevice interface {
	// TrySemaphore attempts a non-blocking acquire of the device's
	// busy semaphore, returning false if the device is already in use.
	TrySemaphore() bool
	RngRequest(dstShortAddr uint16, algo RangingAlgo) error
	RngListen(windowUS int) error
	OnRangeComplete(cb func(RangeResult))
	SetShortAddr(addr uint16)
	SetPANID(id uint16)
}

// Clock is the wall-clock port (C9's collaborator).
type Clock interface {
	NowMS() int64
	EpochSeconds() uint32
}
