// Package config collects the tunable parameters for every pepper
// component, each with a Default constructor mirroring the original
// firmware's compile-time defaults.
package config

import "time"

// EpochParams controls the epoch engine (C7).
type EpochParams struct {
	Duration     time.Duration // default 900s
	TopK         int           // max contacts retained per epoch, default 8
	MinExposure  time.Duration // minimum cumulative exposure for a valid contact
	Iterations   uint32        // number of epochs to run, 0 = unbounded
}

// DefaultEpochParams returns the spec's defaults: a 900s epoch, top 8
// contacts, minimum exposure one third of the epoch duration.
func DefaultEpochParams() EpochParams {
	d := 900 * time.Second
	return EpochParams{
		Duration:    d,
		TopK:        8,
		MinExposure: d / 3,
		Iterations:  0,
	}
}

// AdvertiserParams controls the carousel advertiser (C3).
type AdvertiserParams struct {
	Interval       time.Duration // time between advertisement events, default 1s
	SliceRotation  time.Duration // slice rotation period, default 20s; not read by the carousel, which rotates by AdvsPerSlice
	EBIDRotation   time.Duration // EBID rotation period, default 15min; not read, a new EBID/CID pair is generated at each epoch setup
	AdvsPerSlice   uint32        // number of advertisement events per slice, 0 is treated as 1
}

// DefaultAdvertiserParams mirrors DESIRE_DEFAULT_SLICE_ROTATION_PERIOD_SEC
// and DESIRE_DEFAULT_EBID_ROTATION_PERIOD_SEC.
func DefaultAdvertiserParams() AdvertiserParams {
	return AdvertiserParams{
		Interval:      time.Second,
		SliceRotation: 20 * time.Second,
		EBIDRotation:  15 * time.Minute,
		AdvsPerSlice:  0,
	}
}

// EncounterParams controls the encounter data arena (C5).
type EncounterParams struct {
	ArenaSize               int     // fixed number of concurrent encounter-data slots, default 10
	ObfuscationMax          int     // modulus for the RSSI obfuscation salt, default 100
	RxGainCompensationDB    float64 // subtracted from accumulated RSSI, default 0
	MaxDistanceCM           float64 // upper bound for a valid UWB contact, default 200
	MinRequestCount         uint32  // minimum TWR request count for a valid contact, default 1
	MIATimeout              time.Duration // peers whose last slice is older than this get no TWR requests scheduled, default 5s
}

// DefaultEncounterParams returns the original's CONFIG_ED_* defaults.
func DefaultEncounterParams() EncounterParams {
	return EncounterParams{
		ArenaSize:            10,
		ObfuscationMax:       100,
		RxGainCompensationDB: 0,
		MaxDistanceCM:        200,
		MinRequestCount:      1,
		MIATimeout:           5 * time.Second,
	}
}

// TWRParams controls the ranging scheduling bridge (C6).
type TWRParams struct {
	PoolSize     int           // fixed number of scheduled-op slots, default 40
	MinOffset    time.Duration // added to every EBID-derived offset; rx/tx offsets must keep their sum with it positive, default 100ms
	ListenWindow time.Duration // how long a scheduled listen stays armed
}

// DefaultTWRParams mirrors CONFIG_TWR_EVENT_BUF_SIZE / CONFIG_TWR_MIN_OFFSET_TICKS.
func DefaultTWRParams() TWRParams {
	return TWRParams{
		PoolSize:     40,
		MinOffset:    100 * time.Millisecond,
		ListenWindow: 30 * time.Millisecond,
	}
}
