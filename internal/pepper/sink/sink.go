// Package sink implements the uploader/printer hand-off (§6): an opaque
// capability that may copy, serialise, or drop a finalised epoch summary,
// with no back-pressure applied to the core.
package sink

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/fxamacker/cbor/v2"

	"github.com/future-proof-iot/pepper/internal/pepper/epoch"
)

// Sink is handed a finalised epoch summary at the end of every epoch.
type Sink interface {
	Emit(epoch.Summary) error
}

// wireSummary is the serialisable form of epoch.Summary: byte arrays
// become base64 text for the JSON encoding and raw byte strings for CBOR.
type wireContact struct {
	ET, RT []byte

	HasBLE     bool
	BLEExpS    uint32
	ScanCount  uint32
	AvgRSSIdBm float64

	HasUWB    bool
	UWBExpS   uint32
	ReqCount  uint32
	AvgDistCM float64
	AvgLOSPct float64
}

type wireSummary struct {
	Timestamp uint32
	PublicKey []byte
	Contacts  []wireContact
}

func toWire(s epoch.Summary) wireSummary {
	w := wireSummary{Timestamp: s.Timestamp, PublicKey: s.Keys.Public[:]}
	for _, c := range s.Contacts {
		w.Contacts = append(w.Contacts, wireContact{
			ET:         c.ET[:],
			RT:         c.RT[:],
			HasBLE:     c.HasBLE,
			BLEExpS:    c.BLE.ExposureS,
			ScanCount:  c.BLE.ScanCount,
			AvgRSSIdBm: c.BLE.AvgRSSIdBm,
			HasUWB:     c.HasUWB,
			UWBExpS:    c.UWB.ExposureS,
			ReqCount:   c.UWB.ReqCount,
			AvgDistCM:  c.UWB.AvgDistCM,
			AvgLOSPct:  c.UWB.AvgLOSPct,
		})
	}
	return w
}

// CBORSink serialises each summary as CBOR and writes it to w.
type CBORSink struct {
	w io.Writer
}

// NewCBORSink wraps an io.Writer as a CBOR sink.
func NewCBORSink(w io.Writer) *CBORSink { return &CBORSink{w: w} }

// Emit encodes the summary as CBOR.
func (s *CBORSink) Emit(summary epoch.Summary) error {
	data, err := cbor.Marshal(toWire(summary))
	if err != nil {
		return fmt.Errorf("sink: cbor encode: %w", err)
	}
	_, err = s.w.Write(data)
	return err
}

// JSONSink serialises each summary as JSON and writes it to w.
type JSONSink struct {
	w io.Writer
}

// NewJSONSink wraps an io.Writer as a JSON sink.
func NewJSONSink(w io.Writer) *JSONSink { return &JSONSink{w: w} }

// Emit encodes the summary as JSON.
func (s *JSONSink) Emit(summary epoch.Summary) error {
	data, err := json.Marshal(toWire(summary))
	if err != nil {
		return fmt.Errorf("sink: json encode: %w", err)
	}
	_, err = s.w.Write(data)
	return err
}

// ConsoleSink prints a colorized, human-readable per-contact summary.
type ConsoleSink struct {
	w io.Writer
}

// NewConsoleSink wraps an io.Writer as a console sink.
func NewConsoleSink(w io.Writer) *ConsoleSink { return &ConsoleSink{w: w} }

// Emit prints the summary.
func (s *ConsoleSink) Emit(summary epoch.Summary) error {
	fmt.Fprintln(s.w, color.CyanString("epoch %d: %d contact(s)", summary.Timestamp, len(summary.Contacts)))
	for _, c := range summary.Contacts {
		et := base64.StdEncoding.EncodeToString(c.ET[:])
		line := fmt.Sprintf("  et=%s", et)
		if c.HasBLE {
			line += color.GreenString(" ble(exposure=%ds rssi=%.1fdBm)", c.BLE.ExposureS, c.BLE.AvgRSSIdBm)
		}
		if c.HasUWB {
			line += color.YellowString(" uwb(exposure=%ds dist=%.1fcm)", c.UWB.ExposureS, c.UWB.AvgDistCM)
		}
		fmt.Fprintln(s.w, line)
	}
	return nil
}
