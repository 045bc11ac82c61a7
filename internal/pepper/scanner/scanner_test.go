package scanner

import (
	"testing"
	"time"

	"github.com/future-proof-iot/pepper/internal/pepper/faketest"
	"github.com/future-proof-iot/pepper/internal/pepper/wire"
)

func TestDecoderDeliversValidDetections(t *testing.T) {
	broker := faketest.NewBroker()
	tx := faketest.NewAdvertiser(broker, "tx", -60)
	rx := faketest.NewScanner(broker, "rx")
	decoder := NewDecoder(rx)

	var slice [12]byte
	slice[0] = 0xAB
	payload := wire.BuildPayload(1, 42, slice, -20, 7)
	if err := tx.SetPayload(payload); err != nil {
		t.Fatal(err)
	}

	got := make(chan Detection, 1)
	id, err := decoder.Subscribe(func(d Detection) { got <- d })
	if err != nil {
		t.Fatal(err)
	}
	defer decoder.Unsubscribe(id)

	if err := tx.Advertise(); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-got:
		if d.SID != 1 || d.CID != 42 || d.Slice != slice {
			t.Fatalf("unexpected detection: %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for detection")
	}
}

func TestDecoderFanOutToMultipleListeners(t *testing.T) {
	broker := faketest.NewBroker()
	tx := faketest.NewAdvertiser(broker, "tx", -60)
	rx := faketest.NewScanner(broker, "rx")
	decoder := NewDecoder(rx)

	var slice [12]byte
	payload := wire.BuildPayload(0, 1, slice, 0, 0)
	if err := tx.SetPayload(payload); err != nil {
		t.Fatal(err)
	}

	got1 := make(chan Detection, 1)
	got2 := make(chan Detection, 1)
	id1, err := decoder.Subscribe(func(d Detection) { got1 <- d })
	if err != nil {
		t.Fatal(err)
	}
	id2, err := decoder.Subscribe(func(d Detection) { got2 <- d })
	if err != nil {
		t.Fatal(err)
	}
	defer decoder.Unsubscribe(id1)
	defer decoder.Unsubscribe(id2)

	if err := tx.Advertise(); err != nil {
		t.Fatal(err)
	}

	for _, ch := range []chan Detection{got1, got2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out detection")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	broker := faketest.NewBroker()
	tx := faketest.NewAdvertiser(broker, "tx", -60)
	rx := faketest.NewScanner(broker, "rx")
	decoder := NewDecoder(rx)

	got := make(chan Detection, 1)
	id, err := decoder.Subscribe(func(d Detection) { got <- d })
	if err != nil {
		t.Fatal(err)
	}
	if err := decoder.Unsubscribe(id); err != nil {
		t.Fatal(err)
	}

	var slice [12]byte
	payload := wire.BuildPayload(0, 1, slice, 0, 0)
	tx.SetPayload(payload)
	if err := tx.Advertise(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	select {
	case d := <-got:
		t.Fatalf("expected no delivery after unsubscribe, got %+v", d)
	default:
	}
}
