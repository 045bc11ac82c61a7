package controller

import (
	"bytes"
	"testing"
	"time"

	"github.com/op/go-logging"

	"github.com/future-proof-iot/pepper/internal/pepper/config"
	"github.com/future-proof-iot/pepper/internal/pepper/faketest"
	"github.com/future-proof-iot/pepper/internal/pepper/plog"
	"github.com/future-proof-iot/pepper/internal/pepper/sink"
)

func testParams(epochDuration time.Duration) Params {
	p := Params{
		Epoch:      config.DefaultEpochParams(),
		Advertiser: config.DefaultAdvertiserParams(),
		Encounter:  config.DefaultEncounterParams(),
		TWR:        config.DefaultTWRParams(),
	}
	p.Epoch.Duration = epochDuration
	p.Epoch.MinExposure = epochDuration / 10
	p.Epoch.Iterations = 1
	p.Advertiser.Interval = 5 * time.Millisecond
	return p
}

func TestTwoPeersEachEmitSummary(t *testing.T) {
	log := plog.Setup("controller_test", logging.CRITICAL)
	broker := faketest.NewBroker()
	clock := faketest.NewClock()

	var aliceBuf, bobBuf bytes.Buffer
	alice := New(
		faketest.NewAdvertiser(broker, "alice", -50),
		faketest.NewScanner(broker, "alice"),
		faketest.NewUWB(),
		clock,
		sink.NewJSONSink(&aliceBuf),
		log,
	)
	bob := New(
		faketest.NewAdvertiser(broker, "bob", -55),
		faketest.NewScanner(broker, "bob"),
		faketest.NewUWB(),
		clock,
		sink.NewJSONSink(&bobBuf),
		log,
	)

	params := testParams(300 * time.Millisecond)
	if err := alice.Start(params); err != nil {
		t.Fatal(err)
	}
	if err := bob.Start(params); err != nil {
		t.Fatal(err)
	}

	time.Sleep(500 * time.Millisecond)

	if aliceBuf.Len() == 0 {
		t.Fatal("expected alice's sink to receive an epoch summary")
	}
	if bobBuf.Len() == 0 {
		t.Fatal("expected bob's sink to receive an epoch summary")
	}
}

func TestStopStartStopLeavesArenaAtFullCapacity(t *testing.T) {
	log := plog.Setup("controller_test", logging.CRITICAL)
	broker := faketest.NewBroker()
	clock := faketest.NewClock()

	c := New(
		faketest.NewAdvertiser(broker, "solo", -50),
		faketest.NewScanner(broker, "solo"),
		faketest.NewUWB(),
		clock,
		sink.NewConsoleSink(new(bytes.Buffer)),
		log,
	)

	params := testParams(time.Hour)
	params.Epoch.Iterations = 0

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(params); err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}

	if c.Status().State != Stopped {
		t.Fatalf("expected Stopped state, got %v", c.Status().State)
	}
	if c.arena.Len() != 0 {
		t.Fatalf("expected arena empty after stop, got %d active", c.arena.Len())
	}
	if c.arena.FreeCount() != c.arena.Capacity() {
		t.Fatalf("expected arena at full free capacity, got %d/%d", c.arena.FreeCount(), c.arena.Capacity())
	}
}

func TestPauseResume(t *testing.T) {
	log := plog.Setup("controller_test", logging.CRITICAL)
	broker := faketest.NewBroker()
	clock := faketest.NewClock()

	c := New(
		faketest.NewAdvertiser(broker, "solo", -50),
		faketest.NewScanner(broker, "solo"),
		faketest.NewUWB(),
		clock,
		sink.NewConsoleSink(new(bytes.Buffer)),
		log,
	)

	params := testParams(time.Hour)
	params.Epoch.Iterations = 0
	if err := c.Start(params); err != nil {
		t.Fatal(err)
	}

	if err := c.Pause(); err != nil {
		t.Fatal(err)
	}
	if c.Status().State != Paused {
		t.Fatalf("expected Paused, got %v", c.Status().State)
	}

	if err := c.Resume(false); err != nil {
		t.Fatal(err)
	}
	if c.Status().State != Running {
		t.Fatalf("expected Running after resume, got %v", c.Status().State)
	}

	c.Stop()
}
