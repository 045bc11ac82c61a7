package timehooks

import (
	"testing"
	"time"

	"github.com/op/go-logging"

	"github.com/future-proof-iot/pepper/internal/pepper/plog"
)

type fakeController struct {
	paused  bool
	resumed bool
	align   bool
}

func (f *fakeController) Pause() error {
	f.paused = true
	return nil
}

func (f *fakeController) Resume(align bool) error {
	f.resumed = true
	f.align = align
	return nil
}

func TestLargeJumpPausesAndResumes(t *testing.T) {
	log := plog.Setup("hooks_test", logging.CRITICAL)
	ctrl := &fakeController{}
	h := New(ctrl, 600*time.Second, log)

	h.PreAdjust(120 * time.Second)
	if !ctrl.paused {
		t.Fatal("expected a >60s offset (max=duration/10=60s) to pause the controller")
	}

	h.PostAdjust(120 * time.Second)
	if !ctrl.resumed || !ctrl.align {
		t.Fatal("expected the matching post-hook to resume aligned")
	}
}

func TestSmallJumpDoesNotPause(t *testing.T) {
	log := plog.Setup("hooks_test", logging.CRITICAL)
	ctrl := &fakeController{}
	h := New(ctrl, 600*time.Second, log)

	h.PreAdjust(5 * time.Second)
	if ctrl.paused {
		t.Fatal("expected a small offset to leave the controller running")
	}
}

func TestNegativeJumpUsesMagnitude(t *testing.T) {
	log := plog.Setup("hooks_test", logging.CRITICAL)
	ctrl := &fakeController{}
	h := New(ctrl, 600*time.Second, log)

	h.PreAdjust(-120 * time.Second)
	if !ctrl.paused {
		t.Fatal("expected a large negative offset to pause the controller too")
	}
}
