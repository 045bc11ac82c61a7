// Package timehooks implements the current-time hooks (C9): pre/post
// wall-clock adjustment callbacks that pause and resume the controller
// across large clock jumps.
package timehooks

import (
	"time"

	"github.com/op/go-logging"
)

// Controller is the narrow slice of controller.Controller these hooks
// need, kept as an interface to avoid an import cycle between
// internal/pepper/controller and internal/pepper/timehooks.
type Controller interface {
	Pause() error
	Resume(align bool) error
}

// Hooks registers pre/post adjustment callbacks with an external
// wall-clock service, pausing the controller on large jumps and resuming
// aligned afterwards.
type Hooks struct {
	ctrl     Controller
	duration time.Duration
	log      *logging.Logger
}

// New wires Hooks to a controller and the epoch duration used to judge
// "large" offsets (duration/10, per the design).
func New(ctrl Controller, duration time.Duration, log *logging.Logger) *Hooks {
	return &Hooks{ctrl: ctrl, duration: duration, log: log}
}

func (h *Hooks) maxOffset() time.Duration {
	return h.duration / 10
}

func inRange(diff, limit time.Duration) bool {
	if diff < 0 {
		diff = -diff
	}
	return diff <= limit
}

// PreAdjust is called before the wall clock is stepped by offset. If the
// offset is large, the controller is paused so the epoch boundary isn't
// corrupted by the jump.
func (h *Hooks) PreAdjust(offset time.Duration) {
	if !inRange(offset, h.maxOffset()) {
		h.log.Warning("current_time: pause, time diff is too high")
		if err := h.ctrl.Pause(); err != nil {
			h.log.Warningf("current_time: pause failed: %v", err)
		}
	}
}

// PostAdjust is called after the wall clock has been stepped by offset.
// If the offset was large, the controller is resumed with alignment.
func (h *Hooks) PostAdjust(offset time.Duration) {
	if !inRange(offset, h.maxOffset()) {
		h.log.Warning("current_time: resume")
		if err := h.ctrl.Resume(true); err != nil {
			h.log.Warningf("current_time: resume failed: %v", err)
		}
	}
}
