package input

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tonecore/tonecore/pkg/queue"
)

// Windows are the debounce timings measured from the latest edges
type Windows struct {
	ConfirmStart    time.Duration // after rising: earliest confirmation
	ConfirmEnd      time.Duration // after rising: latest confirmation
	ReleaseCooldown time.Duration // after falling: no confirmation
}

// DefaultWindows are tuned for bare tactile switches
var DefaultWindows = Windows{
	ConfirmStart:    20 * time.Millisecond,
	ConfirmEnd:      40 * time.Millisecond,
	ReleaseCooldown: 70 * time.Millisecond,
}

type buttonState struct {
	lastRising  time.Time
	lastFalling time.Time
	armed       bool
}

// Debouncer filters raw edges into press events. It is polled from the
// scheduler loop and owns its per-pin state exclusively.
type Debouncer struct {
	edges   *queue.Ring[RawEdge]
	presses *queue.Ring[PressEvent]
	windows Windows
	log     *slog.Logger

	buttons []buttonState
	dropped atomic.Uint64
}

// NewDebouncer creates a filter for pins buttons. Every pin starts armed with
// both edges at start, which keeps the first window closed.
func NewDebouncer(pins int, edges *queue.Ring[RawEdge], presses *queue.Ring[PressEvent], w Windows, start time.Time, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Debouncer{
		edges:   edges,
		presses: presses,
		windows: w,
		log:     logger,
		buttons: make([]buttonState, pins),
	}
	for i := range d.buttons {
		d.buttons[i] = buttonState{lastRising: start, lastFalling: start, armed: true}
	}
	return d
}

// Poll consumes the edges queued so far and emits at most one press per
// pin whose window just opened.
func (d *Debouncer) Poll(now time.Time) {
	d.edges.Drain(-1, func(e RawEdge) bool {
		if int(e.Pin) >= len(d.buttons) {
			d.log.Warn("edge for unknown pin", "pin", e.Pin)
			return true
		}
		bs := &d.buttons[e.Pin]
		switch e.Direction {
		case Rising:
			bs.lastRising = e.Time
		case Falling:
			bs.lastFalling = e.Time
		}
		return true
	})

	for i := range d.buttons {
		bs := &d.buttons[i]
		on := d.on(bs, now)

		if !on && !bs.armed {
			bs.armed = true
		}
		if on && bs.armed {
			bs.armed = false
			if !d.presses.TryPush(PressEvent{Pin: uint8(i)}) {
				d.dropped.Add(1)
				d.log.Warn("press queue full", "pin", i)
			}
		}
	}
}

// on is true while now is inside the confirmation window after the last
// rising edge and the last falling edge is older than the release cooldown.
func (d *Debouncer) on(bs *buttonState, now time.Time) bool {
	confirmStart := bs.lastRising.Add(d.windows.ConfirmStart)
	confirmEnd := bs.lastRising.Add(d.windows.ConfirmEnd)
	releaseCooldownEnd := bs.lastFalling.Add(d.windows.ReleaseCooldown)

	return now.After(confirmStart) && now.Before(confirmEnd) && now.After(releaseCooldownEnd)
}

// Dropped returns the number of presses lost to a full press queue
func (d *Debouncer) Dropped() uint64 {
	return d.dropped.Load()
}
