// Package engine wires the synthesis, scheduling and input components into
// one owner and exposes the control-context API.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tonecore/tonecore/pkg/audio"
	"github.com/tonecore/tonecore/pkg/config"
	"github.com/tonecore/tonecore/pkg/input"
	"github.com/tonecore/tonecore/pkg/queue"
	"github.com/tonecore/tonecore/pkg/tone"
)

// Engine owns every piece of real-time state. Three kinds of goroutine
// touch it:
//   - the sample clock (Render, Tick, or an audio.Pacer) runs the mixer,
//   - the loop (Run or Step) runs the scheduler and the debouncer,
//   - control code calls RequestTone, RequestWait, PollPress and Edge.
//
// The only state shared outside a queue is the channel pool, which uses
// per-field atomics with a single writer per field.
type Engine struct {
	cfg    config.Config
	log    *slog.Logger
	clock  func() time.Time
	epoch  time.Time
	layout input.Layout

	bank     *audio.Bank
	pool     *audio.Pool
	mixer    *audio.Mixer
	sched    *audio.Scheduler
	commands *queue.Ring[tone.Command]

	edges    *queue.Ring[input.RawEdge]
	presses  *queue.Ring[input.PressEvent]
	edgeSrc  *input.EdgeSource
	debounce *input.Debouncer

	accepted    atomic.Uint64
	lateSources []func() uint64
	reported    Stats
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger used by the loop-side components
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// New builds the wavetables first, then the channel pool, queues and filters
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	layout, err := input.NewLayout(cfg.Pins, cfg.Keys)
	if err != nil {
		return nil, fmt.Errorf("button layout: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		log:    slog.Default(),
		clock:  time.Now,
		layout: layout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.epoch = e.clock()

	e.bank = audio.NewBank(cfg.TableLength, cfg.PeakAmplitude)
	e.pool = audio.NewPool(cfg.ChannelCount)
	e.mixer = audio.NewMixer(e.bank, e.pool, cfg.Saturate)
	e.commands = queue.New[tone.Command](cfg.CommandQueue)
	e.sched = audio.NewScheduler(e.pool, e.commands, cfg.SampleRate, cfg.OnVolume, e.log.With("component", "scheduler"))

	e.edges = queue.New[input.RawEdge](cfg.EdgeQueue)
	e.presses = queue.New[input.PressEvent](cfg.PressQueue)
	e.edgeSrc = input.NewEdgeSource(layout, e.edges)
	windows := input.Windows{
		ConfirmStart:    cfg.Debounce.ConfirmStartDuration(),
		ConfirmEnd:      cfg.Debounce.ConfirmEndDuration(),
		ReleaseCooldown: cfg.Debounce.ReleaseCooldownDuration(),
	}
	e.debounce = input.NewDebouncer(layout.Len(), e.edges, e.presses, windows, e.epoch, e.log.With("component", "debounce"))

	e.log.Info("engine ready",
		"sample_rate", cfg.SampleRate,
		"channels", cfg.ChannelCount,
		"table_length", cfg.TableLength,
		"pins", layout.Len(),
	)
	return e, nil
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() config.Config {
	return e.cfg
}

// Layout returns the button layout
func (e *Engine) Layout() input.Layout {
	return e.layout
}

// Now reads the engine clock
func (e *Engine) Now() time.Time {
	return e.clock()
}

// RequestWait queues a wait command. It returns true if the queue was full
// and the caller must retry.
func (e *Engine) RequestWait(ms uint32) (needsRetry bool) {
	return !e.push(tone.Wait(ms))
}

// RequestTone queues a start-tone command. It returns true if the queue was
// full and the caller must retry.
func (e *Engine) RequestTone(freq float64, w tone.Waveform) (needsRetry bool) {
	return !e.push(tone.StartTone(freq, w))
}

func (e *Engine) push(c tone.Command) bool {
	if !e.commands.TryPush(c) {
		return false
	}
	e.accepted.Add(1)
	return true
}

// Idle reports whether every accepted command has been handled and the last
// chord or rest has run out at now. Call it from the goroutine that issues
// the requests.
func (e *Engine) Idle(now time.Time) bool {
	if e.accepted.Load() != e.sched.Consumed() {
		return false
	}
	return !now.Before(e.sched.Deadline())
}

// PollPress removes one debounced press. ok is false when none is pending.
func (e *Engine) PollPress() (pin uint8, ok bool) {
	p, ok := e.presses.TryPop()
	return p.Pin, ok
}

// Edge is the input-interrupt entry point for a GPIO transition
func (e *Engine) Edge(gpio int, dir input.Direction, at time.Time) bool {
	return e.edgeSrc.Edge(gpio, dir, at)
}

// EdgeIndex records a transition by pin index
func (e *Engine) EdgeIndex(pin uint8, dir input.Direction, at time.Time) bool {
	return e.edgeSrc.EdgeIndex(pin, dir, at)
}

// Step runs one loop iteration: the scheduler, then the debouncer
func (e *Engine) Step(now time.Time) {
	e.sched.Step(now)
	e.debounce.Poll(now)
}

// Run drives the loop until ctx is cancelled. It never waits on a queue;
// between iterations it sleeps for the configured poll interval, or just
// yields when that is zero.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.PollInterval()
	report := time.NewTicker(250 * time.Millisecond)
	defer report.Stop()

	e.log.Info("scheduler loop started", "poll_interval", interval)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("scheduler loop stopped")
			return ctx.Err()
		case <-report.C:
			e.reportDiagnostics()
		default:
		}

		e.Step(e.clock())

		if interval > 0 {
			time.Sleep(interval)
		} else {
			yield()
		}
	}
}

// Render is the sample-clock routine for pull outputs
func (e *Engine) Render(dst []uint16) {
	e.mixer.Render(dst)
}

// Mixer exposes the mixer for push outputs paced by audio.Pacer
func (e *Engine) Mixer() *audio.Mixer {
	return e.mixer
}

// RenderOffline runs the mixer for n samples into sink, stepping the loop
// once per millisecond of produced audio. Time is derived from the sample
// count, so the result does not depend on wall-clock speed.
func (e *Engine) RenderOffline(sink audio.Sink, n int) {
	stepEvery := uint64(e.cfg.SampleRate / 1000)
	if stepEvery == 0 {
		stepEvery = 1
	}
	for i := 0; i < n; i++ {
		ticks := e.mixer.Ticks()
		if ticks%stepEvery == 0 {
			e.Step(e.SampleTime(ticks))
		}
		e.mixer.Tick(sink)
	}
}

// SampleTime converts a tick count to an instant on the engine clock
func (e *Engine) SampleTime(ticks uint64) time.Time {
	return e.epoch.Add(time.Duration(ticks * uint64(time.Second) / uint64(e.cfg.SampleRate)))
}

// Channels snapshots the channel pool into dst
func (e *Engine) Channels(dst []audio.ChannelState) []audio.ChannelState {
	return e.pool.Snapshot(dst)
}

// PendingCommands returns the number of queued commands
func (e *Engine) PendingCommands() int {
	return e.commands.Len()
}
