package audio

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tonecore/tonecore/pkg/queue"
	"github.com/tonecore/tonecore/pkg/tone"
)

// Scheduler turns queued commands into active channels. A chord is the run
// of start-tone commands before a wait; the wait arms the deadline after
// which the chord is silenced and the next one is loaded.
type Scheduler struct {
	pool       *Pool
	commands   *queue.Ring[tone.Command]
	sampleRate int
	onVolume   uint16
	log        *slog.Logger

	// Playback state, owned by the loop goroutine
	deadline   time.Time
	noteActive bool
	next       int

	dropped    atomic.Uint64
	consumed   atomic.Uint64
	deadlineNs atomic.Int64 // deadline for readers outside the loop
}

// SchedulerState is a copy of the scheduler's loop state
type SchedulerState struct {
	Deadline   time.Time
	NoteActive bool
	NextFree   int
}

// NewScheduler creates a scheduler. A zero deadline means the first Step
// drains the queue immediately.
func NewScheduler(pool *Pool, commands *queue.Ring[tone.Command], sampleRate int, onVolume uint16, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pool:       pool,
		commands:   commands,
		sampleRate: sampleRate,
		onVolume:   onVolume,
		log:        logger,
	}
}

// Step runs one scheduler iteration at time now
func (s *Scheduler) Step(now time.Time) {
	if now.Before(s.deadline) {
		return
	}

	if s.noteActive {
		s.noteActive = false
		s.next = 0
		s.pool.SilenceAll()
	}

	for {
		cmd, ok := s.commands.TryPop()
		if !ok {
			return
		}

		switch cmd.Kind {
		case tone.KindStartTone:
			s.allocate(cmd)
		case tone.KindWait:
			s.deadline = now.Add(time.Duration(cmd.Duration) * time.Millisecond)
			s.noteActive = true
			s.deadlineNs.Store(s.deadline.UnixNano())
			s.consumed.Add(1)
			s.log.Debug("chord armed", "channels", s.next, "duration_ms", cmd.Duration)
			return
		default:
			s.log.Warn("unknown command dropped", "kind", cmd.Kind)
		}
		s.consumed.Add(1)
	}
}

func (s *Scheduler) allocate(cmd tone.Command) {
	if s.next >= s.pool.Len() {
		s.dropped.Add(1)
		s.log.Warn("channel pool exhausted", "command", cmd.String(), "channels", s.pool.Len())
		return
	}
	w := cmd.Waveform
	if !w.Valid() {
		s.log.Warn("invalid waveform, using sine", "waveform", uint8(w))
		w = tone.Sine
	}

	s.pool.Start(s.next, FreqToDelta(cmd.Frequency, s.sampleRate), s.onVolume, w)
	s.log.Debug("tone started", "channel", s.next, "command", cmd.String())
	s.next++
}

// Dropped returns the number of start-tone commands lost to pool exhaustion
func (s *Scheduler) Dropped() uint64 {
	return s.dropped.Load()
}

// Consumed returns the number of commands taken off the queue and handled
func (s *Scheduler) Consumed() uint64 {
	return s.consumed.Load()
}

// Deadline returns the end of the current chord. Unlike State it is safe to
// call from any goroutine; it is the zero time until the first wait.
func (s *Scheduler) Deadline() time.Time {
	ns := s.deadlineNs.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// State returns the loop state. Call it from the loop goroutine.
func (s *Scheduler) State() SchedulerState {
	return SchedulerState{Deadline: s.deadline, NoteActive: s.noteActive, NextFree: s.next}
}
