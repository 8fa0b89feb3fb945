package engine

import "runtime"

// Stats are the engine's diagnostic counters
type Stats struct {
	Ticks          uint64 // samples mixed
	DroppedTones   uint64 // start-tone commands lost to channel exhaustion
	DroppedPresses uint64 // presses lost to a full press queue
	DroppedEdges   uint64 // edges lost to a full edge queue
	SinkOverruns   uint64 // samples a sink refused
	LateRenders    uint64 // render batches that missed their deadline
	ActiveChannels int
}

// Stats gathers the current counters
func (e *Engine) Stats() Stats {
	s := Stats{
		Ticks:          e.mixer.Ticks(),
		DroppedTones:   e.sched.Dropped(),
		DroppedPresses: e.debounce.Dropped(),
		DroppedEdges:   e.edgeSrc.Dropped(),
		SinkOverruns:   e.mixer.Overruns(),
		ActiveChannels: e.pool.ActiveCount(),
	}
	for _, src := range e.lateSources {
		s.LateRenders += src()
	}
	return s
}

// WatchLate adds a deadline-miss counter, such as
// audio.RealtimeOutput.LateRenders, to Stats. Call it before Run.
func (e *Engine) WatchLate(src func() uint64) {
	e.lateSources = append(e.lateSources, src)
}

// reportDiagnostics logs counters the sample clock and input interrupt
// cannot log themselves
func (e *Engine) reportDiagnostics() {
	s := e.Stats()
	if d := s.DroppedEdges - e.reported.DroppedEdges; d > 0 {
		e.log.Warn("edge queue full", "dropped", d, "total", s.DroppedEdges)
	}
	if d := s.SinkOverruns - e.reported.SinkOverruns; d > 0 {
		e.log.Warn("sample sink overrun", "dropped", d, "total", s.SinkOverruns)
	}
	if d := s.LateRenders - e.reported.LateRenders; d > 0 {
		e.log.Warn("mixer deadline missed", "batches", d, "total", s.LateRenders)
	}
	e.reported = s
}

func yield() {
	runtime.Gosched()
}
