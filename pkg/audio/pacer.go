package audio

import (
	"context"
	"sync/atomic"
	"time"
)

// Pacer stands in for the sample-clock interrupt on outputs that do not pull:
// it wakes every Period and runs the mixer for every sample that has come due.
type Pacer struct {
	Mixer      *Mixer
	Sink       Sink
	SampleRate int
	Period     time.Duration

	produced uint64
	missed   atomic.Uint64
}

// NewPacer creates a pacer with a 1ms period
func NewPacer(m *Mixer, sink Sink, sampleRate int) *Pacer {
	return &Pacer{Mixer: m, Sink: sink, SampleRate: sampleRate, Period: time.Millisecond}
}

// Missed counts wake-ups that found more than two periods of samples due
func (p *Pacer) Missed() uint64 {
	return p.missed.Load()
}

// Advance runs every sample due at elapsed time since start and returns how many ran
func (p *Pacer) Advance(elapsed time.Duration) int {
	due := uint64(elapsed) * uint64(p.SampleRate) / uint64(time.Second)
	if due <= p.produced {
		return 0
	}
	n := int(due - p.produced)
	if limit := 2 * int(uint64(p.Period)*uint64(p.SampleRate)/uint64(time.Second)); limit > 0 && n > limit {
		p.missed.Add(1)
	}
	for i := 0; i < n; i++ {
		p.Mixer.Tick(p.Sink)
	}
	p.produced = due
	return n
}

// Run paces the mixer until ctx is done
func (p *Pacer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.Period)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Advance(time.Since(start))
		}
	}
}
