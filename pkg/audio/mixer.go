package audio

import (
	"sync/atomic"

	"github.com/tonecore/tonecore/pkg/tone"
)

// Sink receives one mixed sample per tick. TryPut must not block;
// it returns false when the sample could not be accepted.
type Sink interface {
	TryPut(sample uint16) bool
}

// Mixer is the per-sample interrupt routine. Only one goroutine may call
// Next, Tick or Render at a time; it is the sole writer of channel phases.
type Mixer struct {
	bank     *Bank
	pool     *Pool
	saturate bool

	ticks    atomic.Uint64
	overruns atomic.Uint64
}

// NewMixer creates a mixer over the given tables and channels.
// With saturate the sum clamps at 0xFFFF instead of wrapping.
func NewMixer(bank *Bank, pool *Pool, saturate bool) *Mixer {
	return &Mixer{bank: bank, pool: pool, saturate: saturate}
}

// Next mixes the current sample of every channel, advances all phases
// and returns the mix.
func (m *Mixer) Next() uint16 {
	chans := m.pool.channels

	var sum uint32
	for i := range chans {
		ch := &chans[i]
		// volume gates, it does not scale
		if ch.volume.Load() != 0 {
			sum += uint32(m.bank.Sample(tone.Waveform(ch.waveform.Load()), ch.phase.Load()))
		}
	}

	for i := range chans {
		ch := &chans[i]
		ch.phase.Store((ch.phase.Load() + ch.delta.Load()) & PhaseMask)
	}

	m.ticks.Add(1)

	if m.saturate && sum > 0xFFFF {
		return 0xFFFF
	}
	return uint16(sum)
}

// Tick produces one sample into sink. A refused sample is dropped and counted.
func (m *Mixer) Tick(sink Sink) {
	if !sink.TryPut(m.Next()) {
		m.overruns.Add(1)
	}
}

// Render fills dst with consecutive samples
func (m *Mixer) Render(dst []uint16) {
	for i := range dst {
		dst[i] = m.Next()
	}
}

// Ticks returns the number of samples produced so far
func (m *Mixer) Ticks() uint64 {
	return m.ticks.Load()
}

// Overruns returns the number of samples a sink refused
func (m *Mixer) Overruns() uint64 {
	return m.overruns.Load()
}
