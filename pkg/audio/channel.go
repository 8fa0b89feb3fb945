package audio

import (
	"math"
	"sync/atomic"

	"github.com/tonecore/tonecore/pkg/tone"
)

// Phase accumulator geometry
const (
	PhaseBits = 24
	PhaseMask = 1<<PhaseBits - 1
)

// FreqToDelta converts a frequency to the per-sample phase increment
func FreqToDelta(freq float64, sampleRate int) uint32 {
	if freq <= 0 || sampleRate <= 0 {
		return 0
	}
	d := math.Round(freq / float64(sampleRate) * (1 << PhaseBits))
	if d > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(d)
}

// DeltaToFreq is the inverse of FreqToDelta
func DeltaToFreq(delta uint32, sampleRate int) float64 {
	return float64(delta) * float64(sampleRate) / (1 << PhaseBits)
}

// Channel is one oscillator slot. Every field is a separate atomic word
// with a single writer: the mixer owns phase, the scheduler owns delta,
// volume and waveform. There is no lock; a reader may see a slot halfway
// through reallocation, so writers order their stores so that such a slot
// is either silent or fully configured.
type Channel struct {
	phase    atomic.Uint32
	delta    atomic.Uint32
	volume   atomic.Uint32
	waveform atomic.Uint32
}

// ChannelState is a copy of a channel's fields
type ChannelState struct {
	Phase    uint32
	Delta    uint32
	Volume   uint16
	Waveform tone.Waveform
}

// Active reports whether the channel contributes to the mix
func (cs ChannelState) Active() bool {
	return cs.Volume != 0
}

// Pool is the fixed set of oscillator channels
type Pool struct {
	channels []Channel
}

// NewPool creates count silent channels
func NewPool(count int) *Pool {
	return &Pool{channels: make([]Channel, count)}
}

// Len returns the number of channels
func (p *Pool) Len() int {
	return len(p.channels)
}

// Start configures channel i and turns it on. Volume is stored last so the
// mixer never plays a stale delta or waveform.
func (p *Pool) Start(i int, delta uint32, volume uint16, w tone.Waveform) {
	ch := &p.channels[i]
	ch.delta.Store(delta)
	ch.waveform.Store(uint32(w))
	ch.volume.Store(uint32(volume))
}

// Silence turns channel i off. Delta and waveform are left alone.
func (p *Pool) Silence(i int) {
	p.channels[i].volume.Store(0)
}

// SilenceAll turns every channel off
func (p *Pool) SilenceAll() {
	for i := range p.channels {
		p.channels[i].volume.Store(0)
	}
}

// State returns a snapshot of channel i
func (p *Pool) State(i int) ChannelState {
	ch := &p.channels[i]
	return ChannelState{
		Phase:    ch.phase.Load(),
		Delta:    ch.delta.Load(),
		Volume:   uint16(ch.volume.Load()),
		Waveform: tone.Waveform(ch.waveform.Load()),
	}
}

// Snapshot copies every channel into dst, growing it if needed
func (p *Pool) Snapshot(dst []ChannelState) []ChannelState {
	dst = dst[:0]
	for i := range p.channels {
		dst = append(dst, p.State(i))
	}
	return dst
}

// ActiveCount returns the number of channels with non-zero volume
func (p *Pool) ActiveCount() int {
	n := 0
	for i := range p.channels {
		if p.channels[i].volume.Load() != 0 {
			n++
		}
	}
	return n
}
