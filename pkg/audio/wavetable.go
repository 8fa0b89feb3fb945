// Package audio implements the sample-rate synthesis engine and its outputs
package audio

import (
	"math"
	"math/bits"

	"github.com/tonecore/tonecore/pkg/tone"
)

// Waveform scaling relative to the peak amplitude
const (
	sineGain     = 2.1
	squareGain   = 0.3
	sawtoothGain = 0.3
)

// Bank holds one single-cycle table per waveform. It is built once
// before the mixer starts and is read-only afterwards.
type Bank struct {
	tables [tone.WaveformCount][]uint16
	shift  uint // phase bits dropped to index a table
}

// NewBank builds the wavetables. length must be a power of two no larger than 2^24.
func NewBank(length int, peak float64) *Bank {
	b := &Bank{shift: PhaseBits - uint(bits.TrailingZeros(uint(length)))}
	for w := range b.tables {
		b.tables[w] = make([]uint16, length)
	}

	for i := 0; i < length; i++ {
		t := float64(i) / float64(length)
		// One nominal cycle is folded into two
		t = math.Mod(t*2, 1)

		b.tables[tone.Sine][i] = uint16((0.5 + 0.5*math.Cos(t*2*math.Pi)) * peak * sineGain)
		b.tables[tone.Triangle][i] = uint16(2 * math.Abs(0.5-t) * peak)
		if t > 0.5 {
			b.tables[tone.Square][i] = uint16(peak * squareGain)
		}
		b.tables[tone.Sawtooth][i] = uint16(t * peak * sawtoothGain)
	}
	return b
}

// Len returns the table length
func (b *Bank) Len() int {
	return len(b.tables[0])
}

// Table returns the samples for w. Callers must not modify it.
func (b *Bank) Table(w tone.Waveform) []uint16 {
	if !w.Valid() {
		return nil
	}
	return b.tables[w]
}

// Sample looks up the table entry for a 24-bit phase
func (b *Bank) Sample(w tone.Waveform, phase uint32) uint16 {
	if !w.Valid() {
		return 0
	}
	return b.tables[w][(phase&PhaseMask)>>b.shift]
}
