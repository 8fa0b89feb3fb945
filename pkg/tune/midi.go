package tune

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/tonecore/tonecore/pkg/tone"
)

// DefaultBPM applies until the file sets a tempo
const DefaultBPM = 120.0

// ErrTimeFormat is returned for SMPTE-timed files
var ErrTimeFormat = errors.New("midi: only metric time format is supported")

type midiEvent struct {
	tick  uint64
	order int
	msg   smf.Message
}

// LoadMIDIFile reads a standard MIDI file from disk
func LoadMIDIFile(path string, w tone.Waveform) ([]tone.Command, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cmds, err := LoadMIDI(f, w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cmds, nil
}

// LoadMIDI flattens every track of a standard MIDI file into chords. Each
// time the set of sounding keys changes, the keys held so far become one
// chord of start-tone commands followed by a wait for the segment length.
// Channels are merged and velocities ignored.
func LoadMIDI(r io.Reader, w tone.Waveform) ([]tone.Command, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("read midi: %w", err)
	}
	mt, ok := s.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, ErrTimeFormat
	}

	var events []midiEvent
	for _, track := range s.Tracks {
		var abs uint64
		for _, ev := range track {
			abs += uint64(ev.Delta)
			events = append(events, midiEvent{tick: abs, order: len(events), msg: ev.Message})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].tick < events[j].tick
	})

	var (
		cmds     []tone.Command
		held     [128]int
		bpm      = DefaultBPM
		lastTick uint64
		carry    time.Duration
	)
	flush := func(until uint64) {
		if until <= lastTick {
			return
		}
		seg := carry + mt.Duration(bpm, uint32(until-lastTick))
		lastTick = until
		ms := uint32(seg / time.Millisecond)
		carry = seg - time.Duration(ms)*time.Millisecond
		if ms == 0 {
			return
		}
		for key, n := range held {
			if n > 0 {
				cmds = append(cmds, tone.StartTone(tone.NoteToFrequency(int32(key)), w))
			}
		}
		cmds = append(cmds, tone.Wait(ms))
	}

	for _, ev := range events {
		var (
			ch, key, vel uint8
			t            float64
		)
		msg := midi.Message(ev.msg)
		switch {
		case ev.msg.GetMetaTempo(&t):
			flush(ev.tick)
			if t > 0 && !math.IsInf(t, 0) {
				bpm = t
			}
		case msg.GetNoteStart(&ch, &key, &vel):
			flush(ev.tick)
			held[key]++
		case msg.GetNoteEnd(&ch, &key):
			flush(ev.tick)
			if held[key] > 0 {
				held[key]--
			}
		}
	}
	return cmds, nil
}
