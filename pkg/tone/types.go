// Package tone defines the command stream shared by the control context and the note scheduler
package tone

import (
	"fmt"
	"math"
	"strings"
)

// Waveform selects one of the wavetables
type Waveform uint8

const (
	Sine Waveform = iota
	Square
	Triangle
	Sawtooth

	WaveformCount // Number of wavetables
)

// String returns the waveform name
func (w Waveform) String() string {
	switch w {
	case Sine:
		return "sine"
	case Square:
		return "square"
	case Triangle:
		return "triangle"
	case Sawtooth:
		return "sawtooth"
	default:
		return fmt.Sprintf("waveform(%d)", uint8(w))
	}
}

// Valid reports whether w names a wavetable
func (w Waveform) Valid() bool {
	return w < WaveformCount
}

// Shape returns the tune-notation character for the waveform
func (w Waveform) Shape() byte {
	switch w {
	case Square:
		return '-'
	case Triangle:
		return '^'
	case Sawtooth:
		return '/'
	default:
		return '~'
	}
}

// WaveformFromShape maps a tune-notation character to a waveform
func WaveformFromShape(c byte) (Waveform, bool) {
	switch c {
	case '~':
		return Sine, true
	case '-':
		return Square, true
	case '^':
		return Triangle, true
	case '/':
		return Sawtooth, true
	}
	return 0, false
}

// ParseWaveform parses a waveform name or shape character
func ParseWaveform(s string) (Waveform, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 1 {
		if w, ok := WaveformFromShape(s[0]); ok {
			return w, nil
		}
	}
	for w := Sine; w < WaveformCount; w++ {
		if w.String() == s {
			return w, nil
		}
	}
	return 0, fmt.Errorf("unknown waveform %q", s)
}

// Kind tags a Command
type Kind uint8

const (
	KindStartTone Kind = iota // Allocate a channel
	KindWait                  // Close the chord and arm the deadline
)

// Command is a message from the control context to the note scheduler.
// Commands are values; nothing mutates them once queued.
type Command struct {
	Kind      Kind
	Frequency float64  // KindStartTone
	Waveform  Waveform // KindStartTone
	Duration  uint32   // KindWait, milliseconds
}

// StartTone builds a start-tone command
func StartTone(freq float64, w Waveform) Command {
	return Command{Kind: KindStartTone, Frequency: freq, Waveform: w}
}

// Wait builds a wait command
func Wait(ms uint32) Command {
	return Command{Kind: KindWait, Duration: ms}
}

// String formats the command for logs
func (c Command) String() string {
	if c.Kind == KindWait {
		return fmt.Sprintf("wait(%dms)", c.Duration)
	}
	return fmt.Sprintf("tone(%.2fHz %s)", c.Frequency, c.Waveform)
}

// Reference pitch: note 48 is C3
const (
	anchorNote = 48
	anchorFreq = 130.8128
	semitone   = 1.0594630943592953
)

// NoteToFrequency converts a MIDI-style note number to Hz (12-TET)
func NoteToFrequency(note int32) float64 {
	return anchorFreq * math.Pow(semitone, float64(note-anchorNote))
}

var noteNames = []string{"c", "c#", "d", "d#", "e", "f", "f#", "g", "g#", "a", "a#", "b"}

// NoteToString converts a note number to its name, e.g. 60 -> "c4"
func NoteToString(note int32) string {
	if note < 0 {
		return "---"
	}
	return fmt.Sprintf("%s%d", noteNames[note%12], note/12-1)
}

// StringToNote converts a note name such as "c4", "f#3" or "bb2" to a note number.
// It returns -1 if the name is malformed.
func StringToNote(s string) int32 {
	s = strings.ToLower(s)
	if len(s) < 2 {
		return -1
	}

	base := map[byte]int32{'c': 0, 'd': 2, 'e': 4, 'f': 5, 'g': 7, 'a': 9, 'b': 11}
	n, ok := base[s[0]]
	if !ok {
		return -1
	}
	rest := s[1:]
	switch rest[0] {
	case '#':
		n++
		rest = rest[1:]
	case 'b':
		// "b" is only a flat when followed by an octave
		if len(rest) > 1 {
			n--
			rest = rest[1:]
		}
	}
	if len(rest) != 1 || rest[0] < '0' || rest[0] > '9' {
		return -1
	}
	octave := int32(rest[0] - '0')
	return (octave+1)*12 + n
}
