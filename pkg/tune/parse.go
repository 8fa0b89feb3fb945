// Package tune produces command streams for the note scheduler: a text
// tune notation, standard MIDI files, and a player that feeds either one
// through the control API with retry.
package tune

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tonecore/tonecore/pkg/tone"
)

// ErrSyntax is wrapped by every parse failure
var ErrSyntax = errors.New("tune syntax error")

// ParseError locates a syntax error
type ParseError struct {
	Line int
	Col  int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v at %d:%d: %s", ErrSyntax, e.Line, e.Col, e.Msg)
}

func (e *ParseError) Unwrap() error {
	return ErrSyntax
}

// Note is one parsed note of an entry
type Note struct {
	Number   int32
	Waveform tone.Waveform
	Duration float64 // ms; parsed but does not shorten the chord
}

// Entry is a chord (or a rest, with no notes) held for Duration ms
type Entry struct {
	Duration uint32
	Notes    []Note
}

// Commands expands the entry into start-tone commands followed by a wait
func (e Entry) Commands() []tone.Command {
	cmds := make([]tone.Command, 0, len(e.Notes)+1)
	for _, n := range e.Notes {
		cmds = append(cmds, tone.StartTone(tone.NoteToFrequency(n.Number), n.Waveform))
	}
	return append(cmds, tone.Wait(e.Duration))
}

// Parse reads a tune such as
//
//	500: c4~500 + e4^500,
//	250,
//	500: g4-500
//
// into the command stream it plays.
func Parse(src string) ([]tone.Command, error) {
	entries, err := ParseEntries(src)
	if err != nil {
		return nil, err
	}
	var cmds []tone.Command
	for _, e := range entries {
		cmds = append(cmds, e.Commands()...)
	}
	return cmds, nil
}

// ParseEntries parses a tune into its entries
func ParseEntries(src string) ([]Entry, error) {
	p := &parser{src: src, line: 1, col: 1}
	var entries []Entry

	p.skipSeparators()
	for !p.eof() {
		e, err := p.entry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)

		p.skipSpaces()
		if !p.eof() && !isSeparator(p.peek()) {
			return nil, p.errorf("expected ',' or newline, got %q", p.peek())
		}
		p.skipSeparators()
	}
	return entries, nil
}

type parser struct {
	src  string
	pos  int
	line int
	col  int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) peekAt(off int) byte {
	if p.pos+off >= len(p.src) {
		return 0
	}
	return p.src[p.pos+off]
}

func (p *parser) advance() byte {
	c := p.src[p.pos]
	p.pos++
	if c == '\n' {
		p.line++
		p.col = 1
	} else {
		p.col++
	}
	return c
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Line: p.line, Col: p.col, Msg: fmt.Sprintf(format, args...)}
}

func isSeparator(c byte) bool {
	return c == ',' || c == '\n' || c == '\r' || c == ' ' || c == '\t'
}

func (p *parser) skipSeparators() {
	for !p.eof() && isSeparator(p.peek()) {
		p.advance()
	}
}

func (p *parser) skipSpaces() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t') {
		p.advance()
	}
}

// entry := number [':' note ('+' note)*]
func (p *parser) entry() (Entry, error) {
	dur, err := p.number()
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Duration: uint32(math.Round(dur))}

	p.skipSpaces()
	if p.peek() != ':' {
		return e, nil
	}
	p.advance()

	for {
		p.skipSpaces()
		n, err := p.note()
		if err != nil {
			return Entry{}, err
		}
		e.Notes = append(e.Notes, n)

		p.skipSpaces()
		if p.peek() != '+' {
			return e, nil
		}
		p.advance()
	}
}

// note := name shape number
func (p *parser) note() (Note, error) {
	start := p.pos
	if c := p.peek() | 0x20; c < 'a' || c > 'g' {
		return Note{}, p.errorf("expected note name, got %q", p.peek())
	}
	p.advance()
	if p.peek() == '#' || (p.peek()|0x20 == 'b' && isDigit(p.peekAt(1))) {
		p.advance()
	}
	if !isDigit(p.peek()) {
		return Note{}, p.errorf("expected octave digit")
	}
	p.advance()

	num := tone.StringToNote(p.src[start:p.pos])
	if num < 0 {
		return Note{}, p.errorf("bad note %q", p.src[start:p.pos])
	}

	w, ok := tone.WaveformFromShape(p.peek())
	if !ok {
		return Note{}, p.errorf("expected waveform (~ - ^ /), got %q", p.peek())
	}
	p.advance()

	dur, err := p.number()
	if err != nil {
		return Note{}, err
	}
	return Note{Number: num, Waveform: w, Duration: dur}, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (p *parser) number() (float64, error) {
	start := p.pos
	for !p.eof() && (isDigit(p.peek()) || p.peek() == '.') {
		p.advance()
	}
	if start == p.pos {
		return 0, p.errorf("expected duration, got %q", p.peek())
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, p.errorf("bad duration %q", p.src[start:p.pos])
	}
	if v > math.MaxUint32 {
		return 0, p.errorf("duration %q too long", p.src[start:p.pos])
	}
	return v, nil
}

// Format renders a command stream in tune notation. Frequencies are snapped
// to the nearest note; per-note durations repeat the entry duration.
func Format(cmds []tone.Command) string {
	var b strings.Builder
	var notes []string
	for _, c := range cmds {
		switch c.Kind {
		case tone.KindStartTone:
			notes = append(notes, fmt.Sprintf("%s%c", tone.NoteToString(NearestNote(c.Frequency)), c.Waveform.Shape()))
		case tone.KindWait:
			fmt.Fprintf(&b, "%d", c.Duration)
			for i, n := range notes {
				if i == 0 {
					b.WriteString(": ")
				} else {
					b.WriteString(" + ")
				}
				fmt.Fprintf(&b, "%s%d", n, c.Duration)
			}
			b.WriteString(",\n")
			notes = notes[:0]
		}
	}
	return b.String()
}

// NearestNote returns the note number closest to freq
func NearestNote(freq float64) int32 {
	if freq <= 0 {
		return -1
	}
	return int32(math.Round(48 + 12*math.Log2(freq/tone.NoteToFrequency(48))))
}
