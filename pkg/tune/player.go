package tune

import "github.com/tonecore/tonecore/pkg/tone"

// Host is the control API a Player feeds. Both calls report true when the
// command queue was full and the same command must be offered again.
type Host interface {
	RequestTone(freq float64, w tone.Waveform) (needsRetry bool)
	RequestWait(ms uint32) (needsRetry bool)
}

// Player pushes a command stream into a Host, picking up where it left off
// whenever the host asks for a retry
type Player struct {
	cmds   []tone.Command
	pos    int
	repeat int
	played int
	done   bool
}

// NewPlayer plays cmds repeat times; repeat <= 0 loops until End
func NewPlayer(cmds []tone.Command, repeat int) *Player {
	return &Player{cmds: cmds, repeat: repeat, done: len(cmds) == 0}
}

// Poll offers commands until the host refuses one or the tune ends. It
// returns whether the player is still playing.
func (p *Player) Poll(h Host) bool {
	for !p.done {
		c := p.cmds[p.pos]
		var retry bool
		switch c.Kind {
		case tone.KindStartTone:
			retry = h.RequestTone(c.Frequency, c.Waveform)
		case tone.KindWait:
			retry = h.RequestWait(c.Duration)
		}
		if retry {
			return true
		}

		p.pos++
		if p.pos < len(p.cmds) {
			continue
		}
		p.pos = 0
		p.played++
		if p.repeat > 0 && p.played >= p.repeat {
			p.done = true
		}
	}
	return false
}

// End stops the player. Commands already queued still play.
func (p *Player) End() {
	p.done = true
}

// Playing reports whether commands remain to be offered
func (p *Player) Playing() bool {
	return !p.done
}

// Progress returns the index of the next command and the completed passes
func (p *Player) Progress() (pos, passes int) {
	return p.pos, p.played
}

// Length sums the waits of one pass, in milliseconds
func Length(cmds []tone.Command) uint64 {
	var total uint64
	for _, c := range cmds {
		if c.Kind == tone.KindWait {
			total += uint64(c.Duration)
		}
	}
	return total
}
