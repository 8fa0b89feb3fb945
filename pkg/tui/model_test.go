package tui

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tonecore/tonecore/pkg/config"
	"github.com/tonecore/tonecore/pkg/engine"
	"github.com/tonecore/tonecore/pkg/input"
	"github.com/tonecore/tonecore/pkg/tone"
)

var t0 = time.Unix(1700000000, 0)

func newTestModel(t *testing.T, cmds []tone.Command) (Model, *engine.Engine, *time.Time) {
	t.Helper()
	now := t0
	e, err := engine.New(config.Default(),
		engine.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
		engine.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return NewModel(e, cmds, 1, "test"), e, &now
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestKeyToNote(t *testing.T) {
	if n := keyToNote("z", 4); n != 60 {
		t.Fatalf("z at octave 4 = %d", n)
	}
	if n := keyToNote("q", 4); n != 72 {
		t.Fatalf("q at octave 4 = %d", n)
	}
	if n := keyToNote("f", 4); n != -1 {
		t.Fatalf("f = %d", n)
	}
}

func TestButtonKeyBecomesPress(t *testing.T) {
	m, e, now := newTestModel(t, nil)

	// past the release cooldown every pin starts with
	press := t0.Add(time.Second)
	*now = press
	m = update(m, key("i")) // pin 4
	for i := 0; i <= 30; i++ {
		e.Step(press.Add(time.Duration(i) * time.Millisecond))
	}
	*now = press.Add(30 * time.Millisecond)
	m = update(m, tickMsg{})

	if len(m.Presses) != 1 || m.Presses[0].Pin != 4 || m.Presses[0].Key != "i" {
		t.Fatalf("presses = %+v", m.Presses)
	}

	m = update(m, releaseMsg{pin: 4})
	if e.Stats().DroppedEdges != 0 {
		t.Fatal("release edge dropped")
	}
}

func TestPianoKeyQueuesNote(t *testing.T) {
	m, e, _ := newTestModel(t, nil)
	m = update(m, key("tab"))
	if m.Mode != ModePiano {
		t.Fatalf("mode = %v", m.Mode)
	}
	m = update(m, key("z"))
	if got := e.PendingCommands(); got != 2 {
		t.Fatalf("pending = %d, want tone and wait", got)
	}
	e.Step(t0)
	if ch := e.Channels(nil)[0]; !ch.Active() || ch.Waveform != tone.Sine {
		t.Fatalf("channel 0 = %+v", ch)
	}
}

func TestSpaceTogglesTune(t *testing.T) {
	m, e, _ := newTestModel(t, nil)
	m = update(m, key(" "))
	if m.StatusMsg != "no tune loaded" {
		t.Fatalf("status = %q", m.StatusMsg)
	}

	cmds := []tone.Command{tone.StartTone(440, tone.Square), tone.Wait(100)}
	m, e, _ = newTestModel(t, cmds)
	m = update(m, key(" "))
	if m.player == nil {
		t.Fatal("tune did not start")
	}
	m = update(m, tickMsg{})
	if e.PendingCommands() != 2 || m.player != nil {
		t.Fatalf("pending=%d playing=%v", e.PendingCommands(), m.player != nil)
	}
}

func TestWaveformCycles(t *testing.T) {
	m, _, _ := newTestModel(t, nil)
	for i := 0; i < int(tone.WaveformCount); i++ {
		m = update(m, tea.KeyMsg{Type: tea.KeyF2})
	}
	if m.Waveform != tone.Sine {
		t.Fatalf("waveform = %v after a full cycle", m.Waveform)
	}
}

func TestViewShowsChannels(t *testing.T) {
	m, e, _ := newTestModel(t, nil)
	e.RequestTone(440, tone.Triangle)
	e.RequestWait(100)
	e.Step(t0)
	e.EdgeIndex(0, input.Rising, t0)
	m = update(m, tickMsg{})
	if len(m.View()) == 0 {
		t.Fatal("empty view")
	}
	if st := m.stats; st.ActiveChannels != 1 {
		t.Fatalf("active = %d", st.ActiveChannels)
	}
}
