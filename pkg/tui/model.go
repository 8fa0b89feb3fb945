// Package tui implements the terminal control surface
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tonecore/tonecore/pkg/audio"
	"github.com/tonecore/tonecore/pkg/config"
	"github.com/tonecore/tonecore/pkg/engine"
	"github.com/tonecore/tonecore/pkg/input"
	"github.com/tonecore/tonecore/pkg/tone"
	"github.com/tonecore/tonecore/pkg/tune"
)

// Mode selects what the letter keys do
type Mode int

const (
	ModeButtons Mode = iota // keys act as the button pins
	ModePiano               // keys play notes
)

func (m Mode) String() string {
	if m == ModePiano {
		return "PIANO"
	}
	return "BUTTONS"
}

const (
	pollEvery  = 50 * time.Millisecond
	releaseIn  = 80 * time.Millisecond
	pianoNote  = 250 // ms
	pressLines = 8
)

// Engine is the part of engine.Engine the model drives
type Engine interface {
	tune.Host
	PollPress() (pin uint8, ok bool)
	EdgeIndex(pin uint8, dir input.Direction, at time.Time) bool
	Now() time.Time
	Layout() input.Layout
	Config() config.Config
	Channels(dst []audio.ChannelState) []audio.ChannelState
	Stats() engine.Stats
}

// Press is one logged press event
type Press struct {
	Pin uint8
	Key string
	At  time.Time
}

// Model is the main TUI model
type Model struct {
	Engine Engine
	Tune   []tone.Command
	Repeat int
	Title  string

	player     *tune.Player
	sampleRate int

	// View state
	Width    int
	Height   int
	Mode     Mode
	ShowHelp bool

	Waveform tone.Waveform
	Octave   int

	Presses   []Press
	channels  []audio.ChannelState
	stats     engine.Stats
	StatusMsg string
}

// NewModel creates a model driving e. cmds may be nil when no tune is loaded.
func NewModel(e Engine, cmds []tone.Command, repeat int, title string) Model {
	return Model{
		Engine:     e,
		Tune:       cmds,
		Repeat:     repeat,
		Title:      title,
		Octave:     4,
		Width:      100,
		Height:     30,
		sampleRate: e.Config().SampleRate,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		tickCmd(),
	)
}

type tickMsg struct{}

// releaseMsg ends a simulated button press
type releaseMsg struct {
	pin uint8
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollEvery, func(_ time.Time) tea.Msg {
		return tickMsg{}
	})
}

func releaseCmd(pin uint8) tea.Cmd {
	return tea.Tick(releaseIn, func(_ time.Time) tea.Msg {
		return releaseMsg{pin: pin}
	})
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tickMsg:
		m.poll()
		return m, tickCmd()

	case releaseMsg:
		m.Engine.EdgeIndex(msg.pin, input.Falling, m.Engine.Now())
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

// poll is the control-context loop body: feed the tune, drain presses and
// refresh the display snapshot
func (m *Model) poll() {
	if m.player != nil && !m.player.Poll(m.Engine) {
		m.player = nil
		m.StatusMsg = "tune finished"
	}

	for {
		pin, ok := m.Engine.PollPress()
		if !ok {
			break
		}
		m.Presses = append(m.Presses, Press{Pin: pin, Key: m.Engine.Layout().Key(pin), At: m.Engine.Now()})
	}
	if len(m.Presses) > pressLines {
		m.Presses = m.Presses[len(m.Presses)-pressLines:]
	}

	m.channels = m.Engine.Channels(m.channels)
	m.stats = m.Engine.Stats()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "f1":
		m.ShowHelp = !m.ShowHelp
		return m, nil

	case "tab":
		if m.Mode == ModeButtons {
			m.Mode = ModePiano
		} else {
			m.Mode = ModeButtons
		}
		return m, nil

	case "f2":
		m.Waveform = (m.Waveform + 1) % tone.WaveformCount
		return m, nil

	case " ":
		m.togglePlay()
		return m, nil

	case "*":
		if m.Octave < 8 {
			m.Octave++
		}
		return m, nil

	case "/":
		if m.Octave > 0 {
			m.Octave--
		}
		return m, nil
	}

	if m.Mode == ModeButtons {
		if key == "q" {
			return m, tea.Quit
		}
		if pin, ok := m.Engine.Layout().IndexOfKey(key); ok {
			if !m.Engine.EdgeIndex(pin, input.Rising, m.Engine.Now()) {
				m.StatusMsg = "edge queue full"
			}
			return m, releaseCmd(pin)
		}
		return m, nil
	}

	if note := keyToNote(key, m.Octave); note >= 0 {
		m.playNote(note)
	}
	return m, nil
}

func (m *Model) togglePlay() {
	if m.player != nil {
		m.player.End()
		m.player = nil
		m.StatusMsg = "tune stopped"
		return
	}
	if len(m.Tune) == 0 {
		m.StatusMsg = "no tune loaded"
		return
	}
	m.player = tune.NewPlayer(m.Tune, m.Repeat)
	m.StatusMsg = "playing " + m.Title
}

func (m *Model) playNote(note int32) {
	if m.Engine.RequestTone(tone.NoteToFrequency(note), m.Waveform) || m.Engine.RequestWait(pianoNote) {
		m.StatusMsg = "command queue full"
		return
	}
	m.StatusMsg = fmt.Sprintf("%s %s", tone.NoteToString(note), m.Waveform)
}

// keyToNote converts a keyboard key to a note number
func keyToNote(key string, octave int) int32 {
	// Lower row: Z S X D C V G B H N J M
	// Upper row: Q 2 W 3 E R 5 T 6 Y 7 U
	notes := map[string]int{
		"z": 0, "s": 1, "x": 2, "d": 3, "c": 4, "v": 5,
		"g": 6, "b": 7, "h": 8, "n": 9, "j": 10, "m": 11,
		"q": 12, "2": 13, "w": 14, "3": 15, "e": 16, "r": 17,
		"5": 18, "t": 19, "6": 20, "y": 21, "7": 22, "u": 23,
		"i": 24, "9": 25, "o": 26, "0": 27, "p": 28,
	}

	if n, ok := notes[key]; ok {
		return int32((octave+1)*12 + n)
	}
	return -1
}

// View implements tea.Model
func (m Model) View() string {
	if m.ShowHelp {
		return m.helpView()
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n\n")
	b.WriteString(m.channelView())
	b.WriteString("\n\n")
	b.WriteString(m.pressView())
	b.WriteString("\n")
	b.WriteString(m.statsView())
	b.WriteString("\n")
	b.WriteString(m.footerView())
	return b.String()
}

func (m Model) headerView() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("14")).
		Render("TONECORE")

	playing := "STOPPED"
	if m.player != nil {
		pos, passes := m.player.Progress()
		playing = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Render(fmt.Sprintf("PLAYING %d/%d pass %d", pos, len(m.Tune), passes+1))
	}

	info := fmt.Sprintf(" │ %s │ Wave:%s │ Oct:%d │ %s", m.Mode, m.Waveform, m.Octave, playing)
	return title + info
}

// channelView draws the pool as a grid, eight channels per row
func (m Model) channelView() string {
	on := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	off := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	var lines []string
	var line []string
	for i, ch := range m.channels {
		cell := fmt.Sprintf("%02d ----- ", i)
		style := off
		if ch.Active() {
			cell = fmt.Sprintf("%02d %c%4.0f ", i, ch.Waveform.Shape(), audio.DeltaToFreq(ch.Delta, m.sampleRate))
			style = on
		}
		line = append(line, style.Render(cell))
		if len(line) == 8 {
			lines = append(lines, strings.Join(line, ""))
			line = nil
		}
	}
	if len(line) > 0 {
		lines = append(lines, strings.Join(line, ""))
	}
	return strings.Join(lines, "\n")
}

func (m Model) pressView() string {
	style := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	var b strings.Builder
	b.WriteString("Presses:\n")
	if len(m.Presses) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render("  none"))
		b.WriteString("\n")
	}
	for _, p := range m.Presses {
		b.WriteString(style.Render(fmt.Sprintf("  pin %d [%s] %s", p.Pin, p.Key, p.At.Format("15:04:05.000"))))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) statsView() string {
	s := m.stats
	return lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Render(fmt.Sprintf(
		"active %d │ ticks %d │ dropped tones %d presses %d edges %d │ overruns %d │ late %d",
		s.ActiveChannels, s.Ticks, s.DroppedTones, s.DroppedPresses, s.DroppedEdges, s.SinkOverruns, s.LateRenders))
}

func (m Model) footerView() string {
	keys := " [Tab]Mode [Space]Tune [F2]Wave [*/]Oct [F1]Help [Esc]Quit"
	if m.StatusMsg != "" {
		keys += " │ " + m.StatusMsg
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(keys)
}

func (m Model) helpView() string {
	help := `
╔══════════════════════════════════════════════════════════════════╗
║                       TONECORE HELP                              ║
╠══════════════════════════════════════════════════════════════════╣
║ BUTTONS MODE                                                     ║
║   W S A D I K J L   Press a button (rising edge, release 80ms)   ║
║   Q                 Quit                                         ║
║                                                                  ║
║ PIANO MODE                                                       ║
║   Z S X D C V G B H N J M  - Lower octave (C to B)              ║
║   Q 2 W 3 E R 5 T 6 Y 7 U  - Upper octave                       ║
║   * /       Octave up/down                                       ║
║                                                                  ║
║ ANY MODE                                                         ║
║   Tab       Switch buttons/piano                                 ║
║   F2        Next waveform (sine, square, triangle, sawtooth)     ║
║   Space     Play/stop the loaded tune                            ║
║   Esc       Quit                                                 ║
║                                                                  ║
║                              [F1] Close help                     ║
╚══════════════════════════════════════════════════════════════════╝
`
	return lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Render(help)
}
