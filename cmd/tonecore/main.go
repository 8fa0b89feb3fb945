package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/tonecore/tonecore/pkg/audio"
	"github.com/tonecore/tonecore/pkg/config"
	"github.com/tonecore/tonecore/pkg/engine"
	"github.com/tonecore/tonecore/pkg/tone"
	"github.com/tonecore/tonecore/pkg/tui"
	"github.com/tonecore/tonecore/pkg/tune"
)

// logger is replaced by initLogger
var logger = slog.Default()

type options struct {
	config   string
	tune     string
	midi     string
	wave     string
	wav      string
	seconds  float64
	serial   string
	baud     int
	headless bool
	log      string
	debug    bool
	repeat   int
}

func main() {
	var o options
	flag.StringVar(&o.config, "config", "", "JSON config file")
	flag.StringVar(&o.tune, "tune", "", "tune file in text notation")
	flag.StringVar(&o.midi, "midi", "", "standard MIDI file to play")
	flag.StringVar(&o.wave, "wave", "triangle", "waveform for MIDI notes (sine, square, triangle, sawtooth)")
	flag.StringVar(&o.wav, "wav", "", "render offline to this WAV file and exit")
	flag.Float64Var(&o.seconds, "seconds", 0, "render length for -wav (0 = tune length)")
	flag.StringVar(&o.serial, "serial", "", "stream samples to this serial device (implies -headless)")
	flag.IntVar(&o.baud, "baud", 500000, "serial baud rate")
	flag.BoolVar(&o.headless, "headless", false, "play without the terminal UI")
	flag.StringVar(&o.log, "log", "tonecore.log", "log file used while the terminal UI runs")
	flag.BoolVar(&o.debug, "debug", false, "enable debug logging (adds source location)")
	flag.IntVar(&o.repeat, "repeat", 1, "tune passes (0 = loop forever)")
	flag.Parse()

	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initLogger installs a text handler on w as the default logger
func initLogger(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

func run(o options) error {
	interactive := o.wav == "" && o.serial == "" && !o.headless
	if interactive {
		f, err := os.OpenFile(o.log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		initLogger(f, o.debug)
	} else {
		initLogger(os.Stderr, o.debug)
	}

	cfg := config.Default()
	if o.config != "" {
		var err error
		if cfg, err = config.Load(o.config); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}

	cmds, title, err := loadTune(o)
	if err != nil {
		return err
	}

	e, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("tonecore starting",
		"tune", title,
		"commands", len(cmds),
		"repeat", o.repeat,
		"wav", o.wav,
		"serial", o.serial,
	)

	switch {
	case o.wav != "":
		return renderWAV(e, cmds, o)
	case interactive:
		return runTUI(e, cmds, o.repeat, title)
	default:
		return runHeadless(e, cmds, o)
	}
}

func loadTune(o options) ([]tone.Command, string, error) {
	switch {
	case o.tune != "" && o.midi != "":
		return nil, "", errors.New("-tune and -midi are exclusive")
	case o.tune != "":
		b, err := os.ReadFile(o.tune)
		if err != nil {
			return nil, "", err
		}
		cmds, err := tune.Parse(string(b))
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", o.tune, err)
		}
		return cmds, filepath.Base(o.tune), nil
	case o.midi != "":
		w, err := tone.ParseWaveform(strings.ToLower(o.wave))
		if err != nil {
			return nil, "", err
		}
		cmds, err := tune.LoadMIDIFile(o.midi, w)
		if err != nil {
			return nil, "", err
		}
		return cmds, filepath.Base(o.midi), nil
	}
	return nil, "", nil
}

// renderWAV drives the engine from the sample count instead of the wall
// clock, feeding the tune one millisecond of audio at a time
func renderWAV(e *engine.Engine, cmds []tone.Command, o options) error {
	sr := e.Config().SampleRate
	total := int(o.seconds * float64(sr))
	if total <= 0 {
		if len(cmds) == 0 || o.repeat <= 0 {
			return errors.New("-wav needs -seconds unless a finite tune is given")
		}
		ms := tune.Length(cmds)*uint64(o.repeat) + 100
		total = int(ms * uint64(sr) / 1000)
	}

	sink := audio.NewWAVSink(o.wav, sr)
	player := tune.NewPlayer(cmds, o.repeat)
	chunk := max(sr/1000, 1)
	for done := 0; done < total; done += chunk {
		player.Poll(e)
		e.RenderOffline(sink, min(chunk, total-done))
	}
	if err := sink.Close(); err != nil {
		return err
	}

	st := e.Stats()
	logger.Info("render complete",
		"file", o.wav,
		"samples", st.Ticks,
		"seconds", float64(st.Ticks)/float64(sr),
		"dropped_tones", st.DroppedTones,
	)
	return nil
}

func runTUI(e *engine.Engine, cmds []tone.Command, repeat int, title string) error {
	rt, err := audio.NewRealtimeOutput(e, e.Config().SampleRate)
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	defer rt.Close()
	e.WatchLate(rt.LateRenders)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	model := tui.NewModel(e, cmds, repeat, title)
	p := tea.NewProgram(model)
	_, err = p.Run()
	return err
}

// runHeadless plays the tune through the serial sink, or the sound card
// when no serial device is given, logging presses until interrupted or the
// tune ends
func runHeadless(e *engine.Engine, cmds []tone.Command, o options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	sr := e.Config().SampleRate
	if o.serial != "" {
		sink, err := audio.OpenSerial(o.serial, o.baud, sr/50)
		if err != nil {
			return err
		}
		defer sink.Close()
		pacer := audio.NewPacer(e.Mixer(), sink, sr)
		e.WatchLate(pacer.Missed)
		g.Go(func() error { return sink.Run(ctx) })
		g.Go(func() error { return pacer.Run(ctx) })
	} else {
		rt, err := audio.NewRealtimeOutput(e, sr)
		if err != nil {
			return fmt.Errorf("audio output: %w", err)
		}
		defer rt.Close()
		e.WatchLate(rt.LateRenders)
	}

	g.Go(func() error { return e.Run(ctx) })
	g.Go(func() error { return control(ctx, e, tune.NewPlayer(cmds, o.repeat)) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, errTuneDone) {
		err = nil
	}
	st := e.Stats()
	logger.Info("stopped",
		"ticks", st.Ticks,
		"dropped_tones", st.DroppedTones,
		"dropped_presses", st.DroppedPresses,
		"late", st.LateRenders,
	)
	return err
}

var errTuneDone = errors.New("tune finished")

// control is the headless control context: it feeds the player and logs
// presses. It ends the run once a finite tune, trailing rests included,
// has played out.
func control(ctx context.Context, e *engine.Engine, player *tune.Player) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	hadTune := player.Playing()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		player.Poll(e)
		for {
			pin, ok := e.PollPress()
			if !ok {
				break
			}
			logger.Info("press", "pin", pin, "key", e.Layout().Key(pin))
		}

		if hadTune && !player.Playing() && e.Idle(e.Now()) {
			return errTuneDone
		}
	}
}
