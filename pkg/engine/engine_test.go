package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tonecore/tonecore/pkg/audio"
	"github.com/tonecore/tonecore/pkg/config"
	"github.com/tonecore/tonecore/pkg/input"
	"github.com/tonecore/tonecore/pkg/tone"
)

var t0 = time.Unix(1700000000, 0)

func newTestEngine(t *testing.T, mutate func(*config.Config)) (*Engine, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e, err := New(cfg, WithLogger(logger), WithClock(func() time.Time { return t0 }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, &logs
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.TableLength = 100
	if _, err := New(cfg); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("New error = %v", err)
	}
}

func TestToneAfterExpiredWaitUsesChannelZero(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	if e.RequestWait(0) {
		t.Fatal("RequestWait needed retry on empty queue")
	}
	e.Step(t0)
	e.Step(t0.Add(ms(1)))

	if e.RequestTone(440, tone.Sine) {
		t.Fatal("RequestTone needed retry on empty queue")
	}
	e.Step(t0.Add(ms(2)))

	ch := e.Channels(nil)[0]
	if ch.Volume == 0 || ch.Waveform != tone.Sine || ch.Delta != 461373 {
		t.Fatalf("channel 0 = %+v", ch)
	}
}

func TestChordOverflowDropsOne(t *testing.T) {
	e, logs := newTestEngine(t, nil)
	n := e.Config().ChannelCount

	for i := 0; i <= n; i++ {
		if e.RequestTone(tone.NoteToFrequency(int32(40+i)), tone.Triangle) {
			t.Fatalf("tone %d needed retry", i)
		}
	}
	e.RequestWait(500)
	e.Step(t0)

	st := e.Stats()
	if st.ActiveChannels != n || st.DroppedTones != 1 {
		t.Fatalf("active=%d dropped=%d", st.ActiveChannels, st.DroppedTones)
	}
	if !strings.Contains(logs.String(), "channel pool exhausted") {
		t.Fatal("exhaustion was not logged")
	}
}

func TestRequestRetryWhenQueueFull(t *testing.T) {
	e, _ := newTestEngine(t, func(c *config.Config) { c.CommandQueue = 2 })

	if e.RequestTone(100, tone.Sine) || e.RequestWait(10) {
		t.Fatal("retry requested with room in the queue")
	}
	if !e.RequestTone(200, tone.Sine) {
		t.Fatal("full queue accepted a tone")
	}
	if !e.RequestWait(10) {
		t.Fatal("full queue accepted a wait")
	}
	if e.PendingCommands() != 2 {
		t.Fatalf("pending = %d", e.PendingCommands())
	}

	e.Step(t0)
	if e.RequestTone(200, tone.Sine) {
		t.Fatal("retry still requested after the scheduler drained")
	}
}

func TestPollPressEmptyIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	for i := 0; i < 50; i++ {
		if pin, ok := e.PollPress(); ok {
			t.Fatalf("poll %d returned pin %d", i, pin)
		}
	}
}

func TestButtonPressAndBounce(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	start := t0.Add(time.Second)

	// GPIO 12 is pin index 4, GPIO 7 is index 1
	e.Edge(12, input.Rising, start)
	e.Edge(7, input.Rising, start)
	e.Edge(7, input.Falling, start.Add(ms(3)))

	var pins []uint8
	for i := 0; i <= 200; i++ {
		e.Step(start.Add(ms(i)))
		for {
			pin, ok := e.PollPress()
			if !ok {
				break
			}
			pins = append(pins, pin)
		}
	}
	if len(pins) != 1 || pins[0] != 4 {
		t.Fatalf("presses = %v, want [4]", pins)
	}
}

func TestRenderOfflinePlaysChordForItsDuration(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.RequestTone(1000, tone.Triangle)
	e.RequestWait(10)

	sink := audio.NewBuffer(0)
	e.RenderOffline(sink, 320)

	if len(sink.Samples) != 320 || e.Stats().Ticks != 320 {
		t.Fatalf("rendered %d samples, ticks %d", len(sink.Samples), e.Stats().Ticks)
	}
	nonZero := 0
	for _, s := range sink.Samples[:160] {
		if s != 0 {
			nonZero++
		}
	}
	if nonZero < 100 {
		t.Fatalf("only %d non-zero samples while the chord played", nonZero)
	}
	for i, s := range sink.Samples[160:] {
		if s != 0 {
			t.Fatalf("sample %d = %d after the chord expired", 160+i, s)
		}
	}
	if got := e.SampleTime(160); !got.Equal(t0.Add(ms(10))) {
		t.Fatalf("SampleTime(160) = %v", got)
	}
}

func TestRunProcessesCommands(t *testing.T) {
	cfg := config.Default()
	cfg.PollIntervalUS = 100
	e, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.RequestTone(330, tone.Square)
	e.RequestWait(10000)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := e.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v", err)
	}
	if e.PendingCommands() != 0 {
		t.Fatalf("%d commands left in queue", e.PendingCommands())
	}
	if ch := e.Channels(nil)[0]; !ch.Active() || ch.Waveform != tone.Square {
		t.Fatalf("channel 0 = %+v", ch)
	}
}

func TestIdleWaitsForTrailingRest(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	if !e.Idle(t0) {
		t.Fatal("fresh engine is not idle")
	}

	e.RequestTone(262, tone.Sine)
	e.RequestWait(10)
	e.RequestWait(30) // rest
	if e.Idle(t0) {
		t.Fatal("idle with commands queued")
	}

	e.Step(t0)
	if e.Idle(t0.Add(ms(5))) {
		t.Fatal("idle while the chord plays")
	}

	// the rest is popped here; the queue is empty and no channel sounds
	e.Step(t0.Add(ms(10)))
	if e.PendingCommands() != 0 || e.Stats().ActiveChannels != 0 {
		t.Fatalf("pending=%d active=%d", e.PendingCommands(), e.Stats().ActiveChannels)
	}
	if e.Idle(t0.Add(ms(20))) {
		t.Fatal("idle in the middle of the trailing rest")
	}
	if !e.Idle(t0.Add(ms(40))) {
		t.Fatal("not idle after the rest ran out")
	}
}

func TestIdleTuneOfRests(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.RequestWait(50)
	e.Step(t0)
	if e.Idle(t0.Add(ms(1))) {
		t.Fatal("rest-only tune ended at once")
	}
	if !e.Idle(t0.Add(ms(50))) {
		t.Fatal("not idle after the rest")
	}
}

func TestRenderWhileRunning(t *testing.T) {
	cfg := config.Default()
	cfg.PollIntervalUS = 0
	e, err := New(cfg, WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		e.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		buf := make([]uint16, 128)
		for ctx.Err() == nil {
			e.Render(buf)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			e.RequestTone(tone.NoteToFrequency(int32(48+i%24)), tone.Waveform(i)%tone.WaveformCount)
			if i%4 == 3 {
				e.RequestWait(1)
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()
	wg.Wait()

	if e.Stats().Ticks == 0 {
		t.Fatal("mixer never ran")
	}
	for i, ch := range e.Channels(nil) {
		if ch.Phase > audio.PhaseMask {
			t.Fatalf("channel %d phase %#x escaped 24 bits", i, ch.Phase)
		}
		if ch.Active() && ch.Delta == 0 {
			t.Fatalf("channel %d active without a delta", i)
		}
	}
}

func TestStatsAggregatesLateSources(t *testing.T) {
	e, logs := newTestEngine(t, nil)
	e.WatchLate(func() uint64 { return 2 })
	e.WatchLate(func() uint64 { return 3 })
	if got := e.Stats().LateRenders; got != 5 {
		t.Fatalf("LateRenders = %d", got)
	}

	e.reportDiagnostics()
	if !strings.Contains(logs.String(), "mixer deadline missed") {
		t.Fatal("late renders were not reported")
	}
	logs.Reset()
	e.reportDiagnostics()
	if strings.Contains(logs.String(), "mixer deadline missed") {
		t.Fatal("unchanged counters reported twice")
	}
}

func TestSinkOverrunsCounted(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	e.RenderOffline(audio.NewBuffer(10), 25)
	if got := e.Stats().SinkOverruns; got != 15 {
		t.Fatalf("SinkOverruns = %d", got)
	}
}
