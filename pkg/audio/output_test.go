package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/wav"

	"github.com/tonecore/tonecore/pkg/tone"
)

func TestToPCM16(t *testing.T) {
	tests := []struct {
		in   uint16
		want int16
	}{
		{0, -32768},
		{0x8000, 0},
		{0xFFFF, 32767},
	}
	for _, tt := range tests {
		if got := ToPCM16(tt.in); got != tt.want {
			t.Errorf("ToPCM16(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWAVSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink := NewWAVSink(path, testRate)

	pool := NewPool(2)
	pool.Start(0, FreqToDelta(440, testRate), 1, tone.Triangle)
	m := NewMixer(NewBank(512, 15000), pool, false)
	for i := 0; i < 1600; i++ {
		m.Tick(sink)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Format.SampleRate != testRate || buf.Format.NumChannels != 1 {
		t.Fatalf("format = %+v", buf.Format)
	}
	if len(buf.Data) != len(sink.Samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(sink.Samples))
	}
	for i, v := range buf.Data {
		got := int(math.Round(float64(v) * 32768))
		if want := int(ToPCM16(sink.Samples[i])); got != want {
			t.Fatalf("sample %d = %d, want %d", i, got, want)
		}
	}
}

type fakePort struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	fail   bool
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return 0, errors.New("port gone")
	}
	return p.buf.Write(b)
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func (p *fakePort) bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.buf.Bytes()...)
}

func TestSerialSinkFlush(t *testing.T) {
	port := &fakePort{}
	s := NewSerialSink(port, 4)
	for _, v := range []uint16{1, 0x0203, 0xFFFF, 7} {
		if !s.TryPut(v) {
			t.Fatalf("TryPut(%d) refused", v)
		}
	}
	if s.TryPut(9) {
		t.Fatal("TryPut into full FIFO accepted")
	}

	n, err := s.Flush()
	if err != nil || n != 4 {
		t.Fatalf("Flush = %d, %v", n, err)
	}
	got := port.bytes()
	want := []uint16{1, 0x0203, 0xFFFF, 7}
	for i, v := range want {
		if w := binary.LittleEndian.Uint16(got[i*2:]); w != v {
			t.Fatalf("word %d = %#x, want %#x", i, w, v)
		}
	}

	port.fail = true
	s.TryPut(1)
	if _, err := s.Flush(); err == nil || s.WriteErrors() != 1 {
		t.Fatalf("expected write error, got %v (errors=%d)", err, s.WriteErrors())
	}
	if err := s.Close(); err != nil || !port.closed {
		t.Fatalf("Close: %v", err)
	}
}

func TestSerialSinkRunDrains(t *testing.T) {
	port := &fakePort{}
	s := NewSerialSink(port, 64)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 10; i++ {
		for !s.TryPut(uint16(i)) {
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(port.bytes()); got != 20 {
		t.Fatalf("wrote %d bytes, want 20", got)
	}
}

func TestPacerAdvance(t *testing.T) {
	m := NewMixer(NewBank(512, 15000), NewPool(1), false)
	sink := NewBuffer(0)
	p := NewPacer(m, sink, testRate)

	if n := p.Advance(time.Millisecond); n != 16 {
		t.Fatalf("first advance ran %d samples", n)
	}
	if n := p.Advance(time.Millisecond); n != 0 {
		t.Fatalf("repeat advance ran %d samples", n)
	}
	if p.Missed() != 0 {
		t.Fatal("on-time advance counted as missed")
	}
	if n := p.Advance(11 * time.Millisecond); n != 160 {
		t.Fatalf("late advance ran %d samples", n)
	}
	if p.Missed() != 1 {
		t.Fatalf("missed = %d, want 1", p.Missed())
	}
	if len(sink.Samples) != 176 || m.Ticks() != 176 {
		t.Fatalf("samples=%d ticks=%d", len(sink.Samples), m.Ticks())
	}
}

func TestPacerRunStops(t *testing.T) {
	m := NewMixer(NewBank(512, 15000), NewPool(1), false)
	p := NewPacer(m, NewBuffer(0), testRate)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v", err)
	}
	if m.Ticks() == 0 {
		t.Fatal("pacer produced no samples")
	}
}
