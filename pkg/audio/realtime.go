package audio

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Renderer produces consecutive mixed samples
type Renderer interface {
	Render(dst []uint16)
}

// RealtimeOutput plays the mix through the system audio device. oto pulls
// samples from its own goroutine; that pull is the sample clock, so the
// renderer runs there and nowhere else.
type RealtimeOutput struct {
	src        Renderer
	sampleRate int
	otoCtx     *oto.Context
	otoPlayer  *oto.Player
	buffer     []uint16
	running    atomic.Bool
	late       atomic.Uint64
}

// NewRealtimeOutput opens the audio device and starts pulling from src
func NewRealtimeOutput(src Renderer, sampleRate int) (*RealtimeOutput, error) {
	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1, // Mono
		Format:       oto.FormatSignedInt16LE,
	}

	otoCtx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready

	rt := &RealtimeOutput{
		src:        src,
		sampleRate: sampleRate,
		otoCtx:     otoCtx,
		buffer:     make([]uint16, 512),
	}
	rt.running.Store(true)

	rt.otoPlayer = otoCtx.NewPlayer(&audioStream{rt: rt})
	rt.otoPlayer.SetBufferSize(sampleRate / 50 * 2) // 20ms of 16-bit mono
	rt.otoPlayer.Play()

	return rt, nil
}

// Close stops the audio output
func (rt *RealtimeOutput) Close() error {
	rt.running.Store(false)
	if rt.otoPlayer != nil {
		return rt.otoPlayer.Close()
	}
	return nil
}

// LateRenders counts batches that took longer to render than they last
func (rt *RealtimeOutput) LateRenders() uint64 {
	return rt.late.Load()
}

// audioStream implements io.Reader for oto
type audioStream struct {
	rt *RealtimeOutput
}

func (s *audioStream) Read(buf []byte) (int, error) {
	if !s.rt.running.Load() {
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	}

	samples := len(buf) / 2 // 16-bit = 2 bytes per sample
	if samples > len(s.rt.buffer) {
		s.rt.buffer = make([]uint16, samples)
	}

	start := time.Now()
	s.rt.src.Render(s.rt.buffer[:samples])
	budget := time.Duration(samples) * time.Second / time.Duration(s.rt.sampleRate)
	if time.Since(start) > budget {
		s.rt.late.Add(1)
	}

	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(ToPCM16(s.rt.buffer[i])))
	}

	return samples * 2, nil
}
