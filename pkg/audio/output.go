package audio

import (
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// Buffer is an in-memory sink. A positive Limit caps the number of samples
// it accepts; further samples are refused.
type Buffer struct {
	Samples []uint16
	Limit   int
}

// NewBuffer creates a buffer sink with room for limit samples (0 = unbounded)
func NewBuffer(limit int) *Buffer {
	b := &Buffer{Limit: limit}
	if limit > 0 {
		b.Samples = make([]uint16, 0, limit)
	}
	return b
}

// TryPut implements Sink
func (b *Buffer) TryPut(sample uint16) bool {
	if b.Limit > 0 && len(b.Samples) >= b.Limit {
		return false
	}
	b.Samples = append(b.Samples, sample)
	return true
}

// Reset empties the buffer, keeping its storage
func (b *Buffer) Reset() {
	b.Samples = b.Samples[:0]
}

// ToPCM16 re-centres an unsigned mixer sample as signed 16-bit PCM
func ToPCM16(sample uint16) int16 {
	return int16(int32(sample) - 0x8000)
}

// WriteWAV encodes unsigned mixer samples as a mono 16-bit PCM WAV stream
func WriteWAV(w io.WriteSeeker, samples []uint16, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)

	data := make([]float32, len(samples))
	for i, s := range samples {
		data[i] = float32(ToPCM16(s)) / 32768
	}
	buf := &goaudio.Float32Buffer{
		Format: &goaudio.Format{
			SampleRate:  sampleRate,
			NumChannels: 1,
		},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WAVSink collects samples in memory and writes them to a WAV file on Close
type WAVSink struct {
	Buffer
	path       string
	sampleRate int
}

// NewWAVSink creates a sink that will be saved to path
func NewWAVSink(path string, sampleRate int) *WAVSink {
	return &WAVSink{path: path, sampleRate: sampleRate}
}

// Close writes the collected samples
func (s *WAVSink) Close() error {
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.path, err)
	}
	if err := WriteWAV(f, s.Samples, s.sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
