package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"

	"github.com/tonecore/tonecore/pkg/queue"
)

// SerialSink streams samples to a serial DAC bridge as little-endian
// unsigned 16-bit words. TryPut only enqueues; a writer goroutine started
// with Run moves the samples to the port.
type SerialSink struct {
	port     io.WriteCloser
	fifo     *queue.Ring[uint16]
	batch    []byte
	writeErr atomic.Uint64
}

// OpenSerial opens a serial device and wraps it in a sink
func OpenSerial(name string, baud, capacity int) (*SerialSink, error) {
	port, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", name, err)
	}
	return NewSerialSink(port, capacity), nil
}

// NewSerialSink creates a sink writing to w with a FIFO of capacity samples
func NewSerialSink(w io.WriteCloser, capacity int) *SerialSink {
	return &SerialSink{
		port:  w,
		fifo:  queue.New[uint16](capacity),
		batch: make([]byte, 0, capacity*2),
	}
}

// TryPut implements Sink
func (s *SerialSink) TryPut(sample uint16) bool {
	return s.fifo.TryPush(sample)
}

// Flush writes every queued sample and returns the number written
func (s *SerialSink) Flush() (int, error) {
	s.batch = s.batch[:0]
	n := s.fifo.Drain(-1, func(v uint16) bool {
		s.batch = binary.LittleEndian.AppendUint16(s.batch, v)
		return true
	})
	if n == 0 {
		return 0, nil
	}
	if _, err := s.port.Write(s.batch); err != nil {
		s.writeErr.Add(1)
		return 0, err
	}
	return n, nil
}

// Run drains the FIFO to the port until ctx is done
func (s *SerialSink) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_, err := s.Flush()
			return err
		case <-ticker.C:
			if _, err := s.Flush(); err != nil {
				return fmt.Errorf("serial write: %w", err)
			}
		}
	}
}

// WriteErrors returns the number of failed port writes
func (s *SerialSink) WriteErrors() uint64 {
	return s.writeErr.Load()
}

// Close closes the port
func (s *SerialSink) Close() error {
	return s.port.Close()
}
