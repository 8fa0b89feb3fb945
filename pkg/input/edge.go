// Package input turns noisy button edges into clean press events
package input

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tonecore/tonecore/pkg/queue"
)

// Direction of a pin transition
type Direction uint8

const (
	Rising Direction = iota
	Falling
)

// String returns the direction name
func (d Direction) String() string {
	if d == Rising {
		return "rising"
	}
	return "falling"
}

// RawEdge is one edge interrupt, before debouncing
type RawEdge struct {
	Direction Direction
	Time      time.Time
	Pin       uint8 // index into the layout, not the GPIO number
}

// PressEvent is one debounced press
type PressEvent struct {
	Pin uint8
}

// Layout maps pin indexes to GPIO numbers and keyboard keys
type Layout struct {
	GPIO []int
	Keys string
}

// NewLayout validates and builds a layout
func NewLayout(gpio []int, keys string) (Layout, error) {
	if len(gpio) != len(keys) {
		return Layout{}, fmt.Errorf("%d keys for %d pins", len(keys), len(gpio))
	}
	if len(gpio) > 256 {
		return Layout{}, fmt.Errorf("too many pins: %d", len(gpio))
	}
	return Layout{GPIO: append([]int(nil), gpio...), Keys: keys}, nil
}

// Len returns the number of pins
func (l Layout) Len() int {
	return len(l.GPIO)
}

// IndexOfGPIO returns the pin index for a GPIO number
func (l Layout) IndexOfGPIO(gpio int) (uint8, bool) {
	for i, g := range l.GPIO {
		if g == gpio {
			return uint8(i), true
		}
	}
	return 0, false
}

// IndexOfKey returns the pin index bound to a key
func (l Layout) IndexOfKey(key string) (uint8, bool) {
	if len(key) != 1 {
		return 0, false
	}
	for i := 0; i < len(l.Keys); i++ {
		if l.Keys[i] == key[0] {
			return uint8(i), true
		}
	}
	return 0, false
}

// Key returns the key bound to a pin index
func (l Layout) Key(pin uint8) string {
	if int(pin) >= len(l.Keys) {
		return "?"
	}
	return string(l.Keys[pin])
}

// EdgeSource is the entry point for the input interrupt. Edge never blocks:
// when the edge queue is full the edge is dropped and counted, and the
// debounce windows absorb the gap.
type EdgeSource struct {
	layout  Layout
	edges   *queue.Ring[RawEdge]
	dropped atomic.Uint64
	ignored atomic.Uint64
}

// NewEdgeSource creates an edge source feeding edges
func NewEdgeSource(layout Layout, edges *queue.Ring[RawEdge]) *EdgeSource {
	return &EdgeSource{layout: layout, edges: edges}
}

// Edge records a transition on a GPIO. Unknown GPIOs are ignored.
// It returns false if the edge was not queued.
func (s *EdgeSource) Edge(gpio int, dir Direction, at time.Time) bool {
	pin, ok := s.layout.IndexOfGPIO(gpio)
	if !ok {
		s.ignored.Add(1)
		return false
	}
	return s.EdgeIndex(pin, dir, at)
}

// EdgeIndex records a transition on a pin index
func (s *EdgeSource) EdgeIndex(pin uint8, dir Direction, at time.Time) bool {
	if !s.edges.TryPush(RawEdge{Direction: dir, Time: at, Pin: pin}) {
		s.dropped.Add(1)
		return false
	}
	return true
}

// Dropped returns the number of edges lost to a full queue
func (s *EdgeSource) Dropped() uint64 {
	return s.dropped.Load()
}

// Ignored returns the number of edges on GPIOs outside the layout
func (s *EdgeSource) Ignored() uint64 {
	return s.ignored.Load()
}
