// Package config holds the synthesizer configuration and its JSON loader
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"time"
)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid config")

// Debounce holds the button timing windows, in milliseconds
type Debounce struct {
	ConfirmStart    int `json:"confirm_start_ms"`
	ConfirmEnd      int `json:"confirm_end_ms"`
	ReleaseCooldown int `json:"release_cooldown_ms"`
}

// Config is the full runtime configuration
type Config struct {
	SampleRate    int     `json:"sample_rate"`
	ChannelCount  int     `json:"channel_count"`
	TableLength   int     `json:"table_length"`
	PeakAmplitude float64 `json:"peak_amplitude"`
	OnVolume      uint16  `json:"on_volume"`
	Saturate      bool    `json:"saturate"`

	CommandQueue int `json:"command_queue"`
	EdgeQueue    int `json:"edge_queue"`
	PressQueue   int `json:"press_queue"`

	PollIntervalUS int `json:"poll_interval_us"`

	Debounce Debounce `json:"debounce"`

	Pins []int  `json:"pins"`
	Keys string `json:"keys"`
}

// Default returns the stock configuration
func Default() Config {
	return Config{
		SampleRate:     16000,
		ChannelCount:   32,
		TableLength:    512,
		PeakAmplitude:  15000,
		OnVolume:       1500,
		CommandQueue:   256,
		EdgeQueue:      32,
		PressQueue:     32,
		PollIntervalUS: 250,
		Debounce: Debounce{
			ConfirmStart:    20,
			ConfirmEnd:      40,
			ReleaseCooldown: 70,
		},
		Pins: []int{5, 7, 6, 8, 12, 14, 13, 15},
		Keys: "wsadikjl",
	}
}

// File is the JSON schema; nil fields keep their defaults
type File struct {
	SampleRate     *int      `json:"sample_rate"`
	ChannelCount   *int      `json:"channel_count"`
	TableLength    *int      `json:"table_length"`
	PeakAmplitude  *float64  `json:"peak_amplitude"`
	OnVolume       *uint16   `json:"on_volume"`
	Saturate       *bool     `json:"saturate"`
	CommandQueue   *int      `json:"command_queue"`
	EdgeQueue      *int      `json:"edge_queue"`
	PressQueue     *int      `json:"press_queue"`
	PollIntervalUS *int      `json:"poll_interval_us"`
	Debounce       *Debounce `json:"debounce"`
	Pins           []int     `json:"pins"`
	Keys           *string   `json:"keys"`
}

// Load reads a JSON config file and applies it on top of Default
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Apply(&f); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Apply copies the set fields of f into c and validates the result
func (c *Config) Apply(f *File) error {
	if f == nil {
		return c.Validate()
	}
	if f.SampleRate != nil {
		c.SampleRate = *f.SampleRate
	}
	if f.ChannelCount != nil {
		c.ChannelCount = *f.ChannelCount
	}
	if f.TableLength != nil {
		c.TableLength = *f.TableLength
	}
	if f.PeakAmplitude != nil {
		c.PeakAmplitude = *f.PeakAmplitude
	}
	if f.OnVolume != nil {
		c.OnVolume = *f.OnVolume
	}
	if f.Saturate != nil {
		c.Saturate = *f.Saturate
	}
	if f.CommandQueue != nil {
		c.CommandQueue = *f.CommandQueue
	}
	if f.EdgeQueue != nil {
		c.EdgeQueue = *f.EdgeQueue
	}
	if f.PressQueue != nil {
		c.PressQueue = *f.PressQueue
	}
	if f.PollIntervalUS != nil {
		c.PollIntervalUS = *f.PollIntervalUS
	}
	if f.Debounce != nil {
		c.Debounce = *f.Debounce
	}
	if f.Pins != nil {
		c.Pins = append([]int(nil), f.Pins...)
	}
	if f.Keys != nil {
		c.Keys = *f.Keys
	}
	return c.Validate()
}

// Validate checks the invariants the real-time components rely on
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("%w: sample_rate must be > 0", ErrInvalid)
	case c.ChannelCount <= 0:
		return fmt.Errorf("%w: channel_count must be > 0", ErrInvalid)
	case c.TableLength <= 0 || bits.OnesCount(uint(c.TableLength)) != 1:
		return fmt.Errorf("%w: table_length must be a power of two", ErrInvalid)
	case c.TableLength > 1<<24:
		return fmt.Errorf("%w: table_length exceeds the phase space", ErrInvalid)
	// the sine table peaks at 2.1x the configured amplitude
	case c.PeakAmplitude <= 0 || c.PeakAmplitude*2.1 > 0xFFFF:
		return fmt.Errorf("%w: peak_amplitude out of range", ErrInvalid)
	case c.OnVolume == 0:
		return fmt.Errorf("%w: on_volume must be non-zero", ErrInvalid)
	case c.CommandQueue <= 0 || c.EdgeQueue <= 0 || c.PressQueue <= 0:
		return fmt.Errorf("%w: queue capacities must be > 0", ErrInvalid)
	case c.PollIntervalUS < 0:
		return fmt.Errorf("%w: poll_interval_us must be >= 0", ErrInvalid)
	case c.Debounce.ConfirmStart < 0 || c.Debounce.ConfirmStart >= c.Debounce.ConfirmEnd:
		return fmt.Errorf("%w: debounce window must satisfy 0 <= confirm_start < confirm_end", ErrInvalid)
	case c.Debounce.ReleaseCooldown < 0:
		return fmt.Errorf("%w: release_cooldown_ms must be >= 0", ErrInvalid)
	case len(c.Pins) == 0:
		return fmt.Errorf("%w: at least one pin is required", ErrInvalid)
	case len(c.Keys) != len(c.Pins):
		return fmt.Errorf("%w: %d keys for %d pins", ErrInvalid, len(c.Keys), len(c.Pins))
	}

	seen := make(map[int]bool, len(c.Pins))
	for _, p := range c.Pins {
		if p < 0 || p > 255 {
			return fmt.Errorf("%w: pin %d out of range", ErrInvalid, p)
		}
		if seen[p] {
			return fmt.Errorf("%w: duplicate pin %d", ErrInvalid, p)
		}
		seen[p] = true
	}
	return nil
}

// PollInterval returns the scheduler loop pacing
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalUS) * time.Microsecond
}

// ConfirmStartDuration is the delay after a rising edge before a press can be confirmed
func (d Debounce) ConfirmStartDuration() time.Duration {
	return time.Duration(d.ConfirmStart) * time.Millisecond
}

// ConfirmEndDuration closes the confirmation window
func (d Debounce) ConfirmEndDuration() time.Duration {
	return time.Duration(d.ConfirmEnd) * time.Millisecond
}

// ReleaseCooldownDuration is how long a falling edge suppresses confirmation
func (d Debounce) ReleaseCooldownDuration() time.Duration {
	return time.Duration(d.ReleaseCooldown) * time.Millisecond
}
