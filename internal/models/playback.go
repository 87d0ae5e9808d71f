// Package models defines the configuration documents consumed by the
// session engine: themes, playbacks, media banks, and cuelists.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SpiralType identifies the spiral shader variant.
type SpiralType string

const (
	SpiralClassic SpiralType = "classic"
	SpiralDual    SpiralType = "dual"
	SpiralRings   SpiralType = "rings"
	SpiralNone    SpiralType = "none"
)

// MediaMode controls how the media layer cycles.
type MediaMode string

const (
	MediaModeImages MediaMode = "images"
	MediaModeVideos MediaMode = "videos"
	MediaModeMixed  MediaMode = "mixed"
	MediaModeOff    MediaMode = "off"
)

// TextMode controls how text lines are displayed.
type TextMode string

const (
	TextModeFlash   TextMode = "flash"
	TextModeScroll  TextMode = "scroll"
	TextModeStatic  TextMode = "static"
	TextModeSubtext TextMode = "subtext"
)

// ZoomMode identifies the zoom animation curve.
type ZoomMode string

const (
	ZoomExponential ZoomMode = "exponential"
	ZoomPulse       ZoomMode = "pulse"
	ZoomLinear      ZoomMode = "linear"
	ZoomNone        ZoomMode = "none"
)

// SpiralSettings configure the spiral layer of a playback.
type SpiralSettings struct {
	Type          SpiralType `json:"type"`
	RotationSpeed float64    `json:"rotation_speed"`
	Opacity       float64    `json:"opacity"`
	Reverse       bool       `json:"reverse"`
}

// MediaSettings configure the media layer of a playback.
type MediaSettings struct {
	Mode MediaMode `json:"mode"`
	// CycleSpeed is in [1,100]; higher cycles faster. See CycleInterval.
	CycleSpeed     int      `json:"cycle_speed"`
	FadeDuration   float64  `json:"fade_duration"`
	UseThemeBank   bool     `json:"use_theme_bank"`
	Paths          []string `json:"paths,omitempty"`
	Shuffle        bool     `json:"shuffle"`
	BankSelections []int    `json:"bank_selections,omitempty"`
}

// TextSettings configure the synchronized text layer of a playback.
type TextSettings struct {
	Enabled       bool     `json:"enabled"`
	Mode          TextMode `json:"mode"`
	Opacity       float64  `json:"opacity"`
	UseThemeBank  bool     `json:"use_theme_bank"`
	Library       []string `json:"library,omitempty"`
	SyncWithMedia bool     `json:"sync_with_media"`
}

// ZoomSettings configure the zoom animation of a playback.
type ZoomSettings struct {
	Mode ZoomMode `json:"mode"`
	Rate float64  `json:"rate"`
}

// Playback is a named bundle of spiral/media/text/zoom settings. The set of
// shapes is fixed and data-driven; renderers dispatch on the tagged fields
// rather than on subtypes.
type Playback struct {
	Name   string         `json:"name"`
	Spiral SpiralSettings `json:"spiral"`
	Media  MediaSettings  `json:"media"`
	Text   TextSettings   `json:"text"`
	Zoom   ZoomSettings   `json:"zoom"`
}

// CycleInterval maps the 1-100 cycle speed onto a media-advance interval.
// The mapping is exponential: speed 1 is 10s per cycle, speed 100 is 50ms.
func (p *Playback) CycleInterval() time.Duration {
	speed := p.Media.CycleSpeed
	if speed < 1 {
		speed = 1
	}
	if speed > 100 {
		speed = 100
	}
	ms := 10000 * math.Pow(0.005, float64(speed-1)/99)
	return time.Duration(ms * float64(time.Millisecond))
}

// Validate checks the playback and returns every problem found.
func (p *Playback) Validate() ValidationErrors {
	var errs ValidationErrors
	if p.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required"})
	}
	if p.Spiral.Opacity < 0 || p.Spiral.Opacity > 1 {
		errs = append(errs, ValidationError{Field: "spiral.opacity", Message: fmt.Sprintf("must be within [0,1], got %g", p.Spiral.Opacity)})
	}
	if p.Media.CycleSpeed < 1 || p.Media.CycleSpeed > 100 {
		errs = append(errs, ValidationError{Field: "media.cycle_speed", Message: fmt.Sprintf("must be within [1,100], got %d", p.Media.CycleSpeed)})
	}
	if p.Text.Opacity < 0 || p.Text.Opacity > 1 {
		errs = append(errs, ValidationError{Field: "text.opacity", Message: fmt.Sprintf("must be within [0,1], got %g", p.Text.Opacity)})
	}
	if p.Zoom.Rate < 0 || p.Zoom.Rate > 1 {
		errs = append(errs, ValidationError{Field: "zoom.rate", Message: fmt.Sprintf("must be within [0,1], got %g", p.Zoom.Rate)})
	}
	switch p.Media.Mode {
	case MediaModeImages, MediaModeVideos, MediaModeMixed, MediaModeOff:
	default:
		errs = append(errs, ValidationError{Field: "media.mode", Message: fmt.Sprintf("unknown mode %q", p.Media.Mode)})
	}
	switch p.Zoom.Mode {
	case ZoomExponential, ZoomPulse, ZoomLinear, ZoomNone:
	default:
		errs = append(errs, ValidationError{Field: "zoom.mode", Message: fmt.Sprintf("unknown mode %q", p.Zoom.Mode)})
	}
	return errs
}

// LoadPlayback reads and parses a single playback config file.
func LoadPlayback(path string) (*Playback, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading playback: %w", err)
	}

	var pb Playback
	if err := json.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("parsing playback %s: %w", path, err)
	}
	if pb.Name == "" {
		pb.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &pb, nil
}

// LoadPlaybackDir loads every *.json playback in a directory, keyed by name.
func LoadPlaybackDir(dir string) (map[string]*Playback, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading playback directory: %w", err)
	}

	playbacks := make(map[string]*Playback)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		pb, err := LoadPlayback(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, exists := playbacks[pb.Name]; exists {
			return nil, fmt.Errorf("duplicate playback name %q in %s", pb.Name, dir)
		}
		playbacks[pb.Name] = pb
	}
	return playbacks, nil
}
