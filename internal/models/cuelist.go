package models

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// LoopMode controls what happens when the last cue finishes.
type LoopMode string

const (
	LoopOnce     LoopMode = "once"
	LoopForever  LoopMode = "loop"
	LoopPingPong LoopMode = "ping_pong"
)

// SelectionMode controls when a cue re-selects from its playback pool.
type SelectionMode string

const (
	SelectOnCueStart      SelectionMode = "on_cue_start"
	SelectOnMediaCycle    SelectionMode = "on_media_cycle"
	SelectOnTimedInterval SelectionMode = "on_timed_interval"
)

// TransitionType identifies a visual transition style.
type TransitionType string

const (
	TransitionNone        TransitionType = "none"
	TransitionFade        TransitionType = "fade"
	TransitionInterpolate TransitionType = "interpolate"
)

// AudioRole classifies a track for independent memory budgeting. At most
// one non-generic-role track may appear per cue.
type AudioRole string

const (
	RoleHypno      AudioRole = "hypno"
	RoleBackground AudioRole = "background"
	RoleGeneric    AudioRole = "generic"
)

// Valid reports whether the role is one of the known values.
func (r AudioRole) Valid() bool {
	switch r {
	case RoleHypno, RoleBackground, RoleGeneric:
		return true
	}
	return false
}

// PlaybackEntry references a playback by name with a selection weight and
// optional cycle constraints. Immutable once loaded into a cue.
type PlaybackEntry struct {
	Playback string  `json:"playback"`
	Weight   float64 `json:"weight"`
	// MinCycles gates eligibility: the entry cannot be switched to until the
	// current playback has run this many cycles. Zero means no constraint.
	MinCycles int `json:"min_cycles,omitempty"`
	// MaxCycles forces variety: once the entry has run this many cycles it
	// is excluded from re-selection. Zero means no constraint.
	MaxCycles int `json:"max_cycles,omitempty"`
	// TextOverrides replaces the theme text library while this entry plays.
	TextOverrides []string `json:"text_overrides,omitempty"`
}

// AudioTrack is one audio file played during a cue.
type AudioTrack struct {
	File      string    `json:"file"`
	Volume    float64   `json:"volume"`
	Loop      bool      `json:"loop"`
	FadeInMs  int       `json:"fade_in_ms"`
	FadeOutMs int       `json:"fade_out_ms"`
	Role      AudioRole `json:"role"`
}

// FadeIn returns the fade-in duration.
func (t *AudioTrack) FadeIn() time.Duration { return time.Duration(t.FadeInMs) * time.Millisecond }

// FadeOut returns the fade-out duration.
func (t *AudioTrack) FadeOut() time.Duration { return time.Duration(t.FadeOutMs) * time.Millisecond }

// Transition describes a transition-in or transition-out.
type Transition struct {
	Type       TransitionType `json:"type"`
	DurationMs int            `json:"duration_ms"`
}

// Duration returns the transition duration.
func (t *Transition) Duration() time.Duration { return time.Duration(t.DurationMs) * time.Millisecond }

// Cue is a timed segment of a session selecting playbacks from a weighted
// pool. Read-only once loaded.
type Cue struct {
	Name                     string          `json:"name"`
	DurationSeconds          float64         `json:"duration_seconds"`
	PlaybackPool             []PlaybackEntry `json:"playback_pool"`
	SelectionMode            SelectionMode   `json:"selection_mode"`
	SelectionIntervalSeconds float64         `json:"selection_interval_seconds,omitempty"`
	TransitionIn             Transition      `json:"transition_in"`
	TransitionOut            Transition      `json:"transition_out"`
	AudioTracks              []AudioTrack    `json:"audio_tracks,omitempty"`
	TextOverrides            []string        `json:"text_overrides,omitempty"`
}

// Duration returns the cue duration.
func (c *Cue) Duration() time.Duration {
	return time.Duration(c.DurationSeconds * float64(time.Second))
}

// SelectionInterval returns the timed-interval re-selection period.
func (c *Cue) SelectionInterval() time.Duration {
	return time.Duration(c.SelectionIntervalSeconds * float64(time.Second))
}

// Cuelist is an ordered sequence of cues forming a complete session.
type Cuelist struct {
	Name     string            `json:"name"`
	LoopMode LoopMode          `json:"loop_mode"`
	Cues     []Cue             `json:"cues"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LoadCuelist reads and parses a cuelist file without validating it.
func LoadCuelist(path string) (*Cuelist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cuelist: %w", err)
	}

	var cl Cuelist
	if err := json.Unmarshal(data, &cl); err != nil {
		return nil, fmt.Errorf("parsing cuelist %s: %w", path, err)
	}
	return &cl, nil
}

// Validate checks the cuelist and returns every problem found, not just the
// first. Problems are never silently corrected.
func (cl *Cuelist) Validate() ValidationErrors {
	var errs ValidationErrors

	if cl.Name == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "name is required"})
	}
	switch cl.LoopMode {
	case LoopOnce, LoopForever, LoopPingPong:
	default:
		errs = append(errs, ValidationError{Field: "loop_mode", Message: fmt.Sprintf("must be one of once, loop, ping_pong; got %q", cl.LoopMode)})
	}
	if len(cl.Cues) == 0 {
		errs = append(errs, ValidationError{Field: "cues", Message: "at least one cue is required"})
	}

	seen := make(map[string]bool)
	for i := range cl.Cues {
		cue := &cl.Cues[i]
		field := fmt.Sprintf("cues[%d]", i)

		if cue.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "name is required"})
		} else if seen[cue.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate cue name %q", cue.Name)})
		}
		seen[cue.Name] = true

		if cue.DurationSeconds <= 0 {
			errs = append(errs, ValidationError{Field: field + ".duration_seconds", Message: fmt.Sprintf("must be positive, got %g", cue.DurationSeconds)})
		}

		errs = append(errs, cue.validatePool(field)...)
		errs = append(errs, cue.validateSelection(field)...)
		errs = append(errs, cue.validateTransitions(field)...)
		errs = append(errs, cue.validateAudio(field)...)
	}

	return errs
}

func (c *Cue) validatePool(field string) ValidationErrors {
	var errs ValidationErrors
	if len(c.PlaybackPool) == 0 {
		errs = append(errs, ValidationError{Field: field + ".playback_pool", Message: "at least one entry is required"})
	}
	for j, entry := range c.PlaybackPool {
		entryField := fmt.Sprintf("%s.playback_pool[%d]", field, j)
		if entry.Playback == "" {
			errs = append(errs, ValidationError{Field: entryField + ".playback", Message: "playback reference is required"})
		}
		if entry.Weight <= 0 {
			errs = append(errs, ValidationError{Field: entryField + ".weight", Message: fmt.Sprintf("must be positive, got %g", entry.Weight)})
		}
		if entry.MinCycles < 0 {
			errs = append(errs, ValidationError{Field: entryField + ".min_cycles", Message: "must not be negative"})
		}
		if entry.MaxCycles < 0 {
			errs = append(errs, ValidationError{Field: entryField + ".max_cycles", Message: "must not be negative"})
		}
		if entry.MinCycles > 0 && entry.MaxCycles > 0 && entry.MinCycles > entry.MaxCycles {
			errs = append(errs, ValidationError{Field: entryField, Message: fmt.Sprintf("min_cycles %d exceeds max_cycles %d", entry.MinCycles, entry.MaxCycles)})
		}
	}
	return errs
}

func (c *Cue) validateSelection(field string) ValidationErrors {
	var errs ValidationErrors
	switch c.SelectionMode {
	case SelectOnCueStart, SelectOnMediaCycle:
	case SelectOnTimedInterval:
		if c.SelectionIntervalSeconds <= 0 {
			errs = append(errs, ValidationError{Field: field + ".selection_interval_seconds", Message: "required and positive for on_timed_interval"})
		}
	default:
		errs = append(errs, ValidationError{Field: field + ".selection_mode", Message: fmt.Sprintf("unknown mode %q", c.SelectionMode)})
	}
	return errs
}

func (c *Cue) validateTransitions(field string) ValidationErrors {
	var errs ValidationErrors
	for _, tr := range []struct {
		name string
		t    Transition
	}{{"transition_in", c.TransitionIn}, {"transition_out", c.TransitionOut}} {
		switch tr.t.Type {
		case TransitionNone, TransitionFade, TransitionInterpolate, "":
		default:
			errs = append(errs, ValidationError{Field: field + "." + tr.name + ".type", Message: fmt.Sprintf("unknown type %q", tr.t.Type)})
		}
		if tr.t.DurationMs < 0 {
			errs = append(errs, ValidationError{Field: field + "." + tr.name + ".duration_ms", Message: "must not be negative"})
		}
	}
	return errs
}

func (c *Cue) validateAudio(field string) ValidationErrors {
	var errs ValidationErrors
	if len(c.AudioTracks) > 2 {
		errs = append(errs, ValidationError{Field: field + ".audio_tracks", Message: fmt.Sprintf("at most 2 tracks allowed, got %d", len(c.AudioTracks))})
	}
	nonGeneric := 0
	for j, track := range c.AudioTracks {
		trackField := fmt.Sprintf("%s.audio_tracks[%d]", field, j)
		if track.File == "" {
			errs = append(errs, ValidationError{Field: trackField + ".file", Message: "file is required"})
		}
		if track.Volume < 0 || track.Volume > 1 {
			errs = append(errs, ValidationError{Field: trackField + ".volume", Message: fmt.Sprintf("must be within [0,1], got %g", track.Volume)})
		}
		if !track.Role.Valid() {
			errs = append(errs, ValidationError{Field: trackField + ".role", Message: fmt.Sprintf("must be one of hypno, background, generic; got %q", track.Role)})
		}
		if track.FadeInMs < 0 || track.FadeOutMs < 0 {
			errs = append(errs, ValidationError{Field: trackField, Message: "fade durations must not be negative"})
		}
		if track.Role.Valid() && track.Role != RoleGeneric {
			nonGeneric++
		}
	}
	if nonGeneric > 1 {
		errs = append(errs, ValidationError{Field: field + ".audio_tracks", Message: "at most one non-generic-role track per cue"})
	}
	return errs
}
