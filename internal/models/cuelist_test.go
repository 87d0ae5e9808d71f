package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCuelist() *Cuelist {
	return &Cuelist{
		Name:     "evening",
		LoopMode: LoopOnce,
		Cues: []Cue{
			{
				Name:            "induction",
				DurationSeconds: 5,
				PlaybackPool: []PlaybackEntry{
					{Playback: "slow-spiral", Weight: 2, MinCycles: 3},
					{Playback: "deep-spiral", Weight: 1},
				},
				SelectionMode: SelectOnCueStart,
				TransitionIn:  Transition{Type: TransitionFade, DurationMs: 500},
				TransitionOut: Transition{Type: TransitionFade, DurationMs: 500},
				AudioTracks: []AudioTrack{
					{File: "voice.ogg", Volume: 0.8, Role: RoleHypno, FadeInMs: 200},
					{File: "drone.ogg", Volume: 0.4, Loop: true, Role: RoleGeneric},
				},
			},
			{
				Name:                     "deepener",
				DurationSeconds:          3,
				PlaybackPool:             []PlaybackEntry{{Playback: "deep-spiral", Weight: 1}},
				SelectionMode:            SelectOnTimedInterval,
				SelectionIntervalSeconds: 1.5,
			},
		},
		Metadata: map[string]string{"author": "test"},
	}
}

func TestCuelistValidateOK(t *testing.T) {
	errs := validCuelist().Validate()
	assert.Empty(t, errs)
	assert.NoError(t, errs.OrNil())
}

func TestCuelistValidateCollectsEveryProblem(t *testing.T) {
	cl := validCuelist()
	cl.LoopMode = "bogus"
	cl.Cues[0].Name = "deepener" // duplicate with cues[1]
	cl.Cues[0].DurationSeconds = 0
	cl.Cues[0].PlaybackPool[0].Weight = 0
	cl.Cues[0].AudioTracks = append(cl.Cues[0].AudioTracks,
		AudioTrack{File: "third.ogg", Volume: 0.5, Role: RoleBackground}) // 3 tracks, 2 non-generic
	cl.Cues[1].SelectionIntervalSeconds = 0

	errs := cl.Validate()
	require.NotEmpty(t, errs)

	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
	}
	assert.True(t, fields["loop_mode"])
	assert.True(t, fields["cues[1].name"], "duplicate cue name should be flagged on the second occurrence")
	assert.True(t, fields["cues[0].duration_seconds"])
	assert.True(t, fields["cues[0].playback_pool[0].weight"])
	assert.True(t, fields["cues[0].audio_tracks"])
	assert.True(t, fields["cues[1].selection_interval_seconds"])
}

func TestCuelistValidateConflictingRoles(t *testing.T) {
	cl := validCuelist()
	cl.Cues[0].AudioTracks[1].Role = RoleBackground

	errs := cl.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "non-generic")
}

func TestCuelistMinCyclesExceedsMax(t *testing.T) {
	cl := validCuelist()
	cl.Cues[0].PlaybackPool[0].MinCycles = 5
	cl.Cues[0].PlaybackPool[0].MaxCycles = 2

	errs := cl.Validate()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "min_cycles 5 exceeds max_cycles 2")
}

func TestCuelistJSONRoundTrip(t *testing.T) {
	original := validCuelist()

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var reloaded Cuelist
	require.NoError(t, json.Unmarshal(data, &reloaded))
	assert.Equal(t, *original, reloaded)
}

func TestLoadCuelist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")

	data, err := json.Marshal(validCuelist())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cl, err := LoadCuelist(path)
	require.NoError(t, err)
	assert.Equal(t, "evening", cl.Name)
	assert.Len(t, cl.Cues, 2)

	_, err = LoadCuelist(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = LoadCuelist(bad)
	assert.Error(t, err)
}

func TestCueDurationHelpers(t *testing.T) {
	cue := Cue{DurationSeconds: 2.5, SelectionIntervalSeconds: 0.25}
	assert.Equal(t, 2500, int(cue.Duration().Milliseconds()))
	assert.Equal(t, 250, int(cue.SelectionInterval().Milliseconds()))
}
