package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlayback() *Playback {
	return &Playback{
		Name:   "slow-spiral",
		Spiral: SpiralSettings{Type: SpiralClassic, RotationSpeed: 0.5, Opacity: 0.9},
		Media:  MediaSettings{Mode: MediaModeImages, CycleSpeed: 40, UseThemeBank: true, Shuffle: true},
		Text:   TextSettings{Enabled: true, Mode: TextModeFlash, Opacity: 0.7, UseThemeBank: true, SyncWithMedia: true},
		Zoom:   ZoomSettings{Mode: ZoomExponential, Rate: 0.3},
	}
}

func TestPlaybackValidate(t *testing.T) {
	assert.Empty(t, validPlayback().Validate())

	pb := validPlayback()
	pb.Spiral.Opacity = 1.5
	pb.Media.CycleSpeed = 0
	pb.Zoom.Mode = "wobble"
	errs := pb.Validate()
	require.Len(t, errs, 3)
}

func TestCycleIntervalMapping(t *testing.T) {
	pb := validPlayback()

	// Speed 1 maps to the slowest interval: 10s per cycle.
	pb.Media.CycleSpeed = 1
	assert.InDelta(t, 10*time.Second, pb.CycleInterval(), float64(time.Millisecond))

	// Speed 100 maps to 10000 * 0.005 = 50ms.
	pb.Media.CycleSpeed = 100
	assert.InDelta(t, 50*time.Millisecond, pb.CycleInterval(), float64(time.Millisecond))

	// Higher speed always cycles faster.
	pb.Media.CycleSpeed = 30
	mid := pb.CycleInterval()
	pb.Media.CycleSpeed = 60
	assert.Less(t, pb.CycleInterval(), mid)

	// Out-of-range speeds clamp instead of exploding.
	pb.Media.CycleSpeed = 0
	assert.InDelta(t, 10*time.Second, pb.CycleInterval(), float64(time.Millisecond))
	pb.Media.CycleSpeed = 500
	assert.InDelta(t, 50*time.Millisecond, pb.CycleInterval(), float64(time.Millisecond))
}

func TestPlaybackJSONRoundTrip(t *testing.T) {
	original := validPlayback()

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var reloaded Playback
	require.NoError(t, json.Unmarshal(data, &reloaded))
	assert.Equal(t, *original, reloaded)
}

func TestLoadPlaybackDir(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"one", "two"} {
		pb := validPlayback()
		pb.Name = name
		data, err := json.Marshal(pb)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644))
	}
	// Non-JSON files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	playbacks, err := LoadPlaybackDir(dir)
	require.NoError(t, err)
	assert.Len(t, playbacks, 2)
	assert.Contains(t, playbacks, "one")
	assert.Contains(t, playbacks, "two")
}

func TestLoadPlaybackNameDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unnamed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"media": {"mode": "images", "cycle_speed": 10}}`), 0o644))

	pb, err := LoadPlayback(path)
	require.NoError(t, err)
	assert.Equal(t, "unnamed", pb.Name)
}

func TestMediaBankValidateAndSelect(t *testing.T) {
	bank := MediaBank{
		{Name: "stills", Path: "/media/stills", Type: BankTypeImages},
		{Name: "loops", Path: "/media/loops", Type: BankTypeVideos},
		{Name: "", Path: "", Type: "gifs"},
	}

	errs := bank.Validate()
	require.Len(t, errs, 3)

	selected := bank.Select([]int{1, 7, -1, 0})
	require.Len(t, selected, 2)
	assert.Equal(t, "loops", selected[0].Name)
	assert.Equal(t, "stills", selected[1].Name)
}
