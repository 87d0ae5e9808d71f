package session

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesmerkit/mesmerd/internal/audio"
	"github.com/mesmerkit/mesmerd/internal/config"
	"github.com/mesmerkit/mesmerd/internal/events"
	"github.com/mesmerkit/mesmerd/internal/media"
	"github.com/mesmerkit/mesmerd/internal/models"
	"github.com/mesmerkit/mesmerd/internal/render"
	"github.com/mesmerkit/mesmerd/internal/themebank"
)

// stubDecoder produces a short silent buffer for any path.
type stubDecoder struct{}

func (stubDecoder) Probe(path string) (audio.ProbeResult, error) {
	return audio.ProbeResult{Duration: time.Second, Size: 1 << 20}, nil
}

func (stubDecoder) Decode(ctx context.Context, path string) (*audio.Sound, error) {
	return &audio.Sound{Path: path, PCM: make([]byte, 1024), Duration: time.Second}, nil
}

func (stubDecoder) OpenStream(ctx context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func instantImage(path string) (*media.ImageData, error) {
	return media.NewImageData(path, 2, 2, make([]byte, 16))
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		TickRate:          60,
		AudioLeadWindow:   2 * time.Second,
		AudioAwaitTimeout: 50 * time.Millisecond,
		BoundaryMargin:    500 * time.Millisecond,
		ReadyTimeout:      100 * time.Millisecond,
	}
}

func testPlaybacks() map[string]*models.Playback {
	return map[string]*models.Playback{
		"spiral_fast": {
			Name:   "spiral_fast",
			Spiral: models.SpiralSettings{RotationSpeed: 0.5, Opacity: 1.0},
			Media:  models.MediaSettings{Mode: models.MediaModeImages, CycleSpeed: 100, UseThemeBank: true},
		},
		"spiral_slow": {
			Name:   "spiral_slow",
			Spiral: models.SpiralSettings{RotationSpeed: 0.1, Opacity: 1.0},
			Media:  models.MediaSettings{Mode: models.MediaModeImages, CycleSpeed: 100, UseThemeBank: true},
		},
	}
}

func testBank(t *testing.T) *themebank.Bank {
	t.Helper()
	collection := &models.ThemeCollection{Themes: []models.ThemeConfig{{
		Name:    "ocean",
		Enabled: true,
		Images:  []string{"a.png", "b.png", "c.png"},
	}}}
	loader := media.NewAsyncImageLoaderWithDecode(8, nil, instantImage)
	bank := themebank.NewWithLoader(collection, themebank.Config{ImageCacheSize: 6}, nil, loader)
	t.Cleanup(bank.Close)
	return bank
}

type harness struct {
	runner   *Runner
	renderer *render.Headless
	engine   *audio.Engine
	sub      *events.Subscriber
}

func newHarness(t *testing.T, cuelist *models.Cuelist) *harness {
	t.Helper()
	renderer := render.NewHeadless(nil)
	engine := audio.NewEngine(config.AudioConfig{
		SoundCacheSize:      4,
		StreamThreshold:     config.ByteSize(64 << 20),
		SlowDecodeThreshold: time.Second,
		Budgets:             config.BudgetConfig{HypnoSeconds: 10, BackgroundSeconds: 10, GenericSeconds: 5},
	}, stubDecoder{}, audio.NewNullOutput(), nil)

	runner := NewRunner(cuelist, testPlaybacks(), testBank(t), renderer, engine, testEngineConfig(), nil).
		WithRand(rand.NewPCG(11, 23))
	t.Cleanup(runner.Close)

	sub := runner.Events().Subscribe(4096)
	return &harness{runner: runner, renderer: renderer, engine: engine, sub: sub}
}

// run ticks simulated time until the predicate holds or the time budget is
// spent.
func (h *harness) run(simBudget time.Duration, until func() bool) {
	const tick = 10 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < simBudget; elapsed += tick {
		h.renderer.Advance(tick)
		h.runner.Update(tick)
		if until != nil && until() {
			return
		}
	}
}

func (h *harness) eventCounts() map[events.Type]int {
	counts := make(map[events.Type]int)
	for {
		select {
		case ev := <-h.sub.Events:
			counts[ev.Type]++
		default:
			return counts
		}
	}
}

func (h *harness) cueStarts() []string {
	var names []string
	for {
		select {
		case ev := <-h.sub.Events:
			if ev.Type == events.TypeCueStarted {
				names = append(names, ev.Cue)
			}
		default:
			return names
		}
	}
}

func onceCuelist() *models.Cuelist {
	return &models.Cuelist{
		Name:     "test",
		LoopMode: models.LoopOnce,
		Cues: []models.Cue{
			{
				Name:            "induction",
				DurationSeconds: 5,
				PlaybackPool:    []models.PlaybackEntry{{Playback: "spiral_fast", Weight: 1}},
				SelectionMode:   models.SelectOnCueStart,
			},
			{
				Name:            "deepener",
				DurationSeconds: 3,
				PlaybackPool:    []models.PlaybackEntry{{Playback: "spiral_slow", Weight: 1}},
				SelectionMode:   models.SelectOnCueStart,
			},
		},
	}
}

func TestOnceCuelistRunsToCompletion(t *testing.T) {
	h := newHarness(t, onceCuelist())
	require.NoError(t, h.runner.Start())

	h.run(15*time.Second, func() bool { return h.runner.State() == StateFinished })

	require.Equal(t, StateFinished, h.runner.State())
	counts := h.eventCounts()
	assert.Equal(t, 2, counts[events.TypeTransitionIn], "one transition-in per cue")
	assert.Equal(t, 2, counts[events.TypeTransitionOut], "one transition-out per cue")
	assert.Equal(t, 1, counts[events.TypeSessionFinished])
}

func TestCuesVisitedInOrder(t *testing.T) {
	h := newHarness(t, onceCuelist())
	require.NoError(t, h.runner.Start())

	h.run(15*time.Second, func() bool { return h.runner.State() == StateFinished })

	assert.Equal(t, []string{"induction", "deepener"}, h.cueStarts())
}

func TestStartRejectedWhileRunning(t *testing.T) {
	h := newHarness(t, onceCuelist())
	require.NoError(t, h.runner.Start())
	assert.Error(t, h.runner.Start())
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, onceCuelist())
	require.NoError(t, h.runner.Start())
	h.run(time.Second, nil)

	h.runner.Stop()
	require.Equal(t, StateStopped, h.runner.State())
	h.runner.Stop()
	assert.Equal(t, StateStopped, h.runner.State())

	counts := h.eventCounts()
	assert.Equal(t, 1, counts[events.TypeSessionStopped], "second stop publishes nothing")
	assert.Equal(t, 0, h.engine.ChannelCount())
	assert.False(t, h.renderer.Active())
}

func TestPauseFreezesCueTimers(t *testing.T) {
	h := newHarness(t, onceCuelist())
	require.NoError(t, h.runner.Start())
	h.run(time.Second, nil)
	require.Equal(t, StateRunning, h.runner.State())

	h.runner.Pause()
	require.Equal(t, StatePaused, h.runner.State())

	// Far more simulated time than the whole cuelist; nothing may advance.
	h.run(20*time.Second, nil)
	require.Equal(t, StatePaused, h.runner.State())
	assert.Equal(t, "induction", h.runner.CurrentCue())

	h.runner.Resume()
	require.Equal(t, StateRunning, h.runner.State())
	h.run(15*time.Second, func() bool { return h.runner.State() == StateFinished })
	assert.Equal(t, StateFinished, h.runner.State())
}

func TestForcedTransitionWhenRendererStalls(t *testing.T) {
	h := newHarness(t, onceCuelist())
	require.NoError(t, h.runner.Start())

	// Tick the runner without advancing the renderer: cycle boundaries
	// never arrive, so every transition must eventually be forced.
	const tick = 10 * time.Millisecond
	for i := 0; i < 2000 && h.runner.State() != StateFinished; i++ {
		h.runner.Update(tick)
	}

	require.Equal(t, StateFinished, h.runner.State())
	counts := h.eventCounts()
	assert.Greater(t, counts[events.TypeForcedBoundary], 0)
	assert.Equal(t, 2, counts[events.TypeTransitionOut])
}

func TestLoopModeRestartsCuelist(t *testing.T) {
	cl := onceCuelist()
	cl.LoopMode = models.LoopForever
	cl.Cues[0].DurationSeconds = 0.5
	cl.Cues[1].DurationSeconds = 0.5
	h := newHarness(t, cl)
	require.NoError(t, h.runner.Start())

	h.run(5*time.Second, nil)

	starts := h.cueStarts()
	require.GreaterOrEqual(t, len(starts), 4)
	assert.Equal(t, []string{"induction", "deepener", "induction", "deepener"}, starts[:4])
	assert.NotEqual(t, StateFinished, h.runner.State())
}

func TestPingPongReversesCueOrder(t *testing.T) {
	cl := onceCuelist()
	cl.LoopMode = models.LoopPingPong
	cl.Cues[0].DurationSeconds = 0.5
	cl.Cues[1].DurationSeconds = 0.5
	h := newHarness(t, cl)
	require.NoError(t, h.runner.Start())

	h.run(5*time.Second, nil)

	starts := h.cueStarts()
	require.GreaterOrEqual(t, len(starts), 4)
	assert.Equal(t, []string{"induction", "deepener", "deepener", "induction"}, starts[:4])
}

func TestCueAudioStartsAndStops(t *testing.T) {
	cl := onceCuelist()
	cl.Cues[0].AudioTracks = []models.AudioTrack{{
		File:   "/audio/voice.mp3",
		Volume: 1.0,
		Role:   models.RoleHypno,
	}}
	h := newHarness(t, cl)
	require.NoError(t, h.runner.Start())

	h.run(time.Second, nil)
	require.Equal(t, StateRunning, h.runner.State())
	assert.True(t, h.engine.Playing("hypno"), "cue audio plays while the cue runs")

	h.run(15*time.Second, func() bool { return h.runner.State() == StateFinished })
	assert.Equal(t, 0, h.engine.ChannelCount(), "audio released when the session finishes")
}

func TestSelectPlaybackHonorsMinCycles(t *testing.T) {
	h := newHarness(t, onceCuelist())
	cue := &models.Cue{
		Name: "mixed",
		PlaybackPool: []models.PlaybackEntry{
			{Playback: "spiral_fast", Weight: 1, MinCycles: 0},
			{Playback: "spiral_slow", Weight: 100, MinCycles: 3},
		},
	}

	// Two cycles in: only the ungated entry is eligible, regardless of its
	// lower weight.
	h.runner.cycles = 2
	for i := 0; i < 50; i++ {
		entry := h.runner.selectPlayback(cue, true)
		require.NotNil(t, entry)
		assert.Equal(t, "spiral_fast", entry.Playback)
	}
}

func TestSelectPlaybackFallsBackToFullPool(t *testing.T) {
	h := newHarness(t, onceCuelist())
	cue := &models.Cue{
		Name: "gated",
		PlaybackPool: []models.PlaybackEntry{
			{Playback: "spiral_fast", Weight: 1, MinCycles: 3},
			{Playback: "spiral_slow", Weight: 1, MinCycles: 3},
		},
	}

	// No entry satisfies min_cycles. At cue start the draw must fall back
	// to the whole pool rather than deadlock; a mid-cue switch must not.
	h.runner.cycles = 2
	entry := h.runner.selectPlayback(cue, true)
	require.NotNil(t, entry)
	assert.Nil(t, h.runner.selectPlayback(cue, false))
}

func TestMaxCyclesExcludesActiveEntry(t *testing.T) {
	h := newHarness(t, onceCuelist())
	cue := &models.Cue{
		Name: "variety",
		PlaybackPool: []models.PlaybackEntry{
			{Playback: "spiral_fast", Weight: 100, MaxCycles: 4},
			{Playback: "spiral_slow", Weight: 1},
		},
	}

	h.runner.entry = &cue.PlaybackPool[0]
	h.runner.cycles = 4
	for i := 0; i < 50; i++ {
		entry := h.runner.selectPlayback(cue, true)
		require.NotNil(t, entry)
		assert.Equal(t, "spiral_slow", entry.Playback,
			"an entry at max_cycles must be excluded from re-selection")
	}
}

func TestSwitchBlockedUntilMinCyclesMet(t *testing.T) {
	cl := &models.Cuelist{
		Name:     "gated-switching",
		LoopMode: models.LoopOnce,
		Cues: []models.Cue{{
			Name:                     "slow_build",
			DurationSeconds:          2,
			SelectionMode:            models.SelectOnTimedInterval,
			SelectionIntervalSeconds: 0.1,
			PlaybackPool: []models.PlaybackEntry{
				{Playback: "spiral_fast", Weight: 1, MinCycles: 1000},
				{Playback: "spiral_slow", Weight: 1, MinCycles: 1000},
			},
		}},
	}
	h := newHarness(t, cl)
	require.NoError(t, h.runner.Start())

	h.run(10*time.Second, func() bool { return h.runner.State() == StateFinished })

	// The cue re-selects every 0.1s, but with every entry gated far above
	// any reachable cycle count the playback on screen must never change
	// after the one chosen at cue start.
	counts := h.eventCounts()
	assert.Equal(t, 0, counts[events.TypePlaybackSwitch],
		"gated pool must not allow a switch")
}

func TestPauseKeepsAudioTicking(t *testing.T) {
	cl := onceCuelist()
	cl.Cues[0].AudioTracks = []models.AudioTrack{{
		File:   "/audio/voice.mp3",
		Volume: 1.0,
		Role:   models.RoleHypno,
	}}
	h := newHarness(t, cl)
	require.NoError(t, h.runner.Start())

	h.run(100*time.Millisecond, nil)
	require.Equal(t, StateRunning, h.runner.State())
	before := h.engine.Budgets().Reserved(models.RoleHypno)
	require.Greater(t, before, 0.0)

	h.runner.Pause()
	h.run(5*time.Second, nil)

	// Cue timers freeze on pause, but the track keeps playing in real
	// time, so its reserved budget keeps draining.
	require.Equal(t, StatePaused, h.runner.State())
	assert.True(t, h.engine.Playing("hypno"))
	assert.Less(t, h.engine.Budgets().Reserved(models.RoleHypno), before)
}

func TestTimedIntervalSwitches(t *testing.T) {
	cl := &models.Cuelist{
		Name:     "switching",
		LoopMode: models.LoopOnce,
		Cues: []models.Cue{{
			Name:                     "strobe",
			DurationSeconds:          3,
			SelectionMode:            models.SelectOnTimedInterval,
			SelectionIntervalSeconds: 0.5,
			PlaybackPool: []models.PlaybackEntry{
				{Playback: "spiral_fast", Weight: 1},
				{Playback: "spiral_slow", Weight: 1},
			},
		}},
	}
	h := newHarness(t, cl)
	require.NoError(t, h.runner.Start())

	h.run(10*time.Second, func() bool { return h.runner.State() == StateFinished })

	counts := h.eventCounts()
	assert.GreaterOrEqual(t, counts[events.TypePlaybackSwitch], 3,
		"a 3s cue with a 0.5s selection interval re-selects repeatedly")
}
