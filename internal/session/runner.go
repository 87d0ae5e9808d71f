// Package session implements the cycle-boundary-gated state machine that
// sequences cues, selects playbacks from weighted pools, and coordinates
// audio prefetch with visual transitions.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mesmerkit/mesmerd/internal/audio"
	"github.com/mesmerkit/mesmerd/internal/config"
	"github.com/mesmerkit/mesmerd/internal/events"
	"github.com/mesmerkit/mesmerd/internal/models"
	"github.com/mesmerkit/mesmerd/internal/observability"
	"github.com/mesmerkit/mesmerd/internal/render"
	"github.com/mesmerkit/mesmerd/internal/shuffle"
	"github.com/mesmerkit/mesmerd/internal/themebank"
)

// State is the runner's lifecycle state.
type State string

const (
	StateStopped          State = "stopped"
	StateWaitingForCycle  State = "waiting_for_cycle"
	StateRunning          State = "running"
	StateTransitioningOut State = "transitioning_out"
	StatePaused           State = "paused"
	StateFinished         State = "finished"
)

// pending is the transition armed to commit at the next cycle boundary.
type pending int

const (
	pendingNone pending = iota
	pendingIn
	pendingOut
	pendingSwitch
)

const (
	defaultLeadWindow   = 8 * time.Second
	defaultAwaitTimeout = 150 * time.Millisecond
	defaultMargin       = 2 * time.Second
	defaultReadyTimeout = 500 * time.Millisecond

	awaitPollInterval = 5 * time.Millisecond
)

// Runner drives one session through a cuelist. All methods are called from
// the single tick thread; background decode work lives in the theme bank's
// loader and the audio prefetch worker.
type Runner struct {
	cfg       config.EngineConfig
	cuelist   *models.Cuelist
	cues      []models.Cue
	playbacks map[string]*models.Playback

	bank     *themebank.Bank
	renderer render.Renderer
	engine   *audio.Engine
	prefetch *audio.PrefetchWorker
	bus      *events.Bus
	logger   *slog.Logger
	rng      *rand.Rand

	runID string

	state      State
	priorState State
	pend       pending

	cueIndex int
	entry    *models.PlaybackEntry
	playback *models.Playback
	channels []string

	timeInCue      time.Duration
	timeWaiting    time.Duration
	sinceSelect    time.Duration
	transitionLeft time.Duration
	cycles         int
	lastCycle      uint64
	nextPrefetched bool

	transitionsIn  int
	transitionsOut int
}

// NewRunner wires a runner over its collaborators. The prefetch worker is
// owned by the runner and closed with it.
func NewRunner(cuelist *models.Cuelist, playbacks map[string]*models.Playback, bank *themebank.Bank, renderer render.Renderer, engine *audio.Engine, cfg config.EngineConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	cues := make([]models.Cue, len(cuelist.Cues))
	copy(cues, cuelist.Cues)

	return &Runner{
		cfg:       cfg,
		cuelist:   cuelist,
		cues:      cues,
		playbacks: playbacks,
		bank:      bank,
		renderer:  renderer,
		engine:    engine,
		prefetch:  audio.NewPrefetchWorker(engine, logger),
		bus:       events.NewBus(logger),
		logger:    observability.WithComponent(logger, "session_runner"),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		state:     StateStopped,
	}
}

// WithBus replaces the internal event bus, for callers that fan events out
// to other subscribers.
func (r *Runner) WithBus(bus *events.Bus) *Runner {
	r.bus = bus
	return r
}

// WithRand replaces the selection source, for deterministic tests.
func (r *Runner) WithRand(src rand.Source) *Runner {
	r.rng = rand.New(src)
	return r
}

// State returns the current state.
func (r *Runner) State() State { return r.state }

// RunID returns the identifier of the current run, empty when stopped.
func (r *Runner) RunID() string { return r.runID }

// CurrentCue returns the active cue name, empty when none.
func (r *Runner) CurrentCue() string {
	if r.state == StateStopped || r.state == StateFinished || r.cueIndex >= len(r.cues) {
		return ""
	}
	return r.cues[r.cueIndex].Name
}

// CurrentPlayback returns the active playback name, empty when none.
func (r *Runner) CurrentPlayback() string {
	if r.playback == nil {
		return ""
	}
	return r.playback.Name
}

// Events returns the runner's event bus.
func (r *Runner) Events() *events.Bus { return r.bus }

// Start moves a stopped or finished runner into WAITING_FOR_CYCLE with the
// first cue armed.
func (r *Runner) Start() error {
	if r.state != StateStopped && r.state != StateFinished {
		return fmt.Errorf("cannot start session from state %s", r.state)
	}
	if len(r.cues) == 0 {
		return fmt.Errorf("cuelist %s has no cues", r.cuelist.Name)
	}

	r.runID = ulid.Make().String()
	r.cueIndex = 0
	r.entry = nil
	r.playback = nil
	r.cycles = 0
	r.lastCycle = r.renderer.CycleCount()
	r.renderer.SetActive(true)

	r.armTransitionIn()
	r.publish(events.TypeSessionStarted, "")
	r.logger.Info("session started",
		slog.String("run_id", r.runID),
		slog.String("cuelist", r.cuelist.Name))
	return nil
}

// Stop halts the session from any state. Audio stops immediately, without
// fades, and all reserved budget is released. Calling Stop twice is
// harmless.
func (r *Runner) Stop() {
	if r.state == StateStopped {
		return
	}
	r.pend = pendingNone
	r.engine.StopAll()
	r.channels = nil
	r.renderer.SetActive(false)
	r.setState(StateStopped)
	r.publish(events.TypeSessionStopped, "")
	r.logger.Info("session stopped", slog.String("run_id", r.runID))
}

// Pause freezes session timers. Background decode workers keep running and
// the renderer is not touched.
func (r *Runner) Pause() {
	switch r.state {
	case StateRunning, StateWaitingForCycle, StateTransitioningOut:
		r.priorState = r.state
		r.setState(StatePaused)
		r.publish(events.TypeSessionPaused, "")
	}
}

// Resume returns a paused session to its prior state.
func (r *Runner) Resume() {
	if r.state != StatePaused {
		return
	}
	r.setState(r.priorState)
	r.publish(events.TypeSessionResumed, "")
}

// Close stops the session and its prefetch worker.
func (r *Runner) Close() {
	r.Stop()
	r.prefetch.Close()
}

// Update advances the session by dt. Called once per render tick.
func (r *Runner) Update(dt time.Duration) {
	// Decode results are drained even while paused so in-flight jobs are
	// never lost.
	r.bank.AsyncUpdate()
	r.drainPrefetch()

	switch r.state {
	case StateStopped, StateFinished:
		return
	}

	// Audio plays through a pause: fades and budget release track real
	// playback time even while cue timers are frozen.
	r.engine.Tick(dt)
	if r.state == StatePaused {
		return
	}
	boundaries := r.observeCycles()

	switch r.state {
	case StateWaitingForCycle:
		r.timeWaiting += dt
		r.cycles += boundaries
		if boundaries > 0 {
			r.commitPending()
		} else if r.entry == nil && r.pend == pendingIn {
			// Nothing is on screen yet, so there is no cycle cadence to
			// respect; the first cue starts immediately.
			r.commitPending()
		} else if margin := r.boundaryMargin(); r.timeWaiting >= margin {
			r.logger.Warn("no cycle boundary within margin, forcing transition",
				slog.Duration("waited", r.timeWaiting))
			r.publish(events.TypeForcedBoundary, fmt.Sprintf("waited %s", r.timeWaiting))
			r.commitPending()
		}

	case StateTransitioningOut:
		r.transitionLeft -= dt
		if r.transitionLeft <= 0 {
			r.advanceCue()
		}

	case StateRunning:
		r.timeInCue += dt
		r.sinceSelect += dt
		r.cycles += boundaries
		cue := &r.cues[r.cueIndex]

		if !r.nextPrefetched && cue.Duration()-r.timeInCue <= r.leadWindow() {
			r.prefetchNextCueAudio()
		}

		if r.timeInCue >= cue.Duration() {
			r.pend = pendingOut
			r.setState(StateWaitingForCycle)
			r.timeWaiting = 0
			return
		}

		switch cue.SelectionMode {
		case models.SelectOnMediaCycle:
			if boundaries > 0 {
				r.armSwitch()
			}
		case models.SelectOnTimedInterval:
			if interval := cue.SelectionInterval(); interval > 0 && r.sinceSelect >= interval {
				r.armSwitch()
			}
		}
	}
}

// observeCycles returns how many cycle boundaries elapsed since the last
// tick. A regressing count is a renderer bug and is logged, not applied.
func (r *Runner) observeCycles() int {
	count := r.renderer.CycleCount()
	if count < r.lastCycle {
		r.logger.Error("cycle count regressed",
			slog.Uint64("was", r.lastCycle),
			slog.Uint64("now", count))
		r.lastCycle = count
		return 0
	}
	boundaries := int(count - r.lastCycle)
	r.lastCycle = count
	if boundaries > 0 {
		r.publish(events.TypeCycleBoundary, fmt.Sprintf("cycle %d", count))
	}
	return boundaries
}

func (r *Runner) armTransitionIn() {
	r.pend = pendingIn
	r.timeWaiting = 0
	r.nextPrefetched = false
	r.setState(StateWaitingForCycle)

	// Arm the cue's audio decode right away; by the time the boundary
	// arrives the worker has usually finished.
	for _, track := range r.cues[r.cueIndex].AudioTracks {
		r.prefetch.Enqueue(track)
	}
}

func (r *Runner) armSwitch() {
	r.pend = pendingSwitch
	r.timeWaiting = 0
	r.sinceSelect = 0
	r.setState(StateWaitingForCycle)
}

func (r *Runner) commitPending() {
	pend := r.pend
	r.pend = pendingNone
	switch pend {
	case pendingIn:
		r.commitTransitionIn()
	case pendingOut:
		r.commitTransitionOut()
	case pendingSwitch:
		r.commitSwitch()
	default:
		r.setState(StateRunning)
	}
}

// commitTransitionIn starts the current cue: select a playback, apply it,
// start the cue's audio, zero the timers.
func (r *Runner) commitTransitionIn() {
	cue := &r.cues[r.cueIndex]

	if !r.bank.EnsureReady(r.readyTimeout()) {
		r.logger.Warn("media not ready at cue start, proceeding degraded",
			slog.String("cue", cue.Name))
	}

	r.cycles = 0
	r.selectAndApply(cue)
	r.startCueAudio(cue)

	r.timeInCue = 0
	r.sinceSelect = 0
	r.transitionsIn++
	r.setState(StateRunning)

	r.publish(events.TypeTransitionIn, string(cue.TransitionIn.Type))
	r.publish(events.TypeCueStarted, "")
	r.logger.Info("cue started",
		slog.String("cue", cue.Name),
		slog.String("playback", r.CurrentPlayback()))
}

// commitTransitionOut ends the current cue. The visual transition, if any,
// plays out in TRANSITIONING_OUT before the next cue is armed.
func (r *Runner) commitTransitionOut() {
	cue := &r.cues[r.cueIndex]

	for _, name := range r.channels {
		r.engine.StopChannel(name, true)
	}
	r.channels = nil

	r.transitionsOut++
	r.publish(events.TypeTransitionOut, string(cue.TransitionOut.Type))
	r.publish(events.TypeCueEnded, "")
	r.logger.Info("cue ended", slog.String("cue", cue.Name))

	if d := cue.TransitionOut.Duration(); cue.TransitionOut.Type != models.TransitionNone && d > 0 {
		r.transitionLeft = d
		r.setState(StateTransitioningOut)
		return
	}
	r.advanceCue()
}

// advanceCue moves to the next cue, honoring the cuelist loop mode.
func (r *Runner) advanceCue() {
	r.cueIndex++
	if r.cueIndex < len(r.cues) {
		r.armTransitionIn()
		return
	}

	switch r.cuelist.LoopMode {
	case models.LoopForever:
		r.cueIndex = 0
		r.armTransitionIn()
	case models.LoopPingPong:
		for i, j := 0, len(r.cues)-1; i < j; i, j = i+1, j-1 {
			r.cues[i], r.cues[j] = r.cues[j], r.cues[i]
		}
		r.cueIndex = 0
		r.armTransitionIn()
	default:
		r.finish()
	}
}

func (r *Runner) finish() {
	r.engine.StopAll()
	r.channels = nil
	r.renderer.SetActive(false)
	r.setState(StateFinished)
	r.publish(events.TypeSessionFinished, "")
	r.logger.Info("session finished",
		slog.String("run_id", r.runID),
		slog.Int("transitions_in", r.transitionsIn),
		slog.Int("transitions_out", r.transitionsOut))
}

// commitSwitch swaps the playback within the current cue, preserving
// audio. When every pool entry is still gated by its cycle bounds the
// current playback stays up and the cycle count keeps accruing toward the
// gates.
func (r *Runner) commitSwitch() {
	cue := &r.cues[r.cueIndex]
	entry := r.selectPlayback(cue, false)
	if entry == nil {
		r.sinceSelect = 0
		r.setState(StateRunning)
		return
	}
	r.applyEntry(cue, entry)
	r.cycles = 0
	r.sinceSelect = 0
	r.setState(StateRunning)
	r.publish(events.TypePlaybackSwitch, "")
}

// selectAndApply picks a pool entry for a starting cue and applies its
// playback to the renderer.
func (r *Runner) selectAndApply(cue *models.Cue) {
	entry := r.selectPlayback(cue, true)
	if entry == nil {
		return
	}
	r.applyEntry(cue, entry)
}

func (r *Runner) applyEntry(cue *models.Cue, entry *models.PlaybackEntry) {
	pb, ok := r.playbacks[entry.Playback]
	if !ok {
		r.logger.Error("selected playback not loaded",
			slog.String("playback", entry.Playback))
		return
	}
	r.entry = entry
	r.playback = pb
	r.renderer.ApplyPlayback(pb)
	if pb.Zoom.Mode != "" && pb.Zoom.Mode != models.ZoomNone {
		r.renderer.StartZoomAnimation(1.0, int(cue.Duration()/r.cfg.TickInterval()), pb.Zoom.Mode)
	}
}

// selectPlayback runs the weighted draw over the cue's pool. Entries whose
// min_cycles gate is not yet satisfied are filtered out, and the active
// entry is excluded once it hits max_cycles. At cue start something must
// be chosen, so fallback lets an empty filter refill from the whole pool;
// a mid-cue switch instead returns nil and keeps the current playback.
func (r *Runner) selectPlayback(cue *models.Cue, fallback bool) *models.PlaybackEntry {
	pool := cue.PlaybackPool
	if len(pool) == 0 {
		return nil
	}

	candidates := make([]int, 0, len(pool))
	for i := range pool {
		entry := &pool[i]
		if entry.MinCycles > 0 && r.cycles < entry.MinCycles {
			continue
		}
		if r.entry != nil && entry.Playback == r.entry.Playback &&
			entry.MaxCycles > 0 && r.cycles >= entry.MaxCycles {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		if !fallback {
			return nil
		}
		for i := range pool {
			candidates = append(candidates, i)
		}
	}

	weights := make([]float64, len(candidates))
	for i, idx := range candidates {
		weights[i] = pool[idx].Weight
	}
	pick := shuffle.WeightedPick(r.rng, weights)
	if pick < 0 {
		pick = 0
	}
	return &pool[candidates[pick]]
}

// startCueAudio loads and plays the cue's tracks, waiting a bounded time
// for in-flight decodes before forcing a streaming fallback.
func (r *Runner) startCueAudio(cue *models.Cue) {
	for i, track := range cue.AudioTracks {
		if !r.awaitReady(track.File) {
			r.logger.Warn("audio decode not ready at boundary, forcing stream",
				slog.String("path", track.File))
			r.engine.ForceStream(track.File)
		}

		name := channelName(track, i)
		if err := r.engine.LoadChannel(context.Background(), name, track); err != nil {
			r.logger.Error("failed to load audio channel",
				slog.String("channel", name),
				slog.String("error", err.Error()))
			continue
		}
		r.engine.Play(name)
		r.channels = append(r.channels, name)
	}
}

// awaitReady polls for an in-flight decode, bounded by the configured
// await timeout. This is the only blocking wait on the tick thread.
func (r *Runner) awaitReady(path string) bool {
	deadline := time.Now().Add(r.awaitTimeout())
	for {
		if r.engine.IsReady(path) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(awaitPollInterval)
	}
}

// prefetchNextCueAudio arms the upcoming cue's decode inside the lead
// window so the transition is gapless.
func (r *Runner) prefetchNextCueAudio() {
	r.nextPrefetched = true
	next, ok := r.peekNextCue()
	if !ok {
		return
	}
	for _, track := range next.AudioTracks {
		if !r.prefetch.Enqueue(track) {
			// Queue full; retry on a later tick.
			r.nextPrefetched = false
			return
		}
	}
}

// peekNextCue returns the cue that will follow the current one, accounting
// for loop mode.
func (r *Runner) peekNextCue() (*models.Cue, bool) {
	next := r.cueIndex + 1
	if next < len(r.cues) {
		return &r.cues[next], true
	}
	switch r.cuelist.LoopMode {
	case models.LoopForever:
		return &r.cues[0], true
	case models.LoopPingPong:
		// After reversal the current last cue runs again first.
		return &r.cues[len(r.cues)-1], true
	}
	return nil, false
}

func (r *Runner) drainPrefetch() {
	for _, result := range r.prefetch.Completed() {
		if result.Err != nil {
			observability.WithError(r.logger, result.Err).Warn(
				"audio prefetch finished with error",
				slog.String("path", result.Track.File))
		}
	}
}

func (r *Runner) setState(s State) {
	r.state = s
}

func (r *Runner) publish(t events.Type, detail string) {
	ev := events.SessionEvent{
		Type:     t,
		RunID:    r.runID,
		Playback: r.CurrentPlayback(),
		State:    string(r.state),
		Detail:   detail,
	}
	if r.cueIndex < len(r.cues) {
		ev.Cue = r.cues[r.cueIndex].Name
	}
	r.bus.Publish(ev)
}

func (r *Runner) leadWindow() time.Duration {
	if r.cfg.AudioLeadWindow > 0 {
		return r.cfg.AudioLeadWindow
	}
	return defaultLeadWindow
}

func (r *Runner) awaitTimeout() time.Duration {
	if r.cfg.AudioAwaitTimeout > 0 {
		return r.cfg.AudioAwaitTimeout
	}
	return defaultAwaitTimeout
}

func (r *Runner) boundaryMargin() time.Duration {
	if r.cfg.BoundaryMargin > 0 {
		return r.cfg.BoundaryMargin
	}
	return defaultMargin
}

func (r *Runner) readyTimeout() time.Duration {
	if r.cfg.ReadyTimeout > 0 {
		return r.cfg.ReadyTimeout
	}
	return defaultReadyTimeout
}

func channelName(track models.AudioTrack, index int) string {
	if track.Role.Valid() && track.Role != models.RoleGeneric {
		return string(track.Role)
	}
	return fmt.Sprintf("generic_%d", index)
}
