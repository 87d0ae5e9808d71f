// Package daemon owns the long-lived session engine: the theme bank, the
// audio engine, the headless renderer that provides cycle cadence, and the
// tick loop that drives whichever session is active.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/mesmerkit/mesmerd/internal/audio"
	"github.com/mesmerkit/mesmerd/internal/config"
	"github.com/mesmerkit/mesmerd/internal/events"
	"github.com/mesmerkit/mesmerd/internal/models"
	"github.com/mesmerkit/mesmerd/internal/observability"
	"github.com/mesmerkit/mesmerd/internal/render"
	"github.com/mesmerkit/mesmerd/internal/session"
	"github.com/mesmerkit/mesmerd/internal/themebank"
)

// Status is a point-in-time snapshot of the daemon.
type Status struct {
	State     string    `json:"state"`
	RunID     string    `json:"run_id,omitempty"`
	Cuelist   string    `json:"cuelist,omitempty"`
	Cue       string    `json:"cue,omitempty"`
	Playback  string    `json:"playback,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Daemon hosts sessions over a shared theme bank and audio engine.
type Daemon struct {
	mu sync.Mutex

	cfg    *config.Config
	logger *slog.Logger

	bank      *themebank.Bank
	engine    *audio.Engine
	renderer  *render.Headless
	playbacks map[string]*models.Playback
	bus       *events.Bus

	runner      *session.Runner
	cuelistName string
	startedAt   time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads assets and builds the daemon. The audio output falls back to
// the null backend when no device is available or audio is disabled.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	loadDone := observability.TimedOperation(context.Background(), logger, "load_assets")
	collection, err := models.LoadThemeCollection(cfg.Assets.ThemesFile)
	if err != nil {
		return nil, fmt.Errorf("loading themes: %w", err)
	}
	if errs := collection.Validate(); errs.OrNil() != nil {
		return nil, fmt.Errorf("invalid theme collection: %w", errs.OrNil())
	}

	playbacks, err := models.LoadPlaybackDir(cfg.Assets.PlaybackDir)
	if err != nil {
		return nil, fmt.Errorf("loading playbacks: %w", err)
	}
	loadDone()

	bank := themebank.New(collection, themebank.Config{
		ImageCacheSize:     cfg.Cache.ImageCacheSize,
		LoaderQueueSize:    cfg.Cache.LoaderQueueSize,
		LookaheadCount:     cfg.Cache.LookaheadCount,
		LookaheadBatchSize: cfg.Cache.LookaheadBatchSize,
		RecencyWindow:      cfg.Cache.RecencyWindow,
		SwitchCooldown:     cfg.Cache.SwitchCooldown,
	}, logger)

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		bank.Close()
		return nil, err
	}

	return &Daemon{
		cfg:       cfg,
		logger:    observability.WithComponent(logger, "daemon"),
		bank:      bank,
		engine:    engine,
		renderer:  render.NewHeadless(logger),
		playbacks: playbacks,
		bus:       events.NewBus(logger),
		startedAt: time.Now(),
	}, nil
}

func buildEngine(cfg *config.Config, logger *slog.Logger) (*audio.Engine, error) {
	var output audio.Output
	if cfg.Audio.Disabled {
		output = audio.NewNullOutput()
	} else {
		var err error
		output, err = audio.NewOtoOutput()
		if err != nil {
			observability.WithError(logger, err).Warn("no audio device, output disabled")
			output = audio.NewNullOutput()
		}
	}

	decoder, err := audio.NewFFmpegDecoder(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath)
	if err != nil {
		return nil, fmt.Errorf("audio decoder unavailable: %w", err)
	}
	return audio.NewEngine(cfg.Audio, decoder, output, logger), nil
}

// Start launches the tick loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return fmt.Errorf("daemon already started")
	}
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.tickLoop(ctx)

	d.logger.Info("daemon started", slog.Int("tick_rate", d.cfg.Engine.TickRate))
	return nil
}

// Stop halts the active session and the tick loop.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		d.wg.Wait()
	}

	d.mu.Lock()
	if d.runner != nil {
		d.runner.Close()
		d.runner = nil
	}
	d.mu.Unlock()

	d.bank.Close()
	d.engine.Close()
	d.logger.Info("daemon stopped")
}

func (d *Daemon) tickLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := d.cfg.Engine.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			d.tick(dt)
		}
	}
}

func (d *Daemon) tick(dt time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.renderer.Advance(dt)
	if d.runner != nil {
		d.runner.Update(dt)
	}
}

// StartSession loads, validates, and starts a cuelist. The override, when
// positive, replaces every cue's duration; used by bounded test runs.
func (d *Daemon) StartSession(path string, override time.Duration) error {
	cuelist, err := models.LoadCuelist(path)
	if err != nil {
		return err
	}
	if errs := cuelist.Validate(); errs.OrNil() != nil {
		return fmt.Errorf("invalid cuelist %s: %w", path, errs.OrNil())
	}
	if override > 0 {
		for i := range cuelist.Cues {
			cuelist.Cues[i].DurationSeconds = override.Seconds()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.runner != nil {
		switch d.runner.State() {
		case session.StateStopped, session.StateFinished:
			d.runner.Close()
			d.runner = nil
		default:
			return fmt.Errorf("session already active in state %s", d.runner.State())
		}
	}

	runner := session.NewRunner(cuelist, d.playbacks, d.bank, d.renderer, d.engine, d.cfg.Engine, d.logger).
		WithBus(d.bus)
	if err := runner.Start(); err != nil {
		runner.Close()
		return err
	}
	d.runner = runner
	d.cuelistName = filepath.Base(path)
	return nil
}

// PauseSession pauses the active session.
func (d *Daemon) PauseSession() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runner == nil || d.runner.State() != session.StateRunning && d.runner.State() != session.StateWaitingForCycle {
		return fmt.Errorf("no pausable session")
	}
	d.runner.Pause()
	return nil
}

// ResumeSession resumes a paused session.
func (d *Daemon) ResumeSession() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runner == nil || d.runner.State() != session.StatePaused {
		return fmt.Errorf("no paused session")
	}
	d.runner.Resume()
	return nil
}

// StopSession stops the active session. Stopping when nothing runs is not
// an error.
func (d *Daemon) StopSession() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runner != nil {
		d.runner.Stop()
	}
}

// Status snapshots the daemon state.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{State: string(session.StateStopped), StartedAt: d.startedAt}
	if d.runner != nil {
		st.State = string(d.runner.State())
		st.RunID = d.runner.RunID()
		st.Cuelist = d.cuelistName
		st.Cue = d.runner.CurrentCue()
		st.Playback = d.runner.CurrentPlayback()
	}
	return st
}

// Events returns the shared event bus.
func (d *Daemon) Events() *events.Bus { return d.bus }

// SessionState returns the current session state string.
func (d *Daemon) SessionState() string {
	return d.Status().State
}
