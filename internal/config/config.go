// Package config provides configuration management for mesmerd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultTickRate             = 60
	defaultImageCacheSize       = 30
	defaultLoaderQueueSize      = 8
	defaultLookaheadCount       = 12
	defaultLookaheadBatchSize   = 4
	defaultRecencyWindow        = 100
	defaultSwitchCooldown       = 500
	defaultSoundCacheSize       = 16
	defaultSlowDecodeThreshold  = 350 * time.Millisecond
	defaultAudioAwaitTimeout    = 150 * time.Millisecond
	defaultAudioLeadWindow      = 8 * time.Second
	defaultBoundaryMargin       = 2 * time.Second
	defaultReadyTimeout         = 3 * time.Second
	defaultHypnoBudgetSeconds   = 10.0
	defaultBackgroundBudgetSecs = 10.0
	defaultGenericBudgetSeconds = 5.0
	defaultServerPort           = 8573
	defaultShutdownTimeout      = 10 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Engine    EngineConfig     `mapstructure:"engine"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Audio     AudioConfig      `mapstructure:"audio"`
	Assets    AssetsConfig     `mapstructure:"assets"`
	Server    ServerConfig     `mapstructure:"server"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Schedules []ScheduleConfig `mapstructure:"schedules"`
}

// EngineConfig holds session engine timing configuration.
type EngineConfig struct {
	// TickRate is the scheduler update rate in Hz.
	TickRate int `mapstructure:"tick_rate"`
	// AudioLeadWindow is how long before a cue ends that the next cue's
	// audio prefetch is requested.
	AudioLeadWindow time.Duration `mapstructure:"audio_lead_window"`
	// AudioAwaitTimeout bounds the wait for an in-flight audio decode at a
	// transition boundary before forcing a streaming fallback.
	AudioAwaitTimeout time.Duration `mapstructure:"audio_await_timeout"`
	// BoundaryMargin is how long past a cue's duration the runner waits for
	// a cycle boundary before forcing the transition.
	BoundaryMargin time.Duration `mapstructure:"boundary_margin"`
	// ReadyTimeout bounds EnsureReady polling before a cue starts degraded.
	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
}

// CacheConfig holds media cache and prefetch tuning.
type CacheConfig struct {
	// ImageCacheSize is the global decoded-image budget in slots, split
	// across enabled themes.
	ImageCacheSize int `mapstructure:"image_cache_size"`
	// LoaderQueueSize bounds the async image decode request queue.
	LoaderQueueSize int `mapstructure:"loader_queue_size"`
	// LookaheadCount caps total outstanding prefetch requests per theme.
	LookaheadCount int `mapstructure:"lookahead_count"`
	// LookaheadBatchSize is how many prefetch requests are issued per tick.
	LookaheadBatchSize int `mapstructure:"lookahead_batch_size"`
	// RecencyWindow is the size of the global last-served identity window
	// used for anti-repetition weighting.
	RecencyWindow int `mapstructure:"recency_window"`
	// SwitchCooldown is the number of async updates between theme switches.
	SwitchCooldown int `mapstructure:"switch_cooldown"`
}

// AudioConfig holds audio engine configuration.
type AudioConfig struct {
	// SoundCacheSize is the decoded-sound LRU capacity.
	SoundCacheSize int `mapstructure:"sound_cache_size"`
	// StreamThreshold forces streaming for files above this size.
	// Supports human-readable values like "64MB".
	StreamThreshold ByteSize `mapstructure:"stream_threshold"`
	// SlowDecodeThreshold marks a path force-stream when a decode takes
	// longer than this.
	SlowDecodeThreshold time.Duration `mapstructure:"slow_decode_threshold"`
	// Budgets are the per-role decoded-audio seconds budgets.
	Budgets BudgetConfig `mapstructure:"budgets"`
	// FFmpegPath and FFprobePath override binary discovery (empty = PATH).
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	// Disabled swaps in the null output backend (no device).
	Disabled bool `mapstructure:"disabled"`
}

// BudgetConfig holds per-role decoded-audio seconds budgets.
type BudgetConfig struct {
	HypnoSeconds      float64 `mapstructure:"hypno_seconds"`
	BackgroundSeconds float64 `mapstructure:"background_seconds"`
	GenericSeconds    float64 `mapstructure:"generic_seconds"`
}

// AssetsConfig holds asset file locations.
type AssetsConfig struct {
	// ThemesFile is the theme collection JSON path.
	ThemesFile string `mapstructure:"themes_file"`
	// PlaybackDir is the directory holding playback config JSON files.
	PlaybackDir string `mapstructure:"playback_dir"`
	// MediaBankFile is the shared media bank registry path.
	MediaBankFile string `mapstructure:"media_bank_file"`
}

// ServerConfig holds control API configuration (serve mode).
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ScheduleConfig starts a cuelist on a cron schedule in serve mode.
type ScheduleConfig struct {
	Cron    string `mapstructure:"cron"`
	Cuelist string `mapstructure:"cuelist"`
}

// SetDefaults registers default values on the given Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("engine.tick_rate", defaultTickRate)
	v.SetDefault("engine.audio_lead_window", defaultAudioLeadWindow)
	v.SetDefault("engine.audio_await_timeout", defaultAudioAwaitTimeout)
	v.SetDefault("engine.boundary_margin", defaultBoundaryMargin)
	v.SetDefault("engine.ready_timeout", defaultReadyTimeout)

	v.SetDefault("cache.image_cache_size", defaultImageCacheSize)
	v.SetDefault("cache.loader_queue_size", defaultLoaderQueueSize)
	v.SetDefault("cache.lookahead_count", defaultLookaheadCount)
	v.SetDefault("cache.lookahead_batch_size", defaultLookaheadBatchSize)
	v.SetDefault("cache.recency_window", defaultRecencyWindow)
	v.SetDefault("cache.switch_cooldown", defaultSwitchCooldown)

	v.SetDefault("audio.sound_cache_size", defaultSoundCacheSize)
	v.SetDefault("audio.stream_threshold", "64MB")
	v.SetDefault("audio.slow_decode_threshold", defaultSlowDecodeThreshold)
	v.SetDefault("audio.budgets.hypno_seconds", defaultHypnoBudgetSeconds)
	v.SetDefault("audio.budgets.background_seconds", defaultBackgroundBudgetSecs)
	v.SetDefault("audio.budgets.generic_seconds", defaultGenericBudgetSeconds)

	v.SetDefault("assets.themes_file", "themes.json")
	v.SetDefault("assets.playback_dir", "playbacks")
	v.SetDefault("assets.media_bank_file", "mediabank.json")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")
}

// Load unmarshals configuration from the given Viper instance and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	// TextUnmarshallerHookFunc lets ByteSize parse "64MB" style values;
	// the duration and slice hooks are viper's defaults, restated because
	// DecodeHook replaces them.
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants. All problems are joined so the
// user sees every issue at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Engine.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("engine.tick_rate must be positive, got %d", c.Engine.TickRate))
	}
	if c.Cache.ImageCacheSize < 1 {
		errs = append(errs, fmt.Errorf("cache.image_cache_size must be at least 1, got %d", c.Cache.ImageCacheSize))
	}
	if c.Cache.LoaderQueueSize < 1 {
		errs = append(errs, fmt.Errorf("cache.loader_queue_size must be at least 1, got %d", c.Cache.LoaderQueueSize))
	}
	if c.Cache.RecencyWindow < 1 {
		errs = append(errs, fmt.Errorf("cache.recency_window must be at least 1, got %d", c.Cache.RecencyWindow))
	}
	if c.Audio.SoundCacheSize < 1 {
		errs = append(errs, fmt.Errorf("audio.sound_cache_size must be at least 1, got %d", c.Audio.SoundCacheSize))
	}
	if c.Audio.StreamThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.stream_threshold must not be negative"))
	}
	for _, budget := range []struct {
		name  string
		value float64
	}{
		{"hypno_seconds", c.Audio.Budgets.HypnoSeconds},
		{"background_seconds", c.Audio.Budgets.BackgroundSeconds},
		{"generic_seconds", c.Audio.Budgets.GenericSeconds},
	} {
		if budget.value < 0 {
			errs = append(errs, fmt.Errorf("audio.budgets.%s must not be negative, got %g", budget.name, budget.value))
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	for i, sched := range c.Schedules {
		if sched.Cron == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: cron expression is required", i))
		}
		if sched.Cuelist == "" {
			errs = append(errs, fmt.Errorf("schedules[%d]: cuelist path is required", i))
		}
	}

	return errors.Join(errs...)
}

// TickInterval returns the duration of a single engine tick.
func (c *EngineConfig) TickInterval() time.Duration {
	if c.TickRate <= 0 {
		return time.Second / defaultTickRate
	}
	return time.Second / time.Duration(c.TickRate)
}
