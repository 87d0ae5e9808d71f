package audio

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/mesmerkit/mesmerd/internal/config"
	"github.com/mesmerkit/mesmerd/internal/models"
	"github.com/mesmerkit/mesmerd/internal/observability"
)

// DefaultSoundCacheSize bounds the decoded-sound LRU when the config does
// not say otherwise.
const DefaultSoundCacheSize = 16

// cachedSound is one decoded LRU entry. reservedLeft is the budget still
// held for it; playback releases it second by second.
type cachedSound struct {
	sound        *Sound
	role         models.AudioRole
	reservedLeft float64
	element      *list.Element
}

// channel is one named playing track.
type channel struct {
	track     models.AudioTrack
	key       string
	player    Player
	stream    io.Closer
	streaming bool
	playing   bool
	fadeInEl  time.Duration
	fadingOut bool
	fadeOutEl time.Duration
}

// Engine owns decoded audio memory and playback channels. Decoding is
// bounded by per-role seconds budgets; anything over budget, over the byte
// threshold, or previously observed to decode slowly streams from disk
// instead.
type Engine struct {
	mu sync.Mutex

	decoder Decoder
	output  Output
	ledger  *Ledger
	logger  *slog.Logger

	capacity        int
	streamThreshold int64
	slowDecode      time.Duration

	cache       map[string]*cachedSound
	order       *list.List
	forceStream map[string]bool
	preparing   map[string]bool

	channels map[string]*channel
}

// NewEngine creates an audio engine.
func NewEngine(cfg config.AudioConfig, decoder Decoder, output Output, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.SoundCacheSize
	if capacity < 1 {
		capacity = DefaultSoundCacheSize
	}
	return &Engine{
		decoder:         decoder,
		output:          output,
		ledger:          NewLedger(cfg.Budgets),
		logger:          observability.WithComponent(logger, "audio_engine"),
		capacity:        capacity,
		streamThreshold: int64(cfg.StreamThreshold),
		slowDecode:      cfg.SlowDecodeThreshold,
		cache:           make(map[string]*cachedSound),
		order:           list.New(),
		forceStream:     make(map[string]bool),
		preparing:       make(map[string]bool),
		channels:        make(map[string]*channel),
	}
}

// Key normalizes a file path so the same file never occupies two cache
// slots.
func Key(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Prepare probes a track and either decodes it into the cache or marks it
// for streaming. Safe to call from the prefetch worker; the decode itself
// runs outside the engine lock.
func (e *Engine) Prepare(ctx context.Context, track models.AudioTrack) error {
	key := Key(track.File)
	role := track.Role
	if !role.Valid() {
		role = models.RoleGeneric
	}

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok {
		e.order.MoveToFront(entry.element)
		e.mu.Unlock()
		return nil
	}
	if e.forceStream[key] || e.preparing[key] {
		e.mu.Unlock()
		return nil
	}
	e.preparing[key] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.preparing, key)
		e.mu.Unlock()
	}()

	probe, err := e.decoder.Probe(track.File)
	if err != nil {
		// Probe can fail with the on-disk size still known; the size
		// heuristic below covers the missing duration. Only an unreadable
		// file goes straight to streaming.
		if probe.Size <= 0 {
			e.logger.Warn("audio probe failed, streaming",
				slog.String("path", track.File),
				slog.String("error", err.Error()))
			e.markStreaming(key)
			return nil
		}
		e.logger.Warn("audio probe failed, estimating from file size",
			slog.String("path", track.File),
			slog.String("error", err.Error()))
		probe.Duration = 0
	}

	if e.streamThreshold > 0 && probe.Size > e.streamThreshold {
		e.logger.Debug("file over stream threshold",
			slog.String("path", track.File),
			slog.Int64("size", probe.Size))
		e.markStreaming(key)
		return nil
	}

	seconds := probe.Duration.Seconds()
	if seconds <= 0 {
		// No duration from the container; estimate from encoded size at a
		// nominal 128 kbit/s.
		seconds = float64(probe.Size) / 16000.0
	}

	if !e.ledger.Reserve(role, seconds) {
		e.logger.Debug("audio budget exhausted, streaming",
			slog.String("path", track.File),
			slog.String("role", string(role)),
			slog.Float64("wanted_seconds", seconds),
			slog.Float64("remaining_seconds", e.ledger.Remaining(role)))
		e.markStreaming(key)
		return nil
	}

	start := time.Now()
	sound, err := e.decoder.Decode(ctx, track.File)
	elapsed := time.Since(start)
	if err != nil {
		e.ledger.Release(role, seconds)
		e.markStreaming(key)
		return fmt.Errorf("decoding %s: %w", track.File, err)
	}
	if e.slowDecode > 0 && elapsed > e.slowDecode {
		e.logger.Warn("slow audio decode, streaming next time",
			slog.String("path", track.File),
			slog.Duration("elapsed", elapsed))
		e.mu.Lock()
		e.forceStream[key] = true
		e.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	entry := &cachedSound{sound: sound, role: role, reservedLeft: seconds}
	entry.element = e.order.PushFront(key)
	e.cache[key] = entry
	for len(e.cache) > e.capacity {
		e.evictLRU()
	}
	return nil
}

func (e *Engine) markStreaming(key string) {
	e.mu.Lock()
	e.forceStream[key] = true
	e.mu.Unlock()
}

// evictLRU drops the least recently used sound and releases whatever
// budget it still held. Callers hold the lock.
func (e *Engine) evictLRU() {
	back := e.order.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	entry := e.cache[key]
	e.order.Remove(back)
	delete(e.cache, key)
	e.ledger.Release(entry.role, entry.reservedLeft)
	e.logger.Debug("evicting decoded sound", slog.String("path", key))
}

// IsReady reports whether a track can start without further decode work,
// either from the cache or by streaming.
func (e *Engine) IsReady(path string) bool {
	key := Key(path)
	e.mu.Lock()
	defer e.mu.Unlock()
	_, cached := e.cache[key]
	return cached || e.forceStream[key]
}

// ForceStream marks a path to use the streaming path from now on.
func (e *Engine) ForceStream(path string) {
	e.markStreaming(Key(path))
}

// IsStreaming reports whether a path is marked for the streaming path.
func (e *Engine) IsStreaming(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forceStream[Key(path)]
}

// CachedSounds returns the number of decoded buffers held.
func (e *Engine) CachedSounds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

// Budgets exposes the budget ledger for inspection.
func (e *Engine) Budgets() *Ledger {
	return e.ledger
}

// LoadChannel binds a track to a named channel without starting it. A
// cached sound plays from memory; anything else streams. Loading over an
// existing channel stops it first.
func (e *Engine) LoadChannel(ctx context.Context, name string, track models.AudioTrack) error {
	key := Key(track.File)

	e.mu.Lock()
	if old, ok := e.channels[name]; ok {
		e.closeChannel(old)
		delete(e.channels, name)
	}
	entry, cached := e.cache[key]
	if cached {
		e.order.MoveToFront(entry.element)
	}
	e.mu.Unlock()

	ch := &channel{track: track, key: key}
	if cached {
		if track.Loop {
			ch.player = e.output.NewPlayer(newLoopReader(entry.sound.PCM))
		} else {
			ch.player = e.output.NewPlayer(soundReader(entry.sound.PCM))
		}
	} else {
		stream, err := e.decoder.OpenStream(ctx, track.File)
		if err != nil {
			return fmt.Errorf("opening audio stream for channel %s: %w", name, err)
		}
		ch.stream = stream
		ch.streaming = true
		ch.player = e.output.NewPlayer(stream)
	}

	if track.FadeInMs > 0 {
		ch.player.SetVolume(0)
	} else {
		ch.player.SetVolume(track.Volume)
	}

	e.mu.Lock()
	e.channels[name] = ch
	e.mu.Unlock()

	e.logger.Debug("audio channel loaded",
		slog.String("channel", name),
		slog.String("path", track.File),
		slog.Bool("streaming", ch.streaming))
	return nil
}

// Play starts a loaded channel.
func (e *Engine) Play(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[name]
	if !ok {
		return
	}
	ch.playing = true
	ch.fadeInEl = 0
	ch.player.Play()
}

// StopChannel stops a channel, optionally fading out first. The actual
// fade progresses on Tick.
func (e *Engine) StopChannel(name string, fade bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[name]
	if !ok {
		return
	}
	if fade && ch.track.FadeOutMs > 0 && ch.playing {
		ch.fadingOut = true
		ch.fadeOutEl = 0
		return
	}
	e.closeChannel(ch)
	delete(e.channels, name)
}

// StopAll stops every channel immediately, without fades, and releases all
// reserved budget. Decoded buffers are dropped.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, ch := range e.channels {
		e.closeChannel(ch)
		delete(e.channels, name)
	}
	for e.order.Len() > 0 {
		e.evictLRU()
	}
	e.ledger.Reset()
}

// ChannelCount returns the number of loaded channels.
func (e *Engine) ChannelCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

// Playing reports whether a named channel is currently playing.
func (e *Engine) Playing(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[name]
	return ok && ch.playing && !ch.fadingOut
}

// closeChannel releases a channel's resources. Callers hold the lock.
func (e *Engine) closeChannel(ch *channel) {
	ch.playing = false
	ch.player.Pause()
	ch.player.Close()
	if ch.stream != nil {
		ch.stream.Close()
	}
}

// Tick advances fades and releases decoded budget one second per played
// second. Called from the render tick.
func (e *Engine) Tick(dt time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, ch := range e.channels {
		if !ch.playing {
			continue
		}

		if ch.fadingOut {
			ch.fadeOutEl += dt
			total := ch.track.FadeOut()
			if ch.fadeOutEl >= total {
				e.closeChannel(ch)
				delete(e.channels, name)
				continue
			}
			remaining := 1.0 - float64(ch.fadeOutEl)/float64(total)
			ch.player.SetVolume(ch.track.Volume * remaining)
		} else if fadeIn := ch.track.FadeIn(); fadeIn > 0 && ch.fadeInEl < fadeIn {
			ch.fadeInEl += dt
			progress := float64(ch.fadeInEl) / float64(fadeIn)
			if progress > 1.0 {
				progress = 1.0
			}
			ch.player.SetVolume(ch.track.Volume * progress)
		}

		if !ch.streaming {
			if entry, ok := e.cache[ch.key]; ok && entry.reservedLeft > 0 {
				release := dt.Seconds()
				if release > entry.reservedLeft {
					release = entry.reservedLeft
				}
				entry.reservedLeft -= release
				e.ledger.Release(entry.role, release)
			}
		}
	}
}

// Close stops everything and closes the output device.
func (e *Engine) Close() error {
	e.StopAll()
	return e.output.Close()
}
