// Package themebank manages per-theme media caches with anti-repetition
// selection and lookahead prefetching. The bank owns one image cache and
// one shuffler pair per enabled theme, plus a global recency window that
// adjusts shuffler weights as served images age out.
package themebank

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/mesmerkit/mesmerd/internal/media"
	"github.com/mesmerkit/mesmerd/internal/models"
	"github.com/mesmerkit/mesmerd/internal/observability"
	"github.com/mesmerkit/mesmerd/internal/shuffle"
)

// Config holds theme bank tuning. Zero values fall back to defaults.
type Config struct {
	// ImageCacheSize is the global decoded-image slot budget, split evenly
	// across enabled themes.
	ImageCacheSize int
	// LoaderQueueSize bounds the shared decode request queue.
	LoaderQueueSize int
	// LookaheadCount caps outstanding prefetch requests per theme.
	LookaheadCount int
	// LookaheadBatchSize is how many prefetches are issued per AsyncUpdate.
	LookaheadBatchSize int
	// RecencyWindow is the global last-served identity window size.
	RecencyWindow int
	// SwitchCooldown is the number of AsyncUpdate calls between theme swaps.
	SwitchCooldown int
}

// DefaultConfig returns the default theme bank configuration.
func DefaultConfig() Config {
	return Config{
		ImageCacheSize:     30,
		LoaderQueueSize:    media.DefaultLoaderQueueSize,
		LookaheadCount:     12,
		LookaheadBatchSize: 4,
		RecencyWindow:      100,
		SwitchCooldown:     500,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ImageCacheSize < 1 {
		c.ImageCacheSize = d.ImageCacheSize
	}
	if c.LoaderQueueSize < 1 {
		c.LoaderQueueSize = d.LoaderQueueSize
	}
	if c.LookaheadCount < 1 {
		c.LookaheadCount = d.LookaheadCount
	}
	if c.LookaheadBatchSize < 1 {
		c.LookaheadBatchSize = d.LookaheadBatchSize
	}
	if c.RecencyWindow < 1 {
		c.RecencyWindow = d.RecencyWindow
	}
	if c.SwitchCooldown < 1 {
		c.SwitchCooldown = d.SwitchCooldown
	}
	return c
}

// identity names one servable image across the whole bank.
type identity struct {
	theme int // slot index
	image int // index into the theme's image list
}

// slot is one active theme with its cache and shufflers.
type slot struct {
	theme  models.ThemeConfig
	cache  *media.ImageCache
	images *shuffle.Shuffler
	videos *shuffle.Shuffler
}

// Bank manages N theme slots. Confined to the tick thread except for the
// loader's internal worker.
type Bank struct {
	config Config
	logger *slog.Logger
	loader *media.AsyncImageLoader
	slots  []*slot
	rng    *rand.Rand

	primary   int
	alternate int

	// recency is the global last-K served identities, oldest first.
	recency []identity

	switchPending  bool
	switchCooldown int

	closed bool
}

// New creates a bank over the enabled themes of the collection. Themes with
// no media assets are skipped with a warning.
func New(collection *models.ThemeCollection, cfg Config, logger *slog.Logger) *Bank {
	cfg = cfg.withDefaults()
	loader := media.NewAsyncImageLoader(cfg.LoaderQueueSize, logger)
	return NewWithLoader(collection, cfg, logger, loader)
}

// NewWithLoader creates a bank backed by an existing loader, letting tests
// substitute the decode function.
func NewWithLoader(collection *models.ThemeCollection, cfg Config, logger *slog.Logger, loader *media.AsyncImageLoader) *Bank {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "theme_bank")

	var themes []models.ThemeConfig
	for _, t := range collection.Enabled() {
		if !t.HasMedia() && len(t.TextLines) == 0 {
			logger.Warn("skipping theme with no assets", slog.String("theme", t.Name))
			continue
		}
		themes = append(themes, t)
	}

	b := &Bank{
		config:         cfg,
		logger:         logger,
		loader:         loader,
		rng:            rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		switchCooldown: cfg.SwitchCooldown,
	}

	for _, theme := range themes {
		b.slots = append(b.slots, &slot{
			theme:  theme,
			cache:  media.NewImageCache(perThemeCapacity(cfg.ImageCacheSize, len(themes), len(theme.Images)), b.loader, logger),
			images: shuffle.New(len(theme.Images)),
			videos: shuffle.New(len(theme.Animations)),
		})
	}

	b.primary = 0
	b.alternate = 0
	if len(b.slots) > 1 {
		b.alternate = 1
	}
	return b
}

// perThemeCapacity splits the global budget evenly, floors at 1, and never
// exceeds the theme's own asset count (no point caching more slots than
// exist). A single enabled theme gets the full budget.
func perThemeCapacity(global, themeCount, assetCount int) int {
	if themeCount < 1 {
		themeCount = 1
	}
	capacity := global / themeCount
	if capacity < 1 {
		capacity = 1
	}
	if assetCount > 0 && capacity > assetCount {
		capacity = assetCount
	}
	return capacity
}

// WithReleaseFunc wires GPU handle release for all slot caches.
func (b *Bank) WithReleaseFunc(release media.ReleaseFunc) *Bank {
	for _, s := range b.slots {
		s.cache.WithReleaseFunc(release)
	}
	return b
}

// ThemeCount returns the number of active theme slots.
func (b *Bank) ThemeCount() int {
	return len(b.slots)
}

// SlotCapacity returns the cache capacity of slot i, for inspection.
func (b *Bank) SlotCapacity(i int) int {
	if i < 0 || i >= len(b.slots) {
		return 0
	}
	return b.slots[i].cache.Capacity()
}

// ActiveTheme returns the name of the primary (or alternate) theme.
func (b *Bank) ActiveTheme(alternate bool) string {
	s := b.slot(alternate)
	if s == nil {
		return ""
	}
	return s.theme.Name
}

func (b *Bank) slot(alternate bool) *slot {
	if len(b.slots) == 0 {
		return nil
	}
	if alternate {
		return b.slots[b.alternate]
	}
	return b.slots[b.primary]
}

// GetImage draws from the active slot's shuffler and serves from its cache.
// A cache miss returns nil (load already requested); only a successful
// serve updates recency and weights.
func (b *Bank) GetImage(alternate bool) *media.ImageData {
	s := b.slot(alternate)
	if s == nil || len(s.theme.Images) == 0 {
		return nil
	}

	idx := s.images.Next()
	if idx < 0 {
		return nil
	}

	data := s.cache.GetImage(s.theme.Images[idx])
	if data == nil {
		return nil
	}

	b.recordServed(identity{theme: b.slotIndex(alternate), image: idx})
	return data
}

// GetAnimationPath draws a video path from the active slot.
func (b *Bank) GetAnimationPath(alternate bool) string {
	s := b.slot(alternate)
	if s == nil || len(s.theme.Animations) == 0 {
		return ""
	}
	idx := s.videos.Next()
	if idx < 0 {
		return ""
	}
	s.videos.Decrease(idx, 1.0)
	return s.theme.Animations[idx]
}

// GetTextLine returns a random text line from the active slot, independent
// of image shuffler state.
func (b *Bank) GetTextLine(alternate bool) string {
	s := b.slot(alternate)
	if s == nil || len(s.theme.TextLines) == 0 {
		return ""
	}
	return s.theme.TextLines[b.rng.IntN(len(s.theme.TextLines))]
}

func (b *Bank) slotIndex(alternate bool) int {
	if alternate {
		return b.alternate
	}
	return b.primary
}

// recordServed pushes an identity into the recency window, decreases its
// weight, and restores the weight of the identity that aged out.
func (b *Bank) recordServed(id identity) {
	b.slots[id.theme].images.Decrease(id.image, 1.0)

	b.recency = append(b.recency, id)
	if len(b.recency) > b.config.RecencyWindow {
		aged := b.recency[0]
		b.recency = b.recency[1:]
		if aged.theme < len(b.slots) {
			b.slots[aged.theme].images.Increase(aged.image, 1.0)
		}
	}
}

// RequestThemeSwitch arms a primary/alternate swap, committed by
// AsyncUpdate once the cooldown expires.
func (b *Bank) RequestThemeSwitch() {
	if len(b.slots) < 2 {
		return
	}
	b.switchPending = true
}

// AsyncUpdate is called every tick: drains completed decodes into slot
// caches, issues lookahead prefetches, and services the switch cooldown.
func (b *Bank) AsyncUpdate() {
	if b.closed {
		return
	}

	loaded := b.loader.LoadedImages()
	for _, s := range b.slots {
		if len(loaded) == 0 {
			break
		}
		loaded = s.cache.Ingest(loaded)
	}

	b.prefetch(b.slot(false))
	if b.alternate != b.primary {
		b.prefetch(b.slot(true))
	}

	if b.switchCooldown > 0 {
		b.switchCooldown--
	}
	if b.switchPending && b.switchCooldown == 0 {
		b.primary, b.alternate = b.alternate, b.primary
		b.switchPending = false
		b.switchCooldown = b.config.SwitchCooldown
		b.logger.Debug("theme switch committed",
			slog.String("primary", b.slots[b.primary].theme.Name))
	}
}

// prefetch asks the slot's shuffler which images it is likely to draw soon
// and requests their decode, bounded per tick and in total.
func (b *Bank) prefetch(s *slot) {
	if s == nil || len(s.theme.Images) == 0 {
		return
	}

	issued := 0
	attempts := 0
	maxAttempts := b.config.LookaheadBatchSize * 4
	for issued < b.config.LookaheadBatchSize && attempts < maxAttempts {
		attempts++
		if s.cache.PendingRequests() >= b.config.LookaheadCount {
			return
		}
		idx := s.images.Next()
		if idx < 0 {
			return
		}
		if s.cache.Prefetch(s.theme.Images[idx]) {
			issued++
		}
	}
}

// EnsureReady polls until at least one decoded image (or any animation) is
// available in the active theme, pumping AsyncUpdate while it waits.
// Returns false on timeout; the caller logs and proceeds degraded.
func (b *Bank) EnsureReady(timeout time.Duration) bool {
	s := b.slot(false)
	if s == nil {
		return false
	}
	if len(s.theme.Animations) > 0 && len(s.theme.Images) == 0 {
		// Video themes have nothing to decode here.
		return true
	}

	deadline := time.Now().Add(timeout)
	for {
		b.AsyncUpdate()
		if s.cache.Len() > 0 {
			return true
		}
		if len(s.theme.Animations) > 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops the loader and clears all caches.
func (b *Bank) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.loader.Close()
	for _, s := range b.slots {
		s.cache.Clear()
	}
}
