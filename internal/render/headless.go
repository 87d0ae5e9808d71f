package render

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mesmerkit/mesmerd/internal/media"
	"github.com/mesmerkit/mesmerd/internal/models"
	"github.com/mesmerkit/mesmerd/internal/observability"
)

// Headless is a renderer without output, used by the execute command and
// tests. It advances media on the active playback's cycle interval and
// fires cycle callbacks exactly as the real compositor would, including
// the spiral phase bookkeeping.
type Headless struct {
	mu sync.Mutex

	logger    *slog.Logger
	active    bool
	intensity float64
	playback  *models.Playback

	cycle     uint64
	sinceLast time.Duration
	interval  time.Duration
	callbacks []CycleCallback

	spiralPhase PhaseAccumulator

	// Observable side effects for tests.
	ImagesSet    int
	ZoomsStarted int
	Applied      []string
}

// NewHeadless creates an inactive headless renderer.
func NewHeadless(logger *slog.Logger) *Headless {
	if logger == nil {
		logger = slog.Default()
	}
	return &Headless{
		logger:    observability.WithComponent(logger, "headless_renderer"),
		intensity: 1.0,
		interval:  time.Second,
	}
}

// SetBackgroundImage implements Renderer.
func (h *Headless) SetBackgroundImage(img *media.ImageData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ImagesSet++
}

// SetBackgroundVideoFrame implements Renderer.
func (h *Headless) SetBackgroundVideoFrame(buf []byte, width, height int) {}

// StartZoomAnimation implements Renderer.
func (h *Headless) StartZoomAnimation(startZoom float64, durationTicks int, mode models.ZoomMode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ZoomsStarted++
}

// ApplyPlayback implements Renderer. The media cycle interval follows the
// playback's cycle speed.
func (h *Headless) ApplyPlayback(pb *models.Playback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playback = pb
	h.interval = pb.CycleInterval()
	h.sinceLast = 0
	h.Applied = append(h.Applied, pb.Name)
}

// CycleCount implements Renderer.
func (h *Headless) CycleCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cycle
}

// RegisterCycleCallback implements Renderer.
func (h *Headless) RegisterCycleCallback(fn CycleCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = append(h.callbacks, fn)
}

// SetActive implements Renderer.
func (h *Headless) SetActive(active bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = active
}

// SetIntensity implements Renderer.
func (h *Headless) SetIntensity(intensity float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.intensity = intensity
}

// Active reports whether output is enabled.
func (h *Headless) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// SpiralPhase returns the current spiral phase, for inspection.
func (h *Headless) SpiralPhase() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spiralPhase.Value()
}

// Advance moves simulated time forward and fires cycle callbacks for every
// interval crossed. Callbacks run outside the lock, in order.
func (h *Headless) Advance(dt time.Duration) {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}

	if h.playback != nil {
		speed := h.playback.Spiral.RotationSpeed
		if h.playback.Spiral.Reverse {
			speed = -speed
		}
		h.spiralPhase.Advance(speed * dt.Seconds())
	}

	var fired []uint64
	h.sinceLast += dt
	for h.interval > 0 && h.sinceLast >= h.interval {
		h.sinceLast -= h.interval
		h.cycle++
		fired = append(fired, h.cycle)
	}
	callbacks := make([]CycleCallback, len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.mu.Unlock()

	for _, cycle := range fired {
		for _, fn := range callbacks {
			fn(cycle)
		}
	}
}

// ForceCycle advances one cycle immediately, for tests.
func (h *Headless) ForceCycle() {
	h.mu.Lock()
	h.cycle++
	cycle := h.cycle
	callbacks := make([]CycleCallback, len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(cycle)
	}
}
