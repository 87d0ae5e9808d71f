package themebank

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesmerkit/mesmerd/internal/media"
	"github.com/mesmerkit/mesmerd/internal/models"
)

func fakeDecode(path string) (*media.ImageData, error) {
	return media.NewImageData(path, 2, 2, make([]byte, 16))
}

func themeWithImages(name string, enabled bool, count int) models.ThemeConfig {
	t := models.ThemeConfig{Name: name, Enabled: enabled, TextLines: []string{"relax", "deeper"}}
	for i := 0; i < count; i++ {
		t.Images = append(t.Images, fmt.Sprintf("%s-%d.png", name, i))
	}
	return t
}

func newTestBank(t *testing.T, cfg Config, themes ...models.ThemeConfig) *Bank {
	t.Helper()
	loader := media.NewAsyncImageLoaderWithDecode(cfg.LoaderQueueSize, slog.Default(), fakeDecode)
	bank := NewWithLoader(&models.ThemeCollection{Themes: themes}, cfg, slog.Default(), loader)
	t.Cleanup(bank.Close)
	return bank
}

func TestCapacitySplitAcrossThemes(t *testing.T) {
	bank := newTestBank(t, Config{ImageCacheSize: 10},
		themeWithImages("ocean", true, 20),
		themeWithImages("forest", true, 20),
		themeWithImages("disabled", false, 20),
	)

	require.Equal(t, 2, bank.ThemeCount())
	assert.Equal(t, 5, bank.SlotCapacity(0))
	assert.Equal(t, 5, bank.SlotCapacity(1))
}

func TestSingleThemeGetsFullBudget(t *testing.T) {
	bank := newTestBank(t, Config{ImageCacheSize: 10}, themeWithImages("ocean", true, 20))
	require.Equal(t, 1, bank.ThemeCount())
	assert.Equal(t, 10, bank.SlotCapacity(0))
}

func TestCapacityCappedAtAssetCount(t *testing.T) {
	bank := newTestBank(t, Config{ImageCacheSize: 100}, themeWithImages("tiny", true, 3))
	assert.Equal(t, 3, bank.SlotCapacity(0))
}

func TestCapacityNeverBelowOne(t *testing.T) {
	assert.Equal(t, 1, perThemeCapacity(1, 4, 10))
	assert.Equal(t, 1, perThemeCapacity(0, 1, 10))
}

func TestGetImageServesAfterWarmup(t *testing.T) {
	bank := newTestBank(t, Config{ImageCacheSize: 8}, themeWithImages("ocean", true, 4))

	require.True(t, bank.EnsureReady(2*time.Second), "bank never became ready")

	// Pump until a draw lands on a cached image.
	var served *media.ImageData
	for i := 0; i < 500 && served == nil; i++ {
		bank.AsyncUpdate()
		served = bank.GetImage(false)
	}
	require.NotNil(t, served, "no image served after warmup")
	assert.Contains(t, served.Path, "ocean-")
}

func TestRecencyWindowRestoresWeights(t *testing.T) {
	cfg := Config{ImageCacheSize: 8, RecencyWindow: 2}
	bank := newTestBank(t, cfg, themeWithImages("ocean", true, 4))
	require.True(t, bank.EnsureReady(2*time.Second))

	// Serve enough images to overflow the window.
	serves := 0
	for i := 0; i < 2000 && serves < 6; i++ {
		bank.AsyncUpdate()
		if bank.GetImage(false) != nil {
			serves++
		}
	}
	require.GreaterOrEqual(t, serves, 3, "not enough serves to exercise the window")
	assert.LessOrEqual(t, len(bank.recency), 2, "recency window exceeded its capacity")
}

func TestGetTextLine(t *testing.T) {
	bank := newTestBank(t, Config{}, themeWithImages("ocean", true, 2))
	line := bank.GetTextLine(false)
	assert.Contains(t, []string{"relax", "deeper"}, line)
}

func TestThemeSwitchCooldownGated(t *testing.T) {
	cfg := Config{ImageCacheSize: 8, SwitchCooldown: 5}
	bank := newTestBank(t, cfg,
		themeWithImages("ocean", true, 2),
		themeWithImages("forest", true, 2),
	)

	require.Equal(t, "ocean", bank.ActiveTheme(false))
	bank.RequestThemeSwitch()

	// Cooldown counts down from construction; the swap only lands once it
	// reaches zero.
	for i := 0; i < 4; i++ {
		bank.AsyncUpdate()
		assert.Equal(t, "ocean", bank.ActiveTheme(false), "switch committed before cooldown expired (tick %d)", i)
	}
	bank.AsyncUpdate()
	assert.Equal(t, "forest", bank.ActiveTheme(false))
	assert.Equal(t, "ocean", bank.ActiveTheme(true))
}

func TestSwitchIgnoredWithSingleTheme(t *testing.T) {
	bank := newTestBank(t, Config{SwitchCooldown: 1}, themeWithImages("ocean", true, 2))
	bank.RequestThemeSwitch()
	bank.AsyncUpdate()
	bank.AsyncUpdate()
	assert.Equal(t, "ocean", bank.ActiveTheme(false))
}

func TestEnsureReadyTimesOutWithoutMedia(t *testing.T) {
	// A theme with only text lines can never produce a decoded image.
	theme := models.ThemeConfig{Name: "textonly", Enabled: true, TextLines: []string{"hi"}}
	bank := newTestBank(t, Config{}, theme)

	start := time.Now()
	assert.False(t, bank.EnsureReady(50*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second, "EnsureReady blocked far past its timeout")
}

func TestCacheInvariantUnderLoad(t *testing.T) {
	bank := newTestBank(t, Config{ImageCacheSize: 4}, themeWithImages("ocean", true, 16))
	require.True(t, bank.EnsureReady(2*time.Second))

	for i := 0; i < 300; i++ {
		bank.AsyncUpdate()
		bank.GetImage(false)
		for s := 0; s < bank.ThemeCount(); s++ {
			require.LessOrEqual(t, bank.slots[s].cache.Len(), bank.SlotCapacity(s))
		}
	}
}
