// Package render defines the renderer boundary the session engine drives.
// The real compositor lives out of process; the engine only needs to set
// media, start zoom animations, and observe cycle boundaries.
package render

import (
	"github.com/mesmerkit/mesmerd/internal/media"
	"github.com/mesmerkit/mesmerd/internal/models"
)

// CycleCallback fires once per cycle boundary with the new cycle count.
// Cycle counts are monotonic: the renderer advances media on its own
// cadence and the boundary is the only valid moment for scheduler-level
// transitions.
type CycleCallback func(cycle uint64)

// Renderer is the compositor surface consumed by the session runner and
// theme bank.
type Renderer interface {
	// SetBackgroundImage hands a decoded image to the compositor.
	SetBackgroundImage(img *media.ImageData)
	// SetBackgroundVideoFrame hands a raw video frame to the compositor.
	SetBackgroundVideoFrame(buf []byte, width, height int)
	// StartZoomAnimation begins a zoom sweep.
	StartZoomAnimation(startZoom float64, durationTicks int, mode models.ZoomMode)
	// ApplyPlayback reconfigures the spiral/media/text/zoom layers from a
	// playback config. Dispatch is over the tagged settings structs; the
	// set of shapes is fixed and data-driven.
	ApplyPlayback(pb *models.Playback)
	// CycleCount returns the monotonic media-advance counter.
	CycleCount() uint64
	// RegisterCycleCallback subscribes to cycle boundaries.
	RegisterCycleCallback(fn CycleCallback)
	// SetActive enables or disables rendering output.
	SetActive(active bool)
	// SetIntensity scales the overall effect strength, [0,1].
	SetIntensity(intensity float64)
}
