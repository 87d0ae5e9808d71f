// Package media provides the decoded-image cache and its background loader.
// Images are decoded off the tick thread into immutable RGBA buffers that
// cross the worker boundary by ownership transfer.
package media

import (
	"fmt"
	"image"
	"image/draw"
	"os"

	// Register stdlib image format decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	// Extra formats from x/image.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageData is a decoded RGBA8 image plus its originating path. The pixel
// buffer is always width*height*4 bytes; NewImageData rejects anything else.
type ImageData struct {
	Path   string
	Width  int
	Height int
	Pix    []byte
}

// NewImageData validates dimensions against the buffer and wraps them.
func NewImageData(path string, width, height int, pix []byte) (*ImageData, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("media: invalid dimensions %dx%d for %s", width, height, path)
	}
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("media: buffer length %d does not match %dx%d RGBA for %s",
			len(pix), width, height, path)
	}
	return &ImageData{Path: path, Width: width, Height: height, Pix: pix}, nil
}

// Bytes returns the size of the pixel buffer.
func (d *ImageData) Bytes() int {
	return len(d.Pix)
}

// DecodeFile reads and decodes an image file into RGBA8.
func DecodeFile(path string) (*ImageData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image %s (format=%s): %w", path, format, err)
	}

	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 {
		converted := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(converted, converted.Bounds(), img, bounds.Min, draw.Src)
		rgba = converted
	}

	return NewImageData(path, bounds.Dx(), bounds.Dy(), rgba.Pix)
}
