// Package audio provides the decoded-sound cache, per-role buffer budgets,
// streaming fallback, and the async prefetch worker used by the session
// runner. Decoding happens in an ffmpeg subprocess; playback goes through
// an oto output context or a null backend when no device exists.
package audio

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/hajimehoshi/oto/v2"
)

// PCM stream parameters. Everything the engine plays is decoded or
// streamed to this format.
const (
	SampleRate     = 44100
	ChannelCount   = 2
	BytesPerSample = 2 // s16le
)

// BytesPerSecond is the PCM data rate of the canonical format.
const BytesPerSecond = SampleRate * ChannelCount * BytesPerSample

// Player is a single playing stream.
type Player interface {
	Play()
	Pause()
	SetVolume(volume float64)
	IsPlaying() bool
	Close() error
}

// Output creates players. Implemented by the oto context and the null
// backend.
type Output interface {
	NewPlayer(r io.Reader) Player
	Close() error
}

// otoOutput wraps an oto context.
type otoOutput struct {
	ctx *oto.Context
}

// NewOtoOutput opens the system audio device.
func NewOtoOutput() (Output, error) {
	ctx, ready, err := oto.NewContext(SampleRate, ChannelCount, BytesPerSample)
	if err != nil {
		return nil, fmt.Errorf("opening audio device: %w", err)
	}
	<-ready
	return &otoOutput{ctx: ctx}, nil
}

func (o *otoOutput) NewPlayer(r io.Reader) Player {
	return o.ctx.NewPlayer(r)
}

func (o *otoOutput) Close() error {
	return nil
}

// NullOutput discards all audio. Used by execute/test runs without a
// device; playback timing still elapses normally in the engine.
type NullOutput struct{}

// NewNullOutput creates a no-op output.
func NewNullOutput() *NullOutput {
	return &NullOutput{}
}

// NewPlayer implements Output.
func (*NullOutput) NewPlayer(r io.Reader) Player {
	return &nullPlayer{}
}

// Close implements Output.
func (*NullOutput) Close() error { return nil }

type nullPlayer struct {
	mu      sync.Mutex
	playing bool
	volume  float64
}

func (p *nullPlayer) Play() {
	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
}

func (p *nullPlayer) Pause() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

func (p *nullPlayer) SetVolume(volume float64) {
	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
}

func (p *nullPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *nullPlayer) Close() error {
	p.Pause()
	return nil
}

// loopReader replays its buffer forever. Used for looped decoded tracks.
type loopReader struct {
	data []byte
	pos  int
}

func newLoopReader(data []byte) *loopReader {
	return &loopReader{data: data}
}

func (r *loopReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	if r.pos >= len(r.data) {
		r.pos = 0
	}
	return n, nil
}

// soundReader plays a decoded buffer once.
func soundReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
