package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Sound is a fully decoded PCM buffer in the canonical format. Buffers are
// immutable once returned by a decoder.
type Sound struct {
	Path     string
	PCM      []byte
	Duration time.Duration
}

// ProbeResult describes a file without decoding it.
type ProbeResult struct {
	Duration time.Duration
	Size     int64
}

// Decoder turns audio files into canonical PCM, either fully in memory or
// as a progressive stream.
type Decoder interface {
	Probe(path string) (ProbeResult, error)
	Decode(ctx context.Context, path string) (*Sound, error)
	OpenStream(ctx context.Context, path string) (io.ReadCloser, error)
}

// FFmpegDecoder shells out to ffmpeg/ffprobe.
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegDecoder locates the binaries. Explicit paths override PATH
// lookup.
func NewFFmpegDecoder(ffmpegPath, ffprobePath string) (*FFmpegDecoder, error) {
	var err error
	if ffmpegPath == "" {
		ffmpegPath, err = exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
	}
	if ffprobePath == "" {
		ffprobePath, err = exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
	}
	return &FFmpegDecoder{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

// Probe returns the file's duration and on-disk size. When ffprobe cannot
// report a duration the size alone is returned; callers estimate from it.
func (d *FFmpegDecoder) Probe(path string) (ProbeResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("stat %s: %w", path, err)
	}
	result := ProbeResult{Size: info.Size()}

	cmd := exec.Command(d.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return result, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return result, fmt.Errorf("parsing ffprobe duration for %s: %w", path, err)
	}
	result.Duration = time.Duration(seconds * float64(time.Second))
	return result, nil
}

// Decode reads the whole file into a canonical PCM buffer.
func (d *FFmpegDecoder) Decode(ctx context.Context, path string) (*Sound, error) {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, d.decodeArgs(path)...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg decode %s: empty output", path)
	}
	return &Sound{
		Path:     path,
		PCM:      out,
		Duration: PCMDuration(len(out)),
	}, nil
}

// OpenStream starts an ffmpeg subprocess and returns its stdout as a
// progressive PCM stream. Closing the reader kills the subprocess.
func (d *FFmpegDecoder) OpenStream(ctx context.Context, path string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, d.decodeArgs(path)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg for %s: %w", path, err)
	}
	return &processStream{reader: stdout, cmd: cmd}, nil
}

func (d *FFmpegDecoder) decodeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(ChannelCount),
		"-ar", strconv.Itoa(SampleRate),
		"-",
	}
}

// processStream wraps a subprocess stdout; Close reaps the process.
type processStream struct {
	reader io.ReadCloser
	cmd    *exec.Cmd
}

func (s *processStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *processStream) Close() error {
	s.reader.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return nil
}

// PCMDuration converts a canonical-format byte count to playback time.
func PCMDuration(bytes int) time.Duration {
	return time.Duration(float64(bytes) / float64(BytesPerSecond) * float64(time.Second))
}
