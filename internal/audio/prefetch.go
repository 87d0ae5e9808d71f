package audio

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mesmerkit/mesmerd/internal/models"
	"github.com/mesmerkit/mesmerd/internal/observability"
)

// PrefetchResult reports a finished prefetch job.
type PrefetchResult struct {
	Track models.AudioTrack
	Err   error
}

// PrefetchWorker decodes audio off the tick thread. A single goroutine
// drains a shallow job queue so decodes are strictly serialized; the tick
// thread polls Completed instead of blocking.
type PrefetchWorker struct {
	engine  *Engine
	logger  *slog.Logger
	jobs    chan models.AudioTrack
	results chan PrefetchResult
	pending atomic.Int32

	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// NewPrefetchWorker starts the worker goroutine.
func NewPrefetchWorker(engine *Engine, logger *slog.Logger) *PrefetchWorker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &PrefetchWorker{
		engine:  engine,
		logger:  observability.WithComponent(logger, "audio_prefetch"),
		jobs:    make(chan models.AudioTrack, 2),
		results: make(chan PrefetchResult, 8),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

// Enqueue submits a track for background preparation. Returns false when
// the queue is full; the caller retries on a later tick.
func (w *PrefetchWorker) Enqueue(track models.AudioTrack) bool {
	select {
	case w.jobs <- track:
		w.pending.Add(1)
		return true
	default:
		return false
	}
}

// Pending returns the number of jobs submitted but not yet finished.
func (w *PrefetchWorker) Pending() int {
	return int(w.pending.Load())
}

// Completed drains finished jobs without blocking.
func (w *PrefetchWorker) Completed() []PrefetchResult {
	var out []PrefetchResult
	for {
		select {
		case r := <-w.results:
			out = append(out, r)
		default:
			return out
		}
	}
}

// Close stops the worker and waits for the in-flight job to finish.
func (w *PrefetchWorker) Close() {
	w.closeOnce.Do(func() {
		close(w.jobs)
		<-w.done
		w.cancel()
	})
}

func (w *PrefetchWorker) run(ctx context.Context) {
	defer close(w.done)
	for track := range w.jobs {
		err := w.engine.Prepare(ctx, track)
		if err != nil {
			w.logger.Warn("audio prefetch failed",
				slog.String("path", track.File),
				slog.String("error", err.Error()))
		}
		w.pending.Add(-1)
		select {
		case w.results <- PrefetchResult{Track: track, Err: err}:
		default:
			w.logger.Debug("prefetch result queue full, dropping completion",
				slog.String("path", track.File))
		}
	}
}
