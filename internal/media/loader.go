package media

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mesmerkit/mesmerd/internal/observability"
)

// DefaultLoaderQueueSize bounds the decode request queue.
const DefaultLoaderQueueSize = 8

// errResultDropped marks a decode whose payload was discarded because the
// result queue was full. The completion itself is still delivered.
var errResultDropped = errors.New("decode result dropped: queue full")

// LoadedImage is a completed decode handed back to the owning cache. Err is
// set when the decode failed or its payload was dropped; either way the
// cache clears its pending mark so the path can be requested again.
type LoadedImage struct {
	Path string
	Data *ImageData
	Err  error
}

// DecodeFunc decodes a path into an ImageData. Swappable for tests.
type DecodeFunc func(path string) (*ImageData, error)

// AsyncImageLoader decodes image files on a single background goroutine.
// Requests are bounded; RequestLoad never blocks the caller. Every accepted
// request produces exactly one result, failures included, so owning caches
// never wait on a completion that is not coming.
type AsyncImageLoader struct {
	requests chan string
	results  chan LoadedImage
	decode   DecodeFunc
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
	overflow []LoadedImage
	closed   bool

	done chan struct{}
}

// NewAsyncImageLoader creates and starts a loader with the given request
// queue depth. A queueSize below 1 falls back to the default.
func NewAsyncImageLoader(queueSize int, logger *slog.Logger) *AsyncImageLoader {
	return NewAsyncImageLoaderWithDecode(queueSize, logger, DecodeFile)
}

// NewAsyncImageLoaderWithDecode creates a loader with a custom decode
// function, for tests.
func NewAsyncImageLoaderWithDecode(queueSize int, logger *slog.Logger, decode DecodeFunc) *AsyncImageLoader {
	if queueSize < 1 {
		queueSize = DefaultLoaderQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &AsyncImageLoader{
		requests: make(chan string, queueSize),
		// Results are drained every tick; twice the request depth leaves
		// room for a full queue plus the job in flight.
		results:  make(chan LoadedImage, queueSize*2),
		decode:   decode,
		logger:   observability.WithComponent(logger, "image_loader"),
		inFlight: make(map[string]bool),
		done:     make(chan struct{}),
	}
	go l.worker()
	return l
}

// RequestLoad enqueues a decode request. Returns false when the queue is
// full (busy) or the path is already in flight; callers retry next tick.
func (l *AsyncImageLoader) RequestLoad(path string) bool {
	l.mu.Lock()
	if l.closed || l.inFlight[path] {
		l.mu.Unlock()
		return false
	}

	select {
	case l.requests <- path:
		l.inFlight[path] = true
		l.mu.Unlock()
		return true
	default:
		l.mu.Unlock()
		return false
	}
}

// Pending returns the number of requests accepted but not yet delivered.
func (l *AsyncImageLoader) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inFlight)
}

// LoadedImages drains all currently-completed decodes, non-blocking.
// Called every tick by the owning cache.
func (l *AsyncImageLoader) LoadedImages() []LoadedImage {
	var out []LoadedImage
	for {
		select {
		case img := <-l.results:
			out = append(out, img)
		default:
			l.mu.Lock()
			out = append(out, l.overflow...)
			l.overflow = nil
			l.mu.Unlock()
			return out
		}
	}
}

// Close stops the worker. Pending requests are abandoned.
func (l *AsyncImageLoader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.requests)
	<-l.done
}

func (l *AsyncImageLoader) worker() {
	defer close(l.done)

	for path := range l.requests {
		data, err := l.decode(path)

		l.mu.Lock()
		delete(l.inFlight, path)
		closed := l.closed
		l.mu.Unlock()

		if closed {
			continue
		}
		if err != nil {
			l.logger.Warn("image decode failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			l.deliver(LoadedImage{Path: path, Err: err})
			continue
		}
		l.deliver(LoadedImage{Path: path, Data: data})
	}
}

// deliver hands a result to the drain channel. When the channel is full the
// payload is dropped but the completion still reaches the owning cache, so
// the path can be requested again on its next miss.
func (l *AsyncImageLoader) deliver(li LoadedImage) {
	select {
	case l.results <- li:
		return
	default:
	}
	if li.Err == nil {
		l.logger.Debug("result queue full, dropping decoded image",
			slog.String("path", li.Path))
		li = LoadedImage{Path: li.Path, Err: errResultDropped}
	}
	l.mu.Lock()
	l.overflow = append(l.overflow, li)
	l.mu.Unlock()
}
