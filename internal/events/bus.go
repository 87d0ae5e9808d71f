// Package events provides a typed pub/sub bus for session lifecycle events.
// Subscribers receive on buffered channels; a full subscriber drops events
// rather than blocking the tick thread.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mesmerkit/mesmerd/internal/observability"
)

// Type identifies a session event.
type Type string

const (
	TypeSessionStarted  Type = "session_started"
	TypeSessionStopped  Type = "session_stopped"
	TypeSessionPaused   Type = "session_paused"
	TypeSessionResumed  Type = "session_resumed"
	TypeSessionFinished Type = "session_finished"
	TypeCueStarted      Type = "cue_started"
	TypeCueEnded        Type = "cue_ended"
	TypePlaybackSwitch  Type = "playback_switch"
	TypeTransitionIn    Type = "transition_in"
	TypeTransitionOut   Type = "transition_out"
	TypeCycleBoundary   Type = "cycle_boundary"
	TypeForcedBoundary  Type = "forced_boundary"
)

// SessionEvent is the payload delivered to subscribers.
type SessionEvent struct {
	Type     Type      `json:"type"`
	RunID    string    `json:"run_id"`
	Cue      string    `json:"cue,omitempty"`
	Playback string    `json:"playback,omitempty"`
	State    string    `json:"state,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// Subscriber receives events on its channel until Unsubscribe.
type Subscriber struct {
	ID     string
	Events chan SessionEvent
}

// Bus fans session events out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
	dropped     atomic.Uint64
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		logger:      observability.WithComponent(logger, "event_bus"),
	}
}

// Subscribe registers a subscriber with the given channel buffer size.
func (b *Bus) Subscribe(buffer int) *Subscriber {
	if buffer < 1 {
		buffer = 64
	}
	sub := &Subscriber{
		ID:     uuid.NewString(),
		Events: make(chan SessionEvent, buffer),
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.Events)
	}
}

// Publish delivers the event to every subscriber without blocking. Events
// to full subscribers are dropped and counted.
func (b *Bus) Publish(ev SessionEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub.Events <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("dropping event for slow subscriber",
				slog.String("subscriber", sub.ID),
				slog.String("type", string(ev.Type)))
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns the total number of events dropped for slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
