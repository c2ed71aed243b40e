// Package events is an in-process publish/subscribe bus. The content
// connection publishes transport events on it and the CLI subscribes to
// surface them in debug logs.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventServersRefreshed EventType = "servers_refreshed" // content-server list fetched
	EventChunkRetry       EventType = "chunk_retry"       // a chunk request is retried
	EventManifestCached   EventType = "manifest_cached"   // manifest resolved by the cache
	EventFileCompleted    EventType = "file_completed"
	EventFileFailed       EventType = "file_failed"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// ServersRefreshedEvent reports a fresh content-server list.
type ServersRefreshedEvent struct {
	BaseEvent
	CellID  uint32
	Servers int
}

// ChunkRetryEvent reports a failed chunk attempt that will be retried.
type ChunkRetryEvent struct {
	BaseEvent
	DepotID uint32
	ChunkID string
	Host    string
	Attempt int
	Error   error
}

// ManifestCachedEvent reports where a manifest was resolved from:
// "memory", "disk", "fetch" or "local".
type ManifestCachedEvent struct {
	BaseEvent
	DepotID uint32
	GID     uint64
	Source  string
}

// FileEvent reports a finished file reconstruction.
type FileEvent struct {
	BaseEvent
	Path    string
	Written int64
	Error   error
}

// EventBus manages event subscriptions and publishing. A nil *EventBus
// accepts publishes and drops them.
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Events for
// full subscriber buffers are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}

	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from a specific event type
// This prevents memory leaks from abandoned subscriptions
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			close(subCh)
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

// PublishServersRefreshed is a convenience method for ServersRefreshedEvent.
func (eb *EventBus) PublishServersRefreshed(cellID uint32, servers int) {
	eb.Publish(&ServersRefreshedEvent{
		BaseEvent: BaseEvent{EventType: EventServersRefreshed, Time: time.Now()},
		CellID:    cellID,
		Servers:   servers,
	})
}

// PublishChunkRetry is a convenience method for ChunkRetryEvent.
func (eb *EventBus) PublishChunkRetry(depotID uint32, chunkID, host string, attempt int, err error) {
	eb.Publish(&ChunkRetryEvent{
		BaseEvent: BaseEvent{EventType: EventChunkRetry, Time: time.Now()},
		DepotID:   depotID,
		ChunkID:   chunkID,
		Host:      host,
		Attempt:   attempt,
		Error:     err,
	})
}

// PublishManifestCached is a convenience method for ManifestCachedEvent.
func (eb *EventBus) PublishManifestCached(depotID uint32, gid uint64, source string) {
	eb.Publish(&ManifestCachedEvent{
		BaseEvent: BaseEvent{EventType: EventManifestCached, Time: time.Now()},
		DepotID:   depotID,
		GID:       gid,
		Source:    source,
	})
}

// PublishFile is a convenience method for FileEvent. A non-nil err
// publishes EventFileFailed.
func (eb *EventBus) PublishFile(path string, written int64, err error) {
	eventType := EventFileCompleted
	if err != nil {
		eventType = EventFileFailed
	}
	eb.Publish(&FileEvent{
		BaseEvent: BaseEvent{EventType: eventType, Time: time.Now()},
		Path:      path,
		Written:   written,
		Error:     err,
	})
}
