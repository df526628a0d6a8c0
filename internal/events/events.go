// Package events carries the change notifications emitted after successful
// writes and the in-process bus delivering them to transport collaborators.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Category names the record family an event describes.
type Category string

const (
	CategoryContent      Category = "content"
	CategoryMessage      Category = "message"
	CategoryUser         Category = "user"
	CategoryWatch        Category = "watch"
	CategoryBan          Category = "ban"
	CategoryUserVariable Category = "uservariable"
)

// LiveEvent describes one committed mutation. Exactly one event is emitted
// per successful write, after the transaction commits.
type LiveEvent struct {
	ID       string    `json:"id"`
	ActorID  int64     `json:"actorId"`
	Action   string    `json:"action"`
	Category Category  `json:"category"`
	RefID    int64     `json:"refId"`
	ParentID int64     `json:"parentId"`
	Date     time.Time `json:"date"`
}

// NewLiveEvent stamps a fresh event id.
func NewLiveEvent(actorID int64, action string, category Category, refID, parentID int64, at time.Time) LiveEvent {
	return LiveEvent{
		ID:       uuid.NewString(),
		ActorID:  actorID,
		Action:   action,
		Category: category,
		RefID:    refID,
		ParentID: parentID,
		Date:     at,
	}
}

// Publisher is the collaborator interface the write pipeline emits into.
type Publisher interface {
	Publish(event LiveEvent)
}

// Bus is an in-process publisher fanning events out to subscribers. Slow
// subscribers drop events rather than block the write path.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]chan LiveEvent
	nextID      int64
	bufferSize  int
	onDrop      func()
}

// NewBus constructs a Bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int64]chan LiveEvent),
		bufferSize:  32,
	}
}

// OnDrop installs a callback invoked once per dropped event. Call before the
// bus is shared; the field is not synchronized afterwards.
func (b *Bus) OnDrop(callback func()) {
	b.onDrop = callback
}

// Subscribe registers a listener that is removed when ctx ends.
func (b *Bus) Subscribe(ctx context.Context) (<-chan LiveEvent, func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	stream := make(chan LiveEvent, b.bufferSize)
	b.subscribers[id] = stream
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish fans the event out without blocking.
func (b *Bus) Publish(event LiveEvent) {
	b.mu.RLock()
	streams := make([]chan LiveEvent, 0, len(b.subscribers))
	for _, stream := range b.subscribers {
		streams = append(streams, stream)
	}
	b.mu.RUnlock()

	for _, stream := range streams {
		select {
		case stream <- event:
		default:
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}
}
