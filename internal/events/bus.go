// Package events is a small typed publish/subscribe bus used to notify the
// presentation layer about sync, trash and connectivity activity.
package events

import (
	"sync"
	"time"
)

// Kind is the closed set of notifications the sync core emits.
type Kind int

const (
	SyncStarted Kind = iota + 1
	SyncSucceeded
	SyncFailed
	QueuedOffline
	TrashChanged
	TrashFailed
	ConnectivityChanged
	RetryExhausted
)

func (k Kind) String() string {
	switch k {
	case SyncStarted:
		return "sync-started"
	case SyncSucceeded:
		return "sync-succeeded"
	case SyncFailed:
		return "sync-failed"
	case QueuedOffline:
		return "queued-offline"
	case TrashChanged:
		return "trash-changed"
	case TrashFailed:
		return "trash-failed"
	case ConnectivityChanged:
		return "connectivity-changed"
	case RetryExhausted:
		return "retry-exhausted"
	default:
		return "unknown"
	}
}

// Event is a single notification. Store and Key are empty for events that are
// not tied to one record; Online is only meaningful for ConnectivityChanged.
type Event struct {
	Kind    Kind
	Store   string
	Key     string
	Message string
	Online  bool
	At      time.Time
}

// Publisher is what the core depends on.
type Publisher interface {
	Publish(e Event)
}

const defaultBuffer = 64

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	now    func() time.Time
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event), now: time.Now}
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; calling it more than once is safe.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(Event) {}
