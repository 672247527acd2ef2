// Package notify fans out process-wide signals to any number of observers
// without the publisher depending on them.
package notify

import (
	"sync"

	"github.com/1broseidon/backdrop/internal/platform"
)

// Kind identifies a signal.
type Kind string

const (
	ContentChanged     Kind = "content-changed"
	PlaybackChanged    Kind = "playback-changed"
	ScreensaverChanged Kind = "screensaver-changed"
	TopologyChanged    Kind = "topology-changed"
)

// Event is one published signal.
type Event struct {
	Kind     Kind              `json:"kind"`
	Identity platform.Identity `json:"identity,omitempty"`
	Detail   string            `json:"detail,omitempty"`
}

// Bus delivers events to subscribers. Slow subscribers miss events rather
// than block the publisher.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
