// Package events carries the real-time side of the collection: the change
// notification bus and the named custom events with their handler chains.
package events

import (
	"context"
	"sync"

	"github.com/exzibtx/deployd/internal/domain"

	"github.com/google/uuid"
)

// subscriberBuffer bounds how far a slow subscriber may lag before
// notifications are dropped rather than blocking publishers.
const subscriberBuffer = 16

// Bus fans change notifications out to all subscribers of a collection.
// Publish happens only after the store commit succeeded, so a subscriber
// registered any time before dispatch sees exactly one notification per
// mutation.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan domain.ChangeEvent // collection -> sub id -> channel
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[string]chan domain.ChangeEvent)}
}

// Subscribe registers a subscriber for one collection's change events. The
// returned channel is closed when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, collection string) <-chan domain.ChangeEvent {
	ch := make(chan domain.ChangeEvent, subscriberBuffer)
	id := uuid.NewString()

	b.mu.Lock()
	if b.subs[collection] == nil {
		b.subs[collection] = make(map[string]chan domain.ChangeEvent)
	}
	b.subs[collection][id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[collection], id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fans the event out to every subscriber of its collection. Sends
// are non-blocking; a subscriber that has fallen subscriberBuffer events
// behind misses this one rather than stalling the mutation path.
func (b *Bus) Publish(ev domain.ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[ev.Collection] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports how many subscribers a collection currently has.
func (b *Bus) SubscriberCount(collection string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[collection])
}
