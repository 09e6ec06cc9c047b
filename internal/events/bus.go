package events

import (
	"context"
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

type subscriber struct {
	ch chan Event
}

// Bus fans events out to in-process subscribers keyed by learner.
// Delivery never blocks the publisher: a full subscriber drops the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*subscriber]struct{})}
}

// Subscribe returns a channel of the learner's events and a function that
// ends the subscription and closes the channel.
func (b *Bus) Subscribe(learnerID string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	if b.subs[learnerID] == nil {
		b.subs[learnerID] = make(map[*subscriber]struct{})
	}
	b.subs[learnerID][s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[learnerID], s)
			if len(b.subs[learnerID]) == 0 {
				delete(b.subs, learnerID)
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Subscribers returns the number of live subscriptions for a learner.
func (b *Bus) Subscribers(learnerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[learnerID])
}

func (b *Bus) Publish(_ context.Context, e Event) error {
	if err := e.validate(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[e.LearnerID] {
		select {
		case s.ch <- e:
		default:
			slog.Warn("event dropped for slow subscriber", "learner_id", e.LearnerID, "type", e.Type)
		}
	}
	return nil
}
