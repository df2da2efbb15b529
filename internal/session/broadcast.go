package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/jam-signaling/internal/protocol"
)

// Broadcast fans events out to every handler subscribed to one session.
type Broadcast struct {
	name     string
	capacity int

	mu   sync.Mutex
	subs map[protocol.PeerID]*Queue[Event]
}

func newBroadcast(name string, capacity int) *Broadcast {
	return &Broadcast{
		name:     name,
		capacity: capacity,
		subs:     make(map[protocol.PeerID]*Queue[Event]),
	}
}

func (b *Broadcast) Name() string {
	return b.name
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcast) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscribe registers id as a receiver of future events.
func (b *Broadcast) Subscribe(id protocol.PeerID) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribeLocked(id)
}

// Publish delivers ev to every subscriber except its origin and returns how
// many accepted it. Publishing to an empty session is a no-op.
func (b *Broadcast) Publish(ev Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishLocked(ev)
}

func (b *Broadcast) subscribeLocked(id protocol.PeerID) *Subscription {
	q := NewQueue[Event](b.capacity)
	b.subs[id] = q
	return &Subscription{ID: id, broadcast: b, queue: q}
}

func (b *Broadcast) publishLocked(ev Event) int {
	delivered := 0
	for id, q := range b.subs {
		if id == ev.Origin() {
			continue
		}
		if !q.Push(ev) {
			logrus.WithFields(logrus.Fields{
				"session": b.name,
				"peer":    id,
				"origin":  ev.Origin(),
			}).Warn("Subscriber backlog full, session event dropped")
			continue
		}
		delivered++
	}
	return delivered
}

// enter subscribes id and announces it in one step, so any two peers are
// introduced exactly once: the earlier one receives the later one's Hello.
func (b *Broadcast) enter(id protocol.PeerID, direct *Direct) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := b.subscribeLocked(id)
	b.publishLocked(Hello{From: id, Direct: direct})
	return sub
}

// leave unsubscribes and announces the departure. It returns the number of
// remaining subscribers.
func (b *Broadcast) leave(sub *Subscription) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.subs[sub.ID]; ok && q == sub.queue {
		delete(b.subs, sub.ID)
		q.Close()
		b.publishLocked(Goodbye{From: sub.ID})
	}
	return len(b.subs)
}

// Subscription is one handler's view of a session broadcast.
type Subscription struct {
	ID protocol.PeerID

	broadcast *Broadcast
	queue     *Queue[Event]
}

func (s *Subscription) Session() string {
	return s.broadcast.name
}

func (s *Subscription) Ready() <-chan struct{} {
	return s.queue.Ready()
}

// Drain returns the pending events in publish order.
func (s *Subscription) Drain() []Event {
	return s.queue.Drain()
}
