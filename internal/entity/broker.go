package entity

import "sync"

// broker fans one store's snapshots out to its subscriptions.
//
// Each subscription holds a one-slot mailbox. publish replaces an unread
// snapshot with the newer one, so a slow consumer skips generations but
// never sees them out of order, and a publish never blocks on a consumer.
// The store calls publish with its own lock held, which makes publishes
// totally ordered.
type broker struct {
	mu   sync.Mutex
	subs []*Subscription
}

func (b *broker) add(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

func (b *broker) remove(sub *Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return true
		}
	}
	return false
}

// publish delivers snap to every subscription. With no subscriptions the
// snapshot is dropped silently.
func (b *broker) publish(snap *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.offer(snap)
	}
}

// len returns the number of open subscriptions.
func (b *broker) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// closeAll closes every subscription, ending consumers' range loops.
func (b *broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

// Subscription receives a store's snapshots until closed.
type Subscription struct {
	ch     chan *Snapshot
	broker *broker
}

func newSubscription(b *broker) *Subscription {
	return &Subscription{ch: make(chan *Snapshot, 1), broker: b}
}

// C returns the channel snapshots arrive on. It is closed by Close or when
// the registry shuts down.
func (s *Subscription) C() <-chan *Snapshot {
	return s.ch
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.broker.remove(s)
}

// offer replaces any unread snapshot with snap. Called with broker.mu held.
func (s *Subscription) offer(snap *Snapshot) {
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}
