package pipeline

import (
	"log"
	"sync"
	"time"

	"github.com/btaudio/bridge/internal/state"
)

// DefaultStatusInterval is the broadcaster tick interval.
const DefaultStatusInterval = 2 * time.Second

// Subscriber is an abstract push channel for status snapshots.
// Send must be bounded: a slow consumer returns an error instead of
// blocking the broadcast tick. Close releases the underlying transport.
type Subscriber interface {
	Send(snap state.Snapshot) error
	Close()
}

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID uint64

// Broadcaster periodically serializes the pipeline state and pushes it to
// every subscriber. Subscribers whose push fails are pruned during the
// same tick; iteration happens over a copy of the set so pruning never
// corrupts it.
type Broadcaster struct {
	ps       *state.PipelineState
	interval time.Duration

	mu     sync.Mutex
	subs   map[SubscriptionID]Subscriber
	nextID SubscriptionID
	stop   chan struct{}
	done   chan struct{}
}

// NewBroadcaster creates a broadcaster over the given state.
// A non-positive interval selects the default.
func NewBroadcaster(ps *state.PipelineState, interval time.Duration) *Broadcaster {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	return &Broadcaster{
		ps:       ps,
		interval: interval,
		subs:     make(map[SubscriptionID]Subscriber),
	}
}

// Subscribe registers a subscriber and returns its handle.
func (b *Broadcaster) Subscribe(sub Subscriber) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[id] = sub
	return id
}

// Unsubscribe removes and closes a subscriber. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if ok {
		sub.Close()
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Start launches the periodic broadcast loop. No-op if already running.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		return
	}
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.run(b.stop, b.done)
}

// Stop cancels the broadcast loop, waits for it to finish, and closes all
// remaining subscribers. Safe to call multiple times.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	stop := b.stop
	done := b.done
	b.stop = nil
	b.done = nil
	b.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[SubscriptionID]Subscriber)
	b.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

func (b *Broadcaster) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.broadcast()
		}
	}
}

// broadcast pushes one snapshot to every subscriber, pruning failures.
func (b *Broadcaster) broadcast() {
	snap := b.ps.Snapshot()

	// Copy the set so a prune during iteration can't corrupt it.
	b.mu.Lock()
	targets := make(map[SubscriptionID]Subscriber, len(b.subs))
	for id, sub := range b.subs {
		targets[id] = sub
	}
	b.mu.Unlock()

	for id, sub := range targets {
		if err := sub.Send(snap); err != nil {
			log.Printf("broadcast: dropping subscriber %d: %v", id, err)
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.Close()
		}
	}
}
