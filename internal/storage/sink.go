package storage

import (
	"log"
	"time"
)

// Sink adapts EventStore to the pipeline state's event-sink interface.
// Appends are fired on their own goroutine: the sink is called with the
// state lock held and a slow disk must not stall the pipeline.
type Sink struct {
	store *EventStore
}

// NewSink wraps a store for use as a state event sink.
func NewSink(store *EventStore) *Sink {
	return &Sink{store: store}
}

// AppendEvent persists one history entry. Failures are logged, never
// propagated; the in-memory rings remain the source of truth for status.
func (s *Sink) AppendEvent(kind, category, detail string, at time.Time) {
	go func() {
		if err := s.store.Append(kind, category, detail, at); err != nil {
			log.Printf("storage: journal append failed: %v", err)
		}
	}()
}
