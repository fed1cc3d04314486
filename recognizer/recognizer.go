package recognizer

import (
	"context"
	"sync"
)

const (
	LanguageModelFreeForm  = "free_form"
	LanguageModelWebSearch = "web_search"
)

// Request asks the service for one recognition attempt.
type Request struct {
	Attempt        uint64
	LanguageModel  string
	Language       string
	PartialResults bool
}

// Adapter wraps an external speech recognition service. Begin starts one
// attempt and must not block on the consumer of Events; failures, including
// a missing device or permission, arrive as KindError events. Each attempt
// ends with exactly one Final or Error event unless End cancels it first.
type Adapter interface {
	Name() string
	Begin(req Request)
	// End cancels the in-flight attempt and returns once the microphone is released.
	End()
	Events() <-chan Event
	Close() error
}

const eventBuffer = 64

// eventQueue is the FIFO shared by adapters. Attempt goroutines push with
// their context so a cancelled attempt never blocks on a slow consumer.
type eventQueue struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{ch: make(chan Event, eventBuffer)}
}

func (q *eventQueue) push(ctx context.Context, ev Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
