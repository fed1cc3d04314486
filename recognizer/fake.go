package recognizer

import (
	"context"
	"sync"
)

// Fake is a scripted Adapter. Tests and the headless test mode drive it
// with Emit; it records every Begin and End call.
type Fake struct {
	events *eventQueue
	ctx    context.Context
	cancel context.CancelFunc

	// AutoReady emits Ready as soon as an attempt begins.
	AutoReady bool

	mu       sync.Mutex
	requests []Request
	current  uint64
	active   bool
	ends     int
}

func NewFake() *Fake {
	ctx, cancel := context.WithCancel(context.Background())
	return &Fake{events: newEventQueue(), ctx: ctx, cancel: cancel}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Events() <-chan Event { return f.events.ch }

func (f *Fake) Begin(req Request) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.current = req.Attempt
	f.active = true
	auto := f.AutoReady
	f.mu.Unlock()
	if auto {
		f.events.push(f.ctx, Ready(req.Attempt))
	}
}

func (f *Fake) End() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.ends++
	}
	f.active = false
}

func (f *Fake) Close() error {
	f.End()
	f.cancel()
	f.events.close()
	return nil
}

// Emit delivers ev as if the service had produced it. A zero Attempt is
// filled with the most recent attempt. It reports false once the fake is
// closed.
func (f *Fake) Emit(ev Event) bool {
	if ev.Attempt == 0 {
		f.mu.Lock()
		ev.Attempt = f.current
		f.mu.Unlock()
	}
	return f.events.push(f.ctx, ev)
}

// Requests returns a copy of every Begin request so far.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

func (f *Fake) Begins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Ends counts End calls that cancelled an active attempt.
func (f *Fake) Ends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ends
}

// Active reports whether an attempt is in flight.
func (f *Fake) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *Fake) Current() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}
