package bridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"zedd/log"
)

const Name = "overlay_channel"

// Method names carried over the bridge.
const (
	MethodStartListening       = "startListening"
	MethodStopListening        = "stopListening"
	MethodOnPartialResult      = "onPartialResult"
	MethodOnCommandResult      = "onCommandResult"
	MethodUpdateOverlayContent = "updateOverlayContent"
)

const (
	KindControl = "control"
	KindDisplay = "display"
)

// ErrUnreachable marks a call that found no handler on the receiving end.
// It is counted and logged, never returned to the sender.
var ErrUnreachable = errors.New("bridge endpoint unreachable")

type Call struct {
	Method string `json:"method"`
	Text   string `json:"text,omitempty"`
}

type Handler func(Call)

type item struct {
	call    Call
	barrier chan struct{}
}

// Channel is one direction of the bridge. Calls are delivered in send
// order by a single goroutine, at most once each.
type Channel struct {
	kind string

	mu      sync.Mutex
	handler Handler
	owner   string
	queue   fifo[item]
	wake    chan struct{}
	closed  bool
	done    chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
	lastDrop  atomic.Pointer[error]
}

func newChannel(kind string) *Channel {
	c := &Channel{
		kind: kind,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Channel) Name() string { return Name + "/" + c.kind }

func (c *Channel) Kind() string { return c.kind }

// Invoke queues method(text) and returns immediately.
func (c *Channel) Invoke(method, text string) {
	c.Send(Call{Method: method, Text: text})
}

func (c *Channel) Send(call Call) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.drop(call)
		return
	}
	c.queue.push(item{call: call})
	c.mu.Unlock()
	c.notify()
}

// SetHandler attaches h as the receiving endpoint; nil detaches it.
func (c *Channel) SetHandler(h Handler) {
	c.attach("", h)
}

func (c *Channel) attach(owner string, h Handler) {
	c.mu.Lock()
	c.handler, c.owner = h, owner
	c.mu.Unlock()
}

// detach clears the handler only if owner still holds it.
func (c *Channel) detach(owner string) {
	c.mu.Lock()
	if c.owner == owner {
		c.handler, c.owner = nil, ""
	}
	c.mu.Unlock()
}

// Attached reports whether a receiving endpoint is present.
func (c *Channel) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// Flush blocks until every call sent before it has been delivered or dropped.
func (c *Channel) Flush() {
	barrier := make(chan struct{})
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue.push(item{barrier: barrier})
	c.mu.Unlock()
	c.notify()
	select {
	case <-barrier:
	case <-c.done:
	}
}

func (c *Channel) Delivered() uint64 { return c.delivered.Load() }

func (c *Channel) Dropped() uint64 { return c.dropped.Load() }

// Close stops delivery. Queued calls are dropped.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.queue.items
	c.queue.reset()
	c.handler, c.owner = nil, ""
	c.mu.Unlock()

	for _, it := range pending {
		if it.barrier != nil {
			close(it.barrier)
			continue
		}
		c.drop(it.call)
	}
	c.notify()
	<-c.done
}

func (c *Channel) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) drop(call Call) {
	err := fmt.Errorf("%w: %s %s", ErrUnreachable, c.Name(), call.Method)
	c.lastDrop.Store(&err)
	c.dropped.Add(1)
	log.BridgeDrop(c.Name(), call.Method)
}

// Err returns the most recent drop, wrapping ErrUnreachable, or nil.
func (c *Channel) Err() error {
	if p := c.lastDrop.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Channel) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		it, ok := c.queue.pop()
		h := c.handler
		c.mu.Unlock()

		if !ok {
			<-c.wake
			continue
		}
		if it.barrier != nil {
			close(it.barrier)
			continue
		}
		if h == nil {
			c.drop(it.call)
			continue
		}
		h(it.call)
		c.delivered.Add(1)
	}
}

// Bridge pairs the control channel (overlay to listener) with the
// display channel (listener to overlay).
type Bridge struct {
	Control *Channel
	Display *Channel

	closeOnce sync.Once
}

func New() *Bridge {
	return &Bridge{
		Control: newChannel(KindControl),
		Display: newChannel(KindDisplay),
	}
}

// Channel returns the channel of the given kind, or nil.
func (b *Bridge) Channel(kind string) *Channel {
	switch kind {
	case KindControl:
		return b.Control
	case KindDisplay:
		return b.Display
	}
	return nil
}

func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.Control.Close()
		b.Display.Close()
	})
}
