package listener

import (
	"strings"
	"sync"
	"time"

	"zedd/log"
	"zedd/recognizer"
)

const (
	DefaultStopKeyword = "stop"
	DefaultBackoff     = 1000 * time.Millisecond
)

type Config struct {
	StopKeyword    string
	Backoff        time.Duration
	LanguageModel  string
	Language       string
	PartialResults bool

	// Display receives every UpdateText command. It is called with the
	// controller locked and must not call back into the controller.
	Display func(Command)
	// OnTransition observes state changes under the same lock as Display.
	OnTransition func(from, to State, reason string)
}

// DefaultConfig returns the continuous listening defaults: stop keyword
// "stop", one second error backoff, free-form model, partial results on.
func DefaultConfig() Config {
	return Config{
		StopKeyword:    DefaultStopKeyword,
		Backoff:        DefaultBackoff,
		LanguageModel:  recognizer.LanguageModelFreeForm,
		PartialResults: true,
	}
}

// Controller is the continuous listening state machine. Handle and
// OnAdapterEvent are its only inputs; both serialize on one mutex, which
// also guards every call into the adapter.
type Controller struct {
	adapter recognizer.Adapter
	cfg     Config
	keyword string

	mu      sync.Mutex
	state   State
	attempt uint64
	live    bool // attempt began and has not reached a terminal event or End
	backoff backoffTimer
	closed  bool
}

func NewController(adapter recognizer.Adapter, cfg Config) *Controller {
	return newController(adapter, cfg, realClock{})
}

func newController(adapter recognizer.Adapter, cfg Config, clk clock) *Controller {
	if cfg.StopKeyword == "" {
		cfg.StopKeyword = DefaultStopKeyword
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.LanguageModel == "" {
		cfg.LanguageModel = recognizer.LanguageModelFreeForm
	}
	return &Controller{
		adapter: adapter,
		cfg:     cfg,
		keyword: normalize(cfg.StopKeyword),
		backoff: backoffTimer{clock: clk, delay: cfg.Backoff},
	}
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(text), ".!?,;: "))
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the id of the most recent recognition attempt.
func (c *Controller) Attempt() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

func (c *Controller) Handle(cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	switch cmd.Type {
	case Start:
		switch c.state {
		case Idle:
			c.begin("start")
		case ErrorBackoff:
			c.backoff.cancel()
			c.begin("start")
		}
	case Stop:
		c.stop("stop")
	case UpdateText:
		c.display(cmd)
	}
}

func (c *Controller) OnAdapterEvent(ev recognizer.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.live || ev.Attempt != c.attempt {
		log.Debugf("listener: discarding stale %s", ev)
		return
	}

	switch ev.Kind {
	case recognizer.KindReady:
		if c.state == Starting {
			c.transition(Listening, "ready")
		}
	case recognizer.KindPartial:
		if c.state == Starting {
			c.transition(Listening, "partial")
		}
		if c.state == Listening {
			c.display(resultCommand(ev.Text, ResultPartial))
		}
	case recognizer.KindFinal:
		c.live = false
		if normalize(ev.Text) == c.keyword {
			c.adapter.End()
			c.transition(Idle, "keyword")
			return
		}
		if ev.Text != "" {
			c.display(resultCommand(ev.Text, ResultFinal))
		}
		c.begin("final")
	case recognizer.KindError:
		c.live = false
		log.RecognitionError(ev.Attempt, ev.Code, ev.AsError())
		c.transition(ErrorBackoff, "error")
		c.backoff.schedule(c.retry)
	}
}

// Close stops listening and makes every later input a no-op.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stop("close")
	c.closed = true
}

func (c *Controller) retry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.backoff.take(gen) || c.state != ErrorBackoff {
		return
	}
	c.begin("backoff")
}

func (c *Controller) begin(reason string) {
	c.attempt++
	c.live = true
	c.transition(Starting, reason)
	log.AttemptBegin(c.attempt, c.adapter.Name())
	c.adapter.Begin(recognizer.Request{
		Attempt:        c.attempt,
		LanguageModel:  c.cfg.LanguageModel,
		Language:       c.cfg.Language,
		PartialResults: c.cfg.PartialResults,
	})
}

func (c *Controller) stop(reason string) {
	if c.state == Idle {
		return
	}
	c.transition(Stopping, reason)
	c.backoff.cancel()
	c.live = false
	c.adapter.End()
	c.transition(Idle, reason)
}

func (c *Controller) transition(to State, reason string) {
	from := c.state
	c.state = to
	log.StateChange(from.String(), to.String(), reason)
	if c.cfg.OnTransition != nil {
		c.cfg.OnTransition(from, to, reason)
	}
}

func (c *Controller) display(cmd Command) {
	if c.cfg.Display != nil {
		c.cfg.Display(cmd)
	}
}
