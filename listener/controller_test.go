package listener

import (
	"strings"
	"sync"
	"testing"
	"time"

	"zedd/recognizer"
)

type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

// fakeClock fires AfterFunc callbacks only when the test advances it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// fireAll runs every callback ever scheduled, including stopped ones,
// as if each had already been dequeued by the runtime when Stop ran.
func (c *fakeClock) fireAll() {
	c.mu.Lock()
	all := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range all {
		t.f()
	}
}

type harness struct {
	t       *testing.T
	c       *Controller
	adapter *recognizer.Fake
	clock   *fakeClock

	mu          sync.Mutex
	updates     []Command
	transitions []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, adapter: recognizer.NewFake(), clock: &fakeClock{}}
	cfg := DefaultConfig()
	cfg.Display = func(cmd Command) {
		h.mu.Lock()
		h.updates = append(h.updates, cmd)
		h.mu.Unlock()
	}
	cfg.OnTransition = func(from, to State, reason string) {
		h.mu.Lock()
		h.transitions = append(h.transitions, from.String()+">"+to.String())
		h.mu.Unlock()
	}
	h.c = newController(h.adapter, cfg, h.clock)
	t.Cleanup(func() {
		h.c.Close()
		h.adapter.Close()
	})
	return h
}

func (h *harness) emit(ev recognizer.Event) {
	if ev.Attempt == 0 {
		ev.Attempt = h.c.Attempt()
	}
	h.c.OnAdapterEvent(ev)
}

func (h *harness) texts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, u := range h.updates {
		out = append(out, u.Text)
	}
	return out
}

func (h *harness) expectState(want State) {
	h.t.Helper()
	if got := h.c.State(); got != want {
		h.t.Fatalf("state = %s, want %s", got, want)
	}
}

func (h *harness) expectBegins(want int) {
	h.t.Helper()
	if got := h.adapter.Begins(); got != want {
		h.t.Fatalf("begins = %d, want %d", got, want)
	}
}

func (h *harness) expectTexts(want ...string) {
	h.t.Helper()
	got := h.texts()
	if strings.Join(got, "|") != strings.Join(want, "|") || len(got) != len(want) {
		h.t.Fatalf("updates = %q, want %q", got, want)
	}
}

func TestScenarioPartialsThenFinalRestarts(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.emit(recognizer.Partial(0, "turn"))
	h.emit(recognizer.Partial(0, "turn on"))
	h.emit(recognizer.Final(0, "turn on lights"))

	h.expectTexts("turn", "turn on", "turn on lights")
	h.expectState(Starting)
	h.expectBegins(2)

	h.mu.Lock()
	kinds := []Result{h.updates[0].Result, h.updates[1].Result, h.updates[2].Result}
	h.mu.Unlock()
	if kinds[0] != ResultPartial || kinds[1] != ResultPartial || kinds[2] != ResultFinal {
		t.Errorf("results = %v", kinds)
	}
}

func TestScenarioStopKeyword(t *testing.T) {
	for _, text := range []string{"Stop", "  STOP\n", "stop"} {
		t.Run(strings.TrimSpace(text), func(t *testing.T) {
			h := newHarness(t)
			h.c.Handle(StartCommand())
			h.emit(recognizer.Final(0, text))

			h.expectTexts()
			h.expectState(Idle)
			h.expectBegins(1)
			if h.adapter.Ends() != 1 {
				t.Fatalf("ends = %d, want 1", h.adapter.Ends())
			}
			h.clock.Advance(time.Hour)
			h.expectBegins(1)
		})
	}
}

func TestStopKeywordMustMatchWholeResult(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.emit(recognizer.Final(0, "stop the music"))
	h.expectTexts("stop the music")
	h.expectState(Starting)
	h.expectBegins(2)
}

func TestStopKeywordIgnoresTrailingPunctuation(t *testing.T) {
	for _, text := range []string{"Stop.", "stop!", " STOP? "} {
		h := newHarness(t)
		h.c.Handle(StartCommand())
		h.emit(recognizer.Final(0, text))
		h.expectState(Idle)
		h.expectTexts()
		h.expectBegins(1)
	}
}

func TestScenarioErrorThenStopCancelsRetry(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.emit(recognizer.Failure(0, recognizer.CodeNetworkTimeout, nil))
	h.expectState(ErrorBackoff)

	h.clock.Advance(500 * time.Millisecond)
	h.c.Handle(StopCommand())
	h.expectState(Idle)

	h.clock.Advance(10 * time.Second)
	h.expectState(Idle)
	h.expectBegins(1)
	h.expectTexts()
}

func TestErrorRetriesExactlyOnceAfterBackoff(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.emit(recognizer.Failure(0, recognizer.CodeInsufficientPermissions, nil))

	h.clock.Advance(DefaultBackoff - time.Millisecond)
	h.expectBegins(1)
	h.clock.Advance(time.Millisecond)
	h.expectBegins(2)
	h.expectState(Starting)

	h.clock.Advance(time.Hour)
	h.expectBegins(2)
}

func TestEveryErrorCodeIsRetried(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	for code := recognizer.CodeNetworkTimeout; code <= recognizer.CodeInsufficientPermissions; code++ {
		h.emit(recognizer.Failure(0, code, nil))
		h.expectState(ErrorBackoff)
		h.clock.Advance(DefaultBackoff)
		h.expectState(Starting)
	}
	h.expectBegins(10)
}

func TestStaleTimerFireIsNoop(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.emit(recognizer.Failure(0, recognizer.CodeNetwork, nil))
	h.c.Handle(StopCommand())

	// the callback runs anyway, as if it lost the race with Stop
	h.clock.fireAll()
	h.expectState(Idle)
	h.expectBegins(1)

	// a new session must not be disturbed by the old generation either
	h.c.Handle(StartCommand())
	h.clock.fireAll()
	h.expectBegins(2)
	h.expectState(Starting)
}

func TestStartIsIdempotentWhileActive(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.c.Handle(StartCommand())
	h.expectBegins(1)
	h.emit(recognizer.Ready(0))
	h.expectState(Listening)
	h.c.Handle(StartCommand())
	h.expectBegins(1)
	h.expectState(Listening)
}

func TestStartDuringBackoffBeginsNow(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.emit(recognizer.Failure(0, recognizer.CodeServer, nil))
	h.c.Handle(StartCommand())
	h.expectBegins(2)
	h.expectState(Starting)

	h.clock.Advance(time.Hour)
	h.expectBegins(2)
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StopCommand())
	h.expectState(Idle)
	if h.adapter.Ends() != 0 {
		t.Fatal("End called while idle")
	}
	h.mu.Lock()
	n := len(h.transitions)
	h.mu.Unlock()
	if n != 0 {
		t.Fatalf("transitions = %d, want 0", n)
	}
}

func TestStopDiscardsLaterResults(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.emit(recognizer.Ready(0))
	h.emit(recognizer.Partial(0, "hel"))
	attempt := h.c.Attempt()
	h.c.Handle(StopCommand())

	h.expectState(Idle)
	if h.adapter.Ends() != 1 {
		t.Fatalf("ends = %d", h.adapter.Ends())
	}
	h.emit(recognizer.Partial(attempt, "hello"))
	h.emit(recognizer.Final(attempt, "hello"))
	h.emit(recognizer.Failure(attempt, recognizer.CodeClient, nil))
	h.clock.Advance(time.Hour)

	h.expectTexts("hel")
	h.expectState(Idle)
	h.expectBegins(1)

	h.mu.Lock()
	got := strings.Join(h.transitions, ",")
	h.mu.Unlock()
	if !strings.Contains(got, "listening>stopping,stopping>idle") {
		t.Errorf("transitions = %s", got)
	}
}

func TestEventsFromEndedAttemptAreDiscarded(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	old := h.c.Attempt()
	h.emit(recognizer.Final(0, "first"))

	h.emit(recognizer.Partial(old, "late partial"))
	h.emit(recognizer.Failure(old, recognizer.CodeNetwork, nil))
	h.expectState(Starting)
	h.expectTexts("first")
	h.clock.Advance(time.Hour)
	h.expectBegins(2)
}

func TestPartialWithoutReadyEntersListening(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.expectState(Starting)
	h.emit(recognizer.Partial(0, "a"))
	h.expectState(Listening)
	h.emit(recognizer.Ready(0))
	h.expectState(Listening)
}

func TestPartialsForwardedVerbatimInOrder(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	want := []string{"  Turn", "Turn ON ", "", "turn on the"}
	for _, p := range want {
		h.emit(recognizer.Partial(0, p))
	}
	h.expectTexts(want...)
}

func TestEmptyFinalRestartsWithoutUpdate(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.emit(recognizer.Final(0, ""))
	h.expectTexts()
	h.expectBegins(2)
	h.expectState(Starting)
}

func TestHostUpdateTextIsForwarded(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(UpdateTextCommand("ready when you are"))
	h.expectTexts("ready when you are")
	h.mu.Lock()
	r := h.updates[0].Result
	h.mu.Unlock()
	if r != ResultNone {
		t.Errorf("host text result = %v", r)
	}
	h.expectState(Idle)
}

func TestCustomStopKeyword(t *testing.T) {
	adapter := recognizer.NewFake()
	defer adapter.Close()
	cfg := DefaultConfig()
	cfg.StopKeyword = " That Is All "
	c := newController(adapter, cfg, &fakeClock{})
	defer c.Close()

	c.Handle(StartCommand())
	c.OnAdapterEvent(recognizer.Final(c.Attempt(), "that is all"))
	if c.State() != Idle {
		t.Fatalf("state = %s", c.State())
	}
}

func TestRequestCarriesLanguageSettings(t *testing.T) {
	adapter := recognizer.NewFake()
	defer adapter.Close()
	cfg := DefaultConfig()
	cfg.Language = "de-DE"
	c := newController(adapter, cfg, &fakeClock{})
	defer c.Close()

	c.Handle(StartCommand())
	reqs := adapter.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	r := reqs[0]
	if r.Attempt != 1 || r.Language != "de-DE" || r.LanguageModel != recognizer.LanguageModelFreeForm || !r.PartialResults {
		t.Fatalf("request = %+v", r)
	}
}

func TestCloseCancelsAndIgnoresInput(t *testing.T) {
	h := newHarness(t)
	h.c.Handle(StartCommand())
	h.emit(recognizer.Failure(0, recognizer.CodeNetwork, nil))
	h.c.Close()
	h.c.Close()

	h.clock.Advance(time.Hour)
	h.c.Handle(StartCommand())
	h.expectBegins(1)
	h.expectState(Idle)
}

func TestRealClockBackoff(t *testing.T) {
	adapter := recognizer.NewFake()
	defer adapter.Close()
	cfg := DefaultConfig()
	cfg.Backoff = 20 * time.Millisecond
	c := NewController(adapter, cfg)
	defer c.Close()

	c.Handle(StartCommand())
	c.OnAdapterEvent(recognizer.Failure(c.Attempt(), recognizer.CodeNoMatch, nil))
	deadline := time.After(2 * time.Second)
	for adapter.Begins() < 2 {
		select {
		case <-deadline:
			t.Fatal("backoff never restarted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if c.State() != Starting {
		t.Fatalf("state = %s", c.State())
	}
}

func TestStateStrings(t *testing.T) {
	want := map[State]string{
		Idle: "idle", Starting: "starting", Listening: "listening",
		Stopping: "stopping", ErrorBackoff: "error_backoff",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), name)
		}
	}
}

func TestStateActive(t *testing.T) {
	for s, want := range map[State]bool{
		Idle: false, Starting: true, Listening: true, Stopping: false, ErrorBackoff: true,
	} {
		if s.Active() != want {
			t.Errorf("%s.Active() = %v, want %v", s, s.Active(), want)
		}
	}
}
