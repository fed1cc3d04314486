package recognizer

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"zedd/audio"
)

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectNoEvent(t *testing.T, ch <-chan Event, d time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(d):
	}
}

func results(text string, isFinal, speechFinal bool) map[string]any {
	return map[string]any{
		"type":         "Results",
		"is_final":     isFinal,
		"speech_final": speechFinal,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": text}},
		},
	}
}

// fakeDeepgram upgrades the connection, drains audio, and runs script.
func fakeDeepgram(t *testing.T, script func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		script(conn, r)
		<-closed
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDeepgram(t *testing.T, srv *httptest.Server) *Deepgram {
	t.Helper()
	actx := audio.NewFakeContext(nil)
	actx.SetInterval(5 * time.Millisecond)
	d := NewDeepgram(DeepgramConfig{
		APIKey:   "test-key",
		Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http"),
		Audio:    actx,
	})
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDeepgramStreamsPartialsThenFinal(t *testing.T) {
	gotReq := make(chan *http.Request, 1)
	srv := fakeDeepgram(t, func(conn *websocket.Conn, r *http.Request) {
		gotReq <- r
		conn.WriteJSON(results("hello", false, false))
		conn.WriteJSON(results("hello", true, false))
		conn.WriteJSON(results("world", false, false))
		conn.WriteJSON(results("world", true, true))
	})
	d := newTestDeepgram(t, srv)

	d.Begin(Request{Attempt: 1, Language: "en-US", LanguageModel: LanguageModelFreeForm, PartialResults: true})

	if ev := nextEvent(t, d.Events()); ev.Kind != KindReady || ev.Attempt != 1 {
		t.Fatalf("first event = %v, want ready#1", ev)
	}
	var partials []string
	for {
		ev := nextEvent(t, d.Events())
		if ev.Kind == KindPartial {
			partials = append(partials, ev.Text)
			continue
		}
		if ev.Kind != KindFinal || ev.Text != "hello world" {
			t.Fatalf("terminal = %v, want final(hello world)", ev)
		}
		break
	}
	want := []string{"hello", "hello", "hello world"}
	if strings.Join(partials, "|") != strings.Join(want, "|") {
		t.Errorf("partials = %q, want %q", partials, want)
	}

	r := <-gotReq
	if got := r.Header.Get("Authorization"); got != "Token test-key" {
		t.Errorf("Authorization = %q", got)
	}
	q := r.URL.Query()
	if q.Get("language") != "en-US" || q.Get("interim_results") != "true" || q.Get("encoding") != "linear16" {
		t.Errorf("query = %v", q)
	}
	if q.Get("model") != DefaultDeepgramModel {
		t.Errorf("model = %q", q.Get("model"))
	}

	d.End()
	if h := audio.Mic.Holder(); h != "" {
		t.Errorf("mic still held by %q", h)
	}
}

func TestDeepgramUtteranceEndCommits(t *testing.T) {
	srv := fakeDeepgram(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.WriteJSON(results("turn on the lights", true, false))
		conn.WriteJSON(map[string]any{"type": "UtteranceEnd"})
	})
	d := newTestDeepgram(t, srv)
	d.Begin(Request{Attempt: 7, PartialResults: false})

	nextEvent(t, d.Events()) // ready
	ev := nextEvent(t, d.Events())
	if ev.Kind != KindFinal || ev.Text != "turn on the lights" || ev.Attempt != 7 {
		t.Fatalf("got %v", ev)
	}
}

func TestDeepgramCloseWithoutSpeech(t *testing.T) {
	srv := fakeDeepgram(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	d := newTestDeepgram(t, srv)
	d.Begin(Request{Attempt: 2})

	nextEvent(t, d.Events()) // ready
	ev := nextEvent(t, d.Events())
	if ev.Kind != KindError || ev.Code != CodeSpeechTimeout {
		t.Fatalf("got %v, want speech timeout", ev)
	}
	if !errors.Is(ev.AsError(), ErrTransient) {
		t.Errorf("AsError = %v, want ErrTransient", ev.AsError())
	}
	if h := audio.Mic.Holder(); h != "" {
		t.Errorf("mic still held by %q after terminal event", h)
	}
}

func TestDeepgramEndSuppressesTerminal(t *testing.T) {
	srv := fakeDeepgram(t, func(*websocket.Conn, *http.Request) {})
	d := newTestDeepgram(t, srv)
	d.Begin(Request{Attempt: 3})

	nextEvent(t, d.Events()) // ready
	d.End()
	if h := audio.Mic.Holder(); h != "" {
		t.Fatalf("mic still held by %q after End", h)
	}
	expectNoEvent(t, d.Events(), 100*time.Millisecond)
}

func TestDeepgramMissingKey(t *testing.T) {
	d := NewDeepgram(DeepgramConfig{Audio: audio.NewFakeContext(nil)})
	defer d.Close()
	d.Begin(Request{Attempt: 1})

	ev := nextEvent(t, d.Events())
	if ev.Kind != KindError || ev.Code != CodeClient {
		t.Fatalf("got %v", ev)
	}
	if !errors.Is(ev.Err, ErrNoAPIKey) || !errors.Is(ev.AsError(), ErrUnavailable) {
		t.Errorf("err = %v", ev.Err)
	}
}

func TestDeepgramMicBusy(t *testing.T) {
	if err := audio.Mic.TryAcquire("other"); err != nil {
		t.Fatal(err)
	}
	defer audio.Mic.Release("other")

	d := NewDeepgram(DeepgramConfig{APIKey: "k", Audio: audio.NewFakeContext(nil)})
	defer d.Close()
	d.Begin(Request{Attempt: 1})

	ev := nextEvent(t, d.Events())
	if ev.Kind != KindError || ev.Code != CodeBusy {
		t.Fatalf("got %v, want busy", ev)
	}
	if !errors.Is(ev.Err, audio.ErrMicBusy) {
		t.Errorf("err = %v", ev.Err)
	}
}

func TestDeepgramCaptureDenied(t *testing.T) {
	actx := audio.NewFakeContext(nil)
	actx.FailNewCapture(errors.New("permission denied"))
	d := NewDeepgram(DeepgramConfig{APIKey: "k", Audio: actx})
	defer d.Close()
	d.Begin(Request{Attempt: 1})

	ev := nextEvent(t, d.Events())
	if ev.Kind != KindError || ev.Code != CodeInsufficientPermissions {
		t.Fatalf("got %v", ev)
	}
	if h := audio.Mic.Holder(); h != "" {
		t.Errorf("mic still held by %q", h)
	}
}

func TestDeepgramUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	d := newTestDeepgram(t, srv)
	d.Begin(Request{Attempt: 1})

	ev := nextEvent(t, d.Events())
	if ev.Kind != KindError || ev.Code != CodeInsufficientPermissions {
		t.Fatalf("got %v", ev)
	}
}

func TestDialErrorCode(t *testing.T) {
	for _, tt := range []struct {
		status int
		want   int
	}{
		{http.StatusUnauthorized, CodeInsufficientPermissions},
		{http.StatusTooManyRequests, CodeBusy},
		{http.StatusBadGateway, CodeServer},
		{http.StatusBadRequest, CodeClient},
	} {
		err := &statusError{status: tt.status, err: websocket.ErrBadHandshake}
		if got := dialErrorCode(err); got != tt.want {
			t.Errorf("status %d: code %d, want %d", tt.status, got, tt.want)
		}
	}
	if got := dialErrorCode(errors.New("connection refused")); got != CodeNetwork {
		t.Errorf("plain error: code %d", got)
	}
}

func TestListenURLKeepsResultsUnformatted(t *testing.T) {
	d := NewDeepgram(DeepgramConfig{APIKey: "k", Audio: audio.NewFakeContext(nil)})
	defer d.Close()

	for _, tt := range []struct {
		model    string
		numerals string
	}{
		{LanguageModelFreeForm, "false"},
		{LanguageModelWebSearch, "true"},
	} {
		u, err := d.listenURL(Request{LanguageModel: tt.model, Language: "en-US"})
		if err != nil {
			t.Fatal(err)
		}
		parsed, err := url.Parse(u)
		if err != nil {
			t.Fatal(err)
		}
		q := parsed.Query()
		if q.Get("smart_format") != "false" || q.Get("punctuate") != "false" {
			t.Errorf("%s: formatting enabled: %v", tt.model, q)
		}
		if q.Get("numerals") != tt.numerals {
			t.Errorf("%s: numerals = %q, want %s", tt.model, q.Get("numerals"), tt.numerals)
		}
	}
}

func TestDeepgramFinalDropsTrailingPunctuation(t *testing.T) {
	srv := fakeDeepgram(t, func(conn *websocket.Conn, _ *http.Request) {
		conn.WriteJSON(results("Stop.", true, true))
	})
	d := newTestDeepgram(t, srv)
	d.Begin(Request{Attempt: 4, LanguageModel: LanguageModelFreeForm})

	nextEvent(t, d.Events()) // ready
	ev := nextEvent(t, d.Events())
	if ev.Kind != KindFinal || ev.Text != "Stop" {
		t.Fatalf("got %v, want final(Stop)", ev)
	}
}
