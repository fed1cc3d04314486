package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"zedd/audio"
	"zedd/log"
)

const (
	DefaultDeepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	DefaultDeepgramModel    = "nova-3"

	deepgramUtteranceEndMs = 1000
	deepgramEndpointingMs  = 300
	deepgramWriteTimeout   = 5 * time.Second
	audioChunkBuffer       = 64
)

var ErrNoAPIKey = errors.New("DEEPGRAM_API_KEY not set")

type DeepgramConfig struct {
	APIKey   string
	Endpoint string
	Model    string
	Audio    audio.Context
	Device   *audio.DeviceInfo
	Dialer   *websocket.Dialer
}

// Deepgram streams microphone PCM to Deepgram's live endpoint. Interim
// results become Partial events; the utterance's committed text becomes
// the attempt's Final event.
type Deepgram struct {
	cfg    DeepgramConfig
	events *eventQueue

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultDeepgramEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDeepgramModel
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	return &Deepgram{cfg: cfg, events: newEventQueue()}
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) Events() <-chan Event { return d.events.ch }

func (d *Deepgram) Begin(req Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.endLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.cancel, d.done = cancel, done
	go func() {
		defer close(done)
		if ev, ok := d.attempt(ctx, req); ok && ctx.Err() == nil {
			d.events.push(ctx, ev)
		}
	}()
}

func (d *Deepgram) End() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endLocked()
}

func (d *Deepgram) endLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel, d.done = nil, nil
}

func (d *Deepgram) Close() error {
	d.mu.Lock()
	d.endLocked()
	d.closed = true
	d.mu.Unlock()
	d.events.close()
	return nil
}

// attempt runs one recognition attempt and returns its terminal event.
// The microphone is released before it returns, so the caller emits the
// terminal event only after the device is free again.
func (d *Deepgram) attempt(ctx context.Context, req Request) (Event, bool) {
	if d.cfg.APIKey == "" {
		return Failure(req.Attempt, CodeClient, fmt.Errorf("%w: %w", ErrUnavailable, ErrNoAPIKey)), true
	}
	if d.cfg.Audio == nil {
		return Failure(req.Attempt, CodeAudio, fmt.Errorf("%w: no audio context", ErrUnavailable)), true
	}

	owner := "deepgram#" + strconv.FormatUint(req.Attempt, 10)
	if err := audio.Mic.TryAcquire(owner); err != nil {
		return Failure(req.Attempt, CodeBusy, fmt.Errorf("%w: %w", ErrUnavailable, err)), true
	}
	defer audio.Mic.Release(owner)

	capture, err := d.cfg.Audio.NewCapture(d.cfg.Device, audio.DefaultCaptureConfig())
	if err != nil {
		return Failure(req.Attempt, CodeInsufficientPermissions, fmt.Errorf("%w: open capture: %w", ErrUnavailable, err)), true
	}
	defer capture.Close()

	conn, err := d.dial(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Event{}, false
		}
		return Failure(req.Attempt, dialErrorCode(err), fmt.Errorf("%w: dial: %w", ErrTransient, err)), true
	}
	defer conn.Close()

	return d.stream(ctx, req, conn, capture)
}

func (d *Deepgram) listenURL(req Request) (string, error) {
	endpoint, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	q := endpoint.Query()
	q.Set("model", d.cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(audio.SampleRate))
	q.Set("channels", strconv.Itoa(audio.Channels))
	q.Set("interim_results", strconv.FormatBool(req.PartialResults))
	q.Set("utterance_end_ms", strconv.Itoa(deepgramUtteranceEndMs))
	q.Set("endpointing", strconv.Itoa(deepgramEndpointingMs))
	// results are matched against the stop keyword, so keep them unformatted
	q.Set("smart_format", "false")
	q.Set("punctuate", "false")
	q.Set("numerals", strconv.FormatBool(req.LanguageModel == LanguageModelWebSearch))
	if req.Language != "" {
		q.Set("language", req.Language)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

func (d *Deepgram) dial(ctx context.Context, req Request) (*websocket.Conn, error) {
	u, err := d.listenURL(req)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, resp, err := d.cfg.Dialer.DialContext(ctx, u, headers)
	if err != nil {
		if resp != nil {
			return nil, &statusError{status: resp.StatusCode, err: err}
		}
		return nil, err
	}
	return conn, nil
}

type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return fmt.Sprintf("http %d: %v", e.status, e.err) }
func (e *statusError) Unwrap() error { return e.err }

func dialErrorCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.status == http.StatusUnauthorized || se.status == http.StatusForbidden:
			return CodeInsufficientPermissions
		case se.status == http.StatusTooManyRequests:
			return CodeBusy
		case se.status >= 500:
			return CodeServer
		}
		return CodeClient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeNetworkTimeout
	}
	return CodeNetwork
}

type deepgramStreamResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	Description string `json:"description"`
}

func (r *deepgramStreamResponse) transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript)
}

// utterance accumulates is_final segments until the speaker finishes.
type utterance struct {
	committed []string
}

func (u *utterance) commit(text string) {
	if text != "" {
		u.committed = append(u.committed, text)
	}
}

func (u *utterance) with(interim string) string {
	if interim == "" {
		return u.text()
	}
	return strings.Join(append(append([]string(nil), u.committed...), interim), " ")
}

func (u *utterance) text() string {
	return strings.Join(u.committed, " ")
}

// final is the committed text without trailing sentence punctuation.
func (u *utterance) final() string {
	return strings.TrimRight(u.text(), ".!?,;: ")
}

func (d *Deepgram) stream(ctx context.Context, req Request, conn *websocket.Conn, capture audio.CaptureDevice) (Event, bool) {
	streamDone := make(chan struct{})
	var senderDone chan struct{}
	defer func() {
		close(streamDone)
		if senderDone != nil {
			<-senderDone
		}
	}()

	// unblock ReadMessage when the attempt is ended
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-streamDone:
		}
	}()

	chunks := make(chan []byte, audioChunkBuffer)
	capture.SetCallback(func(data []byte, _ uint32) {
		select {
		case chunks <- data:
		default:
			log.Debugf("deepgram: dropped %d bytes of audio", len(data))
		}
	})
	defer capture.ClearCallback()
	if err := capture.Start(); err != nil {
		return Failure(req.Attempt, CodeAudio, fmt.Errorf("%w: start capture: %w", ErrUnavailable, err)), true
	}
	defer capture.Stop()

	if !d.events.push(ctx, Ready(req.Attempt)) {
		return Event{}, false
	}

	senderDone = make(chan struct{})
	go func() {
		defer close(senderDone)
		for {
			select {
			case <-streamDone:
				conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
				return
			case pcm := <-chunks:
				conn.SetWriteDeadline(time.Now().Add(deepgramWriteTimeout))
				if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
					return
				}
			}
		}
	}()

	var u utterance
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, false
			}
			if text := u.final(); text != "" {
				return Final(req.Attempt, text), true
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return Failure(req.Attempt, CodeSpeechTimeout, fmt.Errorf("%w: stream closed without speech", ErrTransient)), true
			}
			return Failure(req.Attempt, CodeNetwork, fmt.Errorf("%w: read: %w", ErrTransient, err)), true
		}

		var resp deepgramStreamResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return Failure(req.Attempt, CodeServer, fmt.Errorf("%w: decode: %w", ErrTransient, err)), true
		}

		switch resp.Type {
		case "Results":
			transcript := resp.transcript()
			if !resp.IsFinal {
				if req.PartialResults && transcript != "" {
					if !d.events.push(ctx, Partial(req.Attempt, u.with(transcript))) {
						return Event{}, false
					}
				}
				continue
			}
			u.commit(transcript)
			if resp.SpeechFinal || resp.FromFinalize {
				if text := u.final(); text != "" {
					return Final(req.Attempt, text), true
				}
				continue
			}
			if req.PartialResults && transcript != "" {
				if !d.events.push(ctx, Partial(req.Attempt, u.text())) {
					return Event{}, false
				}
			}
		case "UtteranceEnd":
			if text := u.final(); text != "" {
				return Final(req.Attempt, text), true
			}
		case "Error":
			return Failure(req.Attempt, CodeServer, fmt.Errorf("%w: %s", ErrTransient, resp.Description)), true
		}
	}
}
