package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"zedd/audio"
	"zedd/beep"
	"zedd/bridge"
	"zedd/config"
	"zedd/hotkey"
	"zedd/listener"
	"zedd/log"
	"zedd/overlay"
	"zedd/recognizer"
	"zedd/shutdown"
)

func serviceConfig(c config.Config, onTransition func(from, to listener.State, reason string)) listener.ServiceConfig {
	return listener.ServiceConfig{
		Controller: listener.Config{
			StopKeyword:    c.StopKeyword,
			Backoff:        c.Backoff,
			LanguageModel:  c.LanguageModel,
			Language:       c.Language,
			PartialResults: c.PartialResults,
			OnTransition:   onTransition,
		},
		AutoStart: c.AutoStart,
	}
}

// openDeepgram opens the audio backend and a Deepgram adapter on the
// configured microphone. The caller closes the returned context.
func openDeepgram(c config.Config) (audio.Context, recognizer.Adapter, error) {
	if c.DeepgramAPIKey == "" {
		return nil, nil, fmt.Errorf("%w (set it in .env, the environment, or --deepgram-api-key)", recognizer.ErrNoAPIKey)
	}
	actx, err := audio.NewContext()
	if err != nil {
		return nil, nil, fmt.Errorf("initializing audio: %w", err)
	}

	var device *audio.DeviceInfo
	if setupDevice && c.Device == "" {
		device, err = audio.SelectDevice(actx)
	} else {
		device, err = audio.FindDevice(actx, c.Device)
	}
	if err != nil {
		actx.Close()
		return nil, nil, fmt.Errorf("selecting microphone: %w", err)
	}
	if device != nil {
		log.Info("recording_device: " + device.Name)
	}

	dg := recognizer.NewDeepgram(recognizer.DeepgramConfig{
		APIKey:   c.DeepgramAPIKey,
		Endpoint: c.DeepgramEndpoint,
		Model:    c.Model,
		Audio:    actx,
		Device:   device,
	})
	return actx, dg, nil
}

// cueFor maps a listening transition to its audio cue.
func cueFor(from, to listener.State) (beep.Cue, bool) {
	switch {
	case to == listener.Starting && from == listener.Idle:
		return beep.CueStart, true
	case to == listener.Idle:
		return beep.CueEnd, true
	case to == listener.ErrorBackoff:
		return beep.CueError, true
	}
	return 0, false
}

func statusText(to listener.State, reason string) string {
	switch to {
	case listener.Idle:
		return "idle (" + reason + ")"
	case listener.ErrorBackoff:
		return "recognition failed, retrying"
	}
	return to.String()
}

// view is the overlay front end: the terminal UI or, in gui builds, a
// floating window.
type view interface {
	Press()
	Release()
	SetStatus(text string)
	SetListening(on bool)
	Run() error
	Quit()
}

type tuiView struct{ p *tea.Program }

func (v tuiView) Press()                { v.p.Send(overlay.PressMsg{}) }
func (v tuiView) Release()              { v.p.Send(overlay.ReleaseMsg{}) }
func (v tuiView) SetStatus(text string) { v.p.Send(overlay.StatusMsg{Text: text}) }
func (v tuiView) SetListening(on bool)  { v.p.Send(overlay.ListeningMsg{On: on}) }
func (v tuiView) Quit()                 { v.p.Quit() }

func (v tuiView) Run() error {
	_, err := v.p.Run()
	return err
}

func newView(s *overlay.Surface) (view, error) {
	if guiMode {
		return newWindowView(s)
	}
	return tuiView{p: overlay.NewProgram(s)}, nil
}

type statusUpdate struct {
	text      string
	listening bool
}

// statusFeed forwards transitions to a running view in order without
// blocking the controller, and sounds their cues.
type statusFeed struct {
	ch   chan statusUpdate
	done chan struct{}
}

func newStatusFeed(v view) *statusFeed {
	f := &statusFeed{ch: make(chan statusUpdate, 32), done: make(chan struct{})}
	go func() {
		defer close(f.done)
		for u := range f.ch {
			v.SetListening(u.listening)
			v.SetStatus(u.text)
		}
	}()
	return f
}

func (f *statusFeed) transition(from, to listener.State, reason string) {
	if cue, ok := cueFor(from, to); ok {
		beep.Play(cue)
	}
	select {
	case f.ch <- statusUpdate{text: statusText(to, reason), listening: to.Active()}:
	default:
		log.Debugf("status feed full, dropping %s", to)
	}
}

func (f *statusFeed) close() {
	close(f.ch)
	<-f.done
}

// pushToTalk wires the global hotkey to press and release. A hotkey that
// cannot be registered is reported and otherwise ignored.
func pushToTalk(ctx context.Context, c config.Config, press, release func()) (warning string) {
	if !c.Hotkey {
		return ""
	}
	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Warnf("hotkey register error: %v", err)
		return "hotkey unavailable: " + err.Error()
	}
	go func() {
		hotkey.PushToTalk(ctx, hk, press, release)
		hk.Unregister()
	}()
	return ""
}

// runApp runs the listener and the overlay TUI in one process over an
// in-process bridge.
func runApp(cmd *cobra.Command, _ []string) error {
	ctx, stop := shutdown.Context(cmd.Context())
	defer stop()

	actx, adapter, err := openDeepgram(cfg)
	if err != nil {
		return err
	}
	defer actx.Close()
	go beep.Init()

	b := bridge.New()
	defer b.Close()
	surface := overlay.Attach(b)
	v, err := newView(surface)
	if err != nil {
		return err
	}

	feed := newStatusFeed(v)
	defer feed.close()
	svc := listener.NewService(adapter, b, serviceConfig(cfg, feed.transition))
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	if warning := pushToTalk(ctx, cfg, v.Press, v.Release); warning != "" {
		go v.SetStatus(warning)
	}
	go func() {
		<-ctx.Done()
		v.Quit()
	}()

	return v.Run()
}

// runListen hosts the listener headless and serves the bridge to overlays
// connecting over websocket. The newest overlay receives display calls.
func runListen(cmd *cobra.Command, _ []string) error {
	ctx, stop := shutdown.Context(cmd.Context())
	defer stop()

	actx, adapter, err := openDeepgram(cfg)
	if err != nil {
		return err
	}
	defer actx.Close()
	go beep.Init()

	b := bridge.New()
	defer b.Close()
	svc := listener.NewService(adapter, b, serviceConfig(cfg, func(from, to listener.State, reason string) {
		if cue, ok := cueFor(from, to); ok {
			beep.Play(cue)
		}
	}))
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	if warning := pushToTalk(ctx, cfg,
		func() { b.Control.Invoke(bridge.MethodStartListening, "") },
		func() { b.Control.Invoke(bridge.MethodStopListening, "") },
	); warning != "" {
		fmt.Println("Warning: " + warning)
	}

	srv := bridge.Serve(b)
	mux := http.NewServeMux()
	mux.Handle("/", srv)
	hs := &http.Server{Addr: cfg.BridgeAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	fmt.Printf("zedd %s listening for overlays on ws://%s/\n", version, cfg.BridgeAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving bridge: %w", err)
		}
	}

	log.Infof("closing %d overlay links", srv.Links())
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

// runOverlay shows the TUI for a remote listener.
func runOverlay(cmd *cobra.Command, _ []string) error {
	ctx, stop := shutdown.Context(cmd.Context())
	defer stop()

	url, _ := cmd.Flags().GetString("url")
	if url == "" {
		url = "ws://" + cfg.BridgeAddr + "/"
	}

	b := bridge.New()
	defer b.Close()
	surface := overlay.Attach(b)

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	link, err := bridge.Dial(dialCtx, url, b)
	cancel()
	if err != nil {
		return err
	}
	defer link.Close()

	v, err := newView(surface)
	if err != nil {
		return err
	}
	if warning := pushToTalk(ctx, cfg, v.Press, v.Release); warning != "" {
		go v.SetStatus(warning)
	}
	go func() {
		select {
		case <-link.Done():
			msg := "listener disconnected"
			if err := link.Err(); err != nil {
				msg += ": " + err.Error()
			}
			v.SetStatus(msg)
		case <-ctx.Done():
			v.Quit()
		}
	}()
	go v.SetStatus("connected to " + url)

	return v.Run()
}
