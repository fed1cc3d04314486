package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"

	"zedd/audio"
	"zedd/config"
	"zedd/hotkey"
	"zedd/recognizer"
	"zedd/shutdown"
)

const (
	hotkeyTimeout    = 10 * time.Second
	recordFor        = 3 * time.Second
	recognizeTimeout = 15 * time.Second
	bridgeTimeout    = 2 * time.Second
	clipboardProbe   = "zedd-doctor-test"
)

// Env holds the system seams the checks run against.
type Env struct {
	Config      config.Config
	In          io.Reader
	Out         io.Writer
	Interactive bool

	NewAudio  func() (audio.Context, error)
	NewHotkey func() hotkey.Hotkey
	Diagnose  func() (string, error)
	ReadClip  func() (string, error)
	WriteClip func(string) error
	Endpoint  string

	// RecordFor and RecognizeTimeout default to 3s and 15s.
	RecordFor        time.Duration
	RecognizeTimeout time.Duration
}

// DefaultEnv wires the real audio backend, global hotkey, clipboard, and
// stdio for cfg.
func DefaultEnv(cfg config.Config) Env {
	return Env{
		Config:      cfg,
		In:          os.Stdin,
		Out:         os.Stdout,
		Interactive: true,
		NewAudio:    audio.NewContext,
		NewHotkey:   hotkey.New,
		Diagnose:    hotkey.Diagnose,
		ReadClip:    clipboard.ReadAll,
		WriteClip:   clipboard.WriteAll,
		Endpoint:    cfg.DeepgramEndpoint,
	}
}

type doctor struct {
	Env
	in *bufio.Reader
}

type check struct {
	title string
	run   func(*doctor) bool
}

var checks = []check{
	{"Hotkey detection", (*doctor).checkHotkey},
	{"Microphone", (*doctor).checkMic},
	{"Speech recognition", (*doctor).checkRecognition},
	{"Clipboard", (*doctor).checkClipboard},
	{"Overlay bridge", (*doctor).checkBridge},
}

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(cfg config.Config) int {
	resetTerminal()
	setupInterruptHandler()
	return RunEnv(DefaultEnv(cfg))
}

// RunEnv runs every check against env. A failed check does not stop the
// remaining ones.
func RunEnv(env Env) int {
	if env.RecordFor == 0 {
		env.RecordFor = recordFor
	}
	if env.RecognizeTimeout == 0 {
		env.RecognizeTimeout = recognizeTimeout
	}
	d := &doctor{Env: env, in: bufio.NewReader(env.In)}

	d.println("zedd doctor - system diagnostics")
	d.println("================================")

	allPass := true
	for i, c := range checks {
		d.println()
		d.printf("[%d/%d] %s\n", i+1, len(checks), c.title)
		if !c.run(d) {
			allPass = false
		}
	}

	d.println()
	if allPass {
		d.println("All checks passed!")
		return 0
	}
	d.println("Some checks failed. See details above.")
	return 1
}

func setupInterruptHandler() {
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		resetTerminal()
		println("\nInterrupted")
		os.Exit(1)
	}()
}

func (d *doctor) printf(format string, args ...any) { fmt.Fprintf(d.Out, format, args...) }

func (d *doctor) println(args ...any) { fmt.Fprintln(d.Out, args...) }

func (d *doctor) pass(format string, args ...any) bool {
	d.printf("  PASS: "+format+"\n", args...)
	return true
}

func (d *doctor) fail(format string, args ...any) bool {
	d.printf("  FAIL: "+format+"\n", args...)
	return false
}

// confirm asks a yes/no question; non-interactive runs answer yes.
func (d *doctor) confirm(question string) bool {
	if !d.Interactive {
		return true
	}
	d.printf("%s [y/n]: ", question)
	answer, _ := d.in.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func (d *doctor) checkHotkey() bool {
	if !d.Config.Hotkey {
		d.println("  SKIP: hotkey disabled in config")
		return true
	}
	info, err := d.Diagnose()
	if err != nil {
		return d.fail("%v", err)
	}
	d.printf("  %s\n", info)
	if !d.Interactive {
		return d.pass("hotkey available")
	}

	d.printf("Press %s...\n", hotkey.Combo)
	hk := d.NewHotkey()
	if err := hk.Register(); err != nil {
		return d.fail("could not register hotkey: %v", err)
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		resetTerminal()
		return d.pass("hotkey detected")
	case <-time.After(hotkeyTimeout):
		return d.fail("timeout waiting for hotkey")
	}
}

func (d *doctor) openAudio() (audio.Context, *audio.DeviceInfo, bool) {
	actx, err := d.NewAudio()
	if err != nil {
		return nil, nil, d.fail("cannot connect to audio: %v", err)
	}
	devices, err := actx.Devices()
	if err != nil {
		actx.Close()
		return nil, nil, d.fail("cannot list devices: %v", err)
	}
	if len(devices) == 0 {
		actx.Close()
		return nil, nil, d.fail("no capture devices found")
	}
	device, err := audio.FindDevice(actx, d.Config.Device)
	if err != nil {
		actx.Close()
		return nil, nil, d.fail("device %q: %v", d.Config.Device, err)
	}
	return actx, device, true
}

func (d *doctor) checkMic() bool {
	actx, device, ok := d.openAudio()
	if !ok {
		return false
	}
	defer actx.Close()

	name := "system default"
	if device != nil {
		name = device.Name
		if audio.IsBluetooth(name) {
			d.println("  Warning: bluetooth microphones lower recognition quality")
		}
	}
	d.printf("Using device: %s\n", name)

	if err := audio.Mic.TryAcquire("doctor"); err != nil {
		return d.fail("%v (held by %s)", err, audio.Mic.Holder())
	}
	defer audio.Mic.Release("doctor")

	stop := make(chan struct{})
	time.AfterFunc(d.RecordFor, func() { close(stop) })
	pcm, err := d.record(actx, device, stop)
	if err != nil {
		return d.fail("recording error: %v", err)
	}
	if len(pcm) == 0 {
		return d.fail("no audio captured")
	}
	d.printf("  Recorded %.1f KB, peak level %d%%\n", float64(len(pcm))/1024, peakPercent(pcm))
	return d.pass("microphone captures audio")
}

func (d *doctor) record(actx audio.Context, device *audio.DeviceInfo, stop <-chan struct{}) ([]byte, error) {
	var (
		mu      sync.Mutex
		buf     []byte
		stopped bool
	)

	capture, err := actx.NewCapture(device, audio.DefaultCaptureConfig())
	if err != nil {
		return nil, err
	}
	defer capture.Close()

	capture.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		if !stopped {
			buf = append(buf, data...)
		}
		mu.Unlock()
	})
	if err := capture.Start(); err != nil {
		return nil, err
	}

	d.printf("  Recording")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-stop:
			break wait
		case <-ticker.C:
			d.printf(".")
		}
	}
	capture.Stop()
	d.println(" done")

	mu.Lock()
	stopped = true
	raw := buf
	mu.Unlock()
	return raw, nil
}

// peakPercent is the loudest PCM16 sample as a share of full scale.
func peakPercent(pcm []byte) int {
	var peak int
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		if s < 0 {
			s = -s
		}
		peak = max(peak, s)
	}
	return peak * 100 / 32768
}

func (d *doctor) checkRecognition() bool {
	if d.Config.DeepgramAPIKey == "" {
		return d.fail("%v (add it to .env or the environment)", recognizer.ErrNoAPIKey)
	}
	actx, device, ok := d.openAudio()
	if !ok {
		return false
	}
	defer actx.Close()

	dg := recognizer.NewDeepgram(recognizer.DeepgramConfig{
		APIKey:   d.Config.DeepgramAPIKey,
		Endpoint: d.Endpoint,
		Model:    d.Config.Model,
		Audio:    actx,
		Device:   device,
	})
	defer dg.Close()

	if d.Interactive {
		d.print("Press Enter and say a short command...")
		d.in.ReadString('\n')
	}
	dg.Begin(recognizer.Request{
		Attempt:        1,
		LanguageModel:  d.Config.LanguageModel,
		Language:       d.Config.Language,
		PartialResults: true,
	})

	timeout := time.After(d.RecognizeTimeout)
	for {
		select {
		case ev := <-dg.Events():
			switch ev.Kind {
			case recognizer.KindReady:
				d.println("  Listening...")
			case recognizer.KindPartial:
				d.printf("  ... %s\n", ev.Text)
			case recognizer.KindFinal:
				d.printf("\n  Recognized: %s\n\n", ev.Text)
				if !d.confirm("Is this correct?") {
					return d.fail("recognition not confirmed")
				}
				return d.pass("recognition verified")
			case recognizer.KindError:
				return d.fail("%v", ev.AsError())
			}
		case <-timeout:
			return d.fail("no result within %s", d.RecognizeTimeout)
		}
	}
}

func (d *doctor) print(s string) { fmt.Fprint(d.Out, s) }

func (d *doctor) checkClipboard() bool {
	prev, readErr := d.ReadClip()
	if err := d.WriteClip(clipboardProbe); err != nil {
		return d.fail("clipboard write failed: %v", err)
	}
	got, err := d.ReadClip()
	if readErr == nil {
		d.WriteClip(prev)
	}
	if err != nil {
		return d.fail("clipboard read failed: %v", err)
	}
	if got != clipboardProbe {
		return d.fail("clipboard round trip got %q, want %q", got, clipboardProbe)
	}
	return d.pass("overlay text can be copied")
}

// checkBridge only reports whether a listener is up; an absent one is not a
// failure. It probes the port without opening a link so a running overlay
// keeps the display channel.
func (d *doctor) checkBridge() bool {
	addr := d.Config.BridgeAddr
	ctx, cancel := context.WithTimeout(context.Background(), bridgeTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		d.printf("  INFO: no listener at %s (start one with: zedd listen)\n", addr)
		return true
	}
	conn.Close()
	return d.pass("listener reachable at %s", addr)
}
