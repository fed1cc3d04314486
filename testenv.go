package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"zedd/beep"
	"zedd/bridge"
	"zedd/config"
	"zedd/listener"
	"zedd/log"
	"zedd/overlay"
	"zedd/recognizer"
)

const scriptWait = 5 * time.Second

var errScript = errors.New("script")

// runScript drives a headless session from line commands on r, with a
// scripted recognizer standing in for Deepgram. Overlay text and state
// changes are written to w.
//
//	PRESS | RELEASE          overlay control box
//	READY | PARTIAL <text> | FINAL <text> | ERROR <code>
//	                         recognizer events for the current attempt
//	HOST <text>              host updateOverlayContent call
//	RESTART                  restart the listening context
//	WAIT <state>             block until the listener reaches state
//	WAIT_ATTEMPT <n>         block until attempt n has begun
//	WAIT_TEXT <text>         block until the overlay shows text
//	SLEEP <ms>
//	QUIT
func runScript(r io.Reader, w io.Writer, c config.Config) error {
	beep.Disable()

	out := &syncWriter{w: w}

	fake := recognizer.NewFake()
	fake.AutoReady = true

	b := bridge.New()
	defer b.Close()
	surface := overlay.Attach(b)
	overlay.PrintText(out, surface)

	svc := listener.NewService(fake, b, serviceConfig(c, func(from, to listener.State, reason string) {
		fmt.Fprintf(out, "state: %s -> %s (%s)\n", from, to, reason)
	}))
	if err := svc.Start(context.Background()); err != nil {
		return err
	}
	defer svc.Stop()

	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		var err error
		switch cmd {
		case "", "#":
		case "PRESS":
			surface.Press()
		case "RELEASE":
			surface.Release()
		case "READY":
			fake.Emit(recognizer.Ready(0))
		case "PARTIAL":
			fake.Emit(recognizer.Partial(0, arg))
		case "FINAL":
			fake.Emit(recognizer.Final(0, arg))
		case "ERROR":
			var code int
			if code, err = strconv.Atoi(arg); err == nil {
				fake.Emit(recognizer.Failure(0, code, nil))
			}
		case "HOST":
			b.Control.Invoke(bridge.MethodUpdateOverlayContent, arg)
		case "RESTART":
			svc.Restart()
		case "WAIT":
			err = waitUntil("state "+arg, func() bool { return svc.State().String() == arg })
		case "WAIT_ATTEMPT":
			var n uint64
			if n, err = strconv.ParseUint(arg, 10, 64); err == nil {
				err = waitUntil("attempt "+arg, func() bool { return fake.Current() >= n })
			}
		case "WAIT_TEXT":
			err = waitUntil("text "+strconv.Quote(arg), func() bool { return surface.Text() == arg })
		case "SLEEP":
			var ms int
			if ms, err = strconv.Atoi(arg); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case "QUIT":
			return nil
		default:
			err = fmt.Errorf("%w: unknown command %q", errScript, cmd)
		}
		if err != nil {
			log.Errorf("script line %d: %v", line, err)
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

// syncWriter serializes text and state lines written from different goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func waitUntil(what string, cond func() bool) error {
	deadline := time.Now().Add(scriptWait)
	for !cond() {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: timed out waiting for %s", errScript, what)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}
