//go:build gui

package overlay

import (
	"testing"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/test"

	"zedd/bridge"
)

func newTestWindow(t *testing.T) (*Window, *Surface, <-chan bridge.Call) {
	t.Helper()
	b := newBridge(t)
	calls := controlCalls(t, b)
	s := Attach(b)
	return newWindow(test.NewTempApp(t), s), s, calls
}

func waitLabel(t *testing.T, w *Window, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		var got string
		fyne.DoAndWait(func() { got = w.box.text.Text })
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("label = %q, want %q", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWindowMousePressRelease(t *testing.T) {
	w, s, calls := newTestWindow(t)

	fyne.DoAndWait(func() {
		w.box.MouseDown(&desktop.MouseEvent{})
		w.box.MouseDown(&desktop.MouseEvent{})
	})
	if !s.Pressed() || w.box.title.Text != "● listening" {
		t.Fatalf("pressed = %v, title = %q", s.Pressed(), w.box.title.Text)
	}
	fyne.DoAndWait(func() {
		w.box.MouseUp(&desktop.MouseEvent{})
		w.box.MouseUp(&desktop.MouseEvent{})
	})
	if s.Pressed() || w.box.title.Text != "○ idle" {
		t.Fatalf("pressed = %v, title = %q", s.Pressed(), w.box.title.Text)
	}
	expectMethods(t, calls, bridge.MethodStartListening, bridge.MethodStopListening)
}

func TestWindowSpaceTogglesAndQReleases(t *testing.T) {
	w, s, calls := newTestWindow(t)
	onKey := w.win.Canvas().OnTypedKey()
	typed := func(ev *fyne.KeyEvent) { fyne.DoAndWait(func() { onKey(ev) }) }

	typed(&fyne.KeyEvent{Name: fyne.KeySpace})
	if !s.Pressed() {
		t.Fatal("space did not press")
	}
	typed(&fyne.KeyEvent{Name: fyne.KeySpace})
	typed(&fyne.KeyEvent{Name: fyne.KeySpace})
	typed(&fyne.KeyEvent{Name: fyne.KeyQ})
	if s.Pressed() {
		t.Fatal("quit left the surface pressed")
	}
	expectMethods(t, calls,
		bridge.MethodStartListening, bridge.MethodStopListening,
		bridge.MethodStartListening, bridge.MethodStopListening)
}

func TestWindowShowsDisplayText(t *testing.T) {
	w, s, _ := newTestWindow(t)
	s.b.Display.Invoke(bridge.MethodOnPartialResult, "turn on")
	s.b.Display.Invoke(bridge.MethodOnCommandResult, "turn on the lights")
	s.b.Display.Flush()
	waitLabel(t, w, "turn on the lights")
}

func TestWindowTitleFollowsListenerState(t *testing.T) {
	w, _, _ := newTestWindow(t)
	w.Press()
	fyne.DoAndWait(func() {})
	if w.box.title.Text != "● listening" {
		t.Fatalf("title = %q", w.box.title.Text)
	}

	// stop keyword while the hotkey is still held
	w.SetListening(false)
	w.SetStatus("idle (keyword)")
	fyne.DoAndWait(func() {})
	if w.box.title.Text != "○ idle" || w.box.status.Text != "idle (keyword)" {
		t.Fatalf("title = %q, status = %q", w.box.title.Text, w.box.status.Text)
	}
	w.Release()
}
