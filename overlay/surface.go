package overlay

import (
	"sync"

	"zedd/bridge"
	"zedd/log"
)

// Surface is the overlay control region. Press and release become
// startListening and stopListening on the bridge control channel; display
// calls replace the shown text, last write wins.
type Surface struct {
	b *bridge.Bridge

	mu       sync.Mutex
	text     string
	pressed  bool
	onChange []func(string)
}

// Attach creates a Surface and makes it the bridge's display endpoint.
func Attach(b *bridge.Bridge) *Surface {
	s := &Surface{b: b}
	b.Display.SetHandler(s.handle)
	return s
}

// Detach stops receiving display calls; later sends are dropped by the bridge.
func (s *Surface) Detach() {
	s.b.Display.SetHandler(nil)
}

func (s *Surface) Press() {
	s.mu.Lock()
	s.pressed = true
	s.mu.Unlock()
	s.b.Control.Invoke(bridge.MethodStartListening, "")
}

func (s *Surface) Release() {
	s.mu.Lock()
	s.pressed = false
	s.mu.Unlock()
	s.b.Control.Invoke(bridge.MethodStopListening, "")
}

// Toggle releases a pressed surface and presses a released one.
// It reports whether the surface is now pressed.
func (s *Surface) Toggle() bool {
	if s.Pressed() {
		s.Release()
		return false
	}
	s.Press()
	return true
}

func (s *Surface) Pressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pressed
}

func (s *Surface) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// SetText replaces the displayed text and notifies OnChange observers.
func (s *Surface) SetText(text string) {
	s.mu.Lock()
	s.text = text
	fns := s.onChange
	s.mu.Unlock()
	for _, fn := range fns {
		fn(text)
	}
}

// OnChange registers fn to run after every text replacement.
func (s *Surface) OnChange(fn func(string)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Surface) handle(call bridge.Call) {
	switch call.Method {
	case bridge.MethodUpdateOverlayContent, bridge.MethodOnPartialResult, bridge.MethodOnCommandResult:
		s.SetText(call.Text)
	default:
		log.Warnf("overlay: unknown display method %q", call.Method)
	}
}
