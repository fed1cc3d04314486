package hotkey

// Combo is the global push-to-talk chord.
const Combo = "Ctrl+Shift+Space"

// Hotkey is a global key chord. Keydown fires when the chord is pressed
// and Keyup when it is released.
type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// signal sends without blocking; a pending edge is not duplicated.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
