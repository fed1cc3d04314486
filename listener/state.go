package listener

import "fmt"

type State int

const (
	Idle State = iota
	Starting
	Listening
	Stopping
	ErrorBackoff
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Stopping:
		return "stopping"
	case ErrorBackoff:
		return "error_backoff"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Active reports whether the controller owns, or is about to own, a recognition attempt.
func (s State) Active() bool {
	return s == Starting || s == Listening || s == ErrorBackoff
}
