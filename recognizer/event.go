package recognizer

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindReady Kind = iota
	KindPartial
	KindFinal
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	case KindError:
		return "error"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error codes follow the platform speech recognizer numbering so scripted
// sessions and logs read the same across backends.
const (
	CodeNetworkTimeout          = 1
	CodeNetwork                 = 2
	CodeAudio                   = 3
	CodeServer                  = 4
	CodeClient                  = 5
	CodeSpeechTimeout           = 6
	CodeNoMatch                 = 7
	CodeBusy                    = 8
	CodeInsufficientPermissions = 9
)

var (
	// ErrUnavailable: the device cannot recognize right now (no key, no mic, mic busy, denied).
	ErrUnavailable = errors.New("recognition unavailable")
	// ErrTransient: the attempt failed but a later one may succeed.
	ErrTransient = errors.New("recognition transient error")
)

// Event is one recognition callback. Attempt identifies the Begin call that
// produced it; events from an attempt that has already been ended are stale.
type Event struct {
	Kind    Kind
	Attempt uint64
	Text    string
	Code    int
	Err     error
}

func Ready(attempt uint64) Event {
	return Event{Kind: KindReady, Attempt: attempt}
}

func Partial(attempt uint64, text string) Event {
	return Event{Kind: KindPartial, Attempt: attempt, Text: text}
}

func Final(attempt uint64, text string) Event {
	return Event{Kind: KindFinal, Attempt: attempt, Text: text}
}

func Failure(attempt uint64, code int, err error) Event {
	return Event{Kind: KindError, Attempt: attempt, Code: code, Err: err}
}

// Terminal reports whether the event ends its attempt.
func (e Event) Terminal() bool {
	return e.Kind == KindFinal || e.Kind == KindError
}

// AsError classifies an error event into ErrUnavailable or ErrTransient.
// It returns nil for non-error events.
func (e Event) AsError() error {
	if e.Kind != KindError {
		return nil
	}
	class := ErrTransient
	switch e.Code {
	case CodeAudio, CodeBusy, CodeInsufficientPermissions:
		class = ErrUnavailable
	}
	if e.Err != nil {
		if errors.Is(e.Err, ErrUnavailable) || errors.Is(e.Err, ErrTransient) {
			return fmt.Errorf("code %d: %w", e.Code, e.Err)
		}
		return fmt.Errorf("%w: code %d: %w", class, e.Code, e.Err)
	}
	return fmt.Errorf("%w: code %d", class, e.Code)
}

func (e Event) String() string {
	switch e.Kind {
	case KindPartial, KindFinal:
		return fmt.Sprintf("%s#%d(%q)", e.Kind, e.Attempt, e.Text)
	case KindError:
		return fmt.Sprintf("error#%d(%d)", e.Attempt, e.Code)
	}
	return fmt.Sprintf("%s#%d", e.Kind, e.Attempt)
}
