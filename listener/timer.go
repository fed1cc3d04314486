package listener

import "time"

type stopper interface {
	Stop() bool
}

type clock interface {
	AfterFunc(d time.Duration, f func()) stopper
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// backoffTimer is a one-shot restart timer. Every schedule and cancel bumps
// the generation, so a callback that raced a cancel sees a stale
// generation and does nothing. The owner serializes access.
type backoffTimer struct {
	clock clock
	delay time.Duration
	gen   uint64
	t     stopper
}

func (b *backoffTimer) schedule(fire func(gen uint64)) {
	b.cancel()
	gen := b.gen
	b.t = b.clock.AfterFunc(b.delay, func() { fire(gen) })
}

func (b *backoffTimer) cancel() {
	b.gen++
	if b.t != nil {
		b.t.Stop()
		b.t = nil
	}
}

// take consumes the pending timer if gen is still current.
func (b *backoffTimer) take(gen uint64) bool {
	if b.t == nil || gen != b.gen {
		return false
	}
	b.t = nil
	return true
}
