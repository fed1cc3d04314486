package audio

import (
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext replays a fixed PCM buffer through every capture it creates,
// then keeps feeding silence until the capture is stopped.
type FakeContext struct {
	pcm      []byte
	interval time.Duration
	failOpen error
}

func NewFakeContext(pcm []byte) *FakeContext {
	return &FakeContext{
		pcm:      pcm,
		interval: time.Duration(fakeFrameSize) * time.Second / time.Duration(SampleRate),
	}
}

func NewFakeContextFromWAV(wavPath string) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContext(data), nil
}

// SetInterval overrides the real-time pacing between frames.
func (f *FakeContext) SetInterval(d time.Duration) { f.interval = d }

// FailNewCapture makes NewCapture return err, simulating a missing or denied device.
func (f *FakeContext) FailNewCapture(err error) { f.failOpen = err }

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if f.failOpen != nil {
		return nil, f.failOpen
	}
	return &FakeCapture{pcm: f.pcm, interval: f.interval}, nil
}

type FakeCapture struct {
	pcm      []byte
	interval time.Duration

	mu      sync.Mutex
	cb      DataCallback
	stopCh  chan struct{}
	done    chan struct{}
	started int
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Starts reports how many times Start was called.
func (f *FakeCapture) Starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeCapture) emit(chunk []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	}
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	if f.stopCh != nil {
		f.mu.Unlock()
		return nil
	}
	f.started++
	stop := make(chan struct{})
	done := make(chan struct{})
	f.stopCh, f.done = stop, done
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	go func() {
		defer close(done)
		silence := make([]byte, chunkBytes)
		pos := 0
		for {
			if pos < len(f.pcm) {
				end := min(pos+chunkBytes, len(f.pcm))
				chunk := make([]byte, end-pos)
				copy(chunk, f.pcm[pos:end])
				pos = end
				f.emit(chunk)
			} else {
				f.emit(silence)
			}
			select {
			case <-stop:
				return
			case <-time.After(f.interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stop, done := f.stopCh, f.done
	f.stopCh, f.done = nil, nil
	f.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (f *FakeCapture) Close() { f.Stop() }
