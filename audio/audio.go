package audio

import (
	"errors"
	"strings"
	"sync"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	WAVHeaderSize = 44
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

// DefaultCaptureConfig is PCM16 mono at 16 kHz, the format the recognizer streams.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels}
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// FindDevice returns the device with the given name, or nil for the system default.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	return nil, ErrDeviceNotFound
}

var (
	ErrDeviceNotFound = errors.New("capture device not found")
	ErrMicBusy        = errors.New("microphone busy")
)

// MicGuard serializes microphone ownership across the whole process.
// Only one holder may capture at a time; a second TryAcquire fails
// with ErrMicBusy instead of opening a competing stream.
type MicGuard struct {
	mu     sync.Mutex
	holder string
}

// Mic is the process-wide microphone guard.
var Mic = &MicGuard{}

func (g *MicGuard) TryAcquire(owner string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder != "" {
		return ErrMicBusy
	}
	g.holder = owner
	return nil
}

// Release frees the microphone if owner holds it.
func (g *MicGuard) Release(owner string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder == owner {
		g.holder = ""
	}
}

func (g *MicGuard) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}
