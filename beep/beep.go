package beep

import (
	"math"
	"sync"
	"sync/atomic"
)

// Cue is an audible listening event.
type Cue int

const (
	CueStart Cue = iota // listening began
	CueEnd              // listening stopped
	CueError            // an attempt failed and will be retried
)

const (
	sampleRate = 44100

	// Start beep: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End beep: medium pitch, slightly longer
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error beep: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

var (
	disabled atomic.Bool

	cueOnce    sync.Once
	cueSamples map[Cue][]int16

	// output plays mono samples at sampleRate; set per platform.
	output = playSamples
)

func Disable() { disabled.Store(true) }

func Enable() { disabled.Store(false) }

func generate() {
	cueSamples = map[Cue][]int16{
		CueStart: tick(startFreq, 0.05, startVolume, startDecay),
		CueEnd:   tick(endFreq, 0.08, endVolume, endDecay),
		CueError: doubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay),
	}
}

// Init prepares the tones and the audio output ahead of the first cue.
func Init() {
	cueOnce.Do(generate)
	initOutput()
}

// Play sounds c without blocking the caller.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	cueOnce.Do(generate)
	samples := cueSamples[c]
	if len(samples) == 0 {
		return
	}
	go output(samples)
}

func tick(freq, duration, volume, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	b := tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	out := make([]int16, 0, len(b)*2+len(gap))
	out = append(out, b...)
	out = append(out, gap...)
	out = append(out, b...)
	return out
}

// pcmBytes encodes samples as little-endian PCM16.
func pcmBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}
