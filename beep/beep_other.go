//go:build !linux && !darwin

package beep

// No audio playback here; cues are silent.

func initOutput() {}

func playSamples([]int16) {}
