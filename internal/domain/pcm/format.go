// Package pcm provides PCM audio formats and streaming sample transforms.
package pcm

import "fmt"

// Format describes interleaved integer PCM.
type Format struct {
	SampleRate int // Hz
	BitDepth   int // Bits per sample
	Channels   int // 1=mono, 2=stereo
}

// String returns a compact description such as "16000Hz/16bit/1ch".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SampleRate, f.BitDepth, f.Channels)
}

// BytesPerSecond returns the data rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// FrameSize returns the size in bytes of one sample across all channels.
func (f Format) FrameSize() int {
	return f.Channels * f.BitDepth / 8
}
