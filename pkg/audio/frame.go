// Package audio provides the audio primitives of the LingoLive voice pipeline:
// sample frames, the PCM16 wire codec, microphone capture, and the gapless
// playback scheduler.
//
// Audio flows through the pipeline as [Frame] values, fixed-size blocks of
// mono float32 samples. The codec converts frames to and from the 16-bit
// little-endian PCM byte encoding both live backends speak on the wire.
package audio

import "time"

// Frame is a fixed-length block of mono float32 samples in the range [-1, 1].
// Frames are the atomic unit of audio transport: produced by a
// [CaptureSource], encoded by the codec, and handed to a live session for
// transmission. A Frame is immutable once produced; ownership passes from the
// capture source to the consumer.
type Frame struct {
	// Samples holds the mono sample data. Values outside [-1, 1] are clamped
	// by the codec on encode.
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for playback).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the play time of the frame at its sample rate.
// Returns zero for a frame with an unset sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
