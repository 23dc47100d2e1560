package audio

import (
	"math"
	"time"
)

// EncodePCM16 converts float samples in [-1, 1] to 16-bit signed little-endian
// PCM bytes. Out-of-range samples are clamped, never rejected; the mapping is
// round(clamp(x) * 32767). The output is always len(samples)*2 bytes.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// DecodePCM16 converts 16-bit signed little-endian PCM bytes back to float
// samples by dividing each value by 32768. An odd trailing byte is dropped.
func DecodePCM16(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := range n {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out
}

// PCM16Duration returns the play time of a PCM16 byte payload at the given
// sample rate (mono, 2 bytes per sample). Returns zero for a non-positive rate.
func PCM16Duration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
