package audio

import (
	"log/slog"
	"sync"
)

// Resampler converts frames to a target sample rate using linear
// interpolation. Frames already at the target rate pass through unchanged.
// It logs a warning on the first mismatch. Create one per stream; not safe
// for shared use across goroutines.
type Resampler struct {
	TargetRate int

	warned sync.Once
}

// Convert returns frame resampled to the target rate. The fast path, when
// the source already matches the target or either rate is unset, returns the
// frame unchanged with zero allocation.
func (r *Resampler) Convert(frame Frame) Frame {
	if r.TargetRate <= 0 || frame.SampleRate <= 0 || frame.SampleRate == r.TargetRate {
		return frame
	}

	r.warned.Do(func() {
		slog.Warn("capture rate mismatch, resampling",
			"from", frame.SampleRate,
			"to", r.TargetRate,
		)
	})

	return Frame{
		Samples:    Resample(frame.Samples, frame.SampleRate, r.TargetRate),
		SampleRate: r.TargetRate,
		Timestamp:  frame.Timestamp,
	}
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, or either is not positive, the input is
// returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstLen {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
