package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// CaptureSource produces a continuous sequence of fixed-size sample frames
// from an audio input device.
//
// Start may be called at most once. The returned channel emits one [Frame]
// per scheduling quantum and is closed when the source stops, either because
// ctx was cancelled, Close was called, or the device failed mid-stream.
// Device or permission denial surfaces as a single terminal error from Start,
// before any frame is produced; callers must treat that as fatal to the
// session. The source never retries internally; retry policy belongs to the
// caller.
type CaptureSource interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Close() error
}

const (
	// DefaultCaptureRate is the capture sample rate used when none is
	// configured. Both live backends accept 16 kHz input; the GLM backend is
	// configured for 24 kHz via [WithCaptureRate].
	DefaultCaptureRate = 16000

	// DefaultFrameSize is the number of samples per capture frame.
	DefaultFrameSize = 4096
)

// MicrophoneOption is a functional option for configuring a [Microphone].
type MicrophoneOption func(*Microphone)

// WithCaptureRate sets the capture sample rate in Hz.
func WithCaptureRate(rate int) MicrophoneOption {
	return func(m *Microphone) { m.sampleRate = rate }
}

// WithFrameSize sets the number of samples per emitted frame.
func WithFrameSize(n int) MicrophoneOption {
	return func(m *Microphone) { m.frameSize = n }
}

// Microphone is a [CaptureSource] backed by an ffmpeg subprocess reading the
// system default input device and emitting raw f32le samples on stdout.
// ffmpeg must be installed and on PATH.
type Microphone struct {
	sampleRate int
	frameSize  int

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	closed bool
}

// NewMicrophone creates a Microphone with the given options. The device is
// not opened until Start is called.
func NewMicrophone(opts ...MicrophoneOption) *Microphone {
	m := &Microphone{
		sampleRate: DefaultCaptureRate,
		frameSize:  DefaultFrameSize,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// micArgs returns the platform-specific ffmpeg arguments for capturing the
// default input device as mono f32le at the given rate.
func micArgs(goos string, rate int) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", rate),
			"-f", "f32le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", rate),
			"-f", "f32le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

// Start opens the input device and begins emitting frames. The returned
// channel is closed when ctx is cancelled, Close is called, or the device
// stream ends.
func (m *Microphone) Start(ctx context.Context) (<-chan Frame, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("microphone: ffmpeg not found on PATH: %w", err)
	}
	args, err := micArgs(runtime.GOOS, m.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("microphone: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd != nil {
		return nil, fmt.Errorf("microphone: already started")
	}
	if m.closed {
		return nil, fmt.Errorf("microphone: closed")
	}

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("microphone: open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("microphone: start ffmpeg: %w", err)
	}
	m.cmd = cmd
	m.stdout = stdout

	frames := make(chan Frame, 8)
	go m.readLoop(ctx, stdout, frames)
	return frames, nil
}

// readLoop reads full frames from the ffmpeg pipe and forwards them until the
// pipe closes or ctx is cancelled. It owns the frames channel.
func (m *Microphone) readLoop(ctx context.Context, r io.Reader, frames chan<- Frame) {
	defer close(frames)

	buf := make([]byte, m.frameSize*4)
	var produced int64 // total samples emitted so far

	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}

		samples := make([]float32, m.frameSize)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		frame := Frame{
			Samples:    samples,
			SampleRate: m.sampleRate,
			Timestamp:  time.Duration(produced) * time.Second / time.Duration(m.sampleRate),
		}
		produced += int64(m.frameSize)

		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the input device. Safe to call multiple times and before
// Start; after Close the Microphone cannot be restarted.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}
