package audio

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// FFplaySink is a [Sink] backed by an ffplay subprocess consuming raw s16le
// PCM on stdin. ffplay must be installed and on PATH. Flush kills and
// restarts the process, which is the only reliable way to drop audio ffplay
// has already buffered internally.
type FFplaySink struct {
	sampleRate int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewFFplaySink starts an ffplay process playing mono PCM16 at the given
// sample rate.
func NewFFplaySink(sampleRate int) (*FFplaySink, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, fmt.Errorf("playback: ffplay not found on PATH: %w", err)
	}
	s := &FFplaySink{sampleRate: sampleRate}
	if err := s.startLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FFplaySink) startLocked() error {
	s.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("playback: open ffplay stdin: %w", err)
	}
	s.cmd.Stdout = io.Discard
	s.cmd.Stderr = io.Discard
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("playback: start ffplay: %w", err)
	}
	s.stdin = stdin
	return nil
}

// Write delivers one PCM16 payload to the player.
func (s *FFplaySink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return fmt.Errorf("playback: sink is closed")
	}
	_, err := s.stdin.Write(pcm)
	return err
}

// Flush discards all buffered audio by restarting the player process.
func (s *FFplaySink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return nil
	}
	s.killLocked()
	return s.startLocked()
}

// Close stops the player process. Safe to call multiple times.
func (s *FFplaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	return nil
}

func (s *FFplaySink) killLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil
	s.stdin = nil
}
