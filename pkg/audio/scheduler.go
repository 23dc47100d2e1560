package audio

import (
	"sync"
	"time"
)

// Sink is the playback output a [Scheduler] writes into. Write delivers one
// PCM16 payload for immediate playback; Flush discards anything the device
// has buffered but not yet played. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(pcm []byte) error
	Flush() error
	Close() error
}

// Scheduler schedules decoded audio buffers for gapless playback.
//
// It keeps a cursor holding the next absolute time at
// which queued audio may start. On enqueue the buffer is scheduled at
// max(cursor, now) and the cursor advances by the buffer's duration, so
// buffers play back-to-back with no gap and no overlap even when they arrive
// in uneven network bursts. Interrupt stops every not-yet-finished buffer and
// resets the cursor to now.
//
// Live buffer handles are tracked in an explicit set and removed on natural
// completion or on interrupt. All methods are safe for concurrent use, though
// in the engine only the session's receive/dispatch flow touches the cursor.
type Scheduler struct {
	sink       Sink
	sampleRate int
	now        func() time.Time

	mu     sync.Mutex
	cursor time.Time
	live   map[*bufferHandle]struct{}
}

// bufferHandle tracks the timers of one scheduled buffer so it can be
// cancelled before it starts or while it is playing.
type bufferHandle struct {
	start *time.Timer
	done  *time.Timer
}

// SchedulerOption is a functional option for configuring a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the wall-clock source. Used in tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a Scheduler that plays PCM16 buffers at the given
// sample rate through sink.
func NewScheduler(sink Sink, sampleRate int, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		sink:       sink,
		sampleRate: sampleRate,
		now:        time.Now,
		live:       make(map[*bufferHandle]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.cursor = s.now()
	return s
}

// Enqueue schedules pcm for playback immediately after everything already
// queued. It returns the absolute start time assigned to the buffer and never
// blocks waiting for playback.
func (s *Scheduler) Enqueue(pcm []byte) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if len(pcm) == 0 {
		return now
	}

	start := s.cursor
	if start.Before(now) {
		start = now
	}
	dur := PCM16Duration(len(pcm), s.sampleRate)
	s.cursor = start.Add(dur)

	h := &bufferHandle{}
	s.live[h] = struct{}{}
	h.start = time.AfterFunc(start.Sub(now), func() {
		_ = s.sink.Write(pcm)
	})
	h.done = time.AfterFunc(s.cursor.Sub(now), func() {
		s.release(h)
	})
	return start
}

// release drops a handle whose buffer finished playing. Buffers that already
// finished are inert; releasing them is the only cleanup they need.
func (s *Scheduler) release(h *bufferHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, h)
}

// Interrupt stops every scheduled, not-yet-finished buffer immediately,
// flushes the sink, and resets the cursor to now. Used on barge-in.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	for h := range s.live {
		h.start.Stop()
		h.done.Stop()
		delete(s.live, h)
	}
	s.cursor = s.now()
	s.mu.Unlock()

	_ = s.sink.Flush()
}

// Pending returns the number of buffers that have been scheduled and not yet
// finished playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Cursor returns the next absolute time at which queued audio may start.
func (s *Scheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close interrupts all playback and closes the underlying sink.
func (s *Scheduler) Close() error {
	s.Interrupt()
	return s.sink.Close()
}
