// Package app wires the conversation pipeline together: microphone capture,
// the realtime provider session, playback scheduling, turn aggregation,
// persistence, and async translation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/lingolive/lingolive/internal/config"
	"github.com/lingolive/lingolive/internal/observe"
	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/internal/textgen"
	"github.com/lingolive/lingolive/internal/turn"
	"github.com/lingolive/lingolive/pkg/audio"
	"github.com/lingolive/lingolive/pkg/provider/live"
)

// SessionDeps holds everything a [ConversationSession] needs. Provider,
// Capture, Scheduler, and Store are required; Translator is optional.
type SessionDeps struct {
	// ProviderName is the registered name of the realtime provider, used for
	// session IDs, logs, and metric attributes.
	ProviderName string

	Provider  live.Provider
	Capture   audio.CaptureSource
	Scheduler *audio.Scheduler
	Store     store.Store

	// Translator, when non-nil, translates committed messages into the
	// learner's native language in the background.
	Translator textgen.Generator
	Languages  config.LanguagesConfig

	// ToolHandler executes tool calls requested by the model and returns
	// their outputs. When nil, calls are acknowledged with an empty result;
	// an unanswered call stalls the model's generation.
	ToolHandler func(call live.ToolCall) (map[string]any, error)

	// Metrics defaults to [observe.DefaultMetrics] when nil.
	Metrics *observe.Metrics

	// Live is the session configuration passed to Provider.Connect.
	Live live.SessionConfig
}

// ConversationSession runs one live conversation: it pumps microphone frames
// upstream, schedules synthesised audio for playback, aggregates transcripts
// into committed messages, and persists everything.
//
// A session is single-use: Start once, then Stop. All exported methods are
// safe for concurrent use.
type ConversationSession struct {
	deps SessionDeps

	id        string
	startedAt time.Time

	handle live.SessionHandle
	agg    *turn.Aggregator
	cancel context.CancelFunc

	// wg tracks the audio pump and all in-flight translation goroutines.
	wg sync.WaitGroup

	// closed is closed when the provider reports OnClosed.
	closed chan struct{}

	mu        sync.Mutex
	turnStart time.Time
	stopped   bool
	pumpErr   error
}

// NewConversationSession creates a session from deps. The provider is not
// contacted until Start.
func NewConversationSession(deps SessionDeps) *ConversationSession {
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	s := &ConversationSession{
		deps:   deps,
		closed: make(chan struct{}),
	}
	s.agg = turn.NewAggregator(s.commitMessage)
	return s
}

// ID returns the session identifier. Empty until Start succeeds.
func (s *ConversationSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Closed returns a channel that is closed when the provider terminates the
// session, whether locally via Stop or remotely.
func (s *ConversationSession) Closed() <-chan struct{} {
	return s.closed
}

// Start connects to the realtime provider, opens the microphone, and begins
// streaming. It blocks until the provider session is ready or fails. On
// failure all partially acquired resources are released.
func (s *ConversationSession) Start(ctx context.Context) error {
	now := time.Now().UTC()
	id := fmt.Sprintf("session-%s-%s", s.deps.ProviderName, now.Format("20060102T150405Z"))

	s.mu.Lock()
	s.id = id
	s.startedAt = now
	s.mu.Unlock()

	connectStart := time.Now()
	handle, err := s.deps.Provider.Connect(ctx, s.deps.Live, s.handlers())
	if err != nil {
		return fmt.Errorf("app: connect %s: %w", s.deps.ProviderName, err)
	}
	s.deps.Metrics.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds(),
		metric.WithAttributes(observe.Attr("provider", s.deps.ProviderName)))

	// The pump outlives ctx (which only scopes Start); it stops when the
	// capture channel closes or the session dies.
	pumpCtx, cancel := context.WithCancel(context.Background())

	frames, err := s.deps.Capture.Start(pumpCtx)
	if err != nil {
		cancel()
		_ = handle.Close()
		devErr := &live.DeviceError{Device: "microphone", Err: err}
		s.deps.Metrics.RecordProviderError(ctx, s.deps.ProviderName, "device")
		return fmt.Errorf("app: open capture: %w", devErr)
	}

	// The row is recorded only once every resource is up, so a failed start
	// never leaves a phantom session in the history.
	if err := s.deps.Store.SaveSession(ctx, store.Session{
		ID:        id,
		Provider:  s.deps.ProviderName,
		Model:     s.deps.Live.Model,
		StartedAt: now,
	}); err != nil {
		cancel()
		_ = s.deps.Capture.Close()
		_ = handle.Close()
		return fmt.Errorf("app: save session: %w", err)
	}

	s.mu.Lock()
	s.handle = handle
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Go(func() { s.pump(pumpCtx, frames, handle) })

	s.deps.Metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session started",
		"session_id", id,
		"provider", s.deps.ProviderName,
		"model", s.deps.Live.Model,
	)
	return nil
}

// Stop tears the session down: it stops capture, closes the provider session,
// waits for in-flight work, flushes pending playback, and records the end
// time. Teardown is best-effort; all failures are joined into the returned
// error. Calling Stop more than once returns the first result.
func (s *ConversationSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	handle := s.handle
	cancel := s.cancel
	id := s.id
	s.mu.Unlock()

	var errs []error

	if cancel != nil {
		cancel()
	}
	if err := s.deps.Capture.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close capture: %w", err))
	}
	if handle != nil {
		if err := handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close provider session: %w", err))
		}
	}

	// Commit whatever the aggregator still holds so a mid-turn shutdown does
	// not lose transcribed text.
	s.agg.Complete()
	s.wg.Wait()

	s.deps.Scheduler.Interrupt()

	s.mu.Lock()
	pumpErr := s.pumpErr
	startedAt := s.startedAt
	s.mu.Unlock()
	if pumpErr != nil {
		errs = append(errs, pumpErr)
	}

	if id != "" {
		if err := s.deps.Store.SaveSession(ctx, store.Session{
			ID:        id,
			Provider:  s.deps.ProviderName,
			Model:     s.deps.Live.Model,
			StartedAt: startedAt,
			EndedAt:   time.Now().UTC(),
		}); err != nil {
			errs = append(errs, fmt.Errorf("record session end: %w", err))
		}
	}

	s.deps.Metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("session stopped", "session_id", id)

	if len(errs) > 0 {
		return fmt.Errorf("app: stop session: %w", errors.Join(errs...))
	}
	return nil
}

// handlers builds the callback set wired into the provider session. All
// callbacks run on the session's dispatch goroutine and must not block.
func (s *ConversationSession) handlers() live.Handlers {
	ctx := context.Background()
	providerAttr := metric.WithAttributes(observe.Attr("provider", s.deps.ProviderName))

	return live.Handlers{
		OnTranscriptFragment: func(speaker live.Speaker, text string) {
			s.mu.Lock()
			if s.turnStart.IsZero() {
				s.turnStart = time.Now()
			}
			s.mu.Unlock()
			s.agg.AddFragment(speaker, text)
		},
		OnTurnComplete: func() {
			s.mu.Lock()
			start := s.turnStart
			s.turnStart = time.Time{}
			s.mu.Unlock()
			if !start.IsZero() {
				s.deps.Metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(), providerAttr)
			}
			s.agg.Complete()
		},
		OnAudioChunk: func(pcm []byte) {
			s.deps.Scheduler.Enqueue(pcm)
			s.deps.Metrics.AudioChunksReceived.Add(ctx, 1, providerAttr)
		},
		OnToolCall: func(calls []live.ToolCall) {
			s.mu.Lock()
			handle := s.handle
			s.mu.Unlock()
			if handle == nil {
				slog.Warn("tool call before session handle is ready, dropping",
					"session_id", s.ID(), "calls", len(calls))
				return
			}
			results := make([]live.ToolResult, 0, len(calls))
			for _, call := range calls {
				results = append(results, s.runTool(call))
			}
			if err := handle.SendToolResult(results); err != nil {
				slog.Warn("send tool results failed", "session_id", s.ID(), "err", err)
			}
		},
		OnInterrupted: func() {
			s.deps.Scheduler.Interrupt()
			s.deps.Metrics.RecordInterruption(ctx)
			slog.Debug("assistant interrupted, playback flushed", "session_id", s.ID())
		},
		OnError: func(err error) {
			s.deps.Metrics.RecordProviderError(ctx, s.deps.ProviderName, errorKind(err))
			slog.Warn("provider session error", "session_id", s.ID(), "err", err)
		},
		OnClosed: func(code int, reason string) {
			slog.Info("provider session closed",
				"session_id", s.ID(), "code", code, "reason", reason)
			close(s.closed)
		},
	}
}

// pump forwards capture frames to the provider until the capture channel
// closes or a send fails.
func (s *ConversationSession) pump(ctx context.Context, frames <-chan audio.Frame, handle live.SessionHandle) {
	providerAttr := metric.WithAttributes(observe.Attr("provider", s.deps.ProviderName))
	resampler := &audio.Resampler{TargetRate: s.deps.Live.InputSampleRate}

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			pcm := audio.EncodePCM16(resampler.Convert(frame).Samples)
			if err := handle.SendAudio(pcm); err != nil {
				if handle.State().Terminal() {
					return
				}
				s.mu.Lock()
				s.pumpErr = fmt.Errorf("send audio: %w", err)
				s.mu.Unlock()
				slog.Error("audio pump stopped", "session_id", s.ID(), "err", err)
				return
			}
			s.deps.Metrics.AudioFramesSent.Add(ctx, 1, providerAttr)
		}
	}
}

// runTool executes one tool call. Unhandled calls and handler failures are
// answered anyway; an unanswered call stalls the model's generation.
func (s *ConversationSession) runTool(call live.ToolCall) live.ToolResult {
	res := live.ToolResult{ID: call.ID, Name: call.Name}
	if s.deps.ToolHandler == nil {
		slog.Warn("no tool handler configured, acknowledging tool call",
			"session_id", s.ID(), "tool", call.Name)
		res.Output = map[string]any{}
		return res
	}
	out, err := s.deps.ToolHandler(call)
	if err != nil {
		slog.Warn("tool call failed", "session_id", s.ID(), "tool", call.Name, "err", err)
		res.Output = map[string]any{"error": err.Error()}
		return res
	}
	res.Output = out
	return res
}

// commitMessage persists one committed message and kicks off its translation.
func (s *ConversationSession) commitMessage(m turn.Message) {
	ctx := context.Background()

	msg := store.Message{
		ID:        m.ID,
		SessionID: s.ID(),
		Speaker:   string(m.Speaker),
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
	}
	if err := s.deps.Store.SaveMessage(ctx, msg); err != nil {
		slog.Warn("save message failed", "session_id", msg.SessionID, "message_id", m.ID, "err", err)
		return
	}
	s.deps.Metrics.RecordMessageCommitted(ctx, string(m.Speaker))

	// Both sides of the conversation are in the target language; translate
	// into the learner's native language off the dispatch goroutine. The
	// spawn is guarded by the stop flag under the same lock Stop takes
	// before waiting on the group, so a dispatch racing teardown can never
	// grow the group after the wait has started.
	if s.deps.Translator != nil && s.deps.Languages.Native != "" {
		s.mu.Lock()
		if !s.stopped {
			s.wg.Go(func() { s.translate(m) })
		}
		s.mu.Unlock()
	}
}

// translate renders one committed message into the native language and
// attaches the result to the stored message.
func (s *ConversationSession) translate(m turn.Message) {
	ctx, cancelT := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelT()

	start := time.Now()
	text, err := textgen.Translate(ctx, s.deps.Translator, m.Text, s.deps.Languages.Target, s.deps.Languages.Native)
	if err != nil {
		slog.Warn("translation failed", "message_id", m.ID, "err", err)
		return
	}
	s.deps.Metrics.TranslationDuration.Record(ctx, time.Since(start).Seconds())

	if err := s.deps.Store.SetTranslation(ctx, m.ID, text); err != nil {
		slog.Warn("store translation failed", "message_id", m.ID, "err", err)
	}
}

// errorKind maps a session error to a stable metric attribute value.
func errorKind(err error) string {
	var (
		devErr       *live.DeviceError
		authErr      *live.AuthError
		quotaErr     *live.QuotaError
		handshakeErr *live.HandshakeTimeoutError
		protoErr     *live.ProtocolError
		transErr     *live.TransportError
	)
	switch {
	case errors.As(err, &devErr):
		return "device"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &quotaErr):
		return "quota"
	case errors.As(err, &handshakeErr):
		return "handshake"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &transErr):
		return "transport"
	default:
		return "unknown"
	}
}
