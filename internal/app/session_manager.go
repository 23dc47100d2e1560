package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lingolive/lingolive/internal/config"
	"github.com/lingolive/lingolive/internal/observe"
	"github.com/lingolive/lingolive/internal/store"
	"github.com/lingolive/lingolive/internal/textgen"
	"github.com/lingolive/lingolive/pkg/audio"
	"github.com/lingolive/lingolive/pkg/provider/live"
)

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// Provider is the realtime provider name the session runs against.
	Provider string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Registry *config.Registry
	Config   *config.Config
	Store    store.Store
	Metrics  *observe.Metrics

	// Tools are offered to the realtime provider for the whole session.
	Tools []live.ToolDefinition

	// ToolHandler executes tool calls surfaced by the provider. When nil,
	// calls are acknowledged with an empty result.
	ToolHandler func(call live.ToolCall) (map[string]any, error)

	// NewCapture builds a capture source for the given sample rate. Defaults
	// to [audio.NewMicrophone].
	NewCapture func(sampleRate int) audio.CaptureSource

	// NewSink builds a playback sink for the given sample rate. Defaults to
	// [audio.NewFFplaySink].
	NewSink func(sampleRate int) (audio.Sink, error)
}

// SessionManager manages the lifecycle of conversation sessions. Only one
// session can be active at a time; the microphone is an exclusive resource.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	registry    *config.Registry
	cfg         *config.Config
	store       store.Store
	metrics     *observe.Metrics
	tools       []live.ToolDefinition
	toolHandler func(live.ToolCall) (map[string]any, error)
	newCapture  func(int) audio.CaptureSource
	newSink     func(int) (audio.Sink, error)

	mu      sync.Mutex
	session *ConversationSession
	sink    audio.Sink
	info    SessionInfo
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		registry:    cfg.Registry,
		cfg:         cfg.Config,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		tools:       cfg.Tools,
		toolHandler: cfg.ToolHandler,
		newCapture:  cfg.NewCapture,
		newSink:     cfg.NewSink,
	}
	if sm.metrics == nil {
		sm.metrics = observe.DefaultMetrics()
	}
	if sm.newCapture == nil {
		sm.newCapture = func(rate int) audio.CaptureSource {
			opts := []audio.MicrophoneOption{audio.WithCaptureRate(rate)}
			if fs := sm.cfg.Audio.FrameSize; fs > 0 {
				opts = append(opts, audio.WithFrameSize(fs))
			}
			return audio.NewMicrophone(opts...)
		}
	}
	if sm.newSink == nil {
		sm.newSink = func(rate int) (audio.Sink, error) {
			return audio.NewFFplaySink(rate)
		}
	}
	return sm
}

// Start begins a new conversation session using the configured realtime
// provider. Returns an error if a session is already active.
func (sm *SessionManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.session != nil {
		return fmt.Errorf("app: a session is already active (id=%s)", sm.info.SessionID)
	}

	entry := sm.cfg.Providers.Realtime
	if entry.Name == "" {
		return errors.New("app: no realtime provider configured")
	}
	apiKey, err := sm.resolveAPIKey(ctx, entry)
	if err != nil {
		return err
	}
	entry.APIKey = apiKey

	provider, err := sm.registry.CreateRealtime(entry)
	if err != nil {
		return fmt.Errorf("app: create provider: %w", err)
	}

	caps := provider.Capabilities()
	inRate := sm.cfg.Audio.InputSampleRate
	if inRate == 0 {
		inRate = caps.InputSampleRate
	}

	capture := sm.newCapture(inRate)
	sink, err := sm.newSink(caps.OutputSampleRate)
	if err != nil {
		return fmt.Errorf("app: open playback: %w", err)
	}
	scheduler := audio.NewScheduler(sink, caps.OutputSampleRate)

	sess := NewConversationSession(SessionDeps{
		ProviderName: entry.Name,
		Provider:     provider,
		Capture:      capture,
		Scheduler:    scheduler,
		Store:        sm.store,
		Translator:   sm.translator(),
		Languages:    sm.cfg.Languages,
		ToolHandler:  sm.toolHandler,
		Metrics:      sm.metrics,
		Live: live.SessionConfig{
			Model:            entry.Model,
			Instructions:     buildInstructions(sm.cfg.Languages),
			Voice:            entry.Voice,
			InputSampleRate:  inRate,
			OutputSampleRate: caps.OutputSampleRate,
			Tools:            sm.tools,
		},
	})

	if err := sess.Start(ctx); err != nil {
		_ = sink.Close()
		return err
	}

	sm.session = sess
	sm.sink = sink
	sm.info = SessionInfo{
		SessionID: sess.ID(),
		Provider:  entry.Name,
		StartedAt: time.Now().UTC(),
	}
	return nil
}

// Stop gracefully ends the active session. Returns an error if no session is
// active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.session == nil {
		return errors.New("app: no active session to stop")
	}

	err := sm.session.Stop(ctx)
	if closeErr := sm.sink.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("app: close playback: %w", closeErr))
	}

	sm.session = nil
	sm.sink = nil
	sm.info = SessionInfo{}
	return err
}

// UpdateConfig swaps the configuration used by future sessions. The active
// session, if any, keeps the settings it was started with.
func (sm *SessionManager) UpdateConfig(cfg *config.Config) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
}

// IsActive reports whether a session is currently running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.session != nil
}

// Info returns metadata about the active session. Zero value when no session
// is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Session returns the active session, or nil.
func (sm *SessionManager) Session() *ConversationSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.session
}

// resolveAPIKey returns the entry's inline API key, falling back to the
// credential store.
func (sm *SessionManager) resolveAPIKey(ctx context.Context, entry config.ProviderEntry) (string, error) {
	if entry.APIKey != "" {
		return entry.APIKey, nil
	}
	key, err := sm.store.Credential(ctx, entry.Name)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("app: no API key for provider %q: set providers.realtime.api_key or store a credential", entry.Name)
	}
	if err != nil {
		return "", fmt.Errorf("app: load credential: %w", err)
	}
	return key, nil
}

// translator builds the configured text generator, or nil when none is
// configured or construction fails. Translation is a best-effort feature and
// never blocks session start.
func (sm *SessionManager) translator() textgen.Generator {
	entry := sm.cfg.Providers.Text
	if entry.Name == "" {
		return nil
	}
	gen, err := sm.registry.CreateText(entry)
	if err != nil {
		slog.Warn("text provider unavailable, translations disabled", "name", entry.Name, "err", err)
		return nil
	}
	return gen
}

// buildInstructions renders the system prompt for the conversation partner.
func buildInstructions(langs config.LanguagesConfig) string {
	target := langs.Target
	if target == "" {
		target = "the learner's chosen language"
	}
	prompt := fmt.Sprintf(
		"You are a friendly and patient conversation partner helping someone practice %s. "+
			"Speak only %s. Keep replies short and conversational, match the learner's level, "+
			"and gently rephrase their mistakes in your answer instead of lecturing.",
		target, target,
	)
	if langs.Native != "" {
		prompt += fmt.Sprintf(" If the learner is completely stuck, you may give a brief hint in %s.", langs.Native)
	}
	return prompt
}
