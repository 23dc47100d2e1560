// Package glm implements the live.Provider interface for Zhipu's GLM
// Realtime API.
//
// It establishes a bidirectional WebSocket connection to the GLM Realtime
// endpoint and exchanges JSON events. Unlike Gemini Live, the server speaks
// first: no client event may be sent until the session.created greeting
// arrives, after which the client configures the session with session.update.
// Authentication uses a short-lived HMAC-signed token derived from the API
// key (see [GenerateToken]) rather than the key itself.
package glm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/lingolive/lingolive/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.SessionHandle = (*session)(nil)

const (
	// ProviderName identifies this backend in errors and configuration.
	ProviderName = "glm-realtime"

	defaultModel   = "glm-4-realtime"
	defaultBaseURL = "wss://open.bigmodel.cn/api/paas/v4/realtime"
	defaultVoice   = "puck"

	defaultReadyTimeout = 15 * time.Second
	defaultTokenTTL     = time.Hour

	sampleRate = 24000

	// Server close codes with a defined meaning.
	closeCodeAuth  = 4001
	closeCodeQuota = 4002

	vadThreshold = 0.5
	vadSilenceMs = 600
	vadPrefixMs  = 300
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the GLM model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithReadyTimeout sets how long Connect waits for the server's
// session.created greeting.
func WithReadyTimeout(d time.Duration) Option {
	return func(p *Provider) { p.readyTimeout = d }
}

// WithTokenTTL sets the validity window of generated auth tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(p *Provider) { p.tokenTTL = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Zhipu's GLM Realtime API.
type Provider struct {
	apiKey       string
	model        string
	baseURL      string
	readyTimeout time.Duration
	tokenTTL     time.Duration
	now          func() time.Time
}

// New creates a new GLM Realtime Provider with the given API key and options.
// The key must have the "<id>.<secret>" form issued by the platform.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		readyTimeout: defaultReadyTimeout,
		tokenTTL:     defaultTokenTTL,
		now:          time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the GLM Realtime backend.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		InputSampleRate:   sampleRate,
		OutputSampleRate:  sampleRate,
		SupportsToolCalls: false,
	}
}

// Connect establishes a new GLM Realtime session. It dials with a freshly
// signed token, waits for the server's session.created greeting, sends the
// session.update configuration, and only then returns. Sending any client
// event before session.created violates the protocol, so Connect never
// exposes a half-configured session.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig, h live.Handlers) (live.SessionHandle, error) {
	token, err := GenerateToken(p.apiKey, p.tokenTTL, p.now())
	if err != nil {
		return nil, &live.AuthError{Provider: ProviderName, Err: err}
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, p.readyTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, p.baseURL+"?authorization="+token, nil)
	if err != nil {
		return nil, &live.TransportError{Provider: ProviderName, Err: fmt.Errorf("dial: %w", err)}
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		handlers: h.Normalize(),
		state:    live.StateAwaitingReady,
		created:  make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	go sess.receiveLoop()

	select {
	case <-sess.created:
	case <-time.After(p.readyTimeout):
		_ = sess.Close()
		return nil, &live.HandshakeTimeoutError{Provider: ProviderName, Timeout: p.readyTimeout}
	case <-ctx.Done():
		_ = sess.Close()
		return nil, ctx.Err()
	case <-sess.done:
		return nil, sess.connectFailure()
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}
	sess.setState(live.StateConfiguring)
	if err := sess.sendSessionUpdate(model, cfg); err != nil {
		_ = sess.Close()
		return nil, &live.TransportError{Provider: ProviderName, Err: fmt.Errorf("session update: %w", err)}
	}
	sess.setState(live.StateActive)

	return sess, nil
}

// ── Protocol event types (outgoing) ───────────────────────────────────────────

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Model             string         `json:"model"`
	Modalities        []string       `json:"modalities"`
	Voice             string         `json:"voice"`
	Instructions      string         `json:"instructions,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type appendAudioEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol event types (incoming) ───────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	handlers live.Handlers

	mu          sync.Mutex
	state       live.State
	closed      bool
	failure     error
	createdOnce sync.Once

	created chan struct{}
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	doneOnce sync.Once
}

// sendSessionUpdate configures the session. Must not be called before the
// server's session.created greeting has arrived.
func (s *session) sendSessionUpdate(model string, cfg live.SessionConfig) error {
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}
	params := sessionParams{
		Model:             model,
		Modalities:        []string{"audio", "text"},
		Voice:             voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection: &turnDetection{
			Type:              "server_vad",
			Threshold:         vadThreshold,
			PrefixPaddingMs:   vadPrefixMs,
			SilenceDurationMs: vadSilenceMs,
		},
	}
	return s.writeJSON(sessionUpdateEvent{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("glm: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It is the
// only goroutine that invokes handlers, so callback order matches wire order.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				s.finish(live.StateClosed, 0, "session closed")
				return
			}
			s.handleDisconnect(err)
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.handlers.OnError(&live.ProtocolError{Provider: ProviderName, Err: err})
			continue
		}

		s.handleEvent(&ev)
	}
}

// handleDisconnect maps a dead connection onto the error taxonomy. The
// defined close codes distinguish auth rejection and quota exhaustion from
// ordinary transport failure.
func (s *session) handleDisconnect(err error) {
	code := int(websocket.CloseStatus(err))

	var mapped error
	switch code {
	case closeCodeAuth:
		mapped = &live.AuthError{Provider: ProviderName, Err: err}
	case closeCodeQuota:
		mapped = &live.QuotaError{Provider: ProviderName, Err: err}
	default:
		mapped = &live.TransportError{Provider: ProviderName, Err: err}
	}

	s.mu.Lock()
	s.failure = mapped
	s.mu.Unlock()

	s.handlers.OnError(mapped)
	if code < 0 {
		code = 0
	}
	s.finish(live.StateFailed, code, err.Error())
}

// connectFailure returns the error that killed the connection before the
// greeting arrived.
func (s *session) connectFailure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	return &live.TransportError{Provider: ProviderName, Err: fmt.Errorf("connection closed during handshake")}
}

func (s *session) handleEvent(ev *serverEvent) {
	switch ev.Type {
	case "session.created":
		s.createdOnce.Do(func() { close(s.created) })

	case "session.updated":
		// Configuration acknowledged; nothing to surface.

	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			s.handlers.OnError(&live.ProtocolError{Provider: ProviderName, Event: ev.Type, Err: err})
			return
		}
		if len(pcm) > 0 {
			s.handlers.OnAudioChunk(pcm)
		}

	case "response.audio_transcript.delta":
		if ev.Delta != "" {
			s.handlers.OnTranscriptFragment(live.SpeakerAssistant, ev.Delta)
		}

	case "conversation.item.input_audio_transcription.completed":
		if ev.Transcript != "" {
			s.handlers.OnTranscriptFragment(live.SpeakerUser, ev.Transcript)
		}

	case "input_audio_buffer.speech_started":
		s.setState(live.StateInterrupted)
		s.handlers.OnInterrupted()

	case "response.done":
		s.setState(live.StateActive)
		s.handlers.OnTurnComplete()

	case "error":
		detail := "unknown error"
		if ev.Error != nil && ev.Error.Message != "" {
			detail = ev.Error.Message
		}
		s.handlers.OnError(&live.ProtocolError{
			Provider: ProviderName,
			Event:    ev.Type,
			Err:      fmt.Errorf("%s", detail),
		})

	default:
		// Unknown event types are ignored so protocol additions don't break
		// running sessions.
	}
}

func (s *session) setState(st live.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = st
}

// finish records the terminal state, fires OnClosed exactly once, and
// releases the done channel.
func (s *session) finish(st live.State, code int, reason string) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.state = st
		s.mu.Unlock()
		s.handlers.OnClosed(code, reason)
		close(s.done)
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 chunk at 24 kHz to the input audio buffer.
func (s *session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("glm: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(appendAudioEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// SendToolResult is not supported by the GLM Realtime protocol; an error is
// always returned.
func (s *session) SendToolResult(_ []live.ToolResult) error {
	return fmt.Errorf("glm: tool calls are not supported")
}

// State returns the session's current lifecycle state.
func (s *session) State() live.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.finish(live.StateClosed, 0, "session closed")
	return nil
}
