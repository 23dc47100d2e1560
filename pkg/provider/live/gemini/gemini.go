// Package gemini implements the live.Provider interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Session configuration travels in a setup message sent immediately
// after the socket opens; the session is ready once the server acknowledges
// with setupComplete. Audio is transmitted as base64-encoded PCM chunks.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
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
	ProviderName = "gemini-live"

	defaultModel   = "gemini-2.5-flash-native-audio-preview"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	inputSampleRate  = 16000
	outputSampleRate = 24000

	defaultReadyTimeout = 15 * time.Second

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithReadyTimeout sets how long Connect waits for the server's setupComplete
// acknowledgement.
func WithReadyTimeout(d time.Duration) Option {
	return func(p *Provider) { p.readyTimeout = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey       string
	model        string
	baseURL      string
	readyTimeout time.Duration
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		readyTimeout: defaultReadyTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Gemini Live backend.
func (p *Provider) Capabilities() live.Capabilities {
	return live.Capabilities{
		InputSampleRate:    inputSampleRate,
		OutputSampleRate:   outputSampleRate,
		SupportsToolCalls:  true,
		MaxSessionDuration: 15 * time.Minute,
	}
}

// Connect establishes a new Gemini Live session. It sends the setup message
// immediately after the socket opens and blocks until the server acknowledges
// with setupComplete or the ready timeout expires.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig, h live.Handlers) (live.SessionHandle, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	dialCtx, dialCancel := context.WithTimeout(ctx, p.readyTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, &live.TransportError{Provider: ProviderName, Err: fmt.Errorf("dial: %w", err)}
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		handlers: h.Normalize(),
		inRate:   cfg.InputSampleRate,
		state:    live.StateConnecting,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}
	if sess.inRate == 0 {
		sess.inRate = inputSampleRate
	}

	model := cfg.Model
	if model == "" {
		model = p.model
	}

	sess.setState(live.StateConfiguring)
	if err := sess.sendSetup(model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, &live.TransportError{Provider: ProviderName, Err: fmt.Errorf("setup: %w", err)}
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	select {
	case <-sess.ready:
	case <-time.After(p.readyTimeout):
		_ = sess.Close()
		return nil, &live.HandshakeTimeoutError{Provider: ProviderName, Timeout: p.readyTimeout}
	case <-ctx.Done():
		_ = sess.Close()
		return nil, ctx.Err()
	case <-sess.done:
		return nil, &live.TransportError{Provider: ProviderName, Err: fmt.Errorf("connection closed during setup")}
	}

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model               string             `json:"model"`
	GenerationConfig    generationConfig   `json:"generationConfig"`
	SystemInstruction   *systemInstruction `json:"systemInstruction,omitempty"`
	Tools               []geminiTool       `json:"tools,omitempty"`
	InputTranscription  *transcriptionCfg  `json:"inputAudioTranscription,omitempty"`
	OutputTranscription *transcriptionCfg  `json:"outputAudioTranscription,omitempty"`
}

type transcriptionCfg struct{}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete        *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent        *serverContent   `json:"serverContent,omitempty"`
	ToolCall             *toolCallMsg     `json:"toolCall,omitempty"`
	ToolCallCancellation *json.RawMessage `json:"toolCallCancellation,omitempty"`
	Error                *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn     *websocket.Conn
	handlers live.Handlers
	inRate   int

	mu        sync.Mutex
	state     live.State
	closed    bool
	readyOnce sync.Once

	ready  chan struct{}
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	doneOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message. Input and
// output transcription are always enabled so both sides of the conversation
// surface as transcript fragments.
func (s *session) sendSetup(model string, cfg live.SessionConfig) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputTranscription:  &transcriptionCfg{},
			OutputTranscription: &transcriptionCfg{},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		msg.Setup.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them. It is
// the only goroutine that invokes handlers, so callback order matches wire
// order.
func (s *session) receiveLoop() {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				s.finish(live.StateClosed, 0, "session closed")
				return
			}
			code := int(websocket.CloseStatus(err))
			if code < 0 {
				code = 0
			}
			s.handlers.OnError(&live.TransportError{Provider: ProviderName, Err: err})
			s.finish(live.StateFailed, code, err.Error())
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.handlers.OnError(&live.ProtocolError{Provider: ProviderName, Err: err})
			continue
		}

		s.handleServerMessage(&msg)
	}
}

func (s *session) handleServerMessage(msg *serverMessage) {
	if msg.SetupComplete != nil {
		s.readyOnce.Do(func() {
			s.setState(live.StateActive)
			close(s.ready)
		})
	}
	if msg.Error != nil {
		detail := msg.Error.Message
		if detail == "" {
			detail = "unknown error"
		}
		s.handlers.OnError(&live.ProtocolError{
			Provider: ProviderName,
			Err:      fmt.Errorf("server error %d: %s", msg.Error.Code, detail),
		})
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
	if msg.ToolCall != nil {
		s.handleToolCall(msg.ToolCall)
	}
}

func (s *session) handleServerContent(sc *serverContent) {
	// Interruption first: queued audio must be dropped before anything else
	// from this message is surfaced.
	if sc.Interrupted {
		s.setState(live.StateInterrupted)
		s.handlers.OnInterrupted()
	}

	if sc.ModelTurn != nil {
		if s.State() == live.StateInterrupted {
			s.setState(live.StateActive)
		}
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				audioData, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(audioData) == 0 {
					continue
				}
				s.handlers.OnAudioChunk(audioData)
			}
			if p.Text != "" {
				s.handlers.OnTranscriptFragment(live.SpeakerAssistant, p.Text)
			}
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.handlers.OnTranscriptFragment(live.SpeakerUser, sc.InputTranscription.Text)
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.handlers.OnTranscriptFragment(live.SpeakerAssistant, sc.OutputTranscription.Text)
	}

	if sc.TurnComplete {
		s.setState(live.StateActive)
		s.handlers.OnTurnComplete()
	}
}

func (s *session) handleToolCall(tc *toolCallMsg) {
	if len(tc.FunctionCalls) == 0 {
		return
	}
	calls := make([]live.ToolCall, len(tc.FunctionCalls))
	for i, fc := range tc.FunctionCalls {
		calls[i] = live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}
	}
	s.handlers.OnToolCall(calls)
}

// keepaliveLoop sends WebSocket pings to keep the connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
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

// SendAudio delivers a raw PCM16 chunk at the session's input rate to the model.
func (s *session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	s.mu.Unlock()

	encoded := base64.StdEncoding.EncodeToString(pcm)
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: fmt.Sprintf("audio/pcm;rate=%d", s.inRate), Data: encoded},
			},
		},
	}
	return s.writeJSON(msg)
}

// SendToolResult reports tool call outcomes back to the model.
func (s *session) SendToolResult(results []live.ToolResult) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	s.mu.Unlock()

	if len(results) == 0 {
		return nil
	}
	resps := make([]functionResponse, len(results))
	for i, r := range results {
		resps[i] = functionResponse{ID: r.ID, Name: r.Name, Response: r.Output}
	}
	return s.writeJSON(toolResponseMessage{
		ToolResponse: toolResponse{FunctionResponses: resps},
	})
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

	s.cancel() // unblocks receiveLoop and keepaliveLoop
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.finish(live.StateClosed, 0, "session closed")
	return nil
}
