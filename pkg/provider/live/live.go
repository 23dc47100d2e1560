// Package live defines the Provider interface for real-time voice backends.
//
// A live provider wraps a speech-to-speech service that accepts raw audio
// input and returns synthesised audio output in a single, stateful session,
// bypassing the separate STT → LLM → TTS pipeline entirely. Examples include
// Gemini Live and the GLM Realtime API.
//
// The central abstraction is SessionHandle plus a [Handlers] struct supplied
// at connect time: the caller pushes audio through the handle and the session
// pushes transcripts, audio, interruptions, and errors back through the
// handlers. Sessions are long-lived (seconds to minutes) and are never
// reconnected automatically; when a session dies the caller decides whether
// to open a new one.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"time"
)

// Speaker identifies which side of the conversation produced a transcript
// fragment.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ToolDefinition describes one function the model may invoke during the
// session. Parameters is a JSON-Schema object describing the arguments.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its [ToolResult]. Empty for backends that
	// do not use call IDs.
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is the outcome of one executed [ToolCall], sent back to the
// model via [SessionHandle.SendToolResult].
type ToolResult struct {
	ID     string
	Name   string
	Output map[string]any
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Model is the backend model identifier. Empty selects the provider's
	// default.
	Model string

	// Instructions is the system-level prompt applied for the whole session.
	Instructions string

	// Voice selects the synthesised output voice. Empty selects the
	// provider's default.
	Voice string

	// InputSampleRate is the sample rate in Hz of audio the caller will send.
	// Zero selects the provider's native rate.
	InputSampleRate int

	// OutputSampleRate is the sample rate in Hz the caller expects for
	// synthesised audio. Zero selects the provider's native rate.
	OutputSampleRate int

	// Tools is the set of tool definitions offered to the model for the whole
	// session. Tool calls are surfaced via [Handlers.OnToolCall]. Providers
	// without tool support ignore this and report calls as unsupported.
	Tools []ToolDefinition
}

// Handlers receives everything a live session pushes back to its owner. All
// callbacks are invoked sequentially from the session's single receive
// goroutine, so their relative order matches the wire order and no internal
// locking is needed inside a handler. A handler must not block; it must also
// not call SessionHandle.Close from within itself (spawn a goroutine for
// that).
//
// Any nil callback is simply skipped.
type Handlers struct {
	// OnTranscriptFragment delivers one incremental transcript fragment for
	// the given speaker. Fragments are partial; turn boundaries arrive via
	// OnTurnComplete.
	OnTranscriptFragment func(speaker Speaker, text string)

	// OnTurnComplete signals that the model finished its current response
	// turn. Everything received since the previous turn boundary belongs to
	// the turn now ending.
	OnTurnComplete func()

	// OnAudioChunk delivers one chunk of synthesised PCM16 audio at the
	// session's output sample rate.
	OnAudioChunk func(pcm []byte)

	// OnInterrupted signals that the model detected the user speaking over
	// the assistant. All queued assistant audio is stale and must be
	// discarded immediately.
	OnInterrupted func()

	// OnToolCall delivers the tool calls of one model turn. The owner
	// executes them and reports outcomes via SendToolResult.
	OnToolCall func(calls []ToolCall)

	// OnError reports a non-fatal or fatal session error. A fatal error is
	// always followed by OnClosed.
	OnError func(err error)

	// OnClosed reports that the session has terminated, with the transport
	// close code (or 0 when the session ended locally) and a human-readable
	// reason. Called exactly once; no other callback fires after it.
	OnClosed func(code int, reason string)
}

// Normalize returns a copy of h with every nil callback replaced by a no-op,
// so session internals never need nil checks. Adapter implementations call
// this once at connect time.
func (h Handlers) Normalize() Handlers {
	if h.OnTranscriptFragment == nil {
		h.OnTranscriptFragment = func(Speaker, string) {}
	}
	if h.OnTurnComplete == nil {
		h.OnTurnComplete = func() {}
	}
	if h.OnAudioChunk == nil {
		h.OnAudioChunk = func([]byte) {}
	}
	if h.OnInterrupted == nil {
		h.OnInterrupted = func() {}
	}
	if h.OnToolCall == nil {
		h.OnToolCall = func([]ToolCall) {}
	}
	if h.OnError == nil {
		h.OnError = func(error) {}
	}
	if h.OnClosed == nil {
		h.OnClosed = func(int, string) {}
	}
	return h
}

// Capabilities describes static properties of a live provider. The values
// are constant for the lifetime of the Provider instance.
type Capabilities struct {
	// InputSampleRate is the native capture rate in Hz the backend expects.
	InputSampleRate int

	// OutputSampleRate is the native synthesis rate in Hz the backend emits.
	OutputSampleRate int

	// SupportsToolCalls reports whether the backend can invoke tools.
	SupportsToolCalls bool

	// MaxSessionDuration is the hard upper bound on session lifetime imposed
	// by the backend. Zero means no documented limit.
	MaxSessionDuration time.Duration
}

// SessionHandle represents one open live session. It is an interface so test
// code can supply mock implementations without a live connection.
//
// The session is the hot path of the voice pipeline; every method must return
// quickly. All methods are safe for concurrent use. Callers must call Close
// when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one raw PCM16 chunk of user audio to the backend.
	// The chunk must be at the session's input sample rate. Returns an error
	// if the session is closed or the transport rejects the write.
	SendAudio(pcm []byte) error

	// SendToolResult reports the outcomes of previously surfaced tool calls.
	// Providers without tool support return an error.
	SendToolResult(results []ToolResult) error

	// State returns the session's current lifecycle state.
	State() State

	// Close terminates the session and releases all resources. Handlers
	// receive a final OnClosed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any live voice backend.
//
// Implementations must be safe for concurrent use; the application may open
// sessions against several providers over its lifetime, though it runs at
// most one at a time.
type Provider interface {
	// Connect establishes a new session with the given configuration and
	// handler set. It blocks until the session is ready to accept audio or
	// fails; there is no half-open state visible to the caller.
	//
	// The caller owns the returned SessionHandle and must call Close.
	Connect(ctx context.Context, cfg SessionConfig, h Handlers) (SessionHandle, error)

	// Capabilities returns static metadata about the backend.
	Capabilities() Capabilities
}
