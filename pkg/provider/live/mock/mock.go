// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to inspect which methods the pipeline invoked and to emit handler
// events as if they arrived from a real backend.
//
// Example:
//
//	sess := &mock.Session{}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg, handlers)
//	sess.Emit.OnTranscriptFragment(live.SpeakerUser, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/lingolive/lingolive/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call, wires the handlers into the returned Session's
// Emit field, and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig, h live.Handlers) (live.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	sess := p.Session
	if sess == nil {
		sess = &Session{}
		p.Session = sess
	}
	sess.attach(h)
	return sess, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// PCM is a copy of the audio bytes that were passed to SendAudio.
	PCM []byte
}

// SendToolResultCall records a single invocation of Session.SendToolResult.
type SendToolResultCall struct {
	// Results is a copy of the tool results passed to SendToolResult.
	Results []live.ToolResult
}

// Session is a mock implementation of live.SessionHandle.
//
// After Connect, Emit holds the normalized handlers the pipeline supplied;
// tests invoke them directly to simulate backend events.
type Session struct {
	mu sync.Mutex

	// Emit holds the handlers passed to Connect, normalized so every callback
	// is non-nil. Tests call these to push events into the pipeline.
	Emit live.Handlers

	// CurrentState is returned by State. Defaults to StateActive once
	// attached.
	CurrentState live.State

	// --- Configurable errors ---

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendToolResultErr, if non-nil, is returned by every SendToolResult call.
	SendToolResultErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// SendToolResultCalls records every call to SendToolResult in order.
	SendToolResultCalls []SendToolResultCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// attach stores the normalized handlers and moves the session to Active.
func (s *Session) attach(h live.Handlers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Emit = h.Normalize()
	s.CurrentState = live.StateActive
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{PCM: cp})
	return s.SendAudioErr
}

// SendToolResult records the call and returns SendToolResultErr.
func (s *Session) SendToolResult(results []live.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]live.ToolResult, len(results))
	copy(cp, results)
	s.SendToolResultCalls = append(s.SendToolResultCalls, SendToolResultCall{Results: cp})
	return s.SendToolResultErr
}

// State returns CurrentState.
func (s *Session) State() live.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CurrentState
}

// SetState updates the state returned by State. Thread-safe.
func (s *Session) SetState(st live.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CurrentState = st
}

// Close records the call, moves the session to Closed, and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.CurrentState = live.StateClosed
	return s.CloseErr
}

// SentAudio returns copies of all PCM chunks sent so far. Thread-safe.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SendAudioCalls))
	for i, c := range s.SendAudioCalls {
		out[i] = c.PCM
	}
	return out
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.SendToolResultCalls = nil
	s.CloseCallCount = 0
}

// Ensure Session implements live.SessionHandle at compile time.
var _ live.SessionHandle = (*Session)(nil)
