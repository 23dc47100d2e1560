// Package turn aggregates streamed transcript fragments into committed
// conversation messages.
//
// Live backends emit transcripts incrementally and out of band with turn
// boundaries: user recognition results arrive as discrete utterance chunks,
// assistant text arrives as sub-word deltas. The Aggregator buffers both and
// seals them into whole messages when the backend signals a completed turn.
package turn

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/lingolive/lingolive/pkg/provider/live"
)

// Message is one committed conversation message.
type Message struct {
	ID        string
	Speaker   live.Speaker
	Text      string
	CreatedAt time.Time
}

// Aggregator buffers transcript fragments per speaker and commits them on
// turn boundaries.
//
// User fragments are discrete recognition results and are joined with a
// space; assistant fragments are raw text deltas and are concatenated as-is.
// On Complete each non-empty buffer is sealed into one Message, user before
// assistant, and handed to the commit callback. All methods are safe for
// concurrent use, though in the engine only the session's dispatch flow
// calls them.
type Aggregator struct {
	onCommit func(Message)
	now      func() time.Time

	mu        sync.Mutex
	user      []string
	assistant strings.Builder
}

// Option is a functional option for configuring an Aggregator.
type Option func(*Aggregator)

// WithNow overrides the timestamp source. Used in tests.
func WithNow(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an Aggregator that hands committed messages to
// onCommit. A nil onCommit discards messages.
func NewAggregator(onCommit func(Message), opts ...Option) *Aggregator {
	a := &Aggregator{
		onCommit: onCommit,
		now:      time.Now,
	}
	if a.onCommit == nil {
		a.onCommit = func(Message) {}
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AddFragment buffers one transcript fragment for the given speaker.
// Fragments for unknown speakers are dropped.
func (a *Aggregator) AddFragment(speaker live.Speaker, text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch speaker {
	case live.SpeakerUser:
		a.user = append(a.user, text)
	case live.SpeakerAssistant:
		a.assistant.WriteString(text)
	}
}

// Complete seals the current buffers into committed messages. The user
// message is committed before the assistant message; empty buffers commit
// nothing. The buffers are empty when Complete returns, so a fragment
// arriving afterwards starts the next turn.
func (a *Aggregator) Complete() {
	a.mu.Lock()
	var msgs []Message
	if len(a.user) > 0 {
		msgs = append(msgs, Message{
			ID:        newID(),
			Speaker:   live.SpeakerUser,
			Text:      strings.Join(a.user, " "),
			CreatedAt: a.now(),
		})
		a.user = nil
	}
	if a.assistant.Len() > 0 {
		msgs = append(msgs, Message{
			ID:        newID(),
			Speaker:   live.SpeakerAssistant,
			Text:      a.assistant.String(),
			CreatedAt: a.now(),
		})
		a.assistant.Reset()
	}
	a.mu.Unlock()

	// Commit outside the lock so the callback may call back into the
	// aggregator.
	for _, m := range msgs {
		a.onCommit(m)
	}
}

// Pending reports whether either buffer holds uncommitted text.
func (a *Aggregator) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.user) > 0 || a.assistant.Len() > 0
}

// newID returns a random 16-hex-character message identifier.
func newID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
