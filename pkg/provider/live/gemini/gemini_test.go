package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/lingolive/lingolive/pkg/provider/live"
	"github.com/lingolive/lingolive/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// newProvider creates a Provider pointing at the given test server.
func newProvider(srv *httptest.Server) *gemini.Provider {
	return gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model             string `json:"model"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			Tools []struct {
				FunctionDeclarations []struct {
					Name string `json:"name"`
				} `json:"functionDeclarations"`
			} `json:"tools"`
			InputTranscription  map[string]any `json:"inputAudioTranscription"`
			OutputTranscription map[string]any `json:"outputAudioTranscription"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	cfg := live.SessionConfig{
		Instructions: "You are a language tutor.",
		Voice:        "Puck",
		Tools: []live.ToolDefinition{
			{Name: "lookup_word", Description: "Looks up a word"},
		},
	}
	handle, err := p.Connect(context.Background(), cfg, live.Handlers{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case msg := <-received:
		if !strings.HasPrefix(msg.Setup.Model, "models/") {
			t.Errorf("model %q should start with 'models/'", msg.Setup.Model)
		}
		if msg.Setup.SystemInstruction == nil {
			t.Fatal("systemInstruction is nil")
		}
		if len(msg.Setup.SystemInstruction.Parts) == 0 || msg.Setup.SystemInstruction.Parts[0].Text != "You are a language tutor." {
			t.Errorf("unexpected system instruction: %+v", msg.Setup.SystemInstruction)
		}
		if len(msg.Setup.Tools) == 0 {
			t.Error("tools should be non-empty")
		}
		if msg.Setup.InputTranscription == nil || msg.Setup.OutputTranscription == nil {
			t.Error("both transcription directions should be enabled in setup")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}

	if handle.State() != live.StateActive {
		t.Errorf("state after Connect = %v; want active", handle.State())
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	urlPath := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		urlPath <- r.URL.RawQuery
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("secret-key", gemini.WithBaseURL(wsURL(srv)))
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case q := <-urlPath:
		if !strings.Contains(q, "key=secret-key") {
			t.Errorf("URL query %q should contain key=secret-key", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_ReadyTimeout(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Swallow setup, never acknowledge.
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key",
		gemini.WithBaseURL(wsURL(srv)),
		gemini.WithReadyTimeout(100*time.Millisecond),
	)
	_, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{})
	var hte *live.HandshakeTimeoutError
	if !errors.As(err, &hte) {
		t.Fatalf("Connect error = %v; want HandshakeTimeoutError", err)
	}
}

func TestConnect_DialTimeout(t *testing.T) {
	t.Parallel()

	// The server accepts the TCP connection but never answers the upgrade
	// request, so the dial itself must be bounded even when the caller's
	// context has no deadline.
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	p := gemini.New("key",
		gemini.WithBaseURL(wsURL(srv)),
		gemini.WithReadyTimeout(100*time.Millisecond),
	)

	done := make(chan error, 1)
	go func() {
		_, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{})
		done <- err
	}()

	select {
	case err := <-done:
		var te *live.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("Connect error = %v; want TransportError", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Connect did not return; dial is unbounded")
	}
}

func TestConnect_CancelledContext_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled

	_, err := p.Connect(ctx, live.SessionConfig{}, live.Handlers{})
	if err == nil {
		t.Fatal("Connect with cancelled context should return an error")
	}
}

// ── SendAudio ─────────────────────────────────────────────────────────────────

func TestSendAudio_EncodesAndSends(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}

	audioMsg := make(chan realtimeInput, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var msg realtimeInput
		readJSON(t, conn, &msg)
		audioMsg <- msg

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	wantPCM := []byte{0x01, 0x02, 0x03, 0x04}
	if err := handle.SendAudio(wantPCM); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-audioMsg:
		chunks := msg.RealtimeInput.MediaChunks
		if len(chunks) == 0 {
			t.Fatal("no media chunks in realtimeInput")
		}
		if chunks[0].MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q; want audio/pcm;rate=16000", chunks[0].MIMEType)
		}
		got, err := base64.StdEncoding.DecodeString(chunks[0].Data)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(got) != string(wantPCM) {
			t.Errorf("decoded audio = %v; want %v", got, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio message")
	}
}

func TestSendAudio_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := handle.SendAudio([]byte{1, 2, 3}); err == nil {
		t.Fatal("SendAudio after Close should return an error")
	}
}

// ── Handler dispatch ──────────────────────────────────────────────────────────

func TestOnAudioChunk_DeliversDecodedPCM(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	encoded := base64.StdEncoding.EncodeToString(wantPCM)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{
							"inlineData": map[string]any{
								"mimeType": "audio/pcm;rate=24000",
								"data":     encoded,
							},
						},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	audioCh := make(chan []byte, 1)
	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{
		OnAudioChunk: func(pcm []byte) { audioCh <- pcm },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case chunk := <-audioCh:
		if string(chunk) != string(wantPCM) {
			t.Errorf("audio chunk = %v; want %v", chunk, wantPCM)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for audio chunk")
	}
}

func TestTranscripts_BothDirections(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "how do I say bread"},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"outputTranscription": map[string]any{"text": "Bread is le pain."},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	type fragment struct {
		speaker live.Speaker
		text    string
	}
	fragCh := make(chan fragment, 2)

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{
		OnTranscriptFragment: func(s live.Speaker, text string) {
			fragCh <- fragment{s, text}
		},
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	want := []fragment{
		{live.SpeakerUser, "how do I say bread"},
		{live.SpeakerAssistant, "Bread is le pain."},
	}
	for i, w := range want {
		select {
		case got := <-fragCh:
			if got != w {
				t.Errorf("fragment %d = %+v; want %+v", i, got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for fragment %d", i)
		}
	}
}

func TestTurnComplete_FiresHandler(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"turnComplete": true},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	turnCh := make(chan struct{}, 1)
	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{
		OnTurnComplete: func() { turnCh <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case <-turnCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for turn complete")
	}
}

func TestInterrupted_FiresHandlerBeforeAudio(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		// One message carrying both the interruption flag and fresh audio:
		// the interruption must surface first.
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"interrupted": true,
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{
							"inlineData": map[string]any{
								"mimeType": "audio/pcm;rate=24000",
								"data":     base64.StdEncoding.EncodeToString([]byte{1, 2}),
							},
						},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	events := make(chan string, 2)
	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{
		OnInterrupted: func() { events <- "interrupted" },
		OnAudioChunk:  func([]byte) { events <- "audio" },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	for i, want := range []string{"interrupted", "audio"} {
		select {
		case got := <-events:
			if got != want {
				t.Errorf("event %d = %q; want %q", i, got, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
}

func TestToolCall_RoutedToHandler(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{
			"toolCall": map[string]any{
				"functionCalls": []map[string]any{
					{
						"id":   "fc-1",
						"name": "lookup_word",
						"args": map[string]any{"word": "bread"},
					},
				},
			},
		})

		<-conn.CloseRead(context.Background()).Done()
	})

	callsCh := make(chan []live.ToolCall, 1)
	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{
		OnToolCall: func(calls []live.ToolCall) { callsCh <- calls },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	select {
	case calls := <-callsCh:
		if len(calls) != 1 {
			t.Fatalf("got %d calls; want 1", len(calls))
		}
		if calls[0].ID != "fc-1" || calls[0].Name != "lookup_word" {
			t.Errorf("unexpected call: %+v", calls[0])
		}
		if calls[0].Args["word"] != "bread" {
			t.Errorf("args = %v; want word=bread", calls[0].Args)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for tool call")
	}
}

func TestSendToolResult_SendsToolResponse(t *testing.T) {
	t.Parallel()

	respCh := make(chan map[string]any, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		var resp map[string]any
		readJSON(t, conn, &resp)
		respCh <- resp

		<-conn.CloseRead(context.Background()).Done()
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	err = handle.SendToolResult([]live.ToolResult{
		{ID: "fc-1", Name: "lookup_word", Output: map[string]any{"definition": "a staple food"}},
	})
	if err != nil {
		t.Fatalf("SendToolResult: %v", err)
	}

	select {
	case resp := <-respCh:
		if _, ok := resp["toolResponse"]; !ok {
			t.Errorf("expected toolResponse message, got %v", resp)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for tool response")
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	closedCh := make(chan struct{}, 2)
	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{
		OnClosed: func(int, string) { closedCh <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("first Close() returned error: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close() returned error: %v", err)
	}

	select {
	case <-closedCh:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for OnClosed")
	}
	select {
	case <-closedCh:
		t.Fatal("OnClosed fired more than once")
	case <-time.After(100 * time.Millisecond):
	}

	if handle.State() != live.StateClosed {
		t.Errorf("state after Close = %v; want closed", handle.State())
	}
}

// ── Concurrency ───────────────────────────────────────────────────────────────

func TestConcurrentSendAudio_DoesNotRace(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		sendSetupComplete(t, conn)

		ctx := context.Background()
		for {
			_, _, err := conn.Read(ctx)
			if err != nil {
				return
			}
		}
	})

	p := newProvider(srv)
	handle, err := p.Connect(context.Background(), live.SessionConfig{}, live.Handlers{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer handle.Close()

	const goroutines = 8
	const chunksPerGoroutine = 16

	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			for range chunksPerGoroutine {
				_ = handle.SendAudio([]byte{0x01, 0x02, 0x03, 0x04})
			}
		})
	}
	wg.Wait()
}
