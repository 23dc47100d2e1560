package textgen_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lingolive/lingolive/internal/textgen"
)

// fakeGenerator records the prompts it receives and returns a canned reply.
type fakeGenerator struct {
	system string
	user   string
	reply  string
	err    error
}

func (f *fakeGenerator) Generate(_ context.Context, system, user string) (string, error) {
	f.system = system
	f.user = user
	return f.reply, f.err
}

func TestTranslate_PromptAndTrim(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{reply: "  le pain \n"}
	got, err := textgen.Translate(context.Background(), g, "the bread", "English", "French")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "le pain" {
		t.Errorf("got %q; want %q", got, "le pain")
	}
	if !strings.Contains(g.system, "English") || !strings.Contains(g.system, "French") {
		t.Errorf("system prompt %q should name both languages", g.system)
	}
	if g.user != "the bread" {
		t.Errorf("user prompt = %q; want the source text verbatim", g.user)
	}
}

func TestTranslate_PropagatesError(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{err: errors.New("backend down")}
	if _, err := textgen.Translate(context.Background(), g, "x", "en", "fr"); err == nil {
		t.Fatal("expected error from failing generator")
	}
}

func TestSummarize_JoinsTranscript(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{reply: "A short chat about bread."}
	lines := []string{"user: how do I say bread", "assistant: le pain"}
	got, err := textgen.Summarize(context.Background(), g, lines)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "A short chat about bread." {
		t.Errorf("got %q", got)
	}
	if g.user != "user: how do I say bread\nassistant: le pain" {
		t.Errorf("transcript = %q; want newline-joined lines", g.user)
	}
}

func TestGrammarNote_UsesNativeLanguage(t *testing.T) {
	t.Parallel()

	g := &fakeGenerator{reply: "Uses the partitive article."}
	if _, err := textgen.GrammarNote(context.Background(), g, "je mange du pain", "English"); err != nil {
		t.Fatalf("GrammarNote: %v", err)
	}
	if !strings.Contains(g.system, "English") {
		t.Errorf("system prompt %q should name the learner's language", g.system)
	}
	if g.user != "je mange du pain" {
		t.Errorf("user prompt = %q; want the sentence verbatim", g.user)
	}
}

func TestNewAnyLLM_Validation(t *testing.T) {
	t.Parallel()

	if _, err := textgen.NewAnyLLM("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := textgen.NewAnyLLM("smoke-signals", "some-model"); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNewOpenRouter_Validation(t *testing.T) {
	t.Parallel()

	if _, err := textgen.NewOpenRouter("", "google/gemini-2.5-flash"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := textgen.NewOpenRouter("sk-or-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestOpenRouter_Generate(t *testing.T) {
	t.Parallel()

	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "gen-1",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "le pain"}}]
		}`))
	}))
	defer srv.Close()

	g, err := textgen.NewOpenRouter("sk-or-test", "google/gemini-2.5-flash",
		textgen.WithOpenRouterBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenRouter: %v", err)
	}

	got, err := g.Generate(context.Background(), "translate to French", "the bread")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "le pain" {
		t.Errorf("got %q; want %q", got, "le pain")
	}
	if gotBody.Model != "google/gemini-2.5-flash" {
		t.Errorf("model = %q", gotBody.Model)
	}
	if len(gotBody.Messages) != 2 {
		t.Fatalf("got %d messages; want 2", len(gotBody.Messages))
	}
	if gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "translate to French" {
		t.Errorf("system message = %+v", gotBody.Messages[0])
	}
	if gotBody.Messages[1].Role != "user" || gotBody.Messages[1].Content != "the bread" {
		t.Errorf("user message = %+v", gotBody.Messages[1])
	}
}
