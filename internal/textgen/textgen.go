// Package textgen produces auxiliary text around the live conversation:
// message translations, session summaries, and grammar notes. These run
// asynchronously after messages commit and never block the audio path.
//
// Two backends exist: an any-llm-go backend covering the major hosted and
// local providers, and an OpenRouter backend speaking the OpenAI wire format
// against openrouter.ai.
package textgen

import (
	"context"
	"fmt"
	"strings"
)

// Generator is a minimal text completion boundary: one system prompt, one
// user message, one response.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Translate renders text from sourceLang into targetLang using g. The reply
// contains only the translation.
func Translate(ctx context.Context, g Generator, text, sourceLang, targetLang string) (string, error) {
	system := fmt.Sprintf(
		"You are a precise translator. Translate the user's %s text into %s. Reply with only the translation, no commentary.",
		sourceLang, targetLang,
	)
	out, err := g.Generate(ctx, system, text)
	if err != nil {
		return "", fmt.Errorf("textgen: translate: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Summarize produces a short summary of a finished conversation transcript.
// Lines are "speaker: text" pairs in order.
func Summarize(ctx context.Context, g Generator, lines []string) (string, error) {
	system := "Summarize the following language practice conversation in two or three sentences. Mention what was practiced and any recurring mistakes."
	out, err := g.Generate(ctx, system, strings.Join(lines, "\n"))
	if err != nil {
		return "", fmt.Errorf("textgen: summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// GrammarNote explains the grammar of one sentence for a learner whose
// native language is nativeLang.
func GrammarNote(ctx context.Context, g Generator, sentence, nativeLang string) (string, error) {
	system := fmt.Sprintf(
		"Explain the grammar of the user's sentence briefly, in %s, for a language learner. Focus on one or two key points.",
		nativeLang,
	)
	out, err := g.Generate(ctx, system, sentence)
	if err != nil {
		return "", fmt.Errorf("textgen: grammar note: %w", err)
	}
	return strings.TrimSpace(out), nil
}
