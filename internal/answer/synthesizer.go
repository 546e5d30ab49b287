// Package answer turns retrieved chunks plus dialogue history into a grounded
// answer. Every source it reports traces back to a retrieved chunk; an answer
// is never fabricated past a model failure.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"ragdocs/backend/internal/retrieval"
)

// ErrSynthesis wraps model failures and timeouts. Callers surface it instead
// of degrading to an ungrounded answer.
var ErrSynthesis = errors.New("answer synthesis failed")

// Turn is one prior message of the conversation.
type Turn struct {
	Role    string
	Content string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Source is the response-facing projection of a retrieved chunk. Read-only
// once built.
type Source struct {
	Technology     string  `json:"technology"`
	FilePath       string  `json:"file_path"`
	SectionTitle   string  `json:"section_title"`
	Category       string  `json:"category"`
	Score          float32 `json:"score"`
	ContentPreview string  `json:"content_preview"`
}

// Generator is the external language-model capability. Timeouts and
// cancellation propagate through ctx.
type Generator interface {
	Generate(ctx context.Context, prompt string, history []Turn) (string, error)
}

type Options struct {
	// MaxContextChars bounds how much retrieved content goes into the prompt.
	MaxContextChars int
	// HistoryWindow is how many trailing turns of the conversation to send.
	HistoryWindow int
	// PreviewChars is the source preview truncation length.
	PreviewChars int
}

func (o Options) withDefaults() Options {
	if o.MaxContextChars < 1 {
		o.MaxContextChars = 24_000
	}
	if o.HistoryWindow < 1 {
		o.HistoryWindow = 5
	}
	if o.PreviewChars < 1 {
		o.PreviewChars = 200
	}
	return o
}

type Synthesizer struct {
	gen  Generator
	opts Options
}

func NewSynthesizer(gen Generator, opts Options) *Synthesizer {
	return &Synthesizer{gen: gen, opts: opts.withDefaults()}
}

const systemPreamble = `You are a technical assistant with expertise in vector databases and search technologies.
Use only the numbered documentation excerpts below to answer. Cite excerpts as [1], [2], ...
If the excerpts do not contain enough information to answer, say so instead of guessing.`

// Synthesize builds the grounded prompt and invokes the model. The returned
// sources are exactly the retrieved chunks that fit into the prompt context,
// in prompt order, always a subset of what the retriever produced.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, history []Turn, retrieved []retrieval.Result) (string, []Source, error) {
	prompt, sources := s.buildPrompt(query, retrieved)

	if len(history) > s.opts.HistoryWindow {
		history = history[len(history)-s.opts.HistoryWindow:]
	}

	text, err := s.gen.Generate(ctx, prompt, history)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", nil, fmt.Errorf("%w: model returned empty answer", ErrSynthesis)
	}

	return text, sources, nil
}

func (s *Synthesizer) buildPrompt(query string, retrieved []retrieval.Result) (string, []Source) {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")

	var sources []Source
	used := 0
	for _, res := range retrieved {
		block := fmt.Sprintf("[%d] %s - %s (%s, %s)\n%s\n\n",
			len(sources)+1,
			res.Chunk.Technology, res.Chunk.SectionTitle,
			res.Chunk.DocumentPath, res.Chunk.Category,
			res.Chunk.Content)
		if used+len(block) > s.opts.MaxContextChars && len(sources) > 0 {
			break
		}
		b.WriteString(block)
		used += len(block)

		sources = append(sources, Source{
			Technology:     res.Chunk.Technology,
			FilePath:       res.Chunk.DocumentPath,
			SectionTitle:   res.Chunk.SectionTitle,
			Category:       res.Chunk.Category,
			Score:          res.Score,
			ContentPreview: preview(res.Chunk.Content, s.opts.PreviewChars),
		})
	}

	if len(sources) == 0 {
		b.WriteString("No documentation excerpts matched the question.\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String(), sources
}

func preview(content string, max int) string {
	if len(content) <= max {
		return content
	}
	cut := content[:max]
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	} else {
		// No space inside the budget; never split a multi-byte rune.
		for len(cut) > 0 && !utf8.RuneStart(content[len(cut)]) {
			cut = content[:len(cut)-1]
		}
	}
	return strings.TrimSpace(cut) + "..."
}
