// Package lorem is a mock generator producing lorem ipsum answers. It lets
// the whole streaming path run without real model credentials.
package lorem

import (
	"context"
	"math/rand"
	"strings"
	"time"

	loremgen "github.com/bozaro/golorem"

	"meander/internal/domain/models/chat"
	chatSvc "meander/internal/domain/services/chat"
	"meander/internal/service/generator/profiles"
)

// Generator streams lorem ipsum text paced by a cadence profile.
type Generator struct {
	text     *loremgen.Lorem
	profiles *profiles.Registry
}

// NewGenerator creates a lorem generator backed by the given profile registry.
func NewGenerator(registry *profiles.Registry) *Generator {
	return &Generator{
		text:     loremgen.New(),
		profiles: registry,
	}
}

// Name returns the generator name.
func (g *Generator) Name() string {
	return "lorem"
}

// Stream produces the turn's fragments word by word. The channel is
// unbuffered: a stalled consumer suspends generation instead of queueing it.
func (g *Generator) Stream(ctx context.Context, req *chatSvc.GenerateRequest) (<-chan chatSvc.GeneratorEvent, error) {
	profile, err := g.profiles.Get(req.Profile)
	if err != nil {
		return nil, err
	}

	events := make(chan chatSvc.GeneratorEvent)

	go func() {
		defer close(events)

		if profile.ThinkingSentences > 0 {
			thinking := g.sentences(profile.ThinkingSentences)
			if err := g.streamWords(ctx, events, chatSvc.FragmentThinking, thinking, profile.WordDelay()); err != nil {
				return
			}
		}

		answer := g.answer(profile)
		if err := g.streamWords(ctx, events, chatSvc.FragmentResponse, answer, profile.WordDelay()); err != nil {
			return
		}

		select {
		case events <- chatSvc.GeneratorEvent{Result: &chatSvc.GenerateResult{
			Sources: g.sources(profile.SourceCount),
		}}:
		case <-ctx.Done():
		}
	}()

	return events, nil
}

// streamWords emits one fragment per word, observing ctx between words.
func (g *Generator) streamWords(ctx context.Context, events chan<- chatSvc.GeneratorEvent, kind chatSvc.FragmentKind, text string, delay time.Duration) error {
	for _, word := range strings.Fields(text) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev := chatSvc.GeneratorEvent{Fragment: &chatSvc.Fragment{
			Kind: kind,
			Text: word + " ",
		}}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// answer builds the full response text up front so pacing stays uniform.
func (g *Generator) answer(p *profiles.Profile) string {
	paragraphs := p.MinParagraphs
	if p.MaxParagraphs > p.MinParagraphs {
		paragraphs += rand.Intn(p.MaxParagraphs - p.MinParagraphs + 1)
	}

	var sb strings.Builder
	for i := 0; i < paragraphs; i++ {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(g.sentences(p.SentencesPerParagraph))
	}
	return sb.String()
}

func (g *Generator) sentences(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(g.text.Sentence(5, 15))
	}
	return sb.String()
}

func (g *Generator) sources(n int) []chat.Source {
	sources := make([]chat.Source, 0, n)
	for i := 0; i < n; i++ {
		snippet := g.text.Sentence(8, 14)
		sources = append(sources, chat.Source{
			Title:   capitalize(g.text.Word(3, 10)),
			URL:     g.text.Url(),
			Snippet: &snippet,
		})
	}
	return sources
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
