package chat

import (
	"context"

	"meander/internal/domain/models/chat"
)

// FragmentKind distinguishes reasoning output from answer output.
type FragmentKind string

const (
	FragmentThinking FragmentKind = "thinking"
	FragmentResponse FragmentKind = "response"
)

// Fragment is one piece of generator output, delivered in production order.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// GenerateResult terminates a successful generation.
type GenerateResult struct {
	Sources []chat.Source
}

// GeneratorEvent is one item of a generator's lazy output sequence. Exactly
// one field is set: Fragment for intermediate output, Result on normal
// exhaustion, Err on failure. Result and Err are always the last event.
type GeneratorEvent struct {
	Fragment *Fragment
	Result   *GenerateResult
	Err      error
}

// GenerateRequest carries everything a generator needs for one turn.
type GenerateRequest struct {
	ThreadID string
	// History is the conversation path root-first, ending at the user
	// message (or anchor) this turn answers.
	History []chat.Message
	Query   string
	Profile string
}

// Generator produces a lazy, finite sequence of fragments for one turn.
//
// The returned channel is closed after the terminal event. Implementations
// observe ctx between fragments; they must not be driven further once ctx is
// done. The channel must be unbuffered or near-unbuffered so that a slow
// consumer suspends production rather than queueing unbounded output.
type Generator interface {
	Name() string
	Stream(ctx context.Context, req *GenerateRequest) (<-chan GeneratorEvent, error)
}
