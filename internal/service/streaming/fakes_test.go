package streaming

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"meander/internal/domain"
	"meander/internal/domain/models/chat"
	"meander/internal/domain/repositories"
	chatRepo "meander/internal/domain/repositories/chat"
	chatSvc "meander/internal/domain/services/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeThreadRepo serves Get from a fixed set of thread ids.
type fakeThreadRepo struct {
	threads map[string]*chat.Thread
}

func newFakeThreadRepo(ids ...string) *fakeThreadRepo {
	threads := make(map[string]*chat.Thread)
	for _, id := range ids {
		threads[id] = &chat.Thread{ID: id, Title: "test thread"}
	}
	return &fakeThreadRepo{threads: threads}
}

func (f *fakeThreadRepo) Create(ctx context.Context, thread *chat.Thread) error { return nil }

func (f *fakeThreadRepo) Get(ctx context.Context, threadID string) (*chat.Thread, error) {
	thread, ok := f.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: thread %s", domain.ErrNotFound, threadID)
	}
	return thread, nil
}

func (f *fakeThreadRepo) List(ctx context.Context, page, pageSize int) (int, []chat.Thread, error) {
	return 0, nil, nil
}

func (f *fakeThreadRepo) UpdateTitle(ctx context.Context, threadID, title string) (*chat.Thread, error) {
	return f.Get(ctx, threadID)
}

func (f *fakeThreadRepo) Delete(ctx context.Context, threadID string) error { return nil }

// fakeMessageRepo keeps messages in memory with sequential ids.
type fakeMessageRepo struct {
	mu        sync.Mutex
	seq       int
	messages  map[string]*chat.Message
	finalized map[string]chatRepo.FinalizeParams
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages:  make(map[string]*chat.Message),
		finalized: make(map[string]chatRepo.FinalizeParams),
	}
}

func (f *fakeMessageRepo) Create(ctx context.Context, msg *chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	msg.ID = fmt.Sprintf("msg-%d", f.seq)
	stored := *msg
	f.messages[msg.ID] = &stored
	return nil
}

func (f *fakeMessageRepo) Get(ctx context.Context, threadID, messageID string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.messages[messageID]
	if !ok || msg.ThreadID != threadID {
		return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	copied := *msg
	return &copied, nil
}

func (f *fakeMessageRepo) List(ctx context.Context, threadID string, page, pageSize int) (int, []chat.Message, error) {
	return 0, nil, nil
}

func (f *fakeMessageRepo) Path(ctx context.Context, messageID string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var path []chat.Message
	id := messageID
	for id != "" {
		msg, ok := f.messages[id]
		if !ok {
			return nil, fmt.Errorf("%w: message %s", domain.ErrNotFound, id)
		}
		path = append([]chat.Message{*msg}, path...)
		if msg.ParentID == nil {
			break
		}
		id = *msg.ParentID
	}
	return path, nil
}

func (f *fakeMessageRepo) Finalize(ctx context.Context, threadID, messageID string, params chatRepo.FinalizeParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.messages[messageID]
	if !ok || msg.ThreadID != threadID {
		return fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
	}
	msg.Content = params.Content
	msg.ErrorMessage = params.ErrorMessage
	msg.Sources = params.Sources
	f.finalized[messageID] = params
	return nil
}

// finalizeParams returns the terminal write recorded for a message, if any.
func (f *fakeMessageRepo) finalizeParams(messageID string) (chatRepo.FinalizeParams, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	params, ok := f.finalized[messageID]
	return params, ok
}

// count returns the number of stored messages.
func (f *fakeMessageRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.messages)
}

// fakeTxManager runs the function directly, no transaction semantics.
type fakeTxManager struct{}

func (f *fakeTxManager) ExecTx(ctx context.Context, fn repositories.TxFn) error {
	return fn(ctx)
}

// scriptedGenerator plays back a fixed fragment sequence. When gate is set,
// it waits for one gate receive before each fragment, letting tests hold the
// generation mid-stream. bareClose closes the channel without a terminal
// event, like a generator that died mid-answer.
type scriptedGenerator struct {
	fragments []chatSvc.Fragment
	result    *chatSvc.GenerateResult
	err       error
	gate      chan struct{}
	streamErr error
	bareClose bool

	mu      sync.Mutex
	lastReq *chatSvc.GenerateRequest
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) request() *chatSvc.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastReq
}

func (g *scriptedGenerator) Stream(ctx context.Context, req *chatSvc.GenerateRequest) (<-chan chatSvc.GeneratorEvent, error) {
	g.mu.Lock()
	g.lastReq = req
	g.mu.Unlock()

	if g.streamErr != nil {
		return nil, g.streamErr
	}

	events := make(chan chatSvc.GeneratorEvent)
	go func() {
		defer close(events)

		for i := range g.fragments {
			if g.gate != nil {
				select {
				case <-g.gate:
				case <-ctx.Done():
					return
				}
			}

			select {
			case events <- chatSvc.GeneratorEvent{Fragment: &g.fragments[i]}:
			case <-ctx.Done():
				return
			}
		}

		if g.bareClose {
			return
		}

		terminal := chatSvc.GeneratorEvent{Result: g.result}
		if g.err != nil {
			terminal = chatSvc.GeneratorEvent{Err: g.err}
		}
		select {
		case events <- terminal:
		case <-ctx.Done():
		}
	}()
	return events, nil
}
