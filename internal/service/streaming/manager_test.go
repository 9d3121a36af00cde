package streaming

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"meander/internal/domain"
	"meander/internal/domain/models/chat"
	chatSvc "meander/internal/domain/services/chat"
)

func newTestManager(threadIDs []string, gen chatSvc.Generator) (*Manager, *fakeMessageRepo, *Registry) {
	messages := newFakeMessageRepo()
	registry := NewRegistry()
	m := NewManager(
		newFakeThreadRepo(threadIDs...),
		messages,
		&fakeTxManager{},
		registry,
		gen,
		"steady",
		testLogger(),
	)
	return m, messages, registry
}

// drain collects all events from a turn until the channel closes.
func drain(t *testing.T, events <-chan chat.StreamEvent) []chat.StreamEvent {
	t.Helper()

	var collected []chat.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return collected
			}
			collected = append(collected, ev)
		case <-timeout:
			t.Fatalf("timed out draining events, got %d so far", len(collected))
		}
	}
}

// waitFinalized polls until the message received its terminal write.
func waitFinalized(t *testing.T, repo *fakeMessageRepo, messageID string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := repo.finalizeParams(messageID); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("message %s never finalized", messageID)
}

func TestManager_StartNormalTurn(t *testing.T) {
	gen := &scriptedGenerator{
		fragments: []chatSvc.Fragment{
			{Kind: chatSvc.FragmentThinking, Text: "hmm "},
			{Kind: chatSvc.FragmentResponse, Text: "hello "},
			{Kind: chatSvc.FragmentResponse, Text: "world"},
		},
		result: &chatSvc.GenerateResult{
			Sources: []chat.Source{{Title: "Ref", URL: "https://example.com"}},
		},
	}
	m, messages, registry := newTestManager([]string{"thread-1"}, gen)

	turn, err := m.Start(context.Background(), &chatSvc.StartTurnRequest{
		ThreadID: "thread-1",
		Query:    "say hello",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if turn.TrackID != turn.UserMessageID {
		t.Errorf("track id %q should equal user message id %q", turn.TrackID, turn.UserMessageID)
	}

	events := drain(t, turn.Events)
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5 (metadata + 3 chunks + done)", len(events))
	}

	if events[0].Mode != chat.ModeMetadata {
		t.Errorf("first event mode = %q, want metadata", events[0].Mode)
	}
	if events[1].Mode != chat.ModeThinking || events[1].Message != "hmm " {
		t.Errorf("second event = %+v, want thinking chunk", events[1])
	}
	last := events[len(events)-1]
	if last.Type != chat.EventDone {
		t.Errorf("last event type = %q, want done", last.Type)
	}

	// Every event carries the full id envelope
	for i, ev := range events {
		if ev.ThreadID != "thread-1" || ev.TrackID != turn.TrackID ||
			ev.UserMessageID != turn.UserMessageID || ev.AssistantMessageID != turn.AssistantMessageID {
			t.Errorf("event %d has incomplete envelope: %+v", i, ev)
		}
	}

	// Only response fragments persist; thinking does not
	params, ok := messages.finalizeParams(turn.AssistantMessageID)
	if !ok {
		t.Fatal("assistant message was not finalized")
	}
	if params.Content == nil || *params.Content != "hello world" {
		t.Errorf("finalized content = %v, want %q", params.Content, "hello world")
	}
	if params.ErrorMessage != nil {
		t.Errorf("finalized error message = %v, want nil", *params.ErrorMessage)
	}
	if len(params.Sources) != 1 {
		t.Errorf("finalized sources = %d, want 1", len(params.Sources))
	}

	// The user message carries the query and parents the placeholder
	userMsg, err := messages.Get(context.Background(), "thread-1", turn.UserMessageID)
	if err != nil {
		t.Fatalf("user message missing: %v", err)
	}
	if userMsg.Content == nil || *userMsg.Content != "say hello" {
		t.Errorf("user message content = %v, want query text", userMsg.Content)
	}
	placeholder, err := messages.Get(context.Background(), "thread-1", turn.AssistantMessageID)
	if err != nil {
		t.Fatalf("placeholder missing: %v", err)
	}
	if placeholder.ParentID == nil || *placeholder.ParentID != turn.UserMessageID {
		t.Errorf("placeholder parent = %v, want user message id", placeholder.ParentID)
	}

	if registry.Count() != 0 {
		t.Errorf("registry still holds %d jobs after stream end", registry.Count())
	}
}

func TestManager_GeneratorFailure(t *testing.T) {
	gen := &scriptedGenerator{
		fragments: []chatSvc.Fragment{
			{Kind: chatSvc.FragmentResponse, Text: "partial "},
		},
		err: errors.New("model exploded"),
	}
	m, messages, _ := newTestManager([]string{"thread-1"}, gen)

	turn, err := m.Start(context.Background(), &chatSvc.StartTurnRequest{
		ThreadID: "thread-1",
		Query:    "boom",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	events := drain(t, turn.Events)
	last := events[len(events)-1]
	if last.Type != chat.EventError || last.Mode != chat.ModeError {
		t.Fatalf("last event = %+v, want error", last)
	}
	if last.Message != "Failed to generate answer, please try again later" {
		t.Errorf("error message = %q, want the user-facing constant", last.Message)
	}
	// The raw generator error never leaks to the client
	if strings.Contains(last.Message, "exploded") {
		t.Errorf("internal error leaked into stream: %q", last.Message)
	}

	params, ok := messages.finalizeParams(turn.AssistantMessageID)
	if !ok {
		t.Fatal("assistant message was not finalized")
	}
	if params.ErrorMessage == nil || *params.ErrorMessage != "Failed to generate answer, please try again later" {
		t.Errorf("finalized error = %v, want the user-facing constant", params.ErrorMessage)
	}
	if params.Content != nil {
		t.Errorf("failed turn persisted content %q, want none", *params.Content)
	}
}

func TestManager_GeneratorClosesWithoutTerminal(t *testing.T) {
	gen := &scriptedGenerator{
		fragments: []chatSvc.Fragment{
			{Kind: chatSvc.FragmentResponse, Text: "half an "},
		},
		bareClose: true,
	}
	m, messages, _ := newTestManager([]string{"thread-1"}, gen)

	turn, err := m.Start(context.Background(), &chatSvc.StartTurnRequest{
		ThreadID: "thread-1",
		Query:    "finish your sentence",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// A stream that closes without done/cancelled/error is a failed turn, not
	// a silent completion with a truncated answer.
	events := drain(t, turn.Events)
	last := events[len(events)-1]
	if last.Type != chat.EventError {
		t.Fatalf("last event type = %q, want error", last.Type)
	}
	if last.Message != "Failed to generate answer, please try again later" {
		t.Errorf("error message = %q, want the user-facing constant", last.Message)
	}

	params, ok := messages.finalizeParams(turn.AssistantMessageID)
	if !ok {
		t.Fatal("assistant message was not finalized")
	}
	if params.ErrorMessage == nil || *params.ErrorMessage != "Failed to generate answer, please try again later" {
		t.Errorf("finalized error = %v, want the user-facing constant", params.ErrorMessage)
	}
	if params.Content != nil {
		t.Errorf("truncated turn persisted content %q, want none", *params.Content)
	}
}

func TestManager_CancelMidStream(t *testing.T) {
	gate := make(chan struct{})
	gen := &scriptedGenerator{
		fragments: []chatSvc.Fragment{
			{Kind: chatSvc.FragmentResponse, Text: "one "},
			{Kind: chatSvc.FragmentResponse, Text: "two "},
			{Kind: chatSvc.FragmentResponse, Text: "three"},
		},
		result: &chatSvc.GenerateResult{},
		gate:   gate,
	}
	m, messages, _ := newTestManager([]string{"thread-1"}, gen)

	turn, err := m.Start(context.Background(), &chatSvc.StartTurnRequest{
		ThreadID: "thread-1",
		Query:    "count to three",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let the first fragment through, then cancel while the generator is
	// held at the gate.
	gate <- struct{}{}

	var got []chat.StreamEvent
	for ev := range turn.Events {
		got = append(got, ev)
		if ev.Type == chat.EventChunk && ev.Mode == chat.ModeResponse {
			if !m.Cancel(turn.TrackID) {
				t.Fatal("Cancel returned false for a live job")
			}
			break
		}
	}
	got = append(got, drain(t, turn.Events)...)

	last := got[len(got)-1]
	if last.Type != chat.EventCancelled {
		t.Fatalf("last event type = %q, want cancelled", last.Type)
	}

	params, ok := messages.finalizeParams(turn.AssistantMessageID)
	if !ok {
		t.Fatal("assistant message was not finalized")
	}
	if params.Content == nil || *params.Content != "one " {
		t.Errorf("finalized partial = %v, want %q", params.Content, "one ")
	}
	if params.ErrorMessage != nil {
		t.Errorf("cancelled turn persisted error %q", *params.ErrorMessage)
	}

	// The job is gone; a second cancel has nothing to hit
	if m.Cancel(turn.TrackID) {
		t.Error("Cancel after terminal event should return false")
	}
}

func TestManager_CancelBeforeFirstFragment(t *testing.T) {
	gate := make(chan struct{})
	gen := &scriptedGenerator{
		fragments: []chatSvc.Fragment{{Kind: chatSvc.FragmentResponse, Text: "never"}},
		result:    &chatSvc.GenerateResult{},
		gate:      gate,
	}
	m, messages, _ := newTestManager([]string{"thread-1"}, gen)

	turn, err := m.Start(context.Background(), &chatSvc.StartTurnRequest{
		ThreadID: "thread-1",
		Query:    "quick, stop",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if !m.Cancel(turn.TrackID) {
		t.Fatal("Cancel returned false for a live job")
	}

	events := drain(t, turn.Events)
	last := events[len(events)-1]
	if last.Type != chat.EventCancelled {
		t.Fatalf("last event type = %q, want cancelled", last.Type)
	}

	params, ok := messages.finalizeParams(turn.AssistantMessageID)
	if !ok {
		t.Fatal("assistant message was not finalized")
	}
	if params.Content == nil || *params.Content != "" {
		t.Errorf("finalized content = %v, want empty string", params.Content)
	}
}

func TestManager_ClientDisconnectFailsTurn(t *testing.T) {
	// More fragments than the event buffer holds, so the turn cannot finish
	// without a consumer and must hit the dead client context.
	fragments := make([]chatSvc.Fragment, 2*eventBuffer)
	for i := range fragments {
		fragments[i] = chatSvc.Fragment{Kind: chatSvc.FragmentResponse, Text: "lost "}
	}
	gen := &scriptedGenerator{
		fragments: fragments,
		result:    &chatSvc.GenerateResult{},
	}
	m, messages, _ := newTestManager([]string{"thread-1"}, gen)

	clientCtx, disconnect := context.WithCancel(context.Background())
	turn, err := m.Start(clientCtx, &chatSvc.StartTurnRequest{
		ThreadID: "thread-1",
		Query:    "are you there",
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Nobody reads turn.Events; the consumer vanishes
	disconnect()

	waitFinalized(t, messages, turn.AssistantMessageID)
	params, _ := messages.finalizeParams(turn.AssistantMessageID)
	if params.ErrorMessage == nil ||
		*params.ErrorMessage != "Stream cancelled by client: connection terminated unexpectedly" {
		t.Errorf("finalized error = %v, want transport error constant", params.ErrorMessage)
	}
}

func TestManager_StartUnknownThread(t *testing.T) {
	m, _, _ := newTestManager([]string{"thread-1"}, &scriptedGenerator{result: &chatSvc.GenerateResult{}})

	_, err := m.Start(context.Background(), &chatSvc.StartTurnRequest{
		ThreadID: "missing",
		Query:    "hello",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestManager_Validation(t *testing.T) {
	anchor := "msg-1"
	text := "the span"

	tests := []struct {
		name string
		req  *chatSvc.StartTurnRequest
	}{
		{
			name: "normal turn requires query",
			req:  &chatSvc.StartTurnRequest{ThreadID: "thread-1"},
		},
		{
			name: "regenerate requires from_message_id",
			req: &chatSvc.StartTurnRequest{
				ThreadID: "thread-1",
				Context:  chat.FollowContext{Type: chat.FollowRegenerate},
			},
		},
		{
			name: "follow_up requires from_message_id",
			req: &chatSvc.StartTurnRequest{
				ThreadID: "thread-1",
				Context:  chat.FollowContext{Type: chat.FollowUp, Text: &text},
			},
		},
		{
			name: "follow_up requires text",
			req: &chatSvc.StartTurnRequest{
				ThreadID: "thread-1",
				Context:  chat.FollowContext{Type: chat.FollowUp, FromMessageID: &anchor},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestManager([]string{"thread-1"}, &scriptedGenerator{result: &chatSvc.GenerateResult{}})

			_, err := m.Start(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

// seedTurn plants a finished user/assistant pair and returns their ids.
func seedTurn(t *testing.T, repo *fakeMessageRepo, threadID string) (string, string) {
	t.Helper()

	query := "original question"
	answer := "original answer"
	userMsg := &chat.Message{ThreadID: threadID, Role: chat.RoleUser, Content: &query}
	if err := repo.Create(context.Background(), userMsg); err != nil {
		t.Fatal(err)
	}
	assistantMsg := &chat.Message{
		ThreadID: threadID,
		Role:     chat.RoleAssistant,
		ParentID: &userMsg.ID,
		Content:  &answer,
	}
	if err := repo.Create(context.Background(), assistantMsg); err != nil {
		t.Fatal(err)
	}
	return userMsg.ID, assistantMsg.ID
}

func TestManager_RegenerateBranchesAsSibling(t *testing.T) {
	gen := &scriptedGenerator{
		fragments: []chatSvc.Fragment{{Kind: chatSvc.FragmentResponse, Text: "second take"}},
		result:    &chatSvc.GenerateResult{},
	}
	m, messages, _ := newTestManager([]string{"thread-1"}, gen)
	userID, assistantID := seedTurn(t, messages, "thread-1")

	turn, err := m.Start(context.Background(), &chatSvc.StartTurnRequest{
		ThreadID: "thread-1",
		Context:  chat.FollowContext{Type: chat.FollowRegenerate, FromMessageID: &assistantID},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	drain(t, turn.Events)

	// No new user message: the track rides the existing one
	if turn.TrackID != userID || turn.UserMessageID != userID {
		t.Errorf("track/user ids = %q/%q, want existing user message %q",
			turn.TrackID, turn.UserMessageID, userID)
	}

	placeholder, err := messages.Get(context.Background(), "thread-1", turn.AssistantMessageID)
	if err != nil {
		t.Fatalf("placeholder missing: %v", err)
	}
	if placeholder.ParentID == nil || *placeholder.ParentID != userID {
		t.Errorf("placeholder parent = %v, want %q (sibling of the anchor)", placeholder.ParentID, userID)
	}
	if turn.AssistantMessageID == assistantID {
		t.Error("regenerate reused the anchor message instead of creating a sibling")
	}

	// The generator answers the original user query
	if req := gen.request(); req == nil || req.Query != "original question" {
		t.Errorf("generator query = %+v, want the original user content", req)
	}

	params, _ := messages.finalizeParams(turn.AssistantMessageID)
	if params.Content == nil || *params.Content != "second take" {
		t.Errorf("finalized content = %v, want %q", params.Content, "second take")
	}
}

func TestManager_RegenerateConflictWhileLive(t *testing.T) {
	gate := make(chan struct{})
	gen := &scriptedGenerator{
		fragments: []chatSvc.Fragment{{Kind: chatSvc.FragmentResponse, Text: "slow"}},
		result:    &chatSvc.GenerateResult{},
		gate:      gate,
	}
	m, messages, _ := newTestManager([]string{"thread-1"}, gen)
	_, assistantID := seedTurn(t, messages, "thread-1")

	turn, err := m.Start(context.Background(), &chatSvc.StartTurnRequest{
		ThreadID: "thread-1",
		Context:  chat.FollowContext{Type: chat.FollowRegenerate, FromMessageID: &assistantID},
	})
	if err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	// seeded pair + the live turn's placeholder
	rowsBefore := messages.count()

	_, err = m.Start(context.Background(), &chatSvc.StartTurnRequest{
		ThreadID: "thread-1",
		Context:  chat.FollowContext{Type: chat.FollowRegenerate, FromMessageID: &assistantID},
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate live turn, got %v", err)
	}

	// The rejected duplicate must not leave an orphaned placeholder behind
	if got := messages.count(); got != rowsBefore {
		t.Errorf("conflicting Start persisted %d new message row(s)", got-rowsBefore)
	}

	close(gate)
	drain(t, turn.Events)
}

func TestManager_FollowUpCreatesImplicitUserMessage(t *testing.T) {
	span := "as a node"
	gen := &scriptedGenerator{
		fragments: []chatSvc.Fragment{{Kind: chatSvc.FragmentResponse, Text: "about that span"}},
		result:    &chatSvc.GenerateResult{},
	}
	m, messages, _ := newTestManager([]string{"thread-1"}, gen)
	_, assistantID := seedTurn(t, messages, "thread-1")

	turn, err := m.Start(context.Background(), &chatSvc.StartTurnRequest{
		ThreadID: "thread-1",
		Context: chat.FollowContext{
			Type:          chat.FollowUp,
			FromMessageID: &assistantID,
			Text:          &span,
		},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	drain(t, turn.Events)

	userMsg, err := messages.Get(context.Background(), "thread-1", turn.UserMessageID)
	if err != nil {
		t.Fatalf("implicit user message missing: %v", err)
	}
	if userMsg.Content == nil || *userMsg.Content != span {
		t.Errorf("implicit user message content = %v, want the span text", userMsg.Content)
	}
	if userMsg.ParentID == nil || *userMsg.ParentID != assistantID {
		t.Errorf("implicit user message parent = %v, want the anchor %q", userMsg.ParentID, assistantID)
	}
	if userMsg.FollowContext == nil || userMsg.FollowContext.Type != chat.FollowUp {
		t.Errorf("implicit user message follow context = %+v, want follow_up", userMsg.FollowContext)
	}

	if turn.TrackID != turn.UserMessageID {
		t.Errorf("track id %q should equal the implicit user message id %q", turn.TrackID, turn.UserMessageID)
	}
}
