package streaming

import (
	"context"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"meander/internal/domain"
	"meander/internal/domain/models/chat"
	"meander/internal/domain/repositories"
	chatRepo "meander/internal/domain/repositories/chat"
	chatSvc "meander/internal/domain/services/chat"
)

// eventBuffer smooths producer/consumer jitter without letting a stalled
// consumer accumulate a whole answer in memory.
const eventBuffer = 8

// Manager starts and cancels streaming turns. It is the only writer of
// assistant placeholders and the only owner of the job registry.
type Manager struct {
	threads   chatRepo.ThreadRepository
	messages  chatRepo.MessageRepository
	txManager repositories.TransactionManager
	registry  *Registry
	generator chatSvc.Generator
	profile   string
	logger    *slog.Logger
}

// NewManager creates a stream manager.
func NewManager(
	threads chatRepo.ThreadRepository,
	messages chatRepo.MessageRepository,
	txManager repositories.TransactionManager,
	registry *Registry,
	generator chatSvc.Generator,
	profile string,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		threads:   threads,
		messages:  messages,
		txManager: txManager,
		registry:  registry,
		generator: generator,
		profile:   profile,
		logger:    logger,
	}
}

var _ chatSvc.StreamManager = (*Manager)(nil)

// Start validates the request, durably creates the turn's message rows,
// registers the job and launches the session. The returned turn's Events
// channel delivers the stream in production order and closes after the
// terminal event.
func (m *Manager) Start(ctx context.Context, req *chatSvc.StartTurnRequest) (*chatSvc.Turn, error) {
	if err := validateStart(req); err != nil {
		return nil, err
	}

	if _, err := m.threads.Get(ctx, req.ThreadID); err != nil {
		return nil, err
	}

	var (
		turn *chatSvc.Turn
		err  error
	)
	switch req.Context.Type {
	case chat.FollowRegenerate:
		turn, err = m.startRegenerate(ctx, req)
	case chat.FollowUp:
		turn, err = m.startFollowUp(ctx, req)
	default:
		turn, err = m.startNormal(ctx, req)
	}
	return turn, err
}

// Cancel requests cooperative cancellation of the job under trackID.
func (m *Manager) Cancel(trackID string) bool {
	ok := m.registry.Cancel(trackID)
	if ok {
		m.logger.Info("cancel requested", "track_id", trackID)
	}
	return ok
}

// startNormal creates a user message and its assistant placeholder, then
// streams an answer to the user's query.
func (m *Manager) startNormal(ctx context.Context, req *chatSvc.StartTurnRequest) (*chatSvc.Turn, error) {
	followCtx := normalizeFollowContext(req.Context)

	userMsg := &chat.Message{
		ThreadID:      req.ThreadID,
		Role:          chat.RoleUser,
		ParentID:      req.ParentMessageID,
		Content:       &req.Query,
		FollowContext: followCtx,
	}
	placeholder := &chat.Message{
		ThreadID:      req.ThreadID,
		Role:          chat.RoleAssistant,
		FollowContext: followCtx,
	}

	if err := m.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if err := m.messages.Create(txCtx, userMsg); err != nil {
			return err
		}
		placeholder.ParentID = &userMsg.ID
		return m.messages.Create(txCtx, placeholder)
	}); err != nil {
		return nil, err
	}

	// The track id is the just-created user message's id, so the claim cannot
	// conflict with a live job.
	jobCtx, cancel, err := m.claim(userMsg.ID, req.ThreadID)
	if err != nil {
		return nil, err
	}

	return m.launch(ctx, jobCtx, cancel, launchParams{
		trackID:       userMsg.ID,
		threadID:      req.ThreadID,
		userMessageID: userMsg.ID,
		placeholder:   placeholder,
		pathFrom:      userMsg.ID,
		query:         req.Query,
	})
}

// startRegenerate redoes a prior assistant answer as a sibling branch. No user
// message is created; the new placeholder shares the anchor's parent.
func (m *Manager) startRegenerate(ctx context.Context, req *chatSvc.StartTurnRequest) (*chatSvc.Turn, error) {
	anchor, err := m.messages.Get(ctx, req.ThreadID, *req.Context.FromMessageID)
	if err != nil {
		return nil, err
	}
	if anchor.Role != chat.RoleAssistant {
		return nil, fmt.Errorf("%w: regenerate targets an assistant message", domain.ErrValidation)
	}
	if anchor.ParentID == nil {
		return nil, fmt.Errorf("%w: regenerate target has no parent turn", domain.ErrValidation)
	}

	// The track id stays the parent user message's id so that a regenerated
	// answer and the original share one cancellation handle slot.
	trackID := *anchor.ParentID
	if req.ParentMessageID != nil {
		trackID = *req.ParentMessageID
	}

	parentUser, err := m.messages.Get(ctx, req.ThreadID, trackID)
	if err != nil {
		return nil, err
	}
	query := req.Query
	if query == "" && parentUser.Content != nil {
		query = *parentUser.Content
	}

	followCtx := normalizeFollowContext(req.Context)
	placeholder := &chat.Message{
		ThreadID:      req.ThreadID,
		Role:          chat.RoleAssistant,
		ParentID:      &trackID,
		FollowContext: followCtx,
	}

	// The track id is reused from the anchor's turn, so claim it before the
	// placeholder row exists: a duplicate regenerate must fail with Conflict
	// having persisted nothing.
	jobCtx, cancel, err := m.claim(trackID, req.ThreadID)
	if err != nil {
		return nil, err
	}

	if err := m.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		return m.messages.Create(txCtx, placeholder)
	}); err != nil {
		cancel()
		m.registry.Deregister(trackID)
		return nil, err
	}

	return m.launch(ctx, jobCtx, cancel, launchParams{
		trackID:       trackID,
		threadID:      req.ThreadID,
		userMessageID: trackID,
		placeholder:   placeholder,
		pathFrom:      trackID,
		query:         query,
	})
}

// startFollowUp turns a selected span of a prior answer into the implicit user
// message of a new branch.
func (m *Manager) startFollowUp(ctx context.Context, req *chatSvc.StartTurnRequest) (*chatSvc.Turn, error) {
	parentID := req.ParentMessageID
	if parentID == nil {
		parentID = req.Context.FromMessageID
	}
	if _, err := m.messages.Get(ctx, req.ThreadID, *req.Context.FromMessageID); err != nil {
		return nil, err
	}

	query := req.Query
	if query == "" {
		query = *req.Context.Text
	}

	followCtx := normalizeFollowContext(req.Context)
	userMsg := &chat.Message{
		ThreadID:      req.ThreadID,
		Role:          chat.RoleUser,
		ParentID:      parentID,
		Content:       &query,
		FollowContext: followCtx,
	}
	placeholder := &chat.Message{
		ThreadID:      req.ThreadID,
		Role:          chat.RoleAssistant,
		FollowContext: followCtx,
	}

	if err := m.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if err := m.messages.Create(txCtx, userMsg); err != nil {
			return err
		}
		placeholder.ParentID = &userMsg.ID
		return m.messages.Create(txCtx, placeholder)
	}); err != nil {
		return nil, err
	}

	jobCtx, cancel, err := m.claim(userMsg.ID, req.ThreadID)
	if err != nil {
		return nil, err
	}

	return m.launch(ctx, jobCtx, cancel, launchParams{
		trackID:       userMsg.ID,
		threadID:      req.ThreadID,
		userMessageID: userMsg.ID,
		placeholder:   placeholder,
		pathFrom:      userMsg.ID,
		query:         query,
	})
}

type launchParams struct {
	trackID       string
	threadID      string
	userMessageID string
	placeholder   *chat.Message
	pathFrom      string
	query         string
}

// claim registers the track id and hands back the job's context. The job
// context derives from the background context because the generation outlives
// the HTTP request that started it; only an explicit cancel tears it down.
func (m *Manager) claim(trackID, threadID string) (context.Context, context.CancelFunc, error) {
	jobCtx, cancel := context.WithCancel(context.Background())
	if err := m.registry.Register(trackID, threadID, cancel); err != nil {
		cancel()
		return nil, nil, err
	}
	return jobCtx, cancel, nil
}

// launch starts the session for an already-claimed track id. The claim
// happened before launch so that a duplicate Start observes the conflict
// instead of racing the first turn's session.
func (m *Manager) launch(ctx, jobCtx context.Context, cancel context.CancelFunc, p launchParams) (*chatSvc.Turn, error) {
	history, err := m.messages.Path(ctx, p.pathFrom)
	if err != nil {
		cancel()
		m.registry.Deregister(p.trackID)
		return nil, err
	}

	m.registry.bind(p.trackID, p.placeholder.ID)

	events := make(chan chat.StreamEvent, eventBuffer)
	sess := &session{
		trackID:            p.trackID,
		threadID:           p.threadID,
		userMessageID:      p.userMessageID,
		assistantMessageID: p.placeholder.ID,
		generator:          m.generator,
		genReq: &chatSvc.GenerateRequest{
			ThreadID: p.threadID,
			History:  history,
			Query:    p.query,
			Profile:  m.profile,
		},
		messages:  m.messages,
		txManager: m.txManager,
		registry:  m.registry,
		logger:    m.logger,
		clientCtx: ctx,
		jobCtx:    jobCtx,
		events:    events,
	}

	m.logger.Info("turn started",
		"track_id", p.trackID,
		"thread_id", p.threadID,
		"aim_id", p.placeholder.ID,
		"follow_type", followType(p.placeholder.FollowContext),
	)

	go sess.run()

	return &chatSvc.Turn{
		TrackID:            p.trackID,
		ThreadID:           p.threadID,
		UserMessageID:      p.userMessageID,
		AssistantMessageID: p.placeholder.ID,
		Events:             events,
	}, nil
}

func validateStart(req *chatSvc.StartTurnRequest) error {
	rules := []*validation.FieldRules{
		validation.Field(&req.ThreadID, validation.Required),
	}
	switch req.Context.Type {
	case chat.FollowRegenerate:
		rules = append(rules,
			validation.Field(&req.Context, validation.By(requireFromMessage)),
		)
	case chat.FollowUp:
		rules = append(rules,
			validation.Field(&req.Context, validation.By(requireFromMessage), validation.By(requireSpanText)),
		)
	default:
		rules = append(rules,
			validation.Field(&req.Query, validation.Required, validation.Length(1, 10000)),
		)
	}

	if err := validation.ValidateStruct(req, rules...); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func requireFromMessage(value interface{}) error {
	fc, _ := value.(chat.FollowContext)
	if fc.FromMessageID == nil || *fc.FromMessageID == "" {
		return fmt.Errorf("from_message_id is required")
	}
	return nil
}

func requireSpanText(value interface{}) error {
	fc, _ := value.(chat.FollowContext)
	if fc.Text == nil || *fc.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// normalizeFollowContext defaults the follow type and returns nil for a plain
// turn with no anchor, so normal messages store no follow_context at all.
func normalizeFollowContext(fc chat.FollowContext) *chat.FollowContext {
	if fc.Type == "" {
		fc.Type = chat.FollowNormal
	}
	if fc.Type == chat.FollowNormal && fc.FromMessageID == nil {
		return nil
	}
	return &fc
}

func followType(fc *chat.FollowContext) chat.FollowType {
	if fc == nil {
		return chat.FollowNormal
	}
	return fc.Type
}
