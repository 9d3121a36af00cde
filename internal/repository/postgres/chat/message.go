package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"meander/internal/domain"
	chatModels "meander/internal/domain/models/chat"
	chatRepo "meander/internal/domain/repositories/chat"
	"meander/internal/repository/postgres"
)

// MaxPathDepth bounds the recursive parent-chain traversal.
const MaxPathDepth = 1000

// PostgresMessageRepository implements MessageRepository using PostgreSQL.
type PostgresMessageRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewMessageRepository creates a new PostgresMessageRepository.
func NewMessageRepository(config *postgres.RepositoryConfig) chatRepo.MessageRepository {
	return &PostgresMessageRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Create inserts a message and bumps the owning thread's updated_at. A parent
// reference must point at a message in the same thread.
func (r *PostgresMessageRepository) Create(ctx context.Context, msg *chatModels.Message) error {
	executor := postgres.GetExecutor(ctx, r.pool)

	if msg.ParentID != nil {
		var parentThread string
		parentQuery := fmt.Sprintf(`SELECT thread_id FROM %s WHERE id = $1`, r.tables.Messages)
		err := executor.QueryRow(ctx, parentQuery, *msg.ParentID).Scan(&parentThread)
		if err != nil {
			if postgres.IsPgNoRowsError(err) {
				return fmt.Errorf("parent message %s: %w", *msg.ParentID, domain.ErrNotFound)
			}
			return fmt.Errorf("check parent message: %w", err)
		}
		if parentThread != msg.ThreadID {
			return fmt.Errorf("%w: parent message belongs to another thread", domain.ErrValidation)
		}
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, role, parent_id, content, follow_context)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, r.tables.Messages)

	err := executor.QueryRow(ctx, query,
		msg.ThreadID,
		msg.Role,
		msg.ParentID,
		msg.Content,
		msg.FollowContext,
	).Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		if postgres.IsPgForeignKeyError(err) {
			return fmt.Errorf("thread %s: %w", msg.ThreadID, domain.ErrNotFound)
		}
		return fmt.Errorf("create message: %w", err)
	}

	return r.touchThread(ctx, msg.ThreadID)
}

// Get retrieves a message scoped to its thread.
func (r *PostgresMessageRepository) Get(ctx context.Context, threadID, messageID string) (*chatModels.Message, error) {
	query := fmt.Sprintf(`
		SELECT id, thread_id, role, parent_id, content, error_message,
		       sources, follow_context, created_at, updated_at
		FROM %s
		WHERE id = $1 AND thread_id = $2
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	msg, err := scanMessage(executor.QueryRow(ctx, query, messageID, threadID))
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get message: %w", err)
	}

	return msg, nil
}

// List returns the total message count and one chronological page. Messages
// are stored newest-first for pagination efficiency and reversed here.
func (r *PostgresMessageRepository) List(ctx context.Context, threadID string, page, pageSize int) (int, []chatModels.Message, error) {
	executor := postgres.GetExecutor(ctx, r.pool)

	countQuery := fmt.Sprintf(`SELECT COUNT(id) FROM %s WHERE thread_id = $1`, r.tables.Messages)
	var total int
	if err := executor.QueryRow(ctx, countQuery, threadID).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count messages: %w", err)
	}

	pageQuery := fmt.Sprintf(`
		SELECT id, thread_id, role, parent_id, content, error_message,
		       sources, follow_context, created_at, updated_at
		FROM %s
		WHERE thread_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3
	`, r.tables.Messages)

	rows, err := executor.Query(ctx, pageQuery, threadID, (page-1)*pageSize, pageSize)
	if err != nil {
		return 0, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []chatModels.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return 0, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Oldest first for the client.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return total, messages, nil
}

// Path walks parent links from the given message to the root, returning the
// chain root-first.
func (r *PostgresMessageRepository) Path(ctx context.Context, messageID string) ([]chatModels.Message, error) {
	query := fmt.Sprintf(`
		WITH RECURSIVE message_path AS (
			SELECT id, thread_id, role, parent_id, content, error_message,
			       sources, follow_context, created_at, updated_at, 1 AS depth
			FROM %s
			WHERE id = $1

			UNION ALL

			SELECT m.id, m.thread_id, m.role, m.parent_id, m.content, m.error_message,
			       m.sources, m.follow_context, m.created_at, m.updated_at, mp.depth + 1
			FROM %s m
			INNER JOIN message_path mp ON m.id = mp.parent_id
			WHERE mp.depth < %d
		)
		SELECT id, thread_id, role, parent_id, content, error_message,
		       sources, follow_context, created_at, updated_at
		FROM message_path
		ORDER BY depth DESC
	`, r.tables.Messages, r.tables.Messages, MaxPathDepth)

	executor := postgres.GetExecutor(ctx, r.pool)
	rows, err := executor.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("get message path: %w", err)
	}
	defer rows.Close()

	var path []chatModels.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		path = append(path, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message path: %w", err)
	}

	if len(path) == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	return path, nil
}

// Finalize applies the single terminal write to an assistant placeholder and
// bumps the owning thread's updated_at.
func (r *PostgresMessageRepository) Finalize(ctx context.Context, threadID, messageID string, params chatRepo.FinalizeParams) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET content = $1, error_message = $2, sources = $3, updated_at = NOW()
		WHERE id = $4 AND thread_id = $5
	`, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query,
		params.Content,
		params.ErrorMessage,
		params.Sources,
		messageID,
		threadID,
	)
	if err != nil {
		return fmt.Errorf("finalize message: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("message %s in thread %s: %w", messageID, threadID, domain.ErrNotFound)
	}

	return r.touchThread(ctx, threadID)
}

// touchThread bumps a thread's updated_at so thread lists sort by recency.
func (r *PostgresMessageRepository) touchThread(ctx context.Context, threadID string) error {
	query := fmt.Sprintf(`UPDATE %s SET updated_at = NOW() WHERE id = $1`, r.tables.Threads)

	executor := postgres.GetExecutor(ctx, r.pool)
	if _, err := executor.Exec(ctx, query, threadID); err != nil {
		return fmt.Errorf("touch thread: %w", err)
	}
	return nil
}

// scanMessage reads one message row; works for both QueryRow and Query rows.
func scanMessage(row pgx.Row) (*chatModels.Message, error) {
	var msg chatModels.Message
	err := row.Scan(
		&msg.ID,
		&msg.ThreadID,
		&msg.Role,
		&msg.ParentID,
		&msg.Content,
		&msg.ErrorMessage,
		&msg.Sources,
		&msg.FollowContext,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
