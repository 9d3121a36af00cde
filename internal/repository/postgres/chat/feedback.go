package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"meander/internal/domain"
	chatModels "meander/internal/domain/models/chat"
	chatRepo "meander/internal/domain/repositories/chat"
	"meander/internal/repository/postgres"
)

// PostgresFeedbackRepository implements FeedbackRepository using PostgreSQL.
type PostgresFeedbackRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewFeedbackRepository creates a new PostgresFeedbackRepository.
func NewFeedbackRepository(config *postgres.RepositoryConfig) chatRepo.FeedbackRepository {
	return &PostgresFeedbackRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Upsert records a reaction, replacing any prior reaction on the message.
// The message must exist in the given thread.
func (r *PostgresFeedbackRepository) Upsert(ctx context.Context, fb *chatModels.MessageFeedback) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (thread_id, message_id, reaction, feedback_text)
		SELECT $1, $2, $3, $4
		WHERE EXISTS (SELECT 1 FROM %s WHERE id = $2 AND thread_id = $1)
		ON CONFLICT (thread_id, message_id)
		DO UPDATE SET reaction = EXCLUDED.reaction,
		              feedback_text = EXCLUDED.feedback_text,
		              updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, r.tables.Feedback, r.tables.Messages)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query,
		fb.ThreadID,
		fb.MessageID,
		fb.Reaction,
		fb.FeedbackText,
	).Scan(&fb.ID, &fb.CreatedAt, &fb.UpdatedAt)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return fmt.Errorf("message %s in thread %s: %w", fb.MessageID, fb.ThreadID, domain.ErrNotFound)
		}
		return fmt.Errorf("upsert feedback: %w", err)
	}

	return nil
}

// Delete retracts the reaction on a message.
func (r *PostgresFeedbackRepository) Delete(ctx context.Context, threadID, messageID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE thread_id = $1 AND message_id = $2`, r.tables.Feedback)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, threadID, messageID)
	if err != nil {
		return fmt.Errorf("delete feedback: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("feedback for message %s: %w", messageID, domain.ErrNotFound)
	}

	return nil
}
