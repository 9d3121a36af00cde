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

// PostgresThreadRepository implements ThreadRepository using PostgreSQL.
type PostgresThreadRepository struct {
	pool   *pgxpool.Pool
	tables *postgres.TableNames
	logger *slog.Logger
}

// NewThreadRepository creates a new PostgresThreadRepository.
func NewThreadRepository(config *postgres.RepositoryConfig) chatRepo.ThreadRepository {
	return &PostgresThreadRepository{
		pool:   config.Pool,
		tables: config.Tables,
		logger: config.Logger,
	}
}

// Create inserts a new thread; the database assigns id and timestamps.
func (r *PostgresThreadRepository) Create(ctx context.Context, thread *chatModels.Thread) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (title)
		VALUES ($1)
		RETURNING id, created_at, updated_at
	`, r.tables.Threads)

	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, thread.Title).
		Scan(&thread.ID, &thread.CreatedAt, &thread.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}

	return nil
}

// Get retrieves a thread by id.
func (r *PostgresThreadRepository) Get(ctx context.Context, threadID string) (*chatModels.Thread, error) {
	query := fmt.Sprintf(`
		SELECT id, title, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, r.tables.Threads)

	var thread chatModels.Thread
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, threadID).Scan(
		&thread.ID,
		&thread.Title,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get thread: %w", err)
	}

	return &thread, nil
}

// List returns the total thread count and one page ordered by recency.
func (r *PostgresThreadRepository) List(ctx context.Context, page, pageSize int) (int, []chatModels.Thread, error) {
	executor := postgres.GetExecutor(ctx, r.pool)

	countQuery := fmt.Sprintf(`SELECT COUNT(id) FROM %s`, r.tables.Threads)
	var total int
	if err := executor.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count threads: %w", err)
	}

	pageQuery := fmt.Sprintf(`
		SELECT id, title, created_at, updated_at
		FROM %s
		ORDER BY updated_at DESC
		OFFSET $1 LIMIT $2
	`, r.tables.Threads)

	rows, err := executor.Query(ctx, pageQuery, (page-1)*pageSize, pageSize)
	if err != nil {
		return 0, nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	threads := []chatModels.Thread{}
	for rows.Next() {
		var thread chatModels.Thread
		if err := rows.Scan(&thread.ID, &thread.Title, &thread.CreatedAt, &thread.UpdatedAt); err != nil {
			return 0, nil, fmt.Errorf("scan thread: %w", err)
		}
		threads = append(threads, thread)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate threads: %w", err)
	}

	return total, threads, nil
}

// UpdateTitle renames a thread and bumps its updated_at.
func (r *PostgresThreadRepository) UpdateTitle(ctx context.Context, threadID, title string) (*chatModels.Thread, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET title = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING id, title, created_at, updated_at
	`, r.tables.Threads)

	var thread chatModels.Thread
	executor := postgres.GetExecutor(ctx, r.pool)
	err := executor.QueryRow(ctx, query, title, threadID).Scan(
		&thread.ID,
		&thread.Title,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err != nil {
		if postgres.IsPgNoRowsError(err) {
			return nil, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("update thread title: %w", err)
	}

	return &thread, nil
}

// Delete removes a thread; messages and feedback go with it via FK cascade.
// Deleting an absent thread is a no-op.
func (r *PostgresThreadRepository) Delete(ctx context.Context, threadID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.tables.Threads)

	executor := postgres.GetExecutor(ctx, r.pool)
	result, err := executor.Exec(ctx, query, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}

	if result.RowsAffected() == 0 {
		r.logger.Debug("delete of absent thread ignored", "thread_id", threadID)
	}

	return nil
}
