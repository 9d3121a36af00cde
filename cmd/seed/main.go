package main

import (
	"context"
	"flag"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"meander/internal/config"
	"meander/internal/repository/postgres"
)

func main() {
	dropTables := flag.Bool("drop-tables", false, "Drop all tables before creating the schema (fresh start)")
	demoThread := flag.Bool("demo-thread", false, "Create a demo thread with one finished turn")
	flag.Parse()

	// Load .env file
	_ = godotenv.Load()

	cfg := config.Load()

	// SAFETY: Prevent destructive operations in production
	if cfg.Environment == "prod" && *dropTables {
		log.Fatalf("BLOCKED: cannot run --drop-tables in production environment")
	}

	log.Printf("Setting up schema (environment: %s, prefix: %s)", cfg.Environment, cfg.TablePrefix)

	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	tables := postgres.NewTableNames(cfg.TablePrefix)

	if *dropTables {
		log.Println("Dropping all tables...")
		if err := dropAllTables(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("Tables dropped")
	}

	log.Println("Ensuring database schema is up to date...")
	if err := runSchema(ctx, pool, tables, cfg.TablePrefix); err != nil {
		log.Fatalf("Failed to run schema: %v", err)
	}
	log.Println("Schema ready")

	if *demoThread {
		log.Println("Creating demo thread...")
		if err := seedDemoThread(ctx, pool, tables); err != nil {
			log.Fatalf("Failed to create demo thread: %v", err)
		}
		log.Println("Demo thread created")
	}
}

func dropAllTables(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	// Feedback and messages reference threads, drop children first
	drops := []string{
		`DROP TABLE IF EXISTS ` + tables.Feedback + ` CASCADE`,
		`DROP TABLE IF EXISTS ` + tables.Messages + ` CASCADE`,
		`DROP TABLE IF EXISTS ` + tables.Threads + ` CASCADE`,
	}
	for _, dropSQL := range drops {
		if _, err := pool.Exec(ctx, dropSQL); err != nil {
			return err
		}
	}
	return nil
}

func runSchema(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames, tablePrefix string) error {
	// Enable UUID extension
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS \"uuid-ossp\""); err != nil {
		return err
	}

	// Create threads table
	createThreads := `
		CREATE TABLE IF NOT EXISTS ` + tables.Threads + ` (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			title TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createThreads); err != nil {
		return err
	}

	// Create messages table. parent_id points at a message in the same
	// thread; deleting a parent takes its whole subtree with it.
	createMessages := `
		CREATE TABLE IF NOT EXISTS ` + tables.Messages + ` (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			thread_id UUID NOT NULL REFERENCES ` + tables.Threads + `(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			parent_id UUID REFERENCES ` + tables.Messages + `(id) ON DELETE CASCADE,
			content TEXT,
			error_message TEXT,
			sources JSONB,
			follow_context JSONB,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)
	`
	if _, err := pool.Exec(ctx, createMessages); err != nil {
		return err
	}

	// Create message feedback table, one reaction per message
	createFeedback := `
		CREATE TABLE IF NOT EXISTS ` + tables.Feedback + ` (
			id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
			thread_id UUID NOT NULL REFERENCES ` + tables.Threads + `(id) ON DELETE CASCADE,
			message_id UUID NOT NULL REFERENCES ` + tables.Messages + `(id) ON DELETE CASCADE,
			reaction TEXT NOT NULL,
			feedback_text TEXT,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(thread_id, message_id)
		)
	`
	if _, err := pool.Exec(ctx, createFeedback); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `messages_thread_created ON ` + tables.Messages + `(thread_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `messages_parent_id ON ` + tables.Messages + `(parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `threads_updated_at ON ` + tables.Threads + `(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_` + tablePrefix + `feedback_message_id ON ` + tables.Feedback + `(message_id)`,
	}

	for _, indexSQL := range indexes {
		if _, err := pool.Exec(ctx, indexSQL); err != nil {
			return err
		}
	}

	return nil
}

// seedDemoThread creates one thread holding a finished question/answer pair,
// useful for poking at the API without streaming a turn first.
func seedDemoThread(ctx context.Context, pool *pgxpool.Pool, tables *postgres.TableNames) error {
	var threadID string
	err := pool.QueryRow(ctx,
		`INSERT INTO `+tables.Threads+` (title) VALUES ($1) RETURNING id`,
		"What is a conversation tree?",
	).Scan(&threadID)
	if err != nil {
		return err
	}

	var userMsgID string
	err = pool.QueryRow(ctx,
		`INSERT INTO `+tables.Messages+` (thread_id, role, content) VALUES ($1, 'user', $2) RETURNING id`,
		threadID,
		"What is a conversation tree?",
	).Scan(&userMsgID)
	if err != nil {
		return err
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO `+tables.Messages+` (thread_id, role, parent_id, content) VALUES ($1, 'assistant', $2, $3)`,
		threadID,
		userMsgID,
		"A conversation tree keeps every turn as a node, so regenerating or branching an answer forks a new path instead of overwriting history.",
	)
	return err
}
