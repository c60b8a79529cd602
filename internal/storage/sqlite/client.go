package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/reco-agent/backend/pkg/logger"
)

type Client struct {
	db  *sql.DB
	now func() time.Time
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one pooled connection also keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db, now: time.Now}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		external_id TEXT,
		store_id TEXT NOT NULL DEFAULT '',
		product_id TEXT NOT NULL DEFAULT '',
		product_title TEXT NOT NULL DEFAULT '',
		author_name TEXT NOT NULL,
		rating REAL NOT NULL DEFAULT 0,
		fit_feedback TEXT NOT NULL DEFAULT '',
		review_body TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_product ON reviews(product_id);
	CREATE INDEX IF NOT EXISTS idx_reviews_store ON reviews(store_id);
	CREATE INDEX IF NOT EXISTS idx_reviews_created ON reviews(created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reviews_external ON reviews(external_id)
		WHERE external_id IS NOT NULL AND external_id != '';

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		store_id TEXT NOT NULL DEFAULT '',
		product_id TEXT NOT NULL DEFAULT '',
		product_title TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_store ON conversations(store_id, started_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sources_count INTEGER,
		suggestions TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE (conversation_id, seq),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS research_sessions (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		product_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		steps TEXT NOT NULL DEFAULT '[]',
		answer TEXT NOT NULL DEFAULT '',
		sources TEXT NOT NULL DEFAULT '[]',
		suggestions TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_research_created ON research_sessions(created_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
