package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/reco-agent/backend/internal/storage/models"
)

func (c *Client) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var s models.Setting
	var updatedAt int64

	err := c.db.QueryRowContext(ctx, `SELECT key, value, updated_at FROM settings WHERE key = ?`, key).
		Scan(&s.Key, &s.Value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}

	s.UpdatedAt = fromMillis(updatedAt)
	return &s, nil
}

func (c *Client) SetSetting(ctx context.Context, key, value string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, toMillis(c.now()))
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
