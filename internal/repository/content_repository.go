package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uzbekfilmtv/kinobot/internal/models"
)

type ContentRepository struct {
	db *sql.DB
}

func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

const contentColumns = `id, code, kind, COALESCE(asset_id, ''), COALESCE(source_chat_id, 0), COALESCE(source_message_id, 0), created_at, updated_at`

// Lookup returns the entry for a code, or nil when the code is unknown.
func (r *ContentRepository) Lookup(ctx context.Context, code string) (*models.ContentEntry, error) {
	query := `SELECT ` + contentColumns + ` FROM content_entries WHERE code = ?`
	row := r.db.QueryRowContext(ctx, query, code)
	var e models.ContentEntry
	var kind string
	if err := row.Scan(&e.ID, &e.Code, &kind, &e.Descriptor.AssetID, &e.Descriptor.SourceChatID, &e.Descriptor.SourceMessageID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan content entry: %w", err)
	}
	e.Descriptor.Kind = models.ContentKind(kind)
	return &e, nil
}

// Upsert inserts the code or replaces its descriptor when it already exists.
func (r *ContentRepository) Upsert(ctx context.Context, code string, d models.Descriptor) error {
	const query = `
INSERT INTO content_entries (code, kind, asset_id, source_chat_id, source_message_id)
VALUES (?, ?, NULLIF(?, ''), NULLIF(?, 0), NULLIF(?, 0))
ON DUPLICATE KEY UPDATE
    kind = VALUES(kind),
    asset_id = VALUES(asset_id),
    source_chat_id = VALUES(source_chat_id),
    source_message_id = VALUES(source_message_id),
    updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, code, string(d.Kind), d.AssetID, d.SourceChatID, d.SourceMessageID); err != nil {
		return fmt.Errorf("upsert content entry: %w", err)
	}
	return nil
}

// Remove deletes a code. Returns false when the code was absent.
func (r *ContentRepository) Remove(ctx context.Context, code string) (bool, error) {
	const query = `DELETE FROM content_entries WHERE code = ?`
	res, err := r.db.ExecContext(ctx, query, code)
	if err != nil {
		return false, fmt.Errorf("delete content entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("content rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns all codes in lexicographic order for stable display.
func (r *ContentRepository) List(ctx context.Context) ([]string, error) {
	const query = `SELECT code FROM content_entries ORDER BY code ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list content codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan content code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (r *ContentRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count content entries: %w", err)
	}
	return count, nil
}
