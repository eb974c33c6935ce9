// Package store caches fetched template payloads in Postgres so repeated
// detail reads and the search fallback do not hammer the remote catalog.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotCached is returned when a template is not in the cache.
var ErrNotCached = errors.New("template not cached")

// CachedTemplate is one cached catalog entry with its editable payload.
type CachedTemplate struct {
	TemplateID  string
	Name        string
	Description string
	HTML        string
	CSS         string
	FetchedAt   time.Time
}

type TemplateCache struct {
	db *sql.DB
}

func NewTemplateCache(db *sql.DB) *TemplateCache {
	return &TemplateCache{db: db}
}

// EnsureSchema creates the cache table. One table, no migration machinery:
// the cache is disposable by design.
func (c *TemplateCache) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS template_cache (
			template_id TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			html        TEXT NOT NULL DEFAULT '',
			css         TEXT NOT NULL DEFAULT '',
			fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure template_cache schema: %w", err)
	}
	return nil
}

func (c *TemplateCache) Put(ctx context.Context, t CachedTemplate) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO template_cache (template_id, name, description, html, css, fetched_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (template_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			html = EXCLUDED.html,
			css = EXCLUDED.css,
			fetched_at = now()`,
		t.TemplateID, t.Name, t.Description, t.HTML, t.CSS)
	if err != nil {
		return fmt.Errorf("cache template %s: %w", t.TemplateID, err)
	}
	return nil
}

func (c *TemplateCache) Get(ctx context.Context, templateID string) (CachedTemplate, error) {
	var t CachedTemplate
	err := c.db.QueryRowContext(ctx, `
		SELECT template_id, name, description, html, css, fetched_at
		FROM template_cache WHERE template_id = $1`, templateID).
		Scan(&t.TemplateID, &t.Name, &t.Description, &t.HTML, &t.CSS, &t.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedTemplate{}, ErrNotCached
	}
	if err != nil {
		return CachedTemplate{}, fmt.Errorf("read cached template %s: %w", templateID, err)
	}
	return t, nil
}

// Search is the fallback behind the search facade: case-insensitive
// substring match over name and description.
func (c *TemplateCache) Search(ctx context.Context, query string, limit int) ([]CachedTemplate, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT template_id, name, description, html, css, fetched_at
		FROM template_cache
		WHERE name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
		ORDER BY fetched_at DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search template cache: %w", err)
	}
	defer rows.Close()

	var out []CachedTemplate
	for rows.Next() {
		var t CachedTemplate
		if err := rows.Scan(&t.TemplateID, &t.Name, &t.Description, &t.HTML, &t.CSS, &t.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan cached template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (c *TemplateCache) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
