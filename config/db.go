package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/dashctl/section"
)

// Schema for the sections table: panels added at runtime without editing
// the YAML file.
const Schema = `
CREATE TABLE IF NOT EXISTS sections (
	id            TEXT PRIMARY KEY,
	display       TEXT NOT NULL DEFAULT '',
	obstructing   TEXT NOT NULL DEFAULT '[]',
	hide_class    TEXT NOT NULL DEFAULT '',
	shown_class   TEXT NOT NULL DEFAULT '',
	card_selector TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'active',
	updated_at    INTEGER NOT NULL
);
`

// LoadSections reads the active rows of the sections table, ordered by id.
func LoadSections(ctx context.Context, db *sql.DB) ([]section.Section, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, display, obstructing, hide_class, shown_class, card_selector
		FROM sections
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load sections: %w", err)
	}
	defer rows.Close()

	var out []section.Section
	for rows.Next() {
		var s section.Section
		var obstructing string
		if err := rows.Scan(&s.ID, &s.Display, &obstructing, &s.HideClass, &s.ShownClass, &s.CardSelector); err != nil {
			return nil, fmt.Errorf("config: scan section: %w", err)
		}
		if err := json.Unmarshal([]byte(obstructing), &s.Obstructing); err != nil {
			return nil, fmt.Errorf("config: section %s: obstructing: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveSection inserts or replaces one section row.
func SaveSection(ctx context.Context, db *sql.DB, s section.Section) error {
	obstructing, err := json.Marshal(s.Obstructing)
	if err != nil {
		return err
	}
	if s.Obstructing == nil {
		obstructing = []byte("[]")
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO sections (id, display, obstructing, hide_class, shown_class, card_selector, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			display = excluded.display,
			obstructing = excluded.obstructing,
			hide_class = excluded.hide_class,
			shown_class = excluded.shown_class,
			card_selector = excluded.card_selector,
			status = 'active',
			updated_at = excluded.updated_at
	`, s.ID, s.Display, string(obstructing), s.HideClass, s.ShownClass, s.CardSelector, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: save section %s: %w", s.ID, err)
	}
	return nil
}

// MergeSections appends the db sections whose id is not already in base.
func MergeSections(base, extra []section.Section) []section.Section {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[s.ID] = true
	}
	out := append([]section.Section(nil), base...)
	for _, s := range extra {
		if !seen[s.ID] {
			out = append(out, s)
			seen[s.ID] = true
		}
	}
	return out
}
