package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DBSearch implements Searcher against the cards table with a
// case-insensitive substring match. It is the fallback when Meilisearch is
// unconfigured or down.
type DBSearch struct {
	db *sql.DB
}

func NewDBSearch(db *sql.DB) *DBSearch {
	return &DBSearch{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (d *DBSearch) Healthy() bool {
	return true
}

func (d *DBSearch) Search(q Query) ([]CardRecord, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	ctx := context.Background()
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, project_id, list_id, title, COALESCE(description, ''), position, is_archived, due_at
		FROM cards
		WHERE project_id = $1
			AND ($2 = '' OR list_id = $2)
			AND ($3 OR NOT is_archived)
			AND ($4 = '' OR title ILIKE '%' || $4 || '%' OR description ILIKE '%' || $4 || '%')
		ORDER BY list_id ASC, position ASC
		LIMIT $5`,
		q.ProjectID, q.ListID, q.IncludeArchived, strings.TrimSpace(q.Text), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("db search: %w", err)
	}
	defer rows.Close()

	var results []CardRecord
	for rows.Next() {
		var record CardRecord
		if err := rows.Scan(&record.ID, &record.ProjectID, &record.ListID, &record.Title,
			&record.Description, &record.Position, &record.IsArchived, &record.DueAt); err != nil {
			return nil, 0, fmt.Errorf("db search scan: %w", err)
		}
		results = append(results, record)
	}
	return results, len(results), rows.Err()
}

// LoadAllCards returns every card for full reindexing into Meilisearch.
func (d *DBSearch) LoadAllCards(ctx context.Context) ([]CardRecord, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, project_id, list_id, title, COALESCE(description, ''), position, is_archived, due_at
		FROM cards`)
	if err != nil {
		return nil, fmt.Errorf("load cards: %w", err)
	}
	defer rows.Close()

	cards := make([]CardRecord, 0)
	for rows.Next() {
		var record CardRecord
		if err := rows.Scan(&record.ID, &record.ProjectID, &record.ListID, &record.Title,
			&record.Description, &record.Position, &record.IsArchived, &record.DueAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, record)
	}
	return cards, rows.Err()
}
