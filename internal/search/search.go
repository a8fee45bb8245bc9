// Package search provides full-text card search backed by Meilisearch with a
// database fallback.
package search

import "time"

// CardRecord is the data we index per card. It is also the hit shape returned
// to callers, so both backends produce the same payload.
type CardRecord struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	ListID      string     `json:"listId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Position    int        `json:"position"`
	IsArchived  bool       `json:"isArchived"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
}

// Query describes a card search request. ProjectID is mandatory; everything
// else narrows the result set.
type Query struct {
	ProjectID       string
	ListID          string
	Text            string
	IncludeArchived bool
	Limit           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []CardRecord `json:"results"`
	Total   int          `json:"total"`
	Query   string       `json:"query"`
}

// Searcher can execute a card search.
type Searcher interface {
	Search(q Query) ([]CardRecord, int, error)
	Healthy() bool
}

// Indexer can push cards into a search index.
type Indexer interface {
	IndexCard(card CardRecord) error
	DeleteCard(id string) error
}
