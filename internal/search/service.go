package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to the
// database.
type Service struct {
	meili *Meili
	db    *DBSearch
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, db *DBSearch) *Service {
	return &Service{meili: meili, db: db}
}

// Search tries Meilisearch if healthy, otherwise falls back to the database.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to database: %v", err)
	}

	results, total, err := s.db.Search(q)
	if err != nil {
		log.Printf("search: database search error: %v", err)
		return Response{Results: []CardRecord{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCard indexes a card (fire-and-forget to Meilisearch).
func (s *Service) IndexCard(card CardRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCard(card); err != nil {
			log.Printf("search: index card %s: %v", card.ID, err)
		}
	}()
}

// DeleteCard removes a card from the search index (fire-and-forget).
func (s *Service) DeleteCard(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteCard(id); err != nil {
			log.Printf("search: delete card %s: %v", id, err)
		}
	}()
}

// ReindexAll reads every card from the database and pushes them to
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.db == nil {
		return
	}
	cards, err := s.db.LoadAllCards(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexCards(cards); err != nil {
		log.Printf("search: reindex cards: %v", err)
	}
}

func nonNil(r []CardRecord) []CardRecord {
	if r == nil {
		return []CardRecord{}
	}
	return r
}
