package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskboard/api/internal/ordering"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
)

// --- lists ---

func (s *Service) ListLists(ctx context.Context, projectID, userID string, includeArchived bool) ([]store.List, error) {
	if _, err := s.requireProjectMembership(ctx, projectID, userID); err != nil {
		return nil, err
	}
	return s.store.ListLists(ctx, projectID, includeArchived)
}

func (s *Service) CreateList(ctx context.Context, projectID, userID, name string) (store.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.List{}, errValidation("name is required", nil)
	}
	if _, err := s.requireProjectOwner(ctx, projectID, userID); err != nil {
		return store.List{}, err
	}

	var created store.List
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		order, err := activeListOrder(ctx, tx, projectID)
		if err != nil {
			return err
		}
		created, err = tx.CreateList(ctx, store.List{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			Name:      name,
			Position:  ordering.NextPosition(len(order)),
			CreatedBy: userID,
		})
		return err
	})
	if err != nil {
		return store.List{}, err
	}
	return created, nil
}

func (s *Service) GetListInProject(ctx context.Context, projectID, listID, userID string) (store.List, error) {
	if _, err := s.requireProjectMembership(ctx, projectID, userID); err != nil {
		return store.List{}, err
	}
	list, err := s.store.GetListInProject(ctx, listID, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.List{}, errNotFound("List not found")
		}
		return store.List{}, err
	}
	return list, nil
}

func (s *Service) RenameList(ctx context.Context, projectID, listID, userID, name string) (store.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.List{}, errValidation("name is required", nil)
	}
	if _, err := s.requireProjectOwner(ctx, projectID, userID); err != nil {
		return store.List{}, err
	}

	list, err := s.store.GetListInProject(ctx, listID, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.List{}, errNotFound("List not found")
		}
		return store.List{}, err
	}
	if list.Name == name {
		return store.List{}, errConflict("NOTHING_TO_UPDATE", "The list already has this name", nil)
	}
	updated, err := s.store.UpdateListName(ctx, listID, projectID, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.List{}, errNotFound("List not found")
		}
		return store.List{}, err
	}
	return updated, nil
}

// ReorderLists replaces the full active ordering of a project's lists. The
// requested ids must be a permutation of the current active set.
func (s *Service) ReorderLists(ctx context.Context, projectID, userID string, orderedIDs []string) ([]store.List, error) {
	if _, err := s.requireProjectOwner(ctx, projectID, userID); err != nil {
		return nil, err
	}

	var reordered []store.List
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		current, err := activeListOrder(ctx, tx, projectID)
		if err != nil {
			return err
		}
		placement, err := ordering.Reorder(current, orderedIDs)
		if err != nil {
			return mapOrderingError(err, len(current), len(orderedIDs))
		}
		for id, position := range placement {
			if err := tx.UpdateListPosition(ctx, id, projectID, position); err != nil {
				return err
			}
		}
		reordered, err = tx.ListLists(ctx, projectID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reordered, nil
}

// ArchiveList parks the list off the board. It keeps its stale position and
// the remaining active lists close ranks.
func (s *Service) ArchiveList(ctx context.Context, projectID, listID, userID string) (store.List, error) {
	if _, err := s.requireProjectOwner(ctx, projectID, userID); err != nil {
		return store.List{}, err
	}

	var archived store.List
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		list, err := tx.GetListInProject(ctx, listID, projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("List not found")
			}
			return err
		}
		if list.IsArchived {
			return errConflict("ALREADY_ARCHIVED", "The list is already archived", nil)
		}

		archived, err = tx.SetListArchived(ctx, listID, projectID, true, 0)
		if err != nil {
			return err
		}
		order, err := activeListOrder(ctx, tx, projectID)
		if err != nil {
			return err
		}
		return renumberLists(ctx, tx, projectID, order)
	})
	if err != nil {
		return store.List{}, err
	}
	return archived, nil
}

// RestoreList brings an archived list back, appended at the end of the active
// sequence regardless of its pre-archival slot.
func (s *Service) RestoreList(ctx context.Context, projectID, listID, userID string) (store.List, error) {
	if _, err := s.requireProjectOwner(ctx, projectID, userID); err != nil {
		return store.List{}, err
	}

	var restored store.List
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		list, err := tx.GetListInProject(ctx, listID, projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("List not found")
			}
			return err
		}
		if !list.IsArchived {
			return errConflict("NOT_ARCHIVED", "The list is not archived", nil)
		}

		order, err := activeListOrder(ctx, tx, projectID)
		if err != nil {
			return err
		}
		restored, err = tx.SetListArchived(ctx, listID, projectID, false, ordering.NextPosition(len(order)))
		return err
	})
	if err != nil {
		return store.List{}, err
	}
	return restored, nil
}

func (s *Service) DeleteList(ctx context.Context, projectID, listID, userID string) error {
	if _, err := s.requireProjectOwner(ctx, projectID, userID); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx store.Store) error {
		list, err := tx.GetListInProject(ctx, listID, projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("List not found")
			}
			return err
		}
		if _, err := tx.DeleteList(ctx, listID, projectID); err != nil {
			return err
		}
		if list.IsArchived {
			return nil
		}
		order, err := activeListOrder(ctx, tx, projectID)
		if err != nil {
			return err
		}
		return renumberLists(ctx, tx, projectID, order)
	})
}

// --- cards ---

// CardPatch carries a partial card update. The Set flags distinguish "field
// absent" from "field present with its zero value", so description and due
// date can be cleared explicitly.
type CardPatch struct {
	Title          *string
	Description    *string
	DescriptionSet bool
	DueAt          *time.Time
	DueAtSet       bool
}

// resolveList loads a list by id alone and checks the caller belongs to its
// project, for the routes addressed by list id.
func (s *Service) resolveList(ctx context.Context, listID, userID string) (store.List, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.List{}, errNotFound("List not found")
		}
		return store.List{}, err
	}
	if _, err := s.requireProjectMembership(ctx, list.ProjectID, userID); err != nil {
		return store.List{}, err
	}
	return list, nil
}

func (s *Service) ListCards(ctx context.Context, listID, userID string, includeArchived bool) ([]store.Card, error) {
	if _, err := s.resolveList(ctx, listID, userID); err != nil {
		return nil, err
	}
	return s.store.ListCards(ctx, listID, includeArchived)
}

func (s *Service) CreateCard(ctx context.Context, listID, userID, title string, description *string, dueAt *time.Time) (store.Card, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Card{}, errValidation("title is required", nil)
	}
	list, err := s.resolveList(ctx, listID, userID)
	if err != nil {
		return store.Card{}, err
	}
	if list.IsArchived {
		return store.Card{}, errConflict("LIST_ARCHIVED", "Cards cannot be added to an archived list", nil)
	}

	var created store.Card
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		order, err := activeCardOrder(ctx, tx, listID)
		if err != nil {
			return err
		}
		created, err = tx.CreateCard(ctx, store.Card{
			ID:          uuid.NewString(),
			ProjectID:   list.ProjectID,
			ListID:      listID,
			Title:       title,
			Description: description,
			Position:    ordering.NextPosition(len(order)),
			DueAt:       dueAt,
			CreatedBy:   userID,
		})
		return err
	})
	if err != nil {
		return store.Card{}, err
	}
	s.indexCard(created)
	return created, nil
}

func (s *Service) GetCard(ctx context.Context, projectID, cardID, userID string) (store.Card, error) {
	if _, err := s.requireProjectMembership(ctx, projectID, userID); err != nil {
		return store.Card{}, err
	}
	card, err := s.store.GetCardInProject(ctx, cardID, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Card{}, errNotFound("Card not found")
		}
		return store.Card{}, err
	}
	return card, nil
}

func (s *Service) UpdateCard(ctx context.Context, projectID, cardID, userID string, patch CardPatch) (store.Card, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return store.Card{}, errValidation("title cannot be empty", nil)
	}
	if _, err := s.requireProjectMembership(ctx, projectID, userID); err != nil {
		return store.Card{}, err
	}

	card, err := s.store.GetCardInProject(ctx, cardID, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Card{}, errNotFound("Card not found")
		}
		return store.Card{}, err
	}

	title := card.Title
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
	}
	description := card.Description
	if patch.DescriptionSet {
		description = patch.Description
	}
	dueAt := card.DueAt
	if patch.DueAtSet {
		dueAt = patch.DueAt
	}

	if title == card.Title && samePointerString(description, card.Description) && samePointerTime(dueAt, card.DueAt) {
		return store.Card{}, errConflict("NOTHING_TO_UPDATE", "No fields would change", nil)
	}

	updated, err := s.store.UpdateCard(ctx, cardID, projectID, title, description, dueAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Card{}, errNotFound("Card not found")
		}
		return store.Card{}, err
	}
	s.indexCard(updated)
	return updated, nil
}

// ReorderCards replaces the full active ordering of one list's cards.
func (s *Service) ReorderCards(ctx context.Context, listID, userID string, orderedIDs []string) ([]store.Card, error) {
	list, err := s.resolveList(ctx, listID, userID)
	if err != nil {
		return nil, err
	}
	projectID := list.ProjectID

	var reordered []store.Card
	err = s.store.WithTx(ctx, func(tx store.Store) error {
		current, err := activeCardOrder(ctx, tx, listID)
		if err != nil {
			return err
		}
		placement, err := ordering.Reorder(current, orderedIDs)
		if err != nil {
			return mapOrderingError(err, len(current), len(orderedIDs))
		}
		for id, position := range placement {
			if err := tx.UpdateCardPlacement(ctx, id, projectID, listID, position); err != nil {
				return err
			}
		}
		reordered, err = tx.ListCards(ctx, listID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reordered, nil
}

// MoveCard places a card at a position in a target list, which may be its own.
// A position past the end clamps to an append, and a non-positive position
// (the decoded default when the request omits it) also appends at the end.
// Both the source and the target sequences come out dense.
func (s *Service) MoveCard(ctx context.Context, projectID, cardID, userID, toListID string, position int) (store.Card, error) {
	if _, err := s.requireProjectMembership(ctx, projectID, userID); err != nil {
		return store.Card{}, err
	}

	var moved store.Card
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		card, err := tx.GetCardInProject(ctx, cardID, projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("Card not found")
			}
			return err
		}
		if card.IsArchived {
			return errConflict("CARD_ARCHIVED", "Archived cards cannot be moved", nil)
		}
		target, err := tx.GetListInProject(ctx, toListID, projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("List not found")
			}
			return err
		}
		if target.IsArchived {
			return errConflict("LIST_ARCHIVED", "Cards cannot be moved into an archived list", nil)
		}

		if toListID == card.ListID {
			current, err := activeCardOrder(ctx, tx, card.ListID)
			if err != nil {
				return err
			}
			remaining := ordering.Remove(current, cardID)
			if position <= 0 {
				position = len(remaining) + 1
			}
			requested := ordering.Insert(remaining, cardID, position)
			if ordering.Same(current, requested) {
				return errConflict("ORDER_UNCHANGED", "The card is already at this position", nil)
			}
			if err := renumberCards(ctx, tx, projectID, card.ListID, requested); err != nil {
				return err
			}
		} else {
			source, err := activeCardOrder(ctx, tx, card.ListID)
			if err != nil {
				return err
			}
			targetOrder, err := activeCardOrder(ctx, tx, toListID)
			if err != nil {
				return err
			}
			if position <= 0 {
				position = len(targetOrder) + 1
			}
			if err := renumberCards(ctx, tx, projectID, card.ListID, ordering.Remove(source, cardID)); err != nil {
				return err
			}
			if err := renumberCards(ctx, tx, projectID, toListID, ordering.Insert(targetOrder, cardID, position)); err != nil {
				return err
			}
		}

		moved, err = tx.GetCardInProject(ctx, cardID, projectID)
		return err
	})
	if err != nil {
		return store.Card{}, err
	}
	s.indexCard(moved)
	return moved, nil
}

func (s *Service) ArchiveCard(ctx context.Context, projectID, cardID, userID string) (store.Card, error) {
	if _, err := s.requireProjectMembership(ctx, projectID, userID); err != nil {
		return store.Card{}, err
	}

	var archived store.Card
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		card, err := tx.GetCardInProject(ctx, cardID, projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("Card not found")
			}
			return err
		}
		if card.IsArchived {
			return errConflict("ALREADY_ARCHIVED", "The card is already archived", nil)
		}

		archived, err = tx.SetCardArchived(ctx, cardID, projectID, true, 0)
		if err != nil {
			return err
		}
		order, err := activeCardOrder(ctx, tx, card.ListID)
		if err != nil {
			return err
		}
		return renumberCards(ctx, tx, projectID, card.ListID, order)
	})
	if err != nil {
		return store.Card{}, err
	}
	s.indexCard(archived)
	return archived, nil
}

func (s *Service) RestoreCard(ctx context.Context, projectID, cardID, userID string) (store.Card, error) {
	if _, err := s.requireProjectMembership(ctx, projectID, userID); err != nil {
		return store.Card{}, err
	}

	var restored store.Card
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		card, err := tx.GetCardInProject(ctx, cardID, projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("Card not found")
			}
			return err
		}
		if !card.IsArchived {
			return errConflict("NOT_ARCHIVED", "The card is not archived", nil)
		}
		list, err := tx.GetListInProject(ctx, card.ListID, projectID)
		if err != nil {
			return err
		}
		if list.IsArchived {
			return errConflict("LIST_ARCHIVED", "Restore the list before restoring its cards", nil)
		}

		order, err := activeCardOrder(ctx, tx, card.ListID)
		if err != nil {
			return err
		}
		restored, err = tx.SetCardArchived(ctx, cardID, projectID, false, ordering.NextPosition(len(order)))
		return err
	})
	if err != nil {
		return store.Card{}, err
	}
	s.indexCard(restored)
	return restored, nil
}

func (s *Service) DeleteCard(ctx context.Context, projectID, cardID, userID string) error {
	if _, err := s.requireProjectOwner(ctx, projectID, userID); err != nil {
		return err
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		card, err := tx.GetCardInProject(ctx, cardID, projectID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("Card not found")
			}
			return err
		}
		if _, err := tx.DeleteCard(ctx, cardID, projectID); err != nil {
			return err
		}
		if card.IsArchived {
			return nil
		}
		order, err := activeCardOrder(ctx, tx, card.ListID)
		if err != nil {
			return err
		}
		return renumberCards(ctx, tx, projectID, card.ListID, order)
	})
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteCard(cardID)
	}
	return nil
}

// SearchCards answers a project-scoped card search, through the search index
// when one is wired and straight from the database otherwise.
func (s *Service) SearchCards(ctx context.Context, projectID, userID string, q search.Query) (search.Response, error) {
	if _, err := s.requireProjectMembership(ctx, projectID, userID); err != nil {
		return search.Response{}, err
	}
	q.ProjectID = projectID

	if s.search != nil {
		return s.search.Search(q), nil
	}

	cards, err := s.store.SearchProjectCards(ctx, store.CardFilter{
		ProjectID:       projectID,
		ListID:          q.ListID,
		IncludeArchived: q.IncludeArchived,
		Search:          strings.TrimSpace(q.Text),
	})
	if err != nil {
		return search.Response{}, err
	}
	results := make([]search.CardRecord, 0, len(cards))
	for _, card := range cards {
		results = append(results, cardRecord(card))
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}, nil
}

// --- helpers ---

func activeListOrder(ctx context.Context, tx store.Store, projectID string) ([]string, error) {
	lists, err := tx.ListLists(ctx, projectID, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(lists))
	for _, list := range lists {
		ids = append(ids, list.ID)
	}
	return ids, nil
}

func activeCardOrder(ctx context.Context, tx store.Store, listID string) ([]string, error) {
	cards, err := tx.ListCards(ctx, listID, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cards))
	for _, card := range cards {
		ids = append(ids, card.ID)
	}
	return ids, nil
}

func renumberLists(ctx context.Context, tx store.Store, projectID string, order []string) error {
	for id, position := range ordering.Positions(order) {
		if err := tx.UpdateListPosition(ctx, id, projectID, position); err != nil {
			return err
		}
	}
	return nil
}

func renumberCards(ctx context.Context, tx store.Store, projectID, listID string, order []string) error {
	for id, position := range ordering.Positions(order) {
		if err := tx.UpdateCardPlacement(ctx, id, projectID, listID, position); err != nil {
			return err
		}
	}
	return nil
}

func mapOrderingError(err error, expected, received int) error {
	var unknown *ordering.UnknownIDError
	var duplicate *ordering.DuplicateIDError
	switch {
	case errors.Is(err, ordering.ErrCountMismatch):
		return errValidation("ordered ids must include every active item exactly once",
			map[string]any{"expected": expected, "received": received})
	case errors.As(err, &unknown):
		return errValidation("unknown id in requested order", map[string]any{"id": unknown.ID})
	case errors.As(err, &duplicate):
		return errValidation("duplicate id in requested order", map[string]any{"id": duplicate.ID})
	case errors.Is(err, ordering.ErrUnchanged):
		return errConflict("ORDER_UNCHANGED", "The requested order matches the current order", nil)
	default:
		return err
	}
}

func (s *Service) indexCard(card store.Card) {
	if s.search == nil {
		return
	}
	s.search.IndexCard(cardRecord(card))
}

func cardRecord(card store.Card) search.CardRecord {
	record := search.CardRecord{
		ID:         card.ID,
		ProjectID:  card.ProjectID,
		ListID:     card.ListID,
		Title:      card.Title,
		Position:   card.Position,
		IsArchived: card.IsArchived,
		DueAt:      card.DueAt,
	}
	if card.Description != nil {
		record.Description = *card.Description
	}
	return record
}

func samePointerString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func samePointerTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
