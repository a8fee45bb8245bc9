package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// --- projects ---

const projectColumns = `id, organization_id, name, created_by_user_id, created_at, updated_at`

func scanProject(row *sql.Row) (Project, error) {
	var project Project
	err := row.Scan(&project.ID, &project.OrganizationID, &project.Name,
		&project.CreatedBy, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return project, nil
}

func (q *Queries) CreateProject(ctx context.Context, project Project) (Project, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, organization_id, name, created_by_user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+projectColumns,
		project.ID, project.OrganizationID, project.Name, project.CreatedBy)
	return scanProject(row)
}

func (q *Queries) GetProject(ctx context.Context, id string) (Project, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

func (q *Queries) GetProjectInOrganization(ctx context.Context, projectID, organizationID string) (Project, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE id = $1 AND organization_id = $2`, projectID, organizationID)
	return scanProject(row)
}

func (q *Queries) ListProjects(ctx context.Context, organizationID string) ([]Project, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+projectColumns+` FROM projects
		WHERE organization_id = $1
		ORDER BY created_at ASC`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var project Project
		if err := rows.Scan(&project.ID, &project.OrganizationID, &project.Name,
			&project.CreatedBy, &project.CreatedAt, &project.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (q *Queries) UpdateProjectName(ctx context.Context, projectID, organizationID, name string) (Project, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE projects SET name = $3, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING `+projectColumns, projectID, organizationID, name)
	return scanProject(row)
}

func (q *Queries) DeleteProject(ctx context.Context, projectID, organizationID string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM projects WHERE id = $1 AND organization_id = $2`, projectID, organizationID)
	if err != nil {
		return false, fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetProjectMembership resolves the caller's role in the organization that
// owns the project, in one query. sql.ErrNoRows covers both a missing project
// and a caller outside the organization.
func (q *Queries) GetProjectMembership(ctx context.Context, projectID, userID string) (Membership, error) {
	var membership Membership
	err := q.db.QueryRowContext(ctx, `
		SELECT m.organization_id, m.user_id, m.role, m.created_at
		FROM projects p
		JOIN organization_members m ON m.organization_id = p.organization_id
		WHERE p.id = $1 AND m.user_id = $2`, projectID, userID).
		Scan(&membership.OrganizationID, &membership.UserID, &membership.Role, &membership.CreatedAt)
	if err != nil {
		return Membership{}, err
	}
	return membership, nil
}

// --- lists ---

const listColumns = `id, project_id, name, position, is_archived, created_by_user_id, created_at, updated_at`

func scanList(row *sql.Row) (List, error) {
	var list List
	err := row.Scan(&list.ID, &list.ProjectID, &list.Name, &list.Position,
		&list.IsArchived, &list.CreatedBy, &list.CreatedAt, &list.UpdatedAt)
	if err != nil {
		return List{}, err
	}
	return list, nil
}

func (q *Queries) CreateList(ctx context.Context, list List) (List, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO lists (id, project_id, name, position, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+listColumns,
		list.ID, list.ProjectID, list.Name, list.Position, list.CreatedBy)
	return scanList(row)
}

func (q *Queries) GetList(ctx context.Context, id string) (List, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+listColumns+` FROM lists WHERE id = $1`, id)
	return scanList(row)
}

func (q *Queries) GetListInProject(ctx context.Context, listID, projectID string) (List, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+listColumns+` FROM lists
		WHERE id = $1 AND project_id = $2`, listID, projectID)
	return scanList(row)
}

// ListLists returns the project's lists, active ones first by position, then
// archived ones by archival recency when requested.
func (q *Queries) ListLists(ctx context.Context, projectID string, includeArchived bool) ([]List, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+listColumns+` FROM lists
		WHERE project_id = $1 AND ($2 OR NOT is_archived)
		ORDER BY is_archived ASC, position ASC, updated_at DESC`, projectID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var lists []List
	for rows.Next() {
		var list List
		if err := rows.Scan(&list.ID, &list.ProjectID, &list.Name, &list.Position,
			&list.IsArchived, &list.CreatedBy, &list.CreatedAt, &list.UpdatedAt); err != nil {
			return nil, err
		}
		lists = append(lists, list)
	}
	return lists, rows.Err()
}

func (q *Queries) UpdateListName(ctx context.Context, listID, projectID, name string) (List, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE lists SET name = $3, updated_at = NOW()
		WHERE id = $1 AND project_id = $2
		RETURNING `+listColumns, listID, projectID, name)
	return scanList(row)
}

func (q *Queries) UpdateListPosition(ctx context.Context, listID, projectID string, position int) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE lists SET position = $3, updated_at = NOW()
		WHERE id = $1 AND project_id = $2`, listID, projectID, position)
	if err != nil {
		return fmt.Errorf("update list position: %w", err)
	}
	return nil
}

// SetListArchived flips the archived flag. Position 0 or below leaves the
// stored position untouched, which is how archival keeps its stale slot.
func (q *Queries) SetListArchived(ctx context.Context, listID, projectID string, archived bool, position int) (List, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE lists
		SET is_archived = $3,
			position = CASE WHEN $4 > 0 THEN $4 ELSE position END,
			updated_at = NOW()
		WHERE id = $1 AND project_id = $2
		RETURNING `+listColumns, listID, projectID, archived, position)
	return scanList(row)
}

func (q *Queries) DeleteList(ctx context.Context, listID, projectID string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM lists WHERE id = $1 AND project_id = $2`, listID, projectID)
	if err != nil {
		return false, fmt.Errorf("delete list: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// --- cards ---

const cardColumns = `id, project_id, list_id, title, description, position, is_archived, due_at, created_by_user_id, created_at, updated_at`

func scanCard(row *sql.Row) (Card, error) {
	var card Card
	err := row.Scan(&card.ID, &card.ProjectID, &card.ListID, &card.Title, &card.Description,
		&card.Position, &card.IsArchived, &card.DueAt, &card.CreatedBy, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return Card{}, err
	}
	return card, nil
}

func (q *Queries) CreateCard(ctx context.Context, card Card) (Card, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO cards (id, project_id, list_id, title, description, position, due_at, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+cardColumns,
		card.ID, card.ProjectID, card.ListID, card.Title, card.Description,
		card.Position, card.DueAt, card.CreatedBy)
	return scanCard(row)
}

func (q *Queries) GetCardInProject(ctx context.Context, cardID, projectID string) (Card, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE id = $1 AND project_id = $2`, cardID, projectID)
	return scanCard(row)
}

func (q *Queries) ListCards(ctx context.Context, listID string, includeArchived bool) ([]Card, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE list_id = $1 AND ($2 OR NOT is_archived)
		ORDER BY is_archived ASC, position ASC, updated_at DESC`, listID, includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()
	return collectCards(rows)
}

// SearchProjectCards filters a project's cards by list, archived state, and a
// case-insensitive title/description match. It backs the database fallback
// when no search index is configured.
func (q *Queries) SearchProjectCards(ctx context.Context, filter CardFilter) ([]Card, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE project_id = $1
			AND ($2 = '' OR list_id = $2)
			AND ($3 OR NOT is_archived)
			AND ($4 = '' OR title ILIKE '%' || $4 || '%' OR description ILIKE '%' || $4 || '%')
		ORDER BY list_id ASC, is_archived ASC, position ASC`,
		filter.ProjectID, filter.ListID, filter.IncludeArchived, filter.Search)
	if err != nil {
		return nil, fmt.Errorf("search cards: %w", err)
	}
	defer rows.Close()
	return collectCards(rows)
}

func collectCards(rows *sql.Rows) ([]Card, error) {
	var cards []Card
	for rows.Next() {
		var card Card
		if err := rows.Scan(&card.ID, &card.ProjectID, &card.ListID, &card.Title, &card.Description,
			&card.Position, &card.IsArchived, &card.DueAt, &card.CreatedBy, &card.CreatedAt, &card.UpdatedAt); err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (q *Queries) UpdateCard(ctx context.Context, cardID, projectID, title string, description *string, dueAt *time.Time) (Card, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE cards SET title = $3, description = $4, due_at = $5, updated_at = NOW()
		WHERE id = $1 AND project_id = $2
		RETURNING `+cardColumns, cardID, projectID, title, description, dueAt)
	return scanCard(row)
}

func (q *Queries) UpdateCardPlacement(ctx context.Context, cardID, projectID, listID string, position int) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE cards SET list_id = $3, position = $4, updated_at = NOW()
		WHERE id = $1 AND project_id = $2`, cardID, projectID, listID, position)
	if err != nil {
		return fmt.Errorf("update card placement: %w", err)
	}
	return nil
}

// SetCardArchived mirrors SetListArchived: position 0 or below keeps the
// stored position.
func (q *Queries) SetCardArchived(ctx context.Context, cardID, projectID string, archived bool, position int) (Card, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE cards
		SET is_archived = $3,
			position = CASE WHEN $4 > 0 THEN $4 ELSE position END,
			updated_at = NOW()
		WHERE id = $1 AND project_id = $2
		RETURNING `+cardColumns, cardID, projectID, archived, position)
	return scanCard(row)
}

func (q *Queries) DeleteCard(ctx context.Context, cardID, projectID string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM cards WHERE id = $1 AND project_id = $2`, cardID, projectID)
	if err != nil {
		return false, fmt.Errorf("delete card: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
