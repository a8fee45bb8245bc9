package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store is the query surface shared by the root store and a transaction
// scope. Every method is safe to call either directly (auto-commit) or on the
// executor handed to a WithTx callback, in which case all reads observe the
// transaction's own writes.
type Store interface {
	CreateUser(ctx context.Context, user User) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)

	CreateOrganization(ctx context.Context, org Organization) (Organization, error)
	GetOrganization(ctx context.Context, id string) (Organization, error)
	UpdateOrganizationName(ctx context.Context, id, name string) (Organization, error)
	DeleteOrganization(ctx context.Context, id string) (bool, error)
	ListOrganizationsForUser(ctx context.Context, userID string) ([]OrganizationWithRole, error)

	AddMember(ctx context.Context, membership Membership) error
	GetMembership(ctx context.Context, organizationID, userID string) (Membership, error)
	ListMembers(ctx context.Context, organizationID string) ([]Member, error)
	RemoveMember(ctx context.Context, organizationID, userID string) (bool, error)
	UpdateMemberRole(ctx context.Context, organizationID, userID, role string) (Membership, error)
	CountOwners(ctx context.Context, organizationID string) (int, error)
	CountMembers(ctx context.Context, organizationID string) (int, error)

	CreateInvite(ctx context.Context, invite Invite) (Invite, error)
	GetInvite(ctx context.Context, id string) (Invite, error)
	GetInviteForUpdate(ctx context.Context, id string) (Invite, error)
	GetInviteDetails(ctx context.Context, id string) (InviteDetails, error)
	SetInviteStatus(ctx context.Context, id, status string) (Invite, error)
	PruneExpiredInvites(ctx context.Context) error
	ListPendingInvitesByEmail(ctx context.Context, email string) ([]InviteDetails, error)

	CreateProject(ctx context.Context, project Project) (Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	GetProjectInOrganization(ctx context.Context, projectID, organizationID string) (Project, error)
	ListProjects(ctx context.Context, organizationID string) ([]Project, error)
	UpdateProjectName(ctx context.Context, projectID, organizationID, name string) (Project, error)
	DeleteProject(ctx context.Context, projectID, organizationID string) (bool, error)
	GetProjectMembership(ctx context.Context, projectID, userID string) (Membership, error)

	CreateList(ctx context.Context, list List) (List, error)
	GetList(ctx context.Context, id string) (List, error)
	GetListInProject(ctx context.Context, listID, projectID string) (List, error)
	ListLists(ctx context.Context, projectID string, includeArchived bool) ([]List, error)
	UpdateListName(ctx context.Context, listID, projectID, name string) (List, error)
	UpdateListPosition(ctx context.Context, listID, projectID string, position int) error
	SetListArchived(ctx context.Context, listID, projectID string, archived bool, position int) (List, error)
	DeleteList(ctx context.Context, listID, projectID string) (bool, error)

	CreateCard(ctx context.Context, card Card) (Card, error)
	GetCardInProject(ctx context.Context, cardID, projectID string) (Card, error)
	ListCards(ctx context.Context, listID string, includeArchived bool) ([]Card, error)
	SearchProjectCards(ctx context.Context, filter CardFilter) ([]Card, error)
	UpdateCard(ctx context.Context, cardID, projectID, title string, description *string, dueAt *time.Time) (Card, error)
	UpdateCardPlacement(ctx context.Context, cardID, projectID, listID string, position int) error
	SetCardArchived(ctx context.Context, cardID, projectID string, archived bool, position int) (Card, error)
	DeleteCard(ctx context.Context, cardID, projectID string) (bool, error)
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries implements Store against either *sql.DB or *sql.Tx.
type Queries struct {
	db dbtx
}

type PostgresStore struct {
	Queries
	sqlDB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{Queries: Queries{db: db}, sqlDB: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.sqlDB
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// WithTx runs fn inside a single transaction. The executor passed to fn reads
// its own writes; any error rolls the whole transaction back.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Queries{db: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const userColumns = `id, name, email, password_hash, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (q *Queries) CreateUser(ctx context.Context, user User) (User, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, LOWER($3), $4)
		RETURNING `+userColumns,
		user.ID, user.Name, user.Email, user.PasswordHash)
	return scanUser(row)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, email)
	return scanUser(row)
}

func (q *Queries) GetUserByID(ctx context.Context, id string) (User, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// --- refresh sessions and the revoked access token denylist ---

func (q *Queries) CreateSession(ctx context.Context, session RefreshSession) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)`,
		session.ID, session.UserID, session.TokenHash, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (q *Queries) FindActiveSession(ctx context.Context, sessionID string) (RefreshSession, error) {
	var session RefreshSession
	err := q.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at
		FROM refresh_sessions
		WHERE id = $1 AND expires_at > NOW()`, sessionID).
		Scan(&session.ID, &session.UserID, &session.TokenHash, &session.ExpiresAt, &session.CreatedAt)
	if err != nil {
		return RefreshSession{}, err
	}
	return session, nil
}

func (q *Queries) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (q *Queries) DeleteUserSessions(ctx context.Context, userID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

func (q *Queries) PruneExpiredSessions(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE expires_at <= NOW()`); err != nil {
		return fmt.Errorf("prune sessions: %w", err)
	}
	return nil
}

func (q *Queries) RecordRevokedAccessToken(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	// Idempotent: re-revoking the same jti is a no-op.
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO NOTHING`,
		jti, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (q *Queries) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var one int
	err := q.db.QueryRowContext(ctx, `
		SELECT 1 FROM revoked_access_tokens
		WHERE jti = $1 AND expires_at > NOW()`, jti).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return true, nil
}

func (q *Queries) PruneExpiredRevokedAccessTokens(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM revoked_access_tokens WHERE expires_at <= NOW()`); err != nil {
		return fmt.Errorf("prune revoked tokens: %w", err)
	}
	return nil
}

// --- organizations and membership ---

func (q *Queries) CreateOrganization(ctx context.Context, org Organization) (Organization, error) {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO organizations (id, name, created_by_user_id)
		VALUES ($1, $2, $3)
		RETURNING id, name, created_by_user_id, created_at`,
		org.ID, org.Name, org.CreatedBy).
		Scan(&org.ID, &org.Name, &org.CreatedBy, &org.CreatedAt)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (q *Queries) GetOrganization(ctx context.Context, id string) (Organization, error) {
	var org Organization
	err := q.db.QueryRowContext(ctx, `
		SELECT id, name, created_by_user_id, created_at
		FROM organizations WHERE id = $1`, id).
		Scan(&org.ID, &org.Name, &org.CreatedBy, &org.CreatedAt)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (q *Queries) UpdateOrganizationName(ctx context.Context, id, name string) (Organization, error) {
	var org Organization
	err := q.db.QueryRowContext(ctx, `
		UPDATE organizations SET name = $2
		WHERE id = $1
		RETURNING id, name, created_by_user_id, created_at`, id, name).
		Scan(&org.ID, &org.Name, &org.CreatedBy, &org.CreatedAt)
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (q *Queries) DeleteOrganization(ctx context.Context, id string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete organization: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (q *Queries) ListOrganizationsForUser(ctx context.Context, userID string) ([]OrganizationWithRole, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT o.id, o.name, o.created_by_user_id, o.created_at, m.role
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var items []OrganizationWithRole
	for rows.Next() {
		var item OrganizationWithRole
		if err := rows.Scan(&item.ID, &item.Name, &item.CreatedBy, &item.CreatedAt, &item.MembershipRole); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (q *Queries) AddMember(ctx context.Context, membership Membership) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO organization_members (organization_id, user_id, role)
		VALUES ($1, $2, $3)`,
		membership.OrganizationID, membership.UserID, membership.Role)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (q *Queries) GetMembership(ctx context.Context, organizationID, userID string) (Membership, error) {
	var membership Membership
	err := q.db.QueryRowContext(ctx, `
		SELECT organization_id, user_id, role, created_at
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2`, organizationID, userID).
		Scan(&membership.OrganizationID, &membership.UserID, &membership.Role, &membership.CreatedAt)
	if err != nil {
		return Membership{}, err
	}
	return membership, nil
}

func (q *Queries) ListMembers(ctx context.Context, organizationID string) ([]Member, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT m.organization_id, m.user_id, m.role, u.name, u.email, m.created_at
		FROM organization_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.created_at ASC`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var member Member
		if err := rows.Scan(&member.OrganizationID, &member.UserID, &member.Role, &member.Name, &member.Email, &member.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (q *Queries) RemoveMember(ctx context.Context, organizationID, userID string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM organization_members
		WHERE organization_id = $1 AND user_id = $2`, organizationID, userID)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (q *Queries) UpdateMemberRole(ctx context.Context, organizationID, userID, role string) (Membership, error) {
	var membership Membership
	err := q.db.QueryRowContext(ctx, `
		UPDATE organization_members SET role = $3
		WHERE organization_id = $1 AND user_id = $2
		RETURNING organization_id, user_id, role, created_at`,
		organizationID, userID, role).
		Scan(&membership.OrganizationID, &membership.UserID, &membership.Role, &membership.CreatedAt)
	if err != nil {
		return Membership{}, err
	}
	return membership, nil
}

func (q *Queries) CountOwners(ctx context.Context, organizationID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM organization_members
		WHERE organization_id = $1 AND role = 'owner'`, organizationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count owners: %w", err)
	}
	return count, nil
}

func (q *Queries) CountMembers(ctx context.Context, organizationID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM organization_members
		WHERE organization_id = $1`, organizationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return count, nil
}

// --- invites ---

const inviteColumns = `id, organization_id, email, invited_by_user_id, status, expires_at, created_at, accepted_at`

func scanInvite(row *sql.Row) (Invite, error) {
	var invite Invite
	err := row.Scan(&invite.ID, &invite.OrganizationID, &invite.Email, &invite.InvitedBy,
		&invite.Status, &invite.ExpiresAt, &invite.CreatedAt, &invite.AcceptedAt)
	if err != nil {
		return Invite{}, err
	}
	return invite, nil
}

func (q *Queries) CreateInvite(ctx context.Context, invite Invite) (Invite, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO organization_invites (id, organization_id, email, invited_by_user_id, status, expires_at)
		VALUES ($1, $2, LOWER($3), $4, 'pending', $5)
		RETURNING `+inviteColumns,
		invite.ID, invite.OrganizationID, invite.Email, invite.InvitedBy, invite.ExpiresAt)
	return scanInvite(row)
}

func (q *Queries) GetInvite(ctx context.Context, id string) (Invite, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+inviteColumns+` FROM organization_invites WHERE id = $1`, id)
	return scanInvite(row)
}

// GetInviteForUpdate locks the invite row so concurrent accepts serialize.
func (q *Queries) GetInviteForUpdate(ctx context.Context, id string) (Invite, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+inviteColumns+` FROM organization_invites WHERE id = $1 FOR UPDATE`, id)
	return scanInvite(row)
}

func (q *Queries) GetInviteDetails(ctx context.Context, id string) (InviteDetails, error) {
	var details InviteDetails
	err := q.db.QueryRowContext(ctx, `
		SELECT i.id, i.organization_id, i.email, i.invited_by_user_id, i.status,
			i.expires_at, i.created_at, i.accepted_at, o.name, u.name, u.email
		FROM organization_invites i
		JOIN organizations o ON o.id = i.organization_id
		JOIN users u ON u.id = i.invited_by_user_id
		WHERE i.id = $1`, id).
		Scan(&details.ID, &details.OrganizationID, &details.Email, &details.InvitedBy,
			&details.Status, &details.ExpiresAt, &details.CreatedAt, &details.AcceptedAt,
			&details.OrganizationName, &details.InvitedByName, &details.InvitedByEmail)
	if err != nil {
		return InviteDetails{}, err
	}
	return details, nil
}

// SetInviteStatus transitions a pending invite. The WHERE clause makes the
// transition single-shot: a second transition returns sql.ErrNoRows.
func (q *Queries) SetInviteStatus(ctx context.Context, id, status string) (Invite, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE organization_invites
		SET status = $2,
			accepted_at = CASE WHEN $2 = 'accepted' THEN NOW() ELSE accepted_at END
		WHERE id = $1 AND status = 'pending'
		RETURNING `+inviteColumns, id, status)
	return scanInvite(row)
}

func (q *Queries) PruneExpiredInvites(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE organization_invites SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= NOW()`)
	if err != nil {
		return fmt.Errorf("prune invites: %w", err)
	}
	return nil
}

func (q *Queries) ListPendingInvitesByEmail(ctx context.Context, email string) ([]InviteDetails, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT i.id, i.organization_id, i.email, i.invited_by_user_id, i.status,
			i.expires_at, i.created_at, i.accepted_at, o.name, u.name, u.email
		FROM organization_invites i
		JOIN organizations o ON o.id = i.organization_id
		JOIN users u ON u.id = i.invited_by_user_id
		WHERE i.email = LOWER($1) AND i.status = 'pending' AND i.expires_at > NOW()
		ORDER BY i.created_at DESC`, email)
	if err != nil {
		return nil, fmt.Errorf("list pending invites: %w", err)
	}
	defer rows.Close()

	var invites []InviteDetails
	for rows.Next() {
		var details InviteDetails
		if err := rows.Scan(&details.ID, &details.OrganizationID, &details.Email, &details.InvitedBy,
			&details.Status, &details.ExpiresAt, &details.CreatedAt, &details.AcceptedAt,
			&details.OrganizationName, &details.InvitedByName, &details.InvitedByEmail); err != nil {
			return nil, err
		}
		invites = append(invites, details)
	}
	return invites, rows.Err()
}
