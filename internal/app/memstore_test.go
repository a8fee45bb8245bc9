package app

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"taskboard/api/internal/store"
)

// memStore is an in-memory store.Store plus session backend for service and
// handler tests. WithTx runs the callback against the same state; rollback is
// not simulated, so tests assert on outcomes, not on partial writes.
type memStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	orgs     map[string]store.Organization
	members  map[string]map[string]store.Membership
	invites  map[string]store.Invite
	projects map[string]store.Project
	lists    map[string]store.List
	cards    map[string]store.Card
	sessions map[string]store.RefreshSession
	revoked  map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]store.User),
		orgs:     make(map[string]store.Organization),
		members:  make(map[string]map[string]store.Membership),
		invites:  make(map[string]store.Invite),
		projects: make(map[string]store.Project),
		lists:    make(map[string]store.List),
		cards:    make(map[string]store.Card),
		sessions: make(map[string]store.RefreshSession),
		revoked:  make(map[string]time.Time),
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(m)
}

// --- users ---

func (m *memStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return store.User{}, &pgconn.PgError{Code: "23505"}
		}
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = user
	return user, nil
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

// --- organizations ---

func (m *memStore) CreateOrganization(ctx context.Context, org store.Organization) (store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org.CreatedAt = time.Now()
	m.orgs[org.ID] = org
	return org, nil
}

func (m *memStore) GetOrganization(ctx context.Context, id string) (store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	return org, nil
}

func (m *memStore) UpdateOrganizationName(ctx context.Context, id, name string) (store.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[id]
	if !ok {
		return store.Organization{}, sql.ErrNoRows
	}
	org.Name = name
	m.orgs[id] = org
	return org, nil
}

func (m *memStore) DeleteOrganization(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orgs[id]; !ok {
		return false, nil
	}
	delete(m.orgs, id)
	delete(m.members, id)
	return true, nil
}

func (m *memStore) ListOrganizationsForUser(ctx context.Context, userID string) ([]store.OrganizationWithRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []store.OrganizationWithRole
	for orgID, memberships := range m.members {
		membership, ok := memberships[userID]
		if !ok {
			continue
		}
		result = append(result, store.OrganizationWithRole{
			Organization:   m.orgs[orgID],
			MembershipRole: membership.Role,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// --- members ---

func (m *memStore) AddMember(ctx context.Context, membership store.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[membership.OrganizationID] == nil {
		m.members[membership.OrganizationID] = make(map[string]store.Membership)
	}
	membership.CreatedAt = time.Now()
	m.members[membership.OrganizationID][membership.UserID] = membership
	return nil
}

func (m *memStore) GetMembership(ctx context.Context, organizationID, userID string) (store.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	membership, ok := m.members[organizationID][userID]
	if !ok {
		return store.Membership{}, sql.ErrNoRows
	}
	return membership, nil
}

func (m *memStore) ListMembers(ctx context.Context, organizationID string) ([]store.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []store.Member
	for userID, membership := range m.members[organizationID] {
		user := m.users[userID]
		result = append(result, store.Member{
			OrganizationID: organizationID,
			UserID:         userID,
			Role:           membership.Role,
			Name:           user.Name,
			Email:          user.Email,
			JoinedAt:       membership.CreatedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (m *memStore) RemoveMember(ctx context.Context, organizationID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[organizationID][userID]; !ok {
		return false, nil
	}
	delete(m.members[organizationID], userID)
	return true, nil
}

func (m *memStore) UpdateMemberRole(ctx context.Context, organizationID, userID, role string) (store.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	membership, ok := m.members[organizationID][userID]
	if !ok {
		return store.Membership{}, sql.ErrNoRows
	}
	membership.Role = role
	m.members[organizationID][userID] = membership
	return membership, nil
}

func (m *memStore) CountOwners(ctx context.Context, organizationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, membership := range m.members[organizationID] {
		if membership.Role == store.RoleOwner {
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountMembers(ctx context.Context, organizationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members[organizationID]), nil
}

// --- invites ---

func (m *memStore) CreateInvite(ctx context.Context, invite store.Invite) (store.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invite.Status = store.InvitePending
	invite.CreatedAt = time.Now()
	m.invites[invite.ID] = invite
	return invite, nil
}

func (m *memStore) GetInvite(ctx context.Context, id string) (store.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invite, ok := m.invites[id]
	if !ok {
		return store.Invite{}, sql.ErrNoRows
	}
	return invite, nil
}

func (m *memStore) GetInviteForUpdate(ctx context.Context, id string) (store.Invite, error) {
	return m.GetInvite(ctx, id)
}

func (m *memStore) GetInviteDetails(ctx context.Context, id string) (store.InviteDetails, error) {
	invite, err := m.GetInvite(ctx, id)
	if err != nil {
		return store.InviteDetails{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inviteDetailsLocked(invite), nil
}

func (m *memStore) inviteDetailsLocked(invite store.Invite) store.InviteDetails {
	inviter := m.users[invite.InvitedBy]
	return store.InviteDetails{
		Invite:           invite,
		OrganizationName: m.orgs[invite.OrganizationID].Name,
		InvitedByName:    inviter.Name,
		InvitedByEmail:   inviter.Email,
	}
}

func (m *memStore) SetInviteStatus(ctx context.Context, id, status string) (store.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	invite, ok := m.invites[id]
	if !ok || invite.Status != store.InvitePending {
		return store.Invite{}, sql.ErrNoRows
	}
	invite.Status = status
	if status == store.InviteAccepted {
		now := time.Now()
		invite.AcceptedAt = &now
	}
	m.invites[id] = invite
	return invite, nil
}

func (m *memStore) PruneExpiredInvites(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, invite := range m.invites {
		if invite.Status == store.InvitePending && !invite.ExpiresAt.After(now) {
			invite.Status = store.InviteExpired
			m.invites[id] = invite
		}
	}
	return nil
}

func (m *memStore) ListPendingInvitesByEmail(ctx context.Context, email string) ([]store.InviteDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []store.InviteDetails
	for _, invite := range m.invites {
		if invite.Status == store.InvitePending && invite.Email == email {
			result = append(result, m.inviteDetailsLocked(invite))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// --- projects ---

func (m *memStore) CreateProject(ctx context.Context, project store.Project) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.projects {
		if existing.OrganizationID == project.OrganizationID && existing.Name == project.Name {
			return store.Project{}, &pgconn.PgError{Code: "23505"}
		}
	}
	project.CreatedAt = time.Now()
	project.UpdatedAt = project.CreatedAt
	m.projects[project.ID] = project
	return project, nil
}

func (m *memStore) GetProject(ctx context.Context, id string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (m *memStore) GetProjectInOrganization(ctx context.Context, projectID, organizationID string) (store.Project, error) {
	project, err := m.GetProject(ctx, projectID)
	if err != nil || project.OrganizationID != organizationID {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (m *memStore) ListProjects(ctx context.Context, organizationID string) ([]store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []store.Project
	for _, project := range m.projects {
		if project.OrganizationID == organizationID {
			result = append(result, project)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *memStore) UpdateProjectName(ctx context.Context, projectID, organizationID, name string) (store.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok || project.OrganizationID != organizationID {
		return store.Project{}, sql.ErrNoRows
	}
	for _, existing := range m.projects {
		if existing.ID != projectID && existing.OrganizationID == organizationID && existing.Name == name {
			return store.Project{}, &pgconn.PgError{Code: "23505"}
		}
	}
	project.Name = name
	project.UpdatedAt = time.Now()
	m.projects[projectID] = project
	return project, nil
}

func (m *memStore) DeleteProject(ctx context.Context, projectID, organizationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok || project.OrganizationID != organizationID {
		return false, nil
	}
	delete(m.projects, projectID)
	return true, nil
}

func (m *memStore) GetProjectMembership(ctx context.Context, projectID, userID string) (store.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return store.Membership{}, sql.ErrNoRows
	}
	membership, ok := m.members[project.OrganizationID][userID]
	if !ok {
		return store.Membership{}, sql.ErrNoRows
	}
	return membership, nil
}

// --- lists ---

func (m *memStore) CreateList(ctx context.Context, list store.List) (store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list.CreatedAt = time.Now()
	list.UpdatedAt = list.CreatedAt
	m.lists[list.ID] = list
	return list, nil
}

func (m *memStore) GetList(ctx context.Context, id string) (store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[id]
	if !ok {
		return store.List{}, sql.ErrNoRows
	}
	return list, nil
}

func (m *memStore) GetListInProject(ctx context.Context, listID, projectID string) (store.List, error) {
	list, err := m.GetList(ctx, listID)
	if err != nil || list.ProjectID != projectID {
		return store.List{}, sql.ErrNoRows
	}
	return list, nil
}

func (m *memStore) ListLists(ctx context.Context, projectID string, includeArchived bool) ([]store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []store.List
	for _, list := range m.lists {
		if list.ProjectID != projectID {
			continue
		}
		if list.IsArchived && !includeArchived {
			continue
		}
		result = append(result, list)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].IsArchived != result[j].IsArchived {
			return !result[i].IsArchived
		}
		return result[i].Position < result[j].Position
	})
	return result, nil
}

func (m *memStore) UpdateListName(ctx context.Context, listID, projectID, name string) (store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[listID]
	if !ok || list.ProjectID != projectID {
		return store.List{}, sql.ErrNoRows
	}
	list.Name = name
	list.UpdatedAt = time.Now()
	m.lists[listID] = list
	return list, nil
}

func (m *memStore) UpdateListPosition(ctx context.Context, listID, projectID string, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[listID]
	if !ok || list.ProjectID != projectID {
		return nil
	}
	list.Position = position
	m.lists[listID] = list
	return nil
}

func (m *memStore) SetListArchived(ctx context.Context, listID, projectID string, archived bool, position int) (store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[listID]
	if !ok || list.ProjectID != projectID {
		return store.List{}, sql.ErrNoRows
	}
	list.IsArchived = archived
	if position > 0 {
		list.Position = position
	}
	list.UpdatedAt = time.Now()
	m.lists[listID] = list
	return list, nil
}

func (m *memStore) DeleteList(ctx context.Context, listID, projectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[listID]
	if !ok || list.ProjectID != projectID {
		return false, nil
	}
	delete(m.lists, listID)
	for cardID, card := range m.cards {
		if card.ListID == listID {
			delete(m.cards, cardID)
		}
	}
	return true, nil
}

// --- cards ---

func (m *memStore) CreateCard(ctx context.Context, card store.Card) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card.CreatedAt = time.Now()
	card.UpdatedAt = card.CreatedAt
	m.cards[card.ID] = card
	return card, nil
}

func (m *memStore) GetCardInProject(ctx context.Context, cardID, projectID string) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok || card.ProjectID != projectID {
		return store.Card{}, sql.ErrNoRows
	}
	return card, nil
}

func (m *memStore) ListCards(ctx context.Context, listID string, includeArchived bool) ([]store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []store.Card
	for _, card := range m.cards {
		if card.ListID != listID {
			continue
		}
		if card.IsArchived && !includeArchived {
			continue
		}
		result = append(result, card)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].IsArchived != result[j].IsArchived {
			return !result[i].IsArchived
		}
		return result[i].Position < result[j].Position
	})
	return result, nil
}

func (m *memStore) SearchProjectCards(ctx context.Context, filter store.CardFilter) ([]store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	needle := strings.ToLower(filter.Search)
	var result []store.Card
	for _, card := range m.cards {
		if card.ProjectID != filter.ProjectID {
			continue
		}
		if filter.ListID != "" && card.ListID != filter.ListID {
			continue
		}
		if card.IsArchived && !filter.IncludeArchived {
			continue
		}
		if needle != "" {
			haystack := strings.ToLower(card.Title)
			if card.Description != nil {
				haystack += " " + strings.ToLower(*card.Description)
			}
			if !strings.Contains(haystack, needle) {
				continue
			}
		}
		result = append(result, card)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *memStore) UpdateCard(ctx context.Context, cardID, projectID, title string, description *string, dueAt *time.Time) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok || card.ProjectID != projectID {
		return store.Card{}, sql.ErrNoRows
	}
	card.Title = title
	card.Description = description
	card.DueAt = dueAt
	card.UpdatedAt = time.Now()
	m.cards[cardID] = card
	return card, nil
}

func (m *memStore) UpdateCardPlacement(ctx context.Context, cardID, projectID, listID string, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok || card.ProjectID != projectID {
		return nil
	}
	card.ListID = listID
	card.Position = position
	m.cards[cardID] = card
	return nil
}

func (m *memStore) SetCardArchived(ctx context.Context, cardID, projectID string, archived bool, position int) (store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok || card.ProjectID != projectID {
		return store.Card{}, sql.ErrNoRows
	}
	card.IsArchived = archived
	if position > 0 {
		card.Position = position
	}
	card.UpdatedAt = time.Now()
	m.cards[cardID] = card
	return card, nil
}

func (m *memStore) DeleteCard(ctx context.Context, cardID, projectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card, ok := m.cards[cardID]
	if !ok || card.ProjectID != projectID {
		return false, nil
	}
	delete(m.cards, cardID)
	return true, nil
}

// --- sessions ---

func (m *memStore) CreateSession(ctx context.Context, session store.RefreshSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session.CreatedAt = time.Now()
	m.sessions[session.ID] = session
	return nil
}

func (m *memStore) FindActiveSession(ctx context.Context, sessionID string) (store.RefreshSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok || !session.ExpiresAt.After(time.Now()) {
		return store.RefreshSession{}, sql.ErrNoRows
	}
	return session, nil
}

func (m *memStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *memStore) DeleteUserSessions(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		if session.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memStore) PruneExpiredSessions(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, session := range m.sessions {
		if !session.ExpiresAt.After(now) {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memStore) RecordRevokedAccessToken(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.revoked[jti]; !ok {
		m.revoked[jti] = expiresAt
	}
	return nil
}

func (m *memStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

func (m *memStore) PruneExpiredRevokedAccessTokens(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for jti, expiresAt := range m.revoked {
		if !expiresAt.After(now) {
			delete(m.revoked, jti)
		}
	}
	return nil
}
