package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskboard/api/internal/email"
	"taskboard/api/internal/store"
)

// --- membership resolution ---

// requireOrganizationMembership distinguishes a missing organization (404)
// from a caller outside it (403).
func (s *Service) requireOrganizationMembership(ctx context.Context, organizationID, userID string) (store.Membership, error) {
	membership, err := s.store.GetMembership(ctx, organizationID, userID)
	if err == nil {
		return membership, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Membership{}, err
	}
	if _, err := s.store.GetOrganization(ctx, organizationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Membership{}, errNotFound("Organization not found")
		}
		return store.Membership{}, err
	}
	return store.Membership{}, errForbidden("You are not a member of this organization")
}

func (s *Service) requireOrganizationOwner(ctx context.Context, organizationID, userID string) (store.Membership, error) {
	membership, err := s.requireOrganizationMembership(ctx, organizationID, userID)
	if err != nil {
		return store.Membership{}, err
	}
	if membership.Role != store.RoleOwner {
		return store.Membership{}, errForbidden("Owner role required")
	}
	return membership, nil
}

// requireProjectMembership resolves the caller's role in the project's
// organization in one query, then disambiguates the failure.
func (s *Service) requireProjectMembership(ctx context.Context, projectID, userID string) (store.Membership, error) {
	membership, err := s.store.GetProjectMembership(ctx, projectID, userID)
	if err == nil {
		return membership, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Membership{}, err
	}
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Membership{}, errNotFound("Project not found")
		}
		return store.Membership{}, err
	}
	return store.Membership{}, errForbidden("You are not a member of this project's organization")
}

func (s *Service) requireProjectOwner(ctx context.Context, projectID, userID string) (store.Membership, error) {
	membership, err := s.requireProjectMembership(ctx, projectID, userID)
	if err != nil {
		return store.Membership{}, err
	}
	if membership.Role != store.RoleOwner {
		return store.Membership{}, errForbidden("Owner role required")
	}
	return membership, nil
}

// --- organizations ---

func (s *Service) CreateOrganization(ctx context.Context, userID, name string) (store.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Organization{}, errValidation("name is required", nil)
	}

	var created store.Organization
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		org, err := tx.CreateOrganization(ctx, store.Organization{
			ID:        uuid.NewString(),
			Name:      name,
			CreatedBy: userID,
		})
		if err != nil {
			return err
		}
		if err := tx.AddMember(ctx, store.Membership{
			OrganizationID: org.ID,
			UserID:         userID,
			Role:           store.RoleOwner,
		}); err != nil {
			return err
		}
		created = org
		return nil
	})
	if err != nil {
		return store.Organization{}, err
	}
	return created, nil
}

func (s *Service) ListOrganizations(ctx context.Context, userID string) ([]store.OrganizationWithRole, error) {
	return s.store.ListOrganizationsForUser(ctx, userID)
}

func (s *Service) RenameOrganization(ctx context.Context, organizationID, userID, name string) (store.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Organization{}, errValidation("name is required", nil)
	}
	if _, err := s.requireOrganizationOwner(ctx, organizationID, userID); err != nil {
		return store.Organization{}, err
	}
	org, err := s.store.UpdateOrganizationName(ctx, organizationID, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Organization{}, errNotFound("Organization not found")
		}
		return store.Organization{}, err
	}
	return org, nil
}

func (s *Service) DeleteOrganization(ctx context.Context, organizationID, userID string) error {
	if _, err := s.requireOrganizationOwner(ctx, organizationID, userID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteOrganization(ctx, organizationID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("Organization not found")
	}
	return nil
}

// LeaveOrganization removes the caller's own membership. The last owner may
// not leave: with other members around the organization would be orphaned,
// and a sole owner-member should delete the organization instead.
func (s *Service) LeaveOrganization(ctx context.Context, organizationID, userID string) error {
	membership, err := s.requireOrganizationMembership(ctx, organizationID, userID)
	if err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(tx store.Store) error {
		if membership.Role == store.RoleOwner {
			owners, err := tx.CountOwners(ctx, organizationID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return errConflict("LAST_OWNER", "The last owner cannot leave the organization", nil)
			}
		}
		removed, err := tx.RemoveMember(ctx, organizationID, userID)
		if err != nil {
			return err
		}
		if !removed {
			return errNotFound("Membership not found")
		}
		return nil
	})
}

// --- members ---

func (s *Service) ListMembers(ctx context.Context, organizationID, userID string) ([]store.Member, error) {
	if _, err := s.requireOrganizationMembership(ctx, organizationID, userID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, organizationID)
}

func (s *Service) RemoveMember(ctx context.Context, organizationID, callerID, targetUserID string) error {
	if _, err := s.requireOrganizationOwner(ctx, organizationID, callerID); err != nil {
		return err
	}
	if targetUserID == callerID {
		return errValidation("use leave to remove yourself", nil)
	}

	return s.store.WithTx(ctx, func(tx store.Store) error {
		target, err := tx.GetMembership(ctx, organizationID, targetUserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("Member not found")
			}
			return err
		}
		if target.Role == store.RoleOwner {
			owners, err := tx.CountOwners(ctx, organizationID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return errConflict("LAST_OWNER", "The last owner cannot be removed", nil)
			}
		}
		if _, err := tx.RemoveMember(ctx, organizationID, targetUserID); err != nil {
			return err
		}
		return nil
	})
}

func (s *Service) ChangeMemberRole(ctx context.Context, organizationID, callerID, targetUserID, role string) (store.Membership, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != store.RoleOwner && role != store.RoleMember {
		return store.Membership{}, errValidation("role must be owner or member", nil)
	}
	if _, err := s.requireOrganizationOwner(ctx, organizationID, callerID); err != nil {
		return store.Membership{}, err
	}

	var updated store.Membership
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		target, err := tx.GetMembership(ctx, organizationID, targetUserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("Member not found")
			}
			return err
		}
		if target.Role == role {
			return errConflict("ROLE_UNCHANGED", "Member already has this role", nil)
		}
		if target.Role == store.RoleOwner && role == store.RoleMember {
			owners, err := tx.CountOwners(ctx, organizationID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return errConflict("LAST_OWNER", "The last owner cannot be demoted", nil)
			}
		}
		updated, err = tx.UpdateMemberRole(ctx, organizationID, targetUserID, role)
		return err
	})
	if err != nil {
		return store.Membership{}, err
	}
	return updated, nil
}

// --- invites ---

// InviteOutcome is returned from invite creation. DevToken carries the signed
// invite token when no mail transport is configured, so development setups
// can complete the flow without SMTP.
type InviteOutcome struct {
	Invite   store.Invite
	DevToken string
}

func (s *Service) CreateInvite(ctx context.Context, organizationID, inviterID, inviteeEmail string) (InviteOutcome, error) {
	inviteeEmail = normalizeEmail(inviteeEmail)
	if !validEmail(inviteeEmail) {
		return InviteOutcome{}, errValidation("a valid email is required", nil)
	}
	if _, err := s.requireOrganizationOwner(ctx, organizationID, inviterID); err != nil {
		return InviteOutcome{}, err
	}

	inviter, err := s.store.GetUserByID(ctx, inviterID)
	if err != nil {
		return InviteOutcome{}, err
	}
	if inviter.Email == inviteeEmail {
		return InviteOutcome{}, errValidation("you cannot invite yourself", nil)
	}

	// Existing users who already belong to the organization get a conflict,
	// not a dangling invite.
	if invitee, err := s.store.GetUserByEmail(ctx, inviteeEmail); err == nil {
		if _, err := s.store.GetMembership(ctx, organizationID, invitee.ID); err == nil {
			return InviteOutcome{}, errConflict("ALREADY_MEMBER", "This user is already a member", nil)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return InviteOutcome{}, err
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return InviteOutcome{}, err
	}

	_ = s.store.PruneExpiredInvites(ctx)

	pending, err := s.store.ListPendingInvitesByEmail(ctx, inviteeEmail)
	if err != nil {
		return InviteOutcome{}, err
	}
	for _, existing := range pending {
		if existing.OrganizationID == organizationID {
			return InviteOutcome{}, errConflict("INVITE_PENDING", "An invite for this email is already pending", nil)
		}
	}

	invite, err := s.store.CreateInvite(ctx, store.Invite{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Email:          inviteeEmail,
		InvitedBy:      inviterID,
		ExpiresAt:      time.Now().Add(s.cfg.InviteTTL),
	})
	if err != nil {
		return InviteOutcome{}, err
	}

	token, err := s.tokens.SignInvite(invite.ID, inviteeEmail)
	if err != nil {
		return InviteOutcome{}, err
	}

	if s.mailer == nil || !s.mailer.IsConfigured() {
		log.Printf("invite %s created without mail transport, returning dev token", invite.ID)
		return InviteOutcome{Invite: invite, DevToken: token}, nil
	}

	org, err := s.store.GetOrganization(ctx, organizationID)
	if err != nil {
		return InviteOutcome{}, err
	}
	sendErr := s.mailer.SendOrganizationInvite(inviteeEmail, email.InviteData{
		OrganizationName: org.Name,
		InviterName:      inviter.Name,
		AcceptURL:        email.InviteLink(s.cfg.InvitePageURL, token),
		ExpiresInDays:    int(s.cfg.InviteTTL.Hours() / 24),
	})
	if sendErr != nil {
		// A pending invite nobody received is a trap; revoke it and fail loudly.
		if _, err := s.store.SetInviteStatus(ctx, invite.ID, store.InviteRevoked); err != nil {
			log.Printf("revoke invite %s after send failure: %v", invite.ID, err)
		}
		log.Printf("send invite %s: %v", invite.ID, sendErr)
		return InviteOutcome{}, errInternal("Could not send the invitation email")
	}

	return InviteOutcome{Invite: invite}, nil
}

func (s *Service) RevokeInvite(ctx context.Context, organizationID, callerID, inviteID string) (store.Invite, error) {
	if _, err := s.requireOrganizationOwner(ctx, organizationID, callerID); err != nil {
		return store.Invite{}, err
	}

	invite, err := s.store.GetInvite(ctx, inviteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Invite{}, errNotFound("Invite not found")
		}
		return store.Invite{}, err
	}
	if invite.OrganizationID != organizationID {
		return store.Invite{}, errNotFound("Invite not found")
	}
	if invite.Status != store.InvitePending {
		return store.Invite{}, errConflict("INVITE_NOT_PENDING", "Only pending invites can be revoked", nil)
	}

	revoked, err := s.store.SetInviteStatus(ctx, inviteID, store.InviteRevoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Invite{}, errConflict("INVITE_NOT_PENDING", "Only pending invites can be revoked", nil)
		}
		return store.Invite{}, err
	}
	return revoked, nil
}

func (s *Service) ListPendingInvites(ctx context.Context, identity Identity) ([]store.InviteDetails, error) {
	_ = s.store.PruneExpiredInvites(ctx)
	return s.store.ListPendingInvitesByEmail(ctx, identity.Email)
}

// ResolveInviteToken validates a signed invite token and returns the invite
// for display on the acceptance page. Expiry is applied lazily here.
func (s *Service) ResolveInviteToken(ctx context.Context, token string) (store.InviteDetails, error) {
	claims, err := s.tokens.VerifyInvite(token)
	if err != nil {
		return store.InviteDetails{}, errNotFound("Invite not found")
	}

	details, err := s.store.GetInviteDetails(ctx, claims.InviteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.InviteDetails{}, errNotFound("Invite not found")
		}
		return store.InviteDetails{}, err
	}

	switch details.Status {
	case store.InvitePending:
		if !details.ExpiresAt.After(time.Now()) {
			if _, err := s.store.SetInviteStatus(ctx, details.ID, store.InviteExpired); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return store.InviteDetails{}, err
			}
			return store.InviteDetails{}, errGone("This invitation has expired")
		}
		return details, nil
	case store.InviteExpired:
		return store.InviteDetails{}, errGone("This invitation has expired")
	case store.InviteAccepted:
		return store.InviteDetails{}, errConflict("INVITE_ACCEPTED", "This invitation was already accepted", nil)
	default:
		return store.InviteDetails{}, errNotFound("Invite not found")
	}
}

// AcceptInviteToken verifies the signed token, checks it is addressed to the
// caller, and accepts.
func (s *Service) AcceptInviteToken(ctx context.Context, identity Identity, token string) (store.Membership, error) {
	claims, err := s.tokens.VerifyInvite(token)
	if err != nil {
		return store.Membership{}, errNotFound("Invite not found")
	}
	if claims.Email != identity.Email {
		return store.Membership{}, errForbidden("This invitation was issued for a different email")
	}
	return s.AcceptInvite(ctx, identity, claims.InviteID)
}

// AcceptInvite transitions a pending invite to accepted exactly once. The
// row is locked for the duration of the transaction so two concurrent
// accepts serialize and the loser sees a non-pending invite.
func (s *Service) AcceptInvite(ctx context.Context, identity Identity, inviteID string) (store.Membership, error) {
	var membership store.Membership
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		invite, err := tx.GetInviteForUpdate(ctx, inviteID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errNotFound("Invite not found")
			}
			return err
		}
		if invite.Email != identity.Email {
			return errForbidden("This invitation was issued for a different email")
		}
		switch invite.Status {
		case store.InvitePending:
		case store.InviteExpired:
			return errGone("This invitation has expired")
		case store.InviteAccepted:
			return errConflict("INVITE_ACCEPTED", "This invitation was already accepted", nil)
		default:
			return errNotFound("Invite not found")
		}
		if !invite.ExpiresAt.After(time.Now()) {
			if _, err := tx.SetInviteStatus(ctx, invite.ID, store.InviteExpired); err != nil {
				return err
			}
			return errGone("This invitation has expired")
		}

		membership, err = tx.GetMembership(ctx, invite.OrganizationID, identity.UserID)
		if err == nil {
			// Already a member: the invite is consumed, membership untouched.
			_, err = tx.SetInviteStatus(ctx, invite.ID, store.InviteAccepted)
			return err
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		membership = store.Membership{
			OrganizationID: invite.OrganizationID,
			UserID:         identity.UserID,
			Role:           store.RoleMember,
		}
		if err := tx.AddMember(ctx, membership); err != nil {
			return err
		}
		_, err = tx.SetInviteStatus(ctx, invite.ID, store.InviteAccepted)
		return err
	})
	if err != nil {
		return store.Membership{}, err
	}
	return membership, nil
}

// --- projects ---

func (s *Service) CreateProject(ctx context.Context, organizationID, userID, name string) (store.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Project{}, errValidation("name is required", nil)
	}
	if _, err := s.requireOrganizationOwner(ctx, organizationID, userID); err != nil {
		return store.Project{}, err
	}

	project, err := s.store.CreateProject(ctx, store.Project{
		ID:             uuid.NewString(),
		OrganizationID: organizationID,
		Name:           name,
		CreatedBy:      userID,
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return store.Project{}, errConflict("PROJECT_NAME_IN_USE", "A project with this name already exists", nil)
		}
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, organizationID, userID string) ([]store.Project, error) {
	if _, err := s.requireOrganizationMembership(ctx, organizationID, userID); err != nil {
		return nil, err
	}
	return s.store.ListProjects(ctx, organizationID)
}

func (s *Service) GetProject(ctx context.Context, organizationID, projectID, userID string) (store.Project, error) {
	if _, err := s.requireOrganizationMembership(ctx, organizationID, userID); err != nil {
		return store.Project{}, err
	}
	project, err := s.store.GetProjectInOrganization(ctx, projectID, organizationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Project{}, errNotFound("Project not found")
		}
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) RenameProject(ctx context.Context, organizationID, projectID, userID, name string) (store.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Project{}, errValidation("name is required", nil)
	}
	if _, err := s.requireOrganizationOwner(ctx, organizationID, userID); err != nil {
		return store.Project{}, err
	}
	project, err := s.store.UpdateProjectName(ctx, projectID, organizationID, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Project{}, errNotFound("Project not found")
		}
		if store.IsUniqueViolation(err) {
			return store.Project{}, errConflict("PROJECT_NAME_IN_USE", "A project with this name already exists", nil)
		}
		return store.Project{}, err
	}
	return project, nil
}

func (s *Service) DeleteProject(ctx context.Context, organizationID, projectID, userID string) error {
	if _, err := s.requireOrganizationOwner(ctx, organizationID, userID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteProject(ctx, projectID, organizationID)
	if err != nil {
		return err
	}
	if !deleted {
		return errNotFound("Project not found")
	}
	return nil
}
