package app

import (
	"context"
	"testing"
	"time"

	"taskboard/api/internal/store"
)

type orgFixture struct {
	service *Service
	mem     *memStore
	owner   Identity
	org     store.Organization
}

func newOrgFixture(t *testing.T) orgFixture {
	t.Helper()
	service, mem := newTestService(t)
	ctx := context.Background()

	result := register(t, service, "Owner", "owner@example.com")
	identity, err := service.IdentityFromToken(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	org, err := service.CreateOrganization(ctx, identity.UserID, "Acme")
	if err != nil {
		t.Fatalf("create organization: %v", err)
	}
	return orgFixture{service: service, mem: mem, owner: identity, org: org}
}

// addMember registers a user and joins them to the fixture organization with
// the given role, bypassing the invite flow.
func (f orgFixture) addMember(t *testing.T, email, role string) Identity {
	t.Helper()
	ctx := context.Background()
	result := register(t, f.service, email, email)
	identity, err := f.service.IdentityFromToken(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if err := f.mem.AddMember(ctx, store.Membership{
		OrganizationID: f.org.ID,
		UserID:         identity.UserID,
		Role:           role,
	}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	return identity
}

func TestCreateOrganizationMakesCallerOwner(t *testing.T) {
	f := newOrgFixture(t)

	membership, err := f.service.requireOrganizationMembership(context.Background(), f.org.ID, f.owner.UserID)
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if membership.Role != store.RoleOwner {
		t.Fatalf("expected owner role, got %s", membership.Role)
	}
}

func TestMembershipResolutionDistinguishes404From403(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	outsider := f.addMember(t, "outsider@example.com", store.RoleMember)
	// Strip the membership again so they are a registered non-member.
	if _, err := f.mem.RemoveMember(ctx, f.org.ID, outsider.UserID); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	_, err := f.service.requireOrganizationMembership(ctx, "missing-org", outsider.UserID)
	wantDomainError(t, err, 404, "NOT_FOUND")

	_, err = f.service.requireOrganizationMembership(ctx, f.org.ID, outsider.UserID)
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestLastOwnerCannotLeaveUntilPromotion(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	member := f.addMember(t, "member@example.com", store.RoleMember)

	err := f.service.LeaveOrganization(ctx, f.org.ID, f.owner.UserID)
	wantDomainError(t, err, 409, "LAST_OWNER")

	if _, err := f.service.ChangeMemberRole(ctx, f.org.ID, f.owner.UserID, member.UserID, store.RoleOwner); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := f.service.LeaveOrganization(ctx, f.org.ID, f.owner.UserID); err != nil {
		t.Fatalf("leave after promotion: %v", err)
	}
}

func TestRemoveMemberRules(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	member := f.addMember(t, "member@example.com", store.RoleMember)

	err := f.service.RemoveMember(ctx, f.org.ID, f.owner.UserID, f.owner.UserID)
	wantDomainError(t, err, 400, "VALIDATION_ERROR")

	err = f.service.RemoveMember(ctx, f.org.ID, f.owner.UserID, "nobody")
	wantDomainError(t, err, 404, "NOT_FOUND")

	err = f.service.RemoveMember(ctx, f.org.ID, member.UserID, f.owner.UserID)
	wantDomainError(t, err, 403, "FORBIDDEN")

	if err := f.service.RemoveMember(ctx, f.org.ID, f.owner.UserID, member.UserID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
}

func TestChangeMemberRoleConflicts(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	member := f.addMember(t, "member@example.com", store.RoleMember)

	_, err := f.service.ChangeMemberRole(ctx, f.org.ID, f.owner.UserID, member.UserID, store.RoleMember)
	wantDomainError(t, err, 409, "ROLE_UNCHANGED")

	_, err = f.service.ChangeMemberRole(ctx, f.org.ID, f.owner.UserID, f.owner.UserID, store.RoleMember)
	wantDomainError(t, err, 409, "LAST_OWNER")

	_, err = f.service.ChangeMemberRole(ctx, f.org.ID, f.owner.UserID, member.UserID, "admin")
	wantDomainError(t, err, 400, "VALIDATION_ERROR")
}

func TestProjectNameConflictWithinOrganization(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	if _, err := f.service.CreateProject(ctx, f.org.ID, f.owner.UserID, "Board"); err != nil {
		t.Fatalf("create project: %v", err)
	}
	_, err := f.service.CreateProject(ctx, f.org.ID, f.owner.UserID, "Board")
	wantDomainError(t, err, 409, "PROJECT_NAME_IN_USE")
}

func TestProjectMutationsRequireOwner(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	member := f.addMember(t, "member@example.com", store.RoleMember)

	_, err := f.service.CreateProject(ctx, f.org.ID, member.UserID, "Board")
	wantDomainError(t, err, 403, "FORBIDDEN")

	project, err := f.service.CreateProject(ctx, f.org.ID, f.owner.UserID, "Board")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	// Members can read.
	if _, err := f.service.GetProject(ctx, f.org.ID, project.ID, member.UserID); err != nil {
		t.Fatalf("member get project: %v", err)
	}

	err = f.service.DeleteProject(ctx, f.org.ID, project.ID, member.UserID)
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestInviteLifecycle(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	outcome, err := f.service.CreateInvite(ctx, f.org.ID, f.owner.UserID, "Invitee@Example.com")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	// No mailer configured: the signed token comes back for the dev flow.
	if outcome.DevToken == "" {
		t.Fatal("expected dev token without a mail transport")
	}
	if outcome.Invite.Email != "invitee@example.com" {
		t.Fatalf("email not normalized: %s", outcome.Invite.Email)
	}

	// A second pending invite for the same email and organization conflicts.
	_, err = f.service.CreateInvite(ctx, f.org.ID, f.owner.UserID, "invitee@example.com")
	wantDomainError(t, err, 409, "INVITE_PENDING")

	result := register(t, f.service, "Invitee", "invitee@example.com")
	invitee, err := f.service.IdentityFromToken(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}

	membership, err := f.service.AcceptInviteToken(ctx, invitee, outcome.DevToken)
	if err != nil {
		t.Fatalf("accept invite: %v", err)
	}
	if membership.Role != store.RoleMember {
		t.Fatalf("expected member role, got %s", membership.Role)
	}

	// An accepted invite cannot be accepted again.
	_, err = f.service.AcceptInviteToken(ctx, invitee, outcome.DevToken)
	wantDomainError(t, err, 409, "INVITE_ACCEPTED")
}

func TestInviteRejectsSelfAndExistingMembers(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateInvite(ctx, f.org.ID, f.owner.UserID, "owner@example.com")
	wantDomainError(t, err, 400, "VALIDATION_ERROR")

	member := f.addMember(t, "member@example.com", store.RoleMember)
	_ = member
	_, err = f.service.CreateInvite(ctx, f.org.ID, f.owner.UserID, "member@example.com")
	wantDomainError(t, err, 409, "ALREADY_MEMBER")
}

func TestInviteExpiresLazily(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	outcome, err := f.service.CreateInvite(ctx, f.org.ID, f.owner.UserID, "late@example.com")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	// Backdate the expiry.
	invite := f.mem.invites[outcome.Invite.ID]
	invite.ExpiresAt = time.Now().Add(-time.Hour)
	f.mem.invites[invite.ID] = invite

	_, err = f.service.ResolveInviteToken(ctx, outcome.DevToken)
	wantDomainError(t, err, 410, "INVITE_EXPIRED")

	if f.mem.invites[invite.ID].Status != store.InviteExpired {
		t.Fatal("expired invite was not marked")
	}
}

func TestInviteAcceptRequiresMatchingEmail(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	outcome, err := f.service.CreateInvite(ctx, f.org.ID, f.owner.UserID, "right@example.com")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	result := register(t, f.service, "Wrong", "wrong@example.com")
	wrong, err := f.service.IdentityFromToken(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}

	_, err = f.service.AcceptInviteToken(ctx, wrong, outcome.DevToken)
	wantDomainError(t, err, 403, "FORBIDDEN")
}

func TestRevokeInviteIsPendingOnly(t *testing.T) {
	f := newOrgFixture(t)
	ctx := context.Background()

	outcome, err := f.service.CreateInvite(ctx, f.org.ID, f.owner.UserID, "gone@example.com")
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if _, err := f.service.RevokeInvite(ctx, f.org.ID, f.owner.UserID, outcome.Invite.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	_, err = f.service.RevokeInvite(ctx, f.org.ID, f.owner.UserID, outcome.Invite.ID)
	wantDomainError(t, err, 409, "INVITE_NOT_PENDING")

	// A revoked invite can no longer be accepted.
	result := register(t, f.service, "Gone", "gone@example.com")
	invitee, err := f.service.IdentityFromToken(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	_, err = f.service.AcceptInviteToken(ctx, invitee, outcome.DevToken)
	wantDomainError(t, err, 404, "NOT_FOUND")
}
