package app

import (
	"net/http"

	"taskboard/api/internal/store"
)

// routeOrganizations dispatches /api/organizations/... with the leading two
// segments already stripped. Returns false when no route matches.
func (s *HTTPServer) routeOrganizations(w http.ResponseWriter, r *http.Request, identity Identity, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			orgs, err := s.service.ListOrganizations(r.Context(), identity.UserID)
			if err != nil {
				s.fail(w, err)
				return true
			}
			payload := make([]map[string]any, 0, len(orgs))
			for _, org := range orgs {
				payload = append(payload, organizationWithRolePayload(org))
			}
			writeJSON(w, http.StatusOK, map[string]any{"organizations": payload})
			return true
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			org, err := s.service.CreateOrganization(r.Context(), identity.UserID, body.Name)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusCreated, map[string]any{"organization": organizationPayload(org)})
			return true
		}
		return false
	}

	orgID := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodPatch:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			org, err := s.service.RenameOrganization(r.Context(), orgID, identity.UserID, body.Name)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"organization": organizationPayload(org)})
			return true
		case http.MethodDelete:
			if err := s.service.DeleteOrganization(r.Context(), orgID, identity.UserID); err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return true
		}
		return false
	}

	if len(rest) == 1 && rest[0] == "leave" && r.Method == http.MethodPost {
		if err := s.service.LeaveOrganization(r.Context(), orgID, identity.UserID); err != nil {
			s.fail(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return true
	}

	if rest[0] == "members" {
		return s.routeMembers(w, r, identity, orgID, rest[1:])
	}

	if rest[0] == "invites" {
		return s.routeOrganizationInvites(w, r, identity, orgID, rest[1:])
	}

	if rest[0] == "projects" {
		return s.routeOrganizationProjects(w, r, identity, orgID, rest[1:])
	}

	return false
}

func (s *HTTPServer) routeMembers(w http.ResponseWriter, r *http.Request, identity Identity, orgID string, parts []string) bool {
	if len(parts) == 0 && r.Method == http.MethodGet {
		members, err := s.service.ListMembers(r.Context(), orgID, identity.UserID)
		if err != nil {
			s.fail(w, err)
			return true
		}
		payload := make([]map[string]any, 0, len(members))
		for _, member := range members {
			payload = append(payload, memberPayload(member))
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": payload})
		return true
	}

	if len(parts) == 1 {
		targetUserID := parts[0]
		switch r.Method {
		case http.MethodDelete:
			if err := s.service.RemoveMember(r.Context(), orgID, identity.UserID, targetUserID); err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return true
		case http.MethodPatch:
			var body struct {
				Role string `json:"role"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			membership, err := s.service.ChangeMemberRole(r.Context(), orgID, identity.UserID, targetUserID, body.Role)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"membership": membershipPayload(membership)})
			return true
		}
	}
	return false
}

func (s *HTTPServer) routeOrganizationInvites(w http.ResponseWriter, r *http.Request, identity Identity, orgID string, parts []string) bool {
	if len(parts) == 0 && r.Method == http.MethodPost {
		var body struct {
			Email string `json:"email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		outcome, err := s.service.CreateInvite(r.Context(), orgID, identity.UserID, body.Email)
		if err != nil {
			s.fail(w, err)
			return true
		}
		payload := map[string]any{"invite": invitePayload(outcome.Invite)}
		if outcome.DevToken != "" {
			payload["devInviteToken"] = outcome.DevToken
		}
		writeJSON(w, http.StatusCreated, payload)
		return true
	}

	if len(parts) == 2 && parts[1] == "revoke" && r.Method == http.MethodPost {
		invite, err := s.service.RevokeInvite(r.Context(), orgID, identity.UserID, parts[0])
		if err != nil {
			s.fail(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"invite": invitePayload(invite)})
		return true
	}
	return false
}

// routeInvites dispatches /api/invites/... (viewer-scoped, not organization
// scoped).
func (s *HTTPServer) routeInvites(w http.ResponseWriter, r *http.Request, identity Identity, parts []string) bool {
	if len(parts) == 1 && parts[0] == "pending" && r.Method == http.MethodGet {
		invites, err := s.service.ListPendingInvites(r.Context(), identity)
		if err != nil {
			s.fail(w, err)
			return true
		}
		payload := make([]map[string]any, 0, len(invites))
		for _, invite := range invites {
			payload = append(payload, inviteDetailsPayload(invite))
		}
		writeJSON(w, http.StatusOK, map[string]any{"invites": payload})
		return true
	}

	if len(parts) == 1 && parts[0] == "accept-token" && r.Method == http.MethodPost {
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return true
		}
		membership, err := s.service.AcceptInviteToken(r.Context(), identity, body.Token)
		if err != nil {
			s.fail(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"membership": membershipPayload(membership)})
		return true
	}

	if len(parts) == 2 && parts[1] == "accept" && r.Method == http.MethodPost {
		membership, err := s.service.AcceptInvite(r.Context(), identity, parts[0])
		if err != nil {
			s.fail(w, err)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"membership": membershipPayload(membership)})
		return true
	}
	return false
}

func (s *HTTPServer) routeOrganizationProjects(w http.ResponseWriter, r *http.Request, identity Identity, orgID string, parts []string) bool {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			projects, err := s.service.ListProjects(r.Context(), orgID, identity.UserID)
			if err != nil {
				s.fail(w, err)
				return true
			}
			payload := make([]map[string]any, 0, len(projects))
			for _, project := range projects {
				payload = append(payload, projectPayload(project))
			}
			writeJSON(w, http.StatusOK, map[string]any{"projects": payload})
			return true
		case http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			project, err := s.service.CreateProject(r.Context(), orgID, identity.UserID, body.Name)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusCreated, map[string]any{"project": projectPayload(project)})
			return true
		}
		return false
	}

	if len(parts) == 1 {
		projectID := parts[0]
		switch r.Method {
		case http.MethodGet:
			project, err := s.service.GetProject(r.Context(), orgID, projectID, identity.UserID)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"project": projectPayload(project)})
			return true
		case http.MethodPatch:
			var body struct {
				Name string `json:"name"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			project, err := s.service.RenameProject(r.Context(), orgID, projectID, identity.UserID, body.Name)
			if err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"project": projectPayload(project)})
			return true
		case http.MethodDelete:
			if err := s.service.DeleteProject(r.Context(), orgID, projectID, identity.UserID); err != nil {
				s.fail(w, err)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return true
		}
	}
	return false
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

// --- payload shaping ---

func organizationPayload(org store.Organization) map[string]any {
	return map[string]any{
		"id":        org.ID,
		"name":      org.Name,
		"createdBy": org.CreatedBy,
		"createdAt": org.CreatedAt,
	}
}

func organizationWithRolePayload(org store.OrganizationWithRole) map[string]any {
	payload := organizationPayload(org.Organization)
	payload["role"] = org.MembershipRole
	return payload
}

func membershipPayload(membership store.Membership) map[string]any {
	return map[string]any{
		"organizationId": membership.OrganizationID,
		"userId":         membership.UserID,
		"role":           membership.Role,
		"joinedAt":       membership.CreatedAt,
	}
}

func memberPayload(member store.Member) map[string]any {
	return map[string]any{
		"userId":   member.UserID,
		"name":     member.Name,
		"email":    member.Email,
		"role":     member.Role,
		"joinedAt": member.JoinedAt,
	}
}

func invitePayload(invite store.Invite) map[string]any {
	return map[string]any{
		"id":             invite.ID,
		"organizationId": invite.OrganizationID,
		"email":          invite.Email,
		"status":         invite.Status,
		"expiresAt":      invite.ExpiresAt,
		"createdAt":      invite.CreatedAt,
	}
}

func inviteDetailsPayload(details store.InviteDetails) map[string]any {
	payload := invitePayload(details.Invite)
	payload["organizationName"] = details.OrganizationName
	payload["invitedBy"] = map[string]any{
		"name":  details.InvitedByName,
		"email": details.InvitedByEmail,
	}
	return payload
}

func projectPayload(project store.Project) map[string]any {
	return map[string]any{
		"id":             project.ID,
		"organizationId": project.OrganizationID,
		"name":           project.Name,
		"createdBy":      project.CreatedBy,
		"createdAt":      project.CreatedAt,
		"updatedAt":      project.UpdatedAt,
	}
}
