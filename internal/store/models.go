package store

import "time"

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteExpired  = "expired"
	InviteRevoked  = "revoked"
)

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Organization struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

// OrganizationWithRole is an organization joined with the viewer's role.
type OrganizationWithRole struct {
	Organization
	MembershipRole string
}

type Membership struct {
	OrganizationID string
	UserID         string
	Role           string
	CreatedAt      time.Time
}

// Member is a membership joined with the user's profile fields.
type Member struct {
	OrganizationID string
	UserID         string
	Role           string
	Name           string
	Email          string
	JoinedAt       time.Time
}

type Project struct {
	ID             string
	OrganizationID string
	Name           string
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type List struct {
	ID         string
	ProjectID  string
	Name       string
	Position   int
	IsArchived bool
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Card struct {
	ID          string
	ProjectID   string
	ListID      string
	Title       string
	Description *string
	Position    int
	IsArchived  bool
	DueAt       *time.Time
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CardFilter narrows a project card listing.
type CardFilter struct {
	ProjectID       string
	ListID          string
	IncludeArchived bool
	Search          string
}

// RefreshSession is one active login. The row is deleted on logout, rotation,
// or lazy expiry sweep; its id travels inside the refresh token.
type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Invite struct {
	ID             string
	OrganizationID string
	Email          string
	InvitedBy      string
	Status         string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	AcceptedAt     *time.Time
}

// InviteDetails is an invite joined with organization and inviter fields for
// display.
type InviteDetails struct {
	Invite
	OrganizationName string
	InvitedByName    string
	InvitedByEmail   string
}
