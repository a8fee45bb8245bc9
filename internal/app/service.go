// Package app holds the application services and the HTTP surface: auth and
// session orchestration, organization membership rules, and the board
// operations built on the ordering engine.
package app

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
)

// Identity is the verified caller attached to a request after bearer
// authentication.
type Identity struct {
	UserID string
	Email  string
	JTI    string
	Exp    time.Time
}

// AuthResult is a full token pair plus the authenticated user, returned from
// register, login, and refresh.
type AuthResult struct {
	User             store.User
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LogoutResult reports which of logout's independent branches actually fired.
// Logout itself never fails; callers and tests inspect the result instead.
type LogoutResult struct {
	SessionDeleted bool
	AccessRevoked  bool
	Ignored        []string
}

type dataStore interface {
	store.Store
	WithTx(ctx context.Context, fn func(tx store.Store) error) error
}

// sessionStore persists refresh sessions and the revoked access token
// denylist. The Postgres store implements it directly; the Redis store is a
// drop-in alternative.
type sessionStore interface {
	CreateSession(ctx context.Context, session store.RefreshSession) error
	FindActiveSession(ctx context.Context, sessionID string) (store.RefreshSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	DeleteUserSessions(ctx context.Context, userID string) error
	PruneExpiredSessions(ctx context.Context) error
	RecordRevokedAccessToken(ctx context.Context, jti, userID string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	PruneExpiredRevokedAccessTokens(ctx context.Context) error
}

type inviteMailer interface {
	IsConfigured() bool
	SendOrganizationInvite(to string, data email.InviteData) error
}

type cardSearcher interface {
	Search(q search.Query) search.Response
	IndexCard(card search.CardRecord)
	DeleteCard(id string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	tokens   *auth.TokenService
	hasher   *auth.Hasher
	mailer   inviteMailer
	search   cardSearcher
}

// New wires the service with the Postgres store doubling as the session
// backend.
func New(cfg config.Config, dataStore *store.PostgresStore, tokens *auth.TokenService, hasher *auth.Hasher, mailer *email.Service, searchSvc *search.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, dataStore, tokens, hasher, mailer, searchSvc)
}

// NewWithSessionStore wires the service with an explicit session backend,
// used when REDIS_URL points sessions at Redis instead of Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, tokens *auth.TokenService, hasher *auth.Hasher, mailer *email.Service, searchSvc *search.Service) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
	}
	if mailer != nil {
		s.mailer = mailer
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := s.store.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Service) Register(ctx context.Context, name, emailAddr, password string) (AuthResult, error) {
	name = strings.TrimSpace(name)
	emailAddr = normalizeEmail(emailAddr)
	if name == "" {
		return AuthResult{}, errValidation("name is required", nil)
	}
	if !validEmail(emailAddr) {
		return AuthResult{}, errValidation("a valid email is required", nil)
	}
	if len(password) < 8 {
		return AuthResult{}, errValidation("password must be at least 8 characters", nil)
	}

	// Lazy sweep of expired sessions rides along on signup traffic.
	_ = s.sessions.PruneExpiredSessions(ctx)

	// Pre-emptive check; the unique constraint catches the race and maps to
	// the same conflict.
	if _, err := s.store.GetUserByEmail(ctx, emailAddr); err == nil {
		return AuthResult{}, errConflict("EMAIL_IN_USE", "Email is already registered", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return AuthResult{}, err
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return AuthResult{}, err
	}

	user, err := s.store.CreateUser(ctx, store.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        emailAddr,
		PasswordHash: passwordHash,
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return AuthResult{}, errConflict("EMAIL_IN_USE", "Email is already registered", nil)
		}
		return AuthResult{}, err
	}

	return s.issueTokens(ctx, user)
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (AuthResult, error) {
	// Lazy sweep of expired sessions rides along on login traffic.
	_ = s.sessions.PruneExpiredSessions(ctx)

	user, err := s.store.GetUserByEmail(ctx, normalizeEmail(emailAddr))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuthResult{}, errInvalidCredentials()
		}
		return AuthResult{}, err
	}

	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil || !ok {
		return AuthResult{}, errInvalidCredentials()
	}

	return s.issueTokens(ctx, user)
}

// Refresh rotates a refresh session: the presented token's session row is
// deleted and a brand new pair is issued. A replayed token finds no session
// and is rejected.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return AuthResult{}, errMissingToken()
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return AuthResult{}, errInvalidSession()
	}

	// Lazy sweep of expired sessions rides along on refresh traffic.
	_ = s.sessions.PruneExpiredSessions(ctx)

	session, err := s.sessions.FindActiveSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuthResult{}, errInvalidSession()
		}
		return AuthResult{}, err
	}
	if session.UserID != claims.UserID {
		return AuthResult{}, errInvalidSession()
	}
	if subtle.ConstantTimeCompare([]byte(session.TokenHash), []byte(auth.HashToken(refreshToken))) != 1 {
		// The session id was minted for a different token; treat the whole
		// session as compromised.
		_ = s.sessions.DeleteSession(ctx, session.ID)
		return AuthResult{}, errInvalidSession()
	}

	if err := s.sessions.DeleteSession(ctx, session.ID); err != nil {
		return AuthResult{}, err
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuthResult{}, errInvalidSession()
		}
		return AuthResult{}, err
	}

	return s.issueTokens(ctx, user)
}

func (s *Service) issueTokens(ctx context.Context, user store.User) (AuthResult, error) {
	sessionID := uuid.NewString()
	jti := uuid.NewString()

	accessToken, err := s.tokens.SignAccess(user.ID, user.Email, jti)
	if err != nil {
		return AuthResult{}, err
	}
	refreshToken, err := s.tokens.SignRefresh(user.ID, sessionID)
	if err != nil {
		return AuthResult{}, err
	}

	expiresAt := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.CreateSession(ctx, store.RefreshSession{
		ID:        sessionID,
		UserID:    user.ID,
		TokenHash: auth.HashToken(refreshToken),
		ExpiresAt: expiresAt,
	}); err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		User:             user,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: expiresAt,
	}, nil
}

// Logout tears down whatever the caller presented. Both branches are
// independent and a bad input is recorded, not surfaced: logout is always a
// 200 so clients can clear state unconditionally.
func (s *Service) Logout(ctx context.Context, identity *Identity, refreshToken string) LogoutResult {
	var result LogoutResult

	if strings.TrimSpace(refreshToken) == "" {
		result.Ignored = append(result.Ignored, "no_refresh_token")
	} else if claims, err := s.tokens.VerifyRefresh(refreshToken); err != nil {
		result.Ignored = append(result.Ignored, "invalid_refresh_token")
	} else if err := s.sessions.DeleteSession(ctx, claims.SessionID); err != nil {
		result.Ignored = append(result.Ignored, "session_delete_failed")
	} else {
		result.SessionDeleted = true
	}

	if identity == nil {
		result.Ignored = append(result.Ignored, "no_access_token")
	} else if err := s.sessions.RecordRevokedAccessToken(ctx, identity.JTI, identity.UserID, identity.Exp); err != nil {
		result.Ignored = append(result.Ignored, "revocation_failed")
	} else {
		result.AccessRevoked = true
	}

	return result
}

// LogoutAll removes every refresh session for the user and revokes the
// current access token.
func (s *Service) LogoutAll(ctx context.Context, identity Identity) error {
	if err := s.sessions.DeleteUserSessions(ctx, identity.UserID); err != nil {
		return err
	}
	return s.sessions.RecordRevokedAccessToken(ctx, identity.JTI, identity.UserID, identity.Exp)
}

// IdentityFromToken verifies a bearer token and checks it against the
// revocation denylist, pruning expired denylist rows along the way.
func (s *Service) IdentityFromToken(ctx context.Context, token string) (Identity, error) {
	claims, err := s.tokens.VerifyAccess(token)
	if err != nil {
		return Identity{}, errUnauthorized()
	}

	_ = s.sessions.PruneExpiredRevokedAccessTokens(ctx)

	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Identity{}, err
	}
	if revoked {
		return Identity{}, errUnauthorized()
	}

	return Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		JTI:    claims.JTI,
		Exp:    claims.Exp,
	}, nil
}

func (s *Service) Me(ctx context.Context, identity Identity) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.User{}, errUnauthorized()
		}
		return store.User{}, err
	}
	return user, nil
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func validEmail(value string) bool {
	at := strings.Index(value, "@")
	return at > 0 && at < len(value)-1 && !strings.ContainsAny(value, " \t")
}
