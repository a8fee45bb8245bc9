// Package auth provides the token service and credential hashing.
package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
	typeInvite  = "organization_invite"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// AccessClaims is the verified payload of an access token.
type AccessClaims struct {
	UserID string
	Email  string
	JTI    string
	Exp    time.Time
}

// RefreshClaims is the verified payload of a refresh token.
type RefreshClaims struct {
	UserID    string
	SessionID string
	Exp       time.Time
}

// InviteClaims is the verified payload of an organization invite token.
type InviteClaims struct {
	InviteID string
	Email    string
}

// TokenService signs and verifies the three token kinds. Each kind has its
// own secret, so a token signed for one purpose never verifies for another.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	inviteSecret  []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	inviteTTL     time.Duration
}

func NewTokenService(accessSecret, refreshSecret, inviteSecret string, accessTTL, refreshTTL, inviteTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		inviteSecret:  []byte(inviteSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		inviteTTL:     inviteTTL,
	}
}

type tokenClaims struct {
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid,omitempty"`
	InviteID  string `json:"inviteId,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

func (s *TokenService) SignAccess(userID, email, tokenID string) (string, error) {
	return sign(s.accessSecret, tokenClaims{
		Email:     email,
		TokenType: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.accessTTL)),
		},
	})
}

func (s *TokenService) SignRefresh(userID, sessionID string) (string, error) {
	return sign(s.refreshSecret, tokenClaims{
		SessionID: sessionID,
		TokenType: typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.refreshTTL)),
		},
	})
}

func (s *TokenService) SignInvite(inviteID, email string) (string, error) {
	return sign(s.inviteSecret, tokenClaims{
		Email:     email,
		InviteID:  inviteID,
		TokenType: typeInvite,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.inviteTTL)),
		},
	})
}

func (s *TokenService) VerifyAccess(token string) (AccessClaims, error) {
	claims, err := parse(s.accessSecret, token)
	if err != nil {
		return AccessClaims{}, err
	}
	if claims.TokenType != typeAccess || claims.ID == "" || claims.Subject == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	return AccessClaims{
		UserID: claims.Subject,
		Email:  claims.Email,
		JTI:    claims.ID,
		Exp:    claims.ExpiresAt.Time,
	}, nil
}

func (s *TokenService) VerifyRefresh(token string) (RefreshClaims, error) {
	claims, err := parse(s.refreshSecret, token)
	if err != nil {
		return RefreshClaims{}, err
	}
	if claims.TokenType != typeRefresh || claims.SessionID == "" || claims.Subject == "" {
		return RefreshClaims{}, ErrInvalidToken
	}
	return RefreshClaims{
		UserID:    claims.Subject,
		SessionID: claims.SessionID,
		Exp:       claims.ExpiresAt.Time,
	}, nil
}

func (s *TokenService) VerifyInvite(token string) (InviteClaims, error) {
	claims, err := parse(s.inviteSecret, token)
	if err != nil {
		return InviteClaims{}, err
	}
	if claims.TokenType != typeInvite || claims.InviteID == "" || claims.Email == "" {
		return InviteClaims{}, ErrInvalidToken
	}
	return InviteClaims{
		InviteID: claims.InviteID,
		Email:    claims.Email,
	}, nil
}

func sign(secret []byte, claims tokenClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// HashToken digests a refresh token for at-rest storage. Only the hash is
// persisted; presenting the raw token proves possession.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

func parse(secret []byte, token string) (tokenClaims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return tokenClaims{}, ErrInvalidToken
	}
	return claims, nil
}
