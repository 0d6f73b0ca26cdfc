package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthenticated is returned when no usable credentials were presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidIdentity is returned when an anonymous identity doesn't meet constraints.
	ErrInvalidIdentity = errors.New("invalid identity")
)

const maxNameLength = 64

// Identity is the verified user behind a connection.
type Identity struct {
	UserID      string
	DisplayName string
}

// Verifier turns presented credentials into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Authenticator is a Verifier that may also accept self-declared identities.
type Authenticator interface {
	Verifier
	AllowAnonymous() bool
	Anonymous(userID, displayName string) (Identity, error)
}

// Service verifies bearer tokens and, in development setups, accepts
// self-declared anonymous identities.
type Service struct {
	jwtConfig      *JWTConfig
	allowAnonymous bool
}

var _ Authenticator = (*Service)(nil)

// NewService creates a new authentication service.
func NewService(jwtConfig *JWTConfig, allowAnonymous bool) *Service {
	return &Service{
		jwtConfig:      jwtConfig,
		allowAnonymous: allowAnonymous,
	}
}

// Verify validates a bearer token.
func (s *Service) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	if s.jwtConfig == nil || len(s.jwtConfig.Secret) == 0 {
		return Identity{}, fmt.Errorf("%w: token auth is not configured", ErrUnauthenticated)
	}
	claims, err := ValidateToken(s.jwtConfig, token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return Identity{UserID: claims.UserID, DisplayName: claims.DisplayName}, nil
}

// AllowAnonymous reports whether callers may connect without a token.
func (s *Service) AllowAnonymous() bool {
	return s.allowAnonymous
}

// Anonymous builds an identity from self-declared values. Only usable when
// anonymous access is enabled.
func (s *Service) Anonymous(userID, displayName string) (Identity, error) {
	if !s.allowAnonymous {
		return Identity{}, ErrUnauthenticated
	}
	userID = strings.TrimSpace(userID)
	displayName = strings.TrimSpace(displayName)
	if userID == "" || len(userID) > maxNameLength {
		return Identity{}, ErrInvalidIdentity
	}
	if displayName == "" {
		displayName = userID
	}
	if len(displayName) > maxNameLength {
		return Identity{}, ErrInvalidIdentity
	}
	return Identity{UserID: userID, DisplayName: displayName}, nil
}

// IssueToken creates a signed token for the given user.
func (s *Service) IssueToken(userID, displayName string) (string, error) {
	if s.jwtConfig == nil || len(s.jwtConfig.Secret) == 0 {
		return "", errors.New("token auth is not configured")
	}
	return GenerateToken(s.jwtConfig, userID, displayName)
}
