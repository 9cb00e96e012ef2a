// Package auth issues and validates session tokens for the coordinator's
// own API. Tokens are signed with a per-user random key so validating one
// always goes through an account lookup; there is no shared signing secret
// and a leaked key compromises exactly one account.
package auth

import (
	"context"
	"time"

	"github.com/flockml/flock/pkg/db/models"
	"github.com/flockml/flock/pkg/fauth"
	"github.com/flockml/flock/pkg/ferr"
	"github.com/flockml/flock/pkg/flog"
	"github.com/flockml/flock/pkg/registry"
)

type AuthService struct {
	users registry.Users
	ttl   time.Duration
	log   *flog.Logger

	// bootstrapPassword is the placeholder the default account is created
	// with. Logging in with it sets should_change_password on the token,
	// and ChangePassword refuses to rotate back to it.
	bootstrapPassword string
}

func NewAuthService(users registry.Users, ttl time.Duration, bootstrapPassword string, log *flog.Logger) *AuthService {
	if ttl == 0 {
		ttl = fauth.DefaultTTL
	}
	if log == nil {
		log = flog.NewDefault()
	}
	return &AuthService{
		users:             users,
		ttl:               ttl,
		log:               log,
		bootstrapPassword: bootstrapPassword,
	}
}

// EnsureDefaultAccount creates the bootstrap operator account when no
// account with that username exists yet. Idempotent across restarts.
func (s *AuthService) EnsureDefaultAccount(ctx context.Context, username, password string) error {
	_, err := s.users.FindByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !ferr.IsCode(err, ferr.CodeNotFound) {
		return err
	}

	hashed, err := fauth.HashPassword(password)
	if err != nil {
		return err
	}
	secretKey, err := fauth.NewSecretKey()
	if err != nil {
		return err
	}

	if err := s.users.Create(ctx, &models.User{
		Username:       username,
		HashedPassword: hashed,
		SecretKey:      secretKey,
	}); err != nil {
		return err
	}
	s.log.Info("bootstrap account created", "username", username)
	return nil
}

// Login verifies credentials and issues a session token signed with the
// account's own key. Wrong username and wrong password collapse to the
// same invalid_token error.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, *fauth.Claims, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if ferr.IsCode(err, ferr.CodeNotFound) {
			return "", nil, ferr.Newf(ferr.CodeInvalidToken, "invalid username or password")
		}
		return "", nil, err
	}
	if !fauth.VerifyPassword(password, user.HashedPassword) {
		return "", nil, ferr.Newf(ferr.CodeInvalidToken, "invalid username or password")
	}

	claims := &fauth.Claims{
		UUID:                 user.ID.String(),
		Username:             user.Username,
		ShouldChangePassword: password == s.bootstrapPassword,
	}
	token, err := fauth.Issue(claims, []byte(user.SecretKey), s.ttl)
	if err != nil {
		return "", nil, err
	}
	return token, claims, nil
}

// ChangePassword rotates the account password after re-verifying the old
// one. Rotating back to the bootstrap placeholder is refused.
func (s *AuthService) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if newPassword == "" {
		return ferr.Newf(ferr.CodeIncompleteJob, "missing required field new_password")
	}
	if newPassword == s.bootstrapPassword {
		return ferr.Newf(ferr.CodeInvalidToken, "new password must differ from the bootstrap password")
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return err
	}
	if !fauth.VerifyPassword(oldPassword, user.HashedPassword) {
		return ferr.Newf(ferr.CodeInvalidToken, "invalid username or password")
	}

	hashed, err := fauth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hashed); err != nil {
		return err
	}
	s.log.Info("password rotated", "username", username)
	return nil
}

// ValidateToken resolves the signing key from the unverified username
// claim, then verifies signature and expiry. Any failure collapses to a
// generic invalid_token.
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (*fauth.Claims, error) {
	username, err := fauth.UnverifiedUsername(tokenString)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if ferr.IsCode(err, ferr.CodeNotFound) {
			return nil, ferr.Newf(ferr.CodeInvalidToken, "token is invalid or expired")
		}
		return nil, err
	}

	return fauth.Decode(tokenString, []byte(user.SecretKey))
}
