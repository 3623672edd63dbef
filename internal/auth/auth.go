// Package auth resolves bearer tokens to principals and implements the
// registry's permission predicates.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clefregistry/clef/internal/apierr"
	"github.com/clefregistry/clef/internal/database"
	"github.com/clefregistry/clef/internal/models"
)

const authTokenTTL = 30 * 24 * time.Hour

// Service resolves principals and issues/revokes tokens against the
// relational store.
type Service struct {
	db       *database.Store
	password *PasswordHasher
}

// New builds an auth Service.
func New(db *database.Store) *Service {
	return &Service{db: db, password: NewPasswordHasher()}
}

// PrincipalFromHeader extracts the bearer token from an Authorization
// header and resolves it to a principal. A missing header is a distinct
// typed error from an invalid one, per spec.
func (s *Service) PrincipalFromHeader(header string) (*models.Principal, error) {
	if header == "" {
		return nil, apierr.Unauthorized("missing Authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, apierr.Unauthorized("malformed Authorization header")
	}
	token := strings.TrimPrefix(header, prefix)
	if token == "" {
		return nil, apierr.Unauthorized("malformed Authorization header")
	}
	return s.ValidateToken(token)
}

// ValidateToken resolves an opaque bearer token to its owning principal,
// rejecting inactive tokens, expired tokens, and tokens whose user has
// been deactivated.
func (s *Service) ValidateToken(token string) (*models.Principal, error) {
	row, err := s.db.GetUserToken(token)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apierr.Unauthorized("invalid or expired token")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDatabase, err, "looking up token")
	}
	if row.ExpiresAt != nil && time.Now().UTC().After(*row.ExpiresAt) {
		return nil, apierr.Unauthorized("token expired")
	}

	user, err := s.db.GetUserByID(row.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apierr.Unauthorized("invalid or expired token")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDatabase, err, "looking up token owner")
	}
	if !user.IsActive {
		return nil, apierr.Unauthorized("account disabled")
	}

	return &models.Principal{UserID: user.ID, Username: user.Username}, nil
}

// Register creates a new active user with a bcrypt-hashed password,
// rejecting duplicate usernames/emails.
func (s *Service) Register(username, email, password string) (*models.User, error) {
	if exists, err := s.db.UsernameExists(username); err != nil {
		return nil, apierr.Wrap(apierr.KindDatabase, err, "checking username")
	} else if exists {
		return nil, apierr.BadRequest("username already exists")
	}
	if exists, err := s.db.EmailExists(email); err != nil {
		return nil, apierr.Wrap(apierr.KindDatabase, err, "checking email")
	} else if exists {
		return nil, apierr.BadRequest("email already exists")
	}

	hash, err := s.password.Hash(password)
	if err != nil {
		return nil, err
	}
	user, err := s.db.CreateUser(username, email, hash)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindDatabase, err, "creating user")
	}
	return user, nil
}

// Authenticate verifies credentials and mints a fresh auth token with a
// 30-day expiry.
func (s *Service) Authenticate(username, password string) (*models.User, string, error) {
	user, err := s.db.GetUserByUsername(username)
	if errors.Is(err, database.ErrNotFound) {
		return nil, "", apierr.Unauthorized("invalid username or password")
	}
	if err != nil {
		return nil, "", apierr.Wrap(apierr.KindDatabase, err, "looking up user")
	}
	if !s.password.Verify(password, user.PasswordHash) {
		return nil, "", apierr.Unauthorized("invalid username or password")
	}

	token := uuid.NewString()
	expiresAt := time.Now().UTC().Add(authTokenTTL)
	if _, err := s.db.CreateUserToken(user.ID, token, models.TokenTypeAuth, &expiresAt); err != nil {
		return nil, "", apierr.Wrap(apierr.KindDatabase, err, "creating token")
	}
	return user, token, nil
}

// IssuePublishToken mints a non-expiring token for CI/automation use.
func (s *Service) IssuePublishToken(userID int64) (string, error) {
	token := uuid.NewString()
	if _, err := s.db.CreateUserToken(userID, token, models.TokenTypePublish, nil); err != nil {
		return "", apierr.Wrap(apierr.KindDatabase, err, "creating publish token")
	}
	return token, nil
}

// Logout revokes a token.
func (s *Service) Logout(token string) error {
	if err := s.db.RevokeToken(token); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return apierr.NotFound("token not found")
		}
		return apierr.Wrap(apierr.KindDatabase, err, "revoking token")
	}
	return nil
}

// CanWritePackage reports write/admin ownership.
func (s *Service) CanWritePackage(packageName string, userID int64) (bool, error) {
	ok, err := s.db.CanWritePackage(packageName, userID)
	if err != nil {
		return false, apierr.Wrap(apierr.KindDatabase, err, "checking package ownership")
	}
	return ok, nil
}

// CanPublish implements can_publish(pkg, user) ≡ ¬exists(pkg) ∨ can_write_package.
func (s *Service) CanPublish(packageName string, userID int64) (bool, error) {
	ok, err := s.db.CanPublish(packageName, userID)
	if err != nil {
		return false, apierr.Wrap(apierr.KindDatabase, err, "checking publish permission")
	}
	return ok, nil
}

// CanReadPackage implements the privacy gate: a private package requires
// either write/admin ownership or organization membership.
func (s *Service) CanReadPackage(pkg *models.Package, principal *models.Principal) (bool, error) {
	if !pkg.IsPrivate {
		return true, nil
	}
	if principal == nil {
		return false, nil
	}
	if ok, err := s.CanWritePackage(pkg.Name, principal.UserID); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if pkg.OrganizationID == nil {
		return false, nil
	}
	isMember, err := s.db.CheckOrganizationPermission(*pkg.OrganizationID, principal.UserID, models.RoleMember)
	if err != nil {
		return false, apierr.Wrap(apierr.KindDatabase, err, "checking organization membership")
	}
	return isMember, nil
}

// ExtractBearerHeader is a small helper for callers that only have the raw
// net/http.Header and want the Authorization value.
func ExtractBearerHeader(h http.Header) string {
	return h.Get("Authorization")
}
