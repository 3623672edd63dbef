package auth

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clefregistry/clef/internal/apierr"
	"github.com/clefregistry/clef/internal/database"
	"github.com/clefregistry/clef/internal/models"
)

func testService(t *testing.T) (*Service, *database.Store) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := database.Open(":memory:", log)
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := database.New(db)
	return New(store), store
}

func TestRegisterAndAuthenticate(t *testing.T) {
	s, _ := testService(t)

	if _, err := s.Register("alice", "alice@example.com", "hunter2"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	user, token, err := s.Authenticate("alice", "hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Username != "alice" || token == "" {
		t.Fatalf("unexpected result: %+v, %q", user, token)
	}

	principal, err := s.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if principal.Username != "alice" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s, _ := testService(t)
	if _, err := s.Register("bob", "bob@example.com", "correct-horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, _, err := s.Authenticate("bob", "wrong-password")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindUnauthorized {
		t.Fatalf("expected KindUnauthorized, got %v", err)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	s, _ := testService(t)
	if _, err := s.Register("carol", "carol@example.com", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := s.Register("carol", "other@example.com", "pw")
	apiErr, ok := apierr.As(err)
	if !ok || apiErr.Kind != apierr.KindBadRequest {
		t.Fatalf("expected KindBadRequest, got %v", err)
	}
}

func TestPrincipalFromHeaderMissingVsMalformed(t *testing.T) {
	s, _ := testService(t)

	if _, err := s.PrincipalFromHeader(""); err == nil {
		t.Fatal("expected error for missing header")
	}
	if _, err := s.PrincipalFromHeader("Basic abc123"); err == nil {
		t.Fatal("expected error for malformed header")
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	s, _ := testService(t)
	if _, err := s.Register("dave", "dave@example.com", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, token, err := s.Authenticate("dave", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if err := s.Logout(token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := s.ValidateToken(token); err == nil {
		t.Fatal("expected revoked token to fail validation")
	}
}

func TestCanReadPackagePrivacyGate(t *testing.T) {
	s, store := testService(t)

	owner, err := store.CreateUser("owner", "owner@example.com", "pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	other, err := store.CreateUser("stranger", "stranger@example.com", "pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	pkg, err := store.CreateOrGetPackage("secret-pkg", nil, &owner.ID, false)
	if err != nil {
		t.Fatalf("CreateOrGetPackage: %v", err)
	}
	if err := store.UpdatePackagePrivacy("secret-pkg", true); err != nil {
		t.Fatalf("UpdatePackagePrivacy: %v", err)
	}
	if err := store.CreatePackageOwner("secret-pkg", owner.ID, models.PermissionAdmin); err != nil {
		t.Fatalf("CreatePackageOwner: %v", err)
	}
	pkg.IsPrivate = true

	ok, err := s.CanReadPackage(pkg, &models.Principal{UserID: owner.ID, Username: "owner"})
	if err != nil || !ok {
		t.Fatalf("owner should be able to read private package: ok=%v err=%v", ok, err)
	}

	ok, err = s.CanReadPackage(pkg, &models.Principal{UserID: other.ID, Username: "stranger"})
	if err != nil {
		t.Fatalf("CanReadPackage: %v", err)
	}
	if ok {
		t.Fatal("stranger should not be able to read private package")
	}

	ok, err = s.CanReadPackage(pkg, nil)
	if err != nil {
		t.Fatalf("CanReadPackage anonymous: %v", err)
	}
	if ok {
		t.Fatal("anonymous caller should not be able to read private package")
	}
}

func TestTokenExpiry(t *testing.T) {
	s, store := testService(t)
	user, err := store.CreateUser("erin", "erin@example.com", "pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	if _, err := store.CreateUserToken(user.ID, "expired-token", models.TokenTypeAuth, &past); err != nil {
		t.Fatalf("CreateUserToken: %v", err)
	}

	if _, err := s.ValidateToken("expired-token"); err == nil {
		t.Fatal("expected expired token to fail validation")
	}
}
