package auth

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/clefregistry/clef/internal/apierr"
)

// PasswordHasher wraps bcrypt at a fixed cost.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher builds a hasher at bcrypt's default cost.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{cost: bcrypt.DefaultCost}
}

// Hash hashes a plaintext password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", apierr.Internal("hashing password: %v", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches hash.
func (h *PasswordHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
