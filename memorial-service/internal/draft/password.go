package draft

import (
	"fmt"

	"memorial-server/shared/models"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted for a private memorial.
const MinPasswordLength = 6

// bcryptCost is lowered in tests.
var bcryptCost = bcrypt.DefaultCost

// HashPassword hashes a private-memorial password.
func HashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether raw matches hash.
func CheckPassword(hash, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// SealSettings enforces the privacy/password invariant on s:
// non-private settings lose any password, a valid raw password is replaced
// by its hash. A short raw password is left in place for validation to report.
func SealSettings(s models.Settings) (models.Settings, error) {
	if s.Privacy != models.PrivacyPrivate {
		s.Password = ""
		s.PasswordHash = ""
		return s, nil
	}
	if s.Password == "" || len([]rune(s.Password)) < MinPasswordLength {
		return s, nil
	}
	hash, err := HashPassword(s.Password)
	if err != nil {
		return s, err
	}
	s.PasswordHash = hash
	s.Password = ""
	return s, nil
}

// ValidatePrivacy checks that a private memorial holds a usable password.
func ValidatePrivacy(s models.Settings) error {
	if !s.Privacy.Valid() {
		return models.NewValidationError("privacy", "choose public, unlisted or private")
	}
	if s.Privacy != models.PrivacyPrivate {
		return nil
	}
	if s.Password == "" && s.PasswordHash != "" {
		return nil
	}
	if len([]rune(s.Password)) < MinPasswordLength {
		return models.NewValidationError("password", fmt.Sprintf("a private memorial needs a password of at least %d characters", MinPasswordLength))
	}
	return nil
}
