package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// adminPasswordCost is the bcrypt work factor for operator credentials.
// Logins are rare, so the cost sits above the library default.
const adminPasswordCost = 12

// MinPasswordLength is the shortest accepted operator password.
const MinPasswordLength = 8

// HashPassword bcrypt-hashes an operator password. Passwords shorter than
// MinPasswordLength are rejected before hashing.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", errors.New("security: password too short")
	}
	hash, errHash := bcrypt.GenerateFromPassword([]byte(password), adminPasswordCost)
	if errHash != nil {
		return "", errHash
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext password matches the stored
// bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
