// Package fauth holds the credential primitives shared by the coordinator
// and its clients: double-hashed passwords and per-user signed tokens.
package fauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Obscure applies the fast first-stage hash to a raw secret. Callers hash
// before transmitting so the raw secret never crosses a service boundary;
// the slow second stage (bcrypt) is applied on top before storage.
func Obscure(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// HashPassword produces the stored form of a secret: bcrypt over the
// obscured representation. Each call salts independently, so two hashes of
// the same secret differ.
func HashPassword(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(Obscure(secret)), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyPassword reports whether secret matches a stored hash.
func VerifyPassword(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(Obscure(secret))) == nil
}

// NewSecretKey generates a random per-user token signing key. Scoping keys
// per user limits a leaked key to that user's tokens.
func NewSecretKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
