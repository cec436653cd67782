// Package crypto implements server-side password hashing.
package crypto

import (
	"crypto/sha512"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. The salt is the account name, which is unique and
// immutable, so hashes stay stable across restarts without a salt column.
const (
	kdfIterations = 10000
	kdfKeyLen     = 64
)

// HashPassword derives the stored hash for the given account name and
// password. The store compares hashes in constant time.
func HashPassword(name, password string) []byte {
	return pbkdf2.Key([]byte(password), []byte(name), kdfIterations, kdfKeyLen, sha512.New)
}
