// Package cryptoutil provides the account-security primitives the rest of
// the server depends on: password hashing, random confirmation codes, and
// bearer auth tokens. Passwords go through scrypt; nothing here encrypts
// values at rest.
package cryptoutil

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// humanAlphabet avoids glyphs easily confused with each other (0/O, 1/l/I).
const humanAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuwxyz23456789"

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// HashPassword derives a salted scrypt hash from password, formatted as
// "scrypt:<hash-b64>:<salt-b64>". The scrypt cost parameters are not
// recorded in the string; CheckPassword uses the package constants.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}

	return fmt.Sprintf("scrypt:%s:%s",
		base64.RawStdEncoding.EncodeToString(hash),
		base64.RawStdEncoding.EncodeToString(salt),
	), nil
}

// CheckPassword reports whether password matches a hash produced by HashPassword.
func CheckPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 || parts[0] != "scrypt" {
		return false, fmt.Errorf("check password: unrecognized hash format")
	}

	wantHash, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}

	gotHash, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false, fmt.Errorf("derive key: %w", err)
	}

	return subtle.ConstantTimeCompare(wantHash, gotHash) == 1, nil
}

// RandomCode generates a zero-padded numeric code of the given digit count,
// uniform over [0, 10^digits). Used for the 6-digit confirmation codes.
func RandomCode(digits int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// RandomToken generates an opaque hex auth/session token of at least 32 bytes.
func RandomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HumanCode generates a human-readable code of the given length from an
// alphabet that avoids visually ambiguous glyphs, for invite links.
func HumanCode(length int) (string, error) {
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(humanAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		buf[i] = humanAlphabet[n.Int64()]
	}
	return string(buf), nil
}
