// Package internal holds token generation and hashing helpers shared by the
// engine. Nothing here is part of the public API.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	sessionSecretSize = 32
	resetSecretSize   = 32
)

// NewSessionToken returns a fresh opaque session token: 32 random bytes,
// base64url without padding. The raw value goes to the client; only
// HashToken(token) is ever persisted.
func NewSessionToken() (string, error) {
	var secret [sessionSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

// NewResetToken returns a fresh opaque password-reset token with the same
// shape and entropy as a session token.
func NewResetToken() (string, error) {
	var secret [resetSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

// HashToken maps an opaque token to its storage key: hex(SHA-256(token)).
// Deterministic, so lookups need no salt; preimage resistance keeps a dumped
// table useless for replay.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewOTP returns a uniformly random numeric code of the requested length.
// Leading zeros are legal: the code is a string, not a number.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// IsOTPShape reports whether s is exactly digits ASCII decimal digits.
// Used for input validation before any store access.
func IsOTPShape(s string, digits int) bool {
	if len(s) != digits {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
