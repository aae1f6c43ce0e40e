// Package pkce generates Proof Key for Code Exchange pairs (RFC 7636, S256).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Method is the only challenge method produced by this package.
const Method = "S256"

// verifierBytes is the amount of entropy behind each verifier. 32 bytes encode
// to a 43 character verifier, the minimum length RFC 7636 allows.
const verifierBytes = 32

var encoding = base64.URLEncoding.WithPadding(base64.NoPadding)

// ProofKey holds the verification codes for one authorization attempt.
type ProofKey struct {
	// Verifier is the random secret kept by the client until the code exchange.
	Verifier string `json:"code_verifier"`
	// Challenge is the base64url encoded SHA-256 of Verifier, sent with the
	// authorization request.
	Challenge string `json:"code_challenge"`
}

// Generate creates a fresh verifier and its S256 challenge.
func Generate() (ProofKey, error) {
	bytes := make([]byte, verifierBytes)
	if _, err := rand.Read(bytes); err != nil {
		return ProofKey{}, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier := encoding.EncodeToString(bytes)
	return ProofKey{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
	}, nil
}

// Challenge derives the S256 code challenge for verifier.
func Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return encoding.EncodeToString(hash[:])
}
